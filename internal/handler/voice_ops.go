package handler

import (
	"encoding/json"

	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
)

// joinVoice announces the joiner to everyone else in the room so existing
// peers can initiate connections toward it. The joiner gets nothing back.
func (h *WSHandler) joinVoice(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	h.hub.BroadcastExcept(req.RoomID, client, "peerJoined", map[string]any{
		"userId":      client.UserID,
		"displayName": client.DisplayName,
	})
	return successResponse(), nil
}

type signalRequest struct {
	ToIdentity int64           `json:"toIdentity"`
	Payload    json.RawMessage `json:"payload"` // opaque SDP/ICE data, never inspected
}

// relaySignal forwards a negotiation payload to the target's current
// connection. A missing target is silently dropped: a disconnected peer is
// not an actionable failure for the sender.
func (h *WSHandler) relaySignal(client *room.Client, data json.RawMessage) (any, error) {
	var req signalRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ToIdentity == 0 {
		return nil, protocol.InvalidArgument("toIdentity is required")
	}

	h.hub.SendToUser(req.ToIdentity, "signal", map[string]any{
		"from":    client.UserID,
		"payload": req.Payload,
	})
	return successResponse(), nil
}

type voiceStatusRequest struct {
	RoomID   int64 `json:"roomId"`
	Speaking bool  `json:"speaking"`
}

// voiceStatus broadcasts a speaking-state change to the whole room.
func (h *WSHandler) voiceStatus(client *room.Client, data json.RawMessage) (any, error) {
	var req voiceStatusRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	h.hub.Broadcast(req.RoomID, "voiceStatusChanged", map[string]any{
		"userId":   client.UserID,
		"speaking": req.Speaking,
	})
	return successResponse(), nil
}
