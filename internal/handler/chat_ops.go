package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"strings"
	"unicode/utf8"

	"tabletop-backend/internal/model"
	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
)

const (
	maxChatMessageLen = 2000
	chatHistoryLimit  = 100

	maxDiceCount = 100
	maxDiceSides = 1000
)

// getChatHistory 최근 메시지 조회 (오래된 것부터)
func (h *WSHandler) getChatHistory(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	if _, err := h.fetchLobby(req.RoomID); err != nil {
		return nil, err
	}

	messages, err := h.chatHistory(req.RoomID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": messages}, nil
}

func (h *WSHandler) chatHistory(lobbyID int64) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	err := h.db.Where("lobby_id = ?", lobbyID).
		Order("created_at desc").Limit(chatHistoryLimit).
		Find(&messages).Error
	if err != nil {
		log.Printf("[Chat %d] history read failed: %v", lobbyID, err)
		return nil, protocol.Internal("database error")
	}

	// 최신순으로 읽었으니 뒤집어서 반환
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type sendMessageRequest struct {
	RoomID int64  `json:"roomId"`
	Text   string `json:"text"`
}

// sendMessage 메시지 저장 후 newMessage 방송
func (h *WSHandler) sendMessage(client *room.Client, data json.RawMessage) (any, error) {
	var req sendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, protocol.InvalidArgument("text is required")
	}
	text = truncateText(text, maxChatMessageLen)

	if _, err := h.fetchLobby(req.RoomID); err != nil {
		return nil, err
	}

	return h.persistAndBroadcast(client, req.RoomID, text)
}

func (h *WSHandler) persistAndBroadcast(client *room.Client, lobbyID int64, text string) (any, error) {
	msg := model.ChatMessage{
		LobbyID:     lobbyID,
		UserID:      client.UserID,
		DisplayName: client.DisplayName,
		Text:        text,
	}
	if err := h.db.Create(&msg).Error; err != nil {
		log.Printf("[Chat %d] message save failed: %v", lobbyID, err)
		return nil, protocol.Internal("failed to save message")
	}

	h.hub.Broadcast(lobbyID, "newMessage", msg)
	return map[string]any{"message": msg}, nil
}

// truncateText caps the byte length without splitting a multi-byte rune.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

type rollDiceRequest struct {
	RoomID int64 `json:"roomId"`
	Count  int   `json:"count"`
	Sides  int   `json:"sides"`
}

// rollDice NdM 주사위. 결과는 채팅 한 줄로 저장 + 방송된다.
func (h *WSHandler) rollDice(client *room.Client, data json.RawMessage) (any, error) {
	var req rollDiceRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}
	if req.Count < 1 || req.Count > maxDiceCount || req.Sides < 2 || req.Sides > maxDiceSides {
		return nil, protocol.InvalidArgument("invalid dice request")
	}

	if _, err := h.fetchLobby(req.RoomID); err != nil {
		return nil, err
	}

	rolls := make([]int, req.Count)
	total := 0
	for i := range rolls {
		rolls[i] = rand.IntN(req.Sides) + 1
		total += rolls[i]
	}

	parts := make([]string, len(rolls))
	for i, r := range rolls {
		parts[i] = strconv.Itoa(r)
	}
	text := fmt.Sprintf("🎲 %dd%d: [%s] = %d", req.Count, req.Sides, strings.Join(parts, ", "), total)

	result, err := h.persistAndBroadcast(client, req.RoomID, text)
	if err != nil {
		return nil, err
	}

	out := result.(map[string]any)
	out["rolls"] = rolls
	out["total"] = total
	return out, nil
}
