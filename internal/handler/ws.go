package handler

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"gorm.io/gorm"

	"tabletop-backend/internal/board"
	"tabletop-backend/internal/presence"
	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
	"tabletop-backend/internal/storage"
)

// WSHandler owns the per-connection read loop and dispatches every request
// event to its operation handler. Each operation acks exactly once.
type WSHandler struct {
	db       *gorm.DB
	hub      *room.Hub
	boards   *board.Store
	s3       *storage.S3Service
	presence *presence.Manager

	maxMessageSize int64
	lobbyTTL       time.Duration
}

// NewWSHandler WSHandler 생성 (s3, presence는 nil 허용)
func NewWSHandler(db *gorm.DB, hub *room.Hub, boards *board.Store, s3 *storage.S3Service, pm *presence.Manager, maxMessageSize int64, lobbyTTL time.Duration) *WSHandler {
	return &WSHandler{
		db:             db,
		hub:            hub,
		boards:         boards,
		s3:             s3,
		presence:       pm,
		maxMessageSize: maxMessageSize,
		lobbyTTL:       lobbyTTL,
	}
}

// PurgeLobbies drops the in-memory state of lobbies whose rows are already
// gone (expiry sweep). Connected clients get a terminal roomClosed before the
// room is dropped; orphaned stored objects are deleted last.
func (h *WSHandler) PurgeLobbies(lobbyIDs []int64, s3Keys []string) {
	for _, id := range lobbyIDs {
		h.boards.Clear(id)
		h.hub.Broadcast(id, "roomClosed", roomRef{RoomID: id})
		h.hub.DropRoom(id)
	}
	if h.s3.IsEnabled() {
		for _, key := range s3Keys {
			h.s3.DeleteFile(key)
		}
	}
}

// HandleWebSocket WebSocket 연결 처리
func (h *WSHandler) HandleWebSocket(c *websocket.Conn) {
	userIDInterface := c.Locals("userID")
	displayNameInterface := c.Locals("displayName")

	userID, ok1 := userIDInterface.(int64)
	displayName, ok2 := displayNameInterface.(string)
	if !ok1 || !ok2 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"event":"error","data":{"code":"FORBIDDEN","message":"invalid session"}}`))
		c.Close()
		return
	}

	if h.maxMessageSize > 0 {
		c.SetReadLimit(h.maxMessageSize)
	}

	client := room.NewClient(userID, displayName, c)
	h.hub.Register(client)
	if err := h.presence.SetOnline(userID, displayName, nil); err != nil {
		log.Printf("[Presence] set online failed for user %d: %v", userID, err)
	}

	log.Printf("[WS] connected: user=%d (%s)", userID, displayName)

	defer func() {
		h.hub.Unregister(client)
		if err := h.presence.SetOffline(userID); err != nil {
			log.Printf("[Presence] set offline failed for user %d: %v", userID, err)
		}
		c.Close()
		log.Printf("[WS] disconnected: user=%d (%s)", userID, displayName)
	}()

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var req protocol.Request
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			continue
		}
		if req.Event == "" {
			continue
		}

		data, err := h.dispatch(client, &req)
		if err != nil {
			if sendErr := client.Ack(protocol.Nack(req.ID, err)); sendErr != nil {
				break
			}
			continue
		}
		if sendErr := client.Ack(protocol.Ack(req.ID, data)); sendErr != nil {
			break
		}
	}
}

// dispatch routes one request to its operation. Returned errors are already
// coerced to protocol errors by the operations themselves; anything else is
// wrapped as INTERNAL by Nack.
func (h *WSHandler) dispatch(client *room.Client, req *protocol.Request) (any, error) {
	// TTL may have lapsed between messages; re-create the key if so.
	if err := h.presence.Refresh(client.UserID); err != nil {
		h.presence.SetOnline(client.UserID, client.DisplayName, nil)
	}

	switch req.Event {
	// 로비 (membership & authority)
	case "createRoom":
		return h.createRoom(client, req.Data)
	case "joinRoom":
		return h.joinRoom(client, req.Data)
	case "leaveRoom":
		return h.leaveRoom(client, req.Data)
	case "kick":
		return h.kickPlayer(client, req.Data)
	case "startGame":
		return h.startGame(client, req.Data)

	// 보드 (board state store)
	case "getBoardState":
		return h.getBoardState(client, req.Data)
	case "uploadMap":
		return h.uploadMap(client, req.Data)
	case "updateMapTransform":
		return h.updateMapTransform(client, req.Data)
	case "removeMap":
		return h.removeMap(client, req.Data)
	case "placeToken":
		return h.placeToken(client, req.Data)
	case "moveToken":
		return h.moveToken(client, req.Data)
	case "removeToken":
		return h.removeToken(client, req.Data)
	case "drawStroke":
		return h.drawStroke(client, req.Data)
	case "undoStroke":
		return h.undoStroke(client, req.Data)
	case "redoStroke":
		return h.redoStroke(client, req.Data)
	case "endGame":
		return h.endGame(client, req.Data)

	// 토큰 이미지 라이브러리
	case "getTokens":
		return h.getTokens(client, req.Data)
	case "uploadToken":
		return h.uploadToken(client, req.Data)
	case "removeTokenImage":
		return h.removeTokenImage(client, req.Data)

	// 채팅
	case "getChatHistory":
		return h.getChatHistory(client, req.Data)
	case "sendMessage":
		return h.sendMessage(client, req.Data)
	case "rollDice":
		return h.rollDice(client, req.Data)

	// 음성 시그널링
	case "joinVoice":
		return h.joinVoice(client, req.Data)
	case "signal":
		return h.relaySignal(client, req.Data)
	case "voiceStatus":
		return h.voiceStatus(client, req.Data)

	default:
		return nil, protocol.InvalidArgument("unknown event: " + req.Event)
	}
}
