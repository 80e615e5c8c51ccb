package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"tabletop-backend/internal/auth"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/room"
)

// LobbyHandler 로비 디렉터리 REST 핸들러
type LobbyHandler struct {
	db       *gorm.DB
	hub      *room.Hub
	lobbyTTL time.Duration
}

// NewLobbyHandler LobbyHandler 생성
func NewLobbyHandler(db *gorm.DB, hub *room.Hub, lobbyTTL time.Duration) *LobbyHandler {
	return &LobbyHandler{
		db:       db,
		hub:      hub,
		lobbyTTL: lobbyTTL,
	}
}

// LobbySummary 목록 응답 항목
type LobbySummary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	MasterID    int64     `json:"masterId"`
	MasterName  string    `json:"masterName"`
	PlayerCount int64     `json:"playerCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListLobbies 만료되지 않은 로비 목록
func (h *LobbyHandler) ListLobbies(c *fiber.Ctx) error {
	var lobbies []model.Lobby
	err := h.db.Preload("Master").
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("created_at desc").
		Find(&lobbies).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	summaries := make([]LobbySummary, 0, len(lobbies))
	for _, lobby := range lobbies {
		var count int64
		h.db.Model(&model.LobbyPlayer{}).Where("lobby_id = ?", lobby.ID).Count(&count)
		summaries = append(summaries, LobbySummary{
			ID:          lobby.ID,
			Name:        lobby.Name,
			MasterID:    lobby.MasterID,
			MasterName:  lobby.Master.DisplayName,
			PlayerCount: count,
			CreatedAt:   lobby.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{"lobbies": summaries})
}

// CreateLobbyRequest 로비 생성 요청
type CreateLobbyRequest struct {
	Name string `json:"name"`
}

// CreateLobby 로비 생성 (생성자 = 마스터). WebSocket joinRoom 으로 입장한다.
func (h *LobbyHandler) CreateLobby(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req CreateLobbyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}
	if len(name) > maxLobbyNameLen {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is too long",
		})
	}

	expiresAt := time.Now().Add(h.lobbyTTL)
	lobby := model.Lobby{
		Name:      name,
		MasterID:  claims.UserID,
		ExpiresAt: &expiresAt,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&lobby).Error; err != nil {
			return err
		}
		return tx.Create(&model.LobbyPlayer{
			LobbyID: lobby.ID,
			UserID:  claims.UserID,
		}).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create lobby",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(lobby)
}

// GetChatHistory 채팅 이력 REST 미러
func (h *LobbyHandler) GetChatHistory(c *fiber.Ctx) error {
	lobbyID, err := c.ParamsInt("id")
	if err != nil || lobbyID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid lobby id",
		})
	}

	var messages []model.ChatMessage
	err = h.db.Where("lobby_id = ?", lobbyID).
		Order("created_at desc").Limit(chatHistoryLimit).
		Find(&messages).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "database error",
		})
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// PostMessageRequest 채팅 전송 요청
type PostMessageRequest struct {
	Text string `json:"text"`
}

// PostMessage 채팅 전송 REST 미러 (저장 후 WebSocket 방에도 방송)
func (h *LobbyHandler) PostMessage(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	lobbyID, err := c.ParamsInt("id")
	if err != nil || lobbyID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid lobby id",
		})
	}

	var req PostMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}
	text = truncateText(text, maxChatMessageLen)

	var lobby model.Lobby
	if err := h.db.First(&lobby, "id = ?", lobbyID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "lobby not found",
		})
	}
	if lobby.ExpiresAt != nil && lobby.ExpiresAt.Before(time.Now()) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "lobby not found",
		})
	}

	msg := model.ChatMessage{
		LobbyID:     lobby.ID,
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Text:        text,
	}
	if err := h.db.Create(&msg).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to save message",
		})
	}

	h.hub.Broadcast(lobby.ID, "newMessage", msg)
	return c.Status(fiber.StatusCreated).JSON(msg)
}
