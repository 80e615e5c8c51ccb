package handler

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"tabletop-backend/internal/model"
	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
	"tabletop-backend/internal/storage"
)

// getTokens 로비의 토큰 이미지 라이브러리 조회 (오래된 것부터)
func (h *WSHandler) getTokens(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	var tokens []model.TokenAsset
	if err := h.db.Where("lobby_id = ?", req.RoomID).Order("uploaded_at asc").Find(&tokens).Error; err != nil {
		log.Printf("[Board %d] token library read failed: %v", req.RoomID, err)
		return nil, protocol.Internal("database error")
	}

	return map[string]any{"tokens": tokens}, nil
}

type uploadTokenRequest struct {
	RoomID   int64  `json:"roomId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Bytes    []byte `json:"bytes"` // base64 over the wire
}

// uploadToken 토큰 이미지 업로드. 권한 제한 없음 (맵과 달리 누구나 가능).
func (h *WSHandler) uploadToken(client *room.Client, data json.RawMessage) (any, error) {
	var req uploadTokenRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}
	if strings.TrimSpace(req.FileName) == "" || len(req.Bytes) == 0 {
		return nil, protocol.InvalidArgument("fileName and bytes are required")
	}
	if !h.s3.IsEnabled() {
		return nil, protocol.Unavailable("asset store is not configured")
	}

	lobby, err := h.fetchLobby(req.RoomID)
	if err != nil {
		return nil, err
	}

	key := storage.BuildTokenKey(lobby.ID, req.FileName)
	if err := h.s3.UploadFile(key, req.MimeType, req.Bytes); err != nil {
		log.Printf("[Board %d] token upload failed: %v", lobby.ID, err)
		return nil, protocol.Internal("failed to upload token")
	}

	asset := model.TokenAsset{
		LobbyID: lobby.ID,
		Name:    req.FileName,
		URL:     h.s3.GetPublicURL(key),
		S3Key:   key,
	}
	if err := h.db.Create(&asset).Error; err != nil {
		h.s3.DeleteFile(key)
		log.Printf("[Board %d] token record create failed: %v", lobby.ID, err)
		return nil, protocol.Internal("failed to save token")
	}

	// Upload and insert are suspension points; no broadcast for a dead room.
	if _, err := h.fetchLobby(lobby.ID); err != nil {
		h.db.Delete(&model.TokenAsset{}, "id = ?", asset.ID)
		h.s3.DeleteFile(key)
		return nil, err
	}

	h.hub.Broadcast(lobby.ID, "tokenUploaded", asset)
	return map[string]any{"token": asset}, nil
}

type tokenImageRef struct {
	RoomID  int64 `json:"roomId"`
	TokenID int64 `json:"tokenId"`
}

// removeTokenImage 라이브러리에서 토큰 이미지 제거. 이미 없어도 성공.
func (h *WSHandler) removeTokenImage(client *room.Client, data json.RawMessage) (any, error) {
	var req tokenImageRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 || req.TokenID == 0 {
		return nil, protocol.InvalidArgument("roomId and tokenId are required")
	}

	var asset model.TokenAsset
	found := true
	if err := h.db.First(&asset, "id = ? AND lobby_id = ?", req.TokenID, req.RoomID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, protocol.Internal("database error")
		}
		found = false
	}
	if found {
		if err := h.db.Delete(&model.TokenAsset{}, "id = ?", asset.ID).Error; err != nil {
			log.Printf("[Board %d] token delete failed: %v", req.RoomID, err)
			return nil, protocol.Internal("failed to remove token")
		}
	}

	h.hub.Broadcast(req.RoomID, "tokenImageRemoved", req)

	if found && asset.S3Key != "" && h.s3.IsEnabled() {
		h.s3.DeleteFile(asset.S3Key)
	}
	return successResponse(), nil
}
