package handler

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"tabletop-backend/internal/board"
	"tabletop-backend/internal/model"
	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
	"tabletop-backend/internal/storage"
)

// MapPlacement 업로드된 맵 + 현재 변환 상태
type MapPlacement struct {
	model.MapAsset
	Transform board.MapTransform `json:"transform"`
}

// getBoardState 지각 참가자용 전체 스냅샷. 해산된 방 id 로 조회해도
// 빈 상태를 새로 만들어 돌려준다 (NOT_FOUND 아님).
func (h *WSHandler) getBoardState(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	var assets []model.MapAsset
	if err := h.db.Where("lobby_id = ?", req.RoomID).Order("uploaded_at asc").Find(&assets).Error; err != nil {
		log.Printf("[Board %d] map read failed: %v", req.RoomID, err)
		return nil, protocol.Internal("database error")
	}

	var tokenResources []model.TokenAsset
	if err := h.db.Where("lobby_id = ?", req.RoomID).Order("uploaded_at asc").Find(&tokenResources).Error; err != nil {
		log.Printf("[Board %d] token library read failed: %v", req.RoomID, err)
		return nil, protocol.Internal("database error")
	}

	transforms, tokens, strokes := h.boards.Snapshot(req.RoomID)

	maps := make([]MapPlacement, 0, len(assets))
	for _, a := range assets {
		tf, ok := transforms[a.ID]
		if !ok {
			tf = h.boards.EnsureMapTransform(req.RoomID, a.ID)
		}
		maps = append(maps, MapPlacement{MapAsset: a, Transform: tf})
	}

	return map[string]any{
		"maps":           maps,
		"tokens":         tokens,
		"strokes":        strokes,
		"tokenResources": tokenResources,
	}, nil
}

type uploadMapRequest struct {
	RoomID   int64  `json:"roomId"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
	Bytes    []byte `json:"bytes"` // base64 over the wire
}

// uploadMap 마스터 전용 맵 업로드. S3 미설정 시 UNAVAILABLE.
func (h *WSHandler) uploadMap(client *room.Client, data json.RawMessage) (any, error) {
	var req uploadMapRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}
	if strings.TrimSpace(req.FileName) == "" || len(req.Bytes) == 0 {
		return nil, protocol.InvalidArgument("fileName and bytes are required")
	}

	lobby, err := h.requireMaster(req.RoomID, client.UserID)
	if err != nil {
		return nil, err
	}
	if !h.s3.IsEnabled() {
		return nil, protocol.Unavailable("asset store is not configured")
	}

	key := storage.BuildMapKey(lobby.ID, req.FileName)
	if err := h.s3.UploadFile(key, req.MimeType, req.Bytes); err != nil {
		log.Printf("[Board %d] map upload failed: %v", lobby.ID, err)
		return nil, protocol.Internal("failed to upload map")
	}

	asset := model.MapAsset{
		LobbyID: lobby.ID,
		Name:    req.FileName,
		URL:     h.s3.GetPublicURL(key),
		S3Key:   key,
	}
	if err := h.db.Create(&asset).Error; err != nil {
		h.s3.DeleteFile(key)
		log.Printf("[Board %d] map record create failed: %v", lobby.ID, err)
		return nil, protocol.Internal("failed to save map")
	}

	// Upload and insert are suspension points: the room may have been
	// dissolved meanwhile. No phantom broadcasts for a dead room.
	if _, err := h.fetchLobby(lobby.ID); err != nil {
		h.db.Delete(&model.MapAsset{}, "id = ?", asset.ID)
		h.s3.DeleteFile(key)
		return nil, err
	}

	placement := MapPlacement{MapAsset: asset}
	h.hub.GetOrCreateRoom(lobby.ID).Apply(func(emit func(string, any)) error {
		placement.Transform = h.boards.EnsureMapTransform(lobby.ID, asset.ID)
		emit("mapUploaded", placement)
		return nil
	})

	return map[string]any{"map": placement}, nil
}

type transformRequest struct {
	RoomID int64    `json:"roomId"`
	MapID  int64    `json:"mapId"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Scale  *float64 `json:"scale,omitempty"`
}

// updateMapTransform 마스터 전용 부분 갱신 (제공된 필드만 변경)
func (h *WSHandler) updateMapTransform(client *room.Client, data json.RawMessage) (any, error) {
	var req transformRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 || req.MapID == 0 {
		return nil, protocol.InvalidArgument("roomId and mapId are required")
	}
	if req.Scale != nil && *req.Scale <= 0 {
		return nil, protocol.InvalidArgument("scale must be positive")
	}

	// Authority check reads the DB, so re-apply against live state after it.
	if _, err := h.requireMaster(req.RoomID, client.UserID); err != nil {
		return nil, err
	}

	err := h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		tf, err := h.boards.UpdateMapTransform(req.RoomID, req.MapID, req.X, req.Y, req.Scale)
		if err != nil {
			return protocol.NotFound("map not found")
		}
		emit("mapTransformUpdated", tf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return successResponse(), nil
}

type mapRef struct {
	RoomID int64 `json:"roomId"`
	MapID  int64 `json:"mapId"`
}

// removeMap 마스터 전용. 영속 레코드와 라이브 변환 둘 다 제거.
func (h *WSHandler) removeMap(client *room.Client, data json.RawMessage) (any, error) {
	var req mapRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 || req.MapID == 0 {
		return nil, protocol.InvalidArgument("roomId and mapId are required")
	}

	if _, err := h.requireMaster(req.RoomID, client.UserID); err != nil {
		return nil, err
	}

	var asset model.MapAsset
	found := true
	if err := h.db.First(&asset, "id = ? AND lobby_id = ?", req.MapID, req.RoomID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, protocol.Internal("database error")
		}
		found = false
	}
	if found {
		if err := h.db.Delete(&model.MapAsset{}, "id = ?", asset.ID).Error; err != nil {
			log.Printf("[Board %d] map delete failed: %v", req.RoomID, err)
			return nil, protocol.Internal("failed to remove map")
		}
	}

	h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		h.boards.RemoveMap(req.RoomID, req.MapID)
		emit("mapRemoved", mapRef{RoomID: req.RoomID, MapID: req.MapID})
		return nil
	})

	if found && asset.S3Key != "" && h.s3.IsEnabled() {
		h.s3.DeleteFile(asset.S3Key)
	}
	return successResponse(), nil
}

type placeTokenRequest struct {
	RoomID      int64   `json:"roomId"`
	ResourceRef string  `json:"resourceRef"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Radius      float64 `json:"radius"`
	Color       string  `json:"color"`
}

// placeToken 권한 제한 없음. 방 안에서 유일한 id 가 생성된다.
func (h *WSHandler) placeToken(client *room.Client, data json.RawMessage) (any, error) {
	var req placeTokenRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	var tok board.Token
	h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		tok = h.boards.PlaceToken(req.RoomID, client.UserID, req.ResourceRef, req.X, req.Y, req.Radius, req.Color)
		emit("tokenPlaced", tok)
		return nil
	})

	return map[string]any{"placement": tok}, nil
}

type moveTokenRequest struct {
	RoomID  int64   `json:"roomId"`
	TokenID string  `json:"tokenId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// moveToken 마지막 쓰기 승리. 없는 토큰이면 NOT_FOUND.
func (h *WSHandler) moveToken(client *room.Client, data json.RawMessage) (any, error) {
	var req moveTokenRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 || req.TokenID == "" {
		return nil, protocol.InvalidArgument("roomId and tokenId are required")
	}

	var tok board.Token
	err := h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		var err error
		tok, err = h.boards.MoveToken(req.RoomID, req.TokenID, req.X, req.Y)
		if err != nil {
			return protocol.NotFound("token not found")
		}
		emit("tokenMoved", tok)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"token": tok}, nil
}

type tokenRef struct {
	RoomID  int64  `json:"roomId"`
	TokenID string `json:"tokenId"`
}

// removeToken 이미 없어도 성공 (동시 이중 제거 허용)
func (h *WSHandler) removeToken(client *room.Client, data json.RawMessage) (any, error) {
	var req tokenRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 || req.TokenID == "" {
		return nil, protocol.InvalidArgument("roomId and tokenId are required")
	}

	h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		h.boards.RemoveToken(req.RoomID, req.TokenID)
		emit("tokenRemoved", req)
		return nil
	})
	return successResponse(), nil
}

type drawStrokeRequest struct {
	RoomID int64         `json:"roomId"`
	Color  string        `json:"color"`
	Width  float64       `json:"width"`
	Points []board.Point `json:"points"`
}

// drawStroke 완성된 스트로크만 받는다 (그리는 중간 상태는 클라이언트 로컬)
func (h *WSHandler) drawStroke(client *room.Client, data json.RawMessage) (any, error) {
	var req drawStrokeRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}
	if len(req.Points) == 0 {
		return nil, protocol.InvalidArgument("points are required")
	}

	var stroke board.Stroke
	h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		stroke = h.boards.AddStroke(req.RoomID, client.UserID, req.Color, req.Width, req.Points)
		emit("strokeDrawn", stroke)
		return nil
	})

	return map[string]any{"stroke": stroke}, nil
}

// undoStroke 요청자 본인이 그린 마지막 스트로크만 되돌린다
func (h *WSHandler) undoStroke(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	err := h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		stroke, err := h.boards.UndoStroke(req.RoomID, client.UserID)
		if err != nil {
			return protocol.NotFound("no stroke to undo")
		}
		emit("strokeRemoved", map[string]any{"roomId": req.RoomID, "strokeId": stroke.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return successResponse(), nil
}

// redoStroke 마지막으로 되돌린 스트로크를 그대로 복원
func (h *WSHandler) redoStroke(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	var stroke board.Stroke
	err := h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		var err error
		stroke, err = h.boards.RedoStroke(req.RoomID, client.UserID)
		if err != nil {
			return protocol.NotFound("no stroke to redo")
		}
		emit("strokeDrawn", stroke)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"stroke": stroke}, nil
}

// endGame 보드 상태 전체 폐기. 이미 비어 있어도 성공.
func (h *WSHandler) endGame(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	h.hub.GetOrCreateRoom(req.RoomID).Apply(func(emit func(string, any)) error {
		h.boards.Clear(req.RoomID)
		emit("boardCleared", roomRef{RoomID: req.RoomID})
		return nil
	})
	return successResponse(), nil
}
