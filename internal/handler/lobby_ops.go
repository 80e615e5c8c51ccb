package handler

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"tabletop-backend/internal/model"
	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
)

const maxLobbyNameLen = 100

// MemberInfo 멤버 목록 브로드캐스트 페이로드
type MemberInfo struct {
	UserID      int64     `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsMaster    bool      `json:"isMaster"`
	IsOnline    bool      `json:"isOnline"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type roomRef struct {
	RoomID int64 `json:"roomId"`
}

// fetchLobby 살아있는 로비 조회 (만료되었거나 없으면 NOT_FOUND)
func (h *WSHandler) fetchLobby(roomID int64) (*model.Lobby, error) {
	var lobby model.Lobby
	if err := h.db.First(&lobby, "id = ?", roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, protocol.NotFound("room not found")
		}
		log.Printf("[Lobby] fetch %d failed: %v", roomID, err)
		return nil, protocol.Internal("database error")
	}
	if lobby.ExpiresAt != nil && lobby.ExpiresAt.Before(time.Now()) {
		return nil, protocol.NotFound("room not found")
	}
	return &lobby, nil
}

// requireMaster 마스터 권한 확인
func (h *WSHandler) requireMaster(roomID, userID int64) (*model.Lobby, error) {
	lobby, err := h.fetchLobby(roomID)
	if err != nil {
		return nil, err
	}
	if lobby.MasterID != userID {
		return nil, protocol.Forbidden("only the master may do this")
	}
	return lobby, nil
}

// memberList 항상 DB에서 새로 읽는다 (스냅샷 캐시 없음)
func (h *WSHandler) memberList(lobby *model.Lobby) ([]MemberInfo, error) {
	var players []model.LobbyPlayer
	if err := h.db.Preload("User").Where("lobby_id = ?", lobby.ID).Order("joined_at asc").Find(&players).Error; err != nil {
		return nil, protocol.Internal("database error")
	}

	userIDs := make([]int64, 0, len(players))
	for _, p := range players {
		userIDs = append(userIDs, p.UserID)
	}
	// Presence 미설정 시 빈 맵 (전원 오프라인 표시)
	online, err := h.presence.GetMulti(userIDs)
	if err != nil {
		log.Printf("[Lobby %d] presence read failed: %v", lobby.ID, err)
		online = nil
	}

	members := make([]MemberInfo, 0, len(players))
	for _, p := range players {
		members = append(members, MemberInfo{
			UserID:      p.UserID,
			DisplayName: p.User.DisplayName,
			IsMaster:    p.UserID == lobby.MasterID,
			IsOnline:    online[p.UserID] != nil,
			JoinedAt:    p.JoinedAt,
		})
	}
	return members, nil
}

// broadcastMembers 멤버 목록 전체를 방에 방송
func (h *WSHandler) broadcastMembers(lobby *model.Lobby) {
	members, err := h.memberList(lobby)
	if err != nil {
		log.Printf("[Lobby %d] member list read failed: %v", lobby.ID, err)
		return
	}
	h.hub.Broadcast(lobby.ID, "playersUpdated", members)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type roomInfo struct {
	RoomID int64  `json:"roomId"`
	Name   string `json:"name"`
	Master int64  `json:"master"`
}

// createRoom 로비 생성 (생성자 = 마스터, 단독 멤버)
func (h *WSHandler) createRoom(client *room.Client, data json.RawMessage) (any, error) {
	var req createRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, protocol.InvalidArgument("invalid payload")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, protocol.InvalidArgument("name is required")
	}
	if len(name) > maxLobbyNameLen {
		return nil, protocol.InvalidArgument("name is too long")
	}

	expiresAt := time.Now().Add(h.lobbyTTL)
	lobby := model.Lobby{
		Name:      name,
		MasterID:  client.UserID,
		ExpiresAt: &expiresAt,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&lobby).Error; err != nil {
			return err
		}
		return tx.Create(&model.LobbyPlayer{
			LobbyID: lobby.ID,
			UserID:  client.UserID,
		}).Error
	})
	if err != nil {
		log.Printf("[Lobby] create failed: %v", err)
		return nil, protocol.Internal("failed to create room")
	}

	h.hub.Join(lobby.ID, client)
	h.broadcastMembers(&lobby)

	log.Printf("[Lobby %d] created by user %d (%s)", lobby.ID, client.UserID, name)
	return roomInfo{RoomID: lobby.ID, Name: lobby.Name, Master: lobby.MasterID}, nil
}

// joinRoom 로비 참가. 재참가는 에러 없이 성공 (중복 키 충돌 흡수)
func (h *WSHandler) joinRoom(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	lobby, err := h.fetchLobby(req.RoomID)
	if err != nil {
		return nil, err
	}

	player := model.LobbyPlayer{LobbyID: lobby.ID, UserID: client.UserID}
	if err := h.db.Create(&player).Error; err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			log.Printf("[Lobby %d] join failed for user %d: %v", lobby.ID, client.UserID, err)
			return nil, protocol.Internal("failed to join room")
		}
		// already a member, treat as success
	}

	h.hub.Join(lobby.ID, client)
	h.broadcastMembers(lobby)

	return roomInfo{RoomID: lobby.ID, Name: lobby.Name, Master: lobby.MasterID}, nil
}

// leaveRoom 로비 이탈. 마스터가 나가면 방 전체 해산.
func (h *WSHandler) leaveRoom(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	lobby, err := h.fetchLobby(req.RoomID)
	if err != nil {
		return nil, err
	}

	if lobby.MasterID == client.UserID {
		if err := h.dissolveLobby(lobby); err != nil {
			return nil, err
		}
		return successResponse(), nil
	}

	if err := h.db.Where("lobby_id = ? AND user_id = ?", lobby.ID, client.UserID).
		Delete(&model.LobbyPlayer{}).Error; err != nil {
		log.Printf("[Lobby %d] leave failed for user %d: %v", lobby.ID, client.UserID, err)
		return nil, protocol.Internal("failed to leave room")
	}

	h.hub.Leave(lobby.ID, client)
	h.broadcastMembers(lobby)
	return successResponse(), nil
}

// dissolveLobby 방 해산: 보드 상태 폐기, 멤버십/채팅/맵 삭제, roomClosed 방송
func (h *WSHandler) dissolveLobby(lobby *model.Lobby) error {
	var s3Keys []string

	err := h.db.Transaction(func(tx *gorm.DB) error {
		var maps []model.MapAsset
		if err := tx.Where("lobby_id = ?", lobby.ID).Find(&maps).Error; err != nil {
			return err
		}
		for _, m := range maps {
			if m.S3Key != "" {
				s3Keys = append(s3Keys, m.S3Key)
			}
		}
		var tokens []model.TokenAsset
		if err := tx.Where("lobby_id = ?", lobby.ID).Find(&tokens).Error; err != nil {
			return err
		}
		for _, t := range tokens {
			if t.S3Key != "" {
				s3Keys = append(s3Keys, t.S3Key)
			}
		}

		for _, m := range []any{&model.ChatMessage{}, &model.LobbyPlayer{}, &model.MapAsset{}, &model.TokenAsset{}} {
			if err := tx.Where("lobby_id = ?", lobby.ID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Lobby{}, "id = ?", lobby.ID).Error
	})
	if err != nil {
		log.Printf("[Lobby %d] dissolve failed: %v", lobby.ID, err)
		return protocol.Internal("failed to close room")
	}

	// 영속 삭제가 확정된 뒤에만 메모리/방송 처리
	h.boards.Clear(lobby.ID)
	h.hub.Broadcast(lobby.ID, "roomClosed", roomRef{RoomID: lobby.ID})
	h.hub.DropRoom(lobby.ID)

	// S3 삭제 실패는 무시 (로그만)
	if h.s3.IsEnabled() {
		for _, key := range s3Keys {
			h.s3.DeleteFile(key)
		}
	}

	log.Printf("[Lobby %d] dissolved by master %d", lobby.ID, lobby.MasterID)
	return nil
}

type kickRequest struct {
	RoomID         int64 `json:"roomId"`
	TargetIdentity int64 `json:"targetIdentity"`
}

// kickPlayer 마스터 전용 강퇴. 자기 자신은 불가.
func (h *WSHandler) kickPlayer(client *room.Client, data json.RawMessage) (any, error) {
	var req kickRequest
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 || req.TargetIdentity == 0 {
		return nil, protocol.InvalidArgument("roomId and targetIdentity are required")
	}

	lobby, err := h.requireMaster(req.RoomID, client.UserID)
	if err != nil {
		return nil, err
	}
	if req.TargetIdentity == client.UserID {
		return nil, protocol.InvalidArgument("cannot kick yourself")
	}

	if err := h.db.Where("lobby_id = ? AND user_id = ?", lobby.ID, req.TargetIdentity).
		Delete(&model.LobbyPlayer{}).Error; err != nil {
		log.Printf("[Lobby %d] kick of user %d failed: %v", lobby.ID, req.TargetIdentity, err)
		return nil, protocol.Internal("failed to kick player")
	}

	h.hub.SendToUser(req.TargetIdentity, "kicked", roomRef{RoomID: lobby.ID})
	h.broadcastMembers(lobby)

	log.Printf("[Lobby %d] user %d kicked by master %d", lobby.ID, req.TargetIdentity, client.UserID)
	return successResponse(), nil
}

// startGame 마스터 전용 게임 시작 신호. 보드 상태는 첫 조작 시 생성된다.
func (h *WSHandler) startGame(client *room.Client, data json.RawMessage) (any, error) {
	var req roomRef
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == 0 {
		return nil, protocol.InvalidArgument("roomId is required")
	}

	lobby, err := h.requireMaster(req.RoomID, client.UserID)
	if err != nil {
		return nil, err
	}

	h.hub.Broadcast(lobby.ID, "gameStarted", roomRef{RoomID: lobby.ID})
	return successResponse(), nil
}

func successResponse() map[string]bool {
	return map[string]bool{"success": true}
}
