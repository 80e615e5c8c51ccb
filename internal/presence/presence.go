package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL WebSocket 연결이 끊겨도 키가 남지 않도록 하는 안전장치
const TTL = 60 * time.Second

// Record Redis에 저장될 접속 상태 데이터
type Record struct {
	UserID      int64  `json:"userId"`
	DisplayName string `json:"displayName"`
	LobbyID     *int64 `json:"lobbyId,omitempty"` // 현재 참가 중인 로비 (없으면 대기 중)
	ConnectedAt int64  `json:"connectedAt"`
}

// Manager 유저 온라인 상태 관리자 (nil 리시버에서도 안전, Redis 미설정 시 no-op)
type Manager struct {
	client *redis.Client
	ctx    context.Context
}

// NewManager 생성자
func NewManager(addr string, password string, db int) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Manager{
		client: rdb,
		ctx:    context.Background(),
	}
}

func (m *Manager) getUserKey(userID int64) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// SetOnline 접속 기록 (WebSocket 연결 시)
func (m *Manager) SetOnline(userID int64, displayName string, lobbyID *int64) error {
	if m == nil {
		return nil
	}

	data := Record{
		UserID:      userID,
		DisplayName: displayName,
		LobbyID:     lobbyID,
		ConnectedAt: time.Now().Unix(),
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return m.client.Set(m.ctx, m.getUserKey(userID), jsonData, TTL).Err()
}

// Refresh TTL 연장 (읽기 루프에서 주기적으로 호출)
func (m *Manager) Refresh(userID int64) error {
	if m == nil {
		return nil
	}

	ok, err := m.client.Expire(m.ctx, m.getUserKey(userID), TTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d not found (offline)", userID)
	}
	return nil
}

// SetOffline 접속 해제 기록 (WebSocket 종료 시)
func (m *Manager) SetOffline(userID int64) error {
	if m == nil {
		return nil
	}
	return m.client.Del(m.ctx, m.getUserKey(userID)).Err()
}

// GetMulti 여러 유저 상태 조회 (로비 멤버 목록의 isOnline 플래그용)
func (m *Manager) GetMulti(userIDs []int64) (map[int64]*Record, error) {
	if m == nil || len(userIDs) == 0 {
		return map[int64]*Record{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = m.getUserKey(id)
	}

	results, err := m.client.MGet(m.ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	online := make(map[int64]*Record)
	for i, result := range results {
		if result == nil {
			continue // Offline
		}

		strVal, ok := result.(string)
		if !ok {
			continue
		}

		var data Record
		if err := json.Unmarshal([]byte(strVal), &data); err == nil {
			online[userIDs[i]] = &data
		}
	}

	return online, nil
}

// Ping 연결 확인
func (m *Manager) Ping() error {
	if m == nil {
		return nil
	}
	return m.client.Ping(m.ctx).Err()
}
