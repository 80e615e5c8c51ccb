package model

import (
	"time"
)

// User 사용자
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DisplayName string    `gorm:"type:varchar(100);not null;index" json:"displayName"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`

	// Relations
	Lobbies []LobbyPlayer `gorm:"foreignKey:UserID" json:"lobbies,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// Lobby 로비 (방). MasterID 는 생성자이며 변경되지 않는다.
type Lobby struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	MasterID  int64      `gorm:"not null" json:"masterId"`
	ExpiresAt *time.Time `gorm:"index" json:"expiresAt,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`

	// Relations
	Master  User          `gorm:"foreignKey:MasterID" json:"master,omitempty"`
	Players []LobbyPlayer `gorm:"foreignKey:LobbyID" json:"players,omitempty"`
	Maps    []MapAsset    `gorm:"foreignKey:LobbyID" json:"maps,omitempty"`
	Tokens  []TokenAsset  `gorm:"foreignKey:LobbyID" json:"tokens,omitempty"`
}

func (Lobby) TableName() string {
	return "lobbies"
}

// LobbyPlayer 로비 멤버십 (lobby_id, user_id 유니크)
type LobbyPlayer struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LobbyID  int64     `gorm:"not null;uniqueIndex:idx_lobby_user" json:"lobbyId"`
	UserID   int64     `gorm:"not null;uniqueIndex:idx_lobby_user" json:"userId"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joinedAt"`

	// Relations
	Lobby Lobby `gorm:"foreignKey:LobbyID" json:"lobby,omitempty"`
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (LobbyPlayer) TableName() string {
	return "lobby_players"
}

// MapAsset 업로드된 배경 맵 이미지 (S3 객체 참조)
type MapAsset struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LobbyID    int64     `gorm:"not null;index" json:"lobbyId"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	URL        string    `gorm:"type:text;not null" json:"url"`
	S3Key      string    `gorm:"type:varchar(500)" json:"-"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploadedAt"`

	// Relations
	Lobby Lobby `gorm:"foreignKey:LobbyID" json:"lobby,omitempty"`
}

func (MapAsset) TableName() string {
	return "maps"
}

// TokenAsset 업로드된 토큰 이미지 (배치와 별개인 리소스 라이브러리)
type TokenAsset struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LobbyID    int64     `gorm:"not null;index" json:"lobbyId"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	URL        string    `gorm:"type:text;not null" json:"url"`
	S3Key      string    `gorm:"type:varchar(500)" json:"-"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploadedAt"`

	// Relations
	Lobby Lobby `gorm:"foreignKey:LobbyID" json:"lobby,omitempty"`
}

func (TokenAsset) TableName() string {
	return "tokens"
}

// ChatMessage 채팅 메시지 (주사위 결과 포함)
type ChatMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	LobbyID     int64     `gorm:"not null;index" json:"lobbyId"`
	UserID      int64     `gorm:"not null" json:"userId"`
	DisplayName string    `gorm:"type:varchar(100);not null" json:"displayName"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"createdAt"`

	// Relations
	Lobby Lobby `gorm:"foreignKey:LobbyID" json:"lobby,omitempty"`
	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
