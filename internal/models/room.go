package models

import (
	"time"

	"gorm.io/gorm"
)

// Room 表示一個協作程式編輯房間
type Room struct {
	gorm.Model
	Code      string   `gorm:"uniqueIndex;size:6;not null" json:"code"` // 房間代碼，唯一且不分大小寫（一律以大寫儲存）
	Name      string   `json:"name"`
	Language  string   `gorm:"size:32;not null" json:"language"`
	Mode      RoomMode `gorm:"size:16;not null" json:"mode"`
	CreatedBy uint     `json:"created_by"`
	IsActive  bool     `gorm:"default:true" json:"is_active"`
}

// RoomMode 定義房間模式的類型
type RoomMode string

const (
	RoomModeCollaborative RoomMode = "collaborative" // 協作模式
	RoomModeBattle        RoomMode = "battle"        // 對戰模式
)

// RoomMember 表示房間的持久化成員紀錄
// 與 RoomState 中的即時參與者不同，成員紀錄跨越單次連線存在
type RoomMember struct {
	gorm.Model
	RoomID     uint      `gorm:"index:idx_room_user,unique" json:"room_id"`
	UserID     uint      `gorm:"index:idx_room_user,unique" json:"user_id"`
	Role       string    `gorm:"size:16" json:"role"`
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
