package service

import (
	"coderoom/internal/models"
)

// Broadcaster 是服務層對外送訊息的出口
// 服務核心只依賴這個介面，不直接碰 WebSocket 連線，
// 測試時可以用記錄訊息的假實作取代網路層
type Broadcaster interface {
	// BroadcastToRoom 送給房間內所有連線
	BroadcastToRoom(roomID uint, msg *models.Message)
	// BroadcastToOthers 送給房間內除 excludeUserID 外的所有連線
	BroadcastToOthers(roomID uint, excludeUserID uint, msg *models.Message)
	// SendToUser 只送給房間內指定用戶的連線
	SendToUser(roomID uint, userID uint, msg *models.Message)
}
