package models

import (
	"encoding/json"

	"gorm.io/gorm"
)

// RoomSnapshot 是房間文件內容的定期持久化快照
// 內容允許最終一致（落後最近數十秒的編輯），房間與成員紀錄才要求強一致
type RoomSnapshot struct {
	gorm.Model
	RoomID    uint   `gorm:"uniqueIndex;not null" json:"room_id"`
	Language  string `gorm:"size:32" json:"language"`
	Version   uint64 `json:"version"`
	Documents string `gorm:"type:jsonb" json:"documents"` // 檔名 -> 內容的 JSON
}

// NewRoomSnapshot 從即時狀態建立快照紀錄
func NewRoomSnapshot(state *RoomState) *RoomSnapshot {
	data, err := json.Marshal(state.Documents)
	if err != nil {
		data = []byte("{}")
	}
	return &RoomSnapshot{
		RoomID:    state.RoomID,
		Language:  state.Language,
		Version:   state.Version,
		Documents: string(data),
	}
}

// DecodeDocuments 還原快照中的文件內容；解碼失敗回傳空文件集
func (s *RoomSnapshot) DecodeDocuments() map[string]string {
	docs := make(map[string]string)
	if err := json.Unmarshal([]byte(s.Documents), &docs); err != nil || len(docs) == 0 {
		return map[string]string{DefaultFile: DefaultDocument(s.Language)}
	}
	return docs
}
