package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coderoom/internal/models"
	"coderoom/internal/storage"
)

type SnapshotRepository interface {
	Save(snapshot *models.RoomSnapshot) error
	FindByRoomID(roomID uint) (*models.RoomSnapshot, error)
}

type snapshotRepository struct {
	db *storage.PostgresDB
}

func NewSnapshotRepository(db *storage.PostgresDB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

// Save 以 room_id 為鍵覆寫快照，每個房間只保留最新一份
// upsert 走的是 DoUpdates 而非 gorm 的 hook，updated_at 要自己帶上，
// 否則既有列的更新時間會停在第一次建立的時刻
func (r *snapshotRepository) Save(snapshot *models.RoomSnapshot) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"language":   snapshot.Language,
			"version":    snapshot.Version,
			"documents":  snapshot.Documents,
			"updated_at": time.Now(),
		}),
	}).Create(snapshot).Error
}

func (r *snapshotRepository) FindByRoomID(roomID uint) (*models.RoomSnapshot, error) {
	var snapshot models.RoomSnapshot
	err := r.db.Where("room_id = ?", roomID).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
