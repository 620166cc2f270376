package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"coderoom/internal/models"
	"coderoom/internal/storage"
)

type RoomMemberRepository interface {
	Upsert(member *models.RoomMember) error
	FindActiveByRoomID(roomID uint) ([]models.RoomMember, error)
	Deactivate(roomID, userID uint) error
	TouchLastSeen(roomID, userID uint) error
}

type roomMemberRepository struct {
	db *storage.PostgresDB
}

func NewRoomMemberRepository(db *storage.PostgresDB) RoomMemberRepository {
	return &roomMemberRepository{db: db}
}

// Upsert 新增成員紀錄；已存在時重新啟用並更新最後上線時間
func (r *roomMemberRepository) Upsert(member *models.RoomMember) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"is_active":    true,
			"role":         member.Role,
			"last_seen_at": member.LastSeenAt,
		}),
	}).Create(member).Error
}

func (r *roomMemberRepository) FindActiveByRoomID(roomID uint) ([]models.RoomMember, error) {
	var members []models.RoomMember
	err := r.db.Where("room_id = ? AND is_active = ?", roomID, true).
		Order("joined_at ASC").Find(&members).Error
	return members, err
}

func (r *roomMemberRepository) Deactivate(roomID, userID uint) error {
	err := r.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{
			"is_active":    false,
			"last_seen_at": time.Now(),
		}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *roomMemberRepository) TouchLastSeen(roomID, userID uint) error {
	return r.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_seen_at", time.Now()).Error
}
