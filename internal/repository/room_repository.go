package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"coderoom/internal/models"
	"coderoom/internal/storage"
)

// ErrNotFound 表示查無資料，呼叫端據此與基礎設施錯誤區分
var ErrNotFound = errors.New("record not found")

type RoomRepository interface {
	Create(room *models.Room) error
	FindByID(id uint) (*models.Room, error)
	FindByCode(code string) (*models.Room, error)
	Update(room *models.Room) error
	Deactivate(id uint) error
	FindActive() ([]models.Room, error)
	CodeExists(code string) (bool, error)
}

type roomRepository struct {
	db *storage.PostgresDB
}

func NewRoomRepository(db *storage.PostgresDB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(room *models.Room) error {
	return r.db.Create(room).Error
}

func (r *roomRepository) FindByID(id uint) (*models.Room, error) {
	var room models.Room
	err := r.db.First(&room, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// FindByCode 以房間代碼查詢，代碼不分大小寫（儲存時一律大寫）
func (r *roomRepository) FindByCode(code string) (*models.Room, error) {
	var room models.Room
	err := r.db.Where("code = ? AND is_active = ?", strings.ToUpper(code), true).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *roomRepository) Update(room *models.Room) error {
	return r.db.Save(room).Error
}

// Deactivate 將房間標記為停用，本系統不做物理刪除
func (r *roomRepository) Deactivate(id uint) error {
	return r.db.Model(&models.Room{}).Where("id = ?", id).Update("is_active", false).Error
}

// FindActive 查詢所有啟用中的房間
func (r *roomRepository) FindActive() ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.Where("is_active = ?", true).Order("created_at DESC").Find(&rooms).Error
	return rooms, err
}

// CodeExists 檢查代碼是否已被啟用中的房間佔用
func (r *roomRepository) CodeExists(code string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Room{}).
		Where("code = ? AND is_active = ?", strings.ToUpper(code), true).
		Count(&count).Error
	return count > 0, err
}
