package service

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"coderoom/internal/models"
	"coderoom/internal/repository"
	"coderoom/internal/utils"
)

// codeGenAttempts 是產生不重複房間代碼的最大嘗試次數
const codeGenAttempts = 10

// RoomService 處理房間的建立、查詢與成員管理
type RoomService struct {
	roomRepo   repository.RoomRepository
	memberRepo repository.RoomMemberRepository
}

func NewRoomService(roomRepo repository.RoomRepository, memberRepo repository.RoomMemberRepository) *RoomService {
	return &RoomService{
		roomRepo:   roomRepo,
		memberRepo: memberRepo,
	}
}

// CreateRoom 建立房間並產生唯一的 6 碼房間代碼，建立者自動成為成員
func (s *RoomService) CreateRoom(name, language string, mode models.RoomMode, createdBy uint) (*models.Room, error) {
	if !models.SupportedLanguage(language) {
		return nil, ErrUnsupportedLang
	}
	if mode != models.RoomModeCollaborative && mode != models.RoomModeBattle {
		mode = models.RoomModeCollaborative
	}

	code, err := s.generateCode()
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		Code:      code,
		Name:      name,
		Language:  language,
		Mode:      mode,
		CreatedBy: createdBy,
		IsActive:  true,
	}
	if err := s.roomRepo.Create(room); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.memberRepo.Upsert(&models.RoomMember{
		RoomID:     room.ID,
		UserID:     createdBy,
		Role:       "owner",
		IsActive:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	}); err != nil {
		logrus.WithField("room_id", room.ID).WithError(err).Error("Failed to add creator membership")
	}

	logrus.WithFields(logrus.Fields{
		"room_id": room.ID,
		"code":    room.Code,
		"mode":    room.Mode,
	}).Info("Room created")
	return room, nil
}

// generateCode 反覆嘗試直到產生未被啟用房間佔用的代碼
func (s *RoomService) generateCode() (string, error) {
	for i := 0; i < codeGenAttempts; i++ {
		code, err := utils.GenerateRoomCode()
		if err != nil {
			return "", err
		}
		exists, err := s.roomRepo.CodeExists(code)
		if err != nil {
			return "", ErrStorageUnavailable
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("無法產生未使用的房間代碼")
}

func (s *RoomService) GetRoom(roomID uint) (*models.Room, error) {
	room, err := s.roomRepo.FindByID(roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// ResolveCode 以房間代碼查詢房間，代碼不分大小寫
func (s *RoomService) ResolveCode(code string) (*models.Room, error) {
	room, err := s.roomRepo.FindByCode(code)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// ListRooms 回傳所有啟用中的房間
func (s *RoomService) ListRooms() ([]models.Room, error) {
	return s.roomRepo.FindActive()
}

// JoinRoom 登記持久化成員紀錄
func (s *RoomService) JoinRoom(roomID, userID uint) error {
	room, err := s.GetRoom(roomID)
	if err != nil {
		return err
	}
	if !room.IsActive {
		return ErrRoomClosed
	}

	now := time.Now()
	return s.memberRepo.Upsert(&models.RoomMember{
		RoomID:     roomID,
		UserID:     userID,
		Role:       "member",
		IsActive:   true,
		JoinedAt:   now,
		LastSeenAt: now,
	})
}

// LeaveRoom 停用成員紀錄（保留歷史，不刪除）
func (s *RoomService) LeaveRoom(roomID, userID uint) error {
	return s.memberRepo.Deactivate(roomID, userID)
}

// DeactivateRoom 停用房間，只有建立者可以操作
func (s *RoomService) DeactivateRoom(roomID, userID uint) error {
	room, err := s.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != userID {
		return ErrUnauthorized
	}
	return s.roomRepo.Deactivate(roomID)
}

// Members 回傳房間的啟用成員紀錄
func (s *RoomService) Members(roomID uint) ([]models.RoomMember, error) {
	return s.memberRepo.FindActiveByRoomID(roomID)
}
