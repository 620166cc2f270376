package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coderoom/internal/models"
	"coderoom/internal/service"
	"coderoom/internal/utils"
)

// RoomHandler 處理與協作房間相關的請求
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 創建一個新的 RoomHandler 實例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

// CreateRoom 處理創建新房間的請求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var input struct {
		Name     string          `json:"name" binding:"required"`
		Language string          `json:"language" binding:"required"`
		Mode     models.RoomMode `json:"mode"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")

	room, err := h.roomService.CreateRoom(input.Name, input.Language, input.Mode, userID.(uint))
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedLang) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "創建房間失敗"})
		return
	}

	c.JSON(http.StatusCreated, room)
}

// GetRoom 處理獲取房間訊息的請求
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的房間ID"})
		return
	}

	room, err := h.roomService.GetRoom(uint(roomID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "房間不存在"})
		return
	}

	c.JSON(http.StatusOK, room)
}

// ResolveCode 以房間代碼查詢房間（不分大小寫）
func (h *RoomHandler) ResolveCode(c *gin.Context) {
	code := utils.NormalizeRoomCode(c.Param("code"))
	if len(code) != utils.RoomCodeLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "無效的房間代碼"})
		return
	}

	room, err := h.roomService.ResolveCode(code)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "房間不存在"})
		return
	}

	c.JSON(http.StatusOK, room)
}

// ListRooms 處理獲取房間列表的請求
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListRooms()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "無法搜尋房間列表"})
		return
	}

	c.JSON(http.StatusOK, rooms)
}

// JoinRoom 處理加入房間的請求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的房間ID"})
		return
	}

	userID, _ := c.Get("userID")

	if err := h.roomService.JoinRoom(uint(roomID), userID.(uint)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "成功加入房間"})
}

// LeaveRoom 處理離開房間的請求
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的房間ID"})
		return
	}

	userID, _ := c.Get("userID")

	if err := h.roomService.LeaveRoom(uint(roomID), userID.(uint)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "成功離開房間"})
}

// DeactivateRoom 處理停用房間的請求，只有建立者可以操作
func (h *RoomHandler) DeactivateRoom(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的房間ID"})
		return
	}

	userID, _ := c.Get("userID")

	if err := h.roomService.DeactivateRoom(uint(roomID), userID.(uint)); err != nil {
		if errors.Is(err, service.ErrUnauthorized) {
			c.JSON(http.StatusForbidden, gin.H{"error": "只有建立者可以關閉房間"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "房間已關閉"})
}

// GetMembers 回傳房間的持久化成員紀錄
func (h *RoomHandler) GetMembers(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的房間ID"})
		return
	}

	members, err := h.roomService.Members(uint(roomID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "無法搜尋成員列表"})
		return
	}

	c.JSON(http.StatusOK, members)
}
