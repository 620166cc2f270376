package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"coderoom/internal/models"
)

// PresenceTracker 維護房間的即時參與者集合與活動旗標
//
// 參與者資料存放在 RoomStateManager 的房間狀態中，這裡負責
// 加入/離開的流程與對應的廣播。斷線（無論是否有 graceful leave
// 訊息）一律走同一條 Leave 路徑，不留幽靈參與者
type PresenceTracker struct {
	states      *RoomStateManager
	broadcaster Broadcaster
}

func NewPresenceTracker(states *RoomStateManager, broadcaster Broadcaster) *PresenceTracker {
	return &PresenceTracker{
		states:      states,
		broadcaster: broadcaster,
	}
}

// Join 將用戶標記為在線參與者並廣播 user_joined 與最新參與者列表
func (t *PresenceTracker) Join(roomID uint, user *models.User, connID string) *models.Participant {
	p := &models.Participant{
		UserID:     user.ID,
		Username:   user.Username,
		Avatar:     user.Avatar,
		ConnID:     connID,
		Online:     true,
		LastActive: time.Now(),
	}
	t.states.SetParticipant(roomID, p)

	t.broadcaster.BroadcastToOthers(roomID, user.ID, models.MustMessage(models.MsgUserJoined, roomID, p))
	t.broadcastUserList(roomID)

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": user.ID,
		"conn_id": connID,
	}).Info("User joined room")
	return p
}

// Leave 移除參與者並清掉其游標與選取範圍
//
// user_left 與 users_in_room 是兩個獨立事件：前者讓客戶端能顯示
// 離開提示，後者用於刷新參與者列表
func (t *PresenceTracker) Leave(roomID, userID uint) {
	var left *models.Participant
	for _, p := range t.states.Participants(roomID) {
		if p.UserID == userID {
			left = p
			break
		}
	}
	if left == nil {
		return // 已經離開過，不重複廣播
	}

	t.states.RemoveParticipant(roomID, userID)

	t.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgUserLeft, roomID, left))
	t.broadcastUserList(roomID)
	t.broadcastEphemeral(roomID)

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"user_id": userID,
	}).Info("User left room")
}

// SetTyping 更新輸入中旗標並刷新參與者列表
func (t *PresenceTracker) SetTyping(roomID, userID uint, typing bool) {
	if t.states.UpdateParticipant(roomID, userID, func(p *models.Participant) {
		p.IsTyping = typing
	}) {
		t.broadcastUserList(roomID)
	}
}

// SetEditing 更新編輯中旗標並刷新參與者列表
func (t *PresenceTracker) SetEditing(roomID, userID uint, editing bool) {
	if t.states.UpdateParticipant(roomID, userID, func(p *models.Participant) {
		p.IsEditing = editing
	}) {
		t.broadcastUserList(roomID)
	}
}

// List 回傳房間目前的參與者
func (t *PresenceTracker) List(roomID uint) []*models.Participant {
	return t.states.Participants(roomID)
}

func (t *PresenceTracker) broadcastUserList(roomID uint) {
	list := t.states.Participants(roomID)
	t.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgUsersInRoom, roomID, list))
}

// broadcastEphemeral 在成員離開後重播游標與選取範圍，讓客戶端移除殘留標記
func (t *PresenceTracker) broadcastEphemeral(roomID uint) {
	t.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgCursorsSync, roomID, t.states.Cursors(roomID)))
	t.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgSelectionsSync, roomID, t.states.Selections(roomID)))
}
