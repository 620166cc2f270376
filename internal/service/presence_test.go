package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderoom/internal/models"
)

func newTestPresence(t *testing.T) (*PresenceTracker, *fakeBroadcaster, *RoomStateManager) {
	t.Helper()
	m, _, _, _ := newTestManager(nil)
	t.Cleanup(m.Close)

	_, err := m.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)

	b := newFakeBroadcaster()
	return NewPresenceTracker(m, b), b, m
}

func testUser(id uint, name string) *models.User {
	u := &models.User{Username: name, Avatar: "a.png"}
	u.ID = id
	return u
}

func TestPresenceTracker_JoinBroadcasts(t *testing.T) {
	p, b, m := newTestPresence(t)

	p.Join(1, testUser(5, "alice"), "conn-1")

	assert.Len(t, b.byType(models.MsgUserJoined), 1)
	assert.Len(t, b.byType(models.MsgUsersInRoom), 1)

	list := m.Participants(1)
	require.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Username)
	assert.True(t, list[0].Online)
}

func TestPresenceTracker_LeavePurgesEphemeralState(t *testing.T) {
	p, b, m := newTestPresence(t)

	p.Join(1, testUser(5, "alice"), "conn-1")
	m.SetCursor(1, &models.CursorPosition{UserID: 5, Line: 3})
	m.SetSelection(1, &models.SelectionRange{UserID: 5, StartLine: 1, EndLine: 2})

	p.Leave(1, 5)

	// 離開後游標與選取範圍一併清掉
	assert.Empty(t, m.Cursors(1))
	assert.Empty(t, m.Selections(1))
	assert.Empty(t, m.Participants(1))

	// user_left 與 users_in_room 是兩個獨立事件
	assert.Len(t, b.byType(models.MsgUserLeft), 1)
	assert.GreaterOrEqual(t, len(b.byType(models.MsgUsersInRoom)), 2)
}

func TestPresenceTracker_LeaveExactlyOnce(t *testing.T) {
	p, b, _ := newTestPresence(t)

	p.Join(1, testUser(5, "alice"), "conn-1")

	// 斷線偵測與 graceful leave 可能重複觸發，但 user_left 只廣播一次
	p.Leave(1, 5)
	p.Leave(1, 5)
	p.Leave(1, 5)

	assert.Len(t, b.byType(models.MsgUserLeft), 1)
}

func TestPresenceTracker_TypingFlags(t *testing.T) {
	p, _, m := newTestPresence(t)

	p.Join(1, testUser(5, "alice"), "conn-1")
	p.SetTyping(1, 5, true)
	p.SetEditing(1, 5, true)

	list := m.Participants(1)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsTyping)
	assert.True(t, list[0].IsEditing)

	p.SetTyping(1, 5, false)
	list = m.Participants(1)
	assert.False(t, list[0].IsTyping)
}

func TestPresenceTracker_UnknownUserFlagsIgnored(t *testing.T) {
	p, b, _ := newTestPresence(t)

	// 不在房間裡的用戶不觸發任何廣播
	p.SetTyping(1, 42, true)
	assert.Empty(t, b.byType(models.MsgUsersInRoom))
}
