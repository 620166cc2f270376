package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coderoom/internal/models"
	"coderoom/internal/runner"
)

func newTestQueue(t *testing.T, maxActive int) (*ExecutionQueue, *fakeRunner, *fakeBroadcaster, *RoomStateManager) {
	t.Helper()
	m, _, _, _ := newTestManager(nil)
	t.Cleanup(m.Close)

	_, err := m.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)

	r := newFakeRunner()
	b := newFakeBroadcaster()
	q := NewExecutionQueue(r, m, b, maxActive)
	return q, r, b, m
}

func decodeQueued(t *testing.T, msg *models.Message) *models.ExecutionQueuedPayload {
	t.Helper()
	var p models.ExecutionQueuedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return &p
}

func TestExecutionQueue_AdmissionScenario(t *testing.T) {
	// 場景：上限 2，依序提交 E1、E2、E3
	q, r, b, _ := newTestQueue(t, 2)

	e1, err := q.Enqueue(1, 10, "javascript", "code1", "")
	require.NoError(t, err)
	e2, err := q.Enqueue(1, 11, "javascript", "code2", "")
	require.NoError(t, err)
	e3, err := q.Enqueue(1, 12, "javascript", "code3", "")
	require.NoError(t, err)

	// E1、E2 立即執行，E3 排在位置 1
	assert.Equal(t, models.ExecutionActive, e1.Status)
	assert.Equal(t, models.ExecutionActive, e2.Status)
	assert.Equal(t, models.ExecutionQueued, e3.Status)
	assert.Equal(t, 2, q.ActiveCount(1))
	assert.Equal(t, 1, q.QueueLength(1))

	queuedMsgs := b.byType(models.MsgExecutionQueued)
	require.Len(t, queuedMsgs, 1)
	payload := decodeQueued(t, queuedMsgs[0])
	assert.Equal(t, e3.ID, payload.RequestID)
	assert.Equal(t, 1, payload.Position)

	// E1 完成後 E3 取得槽位
	r.finish(e1.ID)
	require.Eventually(t, func() bool {
		for _, id := range r.startedIDs() {
			if id == e3.ID {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "E1 完成後應提升 E3")

	assert.Equal(t, 0, q.QueueLength(1))

	// 任何時刻執行中的數量都不超過上限
	assert.LessOrEqual(t, q.ActiveCount(1), 2)

	r.finish(e2.ID)
	r.finish(e3.ID)
	b.waitFor(models.MsgExecutionCompleted, 3, time.Second)
}

func TestExecutionQueue_StrictFIFOPromotion(t *testing.T) {
	q, r, _, _ := newTestQueue(t, 1)

	e1, _ := q.Enqueue(1, 1, "javascript", "c", "")
	e2, _ := q.Enqueue(1, 2, "javascript", "c", "")
	e3, _ := q.Enqueue(1, 3, "javascript", "c", "")
	e4, _ := q.Enqueue(1, 4, "javascript", "c", "")

	// 依序放行，開始順序必須等於入隊順序
	for _, e := range []*models.ExecutionRequest{e1, e2, e3, e4} {
		id := e.ID
		require.Eventually(t, func() bool {
			ids := r.startedIDs()
			return len(ids) > 0 && ids[len(ids)-1] == id
		}, time.Second, 5*time.Millisecond)
		r.finish(id)
	}

	assert.Equal(t, []string{e1.ID, e2.ID, e3.ID, e4.ID}, r.startedIDs())
}

func TestExecutionQueue_CancelQueuedShiftsPositions(t *testing.T) {
	q, _, b, _ := newTestQueue(t, 1)

	_, _ = q.Enqueue(1, 1, "javascript", "c", "") // active
	e2, _ := q.Enqueue(1, 2, "javascript", "c", "")
	e3, _ := q.Enqueue(1, 3, "javascript", "c", "")
	e4, _ := q.Enqueue(1, 4, "javascript", "c", "")

	require.NoError(t, q.Cancel(1, e2.ID, 2))
	assert.Equal(t, models.ExecutionCancelled, e2.Status)
	assert.Equal(t, 2, q.QueueLength(1))

	// 取消後其餘排隊請求的位置各前移一位並重新廣播
	queuedMsgs := b.byType(models.MsgExecutionQueued)
	require.GreaterOrEqual(t, len(queuedMsgs), 5) // 入隊 3 則 + 重播 2 則
	last2 := queuedMsgs[len(queuedMsgs)-2:]
	p3 := decodeQueued(t, last2[0])
	p4 := decodeQueued(t, last2[1])
	assert.Equal(t, e3.ID, p3.RequestID)
	assert.Equal(t, 1, p3.Position)
	assert.Equal(t, e4.ID, p4.RequestID)
	assert.Equal(t, 2, p4.Position)
}

func TestExecutionQueue_CancelOwnerOnly(t *testing.T) {
	q, _, _, _ := newTestQueue(t, 1)

	_, _ = q.Enqueue(1, 1, "javascript", "c", "")
	e2, _ := q.Enqueue(1, 2, "javascript", "c", "")

	// 不是提交者不能取消
	assert.ErrorIs(t, q.Cancel(1, e2.ID, 99), ErrNotRequestOwner)
	assert.ErrorIs(t, q.Cancel(1, "no-such-id", 2), ErrRequestNotFound)
}

func TestExecutionQueue_CancelActive(t *testing.T) {
	q, _, b, _ := newTestQueue(t, 1)

	e1, _ := q.Enqueue(1, 1, "javascript", "c", "")
	require.NoError(t, q.Cancel(1, e1.ID, 1))

	// 取消信號送達沙箱後請求進入 cancelled 終態並釋放槽位
	require.Eventually(t, func() bool {
		return q.ActiveCount(1) == 0
	}, time.Second, 5*time.Millisecond)
	b.waitFor(models.MsgExecutionCancelled, 1, time.Second)
	assert.Equal(t, models.ExecutionCancelled, e1.Status)
}

func TestExecutionQueue_TimeoutIsFailure(t *testing.T) {
	q, r, b, m := newTestQueue(t, 1)
	r.mu.Lock()
	r.failAll = fmt.Errorf("sandbox did not reply: %w", runner.ErrTimeout)
	r.autoDone = true
	r.mu.Unlock()

	e1, err := q.Enqueue(1, 1, "javascript", "c", "")
	require.NoError(t, err)

	// 逾時與一般失敗同樣處理：廣播 execution_failed，不自動重試
	got := b.waitFor(models.MsgExecutionFailed, 1, time.Second)
	require.Equal(t, 1, got)
	assert.Equal(t, models.ExecutionFailed, e1.Status)

	state, err := m.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, state.ExecutionHistory, 1)
	assert.Equal(t, models.ExecutionFailed, state.ExecutionHistory[0].Status)
	assert.Contains(t, state.ExecutionHistory[0].Error, "timed out")
}

func TestExecutionQueue_ResultAppendedToHistory(t *testing.T) {
	q, r, b, m := newTestQueue(t, 2)
	r.mu.Lock()
	r.autoDone = true
	r.mu.Unlock()

	_, err := q.Enqueue(1, 1, "javascript", "c", "")
	require.NoError(t, err)

	require.Equal(t, 1, b.waitFor(models.MsgExecutionCompleted, 1, time.Second))

	state, err := m.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, state.ExecutionHistory, 1)
	assert.Equal(t, "ok", state.ExecutionHistory[0].Stdout)
	assert.Equal(t, models.ExecutionCompleted, state.ExecutionHistory[0].Status)
}

func TestExecutionQueue_StartedPrecedesTerminalEvent(t *testing.T) {
	q, r, b, _ := newTestQueue(t, 1)
	r.mu.Lock()
	r.autoDone = true
	r.mu.Unlock()

	_, err := q.Enqueue(1, 1, "javascript", "c", "")
	require.NoError(t, err)
	_, err = q.Enqueue(1, 2, "javascript", "c", "")
	require.NoError(t, err)

	require.Equal(t, 2, b.waitFor(models.MsgExecutionCompleted, 2, time.Second))

	// 即使沙箱瞬間完成，每個請求的 started 都必須先於其終態事件送出
	b.mu.Lock()
	defer b.mu.Unlock()
	started := make(map[string]int)
	for i, msg := range b.messages {
		switch msg.Type {
		case models.MsgExecutionStarted:
			var p models.ExecutionStartedPayload
			require.NoError(t, json.Unmarshal(msg.Payload, &p))
			started[p.RequestID] = i
		case models.MsgExecutionCompleted, models.MsgExecutionFailed:
			var rec models.ExecutionRecord
			require.NoError(t, json.Unmarshal(msg.Payload, &rec))
			startIdx, ok := started[rec.RequestID]
			require.True(t, ok, "終態事件 %s 之前沒有 started", rec.RequestID)
			assert.Less(t, startIdx, i)
		}
	}
}

func TestExecutionQueue_UnsupportedLanguageRejected(t *testing.T) {
	q, _, _, _ := newTestQueue(t, 1)

	_, err := q.Enqueue(1, 1, "brainfuck", "c", "")
	assert.ErrorIs(t, err, ErrUnsupportedLang)
}
