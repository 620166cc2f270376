package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coderoom/internal/models"
	"coderoom/internal/runner"
)

// ExecutionQueue 是每房間的執行接入控制
//
// 每個房間同時最多 maxActive 個請求在執行，其餘依入隊順序排隊；
// 只有隊首會被提升為執行中。執行本身交給外部沙箱，永遠不阻塞
// 房間的編輯路徑
type ExecutionQueue struct {
	runner      runner.CodeRunner
	states      *RoomStateManager
	broadcaster Broadcaster
	maxActive   int

	mu    sync.Mutex
	rooms map[uint]*roomQueue
}

type roomQueue struct {
	active map[string]*activeExecution
	queued []*models.ExecutionRequest
}

type activeExecution struct {
	req    *models.ExecutionRequest
	cancel context.CancelFunc
}

func NewExecutionQueue(codeRunner runner.CodeRunner, states *RoomStateManager, broadcaster Broadcaster, maxActive int) *ExecutionQueue {
	if maxActive <= 0 {
		maxActive = 2
	}
	return &ExecutionQueue{
		runner:      codeRunner,
		states:      states,
		broadcaster: broadcaster,
		maxActive:   maxActive,
		rooms:       make(map[uint]*roomQueue),
	}
}

// Enqueue 提交一次執行請求
// 有空槽時立刻執行並廣播 execution_started，否則排隊並廣播帶位置的 execution_queued
func (q *ExecutionQueue) Enqueue(roomID, userID uint, language, code, input string) (*models.ExecutionRequest, error) {
	if !models.SupportedLanguage(language) {
		return nil, ErrUnsupportedLang
	}

	req := &models.ExecutionRequest{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		UserID:   userID,
		Language: language,
		Code:     code,
		Input:    input,
		Status:   models.ExecutionQueued,
		QueuedAt: time.Now(),
	}

	q.mu.Lock()
	rq := q.rooms[roomID]
	if rq == nil {
		rq = &roomQueue{active: make(map[string]*activeExecution)}
		q.rooms[roomID] = rq
	}

	if len(rq.active) < q.maxActive {
		runCtx := q.activateLocked(rq, req)
		q.mu.Unlock()
		q.broadcastStarted(req)
		go q.run(runCtx, req)
		return req, nil
	}

	rq.queued = append(rq.queued, req)
	position := len(rq.queued)
	q.mu.Unlock()

	q.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgExecutionQueued, roomID, &models.ExecutionQueuedPayload{
		RequestID: req.ID,
		UserID:    req.UserID,
		Position:  position,
	}))
	logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"request_id": req.ID,
		"position":   position,
	}).Info("Execution request queued")
	return req, nil
}

// Cancel 取消一個執行請求，只有提交者本人可以取消
// 排隊中的請求直接移除，後面的位置前移並重新廣播；
// 執行中的請求對沙箱發出取消信號，待其結束後標記為 cancelled
func (q *ExecutionQueue) Cancel(roomID uint, requestID string, userID uint) error {
	q.mu.Lock()
	rq := q.rooms[roomID]
	if rq == nil {
		q.mu.Unlock()
		return ErrRequestNotFound
	}

	// 執行中的請求
	if ae, ok := rq.active[requestID]; ok {
		if ae.req.UserID != userID {
			q.mu.Unlock()
			return ErrNotRequestOwner
		}
		cancel := ae.cancel
		q.mu.Unlock()
		cancel()
		return nil
	}

	// 排隊中的請求
	for i, queued := range rq.queued {
		if queued.ID != requestID {
			continue
		}
		if queued.UserID != userID {
			q.mu.Unlock()
			return ErrNotRequestOwner
		}
		rq.queued = append(rq.queued[:i], rq.queued[i+1:]...)
		queued.Status = models.ExecutionCancelled
		now := time.Now()
		queued.FinishedAt = &now
		q.mu.Unlock()

		q.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgExecutionCancelled, roomID, queued))
		q.broadcastPositions(roomID)
		return nil
	}

	q.mu.Unlock()
	return ErrRequestNotFound
}

// QueueLength 回傳房間目前排隊中的請求數（不含執行中）
func (q *ExecutionQueue) QueueLength(roomID uint) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rq := q.rooms[roomID]; rq != nil {
		return len(rq.queued)
	}
	return 0
}

// ActiveCount 回傳房間目前執行中的請求數
func (q *ExecutionQueue) ActiveCount(roomID uint) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if rq := q.rooms[roomID]; rq != nil {
		return len(rq.active)
	}
	return 0
}

// activateLocked 佔用槽位並把請求標記為執行中，呼叫端須持有 q.mu
//
// 只登記，不啟動執行：execution_started 必須先於任何終態事件送出，
// 所以由呼叫端在釋放鎖後先廣播再啟動執行 goroutine
func (q *ExecutionQueue) activateLocked(rq *roomQueue, req *models.ExecutionRequest) context.Context {
	now := time.Now()
	req.Status = models.ExecutionActive
	req.StartedAt = &now

	ctx, cancel := context.WithCancel(context.Background())
	rq.active[req.ID] = &activeExecution{req: req, cancel: cancel}
	return ctx
}

func (q *ExecutionQueue) broadcastStarted(req *models.ExecutionRequest) {
	q.broadcaster.BroadcastToRoom(req.RoomID, models.MustMessage(models.MsgExecutionStarted, req.RoomID, &models.ExecutionStartedPayload{
		RequestID: req.ID,
		UserID:    req.UserID,
	}))
}

// run 呼叫外部沙箱並回收結果，結束後釋放槽位並提升隊首
func (q *ExecutionQueue) run(ctx context.Context, req *models.ExecutionRequest) {
	out, err := q.runner.Run(ctx, runner.ExecInput{
		RequestID: req.ID,
		Language:  req.Language,
		Code:      req.Code,
		Input:     req.Input,
	})

	now := time.Now()
	req.FinishedAt = &now

	rec := &models.ExecutionRecord{
		RequestID:  req.ID,
		UserID:     req.UserID,
		Language:   req.Language,
		FinishedAt: now,
	}

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		// 使用者主動取消
		req.Status = models.ExecutionCancelled
		rec.Status = models.ExecutionCancelled
	case err != nil:
		// 沙箱逾時與其他失敗同樣處理，不自動重試
		req.Status = models.ExecutionFailed
		rec.Status = models.ExecutionFailed
		rec.Error = err.Error()
		if errors.Is(err, runner.ErrTimeout) {
			logrus.WithFields(logrus.Fields{
				"room_id":    req.RoomID,
				"request_id": req.ID,
			}).Warn("Execution failed on sandbox timeout")
		}
	default:
		req.Status = models.ExecutionCompleted
		rec.Status = models.ExecutionCompleted
		rec.Stdout = out.Stdout
		rec.Stderr = out.Stderr
		rec.ExitCode = out.ExitCode
		rec.DurationMs = out.DurationMs
	}

	q.states.AppendExecution(req.RoomID, rec)

	// 執行結果是房間可見事件，廣播給整個房間而不只提交者
	switch rec.Status {
	case models.ExecutionCompleted:
		q.broadcaster.BroadcastToRoom(req.RoomID, models.MustMessage(models.MsgExecutionCompleted, req.RoomID, rec))
	case models.ExecutionCancelled:
		q.broadcaster.BroadcastToRoom(req.RoomID, models.MustMessage(models.MsgExecutionCancelled, req.RoomID, req))
	default:
		q.broadcaster.BroadcastToRoom(req.RoomID, models.MustMessage(models.MsgExecutionFailed, req.RoomID, rec))
	}

	q.release(req)
}

// release 釋放槽位，若隊列非空則嚴格按入隊順序提升隊首
func (q *ExecutionQueue) release(req *models.ExecutionRequest) {
	q.mu.Lock()
	rq := q.rooms[req.RoomID]
	if rq == nil {
		q.mu.Unlock()
		return
	}
	if ae, ok := rq.active[req.ID]; ok {
		ae.cancel() // 釋放 context 資源
		delete(rq.active, req.ID)
	}

	var promoted *models.ExecutionRequest
	var promotedCtx context.Context
	if len(rq.queued) > 0 && len(rq.active) < q.maxActive {
		promoted = rq.queued[0]
		rq.queued = rq.queued[1:]
		promotedCtx = q.activateLocked(rq, promoted)
	}
	if len(rq.active) == 0 && len(rq.queued) == 0 {
		delete(q.rooms, req.RoomID)
	}
	q.mu.Unlock()

	if promoted != nil {
		q.broadcastStarted(promoted)
		go q.run(promotedCtx, promoted)
		q.broadcastPositions(req.RoomID)
	}
}

// broadcastPositions 重新廣播所有排隊中請求的 1-based 位置
func (q *ExecutionQueue) broadcastPositions(roomID uint) {
	q.mu.Lock()
	rq := q.rooms[roomID]
	var queued []*models.ExecutionRequest
	if rq != nil {
		queued = append(queued, rq.queued...)
	}
	q.mu.Unlock()

	for i, req := range queued {
		q.broadcaster.BroadcastToRoom(roomID, models.MustMessage(models.MsgExecutionQueued, roomID, &models.ExecutionQueuedPayload{
			RequestID: req.ID,
			UserID:    req.UserID,
			Position:  i + 1,
		}))
	}
}
