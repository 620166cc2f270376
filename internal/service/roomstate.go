package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"coderoom/internal/cache"
	"coderoom/internal/models"
	"coderoom/internal/repository"
)

// storageRetryDelay 是持久層讀取失敗後重試一次前的等待時間
const storageRetryDelay = 200 * time.Millisecond

// RoomStateManagerConfig 控制狀態管理器的快取與落盤節奏
type RoomStateManagerConfig struct {
	SnapshotInterval time.Duration
	IdleEviction     time.Duration
	HistoryLimit     int
}

// roomEntry 是行程內註冊表中的一個房間
// state 只能在持有 mu 的情況下讀寫；任何 I/O 都必須在釋放 mu 之後進行
type roomEntry struct {
	mu        sync.Mutex
	state     *models.RoomState
	dirty     bool
	lastTouch time.Time
}

// RoomStateManager 管理房間的即時狀態
//
// 讀取依序走三層：行程內註冊表 -> Redis 快取 -> 持久層重建。
// 註冊表是當前行程持有房間的唯一真實來源；快取只是加速，
// 任何快取錯誤都靜默降級到持久層。所有寫入都必須經過 ApplyEdit
// 等方法，其他元件不得直接操作快取或持久層中的房間內容。
type RoomStateManager struct {
	roomRepo     repository.RoomRepository
	memberRepo   repository.RoomMemberRepository
	userRepo     repository.UserRepository
	snapshotRepo repository.SnapshotRepository
	cache        cache.RoomCache // 可為 nil，表示不使用快取層

	mu    sync.RWMutex
	rooms map[uint]*roomEntry

	cfg    RoomStateManagerConfig
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRoomStateManager(
	roomRepo repository.RoomRepository,
	memberRepo repository.RoomMemberRepository,
	userRepo repository.UserRepository,
	snapshotRepo repository.SnapshotRepository,
	roomCache cache.RoomCache,
	cfg RoomStateManagerConfig,
) *RoomStateManager {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 30 * time.Second
	}
	if cfg.IdleEviction <= 0 {
		cfg.IdleEviction = 30 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}

	m := &RoomStateManager{
		roomRepo:     roomRepo,
		memberRepo:   memberRepo,
		userRepo:     userRepo,
		snapshotRepo: snapshotRepo,
		cache:        roomCache,
		rooms:        make(map[uint]*roomEntry),
		cfg:          cfg,
		stopCh:       make(chan struct{}),
	}

	m.wg.Add(1)
	go m.flushLoop()

	return m
}

// Close 停止背景落盤並將所有髒狀態寫出
func (m *RoomStateManager) Close() {
	close(m.stopCh)
	m.wg.Wait()
	m.flushAll(true)
}

// GetOrLoad 回傳房間目前狀態的深拷貝，必要時依序從快取或持久層載入
//
// 重建是冪等的：若其他呼叫已先一步在註冊表裝好狀態，
// 這裡載入的結果會被丟棄，絕不覆蓋較新的版本
func (m *RoomStateManager) GetOrLoad(ctx context.Context, roomID uint) (*models.RoomState, error) {
	entry, err := m.getOrLoadEntry(ctx, roomID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastTouch = time.Now()
	return entry.state.Clone(), nil
}

func (m *RoomStateManager) getOrLoadEntry(ctx context.Context, roomID uint) (*roomEntry, error) {
	// 第一層：行程內註冊表
	m.mu.RLock()
	entry, ok := m.rooms[roomID]
	m.mu.RUnlock()
	if ok {
		return entry, nil
	}

	// 第二層：Redis 快取，失敗一律降級
	var state *models.RoomState
	if m.cache != nil {
		cached, err := m.cache.Get(ctx, roomID)
		switch {
		case err == nil:
			state = cached
		case errors.Is(err, cache.ErrCacheMiss):
			// 正常情況，落到持久層
		default:
			logrus.WithField("room_id", roomID).WithError(err).Warn("Room cache unavailable, falling through")
		}
	}

	// 第三層：持久層重建
	if state == nil {
		rebuilt, err := m.reconstruct(ctx, roomID)
		if err != nil {
			return nil, err
		}
		state = rebuilt
	}

	// 裝入註冊表；若期間已有其他呼叫裝好狀態，沿用既有的，
	// 不讓較舊的重建結果倒退已連線客戶端觀察到的版本
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rooms[roomID]; ok {
		return existing, nil
	}
	entry = &roomEntry{state: state, lastTouch: time.Now()}
	m.rooms[roomID] = entry
	return entry, nil
}

// reconstruct 從持久層重建房間狀態
// 讀取失敗會以退避重試一次，仍失敗則回報 ErrStorageUnavailable
func (m *RoomStateManager) reconstruct(ctx context.Context, roomID uint) (*models.RoomState, error) {
	room, err := m.findRoomWithRetry(roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsActive {
		return nil, ErrRoomClosed
	}

	state := models.NewRoomState(roomID, room.Language)

	// 有持久化的文件快照就還原內容與版本，否則維持版本 0 的預設模板
	if m.snapshotRepo != nil {
		snap, err := m.snapshotRepo.FindByRoomID(roomID)
		if err == nil {
			state.Documents = snap.DecodeDocuments()
			state.Version = snap.Version
			state.Language = snap.Language
			state.LastModified = snap.UpdatedAt
		} else if !errors.Is(err, repository.ErrNotFound) {
			logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to load room snapshot, using default document")
		}
	}

	// 成員紀錄還原為離線參與者
	members, err := m.memberRepo.FindActiveByRoomID(roomID)
	if err != nil {
		return nil, ErrStorageUnavailable
	}
	for _, member := range members {
		p := &models.Participant{
			UserID:     member.UserID,
			Online:     false,
			LastActive: member.LastSeenAt,
		}
		if user, err := m.userRepo.FindByID(member.UserID); err == nil {
			p.Username = user.Username
			p.Avatar = user.Avatar
		}
		state.Participants[member.UserID] = p
	}

	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"version": state.Version,
		"members": len(members),
	}).Info("Reconstructed room state from durable store")
	return state, nil
}

func (m *RoomStateManager) findRoomWithRetry(roomID uint) (*models.Room, error) {
	room, err := m.roomRepo.FindByID(roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		time.Sleep(storageRetryDelay)
		room, err = m.roomRepo.FindByID(roomID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		if err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Error("Durable store unreachable during room load")
			return nil, ErrStorageUnavailable
		}
	}
	return room, nil
}

// ApplyEdit 以樂觀並發控制套用一次編輯
//
// expectedVersion 與當前版本不符時回傳 ErrVersionConflict 且不做任何修改；
// 成功時版本恰好 +1。鎖內只做記憶體變更，快取回寫在鎖外非同步進行，
// 持久化由定期落盤處理而非每次編輯
func (m *RoomStateManager) ApplyEdit(ctx context.Context, roomID, userID uint, file, content string, expectedVersion uint64) (uint64, error) {
	entry, err := m.getOrLoadEntry(ctx, roomID)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	if entry.state.Version != expectedVersion {
		current := entry.state.Version
		entry.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"room_id":  roomID,
			"user_id":  userID,
			"expected": expectedVersion,
			"current":  current,
		}).Debug("Edit rejected on version conflict")
		return current, ErrVersionConflict
	}

	entry.state.Version++
	entry.state.Documents[file] = content
	entry.state.LastModified = time.Now()
	entry.state.LastModifiedBy = userID
	entry.dirty = true
	entry.lastTouch = time.Now()
	newVersion := entry.state.Version
	snapshot := entry.state.Clone()
	entry.mu.Unlock()

	m.writeCacheAsync(snapshot)
	return newVersion, nil
}

// SetLanguage 切換房間語言，視為一次特殊編輯：
// 文件換成新語言的模板，版本 +1，由呼叫端照一般編輯廣播
func (m *RoomStateManager) SetLanguage(ctx context.Context, roomID, userID uint, language string) (uint64, string, error) {
	if !models.SupportedLanguage(language) {
		return 0, "", ErrUnsupportedLang
	}

	entry, err := m.getOrLoadEntry(ctx, roomID)
	if err != nil {
		return 0, "", err
	}

	doc := models.DefaultDocument(language)

	entry.mu.Lock()
	entry.state.Language = language
	entry.state.Version++
	entry.state.Documents[models.DefaultFile] = doc
	entry.state.LastModified = time.Now()
	entry.state.LastModifiedBy = userID
	entry.dirty = true
	entry.lastTouch = time.Now()
	newVersion := entry.state.Version
	snapshot := entry.state.Clone()
	entry.mu.Unlock()

	m.writeCacheAsync(snapshot)
	return newVersion, doc, nil
}

// SetCursor 更新某用戶的游標，最後寫入者勝，不影響版本
func (m *RoomStateManager) SetCursor(roomID uint, cur *models.CursorPosition) {
	if entry := m.peek(roomID); entry != nil {
		entry.mu.Lock()
		entry.state.Cursors[cur.UserID] = cur
		entry.mu.Unlock()
	}
}

// SetSelection 更新某用戶的選取範圍，最後寫入者勝，不影響版本
func (m *RoomStateManager) SetSelection(roomID uint, sel *models.SelectionRange) {
	if entry := m.peek(roomID); entry != nil {
		entry.mu.Lock()
		entry.state.Selections[sel.UserID] = sel
		entry.mu.Unlock()
	}
}

// Cursors 回傳房間目前所有游標的拷貝
func (m *RoomStateManager) Cursors(roomID uint) []*models.CursorPosition {
	entry := m.peek(roomID)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]*models.CursorPosition, 0, len(entry.state.Cursors))
	for _, c := range entry.state.Cursors {
		cur := *c
		out = append(out, &cur)
	}
	return out
}

// Selections 回傳房間目前所有選取範圍的拷貝
func (m *RoomStateManager) Selections(roomID uint) []*models.SelectionRange {
	entry := m.peek(roomID)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]*models.SelectionRange, 0, len(entry.state.Selections))
	for _, s := range entry.state.Selections {
		sel := *s
		out = append(out, &sel)
	}
	return out
}

// SetParticipant 寫入或更新參與者（由 PresenceTracker 呼叫）
func (m *RoomStateManager) SetParticipant(roomID uint, p *models.Participant) {
	if entry := m.peek(roomID); entry != nil {
		entry.mu.Lock()
		entry.state.Participants[p.UserID] = p
		entry.lastTouch = time.Now()
		entry.mu.Unlock()
	}
}

// RemoveParticipant 移除參與者並清掉其游標與選取範圍
func (m *RoomStateManager) RemoveParticipant(roomID, userID uint) {
	if entry := m.peek(roomID); entry != nil {
		entry.mu.Lock()
		delete(entry.state.Participants, userID)
		delete(entry.state.Cursors, userID)
		delete(entry.state.Selections, userID)
		entry.mu.Unlock()
	}
}

// Participants 回傳房間目前所有參與者的拷貝
func (m *RoomStateManager) Participants(roomID uint) []*models.Participant {
	entry := m.peek(roomID)
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	out := make([]*models.Participant, 0, len(entry.state.Participants))
	for _, p := range entry.state.Participants {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// UpdateParticipant 以回呼修改單一參與者（typing/editing 等旗標）
func (m *RoomStateManager) UpdateParticipant(roomID, userID uint, fn func(*models.Participant)) bool {
	entry := m.peek(roomID)
	if entry == nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	p, ok := entry.state.Participants[userID]
	if !ok {
		return false
	}
	fn(p)
	p.LastActive = time.Now()
	return true
}

// AppendExecution 把執行結果附加到房間歷史（保留最近 HistoryLimit 筆）
func (m *RoomStateManager) AppendExecution(roomID uint, rec *models.ExecutionRecord) {
	entry := m.peek(roomID)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	entry.state.ExecutionHistory = append(entry.state.ExecutionHistory, rec)
	if n := len(entry.state.ExecutionHistory); n > m.cfg.HistoryLimit {
		entry.state.ExecutionHistory = entry.state.ExecutionHistory[n-m.cfg.HistoryLimit:]
	}
	entry.state.LastExecution = rec
	entry.dirty = true
	entry.mu.Unlock()
}

// Loaded 回報房間是否已在行程內註冊表中
func (m *RoomStateManager) Loaded(roomID uint) bool {
	return m.peek(roomID) != nil
}

func (m *RoomStateManager) peek(roomID uint) *roomEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// writeCacheAsync 在鎖外把最新狀態回寫快取，失敗只記錄不影響編輯
func (m *RoomStateManager) writeCacheAsync(state *models.RoomState) {
	if m.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.cache.Set(ctx, state); err != nil {
			logrus.WithField("room_id", state.RoomID).WithError(err).Warn("Room cache write failed")
		}
	}()
}

// flushLoop 定期把髒狀態落盤並逐出閒置房間
func (m *RoomStateManager) flushLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.flushAll(false)
		case <-m.stopCh:
			return
		}
	}
}

// flushAll 對每個髒房間持久化文件快照；final 為真時同時清空註冊表
func (m *RoomStateManager) flushAll(final bool) {
	m.mu.Lock()
	type pending struct {
		roomID uint
		state  *models.RoomState
	}
	var toPersist []pending
	now := time.Now()
	for roomID, entry := range m.rooms {
		entry.mu.Lock()
		if entry.dirty {
			toPersist = append(toPersist, pending{roomID, entry.state.Clone()})
			entry.dirty = false
		}
		idle := now.Sub(entry.lastTouch) > m.cfg.IdleEviction
		empty := len(entry.state.Participants) == 0
		entry.mu.Unlock()

		if final || (idle && empty) {
			delete(m.rooms, roomID)
		}
	}
	m.mu.Unlock()

	// 鎖已全部釋放，再進行 I/O
	for _, p := range toPersist {
		if m.snapshotRepo != nil {
			if err := m.snapshotRepo.Save(models.NewRoomSnapshot(p.state)); err != nil {
				logrus.WithField("room_id", p.roomID).WithError(err).Error("Failed to persist room snapshot")
			}
		}
		if m.cache != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := m.cache.Set(ctx, p.state); err != nil {
				logrus.WithField("room_id", p.roomID).WithError(err).Warn("Room cache write failed during flush")
			}
			cancel()
		}
	}
}
