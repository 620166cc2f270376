package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"coderoom/internal/cache"
	"coderoom/internal/models"
	"coderoom/internal/repository"
	"coderoom/internal/runner"
)

// 測試用的假實作
// 服務核心只依賴介面，這裡以記憶體實作取代資料庫、Redis、沙箱與網路層

type fakeRoomRepo struct {
	mu    sync.Mutex
	rooms map[uint]*models.Room
	fail  bool // 為真時模擬持久層不可用
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{rooms: make(map[uint]*models.Room)}
}

func (r *fakeRoomRepo) put(room *models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

func (r *fakeRoomRepo) Create(room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("db down")
	}
	room.ID = uint(len(r.rooms) + 1)
	r.rooms[room.ID] = room
	return nil
}

func (r *fakeRoomRepo) FindByID(id uint) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("db down")
	}
	room, ok := r.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return room, nil
}

func (r *fakeRoomRepo) FindByCode(code string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if room.Code == code && room.IsActive {
			return room, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRoomRepo) Update(room *models.Room) error {
	r.put(room)
	return nil
}

func (r *fakeRoomRepo) Deactivate(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		room.IsActive = false
	}
	return nil
}

func (r *fakeRoomRepo) FindActive() ([]models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Room
	for _, room := range r.rooms {
		if room.IsActive {
			out = append(out, *room)
		}
	}
	return out, nil
}

func (r *fakeRoomRepo) CodeExists(code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		if room.Code == code && room.IsActive {
			return true, nil
		}
	}
	return false, nil
}

type fakeMemberRepo struct {
	mu      sync.Mutex
	members []*models.RoomMember
}

func newFakeMemberRepo() *fakeMemberRepo {
	return &fakeMemberRepo{}
}

func (r *fakeMemberRepo) Upsert(member *models.RoomMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.RoomID == member.RoomID && m.UserID == member.UserID {
			m.IsActive = true
			m.Role = member.Role
			m.LastSeenAt = member.LastSeenAt
			return nil
		}
	}
	r.members = append(r.members, member)
	return nil
}

func (r *fakeMemberRepo) FindActiveByRoomID(roomID uint) ([]models.RoomMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RoomMember
	for _, m := range r.members {
		if m.RoomID == roomID && m.IsActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMemberRepo) Deactivate(roomID, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.RoomID == roomID && m.UserID == userID {
			m.IsActive = false
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeMemberRepo) TouchLastSeen(roomID, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.members {
		if m.RoomID == roomID && m.UserID == userID {
			m.LastSeenAt = time.Now()
		}
	}
	return nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uint]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uint]*models.User)}
}

func (r *fakeUserRepo) put(user *models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *fakeUserRepo) Create(user *models.User) error {
	r.put(user)
	return nil
}

func (r *fakeUserRepo) FindByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) FindByUsername(username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeSnapshotRepo struct {
	mu        sync.Mutex
	snapshots map[uint]*models.RoomSnapshot
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{snapshots: make(map[uint]*models.RoomSnapshot)}
}

func (r *fakeSnapshotRepo) Save(snapshot *models.RoomSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot.UpdatedAt = time.Now() // 與真實 upsert 一致：每次覆寫都刷新更新時間
	r.snapshots[snapshot.RoomID] = snapshot
	return nil
}

func (r *fakeSnapshotRepo) FindByRoomID(roomID uint) (*models.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[roomID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return snap, nil
}

// fakeCache 可切換三種行為：正常、完全不可用、固定回傳某狀態
type fakeCache struct {
	mu     sync.Mutex
	states map[uint]*models.RoomState
	down   bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{states: make(map[uint]*models.RoomState)}
}

func (c *fakeCache) Get(ctx context.Context, roomID uint) (*models.RoomState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errors.New("redis down")
	}
	state, ok := c.states[roomID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return state.Clone(), nil
}

func (c *fakeCache) Set(ctx context.Context, state *models.RoomState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errors.New("redis down")
	}
	c.states[state.RoomID] = state.Clone()
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, roomID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, roomID)
	return nil
}

// fakeBroadcaster 記錄所有送出的訊息供斷言
type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []*models.Message
	targets  []uint // 與 messages 對應：0 表示全房間或排除式廣播
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{}
}

func (b *fakeBroadcaster) BroadcastToRoom(roomID uint, msg *models.Message) {
	b.record(0, msg)
}

func (b *fakeBroadcaster) BroadcastToOthers(roomID uint, excludeUserID uint, msg *models.Message) {
	b.record(0, msg)
}

func (b *fakeBroadcaster) SendToUser(roomID uint, userID uint, msg *models.Message) {
	b.record(userID, msg)
}

func (b *fakeBroadcaster) record(target uint, msg *models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	b.targets = append(b.targets, target)
}

// byType 回傳指定類型的訊息
func (b *fakeBroadcaster) byType(msgType string) []*models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*models.Message
	for _, m := range b.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// waitFor 等待指定類型的訊息達到 n 則，逾時回傳目前數量
func (b *fakeBroadcaster) waitFor(msgType string, n int, timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := len(b.byType(msgType)); got >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(b.byType(msgType))
}

// fakeRunner 可控制每次執行何時結束，用於驗證接入控制的順序
type fakeRunner struct {
	mu       sync.Mutex
	started  []string                 // 依開始順序記錄 request id
	release  map[string]chan struct{} // request id -> 放行通道
	fail     map[string]error         // request id 執行前標記的失敗
	failAll  error                    // 非 nil 時所有執行都以此錯誤失敗
	autoDone bool                     // 為真時立即完成
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		release: make(map[string]chan struct{}),
		fail:    make(map[string]error),
	}
}

func (r *fakeRunner) Run(ctx context.Context, input runner.ExecInput) (*runner.ExecOutput, error) {
	r.mu.Lock()
	r.started = append(r.started, input.RequestID)
	ch, ok := r.release[input.RequestID]
	if !ok {
		ch = make(chan struct{})
		r.release[input.RequestID] = ch
	}
	failErr := r.fail[input.RequestID]
	if failErr == nil {
		failErr = r.failAll
	}
	auto := r.autoDone
	r.mu.Unlock()

	if !auto {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failErr != nil {
		return nil, failErr
	}
	return &runner.ExecOutput{Stdout: "ok", ExitCode: 0, DurationMs: 1}, nil
}

// finish 放行一個執行請求
func (r *fakeRunner) finish(requestID string) {
	r.mu.Lock()
	ch, ok := r.release[requestID]
	if !ok {
		ch = make(chan struct{})
		r.release[requestID] = ch
	}
	r.mu.Unlock()
	close(ch)
}

func (r *fakeRunner) startedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

// newTestManager 建立一個掛滿假依賴的狀態管理器與一個已存在的房間
func newTestManager(roomCache cache.RoomCache) (*RoomStateManager, *fakeRoomRepo, *fakeMemberRepo, *fakeSnapshotRepo) {
	roomRepo := newFakeRoomRepo()
	memberRepo := newFakeMemberRepo()
	userRepo := newFakeUserRepo()
	snapshotRepo := newFakeSnapshotRepo()
	m := NewRoomStateManager(roomRepo, memberRepo, userRepo, snapshotRepo, roomCache, RoomStateManagerConfig{
		SnapshotInterval: time.Hour, // 測試中不觸發背景落盤
		IdleEviction:     time.Hour,
		HistoryLimit:     3,
	})
	room := &models.Room{Code: "ABC234", Name: "test", Language: "javascript", Mode: models.RoomModeCollaborative, IsActive: true}
	room.ID = 1
	roomRepo.put(room)
	return m, roomRepo, memberRepo, snapshotRepo
}
