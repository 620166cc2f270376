package service

import (
	"coderoom/internal/cache"
	"coderoom/internal/repository"
	"coderoom/internal/runner"
)

type Services struct {
	UserService      *UserService
	RoomService      *RoomService
	RoomStates       *RoomStateManager
	Presence         *PresenceTracker
	Executions       *ExecutionQueue
	WebSocketManager *WebSocketManager
}

// Options 集中傳入服務層需要的外部依賴與節奏設定
type Options struct {
	RoomCache    cache.RoomCache // 可為 nil，快取層是純加速
	Runner       runner.CodeRunner
	StateConfig  RoomStateManagerConfig
	MaxExecution int
}

func NewServices(repos *repository.Repositories, opts Options) *Services {
	states := NewRoomStateManager(repos.Room, repos.Member, repos.User, repos.Snapshot, opts.RoomCache, opts.StateConfig)

	wsManager := NewWebSocketManager(states, repos.Member)
	presence := NewPresenceTracker(states, wsManager)
	executions := NewExecutionQueue(opts.Runner, states, wsManager, opts.MaxExecution)
	wsManager.Attach(presence, executions)

	return &Services{
		UserService:      NewUserService(repos.User),
		RoomService:      NewRoomService(repos.Room, repos.Member),
		RoomStates:       states,
		Presence:         presence,
		Executions:       executions,
		WebSocketManager: wsManager,
	}
}

// Close 釋放服務層的背景資源
func (s *Services) Close() {
	s.RoomStates.Close()
}
