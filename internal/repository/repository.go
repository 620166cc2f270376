package repository

import "coderoom/internal/storage"

type Repositories struct {
	User     UserRepository
	Room     RoomRepository
	Member   RoomMemberRepository
	Snapshot SnapshotRepository
}

func NewRepositories(db *storage.PostgresDB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Room:     NewRoomRepository(db),
		Member:   NewRoomMemberRepository(db),
		Snapshot: NewSnapshotRepository(db),
	}
}
