package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomState(t *testing.T) {
	s := NewRoomState(3, "python")

	assert.Equal(t, uint64(0), s.Version)
	assert.Equal(t, "python", s.Language)
	assert.Equal(t, DefaultDocument("python"), s.Documents[DefaultFile])
	assert.NotNil(t, s.Participants)
	assert.NotNil(t, s.Cursors)
}

func TestRoomState_CloneIsIndependent(t *testing.T) {
	s := NewRoomState(3, "go")
	s.Participants[1] = &Participant{UserID: 1, Username: "alice"}
	s.Cursors[1] = &CursorPosition{UserID: 1, Line: 5}
	s.ExecutionHistory = append(s.ExecutionHistory, &ExecutionRecord{RequestID: "r1", Status: ExecutionCompleted})

	c := s.Clone()

	// 改拷貝不影響原狀態
	c.Documents[DefaultFile] = "mutated"
	c.Participants[1].Username = "bob"
	c.Cursors[1].Line = 99
	c.ExecutionHistory[0].Status = ExecutionFailed

	assert.Equal(t, DefaultDocument("go"), s.Documents[DefaultFile])
	assert.Equal(t, "alice", s.Participants[1].Username)
	assert.Equal(t, 5, s.Cursors[1].Line)
	assert.Equal(t, ExecutionCompleted, s.ExecutionHistory[0].Status)
}

func TestSupportedLanguage(t *testing.T) {
	assert.True(t, SupportedLanguage("javascript"))
	assert.True(t, SupportedLanguage("go"))
	assert.False(t, SupportedLanguage(""))
	assert.False(t, SupportedLanguage("COBOL"))
}

func TestRoomSnapshot_RoundTrip(t *testing.T) {
	s := NewRoomState(3, "cpp")
	s.Documents[DefaultFile] = "int main() { return 7; }"
	s.Documents["util"] = "// helpers"
	s.Version = 21

	snap := NewRoomSnapshot(s)
	require.Equal(t, uint(3), snap.RoomID)
	assert.Equal(t, uint64(21), snap.Version)

	docs := snap.DecodeDocuments()
	assert.Equal(t, "int main() { return 7; }", docs[DefaultFile])
	assert.Equal(t, "// helpers", docs["util"])
}

func TestRoomSnapshot_DecodeCorruptFallsBackToDefault(t *testing.T) {
	snap := &RoomSnapshot{RoomID: 3, Language: "python", Documents: "{not json"}

	docs := snap.DecodeDocuments()
	assert.Equal(t, DefaultDocument("python"), docs[DefaultFile])
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	assert.False(t, ExecutionQueued.IsTerminal())
	assert.False(t, ExecutionActive.IsTerminal())
	assert.True(t, ExecutionCompleted.IsTerminal())
	assert.True(t, ExecutionFailed.IsTerminal())
	assert.True(t, ExecutionCancelled.IsTerminal())
}
