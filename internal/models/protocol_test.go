package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_DecodeEdit(t *testing.T) {
	msg := MustMessage(MsgEdit, 1, EditPayload{Content: "x = 1", ExpectedVersion: 3})

	p, err := msg.DecodeEdit()
	require.NoError(t, err)
	assert.Equal(t, DefaultFile, p.File, "省略檔名時落到預設文件")
	assert.Equal(t, uint64(3), p.ExpectedVersion)
}

func TestMessage_DecodeEditMalformed(t *testing.T) {
	msg := &Message{Type: MsgEdit, RoomID: 1, Payload: json.RawMessage(`{"content": 5`)}

	_, err := msg.DecodeEdit()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMessage_DecodeCursorRejectsNegative(t *testing.T) {
	msg := MustMessage(MsgCursorMove, 1, CursorPayload{Line: -1, Column: 0})

	_, err := msg.DecodeCursor()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMessage_DecodeLanguage(t *testing.T) {
	msg := MustMessage(MsgLanguageChange, 1, LanguagePayload{Language: "python"})
	p, err := msg.DecodeLanguage()
	require.NoError(t, err)
	assert.Equal(t, "python", p.Language)

	msg = MustMessage(MsgLanguageChange, 1, LanguagePayload{Language: "brainfuck"})
	_, err = msg.DecodeLanguage()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMessage_DecodeExecute(t *testing.T) {
	msg := MustMessage(MsgExecuteCode, 1, ExecutePayload{Language: "go", Code: "package main"})
	p, err := msg.DecodeExecute()
	require.NoError(t, err)
	assert.Equal(t, "go", p.Language)

	// 空程式碼不送進沙箱
	msg = MustMessage(MsgExecuteCode, 1, ExecutePayload{Language: "go"})
	_, err = msg.DecodeExecute()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMessage_DecodeCancelExecutionRequiresID(t *testing.T) {
	msg := MustMessage(MsgCancelExecution, 1, CancelExecutionPayload{})

	_, err := msg.DecodeCancelExecution()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestMessage_EnvelopeRoundTrip(t *testing.T) {
	msg := MustMessage(MsgVersionMismatch, 9, VersionMismatchPayload{
		CurrentVersion:  12,
		CurrentDocument: map[string]string{DefaultFile: "y = 2"},
	})

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, MsgVersionMismatch, decoded.Type)
	assert.Equal(t, uint(9), decoded.RoomID)

	var p VersionMismatchPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &p))
	assert.Equal(t, uint64(12), p.CurrentVersion)
}
