package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message 是 WebSocket 上的統一訊息信封
// 每種 Type 都有對應的 payload 結構，在邊界解碼並驗證，
// 不使用無型別的欄位包
type Message struct {
	Type    string          `json:"type"`
	RoomID  uint            `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// 客戶端 -> 伺服器 的訊息類型
const (
	MsgJoin            = "join"
	MsgEdit            = "edit"
	MsgCursorMove      = "cursor_move"
	MsgSelectionChange = "selection_change"
	MsgLanguageChange  = "language_change"
	MsgExecuteCode     = "execute_code"
	MsgCancelExecution = "cancel_execution"
	MsgLeave           = "leave"
)

// 伺服器 -> 客戶端 的訊息類型
const (
	MsgStateSync          = "state_sync"
	MsgEditApplied        = "edit"
	MsgVersionMismatch    = "version_mismatch"
	MsgCursorsSync        = "cursors_sync"
	MsgSelectionsSync     = "selections_sync"
	MsgUsersInRoom        = "users_in_room"
	MsgUserJoined         = "user_joined"
	MsgUserLeft           = "user_left"
	MsgExecutionQueued    = "execution_queued"
	MsgExecutionStarted   = "execution_started"
	MsgExecutionCompleted = "execution_completed"
	MsgExecutionFailed    = "execution_failed"
	MsgExecutionCancelled = "execution_cancelled"
	MsgError              = "error"
)

var ErrInvalidPayload = errors.New("無效的訊息內容")

// EditPayload 是編輯訊息的內容，攜帶客戶端認知的當前版本
type EditPayload struct {
	File            string `json:"file"`
	Content         string `json:"content"`
	ExpectedVersion uint64 `json:"expected_version"`
}

// EditBroadcast 是廣播給其他連線的增量編輯
type EditBroadcast struct {
	File       string `json:"file"`
	Content    string `json:"content"`
	NewVersion uint64 `json:"new_version"`
	AuthorID   uint   `json:"author_id"`
}

// VersionMismatchPayload 回傳給提交過期編輯的連線，指示其丟棄本地編輯並重新同步
type VersionMismatchPayload struct {
	CurrentVersion  uint64            `json:"current_version"`
	CurrentDocument map[string]string `json:"current_document"`
}

// CursorPayload 是游標移動訊息的內容
type CursorPayload struct {
	Color  string `json:"color"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// SelectionPayload 是選取範圍變更訊息的內容
type SelectionPayload struct {
	Color       string `json:"color"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
}

// LanguagePayload 是語言切換訊息的內容
type LanguagePayload struct {
	Language string `json:"language"`
}

// ExecutePayload 是執行程式訊息的內容
type ExecutePayload struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Input    string `json:"input"`
}

// CancelExecutionPayload 是取消執行訊息的內容
type CancelExecutionPayload struct {
	RequestID string `json:"request_id"`
}

// ExecutionQueuedPayload 通知請求已排隊及其 1-based 位置
type ExecutionQueuedPayload struct {
	RequestID string `json:"request_id"`
	UserID    uint   `json:"user_id"`
	Position  int    `json:"position"`
}

// ExecutionStartedPayload 通知請求已取得執行槽
type ExecutionStartedPayload struct {
	RequestID string `json:"request_id"`
	UserID    uint   `json:"user_id"`
}

// ErrorPayload 是伺服器回報給單一連線的錯誤
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage 以指定內容建立訊息信封
func NewMessage(msgType string, roomID uint, payload interface{}) (*Message, error) {
	msg := &Message{Type: msgType, RoomID: roomID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload for %s: %w", msgType, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// MustMessage 與 NewMessage 相同，但序列化失敗時 panic
// 僅用於伺服器自行構造、型別已知安全的訊息
func MustMessage(msgType string, roomID uint, payload interface{}) *Message {
	msg, err := NewMessage(msgType, roomID, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// DecodeEdit 解碼並驗證編輯訊息
func (m *Message) DecodeEdit() (*EditPayload, error) {
	var p EditPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if p.File == "" {
		p.File = DefaultFile
	}
	return &p, nil
}

// DecodeCursor 解碼游標訊息
func (m *Message) DecodeCursor() (*CursorPayload, error) {
	var p CursorPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if p.Line < 0 || p.Column < 0 {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// DecodeSelection 解碼選取範圍訊息
func (m *Message) DecodeSelection() (*SelectionPayload, error) {
	var p SelectionPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if p.StartLine < 0 || p.EndLine < 0 || p.StartColumn < 0 || p.EndColumn < 0 {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// DecodeLanguage 解碼並驗證語言切換訊息
func (m *Message) DecodeLanguage() (*LanguagePayload, error) {
	var p LanguagePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if !SupportedLanguage(p.Language) {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// DecodeExecute 解碼並驗證執行程式訊息
func (m *Message) DecodeExecute() (*ExecutePayload, error) {
	var p ExecutePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if p.Code == "" || !SupportedLanguage(p.Language) {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}

// DecodeCancelExecution 解碼取消執行訊息
func (m *Message) DecodeCancelExecution() (*CancelExecutionPayload, error) {
	var p CancelExecutionPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return nil, ErrInvalidPayload
	}
	if p.RequestID == "" {
		return nil, ErrInvalidPayload
	}
	return &p, nil
}
