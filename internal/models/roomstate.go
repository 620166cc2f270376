package models

import (
	"time"
)

// DefaultFile 是房間文件的預設檔名
const DefaultFile = "main"

// RoomState 是房間的即時可變狀態
// 由 RoomStateManager 獨佔持有，連線處理層不得直接修改
type RoomState struct {
	RoomID           uint                      `json:"room_id"`
	Documents        map[string]string         `json:"documents"` // 檔名 -> 內容
	Language         string                    `json:"language"`
	Version          uint64                    `json:"version"` // 單調遞增的版本計數器，每次接受編輯 +1
	LastModified     time.Time                 `json:"last_modified"`
	LastModifiedBy   uint                      `json:"last_modified_by"`
	Participants     map[uint]*Participant     `json:"participants"`
	Cursors          map[uint]*CursorPosition  `json:"cursors"`
	Selections       map[uint]*SelectionRange  `json:"selections"`
	ExecutionHistory []*ExecutionRecord        `json:"execution_history"` // 最近執行結果（有上限）
	LastExecution    *ExecutionRecord          `json:"last_execution,omitempty"`
}

// NewRoomState 以語言預設模板建立版本 0 的房間狀態
func NewRoomState(roomID uint, language string) *RoomState {
	return &RoomState{
		RoomID:       roomID,
		Documents:    map[string]string{DefaultFile: DefaultDocument(language)},
		Language:     language,
		Version:      0,
		LastModified: time.Now(),
		Participants: make(map[uint]*Participant),
		Cursors:      make(map[uint]*CursorPosition),
		Selections:   make(map[uint]*SelectionRange),
	}
}

// Clone 回傳狀態的深拷貝，用於 state_sync 全量同步
func (s *RoomState) Clone() *RoomState {
	c := &RoomState{
		RoomID:         s.RoomID,
		Documents:      make(map[string]string, len(s.Documents)),
		Language:       s.Language,
		Version:        s.Version,
		LastModified:   s.LastModified,
		LastModifiedBy: s.LastModifiedBy,
		Participants:   make(map[uint]*Participant, len(s.Participants)),
		Cursors:        make(map[uint]*CursorPosition, len(s.Cursors)),
		Selections:     make(map[uint]*SelectionRange, len(s.Selections)),
	}
	for k, v := range s.Documents {
		c.Documents[k] = v
	}
	for k, v := range s.Participants {
		p := *v
		c.Participants[k] = &p
	}
	for k, v := range s.Cursors {
		cur := *v
		c.Cursors[k] = &cur
	}
	for k, v := range s.Selections {
		sel := *v
		c.Selections[k] = &sel
	}
	for _, r := range s.ExecutionHistory {
		rec := *r
		c.ExecutionHistory = append(c.ExecutionHistory, &rec)
	}
	if s.LastExecution != nil {
		rec := *s.LastExecution
		c.LastExecution = &rec
	}
	return c
}

// Participant 表示房間內的即時參與者
type Participant struct {
	UserID     uint      `json:"user_id"`
	Username   string    `json:"username"`
	Avatar     string    `json:"avatar"`
	ConnID     string    `json:"conn_id"`
	Online     bool      `json:"online"`
	IsTyping   bool      `json:"is_typing"`
	IsEditing  bool      `json:"is_editing"`
	LastActive time.Time `json:"last_active"`
}

// CursorPosition 表示某個用戶的游標位置（短暫狀態，最後寫入者勝）
type CursorPosition struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// SelectionRange 表示某個用戶的選取範圍（短暫狀態，最後寫入者勝）
type SelectionRange struct {
	UserID      uint   `json:"user_id"`
	Username    string `json:"username"`
	Color       string `json:"color"`
	StartLine   int    `json:"start_line"`
	StartColumn int    `json:"start_column"`
	EndLine     int    `json:"end_line"`
	EndColumn   int    `json:"end_column"`
}

// defaultDocuments 各語言的預設文件模板
var defaultDocuments = map[string]string{
	"javascript": "// 開始協作吧\nconsole.log(\"Hello, room!\");\n",
	"python":     "# 開始協作吧\nprint(\"Hello, room!\")\n",
	"go":         "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"Hello, room!\")\n}\n",
	"cpp":        "#include <iostream>\n\nint main() {\n    std::cout << \"Hello, room!\" << std::endl;\n    return 0;\n}\n",
}

// DefaultDocument 回傳指定語言的預設文件內容
// 未知語言回傳空文件而不是錯誤，避免房間無法載入
func DefaultDocument(language string) string {
	if doc, ok := defaultDocuments[language]; ok {
		return doc
	}
	return ""
}

// SupportedLanguage 檢查語言是否有對應的模板
func SupportedLanguage(language string) bool {
	_, ok := defaultDocuments[language]
	return ok
}
