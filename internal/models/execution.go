package models

import (
	"time"
)

// ExecutionStatus 定義執行請求生命週期狀態的類型
type ExecutionStatus string

const (
	ExecutionQueued    ExecutionStatus = "queued"    // 排隊中
	ExecutionActive    ExecutionStatus = "active"    // 執行中
	ExecutionCompleted ExecutionStatus = "completed" // 已完成
	ExecutionFailed    ExecutionStatus = "failed"    // 失敗（含逾時）
	ExecutionCancelled ExecutionStatus = "cancelled" // 已取消
)

// IsTerminal 回傳狀態是否為終態
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// ExecutionRequest 表示一次程式執行請求
type ExecutionRequest struct {
	ID         string          `json:"id"` // 入隊時產生的 uuid
	RoomID     uint            `json:"room_id"`
	UserID     uint            `json:"user_id"`
	Language   string          `json:"language"`
	Code       string          `json:"code"`
	Input      string          `json:"input"`
	Status     ExecutionStatus `json:"status"`
	QueuedAt   time.Time       `json:"queued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// ExecutionRecord 是附加到房間歷史的執行結果
type ExecutionRecord struct {
	RequestID  string          `json:"request_id"`
	UserID     uint            `json:"user_id"`
	Language   string          `json:"language"`
	Status     ExecutionStatus `json:"status"`
	Stdout     string          `json:"stdout"`
	Stderr     string          `json:"stderr"`
	ExitCode   int             `json:"exit_code"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}
