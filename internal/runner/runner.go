// Package runner 封裝外部沙箱執行服務的客戶端。
//
// 沙箱本身（資源限制、程序清理、硬性逾時）不在本系統內實作，
// 這裡只負責把執行請求送出去並在限定時間內等待結果。
package runner

import (
	"context"
	"errors"
)

// ErrTimeout 表示沙箱在限定時間內沒有回覆
var ErrTimeout = errors.New("execution timed out")

// ExecInput 是送往沙箱的執行請求
type ExecInput struct {
	RequestID string `json:"request_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	Input     string `json:"input"`
}

// ExecOutput 是沙箱回傳的執行結果
type ExecOutput struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output,omitempty"`
	ExitCode      int    `json:"exit_code"`
	DurationMs    int64  `json:"duration_ms"`
}

// CodeRunner 是本系統消費的沙箱執行介面
// Run 必須在有界時間內回傳；逾時以 ErrTimeout 包裝回報
type CodeRunner interface {
	Run(ctx context.Context, input ExecInput) (*ExecOutput, error)
}
