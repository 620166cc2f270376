package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NatsRunner 透過 NATS request/reply 呼叫沙箱執行服務
type NatsRunner struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

func NewNatsRunner(url, subject string, timeout time.Duration) (*NatsRunner, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return &NatsRunner{nc: nc, subject: subject, timeout: timeout}, nil
}

// Run 送出執行請求並等待沙箱回覆
// ctx 取消（使用者取消執行）與等待逾時都會中止等待
func (r *NatsRunner) Run(ctx context.Context, input ExecInput) (*ExecOutput, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode execution request %s: %w", input.RequestID, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	msg, err := r.nc.RequestWithContext(reqCtx, r.subject, data)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logrus.WithFields(logrus.Fields{
				"request_id": input.RequestID,
				"language":   input.Language,
				"elapsed":    time.Since(start),
			}).Warn("Execution request timed out")
			return nil, fmt.Errorf("sandbox did not reply within %v: %w", r.timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("execution request %s failed: %w", input.RequestID, err)
	}

	var out ExecOutput
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return nil, fmt.Errorf("decode execution result %s: %w", input.RequestID, err)
	}

	logrus.WithFields(logrus.Fields{
		"request_id": input.RequestID,
		"language":   input.Language,
		"exit_code":  out.ExitCode,
		"duration":   out.DurationMs,
	}).Debug("Execution completed")
	return &out, nil
}

func (r *NatsRunner) Close() {
	r.nc.Close()
}
