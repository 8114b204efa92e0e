// internal/queue/queue.go
package queue

import (
	"context"
	"log/slog"
	"time"
)

// HandlerFunc processes one delivery of a named job. Payloads are JSON;
// handlers must be idempotent because delivery is at-least-once.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Queue submits units of work for asynchronous execution. Countdown delays
// the first delivery; the pipeline uses it so a status write is visible
// before the job it triggered starts reading.
type Queue interface {
	Submit(ctx context.Context, job string, payload any, countdown time.Duration) error
}

// Registry is where workers register the handler for each job name.
type Registry interface {
	Handle(job string, fn HandlerFunc)
}

const (
	maxAttempts      = 3
	retryBackoffBase = time.Second
)

// runWithRetry executes one delivery with bounded in-process retries and
// exponential backoff. Shared by both queue backends.
func runWithRetry(ctx context.Context, logger *slog.Logger, job string, fn HandlerFunc, payload []byte, attempts int, backoff time.Duration) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, payload)
		if err == nil {
			return
		}
		if attempt >= attempts {
			logger.Error("Job failed after max attempts", "job", job, "attempts", attempt, "error", err)
			return
		}
		logger.Warn("Job failed, retrying", "job", job, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
	}
}
