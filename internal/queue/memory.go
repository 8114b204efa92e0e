// internal/queue/memory.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Number of jobs executed in parallel
const memoryWorkers = 5

// Memory is the in-process queue used by tests and single-worker
// deployments. Execution is bounded, delayed submission uses timers, and
// failed handlers are retried with exponential backoff.
type Memory struct {
	logger  *slog.Logger
	baseCtx context.Context
	group   *errgroup.Group

	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	attempts  int
	retryBase time.Duration
}

func NewMemory(ctx context.Context, logger *slog.Logger) *Memory {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(memoryWorkers)
	return &Memory{
		logger:    logger,
		baseCtx:   gctx,
		group:     group,
		handlers:  make(map[string]HandlerFunc),
		attempts:  maxAttempts,
		retryBase: retryBackoffBase,
	}
}

func (m *Memory) Handle(job string, fn HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[job] = fn
}

func (m *Memory) Submit(ctx context.Context, job string, payload any, countdown time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for job %q: %w", job, err)
	}

	schedule := func() {
		m.group.Go(func() error {
			m.run(job, body)
			return nil
		})
	}
	if countdown <= 0 {
		// A handler may submit its successor while holding a worker slot;
		// blocking here until a slot frees would deadlock once all workers
		// are doing that, so a full group detaches the enqueue instead.
		if !m.group.TryGo(func() error {
			m.run(job, body)
			return nil
		}) {
			go schedule()
		}
	} else {
		time.AfterFunc(countdown, schedule)
	}
	return nil
}

func (m *Memory) run(job string, body []byte) {
	m.mu.RLock()
	fn, ok := m.handlers[job]
	m.mu.RUnlock()
	if !ok {
		m.logger.Error("No handler registered for job", "job", job)
		return
	}
	runWithRetry(m.baseCtx, m.logger, job, fn, body, m.attempts, m.retryBase)
}

// Wait blocks until in-flight jobs finish. Delayed submissions that have
// not fired yet are not waited for.
func (m *Memory) Wait() {
	_ = m.group.Wait()
}
