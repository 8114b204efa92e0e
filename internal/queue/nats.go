// internal/queue/nats.go
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectPrefix = "jobs."
	workerGroup   = "workers"
)

// envelope is the wire format for a job submission.
type envelope struct {
	ID      string          `json:"id"`
	Job     string          `json:"job"`
	Payload json.RawMessage `json:"payload"`
	RunAt   time.Time       `json:"run_at"`
}

// NATS distributes jobs across worker processes. Each job name maps to one
// subject; handlers join a shared queue group so exactly one subscriber
// receives each delivery. A failed handler is retried in process with
// backoff before the delivery is dropped; the pipeline's self-healing
// Resume covers the drops.
type NATS struct {
	conn    *nats.Conn
	logger  *slog.Logger
	baseCtx context.Context
}

func NewNATS(ctx context.Context, url string, logger *slog.Logger) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name("dev-insights-service"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATS{conn: conn, logger: logger, baseCtx: ctx}, nil
}

func (n *NATS) Submit(ctx context.Context, job string, payload any, countdown time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for job %q: %w", job, err)
	}
	env := envelope{
		ID:      uuid.NewString(),
		Job:     job,
		Payload: body,
		RunAt:   time.Now().Add(countdown),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for job %q: %w", job, err)
	}
	if err := n.conn.Publish(subjectPrefix+job, data); err != nil {
		return fmt.Errorf("publish job %q: %w", job, err)
	}
	return nil
}

func (n *NATS) Handle(job string, fn HandlerFunc) {
	_, err := n.conn.QueueSubscribe(subjectPrefix+job, workerGroup, func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			n.logger.Error("Dropping undecodable job message", "subject", msg.Subject, "error", err)
			return
		}
		// The RunAt wait and the retry backoff happen off the subscription
		// callback so one delayed job never holds up the subject.
		go n.process(env, fn)
	})
	if err != nil {
		n.logger.Error("Failed to subscribe for job", "job", job, "error", err)
	}
}

func (n *NATS) process(env envelope, fn HandlerFunc) {
	if delay := time.Until(env.RunAt); delay > 0 {
		select {
		case <-time.After(delay):
		case <-n.baseCtx.Done():
			return
		}
	}
	runWithRetry(n.baseCtx, n.logger, env.Job, fn, env.Payload, maxAttempts, retryBackoffBase)
}

func (n *NATS) Close() {
	if err := n.conn.Drain(); err != nil {
		n.logger.Warn("NATS drain failed", "error", err)
	}
}
