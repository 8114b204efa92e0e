// internal/webhook/ingestor.go
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	gh "github.com/google/go-github/v62/github"

	ghclient "dev-insights-service/internal/github"
	"dev-insights-service/internal/model"
)

// Event types routed to typed handlers. Anything else is acknowledged and
// ignored so new platform event types never turn into errors.
const (
	eventPullRequest       = "pull_request"
	eventPullRequestReview = "pull_request_review"
)

// The platform delivers payloads up to 25 MB.
const maxPayloadBytes = 25 << 20

// RepoStore looks up webhook routing candidates and records delivery ids.
type RepoStore interface {
	ListTrackedReposByGithubID(ctx context.Context, githubRepoID int64) ([]model.TrackedRepository, error)
	InsertWebhookDelivery(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error)
}

// EventSink is where verified events land: the sync engine's canonical
// upsert paths, keyed by the resolved tenant.
type EventSink interface {
	ApplyPullRequest(ctx context.Context, repo *model.TrackedRepository, pr *model.PullRequest) error
	ApplyReview(ctx context.Context, repo *model.TrackedRepository, pr *model.PullRequest, review *model.Review) error
}

// Ingestor accepts signed push notifications, verifies them per tenant,
// rejects replays, and dispatches them into the sync engine.
type Ingestor struct {
	store     RepoStore
	sink      EventSink
	logger    *slog.Logger
	replayTTL time.Duration
}

func NewIngestor(store RepoStore, sink EventSink, logger *slog.Logger, replayTTL time.Duration) *Ingestor {
	return &Ingestor{
		store:     store,
		sink:      sink,
		logger:    logger,
		replayTTL: replayTTL,
	}
}

// payloadEnvelope is the minimum shape every routed payload must carry.
type payloadEnvelope struct {
	Repository struct {
		ID       int64  `json:"id"`
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// ServeHTTP handles POST deliveries. Error responses carry no internal
// identifiers.
func (in *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		respondError(w, http.StatusUnauthorized, "missing webhook signature")
		return
	}
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID == "" {
		respondError(w, http.StatusBadRequest, "missing delivery id")
		return
	}
	eventType := r.Header.Get("X-GitHub-Event")

	var envelope payloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Repository.ID == 0 {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	candidates, err := in.store.ListTrackedReposByGithubID(r.Context(), envelope.Repository.ID)
	if err != nil {
		in.logger.Error("Failed to list webhook candidates", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(candidates) == 0 {
		respondError(w, http.StatusNotFound, "repository not tracked")
		return
	}

	repo, err := ResolveTenant(candidates, body, signature)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "webhook signature verification failed")
		return
	}

	fresh, err := in.store.InsertWebhookDelivery(r.Context(), deliveryID, in.replayTTL)
	if err != nil {
		in.logger.Error("Failed to record webhook delivery", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !fresh {
		// A replayed delivery is a no-op for the sender; 409 keeps it
		// visible in our metrics.
		respondError(w, http.StatusConflict, "duplicate delivery")
		return
	}

	logger := in.logger.With("event", eventType, "delivery_id", deliveryID,
		"team_id", repo.TeamID, "repo", repo.FullName)

	switch eventType {
	case eventPullRequest:
		in.handlePullRequest(r.Context(), w, logger, repo, body)
	case eventPullRequestReview:
		in.handleReview(r.Context(), w, logger, repo, body)
	default:
		logger.Debug("Ignoring unhandled webhook event type")
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": eventType})
	}
}

func (in *Ingestor) handlePullRequest(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, repo *model.TrackedRepository, body []byte) {
	var event gh.PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil || event.PullRequest == nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	pr := ghclient.ToPullRequest(event.PullRequest)
	if err := in.sink.ApplyPullRequest(ctx, repo, pr); err != nil {
		logger.Error("Failed to apply pull request event", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	logger.Info("Processed pull request event", "pr_number", pr.Number)
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed", "event": eventPullRequest})
}

func (in *Ingestor) handleReview(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, repo *model.TrackedRepository, body []byte) {
	var event gh.PullRequestReviewEvent
	if err := json.Unmarshal(body, &event); err != nil || event.PullRequest == nil || event.Review == nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	pr := ghclient.ToPullRequest(event.PullRequest)
	review := ghclient.ToReview(event.Review)
	if err := in.sink.ApplyReview(ctx, repo, pr, review); err != nil {
		logger.Error("Failed to apply review event", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	logger.Info("Processed review event", "pr_number", pr.Number)
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed", "event": eventPullRequestReview})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
