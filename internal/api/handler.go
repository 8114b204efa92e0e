// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"dev-insights-service/internal/model"
)

// Store is the read surface the API serves from.
type Store interface {
	GetTrackedRepo(ctx context.Context, id int64) (*model.TrackedRepository, error)
	GetTeam(ctx context.Context, id int64) (*model.Team, error)
}

// Pipeline is the orchestrator surface exposed over HTTP.
type Pipeline interface {
	Start(ctx context.Context, teamID int64) error
	Resume(ctx context.Context, teamID int64) error
}

// Handler is the container for API dependencies.
type Handler struct {
	store    Store
	pipeline Pipeline
	logger   *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(store Store, pipe Pipeline, webhooks http.Handler, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:    store,
		pipeline: pipe,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Post("/webhooks/github", webhooks.ServeHTTP)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/repos/{repoID}/sync-status", h.getSyncStatus)
		r.Get("/teams/{teamID}/pipeline", h.getPipelineStatus)
		r.Post("/teams/{teamID}/pipeline/start", h.startPipeline)
		r.Post("/teams/{teamID}/pipeline/resume", h.resumePipeline)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getSyncStatus reports a tracked repository's sync state.
// GET /v1/repos/{repoID}/sync-status
func (h *Handler) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(chi.URLParam(r, "repoID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return
	}

	repo, err := h.store.GetTrackedRepo(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get tracked repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"full_name":            repo.FullName,
		"sync_status":          repo.SyncStatus,
		"sync_progress":        repo.SyncProgress,
		"sync_prs_total":       repo.SyncPRsTotal,
		"sync_prs_completed":   repo.SyncPRsCompleted,
		"last_sync_at":         repo.LastSyncAt,
		"last_sync_error":      repo.LastSyncError,
		"rate_limit_remaining": repo.RateLimitRemaining,
	})
}

// getPipelineStatus reports a team's pipeline state and whether the
// dashboard is accessible.
// GET /v1/teams/{teamID}/pipeline
func (h *Handler) getPipelineStatus(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"pipeline_status":      team.PipelineStatus,
		"pipeline_started_at":  team.PipelineStartedAt,
		"pipeline_completed_at": team.PipelineCompletedAt,
		"pipeline_error":       team.PipelineError,
		"dashboard_accessible": team.PipelineStatus.DashboardAccessible(),
	})
}

// startPipeline kicks off Phase 1 onboarding for a team.
// POST /v1/teams/{teamID}/pipeline/start
func (h *Handler) startPipeline(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	if err := h.pipeline.Start(r.Context(), team.ID); err != nil {
		h.logger.Error("Failed to start pipeline", "team_id", team.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// resumePipeline re-dispatches the team's current pipeline stage.
// POST /v1/teams/{teamID}/pipeline/resume
func (h *Handler) resumePipeline(w http.ResponseWriter, r *http.Request) {
	team, ok := h.loadTeam(w, r)
	if !ok {
		return
	}
	if err := h.pipeline.Resume(r.Context(), team.ID); err != nil {
		h.logger.Error("Failed to resume pipeline", "team_id", team.ID, "error", err)
		respondWithError(w, http.StatusConflict, "Pipeline cannot be resumed")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

func (h *Handler) loadTeam(w http.ResponseWriter, r *http.Request) (*model.Team, bool) {
	teamID, err := strconv.ParseInt(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid team id")
		return nil, false
	}
	team, err := h.store.GetTeam(r.Context(), teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Team not found")
			return nil, false
		}
		h.logger.Error("Failed to get team", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return team, true
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
