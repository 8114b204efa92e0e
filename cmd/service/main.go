// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"dev-insights-service/internal/api"
	"dev-insights-service/internal/config"
	"dev-insights-service/internal/credentials"
	"dev-insights-service/internal/github"
	"dev-insights-service/internal/llm"
	"dev-insights-service/internal/model"
	"dev-insights-service/internal/notify"
	"dev-insights-service/internal/pipeline"
	"dev-insights-service/internal/queue"
	"dev-insights-service/internal/store"
	"dev-insights-service/internal/syncer"
	"dev-insights-service/internal/webhook"
)

const nightlyInterval = 24 * time.Hour

// jobQueue is what both queue backends provide.
type jobQueue interface {
	queue.Queue
	queue.Registry
}

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	st := store.NewPostgres(dbpool)

	// 5. Initialize the job queue
	var q jobQueue
	if cfg.NATSURL != "" {
		natsQueue, err := queue.NewNATS(ctx, cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect job queue: %w", err)
		}
		defer natsQueue.Close()
		q = natsQueue
		logger.Info("Using NATS job queue", "url", cfg.NATSURL)
	} else {
		q = queue.NewMemory(ctx, logger)
		logger.Info("Using in-process job queue")
	}

	// 6. Initialize application components
	// Installation token refresh is owned by the authorization service;
	// until it is wired the provider falls back to OAuth credentials.
	refresher := credentials.RefresherFunc(func(context.Context, *model.Credential) (string, time.Time, error) {
		return "", time.Time{}, errors.New("installation token refresh not configured")
	})
	tokens := credentials.NewProvider(st, refresher, logger)

	newFetcher := func(token string) syncer.Fetcher {
		return github.NewClient(token, logger)
	}
	appSyncer := syncer.NewSyncer(st, tokens, newFetcher, logger, cfg.RateLimitFloor, cfg.IncrementalMaxAge)

	members := &orgMemberSource{store: st, tokens: tokens, logger: logger}
	var classifier pipeline.AssistanceClassifier = pipeline.NopClassifier{}
	var insights pipeline.InsightGenerator = pipeline.NopInsights{}
	if cfg.LLMServiceURL != "" {
		llmClient := llm.NewClient(cfg.LLMServiceURL)
		classifier = llmClient
		insights = llmClient
	}
	var notifier pipeline.Notifier = pipeline.NopNotifier{}
	if cfg.NotifyURL != "" {
		notifier = notify.NewClient(cfg.NotifyURL)
	}

	orch := pipeline.NewOrchestrator(st, q, appSyncer, members,
		classifier, pipeline.NewStoreAggregator(st), insights, notifier,
		cfg.DispatchDelay, cfg.BackgroundSkipRecentDays, logger)
	orch.Register(q)

	ingestor := webhook.NewIngestor(st, appSyncer, logger, cfg.WebhookReplayTTL)
	router := api.NewRouter(st, orch, ingestor, logger)

	// 7. Start the nightly maintenance loop
	go runNightly(ctx, st, orch, appSyncer, logger)

	// 8. Start the HTTP server
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 9. Wait for shutdown signal
	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// runNightly periodically resumes interrupted pipelines and refreshes
// completed teams with an incremental sync. Re-persisting the current
// status is all the recovery a stuck pipeline needs.
func runNightly(ctx context.Context, st *store.Postgres, orch *pipeline.Orchestrator, appSyncer *syncer.Syncer, logger *slog.Logger) {
	ticker := time.NewTicker(nightlyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runMaintenancePass(ctx, st, orch, appSyncer, logger)
		case <-ctx.Done():
			logger.Info("Nightly maintenance shutting down", "reason", ctx.Err())
			return
		}
	}
}

func runMaintenancePass(ctx context.Context, st *store.Postgres, orch *pipeline.Orchestrator, appSyncer *syncer.Syncer, logger *slog.Logger) {
	logger.Info("Starting nightly maintenance pass")
	teams, err := st.ListTeams(ctx)
	if err != nil {
		logger.Error("Failed to list teams for maintenance", "error", err)
		return
	}

	for _, team := range teams {
		switch {
		case team.PipelineStatus.Phase1() || team.PipelineStatus.Phase2() ||
			team.PipelineStatus == model.PipelinePhase1Complete:
			// In-flight or fallen back: re-dispatch the current stage.
			if err := orch.Resume(ctx, team.ID); err != nil {
				logger.Error("Failed to resume pipeline", "team_id", team.ID, "error", err)
			}
		case team.PipelineStatus == model.PipelineComplete:
			repos, err := st.ListTeamRepos(ctx, team.ID)
			if err != nil {
				logger.Error("Failed to list repos for maintenance", "team_id", team.ID, "error", err)
				continue
			}
			for i := range repos {
				if _, err := appSyncer.SyncRepositoryIncremental(ctx, &repos[i]); err != nil {
					logger.Error("Incremental sync failed", "repo", repos[i].FullName, "error", err)
				}
			}
		}
	}
	logger.Info("Nightly maintenance pass finished")
}

// orgMemberSource resolves team members from the GitHub org that owns the
// team's first tracked repository.
type orgMemberSource struct {
	store  *store.Postgres
	tokens *credentials.Provider
	logger *slog.Logger
}

func (s *orgMemberSource) Members(ctx context.Context, team *model.Team) ([]*model.TeamMember, error) {
	repos, err := s.store.ListTeamRepos(ctx, team.ID)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, nil
	}
	repo := &repos[0]
	token, err := s.tokens.AccessToken(ctx, repo)
	if err != nil {
		return nil, err
	}
	return github.NewClient(token, s.logger).OrgMembers(ctx, repo.Owner())
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
