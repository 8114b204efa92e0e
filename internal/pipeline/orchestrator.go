// internal/pipeline/orchestrator.go
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
	"dev-insights-service/internal/queue"
	"dev-insights-service/internal/syncer"
)

// How long to wait before re-running a stage that stopped at the rate
// limit floor.
const rateLimitRetryDelay = 15 * time.Minute

// Store is the slice of the data layer the orchestrator needs.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*model.Team, error)
	SetPipelineStatus(ctx context.Context, teamID int64, status model.PipelineStatus, errMsg *string) error
	ListTeamRepos(ctx context.Context, teamID int64) ([]model.TrackedRepository, error)
	UpsertTeamMember(ctx context.Context, m *model.TeamMember) error
	TeamMetricsSummary(ctx context.Context, teamID int64) (*model.MetricsSummary, error)
}

// RepoSyncer is the sync engine surface the pipeline stages drive.
type RepoSyncer interface {
	SyncRepositoryHistory(ctx context.Context, repo *model.TrackedRepository, opts syncer.Options) (*syncer.Result, error)
}

// Orchestrator sequences the onboarding pipeline over the team's persisted
// pipeline_status. Every status write re-fires the dispatch hook, which
// submits the job for the stage that status names; each job writes the next
// status when it finishes. Because jobs are idempotent, re-persisting the
// current status is a complete crash-recovery procedure.
type Orchestrator struct {
	store      Store
	queue      queue.Queue
	syncer     RepoSyncer
	members    MemberSource
	classifier AssistanceClassifier
	aggregator MetricsAggregator
	insights   InsightGenerator
	notifier   Notifier

	dispatchDelay  time.Duration
	skipRecentDays int
	logger         *slog.Logger
}

func NewOrchestrator(store Store, q queue.Queue, repoSyncer RepoSyncer, members MemberSource,
	classifier AssistanceClassifier, aggregator MetricsAggregator, insights InsightGenerator,
	notifier Notifier, dispatchDelay time.Duration, skipRecentDays int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:          store,
		queue:          q,
		syncer:         repoSyncer,
		members:        members,
		classifier:     classifier,
		aggregator:     aggregator,
		insights:       insights,
		notifier:       notifier,
		dispatchDelay:  dispatchDelay,
		skipRecentDays: skipRecentDays,
		logger:         logger,
	}
}

// Register binds every pipeline job to its handler.
func (o *Orchestrator) Register(reg queue.Registry) {
	reg.Handle(JobSyncMembers, o.taskHandler(o.runSyncMembers))
	reg.Handle(JobSyncHistory, o.taskHandler(o.runSyncHistory))
	reg.Handle(JobRunLLM, o.taskHandler(o.runLLM))
	reg.Handle(JobComputeMetrics, o.taskHandler(o.runMetrics))
	reg.Handle(JobComputeInsights, o.taskHandler(o.runInsights))
	reg.Handle(JobStartBackground, o.taskHandler(o.runStartBackground))
	reg.Handle(JobBackgroundSync, o.taskHandler(o.runBackgroundSync))
	reg.Handle(JobBackgroundLLM, o.taskHandler(o.runBackgroundLLM))
	reg.Handle(JobBackgroundInsights, o.taskHandler(o.runBackgroundInsights))
}

// Start kicks off Phase 1 for a team.
func (o *Orchestrator) Start(ctx context.Context, teamID int64) error {
	return o.setStatus(ctx, teamID, model.PipelineSyncingMembers)
}

// Resume re-persists the team's current status, which re-fires the dispatch
// hook and re-submits the stage job. Safe to call at any time: jobs are
// idempotent, and terminal statuses have no job mapped.
func (o *Orchestrator) Resume(ctx context.Context, teamID int64) error {
	team, err := o.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.PipelineStatus == model.PipelineFailed {
		return fmt.Errorf("team %d pipeline is failed; restart it instead of resuming", teamID)
	}
	return o.setStatus(ctx, teamID, team.PipelineStatus)
}

// setStatus persists the status and then runs the dispatch hook on the
// committed value. The job is submitted with a short countdown so the write
// is visible to whichever worker picks it up.
func (o *Orchestrator) setStatus(ctx context.Context, teamID int64, status model.PipelineStatus) error {
	if err := o.store.SetPipelineStatus(ctx, teamID, status, nil); err != nil {
		return err
	}
	o.dispatch(ctx, teamID, status)
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, teamID int64, status model.PipelineStatus) {
	job, ok := statusJobs[status]
	if !ok {
		return // terminal status, nothing to run
	}
	if err := o.queue.Submit(ctx, job, taskPayload{TeamID: teamID}, o.dispatchDelay); err != nil {
		// The status is already durable; a periodic Resume will re-dispatch.
		o.logger.Error("Failed to submit pipeline job", "team_id", teamID, "job", job, "error", err)
	}
}

// taskHandler decodes the payload, loads the team, and wraps the stage with
// the phase failure semantics: a Phase 1 stage failure parks the pipeline
// in failed with a sanitized message, a Phase 2 failure falls back to
// phase1_complete so the dashboard keeps serving the Phase 1 data.
func (o *Orchestrator) taskHandler(stage func(ctx context.Context, team *model.Team) error) queue.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var p taskPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode pipeline payload: %w", err)
		}
		team, err := o.store.GetTeam(ctx, p.TeamID)
		if err != nil {
			return err // infrastructure error: let the queue retry
		}
		if err := stage(ctx, team); err != nil {
			o.captureStageFailure(ctx, team, err)
		}
		return nil
	}
}

func (o *Orchestrator) captureStageFailure(ctx context.Context, team *model.Team, cause error) {
	// Once the dashboard has opened (phase1_complete and everything behind
	// it) a failure in the background chain never revokes it.
	if team.PipelineStatus.DashboardAccessible() {
		o.logger.Warn("Background stage failed, dashboard stays on phase 1 data",
			"team_id", team.ID, "status", team.PipelineStatus, "error", cause)
		if team.PipelineStatus == model.PipelinePhase1Complete {
			return // already at the fallback status
		}
		// Deliberately not dispatching off this write: phase1_complete's
		// mapped job would restart Phase 2 immediately and hot-loop the
		// failure. The nightly Resume picks the work back up.
		if err := o.store.SetPipelineStatus(ctx, team.ID, model.PipelinePhase1Complete, nil); err != nil {
			o.logger.Error("Failed to revert pipeline status", "team_id", team.ID, "error", err)
		}
		return
	}

	msg := apperrors.Sanitize(cause)
	o.logger.Error("Pipeline stage failed", "team_id", team.ID, "status", team.PipelineStatus, "error", cause)
	if err := o.store.SetPipelineStatus(ctx, team.ID, model.PipelineFailed, &msg); err != nil {
		o.logger.Error("Failed to record pipeline failure", "team_id", team.ID, "error", err)
	}
}

// --- Phase 1 stages ---

func (o *Orchestrator) runSyncMembers(ctx context.Context, team *model.Team) error {
	if !team.HasGithubIntegration {
		// No platform integration yet: skipped, not failed.
		o.logger.Info("Team has no GitHub integration, skipping member sync", "team_id", team.ID)
		return o.setStatus(ctx, team.ID, model.PipelineSyncing)
	}

	members, err := o.members.Members(ctx, team)
	if err != nil {
		return err
	}
	for _, m := range members {
		m.TeamID = team.ID
		if err := o.store.UpsertTeamMember(ctx, m); err != nil {
			return err
		}
	}
	o.logger.Info("Member sync complete", "team_id", team.ID, "members", len(members))
	return o.setStatus(ctx, team.ID, model.PipelineSyncing)
}

func (o *Orchestrator) runSyncHistory(ctx context.Context, team *model.Team) error {
	done, err := o.syncTeamRepos(ctx, team, syncer.Options{}, true)
	if err != nil || !done {
		return err
	}
	return o.setStatus(ctx, team.ID, model.PipelineLLMProcessing)
}

func (o *Orchestrator) runLLM(ctx context.Context, team *model.Team) error {
	if err := o.classifier.Classify(ctx, team.ID); err != nil {
		return err
	}
	return o.setStatus(ctx, team.ID, model.PipelineComputingMetrics)
}

func (o *Orchestrator) runMetrics(ctx context.Context, team *model.Team) error {
	if err := o.aggregator.Aggregate(ctx, team.ID); err != nil {
		return err
	}
	return o.setStatus(ctx, team.ID, model.PipelineComputingInsights)
}

func (o *Orchestrator) runInsights(ctx context.Context, team *model.Team) error {
	if err := o.insights.Generate(ctx, team.ID); err != nil {
		return err
	}
	return o.setStatus(ctx, team.ID, model.PipelinePhase1Complete)
}

// --- Phase 2 stages ---

func (o *Orchestrator) runStartBackground(ctx context.Context, team *model.Team) error {
	return o.setStatus(ctx, team.ID, model.PipelineBackgroundSyncing)
}

func (o *Orchestrator) runBackgroundSync(ctx context.Context, team *model.Team) error {
	done, err := o.syncTeamRepos(ctx, team, syncer.Options{SkipRecent: o.skipRecentDays}, false)
	if err != nil || !done {
		return err
	}
	return o.setStatus(ctx, team.ID, model.PipelineBackgroundLLM)
}

func (o *Orchestrator) runBackgroundLLM(ctx context.Context, team *model.Team) error {
	if err := o.classifier.Classify(ctx, team.ID); err != nil {
		return err
	}
	return o.setStatus(ctx, team.ID, model.PipelineBackgroundInsights)
}

func (o *Orchestrator) runBackgroundInsights(ctx context.Context, team *model.Team) error {
	if err := o.aggregator.Aggregate(ctx, team.ID); err != nil {
		return err
	}
	if err := o.insights.Generate(ctx, team.ID); err != nil {
		return err
	}
	if err := o.store.SetPipelineStatus(ctx, team.ID, model.PipelineComplete, nil); err != nil {
		return err
	}
	o.notifyCompletion(ctx, team.ID)
	return nil
}

// syncTeamRepos syncs the team's repositories in sequence. When a repo run
// stops at the rate limit floor it re-submits the current stage job for
// later and reports done=false; the pipeline status is untouched, so the
// re-run resumes forward over already-complete repos.
func (o *Orchestrator) syncTeamRepos(ctx context.Context, team *model.Team, opts syncer.Options, skipComplete bool) (bool, error) {
	repos, err := o.store.ListTeamRepos(ctx, team.ID)
	if err != nil {
		return false, err
	}

	for i := range repos {
		repo := &repos[i]
		if skipComplete && repo.SyncStatus == model.SyncComplete {
			continue
		}
		res, err := o.syncer.SyncRepositoryHistory(ctx, repo, opts)
		if err != nil {
			return false, err
		}
		if res.RateLimited {
			job := statusJobs[team.PipelineStatus]
			o.logger.Warn("Sync rate limited, scheduling continuation",
				"team_id", team.ID, "repo", repo.FullName, "job", job, "delay", rateLimitRetryDelay)
			if err := o.queue.Submit(ctx, job, taskPayload{TeamID: team.ID}, rateLimitRetryDelay); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) notifyCompletion(ctx context.Context, teamID int64) {
	summary, err := o.store.TeamMetricsSummary(ctx, teamID)
	if err != nil {
		o.logger.Warn("Failed to load metrics for completion notification", "team_id", teamID, "error", err)
		summary = &model.MetricsSummary{TeamID: teamID}
	}
	if err := o.notifier.PipelineCompleted(ctx, teamID, summary); err != nil {
		// Notification delivery never fails the pipeline.
		o.logger.Warn("Completion notification failed", "team_id", teamID, "error", err)
	}
}
