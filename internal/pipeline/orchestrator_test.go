// internal/pipeline/orchestrator_test.go
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
	"dev-insights-service/internal/queue"
	"dev-insights-service/internal/syncer"
)

// memStore is a stateful in-memory Store: status writes mutate the team the
// way the real row would, so handlers driven in sequence see the pipeline
// advance.
type memStore struct {
	team       *model.Team
	repos      []model.TrackedRepository
	members    []*model.TeamMember
	summary    *model.MetricsSummary
	summaryErr error

	// statusErr fails the next SetPipelineStatus call, once.
	statusErr error

	statusLog []model.PipelineStatus
	errLog    []*string
}

func (s *memStore) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	if s.team == nil || s.team.ID != id {
		return nil, errors.New("team not found")
	}
	copied := *s.team
	return &copied, nil
}

func (s *memStore) SetPipelineStatus(ctx context.Context, teamID int64, status model.PipelineStatus, errMsg *string) error {
	if s.statusErr != nil {
		err := s.statusErr
		s.statusErr = nil
		return err
	}
	s.team.PipelineStatus = status
	s.team.PipelineError = errMsg
	s.statusLog = append(s.statusLog, status)
	s.errLog = append(s.errLog, errMsg)
	return nil
}

func (s *memStore) ListTeamRepos(ctx context.Context, teamID int64) ([]model.TrackedRepository, error) {
	return s.repos, nil
}

func (s *memStore) UpsertTeamMember(ctx context.Context, m *model.TeamMember) error {
	s.members = append(s.members, m)
	return nil
}

func (s *memStore) TeamMetricsSummary(ctx context.Context, teamID int64) (*model.MetricsSummary, error) {
	if s.summaryErr != nil {
		return nil, s.summaryErr
	}
	if s.summary != nil {
		return s.summary, nil
	}
	return &model.MetricsSummary{TeamID: teamID}, nil
}

type submission struct {
	job       string
	payload   []byte
	countdown time.Duration
}

// capQueue records submissions instead of executing them; tests drain it by
// invoking registered handlers directly.
type capQueue struct {
	pending  []submission
	handlers map[string]queue.HandlerFunc
}

func newCapQueue() *capQueue {
	return &capQueue{handlers: make(map[string]queue.HandlerFunc)}
}

func (q *capQueue) Submit(ctx context.Context, job string, payload any, countdown time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.pending = append(q.pending, submission{job: job, payload: body, countdown: countdown})
	return nil
}

func (q *capQueue) Handle(job string, fn queue.HandlerFunc) {
	q.handlers[job] = fn
}

// drain pops and runs pending jobs until the queue is empty or maxSteps is
// hit, returning the jobs executed in order.
func (q *capQueue) drain(t *testing.T, maxSteps int) []string {
	t.Helper()
	var ran []string
	for steps := 0; len(q.pending) > 0; steps++ {
		require.Less(t, steps, maxSteps, "pipeline did not settle, ran: %v", ran)
		next := q.pending[0]
		q.pending = q.pending[1:]
		fn, ok := q.handlers[next.job]
		require.True(t, ok, "no handler for job %s", next.job)
		require.NoError(t, fn(context.Background(), next.payload))
		ran = append(ran, next.job)
	}
	return ran
}

type scriptedSyncer struct {
	results []*syncer.Result
	err     error
	calls   int
	optsLog []syncer.Options
}

func (s *scriptedSyncer) SyncRepositoryHistory(ctx context.Context, repo *model.TrackedRepository, opts syncer.Options) (*syncer.Result, error) {
	s.optsLog = append(s.optsLog, opts)
	s.calls++
	if s.err != nil {
		return &syncer.Result{}, s.err
	}
	if len(s.results) > 0 {
		res := s.results[0]
		s.results = s.results[1:]
		return res, nil
	}
	return &syncer.Result{PRsSynced: 1}, nil
}

type fakeMembers struct {
	members []*model.TeamMember
	err     error
}

func (f *fakeMembers) Members(ctx context.Context, team *model.Team) ([]*model.TeamMember, error) {
	return f.members, f.err
}

type fakeStage struct {
	err   error
	calls int
}

func (f *fakeStage) Classify(ctx context.Context, teamID int64) error {
	f.calls++
	return f.err
}

func (f *fakeStage) Aggregate(ctx context.Context, teamID int64) error {
	f.calls++
	return f.err
}

func (f *fakeStage) Generate(ctx context.Context, teamID int64) error {
	f.calls++
	return f.err
}

type fakeNotifier struct {
	err   error
	calls int
}

func (f *fakeNotifier) PipelineCompleted(ctx context.Context, teamID int64, summary *model.MetricsSummary) error {
	f.calls++
	return f.err
}

type orchFixture struct {
	store      *memStore
	queue      *capQueue
	syncer     *scriptedSyncer
	members    *fakeMembers
	classifier *fakeStage
	aggregator *fakeStage
	insights   *fakeStage
	notifier   *fakeNotifier
	orch       *Orchestrator
}

func newFixture(team *model.Team) *orchFixture {
	f := &orchFixture{
		store: &memStore{
			team: team,
			repos: []model.TrackedRepository{
				{ID: 1, TeamID: team.ID, FullName: "acme/widgets"},
			},
		},
		queue:      newCapQueue(),
		syncer:     &scriptedSyncer{},
		members:    &fakeMembers{members: []*model.TeamMember{{GithubUserID: 11, Login: "alice"}}},
		classifier: &fakeStage{},
		aggregator: &fakeStage{},
		insights:   &fakeStage{},
		notifier:   &fakeNotifier{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.orch = NewOrchestrator(f.store, f.queue, f.syncer, f.members,
		f.classifier, f.aggregator, f.insights, f.notifier, 0, 30, logger)
	f.orch.Register(f.queue)
	return f
}

func testTeam() *model.Team {
	return &model.Team{
		ID:                   10,
		Name:                 "platform",
		HasGithubIntegration: true,
		PipelineStatus:       model.PipelineNotStarted,
	}
}

func TestStatusJobsExhaustive(t *testing.T) {
	for _, status := range model.PipelineStatuses {
		_, mapped := JobForStatus(status)
		if status.Terminal() {
			assert.False(t, mapped, "terminal status %s must not dispatch a job", status)
		} else {
			assert.True(t, mapped, "status %s has no job mapped", status)
		}
	}
}

func TestPipelineFullWalk(t *testing.T) {
	f := newFixture(testTeam())

	require.NoError(t, f.orch.Start(context.Background(), 10))
	ran := f.queue.drain(t, 20)

	assert.Equal(t, []string{
		JobSyncMembers, JobSyncHistory, JobRunLLM, JobComputeMetrics, JobComputeInsights,
		JobStartBackground, JobBackgroundSync, JobBackgroundLLM, JobBackgroundInsights,
	}, ran)
	assert.Equal(t, model.PipelineComplete, f.store.team.PipelineStatus)
	assert.Len(t, f.store.members, 1)
	// Classifier and insights run once in each phase, aggregator too.
	assert.Equal(t, 2, f.classifier.calls)
	assert.Equal(t, 2, f.aggregator.calls)
	assert.Equal(t, 2, f.insights.calls)
	assert.Equal(t, 1, f.notifier.calls)
	// Foreground sync runs unbounded, background sync skips recent days.
	require.Len(t, f.syncer.optsLog, 2)
	assert.Zero(t, f.syncer.optsLog[0].SkipRecent)
	assert.Equal(t, 30, f.syncer.optsLog[1].SkipRecent)
}

func TestMemberSyncSkippedWithoutIntegration(t *testing.T) {
	team := testTeam()
	team.HasGithubIntegration = false
	f := newFixture(team)
	f.members.err = errors.New("member source must not be called")

	require.NoError(t, f.orch.Start(context.Background(), 10))
	f.queue.drain(t, 20)

	assert.Equal(t, model.PipelineComplete, f.store.team.PipelineStatus)
	assert.Empty(t, f.store.members)
}

func TestPhase1FailureParksPipelineFailed(t *testing.T) {
	f := newFixture(testTeam())
	f.syncer.err = &apperrors.AuthError{StatusCode: http.StatusUnauthorized, Msg: "token revoked xyz-secret"}

	require.NoError(t, f.orch.Start(context.Background(), 10))
	f.queue.drain(t, 20)

	assert.Equal(t, model.PipelineFailed, f.store.team.PipelineStatus)
	require.NotNil(t, f.store.team.PipelineError)
	// Persisted message is sanitized, raw upstream text never reaches it.
	assert.NotContains(t, *f.store.team.PipelineError, "xyz-secret")
	assert.Contains(t, *f.store.team.PipelineError, "authorization")
	// Failed is terminal: nothing further was dispatched.
	assert.Empty(t, f.queue.pending)
}

func TestPhase2FailureFallsBackWithoutRedispatch(t *testing.T) {
	team := testTeam()
	team.PipelineStatus = model.PipelineBackgroundLLM
	f := newFixture(team)
	f.classifier.err = errors.New("llm service unavailable")

	require.NoError(t, f.orch.Resume(context.Background(), 10))

	// Run only the re-dispatched background job; the fallback write must not
	// queue anything new or the failure would hot-loop.
	require.Len(t, f.queue.pending, 1)
	assert.Equal(t, JobBackgroundLLM, f.queue.pending[0].job)
	next := f.queue.pending[0]
	f.queue.pending = nil
	require.NoError(t, f.queue.handlers[next.job](context.Background(), next.payload))

	assert.Equal(t, model.PipelinePhase1Complete, f.store.team.PipelineStatus)
	assert.Nil(t, f.store.team.PipelineError)
	assert.Empty(t, f.queue.pending)
}

func TestStartBackgroundFailureKeepsPhase1Complete(t *testing.T) {
	team := testTeam()
	team.PipelineStatus = model.PipelinePhase1Complete
	f := newFixture(team)

	require.NoError(t, f.orch.Resume(context.Background(), 10))
	require.Len(t, f.queue.pending, 1)
	assert.Equal(t, JobStartBackground, f.queue.pending[0].job)

	// The status write that would enter background_syncing fails; the team
	// already reached phase1_complete and must never fall back to failed.
	f.store.statusErr = errors.New("transient db failure")
	next := f.queue.pending[0]
	f.queue.pending = nil
	require.NoError(t, f.queue.handlers[next.job](context.Background(), next.payload))

	assert.Equal(t, model.PipelinePhase1Complete, f.store.team.PipelineStatus)
	assert.Nil(t, f.store.team.PipelineError)
	assert.Empty(t, f.queue.pending)
}

func TestResume(t *testing.T) {
	t.Run("re-dispatches the current stage", func(t *testing.T) {
		team := testTeam()
		team.PipelineStatus = model.PipelineComputingMetrics
		f := newFixture(team)

		require.NoError(t, f.orch.Resume(context.Background(), 10))
		require.Len(t, f.queue.pending, 1)
		assert.Equal(t, JobComputeMetrics, f.queue.pending[0].job)
	})

	t.Run("failed pipeline refuses to resume", func(t *testing.T) {
		team := testTeam()
		team.PipelineStatus = model.PipelineFailed
		f := newFixture(team)

		err := f.orch.Resume(context.Background(), 10)
		require.Error(t, err)
		assert.Empty(t, f.queue.pending)
	})
}

func TestRateLimitedSyncSchedulesContinuation(t *testing.T) {
	team := testTeam()
	team.PipelineStatus = model.PipelineSyncing
	f := newFixture(team)
	f.syncer.results = []*syncer.Result{{PRsSynced: 3, RateLimited: true}}

	require.NoError(t, f.orch.Resume(context.Background(), 10))
	require.Len(t, f.queue.pending, 1)
	next := f.queue.pending[0]
	f.queue.pending = nil
	require.NoError(t, f.queue.handlers[next.job](context.Background(), next.payload))

	// Same stage re-submitted after the retry delay; status untouched.
	require.Len(t, f.queue.pending, 1)
	assert.Equal(t, JobSyncHistory, f.queue.pending[0].job)
	assert.Equal(t, 15*time.Minute, f.queue.pending[0].countdown)
	assert.Equal(t, model.PipelineSyncing, f.store.team.PipelineStatus)
}

func TestBackgroundSyncSkipsCompletedReposOnlyInForeground(t *testing.T) {
	team := testTeam()
	team.PipelineStatus = model.PipelineSyncing
	f := newFixture(team)
	f.store.repos = []model.TrackedRepository{
		{ID: 1, TeamID: 10, FullName: "acme/widgets", SyncStatus: model.SyncComplete},
		{ID: 2, TeamID: 10, FullName: "acme/gadgets"},
	}

	require.NoError(t, f.orch.Resume(context.Background(), 10))
	f.queue.drain(t, 20)

	// Foreground pass skipped the complete repo (1 call), background pass
	// re-synced both (2 calls).
	assert.Equal(t, 3, f.syncer.calls)
	assert.Equal(t, model.PipelineComplete, f.store.team.PipelineStatus)
}

func TestNotifierFailureDoesNotFailPipeline(t *testing.T) {
	team := testTeam()
	team.PipelineStatus = model.PipelineBackgroundInsights
	f := newFixture(team)
	f.notifier.err = errors.New("webhook endpoint down")

	require.NoError(t, f.orch.Resume(context.Background(), 10))
	f.queue.drain(t, 20)

	assert.Equal(t, model.PipelineComplete, f.store.team.PipelineStatus)
	assert.Equal(t, 1, f.notifier.calls)
}
