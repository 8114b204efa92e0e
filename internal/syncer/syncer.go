// internal/syncer/syncer.go
package syncer

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
)

// Store is the slice of the data layer the sync engine writes through.
type Store interface {
	UpdateRepoSyncStatus(ctx context.Context, repoID int64, status model.SyncStatus, syncErr *string) error
	UpdateRepoSyncProgress(ctx context.Context, repoID int64, completed, total, progress int) error
	UpdateRepoRateLimit(ctx context.Context, repoID int64, remaining int, resetAt time.Time) error
	SetRepoLastSyncAt(ctx context.Context, repoID int64, at time.Time) error
	GetTeamMemberByGithubID(ctx context.Context, teamID, githubUserID int64) (*model.TeamMember, error)
	UpsertPullRequest(ctx context.Context, pr *model.PullRequest) (int64, error)
	UpsertReview(ctx context.Context, r *model.Review) error
	UpsertCommit(ctx context.Context, c *model.Commit) error
	UpsertCheckRun(ctx context.Context, c *model.CheckRun) error
	UpsertComment(ctx context.Context, c *model.Comment) error
	EarliestReviewSubmittedAt(ctx context.Context, pullRequestID int64) (*time.Time, error)
	SetFirstReview(ctx context.Context, pullRequestID int64, at time.Time, reviewTimeHours float64) error
}

// Fetcher pulls history from the external platform. Implemented by
// internal/github; mocked in tests.
type Fetcher interface {
	PullRequests(ctx context.Context, owner, name string, daysBack int) iter.Seq2[*model.PullRequest, error]
	PullRequestCount(ctx context.Context, owner, name string, daysBack int) (int, error)
	PullRequestsSince(ctx context.Context, owner, name string, since time.Time) ([]*model.PullRequest, error)
	Reviews(ctx context.Context, owner, name string, number int) ([]*model.Review, error)
	Commits(ctx context.Context, owner, name string, number int) ([]*model.Commit, error)
	CheckRuns(ctx context.Context, owner, name, ref string) ([]*model.CheckRun, error)
	Comments(ctx context.Context, owner, name string, number int) ([]*model.Comment, error)
	RateLimit(ctx context.Context) (model.RateLimit, error)
}

// FetcherFactory builds a Fetcher bound to an access token.
type FetcherFactory func(token string) Fetcher

// TokenProvider resolves a usable access token for a tracked repository.
type TokenProvider interface {
	AccessToken(ctx context.Context, repo *model.TrackedRepository) (string, error)
}

// Options bound a historical sync. DaysBack limits how far back history is
// fetched; SkipRecent excludes the most recent N days (the background phase
// uses it to avoid re-processing what the foreground phase already took).
type Options struct {
	DaysBack   int
	SkipRecent int
}

// Result is what a sync run reports back to its caller.
type Result struct {
	PRsSynced     int
	ReviewsSynced int
	Failed        int
	// RateLimited means the run stopped early at the quota floor with its
	// progress persisted; the caller owns scheduling a continuation.
	RateLimited bool
}

// Syncer drives the fetcher and upserts canonical entities idempotently.
// Re-running any sync over already-seen pull requests is a cost, never a
// correctness problem.
type Syncer struct {
	store             Store
	tokens            TokenProvider
	newFetcher        FetcherFactory
	logger            *slog.Logger
	rateLimitFloor    int
	incrementalMaxAge time.Duration
	now               func() time.Time
}

func NewSyncer(store Store, tokens TokenProvider, newFetcher FetcherFactory, logger *slog.Logger, rateLimitFloor int, incrementalMaxAge time.Duration) *Syncer {
	return &Syncer{
		store:             store,
		tokens:            tokens,
		newFetcher:        newFetcher,
		logger:            logger,
		rateLimitFloor:    rateLimitFloor,
		incrementalMaxAge: incrementalMaxAge,
		now:               time.Now,
	}
}

// SyncRepositoryHistory runs a full or bounded historical sync.
func (s *Syncer) SyncRepositoryHistory(ctx context.Context, repo *model.TrackedRepository, opts Options) (*Result, error) {
	logger := s.logger.With("repo", repo.FullName, "team_id", repo.TeamID)
	res := &Result{}

	token, err := s.tokens.AccessToken(ctx, repo)
	if err != nil {
		s.markSyncError(ctx, repo, err)
		return res, err
	}
	fetcher := s.newFetcher(token)

	startedAt := s.now()
	if err := s.store.UpdateRepoSyncStatus(ctx, repo.ID, model.SyncSyncing, nil); err != nil {
		return res, err
	}

	// Seed the expected total so sync_progress is meaningful during the run.
	// A failed count leaves the total at its previous value; progress then
	// reports against a stale denominator rather than failing the sync.
	if total, err := fetcher.PullRequestCount(ctx, repo.Owner(), repo.Name(), opts.DaysBack); err != nil {
		logger.Warn("Failed to count pull requests for progress", "error", err)
	} else {
		repo.SyncPRsTotal = total
		if err := s.store.UpdateRepoSyncProgress(ctx, repo.ID, 0, total, 0); err != nil {
			logger.Warn("Failed to seed sync progress", "error", err)
		}
	}

	var skipCutoff time.Time
	if opts.SkipRecent > 0 {
		skipCutoff = s.now().AddDate(0, 0, -opts.SkipRecent)
	}

	logger.Info("Starting history sync", "days_back", opts.DaysBack, "skip_recent", opts.SkipRecent)

	for pr, err := range fetcher.PullRequests(ctx, repo.Owner(), repo.Name(), opts.DaysBack) {
		if err != nil {
			// Page-level failure: nothing further can be fetched.
			s.markSyncError(ctx, repo, err)
			return res, err
		}
		if !skipCutoff.IsZero() && pr.UpdatedAt.After(skipCutoff) {
			continue
		}

		stop, err := s.syncOne(ctx, fetcher, repo, pr, res)
		if err != nil {
			s.markSyncError(ctx, repo, err)
			return res, err
		}
		if stop {
			logger.Warn("Rate limit floor reached, stopping early",
				"prs_synced", res.PRsSynced, "floor", s.rateLimitFloor)
			return res, nil
		}
	}

	if err := s.finishSync(ctx, repo, startedAt, res); err != nil {
		return res, err
	}
	logger.Info("History sync complete", "prs_synced", res.PRsSynced,
		"reviews_synced", res.ReviewsSynced, "failed", res.Failed)
	return res, nil
}

// SyncRepositoryIncremental syncs the delta since the repository's last
// sync. With no previous sync it falls back to a full history sync, and
// with a very stale one it falls back to a bounded resync: walking the
// issues API across months of history is slower than re-listing it.
func (s *Syncer) SyncRepositoryIncremental(ctx context.Context, repo *model.TrackedRepository) (*Result, error) {
	logger := s.logger.With("repo", repo.FullName, "team_id", repo.TeamID)

	if repo.LastSyncAt == nil {
		logger.Info("No previous sync recorded, running full history sync")
		return s.SyncRepositoryHistory(ctx, repo, Options{})
	}
	if s.incrementalMaxAge > 0 && s.now().Sub(*repo.LastSyncAt) > s.incrementalMaxAge {
		days := int(s.incrementalMaxAge.Hours() / 24)
		logger.Info("Last sync too old for incremental, running bounded resync", "days_back", days)
		return s.SyncRepositoryHistory(ctx, repo, Options{DaysBack: days})
	}

	res := &Result{}
	token, err := s.tokens.AccessToken(ctx, repo)
	if err != nil {
		s.markSyncError(ctx, repo, err)
		return res, err
	}
	fetcher := s.newFetcher(token)

	startedAt := s.now()
	logger.Info("Starting incremental sync", "since", repo.LastSyncAt.Format(time.RFC3339))

	prs, err := fetcher.PullRequestsSince(ctx, repo.Owner(), repo.Name(), *repo.LastSyncAt)
	if err != nil {
		s.markSyncError(ctx, repo, err)
		return res, err
	}

	repo.SyncPRsTotal = len(prs)
	if err := s.store.UpdateRepoSyncProgress(ctx, repo.ID, 0, len(prs), 0); err != nil {
		logger.Warn("Failed to seed sync progress", "error", err)
	}

	for _, pr := range prs {
		stop, err := s.syncOne(ctx, fetcher, repo, pr, res)
		if err != nil {
			s.markSyncError(ctx, repo, err)
			return res, err
		}
		if stop {
			logger.Warn("Rate limit floor reached during incremental sync", "prs_synced", res.PRsSynced)
			return res, nil
		}
	}

	if err := s.finishSync(ctx, repo, startedAt, res); err != nil {
		return res, err
	}
	logger.Info("Incremental sync complete", "prs_synced", res.PRsSynced, "reviews_synced", res.ReviewsSynced)
	return res, nil
}

// syncOne processes a single pull request with failure isolation: anything
// but an authentication error is counted and skipped. It then probes the
// remaining quota and reports whether the run must stop.
func (s *Syncer) syncOne(ctx context.Context, fetcher Fetcher, repo *model.TrackedRepository, pr *model.PullRequest, res *Result) (bool, error) {
	reviews, err := s.processPullRequest(ctx, fetcher, repo, pr)
	if err != nil {
		if apperrors.IsAuth(err) {
			// Every remaining PR would fail identically.
			return false, err
		}
		res.Failed++
		s.logger.Error("Failed to process pull request, continuing",
			"repo", repo.FullName, "pr_number", pr.Number, "error", err)
	} else {
		res.PRsSynced++
		res.ReviewsSynced += reviews
	}

	completed := res.PRsSynced + res.Failed
	if err := s.store.UpdateRepoSyncProgress(ctx, repo.ID, completed, repo.SyncPRsTotal, progressPercent(completed, repo.SyncPRsTotal)); err != nil {
		s.logger.Warn("Failed to update sync progress", "repo", repo.FullName, "error", err)
	}

	rl, err := fetcher.RateLimit(ctx)
	if err != nil {
		s.logger.Warn("Failed to query rate limit", "repo", repo.FullName, "error", err)
		return false, nil
	}
	if err := s.store.UpdateRepoRateLimit(ctx, repo.ID, rl.Remaining, rl.ResetAt); err != nil {
		s.logger.Warn("Failed to persist rate limit", "repo", repo.FullName, "error", err)
	}
	if rl.Remaining < s.rateLimitFloor {
		res.RateLimited = true
		return true, nil
	}
	return false, nil
}

// processPullRequest upserts the canonical PR and all of its sub-records.
// Returns the number of reviews synced.
func (s *Syncer) processPullRequest(ctx context.Context, fetcher Fetcher, repo *model.TrackedRepository, pr *model.PullRequest) (int, error) {
	prID, err := s.upsertPullRequest(ctx, repo, pr)
	if err != nil {
		return 0, err
	}

	reviews, err := fetcher.Reviews(ctx, repo.Owner(), repo.Name(), pr.Number)
	if err != nil {
		return 0, err
	}
	synced, err := s.upsertReviews(ctx, repo, prID, pr, reviews)
	if err != nil {
		return synced, err
	}

	// Sub-record failures below PR level are logged and skipped; they never
	// fail the PR.
	headSHA := s.syncCommits(ctx, fetcher, repo, prID, pr)
	if headSHA != "" {
		s.syncCheckRuns(ctx, fetcher, repo, prID, headSHA)
	}
	s.syncComments(ctx, fetcher, repo, prID, pr)

	return synced, nil
}

// upsertPullRequest is the single canonical PR write path, shared by the
// history sync, the incremental sync and the webhook ingestor.
func (s *Syncer) upsertPullRequest(ctx context.Context, repo *model.TrackedRepository, pr *model.PullRequest) (int64, error) {
	pr.TeamID = repo.TeamID
	pr.RepositoryID = repo.ID
	pr.TrackerKey = model.ExtractTrackerKey(pr.Title, pr.BranchName)

	member, err := s.store.GetTeamMemberByGithubID(ctx, repo.TeamID, pr.AuthorGithubID)
	if err != nil {
		return 0, err
	}
	if member != nil {
		pr.AuthorID = &member.ID
	}

	if pr.MergedAt != nil {
		hours := model.HoursBetween(pr.CreatedAt, *pr.MergedAt)
		pr.CycleTimeHours = &hours
	}

	return s.store.UpsertPullRequest(ctx, pr)
}

func (s *Syncer) upsertReviews(ctx context.Context, repo *model.TrackedRepository, prID int64, pr *model.PullRequest, reviews []*model.Review) (int, error) {
	var firstReview *time.Time
	synced := 0
	for _, review := range reviews {
		review.TeamID = repo.TeamID
		review.PullRequestID = prID
		review.GithubPRID = pr.GithubPRID

		reviewer, err := s.store.GetTeamMemberByGithubID(ctx, repo.TeamID, review.ReviewerGithubID)
		if err != nil {
			return synced, err
		}
		if reviewer != nil {
			review.ReviewerID = &reviewer.ID
		}

		if err := s.store.UpsertReview(ctx, review); err != nil {
			return synced, err
		}
		synced++

		if !review.SubmittedAt.IsZero() && (firstReview == nil || review.SubmittedAt.Before(*firstReview)) {
			t := review.SubmittedAt
			firstReview = &t
		}
	}

	if firstReview != nil {
		hours := model.HoursBetween(pr.CreatedAt, *firstReview)
		if err := s.store.SetFirstReview(ctx, prID, *firstReview, hours); err != nil {
			return synced, err
		}
	}
	return synced, nil
}

func (s *Syncer) syncCommits(ctx context.Context, fetcher Fetcher, repo *model.TrackedRepository, prID int64, pr *model.PullRequest) string {
	commits, err := fetcher.Commits(ctx, repo.Owner(), repo.Name(), pr.Number)
	if err != nil {
		s.logger.Warn("Failed to fetch commits", "repo", repo.FullName, "pr_number", pr.Number, "error", err)
		return ""
	}
	headSHA := ""
	for _, commit := range commits {
		commit.TeamID = repo.TeamID
		commit.PullRequestID = prID
		if err := s.store.UpsertCommit(ctx, commit); err != nil {
			s.logger.Warn("Failed to upsert commit", "repo", repo.FullName, "sha", commit.SHA, "error", err)
			continue
		}
		headSHA = commit.SHA
	}
	return headSHA
}

func (s *Syncer) syncCheckRuns(ctx context.Context, fetcher Fetcher, repo *model.TrackedRepository, prID int64, headSHA string) {
	runs, err := fetcher.CheckRuns(ctx, repo.Owner(), repo.Name(), headSHA)
	if err != nil {
		s.logger.Warn("Failed to fetch check runs", "repo", repo.FullName, "ref", headSHA, "error", err)
		return
	}
	for _, run := range runs {
		run.TeamID = repo.TeamID
		run.PullRequestID = prID
		if err := s.store.UpsertCheckRun(ctx, run); err != nil {
			s.logger.Warn("Failed to upsert check run", "repo", repo.FullName, "check_id", run.GithubCheckID, "error", err)
		}
	}
}

func (s *Syncer) syncComments(ctx context.Context, fetcher Fetcher, repo *model.TrackedRepository, prID int64, pr *model.PullRequest) {
	comments, err := fetcher.Comments(ctx, repo.Owner(), repo.Name(), pr.Number)
	if err != nil {
		s.logger.Warn("Failed to fetch comments", "repo", repo.FullName, "pr_number", pr.Number, "error", err)
		return
	}
	for _, comment := range comments {
		comment.TeamID = repo.TeamID
		comment.PullRequestID = prID
		if err := s.store.UpsertComment(ctx, comment); err != nil {
			s.logger.Warn("Failed to upsert comment", "repo", repo.FullName, "comment_id", comment.GithubCommentID, "error", err)
		}
	}
}

func (s *Syncer) finishSync(ctx context.Context, repo *model.TrackedRepository, startedAt time.Time, res *Result) error {
	// last_sync_at is the sync start time so records updated mid-run are
	// picked up again by the next incremental pass.
	if err := s.store.SetRepoLastSyncAt(ctx, repo.ID, startedAt); err != nil {
		return err
	}
	completed := res.PRsSynced + res.Failed
	if err := s.store.UpdateRepoSyncProgress(ctx, repo.ID, completed, completed, 100); err != nil {
		return err
	}
	return s.store.UpdateRepoSyncStatus(ctx, repo.ID, model.SyncComplete, nil)
}

// markSyncError logs the raw cause and persists only a class-based message:
// last_sync_error is served to the tenant by the sync-status endpoint.
func (s *Syncer) markSyncError(ctx context.Context, repo *model.TrackedRepository, cause error) {
	s.logger.Error("Sync failed", "repo", repo.FullName, "error", cause)
	msg := apperrors.Sanitize(cause)
	if err := s.store.UpdateRepoSyncStatus(ctx, repo.ID, model.SyncError, &msg); err != nil {
		s.logger.Error("Failed to record sync error", "repo", repo.FullName, "error", err)
	}
}

func progressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	p := completed * 100 / total
	if p > 100 {
		p = 100
	}
	return p
}
