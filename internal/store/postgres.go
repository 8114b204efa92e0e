// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dev-insights-service/internal/model"
)

// Postgres is the pgx-backed data access layer. Every entity write is an
// identity-keyed upsert, which is what lets sync jobs and webhook events be
// redelivered or race without producing duplicate rows.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	var t model.Team
	err := s.pool.QueryRow(ctx, queryGetTeam, id).Scan(
		&t.ID, &t.Name, &t.HasGithubIntegration, &t.PipelineStatus,
		&t.PipelineStartedAt, &t.PipelineCompletedAt, &t.PipelineError,
		&t.DBCreatedAt, &t.DBUpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get team %d: %w", id, err)
	}
	return &t, nil
}

func (s *Postgres) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := s.pool.Query(ctx, queryListTeams)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(
			&t.ID, &t.Name, &t.HasGithubIntegration, &t.PipelineStatus,
			&t.PipelineStartedAt, &t.PipelineCompletedAt, &t.PipelineError,
			&t.DBCreatedAt, &t.DBUpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *Postgres) SetPipelineStatus(ctx context.Context, teamID int64, status model.PipelineStatus, errMsg *string) error {
	tag, err := s.pool.Exec(ctx, querySetPipelineStatus, teamID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("set pipeline status for team %d: %w", teamID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set pipeline status for team %d: %w", teamID, pgx.ErrNoRows)
	}
	return nil
}

func (s *Postgres) GetTrackedRepo(ctx context.Context, id int64) (*model.TrackedRepository, error) {
	repo, err := scanRepo(s.pool.QueryRow(ctx, queryGetTrackedRepo, id))
	if err != nil {
		return nil, fmt.Errorf("get tracked repo %d: %w", id, err)
	}
	return repo, nil
}

func (s *Postgres) ListTeamRepos(ctx context.Context, teamID int64) ([]model.TrackedRepository, error) {
	return s.listRepos(ctx, queryListTeamRepos, teamID)
}

func (s *Postgres) ListTrackedReposByGithubID(ctx context.Context, githubRepoID int64) ([]model.TrackedRepository, error) {
	return s.listRepos(ctx, queryListReposByGithubID, githubRepoID)
}

func (s *Postgres) listRepos(ctx context.Context, query string, arg any) ([]model.TrackedRepository, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list tracked repos: %w", err)
	}
	defer rows.Close()

	var repos []model.TrackedRepository
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked repo: %w", err)
		}
		repos = append(repos, *repo)
	}
	return repos, rows.Err()
}

func scanRepo(row pgx.Row) (*model.TrackedRepository, error) {
	var r model.TrackedRepository
	err := row.Scan(
		&r.ID, &r.TeamID, &r.GithubRepoID, &r.FullName, &r.IsActive, &r.WebhookSecret, &r.WebhookID,
		&r.SyncStatus, &r.SyncProgress, &r.SyncPRsTotal, &r.SyncPRsCompleted,
		&r.LastSyncAt, &r.LastSyncError, &r.RateLimitRemaining, &r.RateLimitResetAt,
		&r.DBCreatedAt, &r.DBUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Postgres) UpdateRepoSyncStatus(ctx context.Context, repoID int64, status model.SyncStatus, syncErr *string) error {
	_, err := s.pool.Exec(ctx, queryUpdateRepoSyncStatus, repoID, string(status), syncErr)
	if err != nil {
		return fmt.Errorf("update sync status for repo %d: %w", repoID, err)
	}
	return nil
}

func (s *Postgres) UpdateRepoSyncProgress(ctx context.Context, repoID int64, completed, total, progress int) error {
	_, err := s.pool.Exec(ctx, queryUpdateRepoSyncProgress, repoID, completed, total, progress)
	if err != nil {
		return fmt.Errorf("update sync progress for repo %d: %w", repoID, err)
	}
	return nil
}

func (s *Postgres) UpdateRepoRateLimit(ctx context.Context, repoID int64, remaining int, resetAt time.Time) error {
	_, err := s.pool.Exec(ctx, queryUpdateRepoRateLimit, repoID, remaining, resetAt)
	if err != nil {
		return fmt.Errorf("update rate limit for repo %d: %w", repoID, err)
	}
	return nil
}

func (s *Postgres) SetRepoLastSyncAt(ctx context.Context, repoID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, querySetRepoLastSyncAt, repoID, at)
	if err != nil {
		return fmt.Errorf("set last sync time for repo %d: %w", repoID, err)
	}
	return nil
}

// GetTeamMemberByGithubID returns (nil, nil) when no member matches: an
// unmatched external author is an expected outcome, not an error.
func (s *Postgres) GetTeamMemberByGithubID(ctx context.Context, teamID, githubUserID int64) (*model.TeamMember, error) {
	var m model.TeamMember
	err := s.pool.QueryRow(ctx, queryGetTeamMemberByGithubID, teamID, githubUserID).Scan(
		&m.ID, &m.TeamID, &m.GithubUserID, &m.Login,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get team member: %w", err)
	}
	return &m, nil
}

func (s *Postgres) UpsertTeamMember(ctx context.Context, m *model.TeamMember) error {
	_, err := s.pool.Exec(ctx, queryUpsertTeamMember, m.TeamID, m.GithubUserID, m.Login)
	if err != nil {
		return fmt.Errorf("upsert team member %q: %w", m.Login, err)
	}
	return nil
}

// UpsertPullRequest writes the canonical PR keyed by (team_id, github_pr_id)
// and returns the internal row id. first_review_at and review_time_hours are
// deliberately not touched here; SetFirstReview owns them.
func (s *Postgres) UpsertPullRequest(ctx context.Context, pr *model.PullRequest) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, queryUpsertPullRequest,
		pr.TeamID, pr.RepositoryID, pr.GithubPRID, pr.Number, pr.Title, pr.State,
		pr.AuthorID, pr.AuthorGithubID, pr.AuthorLogin, pr.BranchName, pr.TrackerKey,
		pr.Additions, pr.Deletions, pr.CommitsCount, pr.ChangedFiles,
		pr.CreatedAt, pr.UpdatedAt, pr.MergedAt, pr.ClosedAt, pr.CycleTimeHours,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert pull request %d: %w", pr.GithubPRID, err)
	}
	return id, nil
}

func (s *Postgres) UpsertReview(ctx context.Context, r *model.Review) error {
	_, err := s.pool.Exec(ctx, queryUpsertReview,
		r.TeamID, r.PullRequestID, r.GithubReviewID, r.GithubPRID,
		r.ReviewerID, r.ReviewerGithubID, r.ReviewerLogin, r.State, r.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert review %d: %w", r.GithubReviewID, err)
	}
	return nil
}

func (s *Postgres) UpsertCommit(ctx context.Context, c *model.Commit) error {
	_, err := s.pool.Exec(ctx, queryUpsertCommit,
		c.TeamID, c.PullRequestID, c.SHA, c.AuthorName, c.AuthorEmail, c.Message, c.CommitDate,
	)
	if err != nil {
		return fmt.Errorf("upsert commit %s: %w", c.SHA, err)
	}
	return nil
}

func (s *Postgres) UpsertCheckRun(ctx context.Context, c *model.CheckRun) error {
	_, err := s.pool.Exec(ctx, queryUpsertCheckRun,
		c.TeamID, c.PullRequestID, c.GithubCheckID, c.Name, c.Status, c.Conclusion, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert check run %d: %w", c.GithubCheckID, err)
	}
	return nil
}

func (s *Postgres) UpsertComment(ctx context.Context, c *model.Comment) error {
	_, err := s.pool.Exec(ctx, queryUpsertComment,
		c.TeamID, c.PullRequestID, c.GithubCommentID, c.AuthorLogin, c.Body, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert comment %d: %w", c.GithubCommentID, err)
	}
	return nil
}

func (s *Postgres) EarliestReviewSubmittedAt(ctx context.Context, pullRequestID int64) (*time.Time, error) {
	var earliest *time.Time
	err := s.pool.QueryRow(ctx, queryEarliestReview, pullRequestID).Scan(&earliest)
	if err != nil {
		return nil, fmt.Errorf("earliest review for PR %d: %w", pullRequestID, err)
	}
	return earliest, nil
}

func (s *Postgres) SetFirstReview(ctx context.Context, pullRequestID int64, at time.Time, reviewTimeHours float64) error {
	_, err := s.pool.Exec(ctx, querySetFirstReview, pullRequestID, at, reviewTimeHours)
	if err != nil {
		return fmt.Errorf("set first review for PR %d: %w", pullRequestID, err)
	}
	return nil
}

// InsertWebhookDelivery records a delivery id for replay detection. It
// returns false when the id was already seen inside the TTL window. Expired
// ids are reaped opportunistically on each call.
func (s *Postgres) InsertWebhookDelivery(ctx context.Context, deliveryID string, ttl time.Duration) (bool, error) {
	if _, err := s.pool.Exec(ctx, queryDeleteExpiredDeliveries, time.Now().Add(-ttl)); err != nil {
		return false, fmt.Errorf("expire webhook deliveries: %w", err)
	}
	tag, err := s.pool.Exec(ctx, queryInsertWebhookDelivery, deliveryID)
	if err != nil {
		return false, fmt.Errorf("record webhook delivery %q: %w", deliveryID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) TeamMetricsSummary(ctx context.Context, teamID int64) (*model.MetricsSummary, error) {
	summary := model.MetricsSummary{TeamID: teamID, ComputedAt: time.Now()}
	err := s.pool.QueryRow(ctx, queryTeamMetricsSummary, teamID).Scan(
		&summary.TotalPRs, &summary.MergedPRs,
		&summary.AvgCycleTimeHours, &summary.AvgReviewTimeHours,
	)
	if err != nil {
		return nil, fmt.Errorf("metrics summary for team %d: %w", teamID, err)
	}
	return &summary, nil
}

func (s *Postgres) UpsertTeamMetrics(ctx context.Context, m *model.MetricsSummary) error {
	_, err := s.pool.Exec(ctx, queryUpsertTeamMetrics,
		m.TeamID, m.TotalPRs, m.MergedPRs, m.AvgCycleTimeHours, m.AvgReviewTimeHours, m.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert metrics for team %d: %w", m.TeamID, err)
	}
	return nil
}

func (s *Postgres) GetCredential(ctx context.Context, teamID int64, kind model.CredentialKind) (*model.Credential, error) {
	var c model.Credential
	err := s.pool.QueryRow(ctx, queryGetCredential, teamID, string(kind)).Scan(
		&c.ID, &c.TeamID, &c.Kind, &c.Token, &c.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s credential for team %d: %w", kind, teamID, err)
	}
	return &c, nil
}

func (s *Postgres) UpdateCredentialToken(ctx context.Context, id int64, token string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, queryUpdateCredentialToken, id, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update credential %d: %w", id, err)
	}
	return nil
}
