// internal/syncer/events.go
package syncer

import (
	"context"

	"dev-insights-service/internal/model"
)

// Webhook events feed the same canonical upsert paths as the history sync,
// keyed by the tenant the ingestor resolved. Redelivered events hit the
// same identity keys and change nothing.

// ApplyPullRequest upserts a live pull request update.
func (s *Syncer) ApplyPullRequest(ctx context.Context, repo *model.TrackedRepository, pr *model.PullRequest) error {
	if _, err := s.upsertPullRequest(ctx, repo, pr); err != nil {
		return err
	}
	return s.store.SetRepoLastSyncAt(ctx, repo.ID, s.now())
}

// ApplyReview upserts a submitted review together with the pull request it
// belongs to, and re-derives the PR's first-review timing.
func (s *Syncer) ApplyReview(ctx context.Context, repo *model.TrackedRepository, pr *model.PullRequest, review *model.Review) error {
	prID, err := s.upsertPullRequest(ctx, repo, pr)
	if err != nil {
		return err
	}

	review.TeamID = repo.TeamID
	review.PullRequestID = prID
	review.GithubPRID = pr.GithubPRID

	reviewer, err := s.store.GetTeamMemberByGithubID(ctx, repo.TeamID, review.ReviewerGithubID)
	if err != nil {
		return err
	}
	if reviewer != nil {
		review.ReviewerID = &reviewer.ID
	}

	if err := s.store.UpsertReview(ctx, review); err != nil {
		return err
	}

	// The earliest submitted_at across all stored reviews wins, not the
	// event's own timestamp: events can arrive out of order.
	earliest, err := s.store.EarliestReviewSubmittedAt(ctx, prID)
	if err != nil {
		return err
	}
	if earliest != nil {
		hours := model.HoursBetween(pr.CreatedAt, *earliest)
		if err := s.store.SetFirstReview(ctx, prID, *earliest, hours); err != nil {
			return err
		}
	}

	return s.store.SetRepoLastSyncAt(ctx, repo.ID, s.now())
}
