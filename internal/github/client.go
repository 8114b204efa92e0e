// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"dev-insights-service/internal/apperrors"
	"dev-insights-service/internal/model"
)

const perPage = 100 // Max per page

// Client is a wrapper around the go-github client that produces canonical
// records. One Client is built per access token.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// PullRequests returns a lazy sequence of canonical pull requests ordered
// most-recently-updated first. Pages are fetched on demand, so very large
// histories are never materialized in memory.
//
// When daysBack > 0, production stops at the first record whose updated
// timestamp is older than now-daysBack: with updated-descending ordering
// every remaining page is guaranteed older, so the cutoff also bounds how
// many pages are requested at all.
func (c *Client) PullRequests(ctx context.Context, owner, name string, daysBack int) iter.Seq2[*model.PullRequest, error] {
	return func(yield func(*model.PullRequest, error) bool) {
		var cutoff time.Time
		if daysBack > 0 {
			cutoff = time.Now().AddDate(0, 0, -daysBack)
		}

		opts := &github.PullRequestListOptions{
			State:     "all",
			Sort:      "updated",
			Direction: "desc",
			ListOptions: github.ListOptions{
				PerPage: perPage,
			},
		}

		for {
			c.logger.Debug("Fetching pull requests page", "owner", owner, "repo", name, "page", opts.Page)

			prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
			if err != nil {
				yield(nil, classifyError(err))
				return
			}

			for _, pr := range prs {
				if !cutoff.IsZero() && pr.GetUpdatedAt().Time.Before(cutoff) {
					return
				}
				if !yield(ToPullRequest(pr), nil) {
					return
				}
			}

			if resp.NextPage == 0 {
				return
			}
			opts.Page = resp.NextPage
		}
	}
}

// PullRequestCount reports how many pull requests a history sync over the
// same bounds will walk, via the search API's total count. Used to seed the
// sync progress denominator.
func (c *Client) PullRequestCount(ctx context.Context, owner, name string, daysBack int) (int, error) {
	query := fmt.Sprintf("repo:%s/%s is:pr", owner, name)
	if daysBack > 0 {
		cutoff := time.Now().AddDate(0, 0, -daysBack)
		query += fmt.Sprintf(" updated:>=%s", cutoff.Format("2006-01-02"))
	}

	result, _, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, classifyError(err)
	}
	return result.GetTotal(), nil
}

// PullRequestsSince fetches the pull requests updated after since. The PR
// list API has no "since" filter, so this walks the issues API (which does)
// and discards everything that is not a pull request.
func (c *Client) PullRequestsSince(ctx context.Context, owner, name string, since time.Time) ([]*model.PullRequest, error) {
	opts := &github.IssueListByRepoOptions{
		State:     "all",
		Since:     since,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	var result []*model.PullRequest
	for {
		issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyError(err)
		}

		for _, issue := range issues {
			if !issue.IsPullRequest() {
				continue
			}
			pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, issue.GetNumber())
			if err != nil {
				return nil, classifyError(err)
			}
			result = append(result, ToPullRequest(pr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// Reviews fetches all reviews of a pull request.
func (c *Client) Reviews(ctx context.Context, owner, name string, number int) ([]*model.Review, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var result []*model.Review
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyError(err)
		}
		for _, review := range reviews {
			result = append(result, ToReview(review))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// Commits fetches all commits of a pull request.
func (c *Client) Commits(ctx context.Context, owner, name string, number int) ([]*model.Commit, error) {
	opts := &github.ListOptions{PerPage: perPage}

	var result []*model.Commit
	for {
		commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyError(err)
		}
		for _, commit := range commits {
			result = append(result, toCommit(commit))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// CheckRuns fetches the check runs for a commit ref.
func (c *Client) CheckRuns(ctx context.Context, owner, name, ref string) ([]*model.CheckRun, error) {
	opts := &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var result []*model.CheckRun
	for {
		runs, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, name, ref, opts)
		if err != nil {
			return nil, classifyError(err)
		}
		for _, run := range runs.CheckRuns {
			result = append(result, toCheckRun(run))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// Comments fetches the issue comments of a pull request.
func (c *Client) Comments(ctx context.Context, owner, name string, number int) ([]*model.Comment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var result []*model.Comment
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyError(err)
		}
		for _, comment := range comments {
			result = append(result, toComment(comment))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// RateLimit reports the remaining core API quota. The rate-limit endpoint
// itself does not count against the quota.
func (c *Client) RateLimit(ctx context.Context) (model.RateLimit, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return model.RateLimit{}, classifyError(err)
	}
	core := limits.GetCore()
	return model.RateLimit{
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time,
	}, nil
}

// OrgMembers lists the members of a GitHub organization.
func (c *Client) OrgMembers(ctx context.Context, org string) ([]*model.TeamMember, error) {
	opts := &github.ListMembersOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}

	var result []*model.TeamMember
	for {
		users, resp, err := c.gh.Organizations.ListMembers(ctx, org, opts)
		if err != nil {
			return nil, classifyError(err)
		}
		for _, u := range users {
			result = append(result, &model.TeamMember{
				GithubUserID: u.GetID(),
				Login:        u.GetLogin(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}

// classifyError maps go-github errors onto the typed taxonomy: 401/403
// become auth errors (abort), everything else keeps its upstream status for
// the caller to decide retry vs abort.
func classifyError(err error) error {
	var rlErr *github.RateLimitError
	if errors.As(err, &rlErr) {
		return &apperrors.APIError{StatusCode: http.StatusForbidden, Msg: "API rate limit exceeded"}
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			return &apperrors.AuthError{StatusCode: code, Msg: ghErr.Message}
		}
		return &apperrors.APIError{StatusCode: code, Msg: ghErr.Message}
	}

	return err
}
