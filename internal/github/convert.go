// internal/github/convert.go
package github

import (
	"time"

	"github.com/google/go-github/v62/github"

	"dev-insights-service/internal/model"
)

// ToPullRequest translates a github.PullRequest into the canonical record.
// It is a pure mapping: tenant scoping, author matching and derived metrics
// are filled in by the sync engine. Exported because the webhook ingestor
// decodes the same DTO out of event payloads.
func ToPullRequest(pr *github.PullRequest) *model.PullRequest {
	state := pr.GetState()
	if pr.MergedAt != nil {
		state = "merged"
	}

	return &model.PullRequest{
		GithubPRID:     pr.GetID(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		State:          state,
		AuthorGithubID: pr.GetUser().GetID(),
		AuthorLogin:    pr.GetUser().GetLogin(),
		BranchName:     pr.GetHead().GetRef(),
		Additions:      pr.GetAdditions(),
		Deletions:      pr.GetDeletions(),
		CommitsCount:   pr.GetCommits(),
		ChangedFiles:   pr.GetChangedFiles(),
		CreatedAt:      pr.GetCreatedAt().Time,
		UpdatedAt:      pr.GetUpdatedAt().Time,
		MergedAt:       timePtr(pr.MergedAt),
		ClosedAt:       timePtr(pr.ClosedAt),
	}
}

// ToReview translates a github.PullRequestReview into the canonical record.
func ToReview(review *github.PullRequestReview) *model.Review {
	return &model.Review{
		GithubReviewID:   review.GetID(),
		ReviewerGithubID: review.GetUser().GetID(),
		ReviewerLogin:    review.GetUser().GetLogin(),
		State:            review.GetState(),
		SubmittedAt:      review.GetSubmittedAt().Time,
	}
}

func toCommit(commit *github.RepositoryCommit) *model.Commit {
	return &model.Commit{
		SHA:         commit.GetSHA(),
		AuthorName:  commit.GetCommit().GetAuthor().GetName(),
		AuthorEmail: commit.GetCommit().GetAuthor().GetEmail(),
		Message:     commit.GetCommit().GetMessage(),
		CommitDate:  commit.GetCommit().GetAuthor().GetDate().Time,
	}
}

func toCheckRun(run *github.CheckRun) *model.CheckRun {
	var conclusion *string
	if run.Conclusion != nil {
		conclusion = run.Conclusion
	}
	return &model.CheckRun{
		GithubCheckID: run.GetID(),
		Name:          run.GetName(),
		Status:        run.GetStatus(),
		Conclusion:    conclusion,
		CompletedAt:   timePtr(run.CompletedAt),
	}
}

func toComment(comment *github.IssueComment) *model.Comment {
	return &model.Comment{
		GithubCommentID: comment.GetID(),
		AuthorLogin:     comment.GetUser().GetLogin(),
		Body:            comment.GetBody(),
		CreatedAt:       comment.GetCreatedAt().Time,
	}
}

func timePtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}
