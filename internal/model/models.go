// internal/model/models.go
package model

import (
	"time"
)

// SyncStatus tracks where a repository is in its history sync.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSyncing  SyncStatus = "syncing"
	SyncComplete SyncStatus = "complete"
	SyncError    SyncStatus = "error"
)

// Team is the tenant. All ingested data is scoped to a team, and each team
// runs its own onboarding pipeline independently.
type Team struct {
	ID                   int64
	Name                 string
	HasGithubIntegration bool
	PipelineStatus       PipelineStatus
	PipelineStartedAt    *time.Time
	PipelineCompletedAt  *time.Time
	PipelineError        *string
	DBCreatedAt          time.Time
	DBUpdatedAt          time.Time
}

// TeamMember is a known member of a team, matched against external activity
// by their GitHub user id.
type TeamMember struct {
	ID           int64
	TeamID       int64
	GithubUserID int64
	Login        string
}

// TrackedRepository binds one external repository to one team. The same
// GitHub repository may be tracked by several teams, each row carrying its
// own webhook secret.
type TrackedRepository struct {
	ID                 int64
	TeamID             int64
	GithubRepoID       int64
	FullName           string // "owner/name"
	IsActive           bool
	WebhookSecret      string
	WebhookID          *int64
	SyncStatus         SyncStatus
	SyncProgress       int // 0-100
	SyncPRsTotal       int
	SyncPRsCompleted   int
	LastSyncAt         *time.Time
	LastSyncError      *string
	RateLimitRemaining *int
	RateLimitResetAt   *time.Time
	DBCreatedAt        time.Time
	DBUpdatedAt        time.Time
}

// Owner returns the "owner" half of FullName, or "" if malformed.
func (r *TrackedRepository) Owner() string {
	owner, _ := splitFullName(r.FullName)
	return owner
}

// Name returns the "name" half of FullName, or "" if malformed.
func (r *TrackedRepository) Name() string {
	_, name := splitFullName(r.FullName)
	return name
}

func splitFullName(fullName string) (string, string) {
	for i := 0; i < len(fullName); i++ {
		if fullName[i] == '/' {
			return fullName[:i], fullName[i+1:]
		}
	}
	return "", ""
}

// PullRequest is the canonical, platform-agnostic pull request record.
// Identity is (TeamID, GithubPRID); upserts by that key are idempotent.
type PullRequest struct {
	ID              int64
	TeamID          int64
	RepositoryID    int64
	GithubPRID      int64
	Number          int
	Title           string
	State           string // open|closed|merged
	AuthorID        *int64 // nil when the author is not a known team member
	AuthorGithubID  int64
	AuthorLogin     string
	BranchName      string
	TrackerKey      *string // issue key parsed from title or branch
	Additions       int
	Deletions       int
	CommitsCount    int
	ChangedFiles    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	MergedAt        *time.Time
	ClosedAt        *time.Time
	FirstReviewAt   *time.Time
	CycleTimeHours  *float64
	ReviewTimeHours *float64
}

// Review is a canonical pull request review. Identity is
// (TeamID, GithubReviewID).
type Review struct {
	ID               int64
	TeamID           int64
	PullRequestID    int64
	GithubReviewID   int64
	GithubPRID       int64
	ReviewerID       *int64 // nil when the reviewer is not a known team member
	ReviewerGithubID int64
	ReviewerLogin    string
	State            string
	SubmittedAt      time.Time
}

// Commit is a canonical commit attached to a pull request.
type Commit struct {
	TeamID        int64
	PullRequestID int64
	SHA           string
	AuthorName    string
	AuthorEmail   string
	Message       string
	CommitDate    time.Time
}

// CheckRun is a canonical CI check result for a pull request head.
type CheckRun struct {
	TeamID        int64
	PullRequestID int64
	GithubCheckID int64
	Name          string
	Status        string
	Conclusion    *string
	CompletedAt   *time.Time
}

// Comment is a canonical issue comment on a pull request.
type Comment struct {
	TeamID          int64
	PullRequestID   int64
	GithubCommentID int64
	AuthorLogin     string
	Body            string
	CreatedAt       time.Time
}

// RateLimit is the remaining API quota reported by the platform.
type RateLimit struct {
	Remaining int
	ResetAt   time.Time
}

// MetricsSummary holds team-level aggregates over canonical pull requests.
type MetricsSummary struct {
	TeamID             int64
	TotalPRs           int
	MergedPRs          int
	AvgCycleTimeHours  *float64
	AvgReviewTimeHours *float64
	ComputedAt         time.Time
}

// CredentialKind distinguishes the two token flavors.
type CredentialKind string

const (
	CredentialInstallation CredentialKind = "installation"
	CredentialOAuth        CredentialKind = "oauth"
)

// Credential is an opaque access token scoped to a team. Installation
// credentials are refreshable; OAuth credentials are the fallback.
type Credential struct {
	ID        int64
	TeamID    int64
	Kind      CredentialKind
	Token     string
	ExpiresAt *time.Time
}

// Expired reports whether the credential has an expiry in the past.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}
