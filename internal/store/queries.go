// internal/store/queries.go
package store

const (
	queryGetTeam = `select id, name, has_github_integration, pipeline_status,
			pipeline_started_at, pipeline_completed_at, pipeline_error, created_at, updated_at
		from teams where id = $1`

	queryListTeams = `select id, name, has_github_integration, pipeline_status,
			pipeline_started_at, pipeline_completed_at, pipeline_error, created_at, updated_at
		from teams order by id`

	// Entering syncing_members stamps started_at, entering a terminal-ish
	// resting state stamps completed_at. A later restart overwrites both.
	querySetPipelineStatus = `update teams set
			pipeline_status = $2,
			pipeline_error = $3,
			pipeline_started_at = case when $2 = 'syncing_members' then now() else pipeline_started_at end,
			pipeline_completed_at = case when $2 in ('phase1_complete', 'complete', 'failed') then now() else pipeline_completed_at end,
			updated_at = now()
		where id = $1`

	repoColumns = `id, team_id, github_repo_id, full_name, is_active, webhook_secret, webhook_id,
		sync_status, sync_progress, sync_prs_total, sync_prs_completed,
		last_sync_at, last_sync_error, rate_limit_remaining, rate_limit_reset_at, created_at, updated_at`

	queryGetTrackedRepo = `select ` + repoColumns + ` from tracked_repositories where id = $1`

	queryListTeamRepos = `select ` + repoColumns + `
		from tracked_repositories where team_id = $1 and is_active order by id`

	queryListReposByGithubID = `select ` + repoColumns + `
		from tracked_repositories where github_repo_id = $1 and is_active order by id`

	queryUpdateRepoSyncStatus = `update tracked_repositories set
			sync_status = $2, last_sync_error = $3, updated_at = now()
		where id = $1`

	queryUpdateRepoSyncProgress = `update tracked_repositories set
			sync_prs_completed = $2, sync_prs_total = $3, sync_progress = $4, updated_at = now()
		where id = $1`

	queryUpdateRepoRateLimit = `update tracked_repositories set
			rate_limit_remaining = $2, rate_limit_reset_at = $3, updated_at = now()
		where id = $1`

	querySetRepoLastSyncAt = `update tracked_repositories set
			last_sync_at = $2, updated_at = now()
		where id = $1`

	queryGetTeamMemberByGithubID = `select id, team_id, github_user_id, login
		from team_members where team_id = $1 and github_user_id = $2`

	queryUpsertTeamMember = `insert into team_members (team_id, github_user_id, login)
		values ($1, $2, $3)
		on conflict (team_id, github_user_id) do update set login = excluded.login`

	queryUpsertPullRequest = `insert into pull_requests (
			team_id, repository_id, github_pr_id, number, title, state,
			author_id, author_github_id, author_login, branch_name, tracker_key,
			additions, deletions, commits_count, changed_files,
			pr_created_at, pr_updated_at, merged_at, closed_at, cycle_time_hours)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		on conflict (team_id, github_pr_id) do update set
			repository_id = excluded.repository_id,
			number = excluded.number,
			title = excluded.title,
			state = excluded.state,
			author_id = excluded.author_id,
			author_github_id = excluded.author_github_id,
			author_login = excluded.author_login,
			branch_name = excluded.branch_name,
			tracker_key = excluded.tracker_key,
			additions = excluded.additions,
			deletions = excluded.deletions,
			commits_count = excluded.commits_count,
			changed_files = excluded.changed_files,
			pr_created_at = excluded.pr_created_at,
			pr_updated_at = excluded.pr_updated_at,
			merged_at = excluded.merged_at,
			closed_at = excluded.closed_at,
			cycle_time_hours = excluded.cycle_time_hours,
			updated_at = now()
		returning id`

	queryUpsertReview = `insert into reviews (
			team_id, pull_request_id, github_review_id, github_pr_id,
			reviewer_id, reviewer_github_id, reviewer_login, state, submitted_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (team_id, github_review_id) do update set
			pull_request_id = excluded.pull_request_id,
			reviewer_id = excluded.reviewer_id,
			reviewer_github_id = excluded.reviewer_github_id,
			reviewer_login = excluded.reviewer_login,
			state = excluded.state,
			submitted_at = excluded.submitted_at`

	queryUpsertCommit = `insert into commits (
			team_id, pull_request_id, sha, author_name, author_email, message, commit_date)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (team_id, sha) do update set
			pull_request_id = excluded.pull_request_id,
			author_name = excluded.author_name,
			author_email = excluded.author_email,
			message = excluded.message,
			commit_date = excluded.commit_date`

	queryUpsertCheckRun = `insert into check_runs (
			team_id, pull_request_id, github_check_id, name, status, conclusion, completed_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (team_id, github_check_id) do update set
			pull_request_id = excluded.pull_request_id,
			name = excluded.name,
			status = excluded.status,
			conclusion = excluded.conclusion,
			completed_at = excluded.completed_at`

	queryUpsertComment = `insert into comments (
			team_id, pull_request_id, github_comment_id, author_login, body, comment_created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (team_id, github_comment_id) do update set
			pull_request_id = excluded.pull_request_id,
			author_login = excluded.author_login,
			body = excluded.body,
			comment_created_at = excluded.comment_created_at`

	queryEarliestReview = `select min(submitted_at) from reviews where pull_request_id = $1`

	querySetFirstReview = `update pull_requests set
			first_review_at = $2, review_time_hours = $3, updated_at = now()
		where id = $1`

	queryDeleteExpiredDeliveries = `delete from webhook_deliveries where received_at < $1`

	queryInsertWebhookDelivery = `insert into webhook_deliveries (delivery_id)
		values ($1) on conflict (delivery_id) do nothing`

	queryTeamMetricsSummary = `select
			count(*),
			count(*) filter (where state = 'merged'),
			avg(cycle_time_hours),
			avg(review_time_hours)
		from pull_requests where team_id = $1`

	queryUpsertTeamMetrics = `insert into team_metrics (
			team_id, total_prs, merged_prs, avg_cycle_time_hours, avg_review_time_hours, computed_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (team_id) do update set
			total_prs = excluded.total_prs,
			merged_prs = excluded.merged_prs,
			avg_cycle_time_hours = excluded.avg_cycle_time_hours,
			avg_review_time_hours = excluded.avg_review_time_hours,
			computed_at = excluded.computed_at`

	queryGetCredential = `select id, team_id, kind, token, expires_at
		from credentials where team_id = $1 and kind = $2`

	queryUpdateCredentialToken = `update credentials set
			token = $2, expires_at = $3, updated_at = now()
		where id = $1`
)
