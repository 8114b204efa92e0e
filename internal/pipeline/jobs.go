// internal/pipeline/jobs.go
package pipeline

import (
	"dev-insights-service/internal/model"
)

// Job names as registered on the queue.
const (
	JobSyncMembers        = "pipeline.sync_members"
	JobSyncHistory        = "pipeline.sync_history"
	JobRunLLM             = "pipeline.run_llm"
	JobComputeMetrics     = "pipeline.compute_metrics"
	JobComputeInsights    = "pipeline.compute_insights"
	JobStartBackground    = "pipeline.start_background"
	JobBackgroundSync     = "pipeline.background_sync"
	JobBackgroundLLM      = "pipeline.background_llm"
	JobBackgroundInsights = "pipeline.background_insights"
)

// statusJobs maps every non-terminal status to the job that executes that
// stage. The dispatch hook reads it on each persisted status write; a
// pipeline test asserts it stays exhaustive when statuses are added.
var statusJobs = map[model.PipelineStatus]string{
	model.PipelineSyncingMembers:     JobSyncMembers,
	model.PipelineSyncing:            JobSyncHistory,
	model.PipelineLLMProcessing:      JobRunLLM,
	model.PipelineComputingMetrics:   JobComputeMetrics,
	model.PipelineComputingInsights:  JobComputeInsights,
	model.PipelinePhase1Complete:     JobStartBackground,
	model.PipelineBackgroundSyncing:  JobBackgroundSync,
	model.PipelineBackgroundLLM:      JobBackgroundLLM,
	model.PipelineBackgroundInsights: JobBackgroundInsights,
}

// JobForStatus exposes the mapping for recovery tooling.
func JobForStatus(status model.PipelineStatus) (string, bool) {
	job, ok := statusJobs[status]
	return job, ok
}

// taskPayload is the JSON payload of every pipeline job.
type taskPayload struct {
	TeamID int64 `json:"team_id"`
}
