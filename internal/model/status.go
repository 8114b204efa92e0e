// internal/model/status.go
package model

// PipelineStatus is the single source of truth for a team's onboarding
// pipeline. There is no separate job ledger: each stage's job writes the
// next status, and the orchestrator dispatches off that write.
//
// Phase 1 (blocking) runs not_started through phase1_complete; a failure
// anywhere in it parks the pipeline in failed and the dashboard stays
// locked. Phase 2 (background) runs background_syncing through complete;
// a failure there falls back to phase1_complete and the dashboard stays
// open on the Phase 1 data.
type PipelineStatus string

const (
	PipelineNotStarted         PipelineStatus = "not_started"
	PipelineSyncingMembers     PipelineStatus = "syncing_members"
	PipelineSyncing            PipelineStatus = "syncing"
	PipelineLLMProcessing      PipelineStatus = "llm_processing"
	PipelineComputingMetrics   PipelineStatus = "computing_metrics"
	PipelineComputingInsights  PipelineStatus = "computing_insights"
	PipelinePhase1Complete     PipelineStatus = "phase1_complete"
	PipelineBackgroundSyncing  PipelineStatus = "background_syncing"
	PipelineBackgroundLLM      PipelineStatus = "background_llm"
	PipelineBackgroundInsights PipelineStatus = "background_insights"
	PipelineComplete           PipelineStatus = "complete"
	PipelineFailed             PipelineStatus = "failed"
)

// PipelineStatuses lists every valid status value.
var PipelineStatuses = []PipelineStatus{
	PipelineNotStarted,
	PipelineSyncingMembers,
	PipelineSyncing,
	PipelineLLMProcessing,
	PipelineComputingMetrics,
	PipelineComputingInsights,
	PipelinePhase1Complete,
	PipelineBackgroundSyncing,
	PipelineBackgroundLLM,
	PipelineBackgroundInsights,
	PipelineComplete,
	PipelineFailed,
}

// Phase1 reports whether s is one of the blocking foreground stages.
func (s PipelineStatus) Phase1() bool {
	switch s {
	case PipelineSyncingMembers, PipelineSyncing, PipelineLLMProcessing,
		PipelineComputingMetrics, PipelineComputingInsights:
		return true
	}
	return false
}

// Phase2 reports whether s is one of the background stages.
func (s PipelineStatus) Phase2() bool {
	switch s {
	case PipelineBackgroundSyncing, PipelineBackgroundLLM, PipelineBackgroundInsights:
		return true
	}
	return false
}

// Terminal reports whether no further stage runs from s on its own.
func (s PipelineStatus) Terminal() bool {
	switch s {
	case PipelineNotStarted, PipelineComplete, PipelineFailed:
		return true
	}
	return false
}

// DashboardAccessible reports whether the team may see its dashboard.
// Access opens once Phase 1 has completed and is never taken away by a
// Phase 2 failure.
func (s PipelineStatus) DashboardAccessible() bool {
	switch s {
	case PipelinePhase1Complete, PipelineBackgroundSyncing, PipelineBackgroundLLM,
		PipelineBackgroundInsights, PipelineComplete:
		return true
	}
	return false
}
