// internal/pipeline/stages.go
package pipeline

import (
	"context"

	"dev-insights-service/internal/model"
)

// MemberSource resolves a team's members from the external platform.
type MemberSource interface {
	Members(ctx context.Context, team *model.Team) ([]*model.TeamMember, error)
}

// AssistanceClassifier runs AI-assistance detection over a team's synced
// activity. The model itself lives in another service.
type AssistanceClassifier interface {
	Classify(ctx context.Context, teamID int64) error
}

// MetricsAggregator rolls canonical records up into team-level metrics.
type MetricsAggregator interface {
	Aggregate(ctx context.Context, teamID int64) error
}

// InsightGenerator produces the tenant-facing insight records.
type InsightGenerator interface {
	Generate(ctx context.Context, teamID int64) error
}

// Notifier delivers the pipeline-completed notification. Failures are
// logged, never propagated into pipeline state.
type Notifier interface {
	PipelineCompleted(ctx context.Context, teamID int64, summary *model.MetricsSummary) error
}

// MetricsStore is the data-layer slice StoreAggregator reads and writes.
type MetricsStore interface {
	TeamMetricsSummary(ctx context.Context, teamID int64) (*model.MetricsSummary, error)
	UpsertTeamMetrics(ctx context.Context, m *model.MetricsSummary) error
}

// StoreAggregator computes team metrics with SQL aggregates and persists
// the rollup.
type StoreAggregator struct {
	store MetricsStore
}

func NewStoreAggregator(store MetricsStore) *StoreAggregator {
	return &StoreAggregator{store: store}
}

func (a *StoreAggregator) Aggregate(ctx context.Context, teamID int64) error {
	summary, err := a.store.TeamMetricsSummary(ctx, teamID)
	if err != nil {
		return err
	}
	return a.store.UpsertTeamMetrics(ctx, summary)
}

// Nop collaborators for deployments where a stage's backing service is not
// configured. The stage runs and advances; it just does nothing.

type NopClassifier struct{}

func (NopClassifier) Classify(context.Context, int64) error { return nil }

type NopInsights struct{}

func (NopInsights) Generate(context.Context, int64) error { return nil }

type NopNotifier struct{}

func (NopNotifier) PipelineCompleted(context.Context, int64, *model.MetricsSummary) error { return nil }
