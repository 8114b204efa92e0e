// internal/model/metrics_test.go
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHoursBetween(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("whole hours", func(t *testing.T) {
		assert.Equal(t, 29.00, HoursBetween(base, base.Add(29*time.Hour)))
	})

	t.Run("exact two hours", func(t *testing.T) {
		assert.Equal(t, 2.00, HoursBetween(base, base.Add(2*time.Hour)))
	})

	t.Run("rounds to two decimals", func(t *testing.T) {
		assert.Equal(t, 1.51, HoursBetween(base, base.Add(90*time.Minute+20*time.Second)))
	})
}

func TestExtractTrackerKey(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		branch string
		want   string
	}{
		{"key in title", "PROJ-123 fix login flow", "fix-login", "PROJ-123"},
		{"key in branch", "fix login flow", "feature/PROJ-456-login", "PROJ-456"},
		{"title wins over branch", "ABC-1 thing", "feature/XYZ-2", "ABC-1"},
		{"no key anywhere", "fix login flow", "fix-login", ""},
		{"lowercase not a key", "proj-123 fix", "proj-123", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTrackerKey(tt.title, tt.branch)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.want, *got)
			}
		})
	}
}

func TestPipelineStatusPhases(t *testing.T) {
	t.Run("phase membership", func(t *testing.T) {
		assert.True(t, PipelineSyncing.Phase1())
		assert.False(t, PipelineSyncing.Phase2())
		assert.True(t, PipelineBackgroundSyncing.Phase2())
		assert.False(t, PipelineBackgroundSyncing.Phase1())
		assert.True(t, PipelineComplete.Terminal())
		assert.True(t, PipelineFailed.Terminal())
		assert.True(t, PipelineNotStarted.Terminal())
	})

	t.Run("dashboard access opens at phase1_complete and survives phase 2", func(t *testing.T) {
		assert.False(t, PipelineSyncing.DashboardAccessible())
		assert.False(t, PipelineFailed.DashboardAccessible())
		assert.True(t, PipelinePhase1Complete.DashboardAccessible())
		assert.True(t, PipelineBackgroundSyncing.DashboardAccessible())
		assert.True(t, PipelineComplete.DashboardAccessible())
	})

	t.Run("every status is classified", func(t *testing.T) {
		for _, s := range PipelineStatuses {
			classified := s.Phase1() || s.Phase2() || s.Terminal() || s == PipelinePhase1Complete
			assert.True(t, classified, "status %s belongs to no phase", s)
		}
	})
}

func TestTrackedRepositoryFullName(t *testing.T) {
	repo := &TrackedRepository{FullName: "acme/widgets"}
	assert.Equal(t, "acme", repo.Owner())
	assert.Equal(t, "widgets", repo.Name())

	malformed := &TrackedRepository{FullName: "no-slash"}
	assert.Empty(t, malformed.Owner())
	assert.Empty(t, malformed.Name())
}
