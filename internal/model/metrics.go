// internal/model/metrics.go
package model

import (
	"math"
	"regexp"
	"time"
)

// HoursBetween returns the elapsed hours between start and end, rounded to
// two decimal places. Used for cycle_time_hours and review_time_hours.
func HoursBetween(start, end time.Time) float64 {
	return math.Round(end.Sub(start).Hours()*100) / 100
}

// trackerKeyPattern matches issue-tracker keys like "PROJ-123".
var trackerKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)

// ExtractTrackerKey pulls an issue-tracker key out of a PR title or branch
// name, preferring the title. Returns nil when neither contains one.
func ExtractTrackerKey(title, branch string) *string {
	if key := trackerKeyPattern.FindString(title); key != "" {
		return &key
	}
	if key := trackerKeyPattern.FindString(branch); key != "" {
		return &key
	}
	return nil
}
