// internal/notify/client.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dev-insights-service/internal/model"
)

// Client posts pipeline-completed notifications to the notification
// service. The orchestrator treats delivery failures as log-only.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) PipelineCompleted(ctx context.Context, teamID int64, summary *model.MetricsSummary) error {
	body, err := json.Marshal(map[string]any{
		"team_id":    teamID,
		"total_prs":  summary.TotalPRs,
		"merged_prs": summary.MergedPRs,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending completion notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}
	return nil
}
