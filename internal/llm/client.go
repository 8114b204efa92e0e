// internal/llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client calls the external AI-assistance service. The model is opaque to
// this service: we request a run over a team and wait for acceptance.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Classify asks the assistance service to classify a team's synced
// activity.
func (c *Client) Classify(ctx context.Context, teamID int64) error {
	return c.post(ctx, "/v1/classify", teamID)
}

// Generate asks the assistance service to produce insight records for a
// team.
func (c *Client) Generate(ctx context.Context, teamID int64) error {
	return c.post(ctx, "/v1/insights", teamID)
}

func (c *Client) post(ctx context.Context, path string, teamID int64) error {
	body, err := json.Marshal(map[string]int64{"team_id": teamID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling assistance service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("assistance service returned status %d", resp.StatusCode)
	}
	return nil
}
