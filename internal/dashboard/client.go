// Package dashboard is the leader-side view of a session: an HTTP client for
// the dashboard read and a cancellable loop that re-fetches it on an interval.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"busbuddy/internal/api"
	"busbuddy/pkg/types"
)

// Snapshot is one dashboard read
type Snapshot = api.DashboardResponse

// Client fetches dashboard snapshots from a running server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient targets the server at baseURL. A nil httpClient selects a client
// with a 5 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Fetch reads the dashboard for a short code. A 404 is returned as
// types.ErrSessionNotFound so callers can stop polling a dead session.
func (c *Client) Fetch(ctx context.Context, shortID string) (*Snapshot, error) {
	endpoint := fmt.Sprintf("%s/api/sessions/short/%s/dashboard", c.baseURL, url.PathEscape(shortID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build dashboard request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashboard request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.ErrSessionNotFound
	case resp.StatusCode != http.StatusOK:
		var body api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("dashboard request returned %d: %s", resp.StatusCode, body.Message)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode dashboard: %w", err)
	}
	return &snap, nil
}
