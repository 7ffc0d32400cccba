// Package sync pushes buffered telemetry and results to the remote server
// and pulls the server-assigned task catalog. All exchanges are
// agent-initiated; the server never calls in.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "polaris-agent/1.0"

// Client speaks the server's measurement, result and task endpoints.
type Client struct {
	baseURL   string
	authToken string
	deviceID  string
	http      *http.Client
}

func NewClient(baseURL, authToken, deviceID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		deviceID:  deviceID,
		http:      &http.Client{Timeout: timeout},
	}
}

// PushMeasurements uploads a batch of telemetry samples. A nil error means
// the server acknowledged the whole batch.
func (c *Client) PushMeasurements(ctx context.Context, batch saveMeasurementsRequest) error {
	return c.post(ctx, "/api/NetworkMeasurement/SaveMultiple", batch, nil)
}

// PushResults uploads a batch of probe outcomes.
func (c *Client) PushResults(ctx context.Context, batch saveResultsRequest) error {
	return c.post(ctx, "/api/TestResult/SaveMultiple", batch, nil)
}

// PullTasks fetches the task catalog, excluding server ids already known
// locally so the server can omit them.
func (c *Client) PullTasks(ctx context.Context, excludedIDs []string) (*pullTasksResponse, error) {
	if excludedIDs == nil {
		excludedIDs = []string{}
	}
	var resp pullTasksResponse
	err := c.post(ctx, "/api/Test/except", pullTasksRequest{ExcludedIDs: excludedIDs}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeletedTaskIDs fetches the ids of tasks the server has deleted.
func (c *Client) DeletedTaskIDs(ctx context.Context) (*deletedTasksResponse, error) {
	var resp deletedTasksResponse
	if err := c.get(ctx, "/api/Test/deleted", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Device-ID", c.deviceID)
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("server returned %d for %s: %s",
			resp.StatusCode, req.URL.Path, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}
