// Package clusterer speaks to the clustering/positioning sidecar, an
// external service that runs the density clustering and 2-D projection out
// of process. The Go side only knows the batch envelope: ids plus vectors
// in, per-id labels or coordinates out.
package clusterer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type vectorRequest struct {
	IDs     []string    `json:"ids"`
	Vectors [][]float32 `json:"vectors"`
}

type clusterResponse struct {
	Labels map[string]int `json:"labels"` // id -> cluster id, -1 for noise
}

type positionResponse struct {
	Positions map[string][2]float64 `json:"positions"` // id -> [x, y]
}

// APIError is a non-2xx response from the sidecar.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("clusterer api error %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error is transient: 429 or any 5xx.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Cluster assigns each id to a topic cluster. Ids and vectors must be
// index-aligned.
func (c *Client) Cluster(ctx context.Context, ids []string, vectors [][]float32) (map[string]int, error) {
	var resp clusterResponse
	if err := c.post(ctx, "/cluster", vectorRequest{IDs: ids, Vectors: vectors}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Labels) != len(ids) {
		return nil, fmt.Errorf("cluster labels count mismatch: sent %d, got %d", len(ids), len(resp.Labels))
	}
	return resp.Labels, nil
}

// Position projects each id's vector to a 2-D layout coordinate.
func (c *Client) Position(ctx context.Context, ids []string, vectors [][]float32) (map[string][2]float64, error) {
	var resp positionResponse
	if err := c.post(ctx, "/position", vectorRequest{IDs: ids, Vectors: vectors}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Positions) != len(ids) {
		return nil, fmt.Errorf("positions count mismatch: sent %d, got %d", len(ids), len(resp.Positions))
	}
	return resp.Positions, nil
}

// Ping checks the sidecar's health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: "health check failed"}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
