// Package upstream is the HTTP client for the external prediction provider.
// The provider is treated as an opaque job API: create, get, cancel.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fitroom/backend/internal/domain"
)

// DefaultCreatePath addresses a job by model reference. The placeholder is
// substituted with the caller's modelRef; changing providers is a config
// change, not a code branch.
const DefaultCreatePath = "models/{model}/predictions"

// Client wraps the three provider operations. Create and Get share one
// timeout; Cancel gets its own shorter one. Both are independent of the
// orchestrator's overall polling budget.
type Client struct {
	baseURL      string
	createPath   string
	httpClient   *http.Client
	cancelClient *http.Client
}

// NewClient creates a provider client. createPath may be empty to use
// DefaultCreatePath.
func NewClient(baseURL, createPath string, timeout, cancelTimeout time.Duration) *Client {
	if createPath == "" {
		createPath = DefaultCreatePath
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		createPath:   createPath,
		httpClient:   &http.Client{Timeout: timeout},
		cancelClient: &http.Client{Timeout: cancelTimeout},
	}
}

type createRequest struct {
	Input json.RawMessage `json:"input"`
}

// Create submits a new job for modelRef. The input payload is opaque and
// passed through untouched.
func (c *Client) Create(ctx context.Context, apiKey, modelRef string, input json.RawMessage) (*domain.Prediction, error) {
	body, err := json.Marshal(createRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/" + strings.ReplaceAll(c.createPath, "{model}", modelRef)
	return c.do(ctx, c.httpClient, http.MethodPost, url, apiKey, body)
}

// Get fetches the current job record.
func (c *Client) Get(ctx context.Context, apiKey, predictionID string) (*domain.Prediction, error) {
	url := c.baseURL + "/predictions/" + predictionID
	return c.do(ctx, c.httpClient, http.MethodGet, url, apiKey, nil)
}

// Cancel asks the provider to stop the job and returns the updated record.
func (c *Client) Cancel(ctx context.Context, apiKey, predictionID string) (*domain.Prediction, error) {
	url := c.baseURL + "/predictions/" + predictionID + "/cancel"
	return c.do(ctx, c.cancelClient, http.MethodPost, url, apiKey, nil)
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// do issues one request. The credential goes into the Authorization header
// and nowhere else: it is never logged and never part of returned errors.
func (c *Client) do(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (*domain.Prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp, respBody)
	}

	var pred domain.Prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &pred, nil
}

func upstreamError(resp *http.Response, body []byte) *domain.UpstreamError {
	ue := &domain.UpstreamError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.Detail != "" {
			ue.Message = er.Detail
		} else if er.Title != "" {
			ue.Message = er.Title
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
			ue.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return ue
}
