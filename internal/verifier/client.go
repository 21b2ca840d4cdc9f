// Package verifier is the client for the external verification analysis
// service, which runs an assistant over an account's uploaded photos on a
// thread.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ignite/onboarding/internal/config"
	"github.com/ignite/onboarding/internal/domain"
	"github.com/ignite/onboarding/internal/pkg/httpretry"
	"github.com/ignite/onboarding/internal/service/registration"
)

// Client talks to the verification service REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer

	mu        sync.Mutex
	assistant string // cached DefaultAssistant result
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("verification API error (status %d): %s", e.StatusCode, e.Body)
}

// NewClient creates a verification client.
func NewClient(cfg config.VerificationConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

var (
	_ registration.VerificationService = (*Client)(nil)
	_ registration.AssistantResolver   = (*Client)(nil)
	_ registration.ThreadCanceller     = (*Client)(nil)
)

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type threadResponse struct {
	ThreadID  string          `json:"thread_id"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Values    json.RawMessage `json:"values"`
}

// CreateThread opens a new empty thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var t threadResponse
	if err := c.doRequest(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &t); err != nil {
		return "", err
	}
	return t.ThreadID, nil
}

type runResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRuns returns every run on a thread.
func (c *Client) ListRuns(ctx context.Context, threadID string) ([]domain.RunStatus, error) {
	var runs []runResponse
	if err := c.doRequest(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID)+"/runs", nil, &runs); err != nil {
		return nil, err
	}
	out := make([]domain.RunStatus, 0, len(runs))
	for _, r := range runs {
		out = append(out, domain.RunStatus{RunID: r.RunID, Status: domain.RunState(r.Status), CreatedAt: r.CreatedAt})
	}
	return out, nil
}

type createRunRequest struct {
	AssistantID string                   `json:"assistant_id"`
	Input       domain.VerificationInput `json:"input"`
}

// StartRun starts the assistant on a thread. A 409 means the thread already
// has an active run and maps to registration.ErrThreadBusy.
func (c *Client) StartRun(ctx context.Context, threadID, assistantID string, input domain.VerificationInput) error {
	err := c.doRequest(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs",
		createRunRequest{AssistantID: assistantID, Input: input}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", registration.ErrThreadBusy, threadID)
	}
	return err
}

// CancelThread deletes a thread along with its runs.
func (c *Client) CancelThread(ctx context.Context, threadID string) error {
	err := c.doRequest(ctx, http.MethodDelete, "/threads/"+url.PathEscape(threadID), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

type assistantResponse struct {
	AssistantID string `json:"assistant_id"`
	GraphID     string `json:"graph_id"`
}

// DefaultAssistant returns the first registered assistant. The result is
// cached for the life of the client.
func (c *Client) DefaultAssistant(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.assistant
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var found []assistantResponse
	body := map[string]interface{}{"metadata": nil, "limit": 1, "offset": 0}
	if err := c.doRequest(ctx, http.MethodPost, "/assistants/search", body, &found); err != nil {
		return "", err
	}
	if len(found) == 0 || found[0].AssistantID == "" {
		return "", fmt.Errorf("no assistants registered")
	}

	c.mu.Lock()
	c.assistant = found[0].AssistantID
	c.mu.Unlock()
	return found[0].AssistantID, nil
}

// GetThread returns the thread's current state and output values.
func (c *Client) GetThread(ctx context.Context, threadID string) (*domain.VerificationResult, error) {
	var t threadResponse
	if err := c.doRequest(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &t); err != nil {
		return nil, err
	}
	return &domain.VerificationResult{ThreadID: t.ThreadID, Status: t.Status, Values: t.Values}, nil
}
