// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient external API calls.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/onboarding/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	backoff    Backoff
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxRetries is the number of retry attempts after the initial request (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		backoff:    DefaultBackoff(),
	}
}

// WithBackoff replaces the delay policy. Tests use it to shrink waits.
func (rc *RetryClient) WithBackoff(b Backoff) *RetryClient {
	rc.backoff = b
	return rc
}

// Do sends req, retrying 429/5xx responses and transport errors. Client
// errors (400, 401, 403, 404, 409) and context cancellation are returned
// immediately. A Retry-After header on a retryable response replaces the
// computed backoff for the next attempt, capped at the backoff's Max. The
// final attempt's response is returned as-is so the caller can read it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var (
		lastErr error
		wait    time.Duration
	)

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if err := rewind(req); err != nil {
				return nil, err
			}
			logger.Warn("httpretry: retrying request",
				"attempt", attempt, "max_retries", rc.maxRetries,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path)
			if err := rc.pause(ctx, attempt, wait); err != nil {
				return nil, firstErr(lastErr, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, firstErr(lastErr, err)
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr, wait = err, 0
			continue
		}
		if !isRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		wait = retryAfter(resp.Header.Get("Retry-After"), rc.backoff.Max, time.Now())
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	return nil, lastErr
}

func (rc *RetryClient) pause(ctx context.Context, attempt int, wait time.Duration) error {
	if wait <= 0 {
		return rc.backoff.Wait(ctx, attempt)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rewind resets the request body before a retry.
func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: failed to reset request body: %w", err)
	}
	req.Body = body
	return nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. It returns zero when the header is absent or unusable.
func retryAfter(header string, max time.Duration, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		d = at.Sub(now)
	}
	if d < 0 {
		d = 0
	}
	if max > 0 && d > max {
		d = max
	}
	return d
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// isRetryableStatus returns true if the HTTP status code indicates a
// transient server error that should be retried.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
