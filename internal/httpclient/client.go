package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// RetryPolicy retries connection errors and retryable status codes with
// exponential backoff. Responses with other statuses are returned as is.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnRetry, when set, is told about each failed attempt before the wait
	OnRetry func(attempt int, wait time.Duration, status int, err error)
}

// DefaultRetryPolicy returns 3 retries starting at 2s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    2 * time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Retryable reports whether a status code is worth another attempt
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Interval returns the wait before retry number attempt (1-based)
func (p RetryPolicy) Interval(attempt int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Do sends the request built by newRequest, retrying per the policy.
// newRequest is called once per attempt so request bodies can be rebuilt.
// When retries run out on a retryable status the last response is returned
// without error so the caller can inspect it.
func (p RetryPolicy) Do(ctx context.Context, client *http.Client, newRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := client.Do(req)
		status := 0
		if err == nil {
			if !Retryable(resp.StatusCode) || attempt >= p.MaxRetries {
				return resp, nil
			}
			status = resp.StatusCode
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
		} else {
			lastErr = err
			if errors.Is(err, context.Canceled) || ctx.Err() != nil || attempt >= p.MaxRetries {
				return nil, lastErr
			}
		}

		wait := p.Interval(attempt + 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, status, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
