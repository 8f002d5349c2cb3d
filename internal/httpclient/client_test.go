package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestRetryPolicy_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	resp, err := policy.Do(context.Background(), NewDefaultHTTPClient(time.Second), get(server.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_ReturnsLastResponseWhenExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}
	resp, err := policy.Do(context.Background(), NewDefaultHTTPClient(time.Second), get(server.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	resp, err := policy.Do(context.Background(), NewDefaultHTTPClient(time.Second), get(server.URL))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetryPolicy_ConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	var retries int
	policy := RetryPolicy{
		MaxRetries: 2,
		Backoff:    time.Millisecond,
		OnRetry:    func(int, time.Duration, int, error) { retries++ },
	}
	_, err := policy.Do(context.Background(), NewDefaultHTTPClient(time.Second), get(url))
	assert.Error(t, err)
	assert.Equal(t, 2, retries)
}

func TestRetryPolicy_Interval(t *testing.T) {
	policy := RetryPolicy{Backoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, policy.Interval(1))
	assert.Equal(t, 2*time.Second, policy.Interval(2))
	assert.Equal(t, 4*time.Second, policy.Interval(3))
	assert.Equal(t, 5*time.Second, policy.Interval(4))
}
