package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arbierrors "github.com/abdoElHodaky/arbiengine/internal/errors"
)

type pingResponse struct {
	OK bool `json:"ok"`
}

func TestClient_Do_RetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New(Config{Exchange: "test", BaseURL: srv.URL, RequestsPerSec: 1000, BurstCapacity: 1000, MaxRetries: 3}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	var out pingResponse
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/ping", Endpoint: "ping"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_Do_DoesNotRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(Config{Exchange: "test", BaseURL: srv.URL, RequestsPerSec: 1000, BurstCapacity: 1000, MaxRetries: 3}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/order", Endpoint: "order"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	engErr, ok := arbierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, arbierrors.CodeExchangeAPI, engErr.Code)
}

func TestClient_Do_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// 400 is not retryable (Retryable only retries CodeRateLimit/
		// CodeConnection/5xx), so each Do call here costs exactly one
		// breaker failure instead of MaxRetries+1 with backoff delay.
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := New(Config{Exchange: "test", BaseURL: srv.URL, RequestsPerSec: 1000, BurstCapacity: 1000}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 5; i++ {
		err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x", Endpoint: "x"}, nil)
		require.Error(t, err)
	}
	seenBeforeTrip := atomic.LoadInt32(&calls)
	assert.Equal(t, int32(5), seenBeforeTrip)

	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x", Endpoint: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, seenBeforeTrip, atomic.LoadInt32(&calls), "breaker should short-circuit without hitting the server")

	engErr, ok := arbierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, arbierrors.CodeConnection, engErr.Code)
}

func TestClient_Do_RateLimiterThrottlesBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{Exchange: "test", BaseURL: srv.URL, RequestsPerSec: 2, BurstCapacity: 1, MaxRetries: 0}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a", Endpoint: "a"}, nil))
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/a", Endpoint: "a"}, nil))
	elapsed := time.Since(start)

	assert.Greater(t, elapsed, 200*time.Millisecond, "second call should have waited for a fresh token")
}

func TestClient_Do_EndpointLimiterThrottlesIndependently(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{
		Exchange:       "test",
		BaseURL:        srv.URL,
		RequestsPerSec: 1000,
		BurstCapacity:  1000,
		EndpointLimits: map[string]EndpointLimit{"order": {RequestsPerSec: 2, BurstCapacity: 1}},
		MaxRetries:     0,
	}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/order", Endpoint: "order"}, nil))
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/order", Endpoint: "order"}, nil))
	elapsed := time.Since(start)

	assert.Greater(t, elapsed, 200*time.Millisecond, "second call to the throttled endpoint should have waited for a fresh token")
}

func TestClient_Do_HonorsRetryAfterHeader(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New(Config{Exchange: "test", BaseURL: srv.URL, RequestsPerSec: 1000, BurstCapacity: 1000, MaxRetries: 1}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	start := time.Now()
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x", Endpoint: "x"}, nil)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond, "retry should have waited for the server's Retry-After duration")
}

func TestClient_Do_CancelsOnContextTimeout(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c, err := New(Config{Exchange: "test", BaseURL: srv.URL, RequestsPerSec: 1000, BurstCapacity: 1000, MaxRetries: 0, Timeout: 5 * time.Second}, nil, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = c.Do(ctx, Request{Method: http.MethodGet, Path: "/slow", Endpoint: "slow"}, nil)
	require.Error(t, err)
}
