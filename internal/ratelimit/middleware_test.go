package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/ratelimit"
)

// brokenLimiter always fails, to exercise the fail-open path.
type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("backend unavailable")
}

func (brokenLimiter) Close() error { return nil }

func testHandler() (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}), &calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedKey(key string) ratelimit.KeyFunc {
	return func(*http.Request) string { return key }
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	next, calls := testHandler()
	mw := ratelimit.Middleware(nil, fixedKey("k"), nil, discardLogger())

	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestMiddlewareEmptyKeySkipsLimiting(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	next, calls := testHandler()
	mw := ratelimit.Middleware(limiter, fixedKey(""), nil, discardLogger())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 10, *calls)
}

func TestMiddlewareDeniesAfterBurst(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	defer func() { _ = limiter.Close() }()

	next, calls := testHandler()
	reqID := func(*http.Request) string { return "req-123" }
	mw := ratelimit.Middleware(limiter, fixedKey("client"), reqID, discardLogger())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i)
	}

	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, *calls)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var envelope model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.Equal(t, model.ErrCodeRateLimited, envelope.Error.Code)
	assert.Equal(t, "req-123", envelope.Meta.RequestID)
	assert.False(t, envelope.Meta.Timestamp.IsZero())
}

func TestMiddlewareFailsOpenOnLimiterError(t *testing.T) {
	next, calls := testHandler()
	mw := ratelimit.Middleware(brokenLimiter{}, fixedKey("client"), nil, discardLogger())

	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
}

func TestMiddlewareKeysAreIndependent(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = limiter.Close() }()

	next, _ := testHandler()
	mw := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, nil, discardLogger())

	reqA := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA.RemoteAddr = "10.0.0.1:50000"
	reqB := httptest.NewRequest(http.MethodGet, "/", nil)
	reqB.RemoteAddr = "10.0.0.2:50000"

	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, reqA)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mw(next).ServeHTTP(rec, reqA)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "second request from same IP is denied")

	rec = httptest.NewRecorder()
	mw(next).ServeHTTP(rec, reqB)
	assert.Equal(t, http.StatusOK, rec.Code, "other IP has its own bucket")
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.10:54321", "ip:192.168.1.10"},
		{"[::1]:8080", "ip:[::1]"},
		{"unix-socket", "ip:unix-socket"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remoteAddr
		assert.Equal(t, tt.want, ratelimit.IPKeyFunc(r), "remote addr %q", tt.remoteAddr)
	}
}
