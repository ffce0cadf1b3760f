package ratelimit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsUnderLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(10, 5)
	defer func() { _ = limiter.Close() }()

	h := ratelimit.Middleware(limiter, func(*http.Request) string { return "agent-1" }, nil)(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/discussions", nil))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = limiter.Close() }()

	h := ratelimit.Middleware(limiter, func(*http.Request) string { return "agent-1" },
		func(*http.Request) string { return "req-123" })(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/discussions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/discussions", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var apiErr model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&apiErr))
	assert.Equal(t, model.ErrCodeRateLimited, apiErr.Error.Code)
	assert.Equal(t, "req-123", apiErr.Meta.RequestID)
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = limiter.Close() }()

	h := ratelimit.Middleware(limiter, func(*http.Request) string { return "" }, nil)(okHandler())

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	h := ratelimit.Middleware(nil, ratelimit.IPKeyFunc, nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.7:54321"
	assert.Equal(t, "192.0.2.7", ratelimit.IPKeyFunc(r))

	r.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "192.0.2.8", ratelimit.IPKeyFunc(r))
}
