package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giron-ai/giron/internal/auth"
	"github.com/giron-ai/giron/internal/model"
	"github.com/giron-ai/giron/internal/testutil"
)

func newTestJWTManager(t *testing.T) *auth.JWTManager {
	t.Helper()
	mgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	return mgr
}

func TestRequestIDMiddlewarePassthrough(t *testing.T) {
	var got string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-abc", got)
}

func TestRequestIDMiddlewareGenerates(t *testing.T) {
	var got string
	handler := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, got)
}

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestAuthMiddlewareSkipsPublicPaths(t *testing.T) {
	mgr := newTestJWTManager(t)
	called := false
	handler := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for _, path := range []string{"/health", "/auth/token"} {
		called = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.True(t, called, "expected %s to bypass auth", path)
	}
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	mgr := newTestJWTManager(t)
	handler := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rooms", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareBadScheme(t *testing.T) {
	mgr := newTestJWTManager(t)
	handler := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	mgr := newTestJWTManager(t)
	token, _, err := mgr.IssueToken(model.Agent{AgentID: "socrates", Role: model.RoleMember})
	require.NoError(t, err)

	var claims *auth.Claims
	handler := authMiddleware(mgr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, claims)
	assert.Equal(t, "socrates", claims.AgentID)
	assert.Equal(t, model.RoleMember, claims.Role)
}

func withClaims(r *http.Request, claims *auth.Claims) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKeyClaims, claims))
}

func TestRequireRole(t *testing.T) {
	adminOnly := requireRole(model.RoleAdmin)
	pass := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("no claims", func(t *testing.T) {
		rec := httptest.NewRecorder()
		adminOnly(pass).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/agents", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/agents", nil),
			&auth.Claims{AgentID: "socrates", Role: model.RoleMember})
		adminOnly(pass).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/agents", nil),
			&auth.Claims{AgentID: "admin", Role: model.RoleAdmin})
		adminOnly(pass).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rooms", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ErrCodeInternal, resp.Error.Code)
}

func TestWriteErrorStateIncludesState(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/discussions/x/execute", nil)
	writeErrorState(rec, req, http.StatusConflict, model.ErrCodeInvalidState, "cannot execute", "completed")

	var resp model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.ErrCodeInvalidState, resp.Error.Code)
	assert.Equal(t, "completed", resp.Error.State)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms",
		strings.NewReader(`{"name":"agora","bogus":true}`))

	var body CreateRoomRequest
	err := decodeJSON(rec, req, &body, 1<<20)
	assert.Error(t, err)
}

func TestDecodeJSONEnforcesBodyLimit(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 256)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms",
		bytes.NewReader(append([]byte(`{"name":"`), append(big, []byte(`"}`)...)...)))

	var body CreateRoomRequest
	err := decodeJSON(rec, req, &body, 64)
	assert.Error(t, err)
}
