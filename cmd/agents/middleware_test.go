package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Lynn-1221/Agents/internal/metrics"
	"github.com/Lynn-1221/Agents/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mark("a"), mark("b"), mark("c"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "client-id", seen)
	assert.Equal(t, "client-id", w.Header().Get("X-Request-ID"))
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrInternalError))
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/v1/conversations", "/v1/conversations"},
		{"/v1/conversations/stream", "/v1/conversations/stream"},
		{"/v1/conversations/3f2a9c1e-8d4b-4c6f-9a1b-2c3d4e5f6a7b", "/v1/conversations/:id"},
		{"/v1/conversations/abc/resume", "/v1/conversations/:id/resume"},
		{"/v1/conversations/abc/interrupts", "/v1/conversations/:id/interrupts"},
		{"/v1/interrupts/int-42", "/v1/interrupts/:id"},
		{"/unknown/path", "/unknown/path"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector("test", reg, zap.NewNop())

	handler := MetricsMiddleware(c)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/abc", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/conversations/def", nil))

	count, err := testutil.GatherAndCount(reg, "test_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "both IDs share one series")
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(okHandler())

	codes := make([]int, 3)
	for i := range codes {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		codes[i] = w.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// 其他 IP 有独立的配额
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	var user string
	handler := JWTAuth("secret", "agents", publicPaths, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ = types.UserID(r.Context())
	}))

	do := func(path, token string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, "secret", jwt.MapClaims{"user_id": "alice", "iss": "agents", "exp": exp})
		assert.Equal(t, http.StatusOK, do("/v1/conversations", token))
		assert.Equal(t, "alice", user)
	})

	t.Run("subject fallback", func(t *testing.T) {
		token := signToken(t, "secret", jwt.MapClaims{"sub": "bob", "iss": "agents", "exp": exp})
		assert.Equal(t, http.StatusOK, do("/v1/conversations", token))
		assert.Equal(t, "bob", user)
	})

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("/v1/conversations", ""))
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other", jwt.MapClaims{"user_id": "alice", "iss": "agents", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, do("/v1/conversations", token))
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := signToken(t, "secret", jwt.MapClaims{"user_id": "alice", "iss": "someone", "exp": exp})
		assert.Equal(t, http.StatusUnauthorized, do("/v1/conversations", token))
	})

	t.Run("expired", func(t *testing.T) {
		token := signToken(t, "secret", jwt.MapClaims{"user_id": "alice", "iss": "agents", "exp": time.Now().Add(-time.Minute).Unix()})
		assert.Equal(t, http.StatusUnauthorized, do("/v1/conversations", token))
	})

	t.Run("public path", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("/healthz", ""))
	})
}
