package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// readinessDeps 与服务启动时注册的三类就绪检查一致：会话存储、数据库、Redis
type readinessDeps struct {
	store persistence.SessionStore
	db    sqlmock.Sqlmock
	mr    *miniredis.Miniredis
}

func newReadyHandler(t *testing.T) (*HealthHandler, *readinessDeps) {
	t.Helper()

	store, err := persistence.NewFileSessionStore(persistence.StoreConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck("session_store", store.Ping))
	h.RegisterCheck(NewPingCheck("database", sqlDB.PingContext))
	h.RegisterCheck(NewPingCheck("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	return h, &readinessDeps{store: store, db: mock, mr: mr}
}

func serveReady(t *testing.T, h *HealthHandler) (int, HealthStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	return w.Code, status
}

func TestHealthHandler_HandleHealthz(t *testing.T) {
	// 存活探针不跑依赖检查
	h := NewHealthHandler(zap.NewNop())
	h.RegisterCheck(NewPingCheck("database", func(context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	h.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Empty(t, status.Checks)
}

func TestHealthHandler_ReadyAllDependenciesUp(t *testing.T) {
	h, deps := newReadyHandler(t)
	deps.db.ExpectPing()

	code, status := serveReady(t, h)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Checks, 3)
	for _, name := range []string{"session_store", "database", "redis"} {
		assert.Equal(t, "pass", status.Checks[name].Status, name)
		assert.NotEmpty(t, status.Checks[name].Latency, name)
	}
	assert.NoError(t, deps.db.ExpectationsWereMet())
}

func TestHealthHandler_ReadyDependencyDown(t *testing.T) {
	tests := []struct {
		name     string
		failed   string
		breakDep func(t *testing.T, deps *readinessDeps)
	}{
		{
			name:   "database ping fails",
			failed: "database",
			breakDep: func(t *testing.T, deps *readinessDeps) {
				deps.db.ExpectPing().WillReturnError(errors.New("connection refused"))
			},
		},
		{
			name:   "redis stopped",
			failed: "redis",
			breakDep: func(t *testing.T, deps *readinessDeps) {
				deps.db.ExpectPing()
				deps.mr.Close()
			},
		},
		{
			name:   "session store closed",
			failed: "session_store",
			breakDep: func(t *testing.T, deps *readinessDeps) {
				deps.db.ExpectPing()
				require.NoError(t, deps.store.Close())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, deps := newReadyHandler(t)
			tt.breakDep(t, deps)

			code, status := serveReady(t, h)

			assert.Equal(t, http.StatusServiceUnavailable, code)
			assert.Equal(t, "unhealthy", status.Status)
			assert.Equal(t, "fail", status.Checks[tt.failed].Status)
			assert.NotEmpty(t, status.Checks[tt.failed].Message)
			for name, res := range status.Checks {
				if name != tt.failed {
					assert.Equal(t, "pass", res.Status, name)
				}
			}
		})
	}
}

func TestHealthHandler_ReadyTimesOutSlowChecks(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(NewPingCheck("database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	h.RegisterCheck(NewPingCheck("session_store", persistence.NewMemorySessionStore().Ping))

	start := time.Now()
	status := h.Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "fail", status.Checks["database"].Status)
	assert.Contains(t, status.Checks["database"].Message, "deadline")
	assert.Equal(t, "pass", status.Checks["session_store"].Status)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVersion("0.3.0", "2026-10-01T00:00:00Z", "4f2c9ab")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0.3.0", data["version"])
	assert.Equal(t, "4f2c9ab", data["git_commit"])
}
