package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func snapshot(id string, status conversation.Status, startOffset time.Duration) conversation.Snapshot {
	started := t0.Add(startOffset)
	return conversation.Snapshot{
		ID:     id,
		Status: status,
		Seed:   conversation.Message{Seq: 0, Sender: conversation.ExternalSender, Kind: conversation.KindText, Content: "分析材料", CreatedAt: started},
		Transcript: []conversation.Message{
			{Seq: 1, Sender: "planner", Kind: conversation.KindText, Content: "step 1", CreatedAt: started.Add(time.Second)},
			{Seq: 2, Sender: "critic", Kind: conversation.KindText, Content: "TERMINATE", CreatedAt: started.Add(2 * time.Second)},
		},
		Current:   "critic",
		Round:     2,
		Summary:   "done",
		StartedAt: started,
		EndedAt:   started.Add(3 * time.Second),
	}
}

func assertSameSnapshot(t *testing.T, want, got conversation.Snapshot) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

// runStoreContract exercises the behaviour every backend shares.
func runStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		snap := snapshot("sess-a", conversation.StatusTerminated, 0)
		require.NoError(t, store.Save(ctx, snap))

		got, err := store.Load(ctx, "sess-a")
		require.NoError(t, err)
		assertSameSnapshot(t, snap, got)
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		snap := snapshot("sess-b", conversation.StatusInterrupted, time.Minute)
		snap.ErrorCode = types.ErrMalformedReply
		require.NoError(t, store.Save(ctx, snap))

		snap.Status = conversation.StatusTerminated
		snap.ErrorCode = ""
		require.NoError(t, store.Save(ctx, snap))

		got, err := store.Load(ctx, "sess-b")
		require.NoError(t, err)
		assert.Equal(t, conversation.StatusTerminated, got.Status)
		assert.Empty(t, got.ErrorCode)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, snapshot("sess-c", conversation.StatusDeadlock, 2*time.Minute)))

		all, err := store.List(ctx, ListOptions{})
		require.NoError(t, err)
		ids := make([]string, len(all))
		for i, s := range all {
			ids[i] = s.ID
		}
		assert.Equal(t, []string{"sess-c", "sess-b", "sess-a"}, ids)

		terminated, err := store.List(ctx, ListOptions{Status: conversation.StatusTerminated})
		require.NoError(t, err)
		assert.Len(t, terminated, 2)

		limited, err := store.List(ctx, ListOptions{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "sess-c", limited[0].ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := store.Load(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.Delete(ctx, "missing"), ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "sess-a"))
		_, err := store.Load(ctx, "sess-a")
		assert.ErrorIs(t, err, ErrNotFound)

		all, err := store.List(ctx, ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("EmptyID", func(t *testing.T) {
		err := store.Save(ctx, conversation.Snapshot{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	runStoreContract(t, store)

	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
	assert.ErrorIs(t, store.Save(context.Background(), snapshot("x", conversation.StatusTerminated, 0)), ErrStoreClosed)
}

func TestFileSessionStore(t *testing.T) {
	config := DefaultStoreConfig()
	config.Type = StoreTypeFile
	config.BaseDir = t.TempDir()

	store, err := NewFileSessionStore(config)
	require.NoError(t, err)
	runStoreContract(t, store)

	t.Run("SurvivesReopen", func(t *testing.T) {
		reopened, err := NewFileSessionStore(config)
		require.NoError(t, err)
		got, err := reopened.Load(context.Background(), "sess-c")
		require.NoError(t, err)
		assert.Equal(t, conversation.StatusDeadlock, got.Status)
	})

	t.Run("NoTempFilesLeft", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(config.BaseDir, "sessions"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})

	t.Run("PathTraversal", func(t *testing.T) {
		snap := snapshot("../../etc/passwd", conversation.StatusTerminated, 0)
		require.NoError(t, store.Save(context.Background(), snap))
		_, err := os.Stat(filepath.Join(config.BaseDir, "sessions", "..%2F..%2Fetc%2Fpasswd.json"))
		assert.NoError(t, err)
	})
}

func TestRedisSessionStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	config := DefaultStoreConfig()
	config.Type = StoreTypeRedis
	config.Redis.Addr = mr.Addr()

	store, err := NewRedisSessionStore(config)
	require.NoError(t, err)
	defer store.Close()
	runStoreContract(t, store)

	assert.True(t, mr.Exists("agents:session:data:sess-c"))
}

func TestRedisSessionStore_TTL(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	config := DefaultStoreConfig()
	config.TTL = time.Hour
	store := NewRedisSessionStoreWithClient(rdb, config)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, snapshot("short", conversation.StatusTerminated, 0)))
	mr.FastForward(2 * time.Hour)

	_, err = store.Load(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, all)

	members, err := rdb.ZRange(ctx, "agents:session:index", 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, members, "expired ids are pruned from the index")

	// 外部客户端不随 store 关闭
	require.NoError(t, store.Close())
	assert.NoError(t, rdb.Ping(ctx).Err())
}

func TestRedisSessionStore_ConnectFailure(t *testing.T) {
	config := DefaultStoreConfig()
	config.Redis.Addr = "127.0.0.1:1"
	_, err := NewRedisSessionStore(config)
	assert.Error(t, err)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sessions.db")), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestGormSessionStore(t *testing.T) {
	db := openTestDB(t)
	store, err := NewGormSessionStore(db)
	require.NoError(t, err)
	runStoreContract(t, store)

	var rec SessionRecord
	require.NoError(t, db.First(&rec, "id = ?", "sess-b").Error)
	assert.Equal(t, "terminated", rec.Status)
	assert.Equal(t, 2, rec.Rounds)
	require.NotNil(t, rec.EndedAt)
}

func TestGormSessionStore_NilDB(t *testing.T) {
	_, err := NewGormSessionStore(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewSessionStore(t *testing.T) {
	store, err := NewSessionStore(StoreConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemorySessionStore{}, store)

	store, err = NewSessionStore(StoreConfig{Type: StoreTypeFile, BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSessionStore{}, store)

	store, err = NewSessionStore(StoreConfig{Type: StoreTypeDatabase}, openTestDB(t))
	require.NoError(t, err)
	assert.IsType(t, &GormSessionStore{}, store)

	_, err = NewSessionStore(StoreConfig{Type: "etcd"}, nil)
	assert.Error(t, err)
}

func TestRecordWriter(t *testing.T) {
	w, err := NewRecordWriter(filepath.Join(t.TempDir(), "outputs"))
	require.NoError(t, err)

	type record struct {
		Context        string `json:"context"`
		Classification string `json:"classification"`
	}
	in := map[string][]record{"钙钛矿": {{Context: "钙钛矿太阳能电池", Classification: "材料"}}}

	require.NoError(t, w.Write("10.1000/xyz", in))
	assert.True(t, w.Exists("10.1000/xyz"))
	assert.False(t, w.Exists("other"))

	path, err := w.Path("10.1000/xyz")
	require.NoError(t, err)
	assert.Equal(t, "10.1000%2Fxyz.json", filepath.Base(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "钙钛矿太阳能电池", "non-ASCII text is written as-is")

	var out map[string][]record
	require.NoError(t, w.Read("10.1000/xyz", &out))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, w.Read("missing", &out), ErrNotFound)
	assert.ErrorIs(t, w.Write("..", in), ErrInvalidInput)
	assert.ErrorIs(t, w.Write("", in), ErrInvalidInput)
}

func TestSessionRecorder_SavesOnEnd(t *testing.T) {
	store := NewMemorySessionStore()
	recorder := NewSessionRecorder(store, time.Second, zap.NewNop())

	var n int
	plan := &conversation.Plan{
		Participants: []conversation.Participant{{
			ID:         "writer",
			Role:       conversation.RoleInitiator,
			Autonomous: true,
			Responder: conversation.ResponderFunc(func(context.Context, conversation.Turn) (conversation.Reply, error) {
				n++
				if n == 2 {
					return conversation.TextReply{Content: "TERMINATE"}, nil
				}
				return conversation.TextReply{Content: "draft"}, nil
			}),
		}},
		Transitions: map[string][]string{"writer": {"writer"}},
		Initiator:   "writer",
		MaxRounds:   5,
		Terminate:   conversation.ContainsToken("TERMINATE", false),
	}

	router := conversation.NewRouter(conversation.DefaultConfig(), zap.NewNop(), conversation.WithObserver(recorder))
	sess, err := router.Start(context.Background(), plan, "write something")
	require.NoError(t, err)

	got, err := store.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StatusTerminated, got.Status)
	assert.Len(t, got.Transcript, 2)
	assert.Equal(t, "write something", got.Seed.Content)
}

func TestSessionRecorder_StoreFailureIsLogged(t *testing.T) {
	store := NewMemorySessionStore()
	require.NoError(t, store.Close())
	recorder := NewSessionRecorder(store, 0, nil)

	assert.NotPanics(t, func() {
		recorder.OnEnd(snapshot("s", conversation.StatusTerminated, 0))
	})
}
