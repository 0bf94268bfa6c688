package conversation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	cfgMemory = config.SessionConfig{Type: "memory", HistoryLimit: 20}
	cfgBogus  = config.SessionConfig{Type: "bogus"}
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.SessionConfig{
		Type:         "redis",
		HistoryLimit: 20,
		Redis: config.SessionRedisConfig{
			Addr:   mr.Addr(),
			Prefix: "testrelay",
			TTL:    time.Hour,
		},
	}
	s, err := NewRedisStore(zap.NewNop(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_GetOrCreateAndRefresh(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	sess, err := s.GetOrCreate(ctx, 42, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, uint64(0), sess.Generation)

	again, err := s.GetOrCreate(ctx, 42, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, again.SessionID)
}

func TestRedisStore_GetWithoutCreate(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, 42)
	assert.ErrorIs(t, err, errorx.ErrSessionNotFound)

	created, err := s.GetOrCreate(ctx, 42, "user-1")
	require.NoError(t, err)

	got, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, got.SessionID)

	require.NoError(t, s.Clear(ctx, 42))
	_, err = s.Get(ctx, 42)
	assert.ErrorIs(t, err, errorx.ErrSessionNotFound)
}

func TestRedisStore_AppendTrimsWindow(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()
	_, err := s.GetOrCreate(ctx, 1, "u")
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		require.NoError(t, s.Append(ctx, 1, Message{Role: cnst.RoleUser, Content: fmt.Sprintf("m%d", i)}))
	}

	h, err := s.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, h, 20)
	assert.Equal(t, "m5", h[0].Content)
	assert.Equal(t, "m24", h[19].Content)
}

func TestRedisStore_ClearBumpsGeneration(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreate(ctx, 9, "u")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, 9, Message{Role: cnst.RoleUser, Content: "hola"}))

	require.NoError(t, s.Clear(ctx, 9))

	h, err := s.History(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, h)

	gen, err := s.Generation(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	// idempotent clear does not bump again
	require.NoError(t, s.Clear(ctx, 9))
	gen, _ = s.Generation(ctx, 9)
	assert.Equal(t, uint64(1), gen)

	sess, err := s.GetOrCreate(ctx, 9, "u")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sess.Generation)
}

func TestRedisStore_SweepRemovesIdle(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	old, err := s.GetOrCreate(ctx, 1, "old")
	require.NoError(t, err)
	_, err = s.GetOrCreate(ctx, 2, "fresh")
	require.NoError(t, err)

	// rewrite the old session's metadata with a stale activity timestamp
	old.LastActivity = time.Now().Add(-time.Hour)
	require.NoError(t, s.saveMeta(ctx, &old))

	removed, err := s.Sweep(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	gen, err := s.Generation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	// fresh session untouched
	h, err := s.History(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, h)
	fresh, err := s.GetOrCreate(ctx, 2, "fresh")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fresh.Generation)
}

func TestNewRedisStoreConnectError(t *testing.T) {
	cfg := &config.SessionConfig{
		Type:  "redis",
		Redis: config.SessionRedisConfig{Addr: "127.0.0.1:1"},
	}
	_, err := NewRedisStore(zap.NewNop(), cfg)
	assert.Error(t, err)
}
