package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/providers"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRunLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	lock := NewRunLock(rdb, time.Minute)

	token, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = lock.Acquire(ctx)
	require.ErrorIs(t, err, ErrLocked)

	held, err := lock.Held(ctx)
	require.NoError(t, err)
	require.True(t, held)

	// a stale token must not free someone else's lock
	require.NoError(t, lock.Release(ctx, "not-mine"))
	require.True(t, mr.Exists(runLockKey))

	require.NoError(t, lock.Release(ctx, token))
	require.False(t, mr.Exists(runLockKey))

	_, err = lock.Acquire(ctx)
	require.NoError(t, err)
}

func TestRunLockExpires(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	lock := NewRunLock(rdb, time.Minute)

	_, err := lock.Acquire(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, err = lock.Acquire(ctx)
	require.NoError(t, err)
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	var s providers.TokenStore = NewTokenStore(rdb)

	_, ok, err := s.Get(ctx, "ocr")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "ocr", "tok-1", time.Hour))
	v, ok, err := s.Get(ctx, "ocr")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-1", v)
	require.Equal(t, time.Hour, mr.TTL(tokenPrefix+"ocr"))

	mr.FastForward(time.Hour + time.Second)
	_, ok, err = s.Get(ctx, "ocr")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "ocr", "tok-2", time.Hour))
	require.NoError(t, s.Delete(ctx, "ocr"))
	_, ok, _ = s.Get(ctx, "ocr")
	require.False(t, ok)

	// non-positive ttl is not cached
	require.NoError(t, s.Set(ctx, "ocr", "tok-3", 0))
	_, ok, _ = s.Get(ctx, "ocr")
	require.False(t, ok)
}
