package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestLocker_AcquireExclusive(t *testing.T) {
	_, client := setupTestRedis(t)
	locker := NewLocker(client, "analysis_lock:")
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Token())

	_, err = locker.Acquire(ctx, "1", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	// 不同分析互不影响
	other, err := locker.Acquire(ctx, "2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	again, err := locker.Acquire(ctx, "1", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token(), again.Token())
}

func TestLock_ReleaseOnlyByOwner(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewLocker(client, "analysis_lock:")
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "1", time.Second)
	require.NoError(t, err)

	// 过期后被其他 worker 获取
	mr.FastForward(2 * time.Second)
	taken, err := locker.Acquire(ctx, "1", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, lk.Release(ctx), ErrNotAcquired)
	assert.ErrorIs(t, lk.Refresh(ctx), ErrNotAcquired)

	val, err := mr.Get("analysis_lock:1")
	require.NoError(t, err)
	assert.Equal(t, taken.Token(), val)
}

func TestLock_Refresh(t *testing.T) {
	mr, client := setupTestRedis(t)
	locker := NewLocker(client, "analysis_lock:")
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "1", 2*time.Second)
	require.NoError(t, err)

	mr.FastForward(time.Second)
	require.NoError(t, lk.Refresh(ctx))
	mr.FastForward(1500 * time.Millisecond)

	assert.True(t, mr.Exists("analysis_lock:1"))
}
