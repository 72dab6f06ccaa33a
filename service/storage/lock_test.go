package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

func newTestRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLockAcquireAndUnlock(t *testing.T) {
	rdb, _ := newTestRedis(t)
	keys := NewKeys("test")
	mgr := NewLockManager(rdb, keys, 200*time.Millisecond, time.Second)
	ctx := context.Background()

	lock, err := mgr.Acquire(ctx, QueueLockName)
	require.NoError(t, err)
	require.NoError(t, lock.Unlock(ctx))

	// re-acquirable after release
	lock2, err := mgr.Acquire(ctx, QueueLockName)
	require.NoError(t, err)
	require.NoError(t, lock2.Unlock(ctx))
}

func TestLockBlocksSecondHolder(t *testing.T) {
	rdb, _ := newTestRedis(t)
	keys := NewKeys("test")
	mgr := NewLockManager(rdb, keys, 100*time.Millisecond, time.Second)
	ctx := context.Background()

	lock, err := mgr.Acquire(ctx, QueueLockName)
	require.NoError(t, err)
	defer func() { _ = lock.Unlock(ctx) }()

	_, err = mgr.Acquire(ctx, QueueLockName)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrLockNotAcquired)
}

func TestTryAcquire(t *testing.T) {
	rdb, _ := newTestRedis(t)
	keys := NewKeys("test")
	mgr := NewLockManager(rdb, keys, time.Second, time.Second)
	ctx := context.Background()

	lock, ok, err := mgr.TryAcquire(ctx, HousekeepingLockName)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = mgr.TryAcquire(ctx, HousekeepingLockName)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Unlock(ctx))
	_, ok, err = mgr.TryAcquire(ctx, HousekeepingLockName)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockIgnoresLostLock(t *testing.T) {
	rdb, mr := newTestRedis(t)
	keys := NewKeys("test")
	mgr := NewLockManager(rdb, keys, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	lock, err := mgr.Acquire(ctx, "expiring")
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	// lease expired and someone else took the lock
	other, ok, err := mgr.TryAcquire(ctx, "expiring")
	require.NoError(t, err)
	require.True(t, ok)

	// the stale holder's unlock must not release the new holder's lock
	require.NoError(t, lock.Unlock(ctx))
	_, ok, err = mgr.TryAcquire(ctx, "expiring")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, other.Unlock(ctx))
}

func TestRefreshReportsLoss(t *testing.T) {
	rdb, mr := newTestRedis(t)
	keys := NewKeys("test")
	mgr := NewLockManager(rdb, keys, time.Second, 50*time.Millisecond)
	ctx := context.Background()

	lock, err := mgr.Acquire(ctx, "refresh")
	require.NoError(t, err)

	held, err := lock.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	mr.FastForward(100 * time.Millisecond)

	held, err = lock.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAgentIDFromLedgerKey(t *testing.T) {
	keys := NewKeys("test")
	assert.Equal(t, "a1", AgentIDFromLedgerKey(keys.AgentConversations("a1")))
	assert.Equal(t, "", AgentIDFromLedgerKey("test:conversation:xyz"))
}
