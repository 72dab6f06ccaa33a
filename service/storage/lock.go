package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashik1291/customer-support-live-chat-system/tools/errs"
)

// Named advisory locks on plain Redis keys: SET NX PX with a random holder
// token, released (or refreshed) only when the token still matches. The lease
// means a crashed holder cannot deadlock anyone.

// unlock only if we still hold the lock
// KEYS[1] = lock key
// ARGV[1] = holder token
const luaUnlock = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// extend the lease only if we still hold the lock
// KEYS[1] = lock key
// ARGV[1] = holder token
// ARGV[2] = lease millis
const luaRefresh = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const acquirePollInterval = 20 * time.Millisecond

type LockManager struct {
	rdb   *redis.Client
	keys  Keys
	wait  time.Duration // max blocking wait in Acquire
	lease time.Duration // lease placed on every acquired lock
}

func NewLockManager(rdb *redis.Client, keys Keys, wait, lease time.Duration) *LockManager {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &LockManager{rdb: rdb, keys: keys, wait: wait, lease: lease}
}

// Lock is a held advisory lock. Unlock is safe to call on all exit paths; it
// is a no-op once the lease expired or another holder took over.
type Lock struct {
	mgr   *LockManager
	key   string
	token string
}

// Acquire blocks until the named lock is held or the wait window elapses.
func (m *LockManager) Acquire(ctx context.Context, name string) (*Lock, error) {
	key := m.keys.Lock(name)
	token := uuid.NewString()
	deadline := time.Now().Add(m.wait)

	for {
		ok, err := m.rdb.SetNX(ctx, key, token, m.lease).Result()
		if err != nil {
			return nil, errs.Store(err, "lock acquire")
		}
		if ok {
			return &Lock{mgr: m, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.ErrLockNotAcquired.WrapMsg(name)
		}
		select {
		case <-ctx.Done():
			return nil, errs.Store(ctx.Err(), "lock acquire")
		case <-time.After(acquirePollInterval):
		}
	}
}

// TryAcquire attempts the lock once without blocking. Used by the
// housekeeping sweep to elect a leader across instances.
func (m *LockManager) TryAcquire(ctx context.Context, name string) (*Lock, bool, error) {
	key := m.keys.Lock(name)
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, key, token, m.lease).Result()
	if err != nil {
		return nil, false, errs.Store(err, "lock try-acquire")
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{mgr: m, key: key, token: token}, true, nil
}

func (l *Lock) Unlock(ctx context.Context) error {
	err := l.mgr.rdb.Eval(ctx, luaUnlock, []string{l.key}, l.token).Err()
	if err != nil && err != redis.Nil {
		return errs.Store(err, "lock release")
	}
	return nil
}

// Refresh extends the lease; returns false when the lock was lost.
func (l *Lock) Refresh(ctx context.Context) (bool, error) {
	n, err := l.mgr.rdb.Eval(ctx, luaRefresh, []string{l.key}, l.token, l.mgr.lease.Milliseconds()).Int64()
	if err != nil && err != redis.Nil {
		return false, errs.Store(err, "lock refresh")
	}
	return n == 1, nil
}
