package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
)

// unlockLua deletes the lock only if it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry forward only if the caller still owns the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SETNX, a TTL, and a
// token-checked unlock. Locks taken with Acquire are renewed in the
// background until released, so a long-lived owner (one agent per account)
// keeps the lock while a crashed one loses it after ttl.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key. The returned unlock function stops the
// renewal and releases the lock; it is safe to call more than once.
//
// It returns domain.ErrLockHeld if another owner holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	go lm.renew(renewCtx, lk, token, ttl)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			stopRenew()

			// Background context so unlock works after the caller's ctx is gone.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

func (lm *LockManager) renew(ctx context.Context, lk, token string, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_ = lm.extendSc.Run(extendCtx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Err()
			cancel()
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
