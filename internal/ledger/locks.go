package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/medchain-ledger-sync/pkg/utils"
)

// LockTable serializes submissions per writer address
type LockTable interface {
	// Acquire blocks until the address is free or ctx is done. The returned
	// release func must be called exactly once.
	Acquire(ctx context.Context, address common.Address) (func(), error)
}

// LocalLockTable serializes writers within one process
type LocalLockTable struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

// NewLocalLockTable creates an empty lock table
func NewLocalLockTable() *LocalLockTable {
	return &LocalLockTable{slots: make(map[common.Address]chan struct{})}
}

func (t *LocalLockTable) slot(address common.Address) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.slots[address]
	if !ok {
		ch = make(chan struct{}, 1)
		t.slots[address] = ch
	}
	return ch
}

// Acquire implements LockTable
func (t *LocalLockTable) Acquire(ctx context.Context, address common.Address) (func(), error) {
	ch := t.slot(address)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, utils.WrapError(utils.ErrCodeSubmission, "Cancelled while waiting for writer lock", ctx.Err())
	}
}

// RedisLockTable serializes writers across processes sharing one Redis.
// The in-process table is taken first so local callers queue without
// polling Redis.
type RedisLockTable struct {
	local   *LocalLockTable
	locker  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	logger  *logrus.Entry
}

// NewRedisLockTable creates a lock table on an existing redis client. ttl
// must exceed the longest commit wait.
func NewRedisLockTable(client redis.UniversalClient, ttl time.Duration) *RedisLockTable {
	return &RedisLockTable{
		local:   NewLocalLockTable(),
		locker:  redislock.New(client),
		ttl:     ttl,
		backoff: 100 * time.Millisecond,
		logger:  utils.ComponentLogger("writer_lock"),
	}
}

// LockKey is the redis key guarding address
func LockKey(address common.Address) string {
	return "medchain:writer:" + strings.ToLower(address.Hex())
}

// Acquire implements LockTable
func (t *RedisLockTable) Acquire(ctx context.Context, address common.Address) (func(), error) {
	releaseLocal, err := t.local.Acquire(ctx, address)
	if err != nil {
		return nil, err
	}

	key := LockKey(address)
	var lock *redislock.Lock
	for lock == nil {
		lock, err = t.locker.Obtain(ctx, key, t.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(t.backoff),
		})
		switch {
		case err == nil:
		case errors.Is(err, redislock.ErrNotObtained) && ctx.Err() == nil:
			// held elsewhere for longer than one obtain window
			lock = nil
		case ctx.Err() != nil:
			releaseLocal()
			return nil, utils.WrapError(utils.ErrCodeSubmission, "Cancelled while waiting for writer lock", ctx.Err())
		default:
			releaseLocal()
			return nil, utils.WrapError(utils.ErrCodeSubmission, "Failed to obtain writer lock", err)
		}
	}

	done := make(chan struct{})
	go t.keepAlive(lock, key, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				t.logger.WithError(err).WithField("key", key).Warn("Failed to release writer lock")
			}
			releaseLocal()
		})
	}, nil
}

// keepAlive refreshes the lock while a submission spans several commit
// waits (stale sequence retries)
func (t *RedisLockTable) keepAlive(lock *redislock.Lock, key string, done <-chan struct{}) {
	ticker := time.NewTicker(t.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := lock.Refresh(context.Background(), t.ttl, nil); err != nil {
				t.logger.WithError(err).WithField("key", key).Error("Failed to refresh writer lock")
				return
			}
		}
	}
}
