package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
)

// Locker serializes status updates for one (project, category) key.
// The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LockKey is the key used to serialize updates of one category of a project.
func LockKey(projectID string, category domain.StatusCategory) string {
	return "status:" + projectID + ":" + string(category)
}

// NoopLocker does not serialize. Two concurrent updates of the same key may
// both validate against the same current value.
type NoopLocker struct{}

// Lock implements Locker.
func (NoopLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}

// LocalLocker serializes updates within one process.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process keyed mutex.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

// Lock implements Locker. It waits until the key is free or ctx ends.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

const lockRetryBackoff = 25 * time.Millisecond

// RedisLocker serializes updates across processes with a Redis lease.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewRedisLocker creates a locker over rdb. The lease expires after ttl if the
// holder dies without releasing it.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		// Waiters give up after half a lease.
		retry: redislock.LimitRetry(redislock.LinearBackoff(lockRetryBackoff), int(ttl/(2*lockRetryBackoff))),
	}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperrors.Conflict(apperrors.CodeStatusLockNotObtained,
			"another update of this status is in progress").
			WithParams(map[string]interface{}{"key": key})
	}
	if err != nil {
		return nil, fmt.Errorf("obtain status lock: %w", err)
	}
	return func() {
		// Release outlives the request context so the lease is not leaked.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
