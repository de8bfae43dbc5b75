package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrSyncInProgress is returned by TryLock when another sync holds the
// dataset.
var ErrSyncInProgress = errors.New("sync already in progress for dataset")

const (
	// DefaultLeaseTTL bounds how long a crashed holder blocks a dataset.
	DefaultLeaseTTL = 2 * time.Minute

	lockRetryInterval = 100 * time.Millisecond
)

// Locker serializes syncs per dataset. The returned unlock func releases
// the lock and must be called exactly once.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
	// TryLock returns ErrSyncInProgress instead of waiting.
	TryLock(ctx context.Context, key string) (unlock func(), err error)
}

// MemoryLocker is an in-process Locker. A key's slot lives only while a
// holder or waiter references it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*memorySlot)}
}

func (l *MemoryLocker) acquire(key string) *memorySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &memorySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) release(key string, s *memorySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *MemoryLocker) unlockFunc(key string, s *memorySlot) func() {
	return releaseOnce(func() {
		<-s.ch
		l.release(key, s)
	})
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlockFunc(key, s), nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	s := l.acquire(key)
	select {
	case s.ch <- struct{}{}:
		return l.unlockFunc(key, s), nil
	default:
		l.release(key, s)
		return nil, ErrSyncInProgress
	}
}

// held reports how many keys currently have a slot.
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func releaseOnce(f func()) func() {
	var once sync.Once
	return func() { once.Do(f) }
}

// RedisClient is the subset of *redis.Client the redis locker uses.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

const (
	redisUnlockScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	redisExtendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

// RedisLocker holds dataset locks as redis keys with a TTL so that locks
// of a crashed process expire. A held lock is extended every third of the
// TTL until released.
type RedisLocker struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a locker storing keys under prefix.
func NewRedisLocker(client RedisClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if prefix == "" {
		prefix = "islandd:sync:"
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	return pollLock(ctx, func() (func(), error) { return l.TryLock(ctx, key) })
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", k, err)
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	stop := keepAlive(ctx, l.ttl/3, func(ctx context.Context) {
		l.client.Eval(ctx, redisExtendScript, []string{k}, token, l.ttl.Milliseconds())
	})
	return releaseOnce(func() {
		stop()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		l.client.Eval(ctx, redisUnlockScript, []string{k}, token)
	}), nil
}

// LeaseStore is implemented by *metadata.Store.
type LeaseStore interface {
	AcquireLease(ctx context.Context, datasetID, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, datasetID, holder string) error
}

// LeaseLocker holds dataset locks as rows in the metadata store, for
// deployments where several processes share one database but no redis.
type LeaseLocker struct {
	store LeaseStore
	ttl   time.Duration
}

// NewLeaseLocker creates a locker backed by metadata leases.
func NewLeaseLocker(store LeaseStore, ttl time.Duration) *LeaseLocker {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &LeaseLocker{store: store, ttl: ttl}
}

func (l *LeaseLocker) Lock(ctx context.Context, key string) (func(), error) {
	return pollLock(ctx, func() (func(), error) { return l.TryLock(ctx, key) })
}

func (l *LeaseLocker) TryLock(ctx context.Context, key string) (func(), error) {
	holder := uuid.NewString()
	ok, err := l.store.AcquireLease(ctx, key, holder, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	stop := keepAlive(ctx, l.ttl/3, func(ctx context.Context) {
		_, _ = l.store.AcquireLease(ctx, key, holder, l.ttl)
	})
	return releaseOnce(func() {
		stop()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = l.store.ReleaseLease(ctx, key, holder)
	}), nil
}

// pollLock retries try until it stops returning ErrSyncInProgress.
func pollLock(ctx context.Context, try func() (func(), error)) (func(), error) {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unlock, err := try()
		if !errors.Is(err, ErrSyncInProgress) {
			return unlock, err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// keepAlive calls extend every interval until the returned stop func is
// called. stop waits for an in-flight extend to return.
func keepAlive(ctx context.Context, interval time.Duration, extend func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				extend(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
