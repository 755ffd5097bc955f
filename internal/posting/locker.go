package posting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the scope's execution slot was not granted in time.
// Nothing has been written when it is returned.
var ErrLockTimeout = errors.New("timed out waiting for posting scope")

// Locker grants exclusive execution per scope key. release must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type slot struct {
	ch   chan struct{}
	refs int
}

// LocalLocker serializes scopes inside one process. Waiting honours ctx; slots are
// dropped once nobody holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocalLocker constructs an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Acquire blocks until key is free or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Held reports how many scopes currently have holders or waiters.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

const lockPrefix = "posting:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes scopes across instances with SET NX PX. The lease bounds how
// long a crashed holder can block a scope.
type RedisLocker struct {
	client *redis.Client
	lease  time.Duration
	retry  time.Duration
}

// NewRedisLocker constructs a distributed locker.
func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisLocker{client: client, lease: lease, retry: 10 * time.Millisecond}
}

// Acquire polls until the lock is taken or ctx is done.
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := lockPrefix + key
	token := uuid.NewString()
	wait := r.retry
	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.lease).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire scope lock: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				releaseScript.Run(releaseCtx, r.client, []string{lockKey}, token) // best effort cleanup
			}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}

// Layered acquires every locker in order and releases in reverse, e.g. a LocalLocker
// in front of a RedisLocker.
type Layered []Locker

// Acquire takes each layer in turn; a failure releases what was already held.
func (ls Layered) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(ls))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, l := range ls {
		release, err := l.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
