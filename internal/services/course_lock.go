package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CourseLocker serializes writers of one course aggregate.
type CourseLocker interface {
	Lock(ctx context.Context, courseID uuid.UUID) (unlock func(), err error)
}

// LocalLocker is an in-process CourseLocker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[uuid.UUID]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, courseID uuid.UUID) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[courseID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[courseID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(courseID, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(courseID, lk, true) })
	}, nil
}

func (l *LocalLocker) release(courseID uuid.UUID, lk *localLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, courseID)
	}
	l.mu.Unlock()
}

// Compare-and-delete so a holder whose TTL lapsed cannot release a lock that
// another instance has since acquired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a CourseLocker shared by every API instance.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	maxWait time.Duration
	retry   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl, maxWait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl, maxWait: maxWait, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, courseID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("course_lock:%s", courseID)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			return nil, &ConflictError{Message: "Course is being modified, please retry"}
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(relCtx, l.client, []string{key}, token)
		})
	}, nil
}
