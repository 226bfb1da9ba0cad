package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const runLockKey = "grader:run:lock"

var ErrLocked = errors.New("cache: a grading run already holds the lock")

// release deletes the key only while it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock keeps a single grading run active across every process sharing
// the Redis instance.
type RunLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

func NewRunLock(rdb *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RunLock{rdb: rdb, key: runLockKey, ttl: ttl}
}

// Acquire returns a release token, or ErrLocked when another run holds it.
func (l *RunLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrLocked
	}
	return token, nil
}

func (l *RunLock) Release(ctx context.Context, token string) error {
	return release.Run(ctx, l.rdb, []string{l.key}, token).Err()
}

// Held reports whether any run holds the lock.
func (l *RunLock) Held(ctx context.Context) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.key).Result()
	return n > 0, err
}
