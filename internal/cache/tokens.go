package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "grader:token:"

// TokenStore keeps OCR access tokens in Redis so restarts and sibling
// processes reuse them until they expire.
type TokenStore struct {
	rdb *redis.Client
}

func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{rdb: rdb}
}

func (s *TokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, tokenPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *TokenStore) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, tokenPrefix+key, token, ttl).Err()
}

func (s *TokenStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, tokenPrefix+key).Err()
}
