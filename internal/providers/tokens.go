package providers

import (
	"context"
	"sync"
	"time"
)

// TokenStore caches short-lived OCR access tokens between calls.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memToken struct {
	token   string
	expires time.Time
}

// MemoryTokens is the in-process TokenStore used when Redis is not wired.
type MemoryTokens struct {
	mu  sync.Mutex
	m   map[string]memToken
	now func() time.Time
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{m: map[string]memToken{}, now: time.Now}
}

func (s *MemoryTokens) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[key]
	if !ok || !s.now().Before(t.expires) {
		delete(s.m, key)
		return "", false, nil
	}
	return t.token, true, nil
}

func (s *MemoryTokens) Set(_ context.Context, key, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memToken{token: token, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokens) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
