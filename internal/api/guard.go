package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/grading"
)

type Locker interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// RunGuard holds the cross-process run lock from start until the
// orchestrator emits the run's terminal event. It is a grading.Sink.
type RunGuard struct {
	lock Locker
	log  zerolog.Logger

	mu    sync.Mutex
	token string
}

func NewRunGuard(lock Locker, log zerolog.Logger) *RunGuard {
	return &RunGuard{lock: lock, log: log}
}

// Begin takes the lock. Callers must follow with Abort if the run never
// starts.
func (g *RunGuard) Begin(ctx context.Context) error {
	token, err := g.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	return nil
}

func (g *RunGuard) Abort() { g.release() }

func (g *RunGuard) Emit(e grading.Event) {
	if e.Type == grading.EventTerminal {
		g.release()
	}
}

func (g *RunGuard) release() {
	g.mu.Lock()
	token := g.token
	g.token = ""
	g.mu.Unlock()
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.lock.Release(ctx, token); err != nil {
		g.log.Warn().Err(err).Msg("run_lock_release_failed")
	}
}
