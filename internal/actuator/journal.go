// Package actuator records score entry. Driving a real pointer or keyboard
// happens outside this service; the journal is what it replays.
package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/question"
)

type Kind string

const (
	KindScore   Kind = "score"
	KindConfirm Kind = "confirm"
)

type Entry struct {
	Kind  Kind           `json:"kind"`
	At    time.Time      `json:"at"`
	Point question.Point `json:"point"`
	Score float64        `json:"score,omitempty"`
}

// Journal keeps the most recent entries in memory. It is safe for
// concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	log     zerolog.Logger
	now     func() time.Time
}

func NewJournal(limit int, log zerolog.Logger) *Journal {
	if limit <= 0 {
		limit = 500
	}
	return &Journal{limit: limit, log: log, now: time.Now}
}

func (j *Journal) InputScore(ctx context.Context, at question.Point, score float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.add(Entry{Kind: KindScore, Point: at, Score: score})
	j.log.Info().Int("x", at.X).Int("y", at.Y).Float64("score", score).Msg("score_input")
	return nil
}

func (j *Journal) ClickConfirm(ctx context.Context, at question.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.add(Entry{Kind: KindConfirm, Point: at})
	j.log.Info().Int("x", at.X).Int("y", at.Y).Msg("confirm_click")
	return nil
}

func (j *Journal) add(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.At = j.now()
	j.entries = append(j.entries, e)
	if over := len(j.entries) - j.limit; over > 0 {
		j.entries = append(j.entries[:0], j.entries[over:]...)
	}
}

func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

func (j *Journal) Reset() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}
