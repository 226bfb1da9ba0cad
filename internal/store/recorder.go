package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/grading"
)

type Writer interface {
	SaveResult(ctx context.Context, r grading.Result) error
	SaveSummary(ctx context.Context, s grading.Summary) error
}

type Reader interface {
	Results(ctx context.Context, runID string) ([]ResultRow, error)
	Summary(ctx context.Context, runID string) (SummaryRow, error)
}

// Recorder is the grading sink that persists results and summaries.
// A failed write is logged and never interrupts the run.
type Recorder struct {
	w       Writer
	log     zerolog.Logger
	timeout time.Duration
}

func NewRecorder(w Writer, log zerolog.Logger) *Recorder {
	return &Recorder{w: w, log: log, timeout: 5 * time.Second}
}

func (r *Recorder) Emit(e grading.Event) {
	switch e.Type {
	case grading.EventResult, grading.EventSummary:
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch v := e.Data.(type) {
	case grading.Result:
		if err := r.w.SaveResult(ctx, v); err != nil {
			r.log.Error().Err(err).Str("run_id", v.RunID).Int("question", v.QuestionIndex).
				Int("repetition", v.Repetition).Msg("result_save_failed")
		}
	case grading.Summary:
		if err := r.w.SaveSummary(ctx, v); err != nil {
			r.log.Error().Err(err).Str("run_id", v.RunID).Msg("summary_save_failed")
		}
	}
}
