package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/grading"
)

type stubWriter struct {
	results   []grading.Result
	summaries []grading.Summary
	fail      error
}

func (w *stubWriter) SaveResult(_ context.Context, r grading.Result) error {
	w.results = append(w.results, r)
	return w.fail
}

func (w *stubWriter) SaveSummary(_ context.Context, s grading.Summary) error {
	w.summaries = append(w.summaries, s)
	return w.fail
}

func TestRecorderPersistsResultsAndSummaries(t *testing.T) {
	w := &stubWriter{}
	rec := NewRecorder(w, zerolog.Nop())
	score := 7.5

	rec.Emit(grading.Event{Type: grading.EventLog, Data: grading.LogEntry{Message: "hello"}})
	rec.Emit(grading.Event{Type: grading.EventProgress, Data: grading.Progress{Completed: 1, Total: 2}})
	rec.Emit(grading.Event{Type: grading.EventResult, Data: grading.Result{RunID: "r1", QuestionIndex: 1, FinalScore: &score}})
	rec.Emit(grading.Event{Type: grading.EventSummary, Data: grading.Summary{RunID: "r1", Status: grading.StatusCompleted}})
	rec.Emit(grading.Event{Type: grading.EventTerminal, Data: grading.Terminal{Signal: grading.SignalCompleted}})

	require.Len(t, w.results, 1)
	require.Equal(t, 7.5, *w.results[0].FinalScore)
	require.Len(t, w.summaries, 1)
	require.Equal(t, grading.StatusCompleted, w.summaries[0].Status)
}

func TestRecorderSwallowsWriteErrors(t *testing.T) {
	w := &stubWriter{fail: errors.New("db down")}
	rec := NewRecorder(w, zerolog.Nop())
	require.NotPanics(t, func() {
		rec.Emit(grading.Event{Type: grading.EventResult, Data: grading.Result{RunID: "r1"}})
	})
	require.Len(t, w.results, 1)
}

func TestNewResultRow(t *testing.T) {
	score, diff := 6.0, 2.0
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("CST", 8*3600))
	row, err := NewResultRow(grading.Result{
		RunID:           "r1",
		Repetition:      2,
		QuestionIndex:   3,
		FinalScore:      &score,
		ScoreDifference: &diff,
		Dual:            true,
		Itemized:        []float64{4, 2},
		Evaluations:     []grading.Evaluation{{Provider: "openai", Model: "gpt-4o", Score: 6}},
		At:              at,
	})
	require.NoError(t, err)
	require.True(t, row.FinalScore.Valid)
	require.Equal(t, 6.0, row.FinalScore.Float64)
	require.JSONEq(t, `[4,2]`, string(row.Itemized))
	require.Equal(t, time.UTC, row.CreatedAt.Location())

	var evals []map[string]any
	require.NoError(t, json.Unmarshal(row.Evaluations, &evals))
	require.Equal(t, "openai", evals[0]["provider"])

	out, err := json.Marshal(row)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Equal(t, 6.0, m["final_score"])
	require.Equal(t, 2.0, m["score_difference"])
	require.Equal(t, []any{4.0, 2.0}, m["itemized_scores"])
}

func TestNewResultRowWithoutScore(t *testing.T) {
	row, err := NewResultRow(grading.Result{RunID: "r1", Partial: true})
	require.NoError(t, err)
	require.False(t, row.FinalScore.Valid)
	require.JSONEq(t, `[]`, string(row.Itemized))
	require.False(t, row.CreatedAt.IsZero())

	out, err := json.Marshal(row)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	require.Contains(t, m, "final_score")
	require.Nil(t, m["final_score"])
	require.NotContains(t, m, "score_difference")
}

func TestNewSummaryRow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	row := NewSummaryRow(grading.Summary{
		RunID:      "r1",
		Status:     grading.StatusThresholdExceeded,
		Elapsed:    1500 * time.Millisecond,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	})
	require.Equal(t, "threshold_exceeded", row.Status)
	require.EqualValues(t, 1500, row.ElapsedMS)
}
