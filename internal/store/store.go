package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/emandor/lemme_grader/internal/grading"
)

var ErrNotFound = errors.New("store: not found")

// ResultRow is one graded question as persisted. JSON columns are kept raw
// so the API can hand them out without a decode round trip.
type ResultRow struct {
	ID              int64           `db:"id" json:"id"`
	RunID           string          `db:"run_id" json:"run_id"`
	Repetition      int             `db:"repetition" json:"repetition"`
	QuestionIndex   int             `db:"question_index" json:"question_index"`
	FinalScore      sql.NullFloat64 `db:"final_score" json:"-"`
	ScoreDifference sql.NullFloat64 `db:"score_difference" json:"-"`
	Dual            bool            `db:"dual" json:"dual"`
	Partial         bool            `db:"partial" json:"partial"`
	Rationale       string          `db:"rationale" json:"rationale"`
	Itemized        json.RawMessage `db:"itemized" json:"itemized_scores"`
	Raw             string          `db:"raw_reply" json:"raw_reply"`
	Evaluations     json.RawMessage `db:"evaluations" json:"evaluations"`
	OCRText         string          `db:"ocr_text" json:"ocr_text,omitempty"`
	InputError      string          `db:"input_error" json:"input_error,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

func (r ResultRow) MarshalJSON() ([]byte, error) {
	type plain ResultRow
	return json.Marshal(struct {
		plain
		FinalScore      *float64 `json:"final_score"`
		ScoreDifference *float64 `json:"score_difference,omitempty"`
	}{plain(r), nullable(r.FinalScore), nullable(r.ScoreDifference)})
}

type SummaryRow struct {
	RunID       string    `db:"run_id" json:"run_id"`
	Repetitions int       `db:"repetitions" json:"repetitions"`
	Questions   int       `db:"questions" json:"questions"`
	Attempted   int       `db:"attempted" json:"attempted"`
	Completed   int       `db:"completed" json:"completed"`
	Status      string    `db:"status" json:"status"`
	Reason      string    `db:"reason" json:"reason,omitempty"`
	ElapsedMS   int64     `db:"elapsed_ms" json:"elapsed_ms"`
	Dual        bool      `db:"dual" json:"dual"`
	Threshold   float64   `db:"threshold" json:"threshold"`
	FirstModel  string    `db:"first_model" json:"first_model"`
	SecondModel string    `db:"second_model" json:"second_model,omitempty"`
	StartedAt   time.Time `db:"started_at" json:"started_at"`
	FinishedAt  time.Time `db:"finished_at" json:"finished_at"`
}

func NewResultRow(r grading.Result) (ResultRow, error) {
	items, err := json.Marshal(nonNil(r.Itemized))
	if err != nil {
		return ResultRow{}, err
	}
	evals, err := json.Marshal(r.Evaluations)
	if err != nil {
		return ResultRow{}, err
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return ResultRow{
		RunID:           r.RunID,
		Repetition:      r.Repetition,
		QuestionIndex:   r.QuestionIndex,
		FinalScore:      nullFloat(r.FinalScore),
		ScoreDifference: nullFloat(r.ScoreDifference),
		Dual:            r.Dual,
		Partial:         r.Partial,
		Rationale:       r.Rationale,
		Itemized:        items,
		Raw:             r.Raw,
		Evaluations:     evals,
		OCRText:         r.OCRText,
		InputError:      truncate(r.InputError, 512),
		CreatedAt:       at.UTC(),
	}, nil
}

func NewSummaryRow(s grading.Summary) SummaryRow {
	return SummaryRow{
		RunID:       s.RunID,
		Repetitions: s.Repetitions,
		Questions:   s.Questions,
		Attempted:   s.Attempted,
		Completed:   s.Completed,
		Status:      string(s.Status),
		Reason:      s.Reason,
		ElapsedMS:   s.Elapsed.Milliseconds(),
		Dual:        s.Dual,
		Threshold:   s.Threshold,
		FirstModel:  s.FirstModel,
		SecondModel: s.SecondModel,
		StartedAt:   s.StartedAt.UTC(),
		FinishedAt:  s.FinishedAt.UTC(),
	}
}

// Store persists results and run summaries in MySQL.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) SaveResult(ctx context.Context, r grading.Result) error {
	row, err := NewResultRow(r)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
  INSERT INTO grading_results
    (run_id, repetition, question_index, final_score, score_difference, dual, partial,
     rationale, itemized, raw_reply, evaluations, ocr_text, input_error, created_at)
  VALUES
    (:run_id, :repetition, :question_index, :final_score, :score_difference, :dual, :partial,
     :rationale, :itemized, :raw_reply, :evaluations, :ocr_text, :input_error, :created_at)
`, row)
	return err
}

// SaveSummary upserts so a summary rewritten for the same run replaces the
// earlier one.
func (s *Store) SaveSummary(ctx context.Context, sum grading.Summary) error {
	_, err := s.db.NamedExecContext(ctx, `
  INSERT INTO run_summaries
    (run_id, repetitions, questions, attempted, completed, status, reason, elapsed_ms,
     dual, threshold, first_model, second_model, started_at, finished_at)
  VALUES
    (:run_id, :repetitions, :questions, :attempted, :completed, :status, :reason, :elapsed_ms,
     :dual, :threshold, :first_model, :second_model, :started_at, :finished_at)
  ON DUPLICATE KEY UPDATE
    attempted=VALUES(attempted), completed=VALUES(completed), status=VALUES(status),
    reason=VALUES(reason), elapsed_ms=VALUES(elapsed_ms), finished_at=VALUES(finished_at)
`, NewSummaryRow(sum))
	return err
}

func (s *Store) Results(ctx context.Context, runID string) ([]ResultRow, error) {
	rows := []ResultRow{}
	err := s.db.SelectContext(ctx, &rows, `
  SELECT id, run_id, repetition, question_index, final_score, score_difference, dual, partial,
         COALESCE(rationale, '') AS rationale, COALESCE(itemized, '[]') AS itemized,
         COALESCE(raw_reply, '') AS raw_reply, COALESCE(evaluations, '[]') AS evaluations,
         COALESCE(ocr_text, '') AS ocr_text, input_error, created_at
  FROM grading_results
  WHERE run_id=?
  ORDER BY repetition, question_index, id`, runID)
	return rows, err
}

func (s *Store) Summary(ctx context.Context, runID string) (SummaryRow, error) {
	var row SummaryRow
	err := s.db.GetContext(ctx, &row, `
  SELECT run_id, repetitions, questions, attempted, completed, status, COALESCE(reason, '') AS reason,
         elapsed_ms, dual, threshold, first_model, second_model, started_at, finished_at
  FROM run_summaries WHERE run_id=?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return SummaryRow{}, ErrNotFound
	}
	return row, err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
