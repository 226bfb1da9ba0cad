package grading

import (
	"time"

	"github.com/emandor/lemme_grader/internal/ocr"
)

type Status string

const (
	StatusIdle              Status = "idle"
	StatusRunning           Status = "running"
	StatusCompleted         Status = "completed"
	StatusError             Status = "error"
	StatusThresholdExceeded Status = "threshold_exceeded"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusThresholdExceeded
}

type Level string

const (
	LevelInfo   Level = "INFO"
	LevelDetail Level = "DETAIL"
	LevelResult Level = "RESULT"
	LevelError  Level = "ERROR"
)

type Signal string

const (
	SignalCompleted          Signal = "completed"
	SignalError              Signal = "error"
	SignalThresholdExceeded  Signal = "threshold_exceeded"
	SignalManualIntervention Signal = "manual_intervention"
)

type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventResult   EventType = "result"
	EventTerminal EventType = "terminal"
	EventSummary  EventType = "summary"
)

// Event wraps one of LogEntry, Progress, Result, Terminal or Summary.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
	Data  any       `json:"data"`
}

// Sink receives run events in order. Emit must not block the run for long;
// slow consumers buffer or drop on their side.
type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type LogEntry struct {
	Message string `json:"message"`
	IsError bool   `json:"is_error"`
	Level   Level  `json:"level"`
}

type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Evaluation is one provider's graded reply.
type Evaluation struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Verdict  Verdict       `json:"verdict"`
	Score    float64       `json:"score"`
	Raw      string        `json:"raw"`
	Latency  time.Duration `json:"latency"`

	err error
}

// Result is recorded once per question per repetition. FinalScore is nil
// when no score was entered (stop before input, dual disagreement).
type Result struct {
	RunID           string        `json:"run_id"`
	Repetition      int           `json:"repetition"`
	QuestionIndex   int           `json:"question_index"`
	FinalScore      *float64      `json:"final_score,omitempty"`
	Rationale       string        `json:"rationale"`
	Itemized        []float64     `json:"itemized_scores"`
	Raw             string        `json:"raw_reply"`
	Dual            bool          `json:"dual"`
	ScoreDifference *float64      `json:"score_difference,omitempty"`
	Evaluations     []Evaluation  `json:"evaluations"`
	OCRText         string        `json:"ocr_text,omitempty"`
	OCR             *ocr.Decision `json:"ocr,omitempty"`
	Partial         bool          `json:"partial,omitempty"`
	InputError      string        `json:"input_error,omitempty"`
	At              time.Time     `json:"at"`
}

type Terminal struct {
	Signal      Signal `json:"signal"`
	Reason      string `json:"reason,omitempty"`
	Code        string `json:"code,omitempty"`
	Remedy      string `json:"remedy,omitempty"`
	RawFeedback string `json:"raw_feedback,omitempty"`
}

// Summary is written at the end of every run, whatever its outcome.
type Summary struct {
	RunID       string        `json:"run_id"`
	Repetitions int           `json:"repetitions"`
	Questions   int           `json:"questions"`
	Attempted   int           `json:"attempted"`
	Completed   int           `json:"completed"`
	Status      Status        `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Dual        bool          `json:"dual"`
	Threshold   float64       `json:"threshold"`
	FirstModel  string        `json:"first_model"`
	SecondModel string        `json:"second_model,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Fanout forwards every event to each sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}
