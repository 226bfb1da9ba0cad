package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/grading"
)

type published struct {
	subject string
	data    []byte
}

type stubPublisher struct {
	msgs []published
	err  error
}

func (s *stubPublisher) Publish(subject string, data []byte) error {
	s.msgs = append(s.msgs, published{subject, data})
	return s.err
}

func TestNATSPublisherDefaults(t *testing.T) {
	pub := &stubPublisher{}
	p := NewNATSPublisher(pub, "", zerolog.Nop())
	score := 8.0

	p.Emit(grading.Event{Type: grading.EventLog, RunID: "r1", Data: grading.LogEntry{Message: "hi"}})
	p.Emit(grading.Event{Type: grading.EventProgress, RunID: "r1", Data: grading.Progress{Completed: 1, Total: 1}})
	p.Emit(grading.Event{Type: grading.EventResult, RunID: "r1", Data: grading.Result{RunID: "r1", QuestionIndex: 2, FinalScore: &score}})
	p.Emit(grading.Event{Type: grading.EventTerminal, RunID: "r1", Data: grading.Terminal{Signal: grading.SignalCompleted}})

	require.Len(t, pub.msgs, 2)
	require.Equal(t, "grading.result", pub.msgs[0].subject)
	require.Equal(t, "grading.terminal", pub.msgs[1].subject)

	var got struct {
		Type  string `json:"type"`
		RunID string `json:"run_id"`
		Data  struct {
			QuestionIndex int     `json:"question_index"`
			FinalScore    float64 `json:"final_score"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	require.Equal(t, "result", got.Type)
	require.Equal(t, "r1", got.RunID)
	require.Equal(t, 2, got.Data.QuestionIndex)
	require.Equal(t, 8.0, got.Data.FinalScore)
}

func TestNATSPublisherCustomTypesAndErrors(t *testing.T) {
	pub := &stubPublisher{err: errors.New("nats: connection closed")}
	p := NewNATSPublisher(pub, "exam", zerolog.Nop(), grading.EventProgress)

	require.NotPanics(t, func() {
		p.Emit(grading.Event{Type: grading.EventProgress, RunID: "r1", Data: grading.Progress{Completed: 1, Total: 2}})
	})
	p.Emit(grading.Event{Type: grading.EventResult, RunID: "r1"})
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "exam.progress", pub.msgs[0].subject)
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf).Level(zerolog.InfoLevel))

	s.Emit(grading.Event{RunID: "r1", Data: grading.LogEntry{Message: "detail line", Level: grading.LevelDetail}})
	require.Zero(t, buf.Len(), "detail lines log at debug")

	s.Emit(grading.Event{RunID: "r1", Data: grading.LogEntry{Message: "boom", Level: grading.LevelError, IsError: true}})
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "error", line["level"])
	require.Equal(t, "boom", line["message"])
	require.Equal(t, "r1", line["run_id"])

	buf.Reset()
	s.Emit(grading.Event{RunID: "r1", Data: grading.Terminal{Signal: grading.SignalThresholdExceeded, Code: "score_disagreement"}})
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "warn", line["level"])
	require.Equal(t, "threshold_exceeded", line["signal"])
}
