// Package events carries grading events beyond the websocket hub: into the
// process log and onto NATS for downstream consumers.
package events

import (
	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/grading"
)

// LogSink mirrors the run log into zerolog.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) LogSink { return LogSink{log: log} }

func (s LogSink) Emit(e grading.Event) {
	switch v := e.Data.(type) {
	case grading.LogEntry:
		var ev *zerolog.Event
		switch v.Level {
		case grading.LevelError:
			ev = s.log.Error()
		case grading.LevelDetail:
			ev = s.log.Debug()
		default:
			ev = s.log.Info()
		}
		ev.Str("run_id", e.RunID).Str("level_tag", string(v.Level)).Msg(v.Message)
	case grading.Progress:
		s.log.Debug().Str("run_id", e.RunID).Int("completed", v.Completed).Int("total", v.Total).Msg("run_progress")
	case grading.Result:
		ev := s.log.Info().Str("run_id", e.RunID).Int("question", v.QuestionIndex).Int("repetition", v.Repetition).
			Bool("partial", v.Partial)
		if v.FinalScore != nil {
			ev = ev.Float64("score", *v.FinalScore)
		}
		ev.Msg("question_result")
	case grading.Terminal:
		ev := s.log.Info()
		if v.Signal != grading.SignalCompleted {
			ev = s.log.Warn().Str("code", v.Code).Str("reason", v.Reason)
		}
		ev.Str("run_id", e.RunID).Str("signal", string(v.Signal)).Msg("run_terminal")
	}
}
