package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const namespace = "lemme_grader"

var (
	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "call_duration_seconds",
		Help:      "Duration of provider gateway calls",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
	}, []string{"provider"})

	ProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "failures_total",
		Help:      "Provider gateway failures by code",
	}, []string{"provider", "code"})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grading",
		Name:      "retries_total",
		Help:      "Retried provider and OCR calls by failure code",
	}, []string{"code"})

	OCRDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ocr",
		Name:      "decisions_total",
		Help:      "OCR gate outcomes",
	}, []string{"outcome"})

	QuestionsGraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grading",
		Name:      "questions_total",
		Help:      "Questions graded and recorded",
	})

	RunOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grading",
		Name:      "runs_total",
		Help:      "Finished runs by terminal status",
	}, []string{"status"})
)

// Tracer returns the named tracer from the global otel provider. Without an
// installed SDK it is a no-op.
func Tracer(name string) trace.Tracer {
	return otel.Tracer("github.com/emandor/lemme_grader/" + name)
}
