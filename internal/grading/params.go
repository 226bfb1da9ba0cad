package grading

import (
	"context"
	"strings"
	"time"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/ocr"
	"github.com/emandor/lemme_grader/internal/providers"
	"github.com/emandor/lemme_grader/internal/question"
)

const (
	// DefaultThreshold applies when a run file leaves threshold unset. An
	// explicit 0 demands identical scores.
	DefaultThreshold = 5
	DefaultStepMax   = 20
)

// Endpoint is one provider + credential + model choice.
type Endpoint struct {
	Provider   providers.Kind `json:"provider"`
	Credential string         `json:"-"`
	Model      string         `json:"model"`
}

func (e Endpoint) label() string { return e.Provider.String() + "/" + e.Model }

// Params is the snapshot a run works from. It is copied at run start.
type Params struct {
	Repetitions          int               `json:"repetitions"`
	Wait                 time.Duration     `json:"wait"`
	Subject              string            `json:"subject"`
	Dual                 bool              `json:"dual"`
	Threshold            float64           `json:"threshold"`
	First                Endpoint          `json:"first"`
	Second               Endpoint          `json:"second"`
	OCRCredential        string            `json:"-"`
	ContinueOnInputError bool              `json:"continue_on_input_error"`
	Questions            []question.Config `json:"questions"`

	// OCRTable overlays the built-in thresholds for this run.
	OCRTable  ocr.Table  `json:"ocr_table,omitempty"`
	OCRPolicy ocr.Policy `json:"ocr_policy"`
}

// Check reports the first configuration problem that keeps a run from
// starting.
func (p Params) Check() error {
	if p.Repetitions < 1 {
		return failure.Newf(failure.CodeInvalidInput, "repetitions must be at least 1, got %d", p.Repetitions)
	}
	if p.Threshold < 0 {
		return failure.Newf(failure.CodeInvalidInput, "score difference threshold must not be negative, got %v", p.Threshold)
	}
	if err := checkEndpoint("first", p.First); err != nil {
		return err
	}
	if p.Dual {
		if err := checkEndpoint("second", p.Second); err != nil {
			return err
		}
	}
	qs := question.Active(p.Questions)
	if len(qs) == 0 {
		return failure.New(failure.CodeInvalidInput, "no question is configured")
	}
	for _, q := range qs {
		if err := q.Check(); err != nil {
			return err
		}
	}
	return nil
}

func checkEndpoint(name string, e Endpoint) error {
	if !e.Provider.Valid() {
		return failure.Wrap(failure.CodeUnknownProvider, providers.ErrUnknownProvider, "the "+name+" provider is not set")
	}
	if e.Provider == providers.BaiduOCR {
		return failure.Newf(failure.CodeUnsupported, "the %s provider is an OCR service and cannot grade", name)
	}
	if strings.TrimSpace(e.Model) == "" {
		return failure.Newf(failure.CodeInvalidInput, "the %s model id is empty", name)
	}
	if strings.TrimSpace(e.Credential) == "" {
		return failure.Newf(failure.CodeCredentialMissing, "the %s provider (%s) has no API key", name, e.Provider)
	}
	return nil
}

// Capturer returns the answer region as a JPEG data URI.
type Capturer interface {
	Capture(ctx context.Context, area question.Rect) (string, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, image string) ([]ocr.Line, error)
}

// RecognizerFor builds the OCR recognizer for a run's parameters.
type RecognizerFor func(Params) Recognizer

// Inputter enters a finalized score on the marking screen.
type Inputter interface {
	InputScore(ctx context.Context, at question.Point, value float64) error
	ClickConfirm(ctx context.Context, at question.Point) error
}

type Caller interface {
	Call(ctx context.Context, req providers.Request) (providers.Response, error)
}
