package providers

import (
	"strings"
	"time"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/img"
)

// Prompt is the grading instruction pair.
type Prompt struct {
	System string `json:"system,omitempty"`
	User   string `json:"user"`
}

// Request is one model call. Image (data URI or bare base64) and OCRText
// are alternative inputs; a text-only call carries neither.
type Request struct {
	Provider   Kind
	Credential string
	Model      string
	Image      string
	OCRText    string
	Prompt     Prompt
}

type Response struct {
	Provider Kind          `json:"provider"`
	Model    string        `json:"model"`
	Text     string        `json:"text"`
	Latency  time.Duration `json:"latency"`
}

const ocrTextHeading = "Recognized text of the student's answer (struck-through content already removed):"

func (r Request) Validate() error {
	if r.Image != "" && r.OCRText != "" {
		return failure.New(failure.CodeInvalidInput, "image and OCR text are mutually exclusive inputs")
	}
	if strings.TrimSpace(r.Model) == "" {
		return failure.Newf(failure.CodeInvalidInput, "%s model id is empty", r.Provider)
	}
	if strings.TrimSpace(r.Prompt.User) == "" && strings.TrimSpace(r.Prompt.System) == "" {
		return failure.New(failure.CodeInvalidInput, "prompt is empty")
	}
	return nil
}

// userText is the user prompt with the OCR text appended when present.
func (r Request) userText() string {
	if r.OCRText == "" {
		return r.Prompt.User
	}
	return r.Prompt.User + "\n\n" + ocrTextHeading + "\n" + r.OCRText
}

func (r Request) imageURL() string { return img.EnsureDataURI(r.Image) }

func (r Request) imageBase64() (mime, payload string) { return img.SplitDataURI(r.Image) }
