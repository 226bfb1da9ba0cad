// Package failure classifies errors raised while grading into kinds and
// codes, and maps them to a recovery strategy.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindNetwork       Kind = "network"
	KindBusiness      Kind = "business"
	KindResource      Kind = "resource"
)

type Code string

const (
	// configuration
	CodeUnknownProvider   Code = "unknown_provider"
	CodeCredentialMissing Code = "credential_missing"
	CodeCredentialFormat  Code = "credential_format"
	CodeInvalidInput      Code = "invalid_input"
	CodeMissingRubric     Code = "missing_rubric"
	CodeMissingPosition   Code = "missing_position"
	CodeUnsupported       Code = "unsupported"

	// network
	CodeTimeout            Code = "timeout"
	CodeConnection         Code = "connection"
	CodeRateLimited        Code = "rate_limited"
	CodeServiceUnavailable Code = "service_unavailable"
	CodeServerError        Code = "server_error"
	CodeTokenExchange      Code = "token_exchange"
	CodeAuthInvalid        Code = "auth_invalid"
	CodeRequestMalformed   Code = "request_malformed"
	CodeNotFound           Code = "not_found"
	CodeNotImplemented     Code = "not_implemented"
	CodeServiceError       Code = "service_error"

	// business
	CodeExtraction    Code = "extraction"
	CodeParse         Code = "parse"
	CodeOutOfRange    Code = "out_of_range"
	CodeOCRDeferred   Code = "ocr_deferred"
	CodeManualReview  Code = "manual_review"
	CodeDisagreement  Code = "disagreement"
	CodeStopRequested Code = "stop_requested"
	CodeUnknown       Code = "unknown"

	// resource
	CodeCapture Code = "capture"
	CodeInput   Code = "input"
	CodeStorage Code = "storage"
)

type profile struct {
	kind        Kind
	recoverable bool
	remedy      string
}

var profiles = map[Code]profile{
	CodeUnknownProvider:   {KindConfiguration, false, "Pick one of the supported providers in the run file."},
	CodeCredentialMissing: {KindConfiguration, false, "Fill in the API key for this provider."},
	CodeCredentialFormat:  {KindConfiguration, false, "Re-copy the API key from the vendor console without extra spaces or prefixes."},
	CodeInvalidInput:      {KindConfiguration, false, "Check the request inputs; image and OCR text cannot be sent together."},
	CodeMissingRubric:     {KindConfiguration, false, "Write a rubric for every enabled question."},
	CodeMissingPosition:   {KindConfiguration, false, "Configure the score input and confirm button positions."},
	CodeUnsupported:       {KindConfiguration, false, "Choose a model that supports the requested input."},

	CodeTimeout:            {KindNetwork, true, "The provider is slow; the call is retried once."},
	CodeConnection:         {KindNetwork, true, "Check the network connection and proxy settings."},
	CodeRateLimited:        {KindNetwork, true, "Slow down the run or raise the provider quota."},
	CodeServiceUnavailable: {KindNetwork, true, "The provider is temporarily unavailable; try again later."},
	CodeServerError:        {KindNetwork, true, "The provider returned a server error; try again later."},
	CodeTokenExchange:      {KindNetwork, true, "Check the OCR API key and secret key."},
	CodeAuthInvalid:        {KindNetwork, false, "The API key was rejected; check it is valid and has quota."},
	CodeRequestMalformed:   {KindNetwork, false, "Check the model id and request settings."},
	CodeNotFound:           {KindNetwork, false, "Check the endpoint and model id."},
	CodeNotImplemented:     {KindNetwork, false, "The provider does not support this operation."},
	CodeServiceError:       {KindNetwork, false, "The provider rejected the request."},

	CodeExtraction:    {KindBusiness, false, "The provider reply had an unexpected shape."},
	CodeParse:         {KindBusiness, false, "The model reply did not contain a usable score; adjust the rubric or model."},
	CodeOutOfRange:    {KindBusiness, true, "The score was clamped to the question bounds."},
	CodeOCRDeferred:   {KindBusiness, false, "OCR confidence is too low; grade this answer by hand."},
	CodeManualReview:  {KindBusiness, false, "The model asked for human review; grade this answer by hand."},
	CodeDisagreement:  {KindBusiness, false, "The two evaluations disagree; adjudicate this answer by hand."},
	CodeStopRequested: {KindBusiness, false, "The run was stopped; start it again to continue."},
	CodeUnknown:       {KindBusiness, false, "Check the logs for details."},

	CodeCapture: {KindResource, false, "Check the capture source and the answer area."},
	CodeInput:   {KindResource, false, "Check the score input positions."},
	CodeStorage: {KindResource, false, "Check disk and database availability."},
}

// Error is a classified failure. Message is safe to show to the operator.
type Error struct {
	Kind        Kind
	Code        Code
	Message     string
	Remedy      string
	Recoverable bool
	Status      int
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return string(e.Code) + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so callers can write errors.Is(err, failure.New(CodeTimeout, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func New(code Code, msg string) *Error {
	p, ok := profiles[code]
	if !ok {
		p = profiles[CodeUnknown]
	}
	return &Error{Kind: p.kind, Code: code, Message: msg, Remedy: p.remedy, Recoverable: p.recoverable}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, msg string) *Error {
	e := New(code, msg)
	e.Err = err
	return e
}

// WithStatus attaches the HTTP status that produced the failure.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// As returns the classified error in err's chain, or nil.
func As(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

func CodeOf(err error) Code {
	if fe := As(err); fe != nil {
		return fe.Code
	}
	return ""
}

// Classify returns err as a classified failure, inferring the code from
// well-known error types and message fragments when it is not already one.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if fe := As(err); fe != nil {
		return fe
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(CodeStopRequested, err, "operation canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeTimeout, err, "request timed out")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Wrap(CodeTimeout, err, "request timed out")
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return Wrap(CodeConnection, err, "connection failed: "+Truncate(err.Error(), 150))
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return Wrap(CodeTimeout, err, "request timed out")
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"), strings.Contains(msg, "eof"):
		return Wrap(CodeConnection, err, "connection failed: "+Truncate(err.Error(), 150))
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return Wrap(CodeRateLimited, err, "rate limited")
	case strings.Contains(msg, "token"):
		return Wrap(CodeTokenExchange, err, Truncate(err.Error(), 150))
	}
	return Wrap(CodeUnknown, err, Truncate(err.Error(), 150))
}

// FromStatus maps a non-2xx HTTP status to a classified failure. body is
// truncated before it is embedded in the message.
func FromStatus(status int, body string) *Error {
	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = New(CodeAuthInvalid, "authentication failed: the API key is invalid or lacks permission")
	case status == http.StatusBadRequest:
		e = Newf(CodeRequestMalformed, "request rejected (400): %s", Truncate(body, 100))
	case status == http.StatusNotFound:
		e = Newf(CodeNotFound, "endpoint or model not found (404): %s", Truncate(body, 100))
	case status == http.StatusTooManyRequests:
		e = New(CodeRateLimited, "rate limited (429): too many requests")
	case status == http.StatusNotImplemented:
		e = New(CodeNotImplemented, "operation not implemented by provider (501)")
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		e = Newf(CodeServiceUnavailable, "service unavailable (%d): %s", status, Truncate(body, 100))
	case status >= 500:
		e = Newf(CodeServerError, "server error (%d): %s", status, Truncate(body, 100))
	default:
		e = Newf(CodeServiceError, "service error (%d): %s", status, Truncate(body, 100))
	}
	return e.WithStatus(status)
}

// Truncate shortens s to n runes, marking the cut.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
