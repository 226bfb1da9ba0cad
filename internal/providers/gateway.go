package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/telemetry"
)

// CallTimeout is the transport ceiling for one vendor call.
const CallTimeout = 60 * time.Second

const maxReplyBytes = 8 << 20

type familyOps struct {
	build   func(Config, Request) ([]byte, error)
	extract func([]byte) (string, error)
}

var families = map[Family]familyOps{
	FamilyOpenAI:  {build: buildOpenAI, extract: extractOpenAI},
	FamilyTencent: {build: buildTencent, extract: extractTencent},
	FamilyGemini:  {build: buildGemini, extract: extractGemini},
}

// Gateway sends grading requests to any registered vendor. It is safe for
// concurrent use; the only shared state is the per-vendor rate limiters and
// the OCR token cache.
type Gateway struct {
	reg    *Registry
	client *http.Client
	now    func() time.Time
	tokens TokenStore
	tracer trace.Tracer
	log    zerolog.Logger

	rps   rate.Limit
	burst int
	mu    sync.Mutex
	lims  map[Kind]*rate.Limiter
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option { return func(g *Gateway) { g.client = c } }

func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

func WithTokenStore(s TokenStore) Option { return func(g *Gateway) { g.tokens = s } }

func WithLogger(l zerolog.Logger) Option { return func(g *Gateway) { g.log = l } }

// WithRateLimit caps requests per second to each vendor.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Gateway) {
		if rps > 0 {
			g.rps = rate.Limit(rps)
		}
		if burst > 0 {
			g.burst = burst
		}
	}
}

func NewGateway(reg *Registry, opts ...Option) *Gateway {
	if reg == nil {
		reg = DefaultRegistry()
	}
	g := &Gateway{
		reg:    reg,
		client: &http.Client{Timeout: CallTimeout},
		now:    time.Now,
		tokens: NewMemoryTokens(),
		tracer: telemetry.Tracer("providers"),
		log:    telemetry.Component("gateway"),
		rps:    2,
		burst:  2,
		lims:   map[Kind]*rate.Limiter{},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) Registry() *Registry { return g.reg }

func (g *Gateway) limiter(k Kind) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.lims[k]
	if !ok {
		l = rate.NewLimiter(g.rps, g.burst)
		g.lims[k] = l
	}
	return l
}

// Call sends one grading request and returns the vendor's reply text.
// Every failure is a *failure.Error.
func (g *Gateway) Call(ctx context.Context, req Request) (Response, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.call", trace.WithAttributes(
		attribute.String("provider", req.Provider.String()),
		attribute.String("model", req.Model),
		attribute.Bool("image", req.Image != ""),
		attribute.Bool("ocr_text", req.OCRText != ""),
	))
	defer span.End()

	start := g.now()
	resp, err := g.call(ctx, req)
	telemetry.ProviderDuration.WithLabelValues(req.Provider.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		fe := failure.Classify(err)
		telemetry.ProviderFailures.WithLabelValues(req.Provider.String(), string(fe.Code)).Inc()
		span.RecordError(fe)
		span.SetStatus(codes.Error, fe.Message)
		g.log.Warn().Str("provider", req.Provider.String()).Str("model", req.Model).
			Str("code", string(fe.Code)).Str("error", fe.Message).Msg("provider_call_failed")
		return Response{}, fe
	}
	resp.Latency = time.Since(start)
	g.log.Debug().Str("provider", req.Provider.String()).Int("len", len(resp.Text)).
		Dur("latency", resp.Latency).Msg("provider_call_done")
	return resp, nil
}

func (g *Gateway) call(ctx context.Context, req Request) (Response, error) {
	cfg, err := g.reg.Lookup(req.Provider)
	if err != nil {
		return Response{}, err
	}
	ops, ok := families[cfg.Family]
	if !ok {
		return Response{}, failure.Newf(failure.CodeUnsupported, "%s does not accept grading requests", cfg.Kind)
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	cred, err := prepareCredential(cfg, req.Credential)
	if err != nil {
		return Response{}, err
	}
	body, err := ops.build(cfg, req)
	if err != nil {
		return Response{}, err
	}

	endpoint := strings.ReplaceAll(cfg.Endpoint, "{model}", url.PathEscape(req.Model))
	if cfg.Auth == AuthKeyInURL {
		endpoint = withQuery(endpoint, "key", cred.token)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, failure.Wrap(failure.CodeInvalidInput, err, "cannot build request: "+failure.Truncate(err.Error(), 100))
	}
	hr.Header.Set("Content-Type", "application/json")
	switch cfg.Auth {
	case AuthBearer:
		hr.Header.Set("Authorization", "Bearer "+cred.token)
	case AuthSignatureV3:
		signer := TC3{SecretID: cred.id, SecretKey: cred.secret, Signing: *cfg.Signing}
		signer.Apply(hr.Header, body, g.now())
		// the signed host must be the Host actually sent
		hr.Host = cfg.Signing.Host
	}

	raw, err := g.do(ctx, cfg, hr)
	if err != nil {
		return Response{}, err
	}
	text, err := ops.extract(raw)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, failure.Newf(failure.CodeExtraction, "%s returned an empty reply", cfg.Kind)
	}
	return Response{Provider: cfg.Kind, Model: req.Model, Text: text}, nil
}

// do waits for the vendor's limiter, sends hr and returns the body of a 2xx
// reply. Transport failures and statuses map to classified errors.
func (g *Gateway) do(ctx context.Context, cfg Config, hr *http.Request) ([]byte, error) {
	if err := g.limiter(cfg.Kind).Wait(ctx); err != nil {
		return nil, failure.Wrap(failure.CodeStopRequested, err, "request canceled while waiting for rate limiter")
	}
	resp, err := g.client.Do(hr)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(cfg.Kind, resp.StatusCode, raw)
	}
	return raw, nil
}

// Ping checks a credential and model with a one-word text prompt.
func (g *Gateway) Ping(ctx context.Context, k Kind, credential, model string) (Response, error) {
	return g.Call(ctx, Request{
		Provider:   k,
		Credential: credential,
		Model:      model,
		Prompt:     Prompt{User: "Reply with the single word: ok"},
	})
}

func statusError(k Kind, status int, raw []byte) error {
	fe := failure.FromStatus(status, string(raw))
	if k == Zhipu && status == http.StatusBadRequest && bytes.Contains(raw, []byte("1210")) {
		fe.Message += " (zhipu error 1210: the model id is wrong or the model does not accept this input)"
	}
	return fe
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return failure.Wrap(failure.CodeStopRequested, err, "request canceled")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid header field value"), strings.Contains(msg, "leading or trailing whitespace"):
		return failure.Wrap(failure.CodeCredentialFormat, err, "API key contains malformed whitespace and cannot be sent in a header")
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return failure.Wrap(failure.CodeTimeout, err, "request timed out after "+CallTimeout.String())
	}
	if fe := failure.Classify(err); fe.Code != failure.CodeUnknown {
		return fe
	}
	return failure.Wrap(failure.CodeConnection, err, "network error: "+failure.Truncate(msg, 150))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func withQuery(endpoint, key, value string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + key + "=" + url.QueryEscape(value)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, failure.Wrap(failure.CodeInvalidInput, err, "cannot encode request body")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
