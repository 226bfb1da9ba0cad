package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/img"
	"github.com/emandor/lemme_grader/internal/ocr"
	"github.com/emandor/lemme_grader/internal/telemetry"
)

// tokenRefreshMargin renews the OCR token this long before it expires.
const tokenRefreshMargin = 60 * time.Second

// Recognize runs handwriting document analysis on image and returns the
// recognized lines with their confidences.
func (g *Gateway) Recognize(ctx context.Context, credential, image string) ([]ocr.Line, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.recognize", trace.WithAttributes(
		attribute.String("provider", BaiduOCR.String()),
	))
	defer span.End()

	start := g.now()
	lines, err := g.recognize(ctx, credential, image)
	telemetry.ProviderDuration.WithLabelValues(BaiduOCR.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		fe := failure.Classify(err)
		telemetry.ProviderFailures.WithLabelValues(BaiduOCR.String(), string(fe.Code)).Inc()
		span.RecordError(fe)
		span.SetStatus(codes.Error, fe.Message)
		g.log.Warn().Str("provider", BaiduOCR.String()).Str("code", string(fe.Code)).Str("error", fe.Message).Msg("ocr_call_failed")
		return nil, fe
	}
	span.SetAttributes(attribute.Int("lines", len(lines)))
	return lines, nil
}

func (g *Gateway) recognize(ctx context.Context, credential, image string) ([]ocr.Line, error) {
	cfg, err := g.reg.Lookup(BaiduOCR)
	if err != nil {
		return nil, err
	}
	cred, err := prepareCredential(cfg, credential)
	if err != nil {
		return nil, err
	}
	_, payload := img.SplitDataURI(image)
	if payload == "" {
		return nil, failure.New(failure.CodeInvalidInput, "OCR image is empty")
	}

	key := tokenKey(cred)
	token, err := g.ocrToken(ctx, cfg, cred, key)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"image":            {payload},
		"language_type":    {"CHN_ENG"},
		"result_type":      {"big"},
		"words_type":       {"handprint_mix"},
		"line_probability": {"true"},
		"recg_alter":       {"true"},
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, withQuery(cfg.Endpoint, "access_token", token), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, failure.Wrap(failure.CodeInvalidInput, err, "cannot build OCR request")
	}
	hr.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, err := g.do(ctx, cfg, hr)
	if err != nil {
		return nil, err
	}
	lines, err := parseDocAnalysis(raw)
	if fe := failure.As(err); fe != nil && fe.Code == failure.CodeTokenExchange {
		// server-side revocation; the next attempt fetches a fresh token
		_ = g.tokens.Delete(ctx, key)
	}
	return lines, err
}

func tokenKey(c credential) string {
	return "ocr_token:" + sha256hex([]byte(c.id))[:16]
}

func (g *Gateway) ocrToken(ctx context.Context, cfg Config, cred credential, key string) (string, error) {
	if tok, ok, err := g.tokens.Get(ctx, key); err != nil {
		g.log.Warn().Err(err).Msg("ocr_token_cache_read_failed")
	} else if ok {
		return tok, nil
	}

	cc := clientcredentials.Config{
		ClientID:     cred.id,
		ClientSecret: cred.secret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, g.client))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.ErrorCode == "invalid_client" || re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
				return "", failure.Wrap(failure.CodeAuthInvalid, err, "OCR API Key or Secret Key was rejected")
			}
			return "", failure.Wrap(failure.CodeTokenExchange, err, "OCR token exchange failed: "+failure.Truncate(string(re.Body), 100))
		}
		if ctx.Err() != nil || isTimeout(err) {
			return "", transportError(ctx, err)
		}
		return "", failure.Wrap(failure.CodeTokenExchange, err, "OCR token exchange failed: "+failure.Truncate(err.Error(), 100))
	}

	ttl := tok.Expiry.Sub(g.now()) - tokenRefreshMargin
	if tok.Expiry.IsZero() {
		ttl = time.Hour
	}
	if ttl > 0 {
		if err := g.tokens.Set(ctx, key, tok.AccessToken, ttl); err != nil {
			g.log.Warn().Err(err).Msg("ocr_token_cache_write_failed")
		}
	}
	g.log.Info().Dur("ttl", ttl).Msg("ocr_token_refreshed")
	return tok.AccessToken, nil
}

type probability struct {
	Average *float64 `json:"average"`
	Min     *float64 `json:"min"`
}

type docAnalysis struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Results   []struct {
		WordsType string `json:"words_type"`
		Words     struct {
			Word            string       `json:"word"`
			LineProbability *probability `json:"line_probability"`
		} `json:"words"`
		LineProbability *probability `json:"line_probability"`
	} `json:"results"`
}

// parseDocAnalysis turns a doc_analysis reply into lines. Content the
// student crossed out comes back with words_type "alter".
func parseDocAnalysis(raw []byte) ([]ocr.Line, error) {
	var out docAnalysis
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, failure.Wrap(failure.CodeExtraction, err, "OCR reply is not valid JSON")
	}
	if out.ErrorCode != 0 {
		return nil, ocrError(out.ErrorCode, out.ErrorMsg)
	}
	lines := make([]ocr.Line, 0, len(out.Results))
	for _, r := range out.Results {
		p := r.Words.LineProbability
		if p == nil {
			p = r.LineProbability
		}
		l := ocr.Line{
			Text:          strings.TrimSpace(r.Words.Word),
			StruckThrough: r.WordsType == "alter",
		}
		if p != nil {
			l.AvgConfidence, l.MinConfidence = p.Average, p.Min
		}
		lines = append(lines, l)
	}
	return lines, nil
}

func ocrError(code int, msg string) error {
	text := "OCR error " + strconv.Itoa(code) + ": " + failure.Truncate(msg, 100)
	switch code {
	case 110, 111:
		return failure.New(failure.CodeTokenExchange, text)
	case 17, 18, 19:
		return failure.New(failure.CodeRateLimited, text)
	case 14, 6:
		return failure.New(failure.CodeAuthInvalid, text)
	case 282000, 2:
		return failure.New(failure.CodeServerError, text)
	}
	return failure.New(failure.CodeRequestMalformed, text)
}

// OCRRecognizer binds a credential to the gateway's OCR path.
type OCRRecognizer struct {
	Gateway    *Gateway
	Credential string
}

func (r OCRRecognizer) Recognize(ctx context.Context, image string) ([]ocr.Line, error) {
	return r.Gateway.Recognize(ctx, r.Credential, image)
}
