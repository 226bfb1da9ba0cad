package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/failure"
)

const ocrCred = "apikey12345:secretkey12345"

type ocrFixture struct {
	tokenHits atomic.Int32
	ocrHits   atomic.Int32
	reply     atomic.Value
	srv       *httptest.Server
}

func newOCRFixture(t *testing.T) *ocrFixture {
	f := &ocrFixture{}
	f.reply.Store(`{"results_num":3,"results":[
		{"words_type":"handwriting","words":{"word":"x = 2","line_probability":{"average":0.93,"min":0.81}}},
		{"words_type":"alter","words":{"word":"x = 3","line_probability":{"average":0.55,"min":0.2}}},
		{"words_type":"handwriting","words":{"word":"so y = 4"},"line_probability":{"average":0.88,"min":0.7}}
	]}`)
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/2.0/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenHits.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		require.Equal(t, "apikey12345", r.Form.Get("client_id"))
		require.Equal(t, "secretkey12345", r.Form.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"tok-1","expires_in":2592000,"scope":"public"}`)
	})
	mux.HandleFunc("/rest/2.0/ocr/v1/doc_analysis", func(w http.ResponseWriter, r *http.Request) {
		f.ocrHits.Add(1)
		require.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "/9j/4AAQSkZJRg==", r.PostForm.Get("image"))
		require.Equal(t, "handprint_mix", r.PostForm.Get("words_type"))
		require.Equal(t, "true", r.PostForm.Get("line_probability"))
		require.Equal(t, "true", r.PostForm.Get("recg_alter"))
		_, _ = io.WriteString(w, f.reply.Load().(string))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *ocrFixture) gateway() *Gateway {
	reg := DefaultRegistry().WithEndpoint(BaiduOCR, f.srv.URL+"/rest/2.0/ocr/v1/doc_analysis", f.srv.URL+"/oauth/2.0/token")
	return newTestGateway(reg)
}

func TestRecognizeLines(t *testing.T) {
	f := newOCRFixture(t)
	rec := OCRRecognizer{Gateway: f.gateway(), Credential: ocrCred}

	lines, err := rec.Recognize(context.Background(), tinyJPEG)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	require.Equal(t, "x = 2", lines[0].Text)
	require.InDelta(t, 0.93, *lines[0].AvgConfidence, 1e-9)
	require.InDelta(t, 0.81, *lines[0].MinConfidence, 1e-9)
	require.False(t, lines[0].StruckThrough)

	require.True(t, lines[1].StruckThrough)

	// line_probability next to words instead of inside it
	require.InDelta(t, 0.88, *lines[2].AvgConfidence, 1e-9)
}

func TestRecognizeCachesToken(t *testing.T) {
	f := newOCRFixture(t)
	g := f.gateway()
	for i := 0; i < 3; i++ {
		_, err := g.Recognize(context.Background(), ocrCred, tinyJPEG)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.tokenHits.Load())
	require.EqualValues(t, 3, f.ocrHits.Load())
}

func TestRecognizeInvalidTokenIsDropped(t *testing.T) {
	f := newOCRFixture(t)
	g := f.gateway()
	_, err := g.Recognize(context.Background(), ocrCred, tinyJPEG)
	require.NoError(t, err)

	f.reply.Store(`{"error_code":110,"error_msg":"Access token invalid or no longer valid"}`)
	_, err = g.Recognize(context.Background(), ocrCred, tinyJPEG)
	require.Equal(t, failure.CodeTokenExchange, failure.CodeOf(err))

	_, ok, _ := g.tokens.Get(context.Background(), tokenKey(credential{id: "apikey12345"}))
	require.False(t, ok)
}

func TestRecognizeErrorCodes(t *testing.T) {
	f := newOCRFixture(t)
	g := f.gateway()
	f.reply.Store(`{"error_code":18,"error_msg":"Open api qps request limit reached"}`)
	_, err := g.Recognize(context.Background(), ocrCred, tinyJPEG)
	require.Equal(t, failure.CodeRateLimited, failure.CodeOf(err))

	_, err = g.Recognize(context.Background(), "nocolon", tinyJPEG)
	require.Equal(t, failure.CodeCredentialFormat, failure.CodeOf(err))

	_, err = g.Recognize(context.Background(), ocrCred, "")
	require.Equal(t, failure.CodeInvalidInput, failure.CodeOf(err))
}

func TestRecognizeRejectedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_client","error_description":"unknown client id"}`)
	}))
	defer srv.Close()
	g := newTestGateway(DefaultRegistry().WithEndpoint(BaiduOCR, srv.URL+"/ocr", srv.URL+"/token"))
	_, err := g.Recognize(context.Background(), ocrCred, tinyJPEG)
	require.Equal(t, failure.CodeAuthInvalid, failure.CodeOf(err))
}

func TestMemoryTokensExpire(t *testing.T) {
	s := NewMemoryTokens()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", "v", 0))
	_, ok, _ := s.Get(ctx, "k")
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", 1<<40))
	v, ok, _ := s.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}
