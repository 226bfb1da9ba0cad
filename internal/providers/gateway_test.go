package providers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/failure"
)

func newTestGateway(reg *Registry, opts ...Option) *Gateway {
	opts = append([]Option{WithLogger(zerolog.Nop()), WithRateLimit(1000, 100)}, opts...)
	return NewGateway(reg, opts...)
}

func chatReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"`+text+`"}}]}`)
}

func TestCallBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test-123", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		chatReply(w, "graded")
	}))
	defer srv.Close()

	g := newTestGateway(DefaultRegistry().WithEndpoint(OpenAI, srv.URL, ""))
	resp, err := g.Call(context.Background(), Request{
		Provider: OpenAI, Credential: "Bearer sk-test-123", Model: "gpt-4o", Prompt: Prompt{User: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "graded", resp.Text)
	require.Equal(t, OpenAI, resp.Provider)
}

func TestCallRejectsBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		chatReply(w, "x")
	}))
	defer srv.Close()
	g := newTestGateway(DefaultRegistry().WithEndpoint(OpenAI, srv.URL, ""))

	_, err := g.Call(context.Background(), Request{
		Provider: OpenAI, Credential: "sk-test", Model: "m", Image: tinyJPEG, OCRText: "text", Prompt: Prompt{User: "hi"},
	})
	require.Equal(t, failure.CodeInvalidInput, failure.CodeOf(err))

	_, err = g.Call(context.Background(), Request{Provider: OpenAI, Credential: "sk te st", Model: "m", Prompt: Prompt{User: "hi"}})
	require.Equal(t, failure.CodeCredentialFormat, failure.CodeOf(err))

	_, err = g.Call(context.Background(), Request{Provider: Kind(99), Credential: "k", Model: "m", Prompt: Prompt{User: "hi"}})
	require.Equal(t, failure.CodeUnknownProvider, failure.CodeOf(err))
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = g.Call(context.Background(), Request{Provider: BaiduOCR, Credential: "k", Model: "m", Prompt: Prompt{User: "hi"}})
	require.Equal(t, failure.CodeUnsupported, failure.CodeOf(err))

	require.Zero(t, hits.Load())
}

func TestCallStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   Kind
		code   failure.Code
		hint   string
	}{
		{401, `{"error":"bad key"}`, OpenAI, failure.CodeAuthInvalid, "authentication"},
		{403, ``, Moonshot, failure.CodeAuthInvalid, "authentication"},
		{429, ``, Aliyun, failure.CodeRateLimited, "429"},
		{400, `{"error":{"code":"1210","message":"bad model"}}`, Zhipu, failure.CodeRequestMalformed, "1210"},
		{500, strings.Repeat("e", 400), Baidu, failure.CodeServerError, "500"},
		{503, ``, OpenRouter, failure.CodeServiceUnavailable, "503"},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
			_, _ = io.WriteString(w, c.body)
		}))
		g := newTestGateway(DefaultRegistry().WithEndpoint(c.kind, srv.URL, ""))
		_, err := g.Call(context.Background(), Request{Provider: c.kind, Credential: "sk-test", Model: "m", Prompt: Prompt{User: "hi"}})
		srv.Close()

		fe := failure.As(err)
		require.NotNil(t, fe, c.kind.String())
		require.Equal(t, c.code, fe.Code, c.kind.String())
		require.Equal(t, c.status, fe.Status)
		require.Contains(t, fe.Message, c.hint)
		require.Less(t, len(fe.Message), 250)
	}
}

func TestCallTencentSigned(t *testing.T) {
	var got http.Header
	var host string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		host = r.Host
		_, _ = io.WriteString(w, `{"Response":{"Choices":[{"Message":{"Content":"signed ok"}}]}}`)
	}))
	defer srv.Close()

	now := time.Unix(1700000000, 0)
	g := newTestGateway(DefaultRegistry().WithEndpoint(Tencent, srv.URL, ""), WithClock(func() time.Time { return now }))
	resp, err := g.Call(context.Background(), Request{
		Provider: Tencent, Credential: "AKIDabcdefghij：secretkey12345", Model: "hunyuan-lite", Prompt: Prompt{User: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "signed ok", resp.Text)
	require.Equal(t, "hunyuan.tencentcloudapi.com", host)
	require.True(t, strings.HasPrefix(got.Get("Authorization"), "TC3-HMAC-SHA256 Credential=AKIDabcdefghij/2023-11-14/hunyuan/tc3_request, SignedHeaders=content-type;host, Signature="))
	require.Equal(t, "1700000000", got.Get("X-TC-Timestamp"))
	require.Equal(t, "ChatCompletions", got.Get("X-TC-Action"))
}

func TestCallTencentErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Response":{"Error":{"Code":"RequestLimitExceeded","Message":"slow down"}}}`)
	}))
	defer srv.Close()
	g := newTestGateway(DefaultRegistry().WithEndpoint(Tencent, srv.URL, ""))
	_, err := g.Call(context.Background(), Request{
		Provider: Tencent, Credential: "AKIDabcdefghij:secretkey12345", Model: "hunyuan-lite", Prompt: Prompt{User: "hi"},
	})
	require.Equal(t, failure.CodeRateLimited, failure.CodeOf(err))
}

func TestCallGeminiKeyInURL(t *testing.T) {
	key := "AIza" + strings.Repeat("k", 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/gemini-2.5-pro:generateContent", r.URL.Path)
		require.Equal(t, key, r.URL.Query().Get("key"))
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"gm ok"}]}}]}`)
	}))
	defer srv.Close()

	g := newTestGateway(DefaultRegistry().WithEndpoint(Gemini, srv.URL+"/models/{model}:generateContent", ""))
	resp, err := g.Call(context.Background(), Request{Provider: Gemini, Credential: key, Model: "gemini-2.5-pro", Prompt: Prompt{User: "hi"}})
	require.NoError(t, err)
	require.Equal(t, "gm ok", resp.Text)
}

func TestCallEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { chatReply(w, "  ") }))
	defer srv.Close()
	g := newTestGateway(DefaultRegistry().WithEndpoint(OpenAI, srv.URL, ""))
	_, err := g.Call(context.Background(), Request{Provider: OpenAI, Credential: "sk-test", Model: "m", Prompt: Prompt{User: "hi"}})
	require.Equal(t, failure.CodeExtraction, failure.CodeOf(err))
}

func TestCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g := newTestGateway(DefaultRegistry().WithEndpoint(OpenAI, srv.URL, ""), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := g.Call(context.Background(), Request{Provider: OpenAI, Credential: "sk-test", Model: "m", Prompt: Prompt{User: "hi"}})
	require.Equal(t, failure.CodeTimeout, failure.CodeOf(err))
}

func TestCallConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := newTestGateway(DefaultRegistry().WithEndpoint(OpenAI, url, ""))
	_, err := g.Call(context.Background(), Request{Provider: OpenAI, Credential: "sk-test", Model: "m", Prompt: Prompt{User: "hi"}})
	require.Equal(t, failure.CodeConnection, failure.CodeOf(err))
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { chatReply(w, "ok") }))
	defer srv.Close()
	g := newTestGateway(DefaultRegistry().WithEndpoint(Baidu, srv.URL, ""))
	resp, err := g.Ping(context.Background(), Baidu, "bce-v3/ALTAK-key", "ernie-4.5")
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Tencent ")
	require.NoError(t, err)
	require.Equal(t, Tencent, k)

	_, err = ParseKind("anthropic")
	require.ErrorIs(t, err, ErrUnknownProvider)

	require.Len(t, DefaultRegistry().Kinds(), 10)
}
