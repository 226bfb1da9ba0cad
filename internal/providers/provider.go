// Package providers is the gateway to the chat/vision vendors and the OCR
// vendor. Each vendor is a Kind with a static Config; payload building and
// reply extraction are chosen by the Config's Family.
package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emandor/lemme_grader/internal/failure"
)

var ErrUnknownProvider = errors.New("unknown provider")

type Kind int

const (
	Volcengine Kind = iota + 1
	Moonshot
	Zhipu
	Aliyun
	Baidu
	Tencent
	OpenRouter
	OpenAI
	Gemini
	BaiduOCR
)

var kindNames = map[Kind]string{
	Volcengine: "volcengine",
	Moonshot:   "moonshot",
	Zhipu:      "zhipu",
	Aliyun:     "aliyun",
	Baidu:      "baidu",
	Tencent:    "tencent",
	OpenRouter: "openrouter",
	OpenAI:     "openai",
	Gemini:     "gemini",
	BaiduOCR:   "baidu_ocr",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("provider(%d)", int(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func ParseKind(id string) (Kind, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for k, s := range kindNames {
		if s == id {
			return k, nil
		}
	}
	return 0, failure.Wrap(failure.CodeUnknownProvider, ErrUnknownProvider, fmt.Sprintf("unknown provider %q", id))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

type Auth int

const (
	AuthBearer Auth = iota + 1
	AuthKeyInURL
	AuthSignatureV3
	// AuthTokenExchange trades an id/secret pair for a short-lived token
	// that is then sent in the URL.
	AuthTokenExchange
)

type Family int

const (
	FamilyOpenAI Family = iota + 1
	FamilyTencent
	FamilyGemini
	FamilyBaiduOCR
)

// Signing is the metadata for cloud signature v3.
type Signing struct {
	Service string
	Region  string
	Version string
	Host    string
	Action  string
}

// Config is the static description of one vendor.
type Config struct {
	Kind     Kind
	Endpoint string // may contain {model}
	TokenURL string
	Auth     Auth
	Family   Family
	// ImageDetail is sent on OpenAI-style image parts when set.
	ImageDetail string
	Signing     *Signing
	MinKeyLen   int
}

type Registry struct {
	m map[Kind]Config
}

func DefaultRegistry() *Registry {
	bearer := func(k Kind, endpoint string) Config {
		return Config{Kind: k, Endpoint: endpoint, Auth: AuthBearer, Family: FamilyOpenAI}
	}
	vol := bearer(Volcengine, "https://ark.cn-beijing.volces.com/api/v3/chat/completions")
	vol.ImageDetail = "high"

	r := &Registry{m: map[Kind]Config{}}
	for _, c := range []Config{
		vol,
		bearer(Moonshot, "https://api.moonshot.cn/v1/chat/completions"),
		bearer(Zhipu, "https://open.bigmodel.cn/api/paas/v4/chat/completions"),
		bearer(Aliyun, "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"),
		bearer(Baidu, "https://qianfan.baidubce.com/v2/chat/completions"),
		bearer(OpenRouter, "https://openrouter.ai/api/v1/chat/completions"),
		bearer(OpenAI, "https://api.openai.com/v1/chat/completions"),
		{
			Kind:     Tencent,
			Endpoint: "https://hunyuan.tencentcloudapi.com/",
			Auth:     AuthSignatureV3,
			Family:   FamilyTencent,
			Signing: &Signing{
				Service: "hunyuan",
				Region:  "ap-guangzhou",
				Version: "2023-09-01",
				Host:    "hunyuan.tencentcloudapi.com",
				Action:  "ChatCompletions",
			},
			MinKeyLen: 10,
		},
		{
			Kind:      Gemini,
			Endpoint:  "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent",
			Auth:      AuthKeyInURL,
			Family:    FamilyGemini,
			MinKeyLen: 20,
		},
		{
			Kind:      BaiduOCR,
			Endpoint:  "https://aip.baidubce.com/rest/2.0/ocr/v1/doc_analysis",
			TokenURL:  "https://aip.baidubce.com/oauth/2.0/token",
			Auth:      AuthTokenExchange,
			Family:    FamilyBaiduOCR,
			MinKeyLen: 10,
		},
	} {
		r.m[c.Kind] = c
	}
	return r
}

func (r *Registry) Lookup(k Kind) (Config, error) {
	c, ok := r.m[k]
	if !ok {
		return Config{}, failure.Wrap(failure.CodeUnknownProvider, ErrUnknownProvider, fmt.Sprintf("unknown provider %q", k.String()))
	}
	return c, nil
}

// Kinds lists the registered providers.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.m))
	for k := Volcengine; k <= BaiduOCR; k++ {
		if _, ok := r.m[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// WithEndpoint returns a copy of r pointing k at another endpoint (and token
// URL for token-exchange vendors). Used for proxies and tests.
func (r *Registry) WithEndpoint(k Kind, endpoint, tokenURL string) *Registry {
	out := &Registry{m: make(map[Kind]Config, len(r.m))}
	for kk, c := range r.m {
		out.m[kk] = c
	}
	if c, ok := out.m[k]; ok {
		c.Endpoint = endpoint
		if tokenURL != "" {
			c.TokenURL = tokenURL
		}
		out.m[k] = c
	}
	return out
}
