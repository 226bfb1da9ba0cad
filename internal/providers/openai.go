package providers

import (
	"encoding/json"
	"strings"

	"github.com/emandor/lemme_grader/internal/failure"
)

// OpenAI-compatible chat completions, shared by most vendors.

const maxTokens = 4096

type oaBody struct {
	Model     string      `json:"model"`
	Messages  []oaMessage `json:"messages"`
	MaxTokens int         `json:"max_tokens"`
}

type oaMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaPart struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL *oaImage `json:"image_url,omitempty"`
}

type oaImage struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// buildOpenAI places the image part before the text part; several
// compatible vendors only read the image reliably in that order.
func buildOpenAI(c Config, r Request) ([]byte, error) {
	body := oaBody{Model: r.Model, MaxTokens: maxTokens}
	if r.Prompt.System != "" {
		body.Messages = append(body.Messages, oaMessage{Role: "system", Content: r.Prompt.System})
	}
	if r.Image != "" {
		body.Messages = append(body.Messages, oaMessage{Role: "user", Content: []oaPart{
			{Type: "image_url", ImageURL: &oaImage{URL: r.imageURL(), Detail: c.ImageDetail}},
			{Type: "text", Text: r.userText()},
		}})
	} else {
		body.Messages = append(body.Messages, oaMessage{Role: "user", Content: r.userText()})
	}
	return marshal(body)
}

func extractOpenAI(raw []byte) (string, error) {
	var out struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", failure.Wrap(failure.CodeExtraction, err, "reply is not valid JSON: "+failure.Truncate(string(raw), 100))
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", failure.Newf(failure.CodeServiceError, "provider error: %s", failure.Truncate(out.Error.Message, 150))
	}
	if len(out.Choices) == 0 {
		return "", failure.New(failure.CodeExtraction, "reply has no choices")
	}
	return contentText(out.Choices[0].Message.Content)
}

// contentText accepts a plain string or a list of typed parts.
func contentText(raw json.RawMessage) (string, error) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", failure.Wrap(failure.CodeExtraction, err, "reply content has an unexpected shape")
	}
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}
