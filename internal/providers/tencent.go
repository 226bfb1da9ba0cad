package providers

import (
	"encoding/json"
	"strings"

	"github.com/emandor/lemme_grader/internal/failure"
)

type tcBody struct {
	Model    string      `json:"Model"`
	Messages []tcMessage `json:"Messages"`
	Stream   bool        `json:"Stream"`
}

type tcMessage struct {
	Role     string      `json:"Role"`
	Content  string      `json:"Content,omitempty"`
	Contents []tcContent `json:"Contents,omitempty"`
}

type tcContent struct {
	Type     string   `json:"Type"`
	Text     string   `json:"Text,omitempty"`
	ImageURL *tcImage `json:"ImageUrl,omitempty"`
}

type tcImage struct {
	URL string `json:"Url"`
}

func tencentVision(model string) bool {
	return strings.Contains(strings.ToLower(model), "vision")
}

func buildTencent(_ Config, r Request) ([]byte, error) {
	body := tcBody{Model: r.Model}
	if r.Prompt.System != "" {
		body.Messages = append(body.Messages, tcMessage{Role: "system", Content: r.Prompt.System})
	}
	switch {
	case r.Image != "" && !tencentVision(r.Model):
		return nil, failure.Newf(failure.CodeUnsupported, "tencent model %q cannot read images; pick a vision model", r.Model)
	case r.Image != "":
		body.Messages = append(body.Messages, tcMessage{Role: "user", Contents: []tcContent{
			{Type: "text", Text: r.userText()},
			{Type: "image_url", ImageURL: &tcImage{URL: r.imageURL()}},
		}})
	default:
		body.Messages = append(body.Messages, tcMessage{Role: "user", Content: r.userText()})
	}
	return marshal(body)
}

type tcChoices []struct {
	Message struct {
		Content string `json:"Content"`
	} `json:"Message"`
}

// extractTencent reads Response.Choices, tolerating replies without the
// Response envelope. Response.Error is a failed call reported with HTTP 200.
func extractTencent(raw []byte) (string, error) {
	var out struct {
		Response *struct {
			Choices tcChoices `json:"Choices"`
			Error   *struct {
				Code    string `json:"Code"`
				Message string `json:"Message"`
			} `json:"Error"`
		} `json:"Response"`
		Choices tcChoices `json:"Choices"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", failure.Wrap(failure.CodeExtraction, err, "reply is not valid JSON: "+failure.Truncate(string(raw), 100))
	}
	choices := out.Choices
	if out.Response != nil {
		if e := out.Response.Error; e != nil && e.Code != "" {
			return "", tencentError(e.Code, e.Message)
		}
		choices = out.Response.Choices
	}
	if len(choices) == 0 {
		return "", failure.New(failure.CodeExtraction, "reply has no choices")
	}
	return choices[0].Message.Content, nil
}

func tencentError(code, msg string) error {
	text := "tencent " + code + ": " + failure.Truncate(msg, 150)
	switch {
	case strings.HasPrefix(code, "AuthFailure"):
		return failure.New(failure.CodeAuthInvalid, text)
	case strings.HasPrefix(code, "RequestLimitExceeded"), strings.HasPrefix(code, "LimitExceeded"):
		return failure.New(failure.CodeRateLimited, text)
	case strings.HasPrefix(code, "InternalError"):
		return failure.New(failure.CodeServerError, text)
	case strings.HasPrefix(code, "InvalidParameter"), strings.HasPrefix(code, "MissingParameter"):
		return failure.New(failure.CodeRequestMalformed, text)
	}
	return failure.New(failure.CodeServiceError, text)
}
