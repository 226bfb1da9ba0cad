package providers

import (
	"encoding/json"

	"github.com/emandor/lemme_grader/internal/failure"
)

type gmBody struct {
	SystemInstruction *gmContent  `json:"systemInstruction,omitempty"`
	Contents          []gmContent `json:"contents"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmPart struct {
	Text       string  `json:"text,omitempty"`
	InlineData *gmBlob `json:"inline_data,omitempty"`
}

type gmBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func buildGemini(_ Config, r Request) ([]byte, error) {
	var body gmBody
	if r.Prompt.System != "" {
		body.SystemInstruction = &gmContent{Parts: []gmPart{{Text: r.Prompt.System}}}
	}
	parts := []gmPart{{Text: r.userText()}}
	if r.Image != "" {
		mime, data := r.imageBase64()
		parts = append(parts, gmPart{InlineData: &gmBlob{MimeType: mime, Data: data}})
	}
	body.Contents = []gmContent{{Role: "user", Parts: parts}}
	return marshal(body)
}

func extractGemini(raw []byte) (string, error) {
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback *struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", failure.Wrap(failure.CodeExtraction, err, "reply is not valid JSON: "+failure.Truncate(string(raw), 100))
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", failure.Newf(failure.CodeExtraction, "gemini blocked the prompt: %s", out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", failure.New(failure.CodeExtraction, "reply has no candidates")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}
