package grading

import (
	"fmt"
	"slices"
	"strings"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/score"
)

// Verdict is one model's parsed grading reply. Total is always the sum of
// Itemized; any total the model reports is ignored.
type Verdict struct {
	Summary  string    `json:"summary"`
	Basis    string    `json:"basis"`
	Itemized []float64 `json:"itemized_scores"`
	Total    float64   `json:"total"`
	Blank    bool      `json:"blank,omitempty"`
}

// blankPhrases label a zero-score reply as a blank answer.
var blankPhrases = []string{
	"did not answer", "didn't answer", "answer area is blank", "answer is blank", "completely blank",
	"answer is unreadable", "completely unreadable",
	"未作答", "没有作答", "答题区空白", "无法辨认",
}

// blankSentences are the whole statements accepted as a blank answer
// when the reply carries no score list at all.
var blankSentences = []string{
	"the student did not answer", "the student didn't answer", "the answer is blank",
	"the answer area is blank", "the answer is unreadable", "the answer is completely blank",
	"学生未作答", "未作答", "学生没有作答", "答题区空白",
}

// manualSentinels must open student_answer_summary to request human review.
var manualSentinels = []string{"manual review required", "需要人工复核"}

// ParseVerdict decodes a model reply. A reply that asks for human review
// returns the parsed verdict together with a manual_review failure.
func ParseVerdict(reply string) (Verdict, error) {
	m, err := Decode(reply)
	if err != nil {
		return Verdict{}, err
	}
	v := Verdict{
		Summary: text(m[keySummary]),
		Basis:   text(m[keyBasis]),
	}

	if flag, _ := m["manual_review"].(bool); flag || wantsReview(v.Summary) {
		reason := v.Basis
		if reason == "" {
			reason = v.Summary
		}
		return v, failure.Newf(failure.CodeManualReview, "model requested manual review: %s", failure.Truncate(reason, 200))
	}

	raw, present := m[keyItemized]
	items, isList := raw.([]any)
	switch {
	case present && isList:
	case slices.Contains(blankSentences, sentence(v.Summary)) || slices.Contains(blankSentences, sentence(v.Basis)):
		// blank answers sometimes come back without a score list
		v.Blank = true
		return v, nil
	default:
		return v, failure.New(failure.CodeParse, "model reply has no itemized_scores list")
	}

	v.Itemized = make([]float64, 0, len(items))
	for i, it := range items {
		f, ok := score.Sanitize(it)
		if !ok {
			return v, failure.Newf(failure.CodeParse, "itemized_scores[%d] is not a number: %v", i, it)
		}
		v.Itemized = append(v.Itemized, f)
	}
	v.Total = score.Sum(v.Itemized)
	v.Blank = v.Total == 0 && (hasPhrase(v.Summary, blankPhrases) || hasPhrase(v.Basis, blankPhrases))
	return v, nil
}

// Rationale joins summary and basis for result records.
func (v Verdict) Rationale() string {
	switch {
	case v.Basis == "":
		return v.Summary
	case v.Summary == "":
		return v.Basis
	}
	return v.Summary + "\n" + v.Basis
}

func hasPhrase(s string, phrases []string) bool {
	if s == "" {
		return false
	}
	s = strings.ToLower(s)
	for _, ph := range phrases {
		if strings.Contains(s, ph) {
			return true
		}
	}
	return false
}

func wantsReview(summary string) bool {
	s := strings.ToLower(strings.TrimSpace(summary))
	for _, mk := range manualSentinels {
		if strings.HasPrefix(s, mk) {
			return true
		}
	}
	return false
}

// sentence lowercases s and drops surrounding space and end punctuation.
func sentence(s string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), ".。!！ ")
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		// some models answer scoring_basis as a list or object
		if s := compactJSON(t); s != "" {
			return s
		}
		return fmt.Sprint(t)
	}
}
