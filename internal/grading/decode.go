package grading

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/emandor/lemme_grader/internal/failure"
)

// Decode is the best-effort decode stage for model replies. It tries, in
// order: the whole reply as JSON, the body of a code fence, the outermost
// balanced {...} object, and finally the same candidates after quote and
// trailing-comma repair. Numbers are kept as json.Number.
func Decode(reply string) (map[string]any, error) {
	s := strings.TrimSpace(strings.TrimPrefix(reply, "\ufeff"))
	if s == "" {
		return nil, failure.New(failure.CodeParse, "model reply is empty")
	}

	candidates := []string{s}
	if f := extractFence(s); f != "" {
		candidates = append(candidates, f)
	}
	if o := extractObject(s); o != "" {
		candidates = append(candidates, o)
	}

	for _, c := range candidates {
		if m, ok := tryObject(c); ok {
			return m, nil
		}
	}
	for _, c := range candidates {
		fixed := repairQuotes(c)
		if o := extractObject(fixed); o != "" {
			fixed = o
		}
		if m, ok := tryObject(fixed); ok {
			return m, nil
		}
	}
	return nil, failure.Newf(failure.CodeParse,
		"model reply is not valid JSON (retry the run, or switch model if this repeats): %s", failure.Truncate(s, 200))
}

func tryObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	// trailing garbage after the object means this candidate is not the whole reply
	if dec.More() {
		return nil, false
	}
	return m, true
}

var rxFence = regexp.MustCompile("(?is)```\\s*(?:json)?\\s*(.*?)\\s*```")

func extractFence(s string) string {
	if m := rxFence.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	// opening fence without a closing one
	if i := strings.Index(s, "```"); i >= 0 {
		rest := strings.TrimSpace(s[i+3:])
		if len(rest) >= 4 && strings.EqualFold(rest[:4], "json") {
			rest = rest[4:]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

// extractObject returns the first balanced {...} in s. Braces inside JSON
// strings are ignored.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var (
	quoteFixer    = strings.NewReplacer("“", `"`, "”", `"`, "＂", `"`, "‘", "'", "’", "'")
	rxTrailComma  = regexp.MustCompile(`,\s*([}\]])`)
	rxSingleKey   = regexp.MustCompile(`'([A-Za-z_][A-Za-z0-9_]*)'\s*:`)
	rxSingleValue = regexp.MustCompile(`:\s*'([^'\\]*)'`)
)

// repairQuotes fixes the quoting mistakes models make most often: smart
// double quotes used as JSON quotes, single-quoted keys and values, and
// trailing commas.
func repairQuotes(s string) string {
	s = quoteFixer.Replace(s)
	if !strings.Contains(s, `"`) {
		s = rxSingleKey.ReplaceAllString(s, `"$1":`)
		s = rxSingleValue.ReplaceAllString(s, `: "$1"`)
	}
	return rxTrailComma.ReplaceAllString(s, "$1")
}

// compactJSON is used for logging decoded replies on one line.
func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
