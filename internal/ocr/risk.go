package ocr

import (
	"fmt"
	"math"
	"strings"

	"github.com/emandor/lemme_grader/internal/question"
)

// Policy sets how many failed checks defer an answer to a human.
type Policy struct {
	// SmallSample is the largest line count treated as thin evidence.
	SmallSample       int `mapstructure:"small_sample" json:"small_sample" validate:"gte=0"`
	SmallSamplePoints int `mapstructure:"small_sample_points" json:"small_sample_points" validate:"gte=0"`
	Points            int `mapstructure:"points" json:"points" validate:"gte=0"`
}

func DefaultPolicy() Policy {
	return Policy{SmallSample: 2, SmallSamplePoints: 1, Points: 2}
}

// WithDefaults fills every unset field from DefaultPolicy, so a partial
// override keeps the remaining defaults.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.SmallSample <= 0 {
		p.SmallSample = d.SmallSample
	}
	if p.SmallSamplePoints <= 0 {
		p.SmallSamplePoints = d.SmallSamplePoints
	}
	if p.Points <= 0 {
		p.Points = d.Points
	}
	return p
}

func (p Policy) needed(lines int) int {
	if lines <= p.SmallSample {
		return p.SmallSamplePoints
	}
	return p.Points
}

type Stats struct {
	Lines    int     `json:"lines"`
	Struck   int     `json:"struck"`
	Mean     float64 `json:"mean"`
	Min      float64 `json:"min"`
	LowRatio float64 `json:"low_ratio"`
}

type Decision struct {
	Proceed bool     `json:"proceed"`
	Reason  string   `json:"reason,omitempty"`
	Risk    int      `json:"risk"`
	Needed  int      `json:"needed"`
	Failed  []string `json:"failed,omitempty"`
	Stats   Stats    `json:"stats"`
	Profile Profile  `json:"profile"`
}

// Engine is safe for concurrent use; it never mutates its table.
type Engine struct {
	table  Table
	policy Policy
}

func NewEngine(t Table, p Policy) *Engine {
	if t == nil {
		t = DefaultTable()
	}
	return &Engine{table: t, policy: p.WithDefaults()}
}

// Assess drops struck-through lines, then scores the remaining lines against
// the profile for typ and q. Missing or out-of-range confidence on any
// surviving line defers the answer outright.
func (e *Engine) Assess(lines []Line, typ question.Type, q question.Quality) (string, Decision) {
	prof := e.table.Profile(q, typ)
	d := Decision{Profile: prof}

	var (
		texts  []string
		sum    float64
		low    int
		lowest = math.Inf(1)
	)
	for i, l := range lines {
		if l.StruckThrough {
			d.Stats.Struck++
			continue
		}
		avg, lmin, ok := l.confidences()
		if !ok {
			d.Reason = fmt.Sprintf("line %d has no usable confidence", i+1)
			d.Stats.Lines = len(lines) - d.Stats.Struck
			return "", d
		}
		texts = append(texts, l.Text)
		sum += avg
		if lmin < lowest {
			lowest = lmin
		}
		if avg < prof.Min {
			low++
		}
	}

	n := len(texts)
	d.Stats.Lines = n
	if n == 0 {
		d.Reason = "no readable lines left after removing struck-through content"
		return "", d
	}
	d.Stats.Mean = sum / float64(n)
	d.Stats.Min = lowest
	d.Stats.LowRatio = float64(low) / float64(n)

	if d.Stats.Mean < prof.Mean {
		d.Risk++
		d.Failed = append(d.Failed, fmt.Sprintf("mean %.2f < %.2f", d.Stats.Mean, prof.Mean))
	}
	if d.Stats.Min < prof.Min {
		d.Risk++
		d.Failed = append(d.Failed, fmt.Sprintf("min %.2f < %.2f", d.Stats.Min, prof.Min))
	}
	if d.Stats.LowRatio > prof.LowRatio {
		d.Risk++
		d.Failed = append(d.Failed, fmt.Sprintf("low-confidence ratio %.2f > %.2f", d.Stats.LowRatio, prof.LowRatio))
	}

	d.Needed = e.policy.needed(n)
	clean := strings.Join(texts, "\n")
	if d.Risk >= d.Needed {
		d.Reason = "OCR confidence too low: " + strings.Join(d.Failed, ", ")
		return clean, d
	}
	d.Proceed = true
	return clean, d
}
