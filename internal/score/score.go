// Package score holds the pure arithmetic applied to model scores:
// sanitizing raw values, clamping to the question bounds and rounding to the
// configured step.
package score

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultStep is used when a question does not configure a rounding step.
const DefaultStep = 0.5

type Bounds struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

func (b Bounds) Validate() error {
	switch {
	case !finite(b.Min) || !finite(b.Max):
		return fmt.Errorf("score bounds must be finite")
	case b.Min > b.Max:
		return fmt.Errorf("min score %.2f is greater than max score %.2f", b.Min, b.Max)
	case b.Step < 0 || !finite(b.Step):
		return fmt.Errorf("rounding step %.2f is invalid", b.Step)
	}
	return nil
}

// Sanitize converts a decoded JSON value (number, numeric string, json.Number)
// into a finite float. ok is false when the value cannot be used as a score.
func Sanitize(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimSuffix(s, "分")
		s = strings.TrimSuffix(strings.ToLower(s), "pts")
		x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if !finite(f) {
		return 0, false
	}
	return f, true
}

func Clamp(v, lo, hi float64) float64 {
	if !finite(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round rounds half up to the nearest multiple of step. A non-positive step
// leaves the value untouched.
func Round(v, step float64) float64 {
	if step <= 0 || !finite(v) {
		return v
	}
	r := math.Floor(v/step+0.5) * step
	// trim binary noise such as 2.9999999999999996
	return math.Round(r*1e6) / 1e6
}

// Clamped reports whether v lies outside the bounds.
func (b Bounds) Clamped(v float64) bool {
	return v < b.Min || v > b.Max
}

// Finalize applies clamp, round, clamp. Rounding may push a value past a
// bound that is not a multiple of the step, hence the second clamp.
func Finalize(v float64, b Bounds) float64 {
	step := b.Step
	if step == 0 {
		step = DefaultStep
	}
	return Clamp(Round(Clamp(v, b.Min, b.Max), step), b.Min, b.Max)
}

// Sum adds itemized scores. An empty list sums to zero.
func Sum(items []float64) float64 {
	var total float64
	for _, v := range items {
		total += v
	}
	return total
}

// SplitSteps spreads total across n inputs, each holding at most limit,
// filled in order. The classic layout uses three inputs of 20 points.
func SplitSteps(total float64, n int, limit float64) ([]float64, error) {
	if n <= 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid step layout: %d inputs of %.1f", n, limit)
	}
	if total < 0 {
		return nil, fmt.Errorf("cannot split negative score %.2f", total)
	}
	if total > float64(n)*limit {
		return nil, fmt.Errorf("score %.2f exceeds %d steps of %.1f", total, n, limit)
	}
	out := make([]float64, n)
	rest := total
	for i := range out {
		v := math.Min(rest, limit)
		out[i] = v
		rest -= v
	}
	return out, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
