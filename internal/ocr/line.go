// Package ocr gates OCR-assisted grading on recognition confidence.
package ocr

import "math"

// Line is one recognized line of handwriting. Confidences are in [0,1];
// nil means the engine did not report one.
type Line struct {
	Text          string   `json:"text"`
	AvgConfidence *float64 `json:"avg_confidence,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	StruckThrough bool     `json:"struck_through,omitempty"`
}

// Conf returns a pointer for Line confidence fields.
func Conf(v float64) *float64 { return &v }

// confidences returns the line's average and minimum. The minimum falls back
// to the average when the engine only reports one figure.
func (l Line) confidences() (avg, low float64, ok bool) {
	if l.AvgConfidence == nil || !usable(*l.AvgConfidence) {
		return 0, 0, false
	}
	avg = *l.AvgConfidence
	low = avg
	if l.MinConfidence != nil {
		if !usable(*l.MinConfidence) {
			return 0, 0, false
		}
		low = *l.MinConfidence
	}
	return avg, low, true
}

func usable(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
