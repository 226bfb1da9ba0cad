package ocr

import "github.com/emandor/lemme_grader/internal/question"

// Profile holds the three gate thresholds for one quality level and
// question type.
type Profile struct {
	Mean     float64 `mapstructure:"mean" json:"mean" validate:"gte=0,lte=1"`
	Min      float64 `mapstructure:"min" json:"min" validate:"gte=0,lte=1"`
	LowRatio float64 `mapstructure:"low_ratio" json:"low_ratio" validate:"gte=0,lte=1"`
}

// Table is indexed by quality level then question type.
type Table map[question.Quality]map[question.Type]Profile

// DefaultTable is tuned so objective answers, where one misread token flips
// the grade, are gated hardest and essays are gated loosest.
func DefaultTable() Table {
	return Table{
		question.QualityStrict: {
			question.TypeObjective:  {Mean: 0.90, Min: 0.80, LowRatio: 0.10},
			question.TypePointBased: {Mean: 0.85, Min: 0.70, LowRatio: 0.20},
			question.TypeFormula:    {Mean: 0.88, Min: 0.75, LowRatio: 0.15},
			question.TypeHolistic:   {Mean: 0.80, Min: 0.60, LowRatio: 0.25},
		},
		question.QualityModerate: {
			question.TypeObjective:  {Mean: 0.85, Min: 0.70, LowRatio: 0.20},
			question.TypePointBased: {Mean: 0.75, Min: 0.60, LowRatio: 0.30},
			question.TypeFormula:    {Mean: 0.80, Min: 0.65, LowRatio: 0.25},
			question.TypeHolistic:   {Mean: 0.70, Min: 0.50, LowRatio: 0.35},
		},
		question.QualityRelaxed: {
			question.TypeObjective:  {Mean: 0.80, Min: 0.60, LowRatio: 0.30},
			question.TypePointBased: {Mean: 0.70, Min: 0.50, LowRatio: 0.40},
			question.TypeFormula:    {Mean: 0.75, Min: 0.55, LowRatio: 0.35},
			question.TypeHolistic:   {Mean: 0.65, Min: 0.40, LowRatio: 0.45},
		},
	}
}

// Merge overlays configured entries on top of t and returns the result.
func (t Table) Merge(over Table) Table {
	out := Table{}
	for q, row := range t {
		out[q] = map[question.Type]Profile{}
		for typ, p := range row {
			out[q][typ] = p
		}
	}
	for q, row := range over {
		if out[q] == nil {
			out[q] = map[question.Type]Profile{}
		}
		for typ, p := range row {
			out[q][typ] = p
		}
	}
	return out
}

// Profile picks the thresholds for a question. Unknown levels use moderate,
// unknown types use point-based.
func (t Table) Profile(q question.Quality, typ question.Type) Profile {
	row, ok := t[q.Normalize()]
	if !ok {
		row = DefaultTable()[question.QualityModerate]
	}
	if p, ok := row[typ]; ok {
		return p
	}
	if p, ok := row[question.TypePointBased]; ok {
		return p
	}
	return DefaultTable()[question.QualityModerate][question.TypePointBased]
}
