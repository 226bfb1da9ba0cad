// Package question describes how one exam question is graded: bounds,
// rubric, template type, OCR settings and on-screen positions.
package question

import (
	"fmt"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/score"
)

// MaxQuestions is the number of question slots on a marking screen.
const MaxQuestions = 7

type Type string

const (
	TypeObjective  Type = "Objective_FillInTheBlank"
	TypePointBased Type = "Subjective_PointBased_QA"
	TypeFormula    Type = "Formula_Proof_StepBased"
	TypeHolistic   Type = "Holistic_Evaluation_Open"
)

var Types = []Type{TypeObjective, TypePointBased, TypeFormula, TypeHolistic}

func (t Type) Known() bool {
	for _, k := range Types {
		if t == k {
			return true
		}
	}
	return false
}

type Quality string

const (
	QualityRelaxed  Quality = "relaxed"
	QualityModerate Quality = "moderate"
	QualityStrict   Quality = "strict"
)

var Qualities = []Quality{QualityRelaxed, QualityModerate, QualityStrict}

// Normalize maps unknown levels to moderate.
func (q Quality) Normalize() Quality {
	switch q {
	case QualityRelaxed, QualityModerate, QualityStrict:
		return q
	}
	return QualityModerate
}

type OCRMode string

const (
	ModeVision OCRMode = "vision"
	ModeOCR    OCRMode = "ocr"
)

type Point struct {
	X int `mapstructure:"x" json:"x"`
	Y int `mapstructure:"y" json:"y"`
}

// Rect is a screen region given by two corners in any order.
type Rect struct {
	X1 int `mapstructure:"x1" json:"x1"`
	Y1 int `mapstructure:"y1" json:"y1"`
	X2 int `mapstructure:"x2" json:"x2"`
	Y2 int `mapstructure:"y2" json:"y2"`
}

// Normalize returns x,y as the top-left corner and the absolute size.
func (r Rect) Normalize() (x, y, w, h int) {
	x, y = min(r.X1, r.X2), min(r.Y1, r.Y2)
	w, h = abs(r.X2-r.X1), abs(r.Y2-r.Y1)
	return
}

func (r Rect) Empty() bool {
	_, _, w, h := r.Normalize()
	return w == 0 || h == 0
}

// ThreeStep splits a score over several input boxes, each capped at StepMax.
type ThreeStep struct {
	Inputs  []Point `mapstructure:"inputs" json:"inputs" validate:"len=3"`
	StepMax float64 `mapstructure:"step_max" json:"step_max"`
}

type Config struct {
	Index      int        `mapstructure:"index" json:"index" validate:"min=1,max=7"`
	Enabled    bool       `mapstructure:"enabled" json:"enabled"`
	Type       Type       `mapstructure:"type" json:"type"`
	Rubric     string     `mapstructure:"rubric" json:"rubric"`
	MinScore   float64    `mapstructure:"min_score" json:"min_score" validate:"gte=0"`
	MaxScore   float64    `mapstructure:"max_score" json:"max_score" validate:"gtefield=MinScore"`
	Step       float64    `mapstructure:"step" json:"step" validate:"gte=0"`
	OCRMode    OCRMode    `mapstructure:"ocr_mode" json:"ocr_mode" validate:"omitempty,oneof=vision ocr"`
	Quality    Quality    `mapstructure:"ocr_quality" json:"ocr_quality" validate:"omitempty,oneof=relaxed moderate strict"`
	Criteria   int        `mapstructure:"criteria" json:"criteria,omitempty" validate:"gte=0"`
	AnswerArea Rect       `mapstructure:"answer_area" json:"answer_area"`
	ScoreInput *Point     `mapstructure:"score_input" json:"score_input,omitempty"`
	Confirm    *Point     `mapstructure:"confirm" json:"confirm,omitempty"`
	ThreeStep  *ThreeStep `mapstructure:"three_step" json:"three_step,omitempty"`
}

func (c Config) Bounds() score.Bounds {
	step := c.Step
	if step == 0 {
		step = score.DefaultStep
	}
	return score.Bounds{Min: c.MinScore, Max: c.MaxScore, Step: step}
}

func (c Config) UsesOCR() bool { return c.OCRMode == ModeOCR }

// Check reports the first configuration problem that would stop a run.
func (c Config) Check() error {
	if c.Rubric == "" {
		return failure.Newf(failure.CodeMissingRubric, "question %d has no rubric", c.Index)
	}
	if err := c.Bounds().Validate(); err != nil {
		return failure.Wrap(failure.CodeInvalidInput, err, fmt.Sprintf("question %d: %v", c.Index, err))
	}
	if c.AnswerArea.Empty() {
		return failure.Newf(failure.CodeMissingPosition, "question %d has no answer area", c.Index)
	}
	if c.ThreeStep != nil {
		if len(c.ThreeStep.Inputs) != 3 {
			return failure.Newf(failure.CodeMissingPosition, "question %d three-step entry needs 3 input positions", c.Index)
		}
	} else if c.ScoreInput == nil {
		return failure.Newf(failure.CodeMissingPosition, "question %d has no score input position", c.Index)
	}
	if c.Confirm == nil {
		return failure.Newf(failure.CodeMissingPosition, "question %d has no confirm button position", c.Index)
	}
	return nil
}

// Active returns the questions that take part in a run, in index order.
// The first question is always graded.
func Active(qs []Config) []Config {
	out := make([]Config, 0, len(qs))
	for i, q := range qs {
		if i >= MaxQuestions {
			break
		}
		if q.Index == 0 {
			q.Index = i + 1
		}
		if q.Index == 1 || q.Enabled {
			out = append(out, q)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
