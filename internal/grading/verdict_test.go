package grading

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/failure"
)

func TestDecodeStrategies(t *testing.T) {
	cases := map[string]string{
		"strict":        `{"itemized_scores":[1,2]}`,
		"fence":         "Here you go:\n```json\n{\"itemized_scores\":[1,2]}\n```",
		"bare fence":    "```\n{\"itemized_scores\":[1,2]}\n```",
		"open fence":    "```json\n{\"itemized_scores\":[1,2]}",
		"prose":         `The result is {"itemized_scores":[1,2]} as requested.`,
		"smart quotes":  `{“itemized_scores”: [1, 2]}`,
		"trailing":      `{"itemized_scores":[1,2,],}`,
		"single quotes": `{'itemized_scores': [1, 2]}`,
		"bom":           "\ufeff{\"itemized_scores\":[1,2]}",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := Decode(in)
			require.NoError(t, err)
			items := m[keyItemized].([]any)
			require.Len(t, items, 2)
			require.Equal(t, json.Number("2"), items[1])
		})
	}
}

func TestDecodeBracesInsideStrings(t *testing.T) {
	in := `note: {"scoring_basis":"used {x} and }", "itemized_scores":[3]} trailing {`
	m, err := Decode(in)
	require.NoError(t, err)
	require.Equal(t, "used {x} and }", m[keyBasis])
}

func TestDecodeFailure(t *testing.T) {
	for _, in := range []string{"", "   ", "no json here", "{broken", `["a list"]`} {
		_, err := Decode(in)
		require.Equal(t, failure.CodeParse, failure.CodeOf(err), in)
	}
}

func TestParseVerdictSumsItems(t *testing.T) {
	v, err := ParseVerdict(`{"student_answer_summary":"wrote two points","scoring_basis":"a ok, b missing","itemized_scores":[2,0,1],"total":9}`)
	require.NoError(t, err)
	require.Equal(t, []float64{2, 0, 1}, v.Itemized)
	require.Equal(t, 3.0, v.Total)
	require.False(t, v.Blank)
	require.Equal(t, "wrote two points\na ok, b missing", v.Rationale())
}

func TestParseVerdictLooseNumbers(t *testing.T) {
	v, err := ParseVerdict(`{"itemized_scores":["2分", "1.5", 0.5]}`)
	require.NoError(t, err)
	require.Equal(t, 4.0, v.Total)
}

func TestParseVerdictBlank(t *testing.T) {
	v, err := ParseVerdict(`{"student_answer_summary":"The student did not answer.","scoring_basis":"The answer area is blank.","itemized_scores":[0,0,0]}`)
	require.NoError(t, err)
	require.True(t, v.Blank)
	require.Zero(t, v.Total)

	v, err = ParseVerdict(`{"student_answer_summary":"学生未作答。"}`)
	require.NoError(t, err)
	require.True(t, v.Blank)
	require.Empty(t, v.Itemized)

	// a partly unreadable answer with points is not blank
	v, err = ParseVerdict(`{"student_answer_summary":"part of it is illegible","itemized_scores":[2]}`)
	require.NoError(t, err)
	require.False(t, v.Blank)
	require.Equal(t, 2.0, v.Total)
}

func TestParseVerdictManualReview(t *testing.T) {
	_, err := ParseVerdict(`{"student_answer_summary":"manual review required","scoring_basis":"the photo is cut off","itemized_scores":[0]}`)
	fe := failure.As(err)
	require.NotNil(t, fe)
	require.Equal(t, failure.CodeManualReview, fe.Code)
	require.Contains(t, fe.Message, "the photo is cut off")

	_, err = ParseVerdict(`{"manual_review":true,"itemized_scores":[1]}`)
	require.Equal(t, failure.CodeManualReview, failure.CodeOf(err))
}

func TestParseVerdictRejects(t *testing.T) {
	_, err := ParseVerdict(`{"student_answer_summary":"fine","itemized_scores":"3"}`)
	require.Equal(t, failure.CodeParse, failure.CodeOf(err))

	_, err = ParseVerdict(`{"student_answer_summary":"fine"}`)
	require.Equal(t, failure.CodeParse, failure.CodeOf(err))

	_, err = ParseVerdict(`{"itemized_scores":[1,"n/a"]}`)
	require.Equal(t, failure.CodeParse, failure.CodeOf(err))
}

func TestParseVerdictNonStringBasis(t *testing.T) {
	v, err := ParseVerdict(`{"scoring_basis":["a: 1","b: 0"],"itemized_scores":[1,0]}`)
	require.NoError(t, err)
	require.Equal(t, `["a: 1","b: 0"]`, v.Basis)
}

func TestParseVerdictFillInTheBlankWording(t *testing.T) {
	// "blank" as in fill-in-the-blank is not a blank answer
	_, err := ParseVerdict(`{"student_answer_summary":"The student filled in every blank correctly.","scoring_basis":"all answers match"}`)
	require.Equal(t, failure.CodeParse, failure.CodeOf(err))

	_, err = ParseVerdict(`{"student_answer_summary":"Part of the answer is unreadable, no answer for blank 3."}`)
	require.Equal(t, failure.CodeParse, failure.CodeOf(err))

	v, err := ParseVerdict(`{"student_answer_summary":"Blank 2 is empty.","itemized_scores":[0,0]}`)
	require.NoError(t, err)
	require.False(t, v.Blank)
	require.Zero(t, v.Total)

	v, err = ParseVerdict(`{"student_answer_summary":"The answer area is blank."}`)
	require.NoError(t, err)
	require.True(t, v.Blank)
}

func TestParseVerdictNegatedReviewIsGraded(t *testing.T) {
	v, err := ParseVerdict(`{"student_answer_summary":"Full marks; no manual review needed.","scoring_basis":"every point is met","itemized_scores":[5]}`)
	require.NoError(t, err)
	require.Equal(t, 5.0, v.Total)

	v, err = ParseVerdict(`{"student_answer_summary":"Correct derivation.","scoring_basis":"manual review required only if the photo were cropped","itemized_scores":[3]}`)
	require.NoError(t, err)
	require.Equal(t, 3.0, v.Total)
}
