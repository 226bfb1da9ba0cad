package score

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	require.Equal(t, 3.0, Round(3, 0.5))
	require.Equal(t, 3.5, Round(3.25, 0.5))
	require.Equal(t, 3.0, Round(3.24, 0.5))
	require.Equal(t, 7.0, Round(6.5, 1))
	require.Equal(t, 0.3, Round(0.29, 0.1))
	require.Equal(t, 4.26, Round(4.26, 0))
}

func TestFinalizeClampsAfterRounding(t *testing.T) {
	b := Bounds{Min: 0, Max: 9.8, Step: 0.5}
	require.Equal(t, 9.8, Finalize(9.9, b))
	require.Equal(t, 9.8, Finalize(100, b))
	require.Equal(t, 0.0, Finalize(-3, b))
}

func TestFinalizeIdempotent(t *testing.T) {
	bounds := []Bounds{
		{Min: 0, Max: 10, Step: 0.5},
		{Min: 0, Max: 9.8, Step: 0.5},
		{Min: 1, Max: 3, Step: 0.25},
		{Min: 0, Max: 100, Step: 1},
	}
	for _, b := range bounds {
		for x := -20.0; x <= 120; x += 0.37 {
			once := Finalize(x, b)
			require.Equal(t, once, Finalize(once, b), "x=%v bounds=%+v", x, b)
		}
	}
}

func TestItemizedScenarios(t *testing.T) {
	b := Bounds{Min: 0, Max: 10, Step: 0.5}
	require.Equal(t, 3.0, Finalize(Sum([]float64{2, 0, 1}), b))
	require.Equal(t, 10.0, Finalize(Sum([]float64{8, 8}), b))
	require.Equal(t, 0.0, Sum(nil))
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{2.5, 2.5, true},
		{"3", 3, true},
		{" 4.5 ", 4.5, true},
		{"2分", 2, true},
		{json.Number("1.5"), 1.5, true},
		{math.NaN(), 0, false},
		{math.Inf(1), 0, false},
		{"abc", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, c := range cases {
		got, ok := Sanitize(c.in)
		require.Equal(t, c.ok, ok, "%v", c.in)
		require.Equal(t, c.want, got, "%v", c.in)
	}
}

func TestBoundsValidate(t *testing.T) {
	require.NoError(t, Bounds{Min: 0, Max: 10, Step: 0.5}.Validate())
	require.Error(t, Bounds{Min: 10, Max: 0}.Validate())
	require.Error(t, Bounds{Min: 0, Max: math.Inf(1)}.Validate())
	require.Error(t, Bounds{Min: 0, Max: 1, Step: -1}.Validate())
}

func TestSplitSteps(t *testing.T) {
	out, err := SplitSteps(47.5, 3, 20)
	require.NoError(t, err)
	require.Equal(t, []float64{20, 20, 7.5}, out)

	out, err = SplitSteps(12, 3, 20)
	require.NoError(t, err)
	require.Equal(t, []float64{12, 0, 0}, out)

	_, err = SplitSteps(61, 3, 20)
	require.Error(t, err)
	_, err = SplitSteps(-1, 3, 20)
	require.Error(t, err)
}
