package tesseract

import (
	"testing"

	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/require"
)

func word(block, par, line int, text string, conf float64) gosseract.BoundingBox {
	return gosseract.BoundingBox{Word: text, Confidence: conf, BlockNum: block, ParNum: par, LineNum: line}
}

func TestGroupWords(t *testing.T) {
	cases := []struct {
		name  string
		boxes []gosseract.BoundingBox
		text  []string
		avg   []float64
		min   []float64
	}{
		{
			name:  "single line",
			boxes: []gosseract.BoundingBox{word(1, 1, 1, "x", 90), word(1, 1, 1, "=", 70), word(1, 1, 1, "4", 80)},
			text:  []string{"x = 4"},
			avg:   []float64{0.8},
			min:   []float64{0.7},
		},
		{
			name: "lines ordered by block, paragraph, line",
			boxes: []gosseract.BoundingBox{
				word(2, 1, 1, "last", 50),
				word(1, 2, 1, "middle", 60),
				word(1, 1, 2, "second", 70),
				word(1, 1, 1, "first", 100),
			},
			text: []string{"first", "second", "middle", "last"},
			avg:  []float64{1, 0.7, 0.6, 0.5},
			min:  []float64{1, 0.7, 0.6, 0.5},
		},
		{
			name:  "empty words skipped",
			boxes: []gosseract.BoundingBox{word(1, 1, 1, "  ", 5), word(1, 1, 1, "ok", 95)},
			text:  []string{"ok"},
			avg:   []float64{0.95},
			min:   []float64{0.95},
		},
		{
			name: "nothing recognized",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lines := groupWords(tc.boxes)
			require.Len(t, lines, len(tc.text))
			for i, l := range lines {
				require.Equal(t, tc.text[i], l.Text)
				require.InDelta(t, tc.avg[i], *l.AvgConfidence, 1e-9)
				require.InDelta(t, tc.min[i], *l.MinConfidence, 1e-9)
				require.False(t, l.StruckThrough)
			}
		})
	}
}
