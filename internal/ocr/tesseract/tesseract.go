// Package tesseract is the local OCR engine. It links libtesseract.
package tesseract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/emandor/lemme_grader/internal/img"
	"github.com/emandor/lemme_grader/internal/ocr"
)

// Engine recognizes handwriting locally. Word confidences are folded
// into per-line average and minimum. It cannot see strike-through marks.
type Engine struct {
	Lang string
}

type lineKey struct{ block, par, line int }

func (t Engine) Recognize(ctx context.Context, image string) ([]ocr.Line, error) {
	b, _, err := img.DecodeDataURI(image)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()
	if t.Lang != "" {
		if err := client.SetLanguage(strings.Split(t.Lang, "+")...); err != nil {
			return nil, err
		}
	}
	if err := client.SetImageFromBytes(b); err != nil {
		return nil, err
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w", err)
	}
	return groupWords(boxes), nil
}

func groupWords(boxes []gosseract.BoundingBox) []ocr.Line {
	type acc struct {
		words    []string
		sum, min float64
		n        int
	}
	lines := map[lineKey]*acc{}
	var order []lineKey
	for _, b := range boxes {
		w := strings.TrimSpace(b.Word)
		if w == "" {
			continue
		}
		k := lineKey{b.BlockNum, b.ParNum, b.LineNum}
		a, ok := lines[k]
		if !ok {
			a = &acc{min: 1}
			lines[k] = a
			order = append(order, k)
		}
		c := b.Confidence / 100
		a.words = append(a.words, w)
		a.sum += c
		a.n++
		if c < a.min {
			a.min = c
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.block != b.block {
			return a.block < b.block
		}
		if a.par != b.par {
			return a.par < b.par
		}
		return a.line < b.line
	})
	out := make([]ocr.Line, 0, len(order))
	for _, k := range order {
		a := lines[k]
		out = append(out, ocr.Line{
			Text:          strings.Join(a.words, " "),
			AvgConfidence: ocr.Conf(a.sum / float64(a.n)),
			MinConfidence: ocr.Conf(a.min),
		})
	}
	return out
}
