package img

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

type Prepared struct {
	Bytes []byte
	MIME  string
}

func (p Prepared) DataURI() string { return DataURI(p.Bytes, p.MIME) }

type PrepOptions struct {
	MaxW      int
	Quality   int
	Grayscale bool
}

// Prepare: resize → grayscale (optional) → JPEG. Keeps vision payloads small.
func Prepare(src image.Image, o PrepOptions) (Prepared, error) {
	if src.Bounds().Dx() > o.MaxW && o.MaxW > 0 {
		src = imaging.Resize(src, o.MaxW, 0, imaging.Lanczos)
	}
	if o.Grayscale {
		src = imaging.Grayscale(src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, forceOpaque(src), &jpeg.Options{Quality: clamp(o.Quality, 40, 95)}); err != nil {
		return Prepared{}, err
	}
	return Prepared{Bytes: buf.Bytes(), MIME: "image/jpeg"}, nil
}

var ErrCropOutside = errors.New("crop area lies outside the image")

// PrepareFile opens path honoring EXIF orientation, crops it to crop unless
// crop is empty, then Prepare.
func PrepareFile(path string, crop image.Rectangle, o PrepOptions) (Prepared, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Prepared{}, err
	}
	if !crop.Empty() {
		r := crop.Intersect(src.Bounds())
		if r.Empty() {
			return Prepared{}, fmt.Errorf("%w: %v vs %v image", ErrCropOutside, crop, src.Bounds().Size())
		}
		src = imaging.Crop(src, r)
	}
	return Prepare(src, o)
}

// convert alpha to white
func forceOpaque(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	bg := color.White
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a == 0 {
				dst.Set(x, y, bg)
			} else {
				dst.SetRGBA(x, y, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8), 0xff})
			}
		}
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
