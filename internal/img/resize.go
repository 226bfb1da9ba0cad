package img

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
)

type SaveResult struct {
	Path          string
	Hash          string
	Width, Height int
}

// SaveResizedJPEG stores an uploaded screenshot into dstDir. File names start
// with the arrival time so the spool can be consumed oldest first.
func SaveResizedJPEG(srcPath, dstDir string, maxW int) (SaveResult, error) {
	im, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return SaveResult{}, err
	}
	var out image.Image = im
	if maxW > 0 && im.Bounds().Dx() > maxW {
		out = imaging.Resize(im, maxW, 0, imaging.Lanczos)
	}
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return SaveResult{}, err
	}
	tmp := filepath.Join(dstDir, fmt.Sprintf(".%d.tmp.jpg", time.Now().UnixNano()))
	if err := imaging.Save(out, tmp, imaging.JPEGQuality(90)); err != nil {
		return SaveResult{}, err
	}

	b, err := os.ReadFile(tmp)
	if err != nil {
		return SaveResult{}, err
	}
	h := sha256.Sum256(b)
	hash := hex.EncodeToString(h[:])
	final := filepath.Join(dstDir, fmt.Sprintf("%d-%s.jpg", time.Now().UnixNano(), hash[:12]))
	// rename last so the spool never sees a half-written file
	if err := os.Rename(tmp, final); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Path: final, Hash: hash, Width: out.Bounds().Dx(), Height: out.Bounds().Dy()}, nil
}
