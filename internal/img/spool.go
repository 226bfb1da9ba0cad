package img

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/question"
)

// SpoolCapturer serves answer images from screenshots dropped into Dir,
// oldest first. The answer area is cropped out of each screenshot.
type SpoolCapturer struct {
	Dir     string
	DoneDir string
	Prep    PrepOptions
	Log     zerolog.Logger
}

func (s *SpoolCapturer) Capture(ctx context.Context, area question.Rect) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.next()
	if err != nil {
		return "", err
	}
	log := s.Log.With().Str("file", filepath.Base(path)).Logger()

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", failure.Wrap(failure.CodeCapture, err, "cannot read screenshot")
	}
	if !mt.Is("image/jpeg") && !mt.Is("image/png") {
		s.archive(path)
		return "", failure.Newf(failure.CodeCapture, "screenshot has unsupported type %s", mt.String())
	}

	var crop image.Rectangle
	if !area.Empty() {
		x, y, w, h := area.Normalize()
		crop = image.Rect(x, y, x+w, y+h)
	}
	prep, err := PrepareFile(path, crop, s.Prep)
	switch {
	case errors.Is(err, ErrCropOutside):
		return "", failure.Wrap(failure.CodeCapture, err, fmt.Sprintf("answer area %v: %v", area, err))
	case err != nil:
		return "", failure.Wrap(failure.CodeCapture, err, "cannot prepare answer image")
	}
	s.archive(path)
	log.Debug().Int("bytes", len(prep.Bytes)).Msg("capture_done")
	return prep.DataURI(), nil
}

// Pending reports how many screenshots wait in the spool.
func (s *SpoolCapturer) Pending() int {
	files, _ := s.list()
	return len(files)
}

func (s *SpoolCapturer) next() (string, error) {
	files, err := s.list()
	if err != nil {
		return "", failure.Wrap(failure.CodeCapture, err, "cannot read capture spool")
	}
	if len(files) == 0 {
		return "", failure.New(failure.CodeCapture, "no screenshot waiting in the capture spool")
	}
	return files[0], nil
}

func (s *SpoolCapturer) list() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	type item struct {
		path string
		mod  int64
	}
	var items []item
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{filepath.Join(s.Dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mod == items[j].mod {
			return items[i].path < items[j].path
		}
		return items[i].mod < items[j].mod
	})
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.path
	}
	return out, nil
}

func (s *SpoolCapturer) archive(path string) {
	if s.DoneDir == "" {
		_ = os.Remove(path)
		return
	}
	if err := os.MkdirAll(s.DoneDir, 0755); err != nil {
		s.Log.Warn().Err(err).Msg("spool_archive_mkdir_failed")
		return
	}
	if err := os.Rename(path, filepath.Join(s.DoneDir, filepath.Base(path))); err != nil {
		s.Log.Warn().Err(err).Msg("spool_archive_failed")
	}
}
