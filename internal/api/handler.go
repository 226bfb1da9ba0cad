// Package api is the HTTP control surface: start and stop runs, reload
// parameters, read results, feed the capture spool and test providers.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emandor/lemme_grader/internal/cache"
	"github.com/emandor/lemme_grader/internal/config"
	"github.com/emandor/lemme_grader/internal/failure"
	"github.com/emandor/lemme_grader/internal/grading"
	"github.com/emandor/lemme_grader/internal/img"
	"github.com/emandor/lemme_grader/internal/middleware"
	"github.com/emandor/lemme_grader/internal/providers"
	"github.com/emandor/lemme_grader/internal/store"
)

type Runner interface {
	Start(ctx context.Context) (string, error)
	Stop() bool
	State() grading.RunState
	SetParameters(p grading.Params) error
	Parameters() grading.Params
}

type Pinger interface {
	Ping(ctx context.Context, k providers.Kind, credential, model string) (providers.Response, error)
}

type Handler struct {
	cfg    *config.Config
	runner Runner
	guard  *RunGuard
	reader store.Reader
	ping   Pinger
	load   func(path string) (grading.Params, error)

	// base outlives requests; runs are started on it.
	base     context.Context
	validate *validator.Validate
	log      zerolog.Logger
}

type Deps struct {
	Runner Runner
	Guard  *RunGuard
	Reader store.Reader
	Pinger Pinger

	// LoadParams reads the run file. It defaults to config.LoadParams.
	LoadParams func(path string) (grading.Params, error)
}

func NewHandler(base context.Context, cfg *config.Config, d Deps, log zerolog.Logger) *Handler {
	load := d.LoadParams
	if load == nil {
		load = config.LoadParams
	}
	return &Handler{
		cfg:      cfg,
		runner:   d.Runner,
		guard:    d.Guard,
		reader:   d.Reader,
		ping:     d.Pinger,
		load:     load,
		base:     base,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

func (h *Handler) reqLog(c *fiber.Ctx) zerolog.Logger {
	rid, _ := c.Locals(middleware.ReqIDKey).(string)
	return h.log.With().Str("req_id", rid).Logger()
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "run": h.runner.State().Status})
}

// StartRun starts grading with the loaded parameters, reading the run file
// first when nothing is loaded yet.
func (h *Handler) StartRun(c *fiber.Ctx) error {
	log := h.reqLog(c)
	if h.runner.Parameters().Repetitions == 0 {
		if err := h.reload(); err != nil {
			return writeError(c, err)
		}
	}
	if err := h.guard.Begin(c.UserContext()); err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a grading run is already active"})
		}
		log.Error().Err(err).Msg("run_lock_failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "run lock unavailable"})
	}
	id, err := h.runner.Start(h.base)
	if err != nil {
		h.guard.Abort()
		return writeError(c, err)
	}
	log.Info().Str("run_id", id).Msg("run_start_requested")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"run_id": id, "status": grading.StatusRunning})
}

func (h *Handler) StopRun(c *fiber.Ctx) error {
	stopped := h.runner.Stop()
	log := h.reqLog(c)
	log.Info().Bool("stopped", stopped).Msg("run_stop_requested")
	return c.JSON(fiber.Map{"stopped": stopped})
}

func (h *Handler) CurrentRun(c *fiber.Ctx) error {
	return c.JSON(h.runner.State())
}

// ReloadParameters re-reads the run file. A run in progress keeps its own
// snapshot.
func (h *Handler) ReloadParameters(c *fiber.Ctx) error {
	if err := h.reload(); err != nil {
		return writeError(c, err)
	}
	p := h.runner.Parameters()
	log := h.reqLog(c)
	log.Info().Int("questions", len(p.Questions)).Bool("dual", p.Dual).Msg("parameters_reloaded")
	return c.JSON(p)
}

func (h *Handler) reload() error {
	p, err := h.load(h.cfg.RunFile)
	if err != nil {
		return err
	}
	return h.runner.SetParameters(p)
}

func (h *Handler) Results(c *fiber.Ctx) error {
	rows, err := h.reader.Results(c.UserContext(), c.Params("id"))
	if err != nil {
		log := h.reqLog(c)
		log.Error().Err(err).Msg("results_query_failed")
		return writeError(c, failure.Wrap(failure.CodeStorage, err, "cannot read results"))
	}
	return c.JSON(rows)
}

func (h *Handler) Summary(c *fiber.Ctx) error {
	row, err := h.reader.Summary(c.UserContext(), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	if err != nil {
		log := h.reqLog(c)
		log.Error().Err(err).Msg("summary_query_failed")
		return writeError(c, failure.Wrap(failure.CodeStorage, err, "cannot read run summary"))
	}
	return c.JSON(row)
}

// UploadAnswer drops a screenshot into the capture spool. The route runs
// the upload validator first.
func (h *Handler) UploadAnswer(c *fiber.Ctx) error {
	log := h.reqLog(c)
	fh, err := c.FormFile("image")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "image required"})
	}

	tmp := filepath.Join(os.TempDir(), "grader-"+uuid.NewString())
	if err := c.SaveFile(fh, tmp); err != nil {
		log.Error().Err(err).Msg("upload_save_failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "save failed"})
	}
	defer os.Remove(tmp)

	saved, err := img.SaveResizedJPEG(tmp, h.cfg.SpoolDir, 0)
	if err != nil {
		log.Error().Err(err).Msg("upload_convert_failed")
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "cannot decode image"})
	}
	log.Info().Str("file", filepath.Base(saved.Path)).Int("w", saved.Width).Int("h", saved.Height).Msg("answer_spooled")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"file":   filepath.Base(saved.Path),
		"hash":   saved.Hash,
		"width":  saved.Width,
		"height": saved.Height,
	})
}

type providerTest struct {
	Provider   string `json:"provider" validate:"required"`
	Credential string `json:"credential" validate:"required"`
	Model      string `json:"model"`
}

// TestProvider sends a one-word prompt to check a credential and model.
func (h *Handler) TestProvider(c *fiber.Ctx) error {
	var in providerTest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := h.validate.Struct(in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "provider and credential are required"})
	}
	k, err := providers.ParseKind(in.Provider)
	if err != nil {
		return writeError(c, err)
	}
	if k == providers.BaiduOCR {
		return writeError(c, failure.New(failure.CodeUnsupported, "the OCR service cannot be tested with a chat prompt"))
	}
	if strings.TrimSpace(in.Model) == "" {
		return writeError(c, failure.New(failure.CodeInvalidInput, "model id is required"))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), providers.CallTimeout)
	defer cancel()
	resp, err := h.ping.Ping(ctx, k, in.Credential, in.Model)
	if err != nil {
		log := h.reqLog(c)
		log.Warn().Str("provider", k.String()).Str("code", string(failure.CodeOf(err))).Msg("provider_test_failed")
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":         true,
		"provider":   k.String(),
		"model":      resp.Model,
		"latency_ms": resp.Latency.Milliseconds(),
		"reply":      failure.Truncate(resp.Text, 100),
	})
}

// writeError renders a classified failure with its remedy.
func writeError(c *fiber.Ctx, err error) error {
	if errors.Is(err, grading.ErrRunActive) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "a grading run is already active"})
	}
	fe := failure.Classify(err)
	return c.Status(statusFor(fe)).JSON(fiber.Map{
		"error":  fe.Message,
		"code":   fe.Code,
		"kind":   fe.Kind,
		"remedy": fe.Remedy,
	})
}

func statusFor(fe *failure.Error) int {
	switch fe.Kind {
	case failure.KindConfiguration:
		return http.StatusUnprocessableEntity
	case failure.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
