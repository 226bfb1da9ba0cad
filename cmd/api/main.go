package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"github.com/emandor/lemme_grader/internal/actuator"
	"github.com/emandor/lemme_grader/internal/api"
	"github.com/emandor/lemme_grader/internal/cache"
	"github.com/emandor/lemme_grader/internal/config"
	"github.com/emandor/lemme_grader/internal/events"
	"github.com/emandor/lemme_grader/internal/grading"
	"github.com/emandor/lemme_grader/internal/img"
	"github.com/emandor/lemme_grader/internal/middleware"
	"github.com/emandor/lemme_grader/internal/ocr/tesseract"
	"github.com/emandor/lemme_grader/internal/providers"
	"github.com/emandor/lemme_grader/internal/store"
	"github.com/emandor/lemme_grader/internal/telemetry"
	"github.com/emandor/lemme_grader/internal/ws"
)

func main() {
	doMigrate := flag.Bool("migrate", false, "run migrations and exit")
	flag.Parse()

	cfg := config.Load()
	sqlxDB := store.MustConnect(cfg.DBDSN)
	rdb := cache.MustConnect(cfg.RedisAddr, cfg.RedisDB)

	tlog := telemetry.Init(telemetry.FromEnv(config.GetEnv))
	tlog.Info().Str("port", cfg.AppPort).Str("ocr_engine", cfg.OCREngine).Msg("booting lemme_grader")

	if *doMigrate {
		store.MustMigrate(sqlxDB)
		log.Println("migrations done")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.SpoolDir, cfg.DoneDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal(err)
		}
	}

	gw := providers.NewGateway(nil,
		providers.WithTokenStore(cache.NewTokenStore(rdb)),
		providers.WithRateLimit(float64(cfg.ProviderRPS), cfg.ProviderBurst),
	)
	hub := ws.NewHub(telemetry.Component("ws"))
	results := store.New(sqlxDB)
	guard := api.NewRunGuard(cache.NewRunLock(rdb, cfg.RunLockTTL), telemetry.Component("api"))

	sinks := grading.Fanout{
		events.NewLogSink(telemetry.Component("run")),
		store.NewRecorder(results, telemetry.Component("store")),
		hub,
	}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, telemetry.Component("nats"))
		if err != nil {
			tlog.Error().Err(err).Str("url", cfg.NATSURL).Msg("nats_connect_failed")
		} else {
			defer nc.Drain()
			sinks = append(sinks, events.NewNATSPublisher(nc, cfg.NATSSubject, telemetry.Component("nats")))
		}
	}
	// last, so every other sink has seen the terminal event before the lock goes
	sinks = append(sinks, guard)

	orch := grading.New(grading.Deps{
		Caller: gw,
		Capturer: &img.SpoolCapturer{
			Dir:     cfg.SpoolDir,
			DoneDir: cfg.DoneDir,
			Prep:    img.PrepOptions{MaxW: cfg.OCRImgMaxW, Quality: cfg.OCRImgQuality, Grayscale: cfg.OCRImgGrayscale},
			Log:     telemetry.Component("capture"),
		},
		Inputter: actuator.NewJournal(cfg.JournalSize, telemetry.Component("actuator")),
		OCR:      recognizerFor(cfg, gw),
		Sink:     sinks,
	})
	if p, err := config.LoadParams(cfg.RunFile); err != nil {
		tlog.Warn().Err(err).Str("file", cfg.RunFile).Msg("run_file_not_loaded")
	} else if err := orch.SetParameters(p); err != nil {
		tlog.Warn().Err(err).Str("file", cfg.RunFile).Msg("run_file_rejected")
	}

	app := fiber.New(fiber.Config{BodyLimit: cfg.MaxBodyLimit * 1024 * 1024})
	app.Use(middleware.RequestID())
	app.Use(middleware.Recover())
	app.Use(middleware.CORS(cfg))
	app.Use(middleware.RequestLog())

	h := api.NewHandler(ctx, cfg, api.Deps{
		Runner: orch,
		Guard:  guard,
		Reader: results,
		Pinger: gw,
	}, telemetry.Component("api"))
	api.Register(app, h, hub)

	go func() {
		<-ctx.Done()
		orch.Stop()
		_ = app.Shutdown()
	}()

	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatal(err)
	}
}

// recognizerFor picks the OCR engine for OCR-mode questions. Baidu needs
// the run's OCR credential; tesseract runs locally.
func recognizerFor(cfg *config.Config, gw *providers.Gateway) grading.RecognizerFor {
	switch cfg.OCREngine {
	case "none":
		return nil
	case "tesseract":
		eng := tesseract.Engine{Lang: cfg.OCRLang}
		return func(grading.Params) grading.Recognizer { return eng }
	default:
		return func(p grading.Params) grading.Recognizer {
			if p.OCRCredential == "" {
				return nil
			}
			return providers.OCRRecognizer{Gateway: gw, Credential: p.OCRCredential}
		}
	}
}
