package api

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emandor/lemme_grader/internal/middleware"
	"github.com/emandor/lemme_grader/internal/ws"
)

// Register mounts every route on app. hub may be nil when realtime events
// are not served.
func Register(app *fiber.App, h *Handler, hub *ws.Hub) {
	app.Get("/healthz", h.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	v1 := app.Group("/api/v1",
		middleware.SecureHeaders(),
		middleware.RateLimiter(120, 30*time.Second),
		middleware.ControlToken(h.cfg.ControlToken),
	)
	runs := v1.Group("/runs")
	runs.Post("/", h.StartRun)
	runs.Post("/stop", h.StopRun)
	runs.Get("/current", h.CurrentRun)
	runs.Put("/parameters", h.ReloadParameters)
	runs.Get("/:id/results", h.Results)
	runs.Get("/:id/summary", h.Summary)

	v1.Post("/answers", middleware.FileUploadValidator(h.cfg), h.UploadAnswer)
	v1.Post("/providers/test", h.TestProvider)

	if hub != nil {
		app.Use("/ws", middleware.WSUpgrade(h.cfg.ControlToken))
		app.Get("/ws", websocket.New(hub.HandleWS))
	}
}
