package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func RateLimiter(limit int, window time.Duration) fiber.Handler {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		},
		Next: func(c *fiber.Ctx) bool {
			path := c.Path()
			// probes, scrapes and the event stream are not throttled
			return path == "/healthz" || path == "/metrics" || strings.HasPrefix(path, "/ws")
		},
	})
}
