package middleware

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WSUpgrade accepts only websocket upgrades carrying the control token.
// Browsers cannot set headers on a websocket handshake, so the token may
// also come as the "token" query parameter.
func WSUpgrade(token string) fiber.Handler {
	want := []byte(token)
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		got := presented(c)
		if got == "" {
			got = c.Query("token")
		}
		if !tokenOK(want, got) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.Locals("allowed", true)
		return c.Next()
	}
}
