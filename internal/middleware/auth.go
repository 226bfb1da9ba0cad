package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const TokenHeader = "X-Control-Token"

// ControlToken guards the control API with a shared bearer token, sent as
// "Authorization: Bearer <token>" or in X-Control-Token.
func ControlToken(token string) fiber.Handler {
	want := []byte(token)
	return func(c *fiber.Ctx) error {
		if !tokenOK(want, presented(c)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

func presented(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return c.Get(TokenHeader)
}

func tokenOK(want []byte, got string) bool {
	if len(want) == 0 || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare(want, []byte(got)) == 1
}
