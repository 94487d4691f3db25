package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// APIKeyHeader carries the shared key callers present on every API route.
const APIKeyHeader = "X-API-Key"

// APIKeyRequired rejects requests whose X-API-Key does not match key.
// The comparison is constant-time. An empty key rejects everything.
func APIKeyRequired(key string) fiber.Handler {
	expected := []byte(key)
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}
		provided := []byte(c.Get(APIKeyHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Forbidden",
			})
		}
		return c.Next()
	}
}
