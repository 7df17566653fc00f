package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// AdminKey gates the admin console behind a static key. The key may arrive
// as a header or a query parameter (websocket clients cannot set headers).
func AdminKey(expectedKey string) fiber.Handler {
	expected := []byte(expectedKey)
	return func(c *fiber.Ctx) error {
		if expectedKey == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin console disabled"})
		}
		key := c.Get("X-Admin-Key")
		if key == "" {
			key = c.Query("key")
		}
		if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "invalid admin key"})
		}
		return c.Next()
	}
}
