package middleware

import (
	"crypto/subtle"

	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const adminKeyHeader = "X-Admin-Key"

// AdminKeyMatches reports whether got equals the configured key. An unset key matches nothing.
func AdminKeyMatches(key, got string) bool {
	return key != "" && got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}

// RequireAdminKey guards reconciliation routes. With no key configured every request is refused.
func RequireAdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !AdminKeyMatches(key, c.Get(adminKeyHeader)) {
			return response.Forbidden(c, "Forbidden")
		}
		return c.Next()
	}
}
