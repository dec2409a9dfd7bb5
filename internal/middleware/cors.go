package middleware

import (
	"strings"

	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig allows browser origins ending with AllowedSuffix (e.g. ".grove.example").
type CORSConfig struct {
	AllowedSuffix string
}

// CORS allows same-origin/tool requests, localhost preflights, and origins matching the suffix.
func CORS(cfg CORSConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		if origin == "" {
			return c.Next()
		}
		local := strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
		allowed := local || (cfg.AllowedSuffix != "" && strings.HasSuffix(strings.ToLower(origin), strings.ToLower(cfg.AllowedSuffix)))
		if !allowed {
			return response.Error(c, "cors_forbidden", "Not allowed by CORS", fiber.StatusForbidden, nil)
		}
		c.Set("Access-Control-Allow-Origin", origin)
		c.Set("Access-Control-Allow-Credentials", "true")
		c.Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key, X-Trace-Id")
		c.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Method() == fiber.MethodOptions {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}
