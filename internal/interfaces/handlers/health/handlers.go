package health

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	healthsvc "grove-ledger/internal/application/health"
	"grove-ledger/internal/middleware"
	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Handlers holds dependencies for health endpoints.
type Handlers struct {
	Sources  healthsvc.Sources
	AdminKey string
}

// Reset clears the request counters and the error log, then restarts the uptime clock.
// Requires ?key=ADMIN_KEY.
func (h *Handlers) Reset(c *fiber.Ctx) error {
	if !middleware.AdminKeyMatches(h.AdminKey, c.Query("key")) {
		return response.Forbidden(c, "Unauthorized")
	}
	rdb := h.Sources.Rdb
	if rdb == nil {
		return response.Error(c, "redis_unavailable", "Redis is not configured", fiber.StatusServiceUnavailable, nil)
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_, err := rdb.TxPipelined(c.Context(), func(pipe redis.Pipeliner) error {
		pipe.Del(c.Context(), middleware.HealthKeys()...)
		pipe.Set(c.Context(), middleware.KeyStartTime, now, 0)
		return nil
	})
	if err != nil {
		return err
	}
	return response.Success(c, "Stats reset successfully", fiber.Map{"success": true, "start_time": now}, nil)
}

// JSON reports the same snapshot as the dashboard.
func (h *Handlers) JSON(c *fiber.Ctx) error {
	result := healthsvc.CollectHealth(c.Context(), h.Sources)
	return c.JSON(fiber.Map{
		"service":      "grove-ledger",
		"status":       result.Status,
		"runtime":      result.Runtime,
		"traffic":      result.Traffic,
		"dependencies": result.Dependencies,
		"ledger":       result.Ledger,
	})
}

// Errors returns the newest entries of the error log, ?limit=N (default and maximum: the whole log).
// Entries that are not JSON objects are skipped.
func (h *Handlers) Errors(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", middleware.ErrorLogSize)
	if limit <= 0 || limit > middleware.ErrorLogSize {
		limit = middleware.ErrorLogSize
	}
	entries, err := recentErrors(c.Context(), h.Sources.Rdb, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON([]interface{}{})
	}
	return c.JSON(entries)
}

func recentErrors(ctx context.Context, rdb *redis.Client, limit int) ([]map[string]interface{}, error) {
	out := []map[string]interface{}{}
	if rdb == nil {
		return out, nil
	}
	raw, err := rdb.LRange(ctx, middleware.KeyErrorLog, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	for _, s := range raw {
		var m map[string]interface{}
		if json.Unmarshal([]byte(s), &m) == nil && m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// Dashboard returns the HTML status page.
func (h *Handlers) Dashboard(c *fiber.Ctx) error {
	result := healthsvc.CollectHealth(c.Context(), h.Sources)
	c.Type("html", "utf-8")
	return c.SendString(healthsvc.RenderDashboardHTML(result))
}
