package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"grove-ledger/internal/pkg/apperror"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Redis keys of the request counters shown by the health endpoints.
const (
	KeyReqTotal  = "health:global:req_total"
	KeyReqErrors = "health:global:req_errors"
	KeyResTime   = "health:global:res_time_total"
	KeyResCount  = "health:global:res_count"
	KeyStartTime = "health:global:start_time"
	KeyLastReq   = "health:global:last_request"
	KeyErrorLog  = "health:global:error_log"
)

// HealthKeys lists every health counter key, for reset.
func HealthKeys() []string {
	return []string{KeyReqTotal, KeyReqErrors, KeyResTime, KeyResCount, KeyStartTime, KeyLastReq, KeyErrorLog}
}

// HealthMarker records request stats in Redis (skip /, /health*, favicon). No-op without Redis.
// A request counts as failed when its final status is 5xx, including errors the global error
// handler has not rendered yet.
func HealthMarker(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if rdb == nil || path == "/" || strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/favicon") {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		lastReq, _ := json.Marshal(map[string]interface{}{
			"time":     start,
			"ip":       c.IP(),
			"path":     c.OriginalURL(),
			"method":   c.Method(),
			"trace_id": GetTraceID(c),
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pipe := rdb.Pipeline()
		pipe.Set(ctx, KeyLastReq, lastReq, 0)
		pipe.Incr(ctx, KeyReqTotal)
		pipe.Incr(ctx, KeyResCount)
		pipe.IncrByFloat(ctx, KeyResTime, float64(time.Since(start).Milliseconds()))
		if finalStatus(c, err) >= fiber.StatusInternalServerError {
			pipe.Incr(ctx, KeyReqErrors)
		}
		_, _ = pipe.Exec(ctx)
		return err
	}
}

func finalStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if e, ok := apperror.From(err); ok {
		return apperror.HTTPStatus(e.Kind)
	}
	return fiber.StatusInternalServerError
}
