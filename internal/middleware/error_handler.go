package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"grove-ledger/internal/pkg/apperror"
	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrorLogSize caps the Redis error log.
const ErrorLogSize = 50

// NewErrorHandler returns the global error handler. Typed service errors keep their code;
// anything else is logged, appended to the Redis error log and answered with a generic 500.
func NewErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return response.Error(c, "http_error", fe.Message, fe.Code, nil)
		}
		if _, typed := apperror.From(err); typed {
			return response.FromError(c, err)
		}

		log.Error().Err(err).
			Str("trace_id", GetTraceID(c)).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Unhandled error")
		recordError(rdb, c, err)
		return response.FromError(c, err)
	}
}

func recordError(rdb *redis.Client, c *fiber.Ctx, err error) {
	if rdb == nil {
		return
	}
	entry, _ := json.Marshal(map[string]interface{}{
		"time":     time.Now(),
		"method":   c.Method(),
		"path":     c.OriginalURL(),
		"message":  err.Error(),
		"trace_id": GetTraceID(c),
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, KeyErrorLog, entry)
	pipe.LTrim(ctx, KeyErrorLog, 0, ErrorLogSize-1)
	if _, perr := pipe.Exec(ctx); perr != nil {
		log.Warn().Err(perr).Msg("Failed to record error log entry")
	}
}
