package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"grove-ledger/internal/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, body io.Reader) map[string]interface{} {
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out["error"].(map[string]interface{})
}

func TestKeyedRateLimiter_PerKeyBudget(t *testing.T) {
	rl := NewKeyedRateLimiter(2)
	app := fiber.New()
	app.Post("/b/:beneficiary_id/claims", rl.Middleware("beneficiary_id"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/b/A/claims", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest("POST", "/b/A/claims", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeError(t, resp.Body)["code"])

	// other beneficiaries have their own bucket
	resp, err = app.Test(httptest.NewRequest("POST", "/b/B/claims", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestKeyedRateLimiter_DisabledAndExpiry(t *testing.T) {
	off := NewKeyedRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, off.allow("A", time.Now()))
	}

	rl := NewKeyedRateLimiter(1)
	now := time.Now()
	assert.True(t, rl.allow("A", now))
	assert.False(t, rl.allow("A", now))
	later := now.Add(rl.ttl + time.Second)
	assert.True(t, rl.allow("B", later))
	rl.mu.Lock()
	_, stale := rl.visitors["A"]
	rl.mu.Unlock()
	assert.False(t, stale)
}

func TestRequireAdminKey(t *testing.T) {
	app := fiber.New()
	app.Post("/admin", RequireAdminKey("s3cret"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest("POST", "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req := httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set("X-Admin-Key", "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	unset := fiber.New()
	unset.Post("/admin", RequireAdminKey(""), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	req = httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set("X-Admin-Key", "")
	resp, err = unset.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestErrorHandler_TypedAndUntyped(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	app := fiber.New(fiber.Config{ErrorHandler: NewErrorHandler(rdb)})
	app.Use(Tracing())
	app.Get("/typed", func(c *fiber.Ctx) error {
		return apperror.New(apperror.KindState, "claim_in_progress", "busy")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("pq: connection reset")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/typed", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "claim_in_progress", decodeError(t, resp.Body)["code"])

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body := decodeError(t, resp.Body)
	assert.Equal(t, "Internal Server Error", body["message"])

	entries, err := mr.List(KeyErrorLog)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "connection reset")

	resp, err = app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestTracing_KeepsValidIncomingID(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-Id", "7d444840-9dc0-11d1-b245-5ffdce74fad2")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "7d444840-9dc0-11d1-b245-5ffdce74fad2", resp.Header.Get("X-Trace-Id"))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-Id", "<script>")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "<script>", resp.Header.Get("X-Trace-Id"))
	assert.Len(t, resp.Header.Get("X-Trace-Id"), 36)
}

func TestHealthMarker_CountsRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	app := fiber.New()
	app.Use(HealthMarker(rdb))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/fail", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusBadGateway) })
	app.Get("/health/json", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/typed", func(c *fiber.Ctx) error {
		return apperror.New(apperror.KindState, "claim_in_progress", "busy")
	})
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("boom") })

	for _, p := range []string{"/ok", "/fail", "/health/json", "/typed", "/boom"} {
		_, err := app.Test(httptest.NewRequest("GET", p, nil))
		require.NoError(t, err)
	}
	total, err := mr.Get(KeyReqTotal)
	require.NoError(t, err)
	assert.Equal(t, "4", total)
	errs, err := mr.Get(KeyReqErrors)
	require.NoError(t, err)
	assert.Equal(t, "2", errs)

	noRedis := fiber.New()
	noRedis.Use(HealthMarker(nil))
	noRedis.Get("/ok", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	resp, err := noRedis.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{AllowedSuffix: ".grove.example"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://app.grove.example")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://app.grove.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}
