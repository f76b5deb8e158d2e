package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/avissapr/signflow/internal/security"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRateLimit verifies requests over the allowance are rejected with 429.
func TestRateLimit(t *testing.T) {
	limiter := security.NewRateLimiter(2, time.Hour)
	defer limiter.Stop()
	sm := NewSecurityMiddleware(zerolog.Nop())

	app := fiber.New()
	app.Get("/sign/:token", sm.RateLimit(limiter, "view"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/sign/aaa", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d should be allowed", i+1)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/sign/aaa", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))

	// another link has its own allowance
	resp, err = app.Test(httptest.NewRequest("GET", "/sign/bbb", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

// TestRateLimit_PerOwner verifies authenticated owners are limited by user id.
func TestRateLimit_PerOwner(t *testing.T) {
	tokens := newTokens(t)
	first, _ := bearer(t, tokens, "user")
	second, _ := bearer(t, tokens, "user")
	limiter := security.NewRateLimiter(1, time.Hour)
	defer limiter.Stop()
	sm := NewSecurityMiddleware(zerolog.Nop())

	app := fiber.New()
	app.Post("/collections", AuthRequired(tokens), sm.RateLimit(limiter, "send"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	call := func(header string) int {
		req := httptest.NewRequest("POST", "/collections", nil)
		req.Header.Set("Authorization", header)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusNoContent, call(first))
	assert.Equal(t, fiber.StatusTooManyRequests, call(first))
	assert.Equal(t, fiber.StatusNoContent, call(second), "the second owner shares the client IP but not the allowance")
}

// TestSecureHeaders verifies security headers are set.
func TestSecureHeaders(t *testing.T) {
	sm := NewSecurityMiddleware(zerolog.Nop())

	app := fiber.New()
	app.Use(sm.SecureHeaders())
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString("test")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	require.NoError(t, err)

	headers := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Referrer-Policy":           "no-referrer",
		"Cache-Control":             "no-store",
	}
	for header, expected := range headers {
		assert.Equal(t, expected, resp.Header.Get(header), header)
	}
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "frame-ancestors 'none'")
}

// TestRequestLogger verifies requests are logged with the route pattern and the rendered status.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	sm := NewSecurityMiddleware(zerolog.New(&buf))

	app := fiber.New()
	app.Use(sm.RequestLogger())
	app.Get("/sign/:token", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/sign/secret-link-token", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	line := strings.TrimSpace(buf.String())
	assert.NotContains(t, line, "secret-link-token")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/sign/:token", entry["route"])
	assert.Equal(t, float64(fiber.StatusUnauthorized), entry["status"])
	assert.Equal(t, "http", entry["component"])
}
