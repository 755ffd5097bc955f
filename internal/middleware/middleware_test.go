package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/postings", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestActorRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/postings", ActorRateLimit(cache, 2), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})

	alice := `{"actor_type":"customer","actor_id":"alice"}`
	assert.Equal(t, http.StatusCreated, post(t, app, alice))
	assert.Equal(t, http.StatusCreated, post(t, app, alice))
	assert.Equal(t, http.StatusTooManyRequests, post(t, app, alice))
	assert.Equal(t, http.StatusCreated, post(t, app, `{"actor_type":"customer","actor_id":"bob"}`))

	mr.FastForward(61 * time.Second)
	assert.Equal(t, http.StatusCreated, post(t, app, alice))
}

func TestActorRateLimitWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/postings", ActorRateLimit(nil, 1), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusCreated)
	})
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusCreated, post(t, app, `{}`))
	}
}

func TestRequestIDAndAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	app.Use(RequestID(), Audit(logger))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/ping", nil))
	require.NoError(t, err)
	id := resp.Header.Get(requestIDHeader)
	require.NotEmpty(t, id)
	assert.Contains(t, buf.String(), id)
	assert.Contains(t, buf.String(), `"status":200`)

	req := httptest.NewRequest(fiber.MethodGet, "/ping", nil)
	req.Header.Set(requestIDHeader, "given-id")
	_, err = app.Test(req)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "given-id")
}

func TestRequestIDAdoptsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	app := fiber.New()
	app.Use(RequestID(), Audit(logger))
	app.Get("/missing", func(c *fiber.Ctx) error {
		assert.Equal(t, "corr-7", RequestIDFrom(c))
		return fiber.NewError(http.StatusNotFound, "nope")
	})

	req := httptest.NewRequest(fiber.MethodGet, "/missing", nil)
	req.Header.Set(correlationIDHeader, "corr-7")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "corr-7", resp.Header.Get(requestIDHeader))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), `"status":404`)
}
