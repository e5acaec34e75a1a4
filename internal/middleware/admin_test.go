package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAdminToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	app := fiber.New()
	app.Put("/admin", AdminToken(string(hash)), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPut, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodPut, "/admin", nil)
	req.Header.Set(AdminTokenHeader, "guess")
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))

	req = httptest.NewRequest(http.MethodPut, "/admin", nil)
	req.Header.Set(AdminTokenHeader, "s3cret")
	assert.Equal(t, http.StatusNoContent, status(t, app, req))
}

func TestAdminTokenDisabledWithoutHash(t *testing.T) {
	app := fiber.New()
	app.Put("/admin", AdminToken(""), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPut, "/admin", nil)
	req.Header.Set(AdminTokenHeader, "anything")
	assert.Equal(t, http.StatusForbidden, status(t, app, req))
}

func TestRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Get("/score", RateLimit(cache, "score", 2), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, status(t, app, httptest.NewRequest(http.MethodGet, "/score", nil)))
	}
	assert.Equal(t, http.StatusTooManyRequests, status(t, app, httptest.NewRequest(http.MethodGet, "/score", nil)))
}

func TestRateLimitWithoutRedisIsNoop(t *testing.T) {
	app := fiber.New()
	app.Get("/score", RateLimit(nil, "score", 1), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, status(t, app, httptest.NewRequest(http.MethodGet, "/score", nil)))
	}
}

func TestRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())
	var seen string
	app.Get("/", func(c *fiber.Ctx) error {
		seen = RequestIDFrom(c)
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", resp.Header.Get(requestIDHeader))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, resp.Header.Get(requestIDHeader))
}
