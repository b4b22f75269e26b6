package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBucketRefillsOverTime(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rl.now = clk.now

	assert.True(t, rl.allow("alice"))
	assert.True(t, rl.allow("alice"))
	assert.False(t, rl.allow("alice"))
	assert.True(t, rl.allow("bob"))

	clk.advance(20 * time.Second)
	assert.False(t, rl.allow("alice"))
	clk.advance(15 * time.Second)
	assert.True(t, rl.allow("alice"))
	assert.False(t, rl.allow("alice"))
}

func TestIdleBucketsAreEvicted(t *testing.T) {
	rl := New(Config{})
	defer rl.Stop()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rl.now = clk.now

	rl.allow("alice")
	clk.advance(11 * time.Minute)
	rl.evictIdle(10 * time.Minute)

	rl.mu.RLock()
	defer rl.mu.RUnlock()
	assert.Empty(t, rl.buckets)
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Use(rl.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-ID", "alice")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}
