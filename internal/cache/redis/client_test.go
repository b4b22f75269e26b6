package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientFailsWithoutServer(t *testing.T) {
	_, err := NewClient("127.0.0.1", 1, "", 0, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestReadsSurfaceConnectionErrors(t *testing.T) {
	c := &Client{
		client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}),
		ttl:    time.Minute,
	}
	defer c.Close()

	v, err := c.GetVerdict(context.Background(), "verdict:abc")
	assert.Nil(t, v)
	assert.ErrorContains(t, err, "failed to get verdict cache")

	_, err = c.DecisionCounts(context.Background())
	assert.ErrorContains(t, err, "failed to read decision counters")
}
