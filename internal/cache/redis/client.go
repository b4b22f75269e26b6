package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/council-ai/backend/internal/council"
	"github.com/council-ai/backend/pkg/logger"
)

const (
	verdictPrefix  = "verdict:"
	decisionPrefix = "metric:decision:"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", addr), zap.Duration("verdict_ttl", ttl))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetVerdict stores v under key. Keys are expected to carry the verdict: prefix.
func (c *Client) SetVerdict(ctx context.Context, key string, v *council.Verdict) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set verdict cache: %w", err)
	}

	logger.Debug("Verdict cached", zap.String("key", key), zap.Duration("ttl", c.ttl))
	return nil
}

// GetVerdict returns nil, nil on a miss.
func (c *Client) GetVerdict(ctx context.Context, key string) (*council.Verdict, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verdict cache: %w", err)
	}

	var v council.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}

	logger.Debug("Verdict cache hit", zap.String("key", key))
	return &v, nil
}

// InvalidateVerdicts drops every cached verdict, e.g. after the judge set changes.
func (c *Client) InvalidateVerdicts(ctx context.Context) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, verdictPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		removed++
	}

	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Verdict cache invalidated", zap.Int("removed", removed))
	return removed, nil
}

func (c *Client) IncrementDecision(ctx context.Context, d council.Decision) error {
	return c.client.Incr(ctx, decisionPrefix+string(d)).Err()
}

// DecisionCounts reports how many verdicts of each decision have been served.
func (c *Client) DecisionCounts(ctx context.Context) (map[council.Decision]int64, error) {
	decisions := []council.Decision{council.Pass, council.Warning, council.Fail}
	keys := make([]string, len(decisions))
	for i, d := range decisions {
		keys[i] = decisionPrefix + string(d)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read decision counters: %w", err)
	}

	out := make(map[council.Decision]int64, len(decisions))
	for i, d := range decisions {
		out[d] = 0
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		var n int64
		if _, err := fmt.Sscan(s, &n); err == nil {
			out[d] = n
		}
	}
	return out, nil
}
