package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetManyJSON fetches keys in one round trip and returns the raw payloads of
// the keys that exist.
func (c *Cache) GetManyJSON(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if !c.enabled() || len(keys) == 0 {
		return out, nil
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return out, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = json.RawMessage(s)
		}
	}
	return out, nil
}

// SetManyJSON stores every entry of values with the configured TTL in a
// single pipeline.
func (c *Cache) SetManyJSON(ctx context.Context, values map[string]any) error {
	if !c.enabled() || len(values) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for key, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, data, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
