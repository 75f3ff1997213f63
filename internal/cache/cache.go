// Package cache provides the TTL cache used for enrichment context
// and threat intel results: Redis when configured, an in-process map
// otherwise. A miss is (nil, nil), never an error.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache is the byte-level contract stages program against.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// GetJSON retrieves and unmarshals a cached JSON value. The second
// return reports whether the key was present.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals and stores a JSON value.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
