package cache

import (
	"context"
	"encoding/json"
	"time"
)

// GetJSON attempts to get the key and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, s Store, key string, dest any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b, ttl)
}

// Aside tries the store first; on a miss or a store error it calls fetch and
// stores the result best-effort.
func Aside[T any](ctx context.Context, s Store, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if found, err := GetJSON(ctx, s, key, &cached); err == nil && found {
		return cached, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	_ = SetJSON(ctx, s, key, v, ttl)
	return v, nil
}
