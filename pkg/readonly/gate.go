// Package readonly decides whether write transactions may start.
//
// The flag comes from two places: the static read_only.enabled setting and,
// when Redis is configured, a shared key that operators toggle at runtime.
package readonly

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/apperrors"
)

// Gate reports whether the database is currently read-only.
type Gate interface {
	IsReadOnly(ctx context.Context) (bool, error)
}

// Check returns apperrors.ErrReadOnly when gate reports read-only mode.
// A nil gate never blocks.
func Check(ctx context.Context, gate Gate) error {
	if gate == nil {
		return nil
	}
	on, err := gate.IsReadOnly(ctx)
	if err != nil {
		return fmt.Errorf("failed to read read-only flag: %w", err)
	}
	if on {
		return apperrors.ErrReadOnly
	}
	return nil
}

// StaticGate is the configuration switch.
type StaticGate bool

// IsReadOnly implements Gate.
func (g StaticGate) IsReadOnly(context.Context) (bool, error) {
	return bool(g), nil
}

// AnyGate is read-only when any of its gates is.
type AnyGate []Gate

// IsReadOnly implements Gate.
func (gs AnyGate) IsReadOnly(ctx context.Context) (bool, error) {
	for _, g := range gs {
		if g == nil {
			continue
		}
		on, err := g.IsReadOnly(ctx)
		if err != nil {
			return false, err
		}
		if on {
			return true, nil
		}
	}
	return false, nil
}

// flagStore is the subset of the Redis client the gate uses.
type flagStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGate reads the flag from a Redis key. A missing key means writable.
type RedisGate struct {
	client flagStore
	key    string
}

// NewRedisGate creates a gate on key. client is usually a *redis.Client.
func NewRedisGate(client flagStore, key string) *RedisGate {
	return &RedisGate{client: client, key: key}
}

var _ Gate = (*RedisGate)(nil)

// IsReadOnly implements Gate.
func (g *RedisGate) IsReadOnly(ctx context.Context) (bool, error) {
	val, err := g.client.Get(ctx, g.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET %s: %w", g.key, err)
	}
	return isTruthy(val), nil
}

// Set turns read-only mode on or off. Off deletes the key.
func (g *RedisGate) Set(ctx context.Context, on bool) error {
	if !on {
		if err := g.client.Del(ctx, g.key).Err(); err != nil {
			return fmt.Errorf("redis DEL %s: %w", g.key, err)
		}
		return nil
	}
	if err := g.client.Set(ctx, g.key, "1", 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", g.key, err)
	}
	return nil
}

// Key returns the Redis key holding the flag.
func (g *RedisGate) Key() string {
	return g.key
}

func isTruthy(val string) bool {
	val = strings.TrimSpace(strings.ToLower(val))
	switch val {
	case "on", "yes", "y":
		return true
	}
	b, err := strconv.ParseBool(val)
	return err == nil && b
}
