// Package cache provides a multi-backend cache with read fallback and write fan-out.
//
// Three backends implement one contract: an in-process map (always available), an adapter
// over a host-provided cache facility, and Redis for caches shared between instances.
// Backends never return errors from Get/Set/Delete/Clear; faults are logged and surface
// only as misses or failed writes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// NoExpiry stores a value without a time-to-live.
const NoExpiry time.Duration = -1

var (
	// ErrNotNumeric is returned by Incr when the stored value is not an integer.
	ErrNotNumeric = errors.New("cached value is not numeric")

	// ErrBackendUnavailable is returned by Incr when no backend could serve the call.
	ErrBackendUnavailable = errors.New("no cache backend available")
)

// Backend is one storage tier. Implementations must be safe for concurrent use.
//
// A ttl <= 0 passed to Set or SetMany means the entry does not expire.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores value under key. It reports whether the write was accepted.
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool

	// Delete removes key. It reports whether the backend processed the delete.
	Delete(ctx context.Context, key string) bool

	// Clear removes entries matching the glob pattern. Backends without pattern
	// support clear everything.
	Clear(ctx context.Context, pattern string) bool

	// GetMany returns the found subset of keys.
	GetMany(ctx context.Context, keys []string) map[string]any

	// SetMany stores all items with one ttl.
	SetMany(ctx context.Context, items map[string]any, ttl time.Duration) bool

	// Incr adds delta to the integer stored at key, treating a missing key as 0.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}

// toInt64 converts a stored value into an integer for Incr.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrNotNumeric, n)
		}
		return int64(n), nil
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), nil
		}
	case float32:
		if f := float64(n); f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int64(f), nil
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
}
