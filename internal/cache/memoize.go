package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// MemoOptions configures Cached.
type MemoOptions[A any] struct {
	// Name identifies the wrapped operation in derived keys. Required when KeyFunc is nil.
	Name string
	// Timeout is the TTL of memoized results. 0 uses the service default.
	Timeout time.Duration
	// KeyPrefix is prepended to every key, separated by a colon.
	KeyPrefix string
	// KeyFunc computes the cache key for an argument. Nil derives it from Name and the argument.
	KeyFunc func(A) string
}

// Cached wraps fn so repeated calls with equal arguments are served from s.
// Errors are returned without being cached. A cached value that no longer fits T
// is treated as a miss and recomputed.
func Cached[A, T any](s *Service, opts MemoOptions[A], fn func(ctx context.Context, arg A) (T, error)) func(ctx context.Context, arg A) (T, error) {
	keyFn := opts.KeyFunc
	if keyFn == nil {
		name := opts.Name
		keyFn = func(arg A) string { return DeriveKey(name, arg) }
	}

	return func(ctx context.Context, arg A) (T, error) {
		key := keyFn(arg)
		if opts.KeyPrefix != "" {
			key = opts.KeyPrefix + ":" + key
		}

		if v, ok := GetAs[T](ctx, s, key); ok {
			return v, nil
		}

		v, err := fn(ctx, arg)
		if err != nil {
			return v, err
		}
		s.Set(ctx, key, v, opts.Timeout)
		return v, nil
	}
}

// Memoize is Cached with the derived key and no custom prefix.
func Memoize[A, T any](s *Service, name string, timeout time.Duration, fn func(ctx context.Context, arg A) (T, error)) func(ctx context.Context, arg A) (T, error) {
	return Cached(s, MemoOptions[A]{Name: name, Timeout: timeout}, fn)
}

// DeriveKey builds memo:<name>:<hash> from the JSON form of arg. Arguments that cannot
// be JSON encoded fall back to their %#v form.
func DeriveKey(name string, arg any) string {
	data, err := json.Marshal(arg)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", arg))
	}
	return "memo:" + name + ":" + strconv.FormatUint(xxhash.Sum64(data), 16)
}
