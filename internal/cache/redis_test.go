package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisBackend(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(RedisConfig{URL: "redis://" + mr.Addr(), ScanCount: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestNewRedisBackend_Errors(t *testing.T) {
	_, err := NewRedisBackend(RedisConfig{URL: "not a url"}, nil)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisBackend(RedisConfig{URL: "redis://" + addr, DialTimeout: 200 * time.Millisecond}, nil)
	assert.Error(t, err)
}

func TestRedisBackend_SetGet(t *testing.T) {
	ctx := context.Background()
	mr, b := setupRedisBackend(t)

	require.True(t, b.Set(ctx, "vec", []float32{0.25, 0.5}, time.Minute))
	v, ok := b.Get(ctx, "vec")
	require.True(t, ok)
	assert.Equal(t, []any{0.25, 0.5}, v)
	assert.Equal(t, time.Minute, mr.TTL("vec"))

	mr.FastForward(time.Minute)
	_, ok = b.Get(ctx, "vec")
	assert.False(t, ok)

	require.True(t, b.Set(ctx, "forever", "x", 0))
	assert.Equal(t, time.Duration(0), mr.TTL("forever"))
}

func TestRedisBackend_CorruptValueIsMiss(t *testing.T) {
	mr, b := setupRedisBackend(t)
	require.NoError(t, mr.Set("bad", "j:{oops"))

	_, ok := b.Get(context.Background(), "bad")
	assert.False(t, ok)
}

func TestRedisBackend_UnserializableSkipsWrite(t *testing.T) {
	mr, b := setupRedisBackend(t)

	assert.False(t, b.Set(context.Background(), "fn", func() {}, 0))
	assert.False(t, mr.Exists("fn"))
}

func TestRedisBackend_Many(t *testing.T) {
	ctx := context.Background()
	_, b := setupRedisBackend(t)

	require.True(t, b.SetMany(ctx, map[string]any{"a": "one", "b": 2}, time.Minute))
	got := b.GetMany(ctx, []string{"a", "b", "missing"})
	assert.Equal(t, map[string]any{"a": "one", "b": int64(2)}, got)
}

func TestRedisBackend_ClearByPattern(t *testing.T) {
	ctx := context.Background()
	mr, b := setupRedisBackend(t)

	for _, k := range []string{"app:1", "app:2", "app:3", "other:1"} {
		require.True(t, b.Set(ctx, k, "v", 0))
	}

	require.True(t, b.Clear(ctx, "app:*"))
	assert.False(t, mr.Exists("app:1"))
	assert.False(t, mr.Exists("app:2"))
	assert.False(t, mr.Exists("app:3"))
	assert.True(t, mr.Exists("other:1"))
}

func TestRedisBackend_Incr(t *testing.T) {
	ctx := context.Background()
	_, b := setupRedisBackend(t)

	n, err := b.Incr(ctx, "hits", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.True(t, b.Set(ctx, "stored", 10, 0))
	n, err = b.Incr(ctx, "stored", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), n)

	require.True(t, b.Set(ctx, "word", "abc", 0))
	_, err = b.Incr(ctx, "word", 1)
	assert.ErrorIs(t, err, ErrNotNumeric)
}
