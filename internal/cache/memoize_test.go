package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoize_ServesRepeatedCallsFromCache(t *testing.T) {
	ctx := context.Background()
	s := NewServiceWithBackends(Config{KeyPrefix: "t"}, nil)
	calls := 0
	upper := Memoize(s, "upper", 0, func(_ context.Context, in string) (string, error) {
		calls++
		return strings.ToUpper(in), nil
	})

	for range 3 {
		got, err := upper(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "ABC", got)
	}
	assert.Equal(t, 1, calls)

	_, _ = upper(ctx, "xyz")
	assert.Equal(t, 2, calls)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	s := NewServiceWithBackends(Config{}, nil)
	calls := 0
	fn := Memoize(s, "flaky", 0, func(_ context.Context, n int) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return n * 10, nil
	})

	_, err := fn(ctx, 1)
	require.Error(t, err)
	got, err := fn(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.Equal(t, 2, calls)
}

func TestCached_CustomKeyFunc(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryBackend()
	s := NewServiceWithBackends(Config{KeyPrefix: "svc"}, nil, mem)

	type query struct {
		ID    int
		Trace string
	}
	fn := Cached(s, MemoOptions[query]{
		KeyPrefix: "users",
		KeyFunc:   func(q query) string { return "id-" + strconv.Itoa(q.ID) },
	}, func(_ context.Context, q query) (string, error) {
		return "user" + q.Trace, nil
	})

	first, err := fn(ctx, query{ID: 1, Trace: "a"})
	require.NoError(t, err)
	second, err := fn(ctx, query{ID: 1, Trace: "b"})
	require.NoError(t, err)

	assert.Equal(t, "usera", first)
	assert.Equal(t, first, second, "trace is not part of the key")
	_, ok := mem.Get(ctx, "svc:users:id-1")
	assert.True(t, ok)
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("fn", []int{1, 2})
	assert.Equal(t, a, DeriveKey("fn", []int{1, 2}))
	assert.NotEqual(t, a, DeriveKey("fn", []int{2, 1}))
	assert.NotEqual(t, a, DeriveKey("other", []int{1, 2}))
	assert.True(t, strings.HasPrefix(a, "memo:fn:"))
}
