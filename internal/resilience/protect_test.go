package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtect_SuccessRecordsSuccess(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	g := Guard{Circuit: "svc", Settings: Settings{FailureThreshold: 2, ResetTimeout: time.Minute, SuccessThreshold: 1}}

	double := Protect(r, g, func(_ context.Context, n int) (int, error) { return n * 2, nil }, nil)

	r.Breaker("svc").OnFailure()
	got, err := double(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 0, r.Breaker("svc").Snapshot().FailureCount)
}

func TestProtect_ErrorIsReturnedUnchanged(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	boom := errors.New("boom")
	g := Guard{Circuit: "svc", Settings: Settings{FailureThreshold: 5, ResetTimeout: time.Minute, SuccessThreshold: 1}}

	op := Protect(r, g, func(_ context.Context, _ string) (string, error) { return "", boom }, nil)

	_, err := op(context.Background(), "x")
	assert.Same(t, boom, err)
	assert.Equal(t, 1, r.Breaker("svc").Snapshot().FailureCount)
}

func TestProtect_OpenCircuitWithoutFallback(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	g := Guard{Circuit: "svc", Operation: "lookup", Settings: Settings{FailureThreshold: 1, ResetTimeout: time.Hour, SuccessThreshold: 1}}
	calls := 0
	op := Protect(r, g, func(_ context.Context, _ string) (string, error) {
		calls++
		return "", errors.New("down")
	}, nil)

	_, _ = op(context.Background(), "a")
	_, err := op(context.Background(), "b")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "svc", openErr.Circuit)
	assert.Equal(t, "lookup", openErr.Operation)
	assert.Contains(t, err.Error(), "lookup")
	assert.Equal(t, 1, calls)
}

func TestProtect_OpenCircuitUsesFallbackWithOriginalArgs(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	g := Guard{Circuit: "svc", Settings: Settings{FailureThreshold: 1, ResetTimeout: time.Hour, SuccessThreshold: 1}}
	var fallbackArg string
	op := Protect(r, g,
		func(_ context.Context, _ string) (string, error) { return "", errors.New("down") },
		func(_ context.Context, arg string) (string, error) {
			fallbackArg = arg
			return "fallback", nil
		},
	)

	_, _ = op(context.Background(), "first")
	got, err := op(context.Background(), "second")

	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Equal(t, "second", fallbackArg)
}

func TestProtect_PanicRecordsFailure(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	g := Guard{Circuit: "svc", Settings: Settings{FailureThreshold: 1, ResetTimeout: time.Hour, SuccessThreshold: 1}}
	op := Protect(r, g, func(_ context.Context, _ int) (int, error) { panic("kaboom") }, nil)

	assert.PanicsWithValue(t, "kaboom", func() { _, _ = op(context.Background(), 1) })
	assert.Equal(t, StateOpen, r.Breaker("svc").State())
}

func TestExecute(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	g := Guard{Circuit: "exec", Settings: Settings{FailureThreshold: 1, ResetTimeout: time.Hour, SuccessThreshold: 1}}

	got, err := Execute(context.Background(), r, g, func(context.Context) (string, error) { return "ok", nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	_, err = Execute(context.Background(), r, g, func(context.Context) (string, error) { return "", errors.New("fail") }, nil)
	require.Error(t, err)

	got, err = Execute(context.Background(), r, g,
		func(context.Context) (string, error) { return "unreachable", nil },
		func(context.Context) (string, error) { return "degraded", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "degraded", got)
}

func TestProtect_UnrecordedErrorLeavesBreakerUntouched(t *testing.T) {
	r := NewRegistry(DefaultSettings())
	g := Guard{Circuit: "svc", Settings: Settings{FailureThreshold: 1, ResetTimeout: time.Minute, SuccessThreshold: 1}}
	op := Protect(r, g, func(ctx context.Context, _ string) (string, error) {
		return "", Unrecorded(ctx.Err())
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := op(ctx, "a")
	_, err2 := op(ctx, "b")

	assert.Same(t, context.Canceled, err)
	assert.Same(t, context.Canceled, err2)
	assert.Equal(t, StateClosed, r.Breaker("svc").State())
	assert.Equal(t, 0, r.Breaker("svc").Snapshot().FailureCount)
}

func TestUnrecorded_Nil(t *testing.T) {
	assert.NoError(t, Unrecorded(nil))
}
