package resilience

import (
	"context"
	"errors"
	"fmt"
)

// ErrCircuitOpen matches every *CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned by a protected call that was blocked and had no fallback.
type CircuitOpenError struct {
	Circuit   string
	Operation string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q is open: %s blocked", e.Circuit, e.Operation)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

type unrecordedError struct{ err error }

func (e *unrecordedError) Error() string { return e.err.Error() }
func (e *unrecordedError) Unwrap() error { return e.err }

// Unrecorded marks err so that Protect returns it without recording a success or a
// failure. Use it for outcomes that say nothing about the guarded dependency, such as
// the caller abandoning the call.
func Unrecorded(err error) error {
	if err == nil {
		return nil
	}
	return &unrecordedError{err: err}
}

// Guard names the breaker and operation a protected call is bound to.
type Guard struct {
	// Circuit is the breaker name in the registry.
	Circuit string
	// Operation names the guarded call in errors and logs. Defaults to Circuit.
	Operation string
	// Settings are used only when the breaker does not exist yet.
	Settings Settings
}

// Operation is a guarded call taking one argument.
type Operation[A, T any] func(ctx context.Context, arg A) (T, error)

// Protect binds op to the breaker described by g.
//
// When the breaker blocks the call, fallback is invoked with the original arguments; without a
// fallback the call fails with *CircuitOpenError. Errors returned by op are recorded as failures
// and returned unchanged, except errors wrapped by Unrecorded, which are unwrapped and leave
// the breaker untouched. A panic in op is recorded as a failure and re-panicked.
func Protect[A, T any](r *Registry, g Guard, op Operation[A, T], fallback Operation[A, T]) Operation[A, T] {
	if g.Operation == "" {
		g.Operation = g.Circuit
	}
	return func(ctx context.Context, arg A) (result T, err error) {
		cb := r.GetOrCreate(g.Circuit, g.Settings)

		if !cb.AllowRequest() {
			if fallback != nil {
				return fallback(ctx, arg)
			}
			return result, &CircuitOpenError{Circuit: g.Circuit, Operation: g.Operation}
		}

		completed := false
		defer func() {
			if !completed {
				cb.OnFailure()
			}
		}()

		result, err = op(ctx, arg)
		completed = true
		if err != nil {
			var skip *unrecordedError
			if errors.As(err, &skip) {
				return result, skip.err
			}
			cb.OnFailure()
			return result, err
		}
		cb.OnSuccess()
		return result, nil
	}
}

// Execute runs fn once under the breaker described by g.
func Execute[T any](ctx context.Context, r *Registry, g Guard, fn func(ctx context.Context) (T, error), fallback func(ctx context.Context) (T, error)) (T, error) {
	op := func(ctx context.Context, _ struct{}) (T, error) { return fn(ctx) }
	var fb Operation[struct{}, T]
	if fallback != nil {
		fb = func(ctx context.Context, _ struct{}) (T, error) { return fallback(ctx) }
	}
	return Protect(r, g, op, fb)(ctx, struct{}{})
}
