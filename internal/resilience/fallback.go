package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/vigil/internal/observe"
)

// ErrAllFailed is returned when no backend of a [FallbackGroup] produced a
// result.
var ErrAllFailed = errors.New("all backends failed")

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds backends of one kind in preference order, each behind
// its own breaker. Backends must all be added before the group is shared
// between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	breaker CircuitBreakerConfig
}

// NewFallbackGroup creates an empty group whose backends get breakers
// configured by cfg. cfg.Name is replaced by each backend's name.
func NewFallbackGroup[T any](cfg CircuitBreakerConfig) *FallbackGroup[T] {
	return &FallbackGroup[T]{breaker: cfg}
}

// Add appends a backend. Backends are tried in the order they were added.
func (fg *FallbackGroup[T]) Add(name string, backend T) {
	cfg := fg.breaker
	cfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: backend, breaker: NewCircuitBreaker(cfg)})
}

// Len returns the number of backends.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Breakers returns the breaker of every backend in preference order.
func (fg *FallbackGroup[T]) Breakers() []*CircuitBreaker {
	out := make([]*CircuitBreaker, len(fg.entries))
	for i := range fg.entries {
		out[i] = fg.entries[i].breaker
	}
	return out
}

// Run calls fn on each backend in order and returns the first result together
// with the name of the backend that produced it. Backends with an open
// breaker are skipped. Once ctx is done no further backend is tried, since a
// tick past its deadline has no use for a late answer.
//
// When every backend fails the error wraps [ErrAllFailed] and each backend's
// error.
func Run[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		e := &fg.entries[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var out R
		err := e.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return out, e.name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			observe.Logger(ctx).Debug("skipping backend, circuit open", "backend", e.name)
		} else {
			observe.Logger(ctx).Warn("backend failed, trying next", "backend", e.name, "err", err)
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no backends"))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
