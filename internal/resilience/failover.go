package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Failover] failed or was
// skipped by its open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// backend pairs a value with its breaker.
type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Failover holds an ordered list of interchangeable backends. Calls go to
// the first backend whose breaker admits them and move on to the next one
// when it fails.
//
// Backends are registered before use; Failover is safe for concurrent calls
// once set up.
type Failover[T any] struct {
	cfg      BreakerConfig
	backends []backend[T]
}

// NewFailover creates a Failover with primary as its first backend. Every
// backend gets a breaker built from cfg with the backend's name.
func NewFailover[T any](primaryName string, primary T, cfg BreakerConfig) *Failover[T] {
	f := &Failover[T]{cfg: cfg}
	f.Add(primaryName, primary)
	return f
}

// Add appends a backend tried after those already registered.
func (f *Failover[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Len returns the number of backends.
func (f *Failover[T]) Len() int { return len(f.backends) }

// Do calls fn with each backend in turn until one succeeds.
func (f *Failover[T]) Do(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := DoValue(ctx, f, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// DoValue is [Failover.Do] for calls returning a value. It is a function
// because methods cannot have type parameters.
func DoValue[T, R any](ctx context.Context, f *Failover[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range f.backends {
		b := &f.backends[i]
		var result R
		err := b.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = fn(ctx, b.value)
			return err
		})
		if err == nil {
			if i > 0 {
				slog.Debug("resilience: served by fallback backend", "backend", b.name)
			}
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", b.name)
		} else {
			slog.Warn("resilience: backend failed, trying next", "backend", b.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Each calls fn for every backend in order, regardless of breaker state, and
// joins the errors. Used to close or inspect all backends.
func (f *Failover[T]) Each(fn func(name string, v T) error) error {
	var errs []error
	for _, b := range f.backends {
		if err := fn(b.name, b.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}
