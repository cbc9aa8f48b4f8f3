// Package resilience provides the circuit breaker and failover primitives
// dicio guards its external dependencies with.
//
// [Breaker] is a three-state breaker (closed, open, half-open) that stops
// calling a dependency after repeated failures. [Failover] tries an ordered
// list of interchangeable backends, each behind its own breaker, so that a
// failing primary is bypassed in favour of the next healthy one.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cool-down elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker, any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// CoolDown is how long an open breaker rejects calls before probing.
	// Default: 30s.
	CoolDown time.Duration

	// Probes is the number of successful half-open calls that close the
	// breaker. Default: 3.
	Probes int

	// Now returns the current time. Nil means [time.Now].
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	probes      int
	now         func() time.Time

	mu         sync.Mutex
	state      State
	failures   int
	openedAt   time.Time
	probeCalls int
	probeWins  int
}

// NewBreaker creates a closed [Breaker]. Zero config fields take their
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		probes:      cfg.Probes,
		now:         cfg.Now,
	}
}

// Do runs fn unless the breaker is open. Errors caused by ctx being done are
// returned without counting as failures of the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		b.state = StateHalfOpen
		b.probeCalls, b.probeWins = 0, 0
		slog.Info("resilience: breaker half-open", "name", b.name)
	}
	switch {
	case b.state == StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case b.state == StateHalfOpen && b.probeCalls >= b.probes:
		b.mu.Unlock()
		return ErrOpen
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failed(probing)
	} else {
		b.succeeded(probing)
	}
	return err
}

// failed records a failure. b.mu must be held.
func (b *Breaker) failed(probing bool) {
	b.failures++
	if probing || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			slog.Warn("resilience: breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// succeeded records a success. b.mu must be held.
func (b *Breaker) succeeded(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	b.probeWins++
	if b.probeWins >= b.probes && b.state == StateHalfOpen {
		b.state = StateClosed
		b.failures = 0
		slog.Info("resilience: breaker closed", "name", b.name)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probeCalls, b.probeWins = 0, 0
}
