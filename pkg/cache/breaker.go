// pkg/cache/breaker.go
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without touching the wrapped dependency while
// the breaker is open. Callers treat it as "cache unavailable".
var ErrCircuitOpen = errors.New("circuit breaker open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "closed"
}

type BreakerConfig struct {
	// FailureRate trips the breaker once the rolling error rate reaches it.
	FailureRate float64
	// MinRequests is the sample size below which the rate is not evaluated.
	MinRequests int
	// Window bounds the rolling sample.
	Window time.Duration
	// OpenTimeout is the cool-down before a half-open probe is allowed.
	OpenTimeout time.Duration
	// ProbeTimeout bounds a single half-open probe call.
	ProbeTimeout time.Duration
	// IsFailure decides which errors count against the dependency. When nil,
	// everything except context cancellation and Nil (a key or list element
	// that simply does not exist) is a failure.
	IsFailure func(error) bool
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureRate:  0.5,
		MinRequests:  10,
		Window:       60 * time.Second,
		OpenTimeout:  30 * time.Second,
		ProbeTimeout: time.Second,
	}
}

// CircuitBreaker is a reusable closed/open/half-open breaker with an
// injectable clock so state transitions are testable without sleeping.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       BreakerState
	requests    int
	failures    int
	windowStart time.Time
	openedAt    time.Time
	probing     bool
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return NewCircuitBreakerWithClock(cfg, time.Now)
}

func NewCircuitBreakerWithClock(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if cfg.FailureRate <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &CircuitBreaker{cfg: cfg, now: now, windowStart: now()}
}

func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn through the breaker. While open it fails fast; after the
// cool-down a single probe is let through and its outcome decides between
// closing and re-opening.
func (b *CircuitBreaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.before()
	if err != nil {
		return err
	}

	callCtx := ctx
	if probe && b.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.ProbeTimeout)
		defer cancel()
	}

	callErr := fn(callCtx)
	b.after(probe, callErr)
	return callErr
}

func (b *CircuitBreaker) before() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case BreakerOpen:
		if now.Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false, ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = false
		fallthrough
	case BreakerHalfOpen:
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}

	if now.Sub(b.windowStart) > b.cfg.Window {
		b.requests = 0
		b.failures = 0
		b.windowStart = now
	}
	return false, nil
}

// isFailure classifies a call outcome. Misses (Nil) come back from a healthy
// dependency and must never trip the breaker.
func (b *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if b.cfg.IsFailure != nil {
		return b.cfg.IsFailure(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, Nil)
}

func (b *CircuitBreaker) after(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.isFailure(callErr)

	if probe {
		b.probing = false
		if failed {
			b.state = BreakerOpen
			b.openedAt = b.now()
			return
		}
		b.state = BreakerClosed
		b.requests = 0
		b.failures = 0
		b.windowStart = b.now()
		return
	}

	b.requests++
	if failed {
		b.failures++
	}
	if b.requests >= b.cfg.MinRequests &&
		float64(b.failures)/float64(b.requests) >= b.cfg.FailureRate {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}
