// Package resilience guards the exchange path with per-service circuit
// breakers and per-organization token-bucket rate limits.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"trustgate.org/internal/obs"
)

// Circuit states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

var (
	ErrCircuitOpen      = errors.New("resilience: circuit open")
	ErrHalfOpenLimit    = errors.New("resilience: half-open probe limit reached")
	ErrRateLimited      = errors.New("resilience: rate limited")
	ErrOrgRateLimited   = fmt.Errorf("%w: organization bucket exhausted", ErrRateLimited)
	ErrServiceRateLimit = fmt.Errorf("%w: service bucket exhausted", ErrRateLimited)
)

// RejectedError carries a retry-after hint alongside the rejection cause.
type RejectedError struct {
	Cause      error
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Cause, e.RetryAfter)
}

func (e *RejectedError) Unwrap() error { return e.Cause }

// BreakerConfig tunes the circuit breaker state machine.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// circuit is the per-key state machine. Each circuit has its own lock so
// independent services never serialize each other.
type circuit struct {
	mu            sync.Mutex
	state         string
	failures      int
	successes     int
	halfOpenCalls int
	lastFailure   time.Time
	lastChange    time.Time
}

// Breaker keeps one circuit per service key.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.RWMutex
	circuits map[string]*circuit
}

// NewBreaker constructs a Breaker; zero-valued config fields fall back to defaults.
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	b := &Breaker{cfg: cfg, now: time.Now, circuits: make(map[string]*circuit)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerClock overrides the time source (useful for tests).
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func (b *Breaker) circuitFor(key string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[key]
	b.mu.RUnlock()
	if ok {
		return c
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[key]; ok {
		return c
	}
	c = &circuit{state: StateClosed, lastChange: b.now()}
	b.circuits[key] = c
	return c
}

// CanExecute reports whether a call to the service key may proceed. In the
// open state the first caller after the reset timeout flips the circuit to
// half-open and is admitted as a probe.
func (b *Breaker) CanExecute(key string) error {
	c := b.circuitFor(key)
	now := b.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return nil
	case StateOpen:
		elapsed := now.Sub(c.lastFailure)
		if elapsed < b.cfg.ResetTimeout {
			return &RejectedError{Cause: ErrCircuitOpen, RetryAfter: b.cfg.ResetTimeout - elapsed}
		}
		b.transition(c, StateHalfOpen, now)
		c.halfOpenCalls = 1
		c.successes = 0
		return nil
	default: // half-open
		if c.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return &RejectedError{Cause: ErrHalfOpenLimit, RetryAfter: b.cfg.ResetTimeout}
		}
		c.halfOpenCalls++
		return nil
	}
}

// RecordSuccess notes a successful call against the service key.
func (b *Breaker) RecordSuccess(key string) {
	c := b.circuitFor(key)
	now := b.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.successes++
		if c.successes >= b.cfg.SuccessThreshold {
			b.transition(c, StateClosed, now)
			c.failures = 0
			c.successes = 0
			c.halfOpenCalls = 0
		}
	}
}

// RecordFailure notes a failed call against the service key. A single failure
// while half-open reopens the circuit immediately.
func (b *Breaker) RecordFailure(key string) {
	c := b.circuitFor(key)
	now := b.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFailure = now
	switch c.state {
	case StateClosed:
		c.failures++
		if c.failures >= b.cfg.FailureThreshold {
			b.transition(c, StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(c, StateOpen, now)
		c.successes = 0
		c.halfOpenCalls = 0
	}
}

// State returns the current state for a service key.
func (b *Breaker) State(key string) string {
	c := b.circuitFor(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (b *Breaker) transition(c *circuit, to string, now time.Time) {
	if c.state == to {
		return
	}
	c.state = to
	c.lastChange = now
	obs.ObserveCircuitTransition(to)
}
