// Package resilience protects the voice connection path from hammering a
// failing remote service.
//
// [Breaker] is a three-state circuit breaker (closed, open, probing) and
// [GuardedProvider] applies one to a voice provider's Connect: after enough
// consecutive dial failures, activations fail immediately with
// [ErrBreakerOpen] until the cooldown elapses and a probe succeeds.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// BreakerState is the breaker's operating mode.
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects every call until the cooldown elapses.
	BreakerOpen

	// BreakerProbing lets a bounded number of calls through to test recovery.
	BreakerProbing
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// Defaults for breaker tuning.
const (
	DefaultThreshold = 3
	DefaultCooldown  = 30 * time.Second
	DefaultProbes    = 1
)

// BreakerOption configures a [Breaker].
type BreakerOption func(*Breaker)

// WithThreshold sets how many consecutive failures trip the breaker.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithCooldown sets how long the breaker stays open before probing.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithProbes sets how many concurrent probe calls the probing state admits.
func WithProbes(n int) BreakerOption {
	return func(b *Breaker) { b.probes = n }
}

// WithLogger sets the breaker's logger.
func WithLogger(log *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.log = log }
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	probes    int
	log       *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	inFlight int
}

// NewBreaker creates a Breaker labelled name for log messages.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      name,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		probes:    DefaultProbes,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Do runs fn unless the breaker rejects it. A rejected call returns
// [ErrBreakerOpen] without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

// admit decides whether a call may proceed, moving open → probing once the
// cooldown has elapsed.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.inFlight = 0
		b.log.Info("breaker probing after cooldown", "name", b.name)
		fallthrough
	case BreakerProbing:
		if b.inFlight >= b.probes {
			return ErrBreakerOpen
		}
		b.inFlight++
	}
	return nil
}

// settle records a call outcome.
func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerProbing {
		b.inFlight--
		if err != nil {
			b.trip()
			return
		}
		b.state = BreakerClosed
		b.failures = 0
		b.log.Info("breaker closed after successful probe", "name", b.name)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

// trip opens the breaker. Must hold b.mu.
func (b *Breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = time.Now()
	b.failures = b.threshold
	b.log.Warn("breaker opened", "name", b.name, "failures", b.failures)
}

// State returns the effective state; an open breaker whose cooldown elapsed
// reports probing even before the next call performs the transition.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker closed and clears all accounting.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.inFlight = 0
}
