// Package resilience keeps narration audible when a TTS backend dies.
// Each backend in the failover chain sits behind a circuit breaker, so a
// broken primary (expired key, provider outage) stops being retried on
// every narration and the chain moves straight to the next voice.
package resilience

import (
	"log/slog"
	"sync"
	"time"
)

// Breaker defaults, applied when the config leaves a field zero.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
)

// BreakerState is the circuit position.
type BreakerState int

const (
	// BreakerClosed passes every synthesize call through.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets exactly one trial call through; its outcome
	// decides between closing and re-opening.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one backend's breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures int

	// ResetTimeout is how long an open circuit waits before trying the
	// backend again.
	ResetTimeout time.Duration
}

// Breaker tracks one TTS backend's health. Callers ask Allow before a
// synthesize call and Record the outcome after; an open breaker makes the
// chain skip the backend without spending a request on it.
type Breaker struct {
	backend string
	cfg     BreakerConfig
	log     *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool
}

// NewBreaker creates a breaker for the named backend (e.g. "elevenlabs").
// A nil logger falls back to slog.Default.
func NewBreaker(backend string, cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{backend: backend, cfg: cfg, log: log}
}

// Allow reports whether the backend may be called right now. An open
// breaker whose reset timeout has elapsed admits a single trial call;
// further calls are rejected until Record settles that trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		b.state = BreakerHalfOpen
		b.trialing = true
		b.log.Info("circuit half-open, trying tts backend again", "backend", b.backend)
		return true
	case BreakerHalfOpen:
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	}
	return false
}

// Record settles the outcome of a call admitted by Allow.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != BreakerClosed {
			b.log.Info("circuit closed, tts backend recovered", "backend", b.backend)
		}
		b.state = BreakerClosed
		b.failures = 0
		b.trialing = false
		return
	}

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.trialing = false
		b.log.Warn("trial call failed, circuit re-opened",
			"backend", b.backend, "reset_timeout", b.cfg.ResetTimeout, "err", err)
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.cfg.MaxFailures {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.log.Warn("circuit opened, tts backend failing",
			"backend", b.backend, "failures", b.failures, "reset_timeout", b.cfg.ResetTimeout)
	}
}

// State returns the current circuit position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
