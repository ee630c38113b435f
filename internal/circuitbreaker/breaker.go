// Package circuitbreaker implements a simple three-state circuit breaker used
// to protect calls to the payment gateway and notification endpoints.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a limited number of probe requests.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "workpay",
		Name:      "circuit_breaker_transitions_total",
		Help:      "Circuit breaker state transitions by breaker name and new state.",
	},
	[]string{"name", "to_state"},
)

func init() {
	prometheus.MustRegister(stateTransitions)
}

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// ResetTimeout is how long to stay open before probing.
	ResetTimeout time.Duration
	// HalfOpenMaxProbes is how many requests to allow in half-open state.
	HalfOpenMaxProbes int
}

// DefaultConfig returns sensible defaults for external HTTP dependencies.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 2,
	}
}

// Breaker is a three-state circuit breaker safe for concurrent use.
type Breaker struct {
	name string
	cfg  Config

	mu           sync.Mutex
	state        State
	failures     int
	probes       int
	openedAt     time.Time
	onTransition func(from, to State)
}

// New creates a breaker with the given name (used as a metric label).
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// OnTransition registers a callback invoked after every state change.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			b.probes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.probes < b.cfg.HalfOpenMaxProbes {
			b.probes++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess marks a successful call, closing the breaker from half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

// RecordFailure marks a failed call, opening the breaker when the threshold
// is reached or when a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = time.Now()
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	stateTransitions.WithLabelValues(b.name, to.String()).Inc()
	if b.onTransition != nil {
		go b.onTransition(from, to)
	}
}
