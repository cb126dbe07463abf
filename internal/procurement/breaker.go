package procurement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/cylinder-portal/model"
)

// ErrSourceUnavailable is returned by GuardedSource while its breaker is open.
var ErrSourceUnavailable = errors.New("purchase order source unavailable")

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets fetches through and counts failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects fetches without calling the source.
	BreakerOpen
	// BreakerHalfOpen lets probe fetches through.
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

// CircuitBreaker trips after a run of consecutive failures and stays open
// for a cool-down before probing again. It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker. failureThreshold consecutive failures
// open it; successThreshold consecutive successes while half-open close it.
func NewCircuitBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 3
	}
	if successThreshold < 1 {
		successThreshold = 1
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.refreshLocked() == BreakerOpen {
		return ErrSourceUnavailable
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.tripLocked()
		}
	case BreakerHalfOpen:
		// Any failure while probing reopens.
		cb.tripLocked()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refreshLocked()
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.successes = 0
}

// refreshLocked moves an open breaker to half-open once the cool-down has
// passed. Must be called with lock held.
func (cb *CircuitBreaker) refreshLocked() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.cooldown {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// GuardedSource wraps a Source with a circuit breaker so a failing ERP
// connection is not hammered by every sync tick.
type GuardedSource struct {
	source  Source
	breaker *CircuitBreaker
}

// NewGuardedSource wraps source with breaker.
func NewGuardedSource(source Source, breaker *CircuitBreaker) *GuardedSource {
	return &GuardedSource{source: source, breaker: breaker}
}

// Fetch calls the wrapped source unless the breaker is open.
func (g *GuardedSource) Fetch(ctx context.Context) ([]model.PurchaseOrder, error) {
	if err := g.breaker.Allow(); err != nil {
		return nil, err
	}
	orders, err := g.source.Fetch(ctx)
	if err != nil {
		g.breaker.RecordFailure()
		return nil, err
	}
	g.breaker.RecordSuccess()
	return orders, nil
}

// State returns the breaker state.
func (g *GuardedSource) State() BreakerState {
	return g.breaker.State()
}

// HealthCheck reports ErrSourceUnavailable while the breaker is open.
func (g *GuardedSource) HealthCheck(context.Context) error {
	if g.breaker.State() == BreakerOpen {
		return ErrSourceUnavailable
	}
	return nil
}
