// Package ratelimit provides a token-bucket limiter paced to
// the provider's plan, wrapped by a circuit breaker that isolates the
// rest of the process from a provider outage.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"optionflow-scanner/internal/errs"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Limiter paces outbound requests with a token bucket and isolates
// failures with a three-state circuit breaker (closed/open/half-open).
// Shared across all scanner workers.
type Limiter struct {
	bucket *rate.Limiter

	mu              sync.Mutex
	state           breakerState
	failures        int
	windowStart     time.Time
	openedAt        time.Time
	halfOpenInFlight bool

	failureThreshold int
	window           time.Duration
	cooldown         time.Duration
}

// New builds a Limiter. ratePerSecond is the token refill rate (burst
// equal to the rate, rounded up to at least 1). failureThreshold
// consecutive hard failures within window opens the breaker for
// cooldown.
func New(ratePerSecond int, failureThreshold int, window, cooldown time.Duration) *Limiter {
	if ratePerSecond < 1 {
		ratePerSecond = 1
	}
	return &Limiter{
		bucket:           rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
		state:            stateClosed,
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
	}
}

// Acquire blocks cooperatively until a token is available, or returns
// CircuitOpenError immediately if the breaker is open (and the
// half-open probe slot is already taken).
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.checkBreaker(); err != nil {
		return err
	}
	return l.bucket.Wait(ctx)
}

func (l *Limiter) checkBreaker() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(l.openedAt) >= l.cooldown {
			l.state = stateHalfOpen
			l.halfOpenInFlight = true
			return nil
		}
		return errs.NewCircuitOpen(l.openedAt.Format(time.RFC3339))
	case stateHalfOpen:
		if l.halfOpenInFlight {
			return errs.NewCircuitOpen(l.openedAt.Format(time.RFC3339))
		}
		l.halfOpenInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess reports a successful request outcome to the breaker.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.halfOpenInFlight = false
	l.state = stateClosed
}

// RecordFailure reports a hard failure (transient network/5xx, not
// rate-limit responses, which never count toward the breaker).
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == stateHalfOpen {
		// Probe failed: re-open immediately.
		l.state = stateOpen
		l.openedAt = time.Now()
		l.halfOpenInFlight = false
		return
	}

	now := time.Now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.failures = 0
	}
	l.failures++
	if l.failures >= l.failureThreshold {
		l.state = stateOpen
		l.openedAt = now
	}
}

// State returns a human-readable breaker state for health reporting.
func (l *Limiter) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
