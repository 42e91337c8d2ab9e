// Package circuitbreaker implements a thread-safe, per-provider circuit
// breaker with windowed health accounting and a failover-coordinating
// Manager. A breaker trips after a configurable number of consecutive
// failures and routes requests away from the provider for a recovery
// period before probing again.
package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// Closed is the normal operating state: requests pass through.
	Closed State = iota
	// Open means the circuit has tripped: requests are rejected immediately.
	Open
	// HalfOpen allows probe requests through to test whether the provider
	// has recovered.
	HalfOpen
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 2
	defaultRecoveryTimeout  = 30 * time.Second
	defaultMonitoringPeriod = 60 * time.Second
	defaultTimeout          = 10 * time.Second
)

// Breaker is a goroutine-safe circuit breaker for a single provider. It
// tracks consecutive failures for the CLOSED→OPEN transition, consecutive
// successes for the HALF_OPEN→CLOSED transition, and windowed lifetime
// counters backing the IsHealthy predicate.
type Breaker struct {
	mu sync.Mutex

	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	monitoringPeriod time.Duration
	timeout          time.Duration
	lastTripped      time.Time
	onStateChange    func(from, to State)

	windowStart      time.Time
	failuresInPeriod int
	requestsInPeriod int

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures required to
// trip the breaker from Closed to Open. Default is 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the number of consecutive successes required in
// HalfOpen before the breaker closes. Default is 2.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithRecoveryTimeout sets how long the breaker stays Open before
// transitioning to HalfOpen. Default is 30s.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

// WithMonitoringPeriod sets the window over which failuresInPeriod and
// requestsInPeriod accumulate before resetting. Default is 60s.
func WithMonitoringPeriod(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.monitoringPeriod = d
		}
	}
}

// WithTimeout sets the per-call timeout used by Execute. Default is 10s.
func WithTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithOnStateChange registers a callback that fires on every state
// transition. The callback is invoked while the breaker's mutex is held, so
// it must not call back into the breaker.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// New creates a Breaker in the Closed state with the given options.
func New(opts ...Option) *Breaker {
	b := &Breaker{
		state:            Closed,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		recoveryTimeout:  defaultRecoveryTimeout,
		monitoringPeriod: defaultMonitoringPeriod,
		timeout:          defaultTimeout,
		nowFunc:          time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	b.windowStart = b.nowFunc()
	return b
}

// Allow reports whether the next request should be dispatched.
//
// In Closed state it always returns true. In Open state it returns false
// unless recoveryTimeout has elapsed, in which case it transitions to
// HalfOpen and returns true. In HalfOpen state it also returns true; the
// number of concurrent probes is not limited.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.nowFunc().After(b.lastTripped.Add(b.recoveryTimeout)) {
			b.setState(HalfOpen)
			b.successCount = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call. In HalfOpen it increments
// successCount, closing the breaker once successThreshold is reached. In
// Closed it resets the consecutive failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindowLocked()
	b.requestsInPeriod++

	b.failureCount = 0
	if b.state == HalfOpen {
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.setState(Closed)
		}
	}
}

// RecordFailure records a failed call. In Closed it increments the
// consecutive failure counter and trips the breaker at failureThreshold. Any
// failure in HalfOpen immediately reopens the breaker and reschedules the
// recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindowLocked()
	b.requestsInPeriod++
	b.failuresInPeriod++

	b.failureCount++
	switch b.state {
	case Closed:
		if b.failureCount >= b.failureThreshold {
			b.setState(Open)
			b.lastTripped = b.nowFunc()
		}
	case HalfOpen:
		b.setState(Open)
		b.lastTripped = b.nowFunc()
	}
}

// CurrentState returns the current breaker state. Note: in Open state this
// does NOT check the recovery timer; use Allow() for that.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsHealthy implements the health predicate: state is not Open, and either
// no requests have landed in the current window or the windowed failure
// rate is below 50%.
func (b *Breaker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindowLocked()
	if b.state == Open {
		return false
	}
	if b.requestsInPeriod == 0 {
		return true
	}
	return float64(b.failuresInPeriod)/float64(b.requestsInPeriod) < 0.5
}

// rollWindowLocked resets the windowed counters once monitoringPeriod has
// elapsed. Caller must hold b.mu.
func (b *Breaker) rollWindowLocked() {
	now := b.nowFunc()
	if now.Sub(b.windowStart) >= b.monitoringPeriod {
		b.windowStart = now
		b.failuresInPeriod = 0
		b.requestsInPeriod = 0
	}
}

// setState transitions the breaker and fires the callback if registered.
// Caller must hold b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}

// ErrCircuitOpen is returned by Execute when the breaker rejects a call
// outright because the circuit is open.
type ErrCircuitOpen struct{}

func (ErrCircuitOpen) Error() string { return "circuit-open-rejection" }

// Execute races op against the breaker's configured timeout, treating a
// timeout as a failure. It records the outcome against the breaker and
// returns the error, or ErrCircuitOpen if the breaker rejected the call
// outright.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen{}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.RecordFailure()
			return err
		}
		b.RecordSuccess()
		return nil
	case <-ctx.Done():
		b.RecordFailure()
		return ctx.Err()
	}
}
