package gridbase

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half-open"
)

// CircuitBreaker stops calling a failing grid for a while. After
// maxFailures consecutive failures it opens and every call fails fast with
// ErrBackendUnavailable. Once resetTimeout has passed it half-opens and lets
// a single trial call through; the trial's outcome closes or reopens it.
type CircuitBreaker struct {
	mu            sync.Mutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	openedAt      time.Time
	state         string
	trial         bool
	now           func() time.Time
	onStateChange func(from, to string)
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        BreakerClosed,
		now:          time.Now,
	}
}

// WithStateChangeCallback registers fn for transitions. fn runs with the
// breaker locked and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(from, to string)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn once, or not at all while the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if wait, ok := cb.acquire(); !ok {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"reason":      "grid circuit open",
			"retry_after": wait.String(),
		})
	}
	err := fn()
	cb.record(err)
	return err
}

// acquire reports whether a call may proceed, or how long until the next
// trial otherwise.
func (cb *CircuitBreaker) acquire() (time.Duration, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if wait := cb.resetTimeout - cb.now().Sub(cb.openedAt); wait > 0 {
			return wait, false
		}
		cb.setState(BreakerHalfOpen)
		cb.trial = true
		return 0, true
	case BreakerHalfOpen:
		if cb.trial {
			return 0, false
		}
		cb.trial = true
		return 0, true
	}
	return 0, true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false

	if err == nil || !countsAsFailure(err) {
		cb.failures = 0
		if cb.state != BreakerClosed {
			cb.setState(BreakerClosed)
		}
		return
	}

	cb.failures++
	if cb.state == BreakerHalfOpen || (cb.state == BreakerClosed && cb.failures >= cb.maxFailures) {
		cb.openedAt = cb.now()
		cb.setState(BreakerOpen)
	}
}

// countsAsFailure is false for outcomes that say nothing about the grid's
// health: a missing sheet or row, a malformed sheet, a canceled caller.
func countsAsFailure(err error) bool {
	switch {
	case IsNotFound(err),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (cb *CircuitBreaker) setState(to string) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(from, to)
	}
}

func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trial = false
	cb.setState(BreakerClosed)
}

// Failures is the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// BreakerGrid fails fast while the wrapped grid keeps erroring.
// It never retries; a call either reaches the grid once or not at all.
type BreakerGrid struct {
	grid    Grid
	breaker *CircuitBreaker
}

func NewBreakerGrid(grid Grid, breaker *CircuitBreaker) *BreakerGrid {
	return &BreakerGrid{grid: grid, breaker: breaker}
}

func guarded[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (g *BreakerGrid) Sheet(ctx context.Context, name string) (*Sheet, error) {
	return guarded(ctx, g.breaker, func() (*Sheet, error) { return g.grid.Sheet(ctx, name) })
}

func (g *BreakerGrid) AppendRow(ctx context.Context, name string, cells []string) (int, error) {
	return guarded(ctx, g.breaker, func() (int, error) { return g.grid.AppendRow(ctx, name, cells) })
}

func (g *BreakerGrid) SetRow(ctx context.Context, name string, number int, cells []string) error {
	return g.breaker.Execute(ctx, func() error { return g.grid.SetRow(ctx, name, number, cells) })
}

func (g *BreakerGrid) DeleteRow(ctx context.Context, name string, number int) error {
	return g.breaker.Execute(ctx, func() error { return g.grid.DeleteRow(ctx, name, number) })
}

func (g *BreakerGrid) SheetNames(ctx context.Context) ([]string, error) {
	return guarded(ctx, g.breaker, func() ([]string, error) { return g.grid.SheetNames(ctx) })
}

func (g *BreakerGrid) Close() error {
	return g.grid.Close()
}
