package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while a provider's breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig tunes when a provider breaker trips and recovers.
type CircuitBreakerConfig struct {
	// MaxFailures is the run of consecutive failures that opens the circuit.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of probe calls let through while
	// half-open; all must succeed to close the circuit.
	HalfOpenMaxSuccesses uint32
}

// DefaultCircuitBreakerConfig trips after 3 failures, waits 30s, then lets
// 2 probe calls through.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	}
}

// CircuitBreakerMetrics is a snapshot of one breaker's counters.
type CircuitBreakerMetrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	Rejected             uint64 // calls refused while open
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards calls to one provider endpoint. A caller that
// cancels its own context does not count against the provider.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker

	requests  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
	rejected  atomic.Uint64
}

// NewCircuitBreaker creates a breaker with the default settings. name
// identifies the provider in state-change log lines.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(name, DefaultCircuitBreakerConfig())
}

// NewCircuitBreakerWithConfig creates a breaker with custom settings.
func NewCircuitBreakerWithConfig(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.HalfOpenMaxSuccesses,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Printf("WARNING: %s circuit breaker %s -> %s", name, from, to)
			},
		}),
	}
}

// Execute runs fn unless the circuit is open or ctx is already done.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cb.requests.Add(1)
	result, err := cb.breaker.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		cb.rejected.Add(1)
		cb.failures.Add(1)
		return nil, ErrCircuitOpen
	case err != nil:
		cb.failures.Add(1)
		return nil, err
	}
	cb.successes.Add(1)
	return result, nil
}

// State reports "closed", "half-open" or "open".
func (cb *CircuitBreaker) State() string {
	return cb.breaker.State().String()
}

// Metrics returns the current counters.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	counts := cb.breaker.Counts()
	return CircuitBreakerMetrics{
		TotalRequests:        cb.requests.Load(),
		TotalSuccesses:       cb.successes.Load(),
		TotalFailures:        cb.failures.Load(),
		Rejected:             cb.rejected.Load(),
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

// guarded runs fn through cb with a per-call timeout and labels an open
// circuit with the provider name.
func guarded[T any](ctx context.Context, cb *CircuitBreaker, provider string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	result, err := cb.Execute(ctx, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return zero, fmt.Errorf("%s: %w", provider, err)
		}
		return zero, err
	}
	return result.(T), nil
}
