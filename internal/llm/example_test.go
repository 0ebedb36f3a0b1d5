package llm_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/petmind/internal/llm"
)

// ExampleCircuitBreaker demonstrates basic usage of the circuit breaker.
func ExampleCircuitBreaker() {
	cb := llm.NewCircuitBreaker("example")

	result, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "woof", nil
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Result: %v\n", result)
	// Output: Result: woof
}

// ExampleCircuitBreaker_customConfig demonstrates a breaker that trips after
// a single failure.
func ExampleCircuitBreaker_customConfig() {
	cb := llm.NewCircuitBreakerWithConfig("strict", llm.CircuitBreakerConfig{
		MaxFailures:          1,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	})

	_, _ = cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, errors.New("provider down")
	})

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return "never called", nil
	})
	fmt.Println(errors.Is(err, llm.ErrCircuitOpen), cb.State())
	// Output: true open
}

// ExampleCircuitBreaker_State demonstrates checking the circuit breaker state.
func ExampleCircuitBreaker_State() {
	cb := llm.NewCircuitBreaker("example")

	fmt.Printf("Circuit breaker state: %s\n", cb.State())
	// Output: Circuit breaker state: closed
}

// ExampleCircuitBreaker_Metrics demonstrates accessing circuit breaker metrics.
func ExampleCircuitBreaker_Metrics() {
	cb := llm.NewCircuitBreaker("example")
	ctx := context.Background()

	cb.Execute(ctx, func() (interface{}, error) {
		return "success", nil
	})

	metrics := cb.Metrics()
	fmt.Printf("Total requests: %d\n", metrics.TotalRequests)
	fmt.Printf("Total successes: %d\n", metrics.TotalSuccesses)
	// Output: Total requests: 1
	// Total successes: 1
}
