package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the breaker's position.
type CircuitBreakerState int

const (
	// StateClosed passes every request through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets a single probe request through.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
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

// CircuitBreaker opens after maxFailures consecutive failures and stays open
// for the cooldown. Caller cancellations do not count as failures.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        CircuitBreakerState
	failures     int
	maxFailures  int
	cooldown     time.Duration
	openedAt     time.Time
	probing      bool
	now          func() time.Time
	onTransition func(from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a closed breaker. maxFailures below 1 is
// treated as 1.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// OnTransition registers a callback invoked, under the breaker's lock, on
// every state change.
func (cb *CircuitBreaker) OnTransition(fn func(from, to CircuitBreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTransition = fn
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Call runs fn unless the breaker is open. fn runs without the lock held.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probing = false
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	if err == nil {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		if cb.state != StateOpen {
			cb.transition(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	if cb.onTransition != nil {
		cb.onTransition(from, to)
	}
}

// Middleware wraps a CoreLLM with this breaker. Every client built with the
// returned middleware shares the breaker.
func (cb *CircuitBreaker) Middleware() Middleware {
	return func(next CoreLLM) CoreLLM {
		return &circuitBreakerLLM{next: next, cb: cb}
	}
}

// CircuitBreakerMiddleware creates a breaker and returns its middleware.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return NewCircuitBreaker(maxFailures, cooldown).Middleware()
}

type circuitBreakerLLM struct {
	next CoreLLM
	cb   *CircuitBreaker
}

func (c *circuitBreakerLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var (
		response            string
		tokensIn, tokensOut int
	)
	err := c.cb.Call(func() error {
		var err error
		response, tokensIn, tokensOut, err = c.next.DoRequest(ctx, prompt, opts)
		return err
	})
	return response, tokensIn, tokensOut, err
}

func (c *circuitBreakerLLM) GetModel() string { return c.next.GetModel() }
