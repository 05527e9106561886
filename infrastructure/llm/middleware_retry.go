package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	jitter     func() float64
}

// RetryMiddleware retries retryable failures up to maxRetries times with
// exponential backoff and jitter, capped at maxDelay. Failures for which
// IsRetryable is false are returned immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: max(maxRetries, 0),
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
			jitter:     rand.Float64,
		}
	}
}

func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		attempts++
		response, tokensIn, tokensOut, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, tokensIn, tokensOut, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt == r.maxRetries {
			break
		}

		timer := time.NewTimer(r.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", 0, 0, fmt.Errorf("retry aborted after %d attempts: %w", attempts, ctx.Err())
		case <-timer.C:
		}
	}

	if attempts == 1 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
}

// delay is baseDelay * 2^attempt scaled by a factor in [0.75, 1.25).
func (r *retryLLM) delay(attempt int) time.Duration {
	attempt = min(max(attempt, 0), 30)
	d := float64(r.baseDelay) * float64(uint64(1)<<attempt)
	d *= 0.75 + r.jitter()*0.5
	if r.maxDelay > 0 {
		d = min(d, float64(r.maxDelay))
	}
	return time.Duration(d)
}

func (r *retryLLM) GetModel() string { return r.next.GetModel() }
