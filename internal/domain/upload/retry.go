package upload

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy determines how retry delays grow between attempts.
type BackoffStrategy string

const (
	// BackoffFixed waits the same delay before every retry.
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffLinear grows the delay linearly with the attempt number.
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential doubles the delay with every attempt.
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds how often and how fast a failed transfer is retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffStrategy
	JitterFactor    float64
}

// DefaultRetryPolicy returns the policy applied to part transfers.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		BackoffStrategy: BackoffExponential,
		JitterFactor:    0.1,
	}
}

// CalculateDelay returns the backoff delay before the given retry attempt.
// Attempts are 1-indexed: the delay before attempt 1 is the initial delay.
func (p RetryPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.BackoffStrategy {
	case BackoffFixed:
		delay = p.InitialDelay
	case BackoffLinear:
		delay = time.Duration(attempt) * p.InitialDelay
	default:
		delay = time.Duration(math.Pow(2, float64(attempt-1)) * float64(p.InitialDelay))
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFactor > 0 {
		delay += time.Duration(rand.Float64() * p.JitterFactor * float64(delay))
	}
	return delay
}

// Wait blocks for the backoff delay before the given retry attempt. It
// returns early with the context error if the transfer is cancelled.
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	delay := p.CalculateDelay(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
