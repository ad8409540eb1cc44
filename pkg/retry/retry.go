package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy configures retry behavior
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Validate checks policy invariants
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative")
	}
	if p.InitialDelay <= 0 {
		return fmt.Errorf("initial delay must be positive")
	}
	if p.Multiplier < 1.0 {
		return fmt.Errorf("multiplier must be at least 1.0")
	}
	return nil
}

// FixedPolicy returns a policy with a constant delay between attempts
func FixedPolicy(maxRetries int, delay time.Duration) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: delay,
		MaxDelay:     delay,
		Multiplier:   1.0,
	}
}

// Retrier executes operations with bounded retries
type Retrier struct {
	policy Policy
}

// NewRetrier creates a retrier, panicking on an invalid policy
func NewRetrier(policy Policy) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	return &Retrier{policy: policy}
}

// Do executes operation until it succeeds, retries are exhausted,
// or the context is cancelled. The last error is returned on exhaustion.
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	delay := r.policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * r.policy.Multiplier)
			if delay > r.policy.MaxDelay {
				delay = r.policy.MaxDelay
			}
		}

		if lastErr = operation(); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", r.policy.MaxRetries+1, lastErr)
}
