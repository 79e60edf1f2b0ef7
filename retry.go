package procflow

import (
	"time"
)

// RetryPolicy controls how an action is retried inside its node before the
// failure puts the instance into ERROR.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	// MaxBackoff caps the delay; zero means no cap.
	MaxBackoff time.Duration
}

// delay returns the wait before attempt+1, attempt counting from 1.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		if p.BackoffMultiplier > 0 {
			d = time.Duration(float64(d) * p.BackoffMultiplier)
		}
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for use with ProcessBuilder.ActionWithRetry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder with the given maxAttempts.
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{
		policy: RetryPolicy{
			MaxAttempts: maxAttempts,
		},
	}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = initial
	p.MaxBackoff = max
	if multiplier <= 0 {
		multiplier = 2.0
	}
	p.BackoffMultiplier = multiplier
	return RetryBuilder{policy: p}
}

// WithConstantBackoff configures a constant backoff between retries.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	p := r.policy
	p.InitialBackoff = delay
	p.MaxBackoff = 0
	p.BackoffMultiplier = 1.0
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries.
// Retries will still respect MaxAttempts.
func (r RetryBuilder) Immediate() RetryBuilder {
	p := r.policy
	p.InitialBackoff = 0
	p.MaxBackoff = 0
	p.BackoffMultiplier = 0
	return RetryBuilder{policy: p}
}

// Policy returns the underlying RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}

// Wrap returns an action that runs fn up to MaxAttempts times. The action
// holds the instance lock while it waits, so backoffs should stay short.
// A cancelled context stops the retries with the last error.
func (r RetryBuilder) Wrap(fn ActionFunc) ActionFunc {
	p := r.policy
	return func(ac ActionContext) error {
		var err error
		for attempt := 1; ; attempt++ {
			if err = fn(ac); err == nil || attempt >= p.MaxAttempts {
				return err
			}
			d := p.delay(attempt)
			if d <= 0 {
				continue
			}
			t := time.NewTimer(d)
			select {
			case <-ac.Context().Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}
	}
}
