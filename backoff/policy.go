package backoff

import "time"

// Policy is the retry configuration attached to a step by its workflow
// definition. It is never persisted; the definition supplies it on every
// invocation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1 (no retries).
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Rate is the exponential growth factor between retries.
	// Values <= 1 are treated as 2.
	Rate float64

	// MaxDelay caps the computed delay. Zero means no cap.
	MaxDelay time.Duration

	// NonRetryable classifies errors that must not be retried regardless
	// of remaining attempts. Nil means every error is retryable.
	NonRetryable func(error) bool
}

// Decision is the outcome of evaluating a Policy against a failed attempt.
type Decision struct {
	// Retry reports whether another attempt should be made.
	Retry bool

	// Delay is how long to wait before the next attempt. Zero when
	// Retry is false.
	Delay time.Duration
}

// DefaultPolicy returns the retry policy applied to steps that do not
// declare one: 3 attempts, 1s base delay, rate 2, capped at 1m.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Rate:        2.0,
		MaxDelay:    1 * time.Minute,
	}
}

// Evaluate is the pure retry decision function: given the number of
// attempts already made and the error that failed the latest one, it
// returns whether to retry and after what delay.
//
// The delay for retry k (1-indexed) is BaseDelay * Rate^(k-1), capped
// at MaxDelay.
func (p Policy) Evaluate(attempt int, err error) Decision {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if attempt >= maxAttempts {
		return Decision{}
	}
	if err != nil && p.NonRetryable != nil && p.NonRetryable(err) {
		return Decision{}
	}

	return Decision{Retry: true, Delay: p.strategy().Delay(attempt)}
}

// strategy returns the delay schedule for this policy.
func (p Policy) strategy() Strategy {
	return NewExponential(p.BaseDelay, p.Rate, p.MaxDelay)
}
