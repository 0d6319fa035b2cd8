package subscription

import "time"

// RetryPolicy governs how a Subscriber responds to a stream error: a short
// burst of exponentially-doubling immediate attempts, then a fallback to a
// periodic timer once those are exhausted. Mirrors the backoff shape of
// pkg/util/resiliency's retry loop, adapted from a bounded request retry to
// an unbounded reconnect-and-fall-back policy.
type RetryPolicy struct {
	ImmediateAttempts int
	InitialBackoff    time.Duration
	BackoffCeiling    time.Duration
	FallbackInterval  time.Duration
}

// DefaultRetryPolicy is spec.md §4.10's stream retry policy: exponential
// backoff starting at 1s and doubling, up to 3 immediate attempts, then a
// periodic 4 minute fallback timer.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ImmediateAttempts: 3,
		InitialBackoff:    time.Second,
		BackoffCeiling:    4 * time.Minute,
		FallbackInterval:  4 * time.Minute,
	}
}

// DelayForAttempt returns how long to wait before retry attempt n (0-indexed).
// The first ImmediateAttempts attempts double from InitialBackoff, capped at
// BackoffCeiling; attempts beyond that fall back to the fixed interval.
func (p RetryPolicy) DelayForAttempt(n int) time.Duration {
	if n >= p.ImmediateAttempts {
		return p.FallbackInterval
	}
	delay := p.InitialBackoff
	for i := 0; i < n; i++ {
		delay *= 2
		if delay > p.BackoffCeiling {
			delay = p.BackoffCeiling
			break
		}
	}
	return delay
}
