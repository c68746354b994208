package workflow

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy computes retry delays for failed stage attempts.
type RetryPolicy struct {
	base time.Duration
	cap  time.Duration
}

// NewRetryPolicy builds a policy with the given base and ceiling.
func NewRetryPolicy(base, cap time.Duration) RetryPolicy {
	if base <= 0 {
		base = time.Minute
	}
	if cap < base {
		cap = base
	}
	return RetryPolicy{base: base, cap: cap}
}

// DelayForAttempt returns the wait before retry attempt n (1-based). The
// curve doubles from the base up to the cap. RandomizationFactor is zeroed so
// the schedule is reproducible; operators reading timestamps in the queue can
// predict the next run.
func (p RetryPolicy) DelayForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.base
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = p.cap
	bo.MaxElapsedTime = 0
	// The constructor snapshots the current interval from the defaults, so
	// the configured base only takes effect after a reset.
	bo.Reset()

	delay := bo.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	if delay > p.cap {
		delay = p.cap
	}
	return delay
}
