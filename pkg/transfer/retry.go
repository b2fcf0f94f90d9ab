package transfer

import (
	"time"

	"github.com/nostalgiatan/bey-sub000/config"
)

// retryDelay computes the backoff before attempt (1-based) per the
// configured retry policy, per spec.md §4.J.
func retryDelay(policy config.RetryPolicy, attempt int) time.Duration {
	var d time.Duration
	switch policy.DelayKind {
	case config.RetryDelayLinear:
		d = policy.Base + time.Duration(attempt-1)*policy.Increment
	case config.RetryDelayFixed:
		d = policy.Base
	case config.RetryDelayExponential:
		fallthrough
	default:
		d = policy.Base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	}
	if policy.Max > 0 && d > policy.Max {
		d = policy.Max
	}
	return d
}
