package scan

import (
	"math"
	"time"
)

// resolvedRetryPolicy controls retries of scan workload *submission*
// (not of the scan itself) — a supplemented feature grounded on the
// teacher's jobs.resolvedRetryPolicy.
type resolvedRetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

func (p resolvedRetryPolicy) nextRetryDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	exponent := float64(failedAttempt - 1)
	delay := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, exponent))
	if delay <= 0 {
		delay = p.InitialBackoff
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
