package civcache

import (
	"math"
	"time"
)

// DecayFactor attenuates an effective score by elapsed absence. Within the
// grace period the factor is exactly 1.0; past it the factor falls
// exponentially at rate lambda, never below floor.
func DecayFactor(elapsed, grace time.Duration, lambda, floor float64) float64 {
	if elapsed <= grace {
		return 1.0
	}
	over := (elapsed - grace).Seconds()
	f := math.Exp(-lambda * over)
	if f < floor {
		return floor
	}
	return f
}

// RecoveryStep advances a presence timestamp toward now by the larger of
// minStep and fraction of the current gap, clamped to never pass now. Large
// gaps close in bounded time through the fixed minimum step; small gaps
// close proportionally.
func RecoveryStep(presence, now time.Time, fraction float64, minStep time.Duration) time.Time {
	gap := now.Sub(presence)
	if gap <= 0 {
		return now
	}
	step := time.Duration(float64(gap) * fraction)
	if step < minStep {
		step = minStep
	}
	if step > gap {
		step = gap
	}
	return presence.Add(step)
}
