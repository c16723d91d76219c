package civcache

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecayFactor_GracePeriod(t *testing.T) {
	lambda := math.Ln2 / (10 * time.Hour).Seconds()
	require.Equal(t, 1.0, DecayFactor(0, 6*time.Hour, lambda, 0.35))
	require.Equal(t, 1.0, DecayFactor(6*time.Hour, 6*time.Hour, lambda, 0.35))
}

func TestDecayFactor_BarelyPastGrace(t *testing.T) {
	// Presence 6h1s ago, grace 6h, 10h half-life: decay has barely begun.
	lambda := math.Ln2 / (10 * time.Hour).Seconds()
	f := DecayFactor(6*time.Hour+time.Second, 6*time.Hour, lambda, 0.35)
	require.InDelta(t, 0.99998, f, 0.00001)
}

func TestDecayFactor_Monotonic(t *testing.T) {
	lambda := math.Ln2 / (10 * time.Hour).Seconds()
	grace := 6 * time.Hour
	prev := 1.0
	for h := 7; h <= 80; h++ {
		f := DecayFactor(time.Duration(h)*time.Hour, grace, lambda, 0.35)
		require.LessOrEqual(t, f, prev, "factor must not increase with elapsed time")
		require.GreaterOrEqual(t, f, 0.35, "factor must not fall below the floor")
		prev = f
	}
	// Far past grace the floor holds exactly.
	require.Equal(t, 0.35, DecayFactor(1000*time.Hour, grace, lambda, 0.35))
}

func TestRecoveryStep_Converges(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	presence := now.Add(-48 * time.Hour)

	steps := 0
	for presence.Before(now) {
		next := RecoveryStep(presence, now, 0.25, 15*time.Minute)
		require.True(t, next.After(presence), "each step must strictly advance")
		require.False(t, next.After(now), "presence must never pass now")
		presence = next
		steps++
		require.Less(t, steps, 10_000, "recovery must converge")
	}
	require.Equal(t, now, presence)
}

func TestRecoveryStep_MinStepBoundsLargeGaps(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	// Small gap: proportional step.
	presence := now.Add(-time.Hour)
	next := RecoveryStep(presence, now, 0.25, 15*time.Minute)
	require.Equal(t, presence.Add(15*time.Minute), next) // min step wins over 15m vs 15m tie

	// Tiny gap: clamped to now.
	presence = now.Add(-time.Minute)
	require.Equal(t, now, RecoveryStep(presence, now, 0.25, 15*time.Minute))

	// Large gap: fraction wins.
	presence = now.Add(-100 * time.Hour)
	require.Equal(t, presence.Add(25*time.Hour), RecoveryStep(presence, now, 0.25, 15*time.Minute))
}
