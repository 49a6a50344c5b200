package orchestrator

import (
	"math/rand"
	"time"
)

// backoffDelay returns the wait before retry number attempt (1-based):
// base doubled per attempt, capped at max, with ±20% jitter so a burst of
// failed shots does not retry in lockstep.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}
