package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff doubles base for every attempt after the first and spreads the result
// by up to ±jitter (a fraction, 0.2 meaning 20%).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = max(attempt, 1)
	d := base << min(attempt-1, 16)
	if jitter <= 0 {
		return d
	}
	spread := (rand.Float64()*2 - 1) * jitter * float64(d)
	return d + time.Duration(spread)
}
