package connection

import "time"

// backoffDelay returns min(initial × 2^attempt, max).
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	delay := initial
	for i := 0; i < attempt; i++ {
		if delay > max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
