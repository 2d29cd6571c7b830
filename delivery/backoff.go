package delivery

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialBackoff returns base * 2^attempt, capped at max (no cap when max <= 0).
// Negative attempts are treated as 0.
func ExponentialBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		if delay > math.MaxInt64/2 {
			delay = time.Duration(math.MaxInt64)
			break
		}
		delay *= 2
		if max > 0 && delay >= max {
			break
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// EqualJitter returns a random duration in [delay/2, delay].
func EqualJitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	half := delay / 2
	return half + time.Duration(rand.Int64N(int64(delay-half)+1))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
