package scraper

import (
	"context"
	"math/rand/v2"
	"time"
)

// maxBackoffShift caps the window growth at 16x the base window.
const maxBackoffShift = 4

// backoff is a randomized window that doubles with every retry. Randomizing
// keeps workers that were throttled together from retrying together.
type backoff struct {
	min time.Duration
	max time.Duration
}

func (b backoff) delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	lo := b.min << shift
	hi := b.max << shift
	return between(lo, hi)
}

// between returns a uniformly random duration in [lo, hi].
func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
