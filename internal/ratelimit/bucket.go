package ratelimit

import "time"

// bucket is a token bucket refilled to capacity once per period. Refill is
// periodic, never continuous, and tokens never go negative.
type bucket struct {
	capacity    int
	tokens      int
	period      time.Duration
	windowStart time.Time
}

func newBucket(capacity int, period time.Duration, now time.Time) *bucket {
	return &bucket{
		capacity:    capacity,
		tokens:      capacity,
		period:      period,
		windowStart: now,
	}
}

// refill resets the bucket when at least one full period elapsed. The window
// start advances by whole periods so refills stay aligned.
func (b *bucket) refill(now time.Time) {
	if b.period <= 0 {
		return
	}
	elapsed := now.Sub(b.windowStart)
	if elapsed < b.period {
		return
	}
	b.tokens = b.capacity
	b.windowStart = b.windowStart.Add(elapsed / b.period * b.period)
}

func (b *bucket) take() bool {
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (b *bucket) give() {
	if b.tokens < b.capacity {
		b.tokens++
	}
}
