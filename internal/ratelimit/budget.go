package ratelimit

import (
	"sync"
	"time"

	"github.com/amoylab/riderwatch/internal/common/config"
)

// Budget is one tenant's global bucket plus its three priority sub-buckets.
// A single mutex covers all four so the debit/refund pair is atomic.
type Budget struct {
	mu       sync.Mutex
	global   *bucket
	priority [len(priorities)]*bucket

	// net consumption since creation, refunds subtracted
	globalConsumed   int64
	priorityConsumed [len(priorities)]int64
}

func newBudget(cfg config.RateLimitConfig, now time.Time) *Budget {
	b := &Budget{global: newBucket(cfg.Capacity, cfg.RefillPeriod, now)}
	b.priority[High] = newBucket(cfg.High, cfg.RefillPeriod, now)
	b.priority[Medium] = newBucket(cfg.Medium, cfg.RefillPeriod, now)
	b.priority[Low] = newBucket(cfg.Low, cfg.RefillPeriod, now)
	return b
}

// tryConsume debits the global bucket, then the priority bucket. When the
// priority bucket is empty the global debit is credited back.
func (b *Budget) tryConsume(p Priority, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.global.refill(now)
	for _, pb := range b.priority {
		pb.refill(now)
	}

	if !b.global.take() {
		return false
	}
	b.globalConsumed++
	if !b.priority[p].take() {
		b.global.give()
		b.globalConsumed--
		return false
	}
	b.priorityConsumed[p]++
	return true
}

// Snapshot is a consistent view of a tenant budget
type Snapshot struct {
	GlobalAvailable  int
	Available        map[Priority]int
	GlobalConsumed   int64
	PriorityConsumed map[Priority]int64
}

func (b *Budget) snapshot(now time.Time) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.global.refill(now)
	s := Snapshot{
		GlobalAvailable:  b.global.tokens,
		GlobalConsumed:   b.globalConsumed,
		Available:        make(map[Priority]int, len(priorities)),
		PriorityConsumed: make(map[Priority]int64, len(priorities)),
	}
	for _, p := range priorities {
		b.priority[p].refill(now)
		s.Available[p] = b.priority[p].tokens
		s.PriorityConsumed[p] = b.priorityConsumed[p]
	}
	return s
}
