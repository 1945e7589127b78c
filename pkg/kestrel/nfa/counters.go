package nfa

import "sync"

// EvictionCounters tracks per-reason eviction counts for diagnostics
// (spec.md §4.4.1: "eviction reasons are observable... as counters").
type EvictionCounters struct {
	mu     sync.Mutex
	counts map[EvictionReason]uint64
}

// NewEvictionCounters creates an empty counter set.
func NewEvictionCounters() *EvictionCounters {
	return &EvictionCounters{counts: make(map[EvictionReason]uint64)}
}

// Inc increments the counter for reason.
func (c *EvictionCounters) Inc(reason EvictionReason) {
	c.mu.Lock()
	c.counts[reason]++
	c.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (c *EvictionCounters) Snapshot() map[EvictionReason]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[EvictionReason]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
