package nfa

import (
	"sync"
	"sync/atomic"
	"time"
)

// budgetWindow is one sequence's rolling one-second evaluation budget:
// an evaluation count and a nanosecond time accumulator, reset every
// second. Grounded on spec.md §4.4's "Budget updates use relaxed atomic
// counters — approximate accounting is acceptable in exchange for no lock
// contention on the hot path."
type budgetWindow struct {
	windowStartNs atomic.Int64
	evalCount     atomic.Int64
	evalNanos     atomic.Int64
}

// BudgetTracker enforces a per-sequence quota on evaluations/second or
// nanoseconds/second, shedding evaluations for the remainder of the
// window once exceeded.
type BudgetTracker struct {
	maxEvalsPerSec int64
	maxNanosPerSec int64

	mu      sync.RWMutex
	windows map[uint64]*budgetWindow
}

// NewBudgetTracker creates a tracker with the given per-second ceilings
// (<=0 disables that ceiling).
func NewBudgetTracker(maxEvalsPerSec, maxNanosPerSec int64) *BudgetTracker {
	return &BudgetTracker{
		maxEvalsPerSec: maxEvalsPerSec,
		maxNanosPerSec: maxNanosPerSec,
		windows:        make(map[uint64]*budgetWindow),
	}
}

func (b *BudgetTracker) windowFor(sequenceID uint64) *budgetWindow {
	b.mu.RLock()
	w, ok := b.windows[sequenceID]
	b.mu.RUnlock()
	if ok {
		return w
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[sequenceID]; ok {
		return w
	}
	w = &budgetWindow{}
	b.windows[sequenceID] = w
	return w
}

// Allow reports whether sequenceID may spend an evaluation right now,
// rolling the window over if a second has elapsed since it started.
func (b *BudgetTracker) Allow(sequenceID uint64, nowNs int64) bool {
	if b.maxEvalsPerSec <= 0 && b.maxNanosPerSec <= 0 {
		return true
	}
	w := b.windowFor(sequenceID)

	if nowNs-w.windowStartNs.Load() >= int64(time.Second) {
		w.windowStartNs.Store(nowNs)
		w.evalCount.Store(0)
		w.evalNanos.Store(0)
	}

	if b.maxEvalsPerSec > 0 && w.evalCount.Load() >= b.maxEvalsPerSec {
		return false
	}
	if b.maxNanosPerSec > 0 && w.evalNanos.Load() >= b.maxNanosPerSec {
		return false
	}
	return true
}

// Record charges one evaluation of the given duration against
// sequenceID's window.
func (b *BudgetTracker) Record(sequenceID uint64, durationNs int64) {
	w := b.windowFor(sequenceID)
	w.evalCount.Add(1)
	w.evalNanos.Add(durationNs)
}
