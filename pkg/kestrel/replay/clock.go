package replay

import (
	"sync"
	"time"
)

// Clock abstracts ambient time for anything running alongside replay that
// is not itself part of the deterministic correctness path — for example a
// periodic TTL sweep. The NFA engine's own notion of "now" is always the
// triggering event's ts_mono (see nfa.Engine.Process), never this Clock:
// replay determinism comes from replaying stored ts_mono values, not from
// controlling a wall-clock substitute.
//
// Grounded on roach88-nysm/brutalist's engine.Clock (atomic monotonic
// counter) and testutil.DeterministicClock (mutex-guarded, resettable),
// generalized here from a logical sequence counter to nanosecond time.
type Clock interface {
	NowNs() int64
}

// RealClock reports actual wall-clock time.
type RealClock struct{}

func (RealClock) NowNs() int64 { return time.Now().UnixNano() }

// MockClock is a settable, resettable clock for deterministic tests and
// replay-adjacent tooling.
type MockClock struct {
	mu  sync.Mutex
	now int64
}

// NewMockClock returns a MockClock starting at startNs.
func NewMockClock(startNs int64) *MockClock {
	return &MockClock{now: startNs}
}

func (c *MockClock) NowNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set pins the clock to nowNs.
func (c *MockClock) Set(nowNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = nowNs
}

// Advance moves the clock forward by deltaNs and returns the new value.
func (c *MockClock) Advance(deltaNs int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += deltaNs
	return c.now
}
