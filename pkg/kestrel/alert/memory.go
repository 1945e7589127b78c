package alert

import (
	"context"
	"sync"
)

// MemorySink accumulates alerts in process memory, in arrival order.
// Suitable for tests and the replay example program, the same role the
// teacher's InMemoryDLQ plays for failed events.
type MemorySink struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

// Alerts returns a copy of every alert emitted so far, in arrival order.
func (s *MemorySink) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len returns the number of alerts emitted so far.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}
