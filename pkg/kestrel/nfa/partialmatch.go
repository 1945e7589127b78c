package nfa

import "github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"

// PartialMatch is one in-progress (sequence_id, entity_key, current_state)
// match, per spec.md §3.
type PartialMatch struct {
	SequenceID   uint64
	EntityKey    kevent.EntityKey
	CurrentState int

	StartedAtNs  int64
	ExpiresAtNs  int64 // math.MaxInt64 sentinel for "no maxspan"
	LastTouchNs  int64

	Captures  map[string]kevent.Value
	EventIDs  []uint64
	Terminated bool
}

// expired reports whether this match's window has closed as of t.
func (m *PartialMatch) expired(t int64) bool {
	return t > m.ExpiresAtNs
}

// mergeCaptures copies src into the match's capture map, creating it if
// necessary.
func (m *PartialMatch) mergeCaptures(src map[string]kevent.Value) {
	if len(src) == 0 {
		return
	}
	if m.Captures == nil {
		m.Captures = make(map[string]kevent.Value, len(src))
	}
	for k, v := range src {
		m.Captures[k] = v
	}
}
