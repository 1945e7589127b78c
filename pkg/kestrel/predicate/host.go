package predicate

import (
	"strconv"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// AlertContext is the captured state a predicate passes to alert_emit.
type AlertContext struct {
	PredicateID uint64
	Captures    map[string]kevent.Value
}

// hostContext is the call surface a compiled predicate tree is evaluated
// against: spec.md §4.3's event_get_*/event_has_field/re_match/glob_match/
// alert_emit calls, reduced from a WASM host-call ABI to direct Go method
// calls since the tree walker itself plays the role of the sandboxed
// interpreter. Kept deterministic per spec.md §4.3: no clocks, no I/O, no
// RNG are reachable from here.
type hostContext struct {
	event       *kevent.Event
	patterns    *PatternCache
	predicateID uint64

	// budget is decremented once per node visited; nil means unbounded,
	// used by the trusted backend which carries no CPU ceiling.
	budget *int64

	alerts []AlertContext
}

// chargeInstruction spends one instruction from the CPU budget and reports
// whether the budget still holds; it returns false once the budget goes
// negative. A nil budget is unbounded and always returns true.
func (h *hostContext) chargeInstruction() bool {
	if h.budget == nil {
		return true
	}
	*h.budget--
	return *h.budget >= 0
}

// eventGetI64 is event_get_i64: returns zero/false if absent or
// type-mismatched.
func (h *hostContext) eventGetI64(field schema.FieldID) (int64, bool) {
	v, ok := h.event.GetField(field)
	if !ok {
		return 0, false
	}
	return v.AsI64()
}

func (h *hostContext) eventGetU64(field schema.FieldID) (uint64, bool) {
	v, ok := h.event.GetField(field)
	if !ok {
		return 0, false
	}
	return v.AsU64()
}

func (h *hostContext) eventGetF64(field schema.FieldID) (float64, bool) {
	v, ok := h.event.GetField(field)
	if !ok {
		return 0, false
	}
	return v.AsF64()
}

func (h *hostContext) eventGetBool(field schema.FieldID) (bool, bool) {
	v, ok := h.event.GetField(field)
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// eventGetStr is event_get_str: returns the string field's content and
// whether it was present. The buf_ptr/buf_len truncation semantics of the
// wire ABI collapse here to returning the full string; callers that need a
// bounded copy slice it themselves.
func (h *hostContext) eventGetStr(field schema.FieldID) (string, bool) {
	v, ok := h.event.GetField(field)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// eventHasField is event_has_field: presence check without materializing a
// value.
func (h *hostContext) eventHasField(field schema.FieldID) bool {
	return h.event.HasField(field)
}

// eventGetValue returns a field's raw Value, for alert_emit's capture list,
// which is capture-kind-agnostic unlike the typed event_get_* calls above.
func (h *hostContext) eventGetValue(field schema.FieldID) (kevent.Value, bool) {
	return h.event.GetField(field)
}

// reMatch is re_match: match a field's string value against a host-side
// precompiled regex referenced by pattern id.
func (h *hostContext) reMatch(field schema.FieldID, patternID int) bool {
	s, ok := h.eventGetStr(field)
	if !ok {
		return false
	}
	return h.patterns.MatchRegex(patternID, s)
}

// globMatch is glob_match: same as reMatch for glob patterns.
func (h *hostContext) globMatch(field schema.FieldID, patternID int) bool {
	s, ok := h.eventGetStr(field)
	if !ok {
		return false
	}
	return h.patterns.MatchGlob(patternID, s)
}

// alertEmit is alert_emit: records an alert context, capturing
// captureFields' values off the current event, for the orchestrator to pick
// up after evaluation returns.
func (h *hostContext) alertEmit(captureFields []schema.FieldID) {
	captures := make(map[string]kevent.Value, len(captureFields))
	for _, f := range captureFields {
		if v, ok := h.eventGetValue(f); ok {
			captures[strconv.FormatUint(uint64(f), 10)] = v
		}
	}
	h.alerts = append(h.alerts, AlertContext{PredicateID: h.predicateID, Captures: captures})
}
