// Package kevent defines Kestrel's immutable event representation: a typed,
// field-id-addressed record with a sorted sparse field list, plus the
// builder used to construct one.
//
// Design influences (see DESIGN.md): the teacher's event.Event interface
// (github.com/randalmurphal/flowgraph, pkg/flowgraph/event/event.go)
// supplied the immutable-record-with-options shape; the field storage and
// binary-search lookup are Kestrel-specific, driven by spec.md §3's
// requirement that field access be O(log n) with small events kept off the
// heap.
package kevent

import (
	"fmt"
	"sort"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// inlineCapacity is the number of fields an Event stores without spilling
// to a heap slice. Typical events carry 4-12 fields (spec.md §3); 8 covers
// the common case.
const inlineCapacity = 8

// EntityKey is an opaque 128-bit identity grouping events belonging to the
// same actor (e.g. a (pid, start_time) pair hashed together by the source).
type EntityKey [16]byte

// String renders the key as hex, for logs and diagnostics.
func (k EntityKey) String() string {
	return fmt.Sprintf("%x", [16]byte(k))
}

// IsZero reports whether the key is the zero value.
func (k EntityKey) IsZero() bool {
	return k == EntityKey{}
}

// EntityKeyFromUint64 builds an EntityKey from a single 64-bit value,
// placed in the low half. Convenient for tests and simple sources whose
// entity identity is already a single integer.
func EntityKeyFromUint64(v uint64) EntityKey {
	var k EntityKey
	for i := 0; i < 8; i++ {
		k[15-i] = byte(v >> (8 * i))
	}
	return k
}

// field pairs a field id with its value, the atomic unit of the sorted
// sparse field list.
type field struct {
	id    schema.FieldID
	value Value
}

// Event is an immutable record describing one observed system event. The
// field list is sorted ascending by FieldID with no duplicates; lookups use
// binary search. Events are value-semantic: copying an Event is safe, and
// Events may be read from multiple goroutines without synchronization.
type Event struct {
	eventType schema.EventTypeID
	tsMono    int64
	tsWall    int64
	entity    EntityKey
	id        uint64

	ninline  int
	inline   [inlineCapacity]field
	overflow []field // non-nil only when len(fields) > inlineCapacity
}

// EventType returns the event's type id.
func (e *Event) EventType() schema.EventTypeID { return e.eventType }

// TSMono returns the monotonic nanosecond timestamp. This is the canonical
// ordering key across the pipeline.
func (e *Event) TSMono() int64 { return e.tsMono }

// TSWall returns the wall-clock nanosecond timestamp, for display only.
func (e *Event) TSWall() int64 { return e.tsWall }

// EntityKey returns the 128-bit entity identity grouping this event with
// others from the same actor.
func (e *Event) EntityKey() EntityKey { return e.entity }

// ID returns the event's run-unique identifier. Zero means "not yet
// assigned" (only legal for events a replay source will ID-synthesize).
func (e *Event) ID() uint64 { return e.id }

// NumFields returns the number of fields carried by the event.
func (e *Event) NumFields() int {
	if e.overflow != nil {
		return len(e.overflow)
	}
	return e.ninline
}

func (e *Event) fieldAt(i int) field {
	if e.overflow != nil {
		return e.overflow[i]
	}
	return e.inline[i]
}

// GetField returns the value stored under id, and whether it was present.
// Lookup is binary search over the sorted field list: O(log n) comparisons,
// bounded by ceil(log2(n+1))+1 per spec.md §8.
func (e *Event) GetField(id schema.FieldID) (Value, bool) {
	n := e.NumFields()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		f := e.fieldAt(mid)
		switch {
		case f.id == id:
			return f.value, true
		case f.id < id:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return Null, false
}

// HasField reports presence without materializing the value.
func (e *Event) HasField(id schema.FieldID) bool {
	_, ok := e.GetField(id)
	return ok
}

// FieldIDs returns the sorted list of field ids present on the event. The
// returned slice is a fresh copy.
func (e *Event) FieldIDs() []schema.FieldID {
	n := e.NumFields()
	ids := make([]schema.FieldID, n)
	for i := 0; i < n; i++ {
		ids[i] = e.fieldAt(i).id
	}
	return ids
}

// CompareOrder reports whether a sorts before b under the canonical
// ordering: ts_mono ascending, event_id breaking ties.
func CompareOrder(a, b *Event) bool {
	if a.tsMono != b.tsMono {
		return a.tsMono < b.tsMono
	}
	return a.id < b.id
}

// Builder accumulates fields and produces an immutable Event on Build.
// Fields may be added in any order; Build sorts them. Setting the same
// FieldID twice is not an error: Set keeps only the last value.
type Builder struct {
	eventType schema.EventTypeID
	tsMono    int64
	tsWall    int64
	entity    EntityKey
	id        uint64
	fields    []field
}

// NewBuilder starts a builder for the given event type.
func NewBuilder(eventType schema.EventTypeID) *Builder {
	return &Builder{eventType: eventType}
}

// WithTimestamps sets the monotonic and wall-clock timestamps.
func (b *Builder) WithTimestamps(tsMono, tsWall int64) *Builder {
	b.tsMono = tsMono
	b.tsWall = tsWall
	return b
}

// WithEntityKey sets the grouping entity key.
func (b *Builder) WithEntityKey(k EntityKey) *Builder {
	b.entity = k
	return b
}

// WithEventID sets the run-unique event id. Leave at zero to have a replay
// source synthesize one; live sources must set a non-zero id (spec.md §6,
// §9 Open Questions).
func (b *Builder) WithEventID(id uint64) *Builder {
	b.id = id
	return b
}

// Set adds or overwrites a field. Overwriting within the same builder
// (before Build) is allowed and keeps only the last value; Build only
// rejects ids that are still duplicated after this collapse never happens
// because Set already collapses — duplicates only ever reach Build via
// direct field slice manipulation, which callers outside this package
// cannot do.
func (b *Builder) Set(id schema.FieldID, v Value) *Builder {
	for i := range b.fields {
		if b.fields[i].id == id {
			b.fields[i].value = v
			return b
		}
	}
	b.fields = append(b.fields, field{id: id, value: v})
	return b
}

// DuplicateFieldError is returned by Build when the same field id was added
// more than once in a way Set's overwrite semantics didn't already resolve
// (defensive — see Set's doc comment).
type DuplicateFieldError struct {
	FieldID schema.FieldID
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("duplicate field id %d in event builder", e.FieldID)
}

// Build sorts fields ascending by FieldID, validates there are no
// duplicates, and returns the immutable Event.
func (b *Builder) Build() (*Event, error) {
	sort.Slice(b.fields, func(i, j int) bool { return b.fields[i].id < b.fields[j].id })

	for i := 1; i < len(b.fields); i++ {
		if b.fields[i].id == b.fields[i-1].id {
			return nil, &DuplicateFieldError{FieldID: b.fields[i].id}
		}
	}

	evt := &Event{
		eventType: b.eventType,
		tsMono:    b.tsMono,
		tsWall:    b.tsWall,
		entity:    b.entity,
		id:        b.id,
	}

	if len(b.fields) <= inlineCapacity {
		evt.ninline = len(b.fields)
		copy(evt.inline[:], b.fields)
	} else {
		evt.overflow = append([]field(nil), b.fields...)
	}

	return evt, nil
}
