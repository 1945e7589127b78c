package replay

import "github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"

// Source yields recorded events in stored order. LogReader and SQLiteLog
// both implement it; Driver consumes whichever one it is given without
// caring which backend produced it.
type Source interface {
	// Next returns the next event in stored order, or io.EOF once
	// exhausted.
	Next() (*kevent.Event, error)
}
