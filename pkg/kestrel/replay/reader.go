package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync/atomic"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
)

// ErrCorruptRecord indicates a record's CRC32 trailer did not match its
// body — an unrecoverable replay-log corruption (spec.md §7: a fatal
// condition).
type ErrCorruptRecord struct{ Offset int64 }

func (e ErrCorruptRecord) Error() string {
	return fmt.Sprintf("replay: corrupt record at offset %d: crc mismatch", e.Offset)
}

// ErrNonMonotonic indicates a record's ts_mono is lower than the previous
// record's, violating spec.md §6's "ts_mono MUST be non-decreasing within
// the file".
type ErrNonMonotonic struct {
	Offset   int64
	Previous int64
	Got      int64
}

func (e ErrNonMonotonic) Error() string {
	return fmt.Sprintf("replay: ts_mono went backward at offset %d: %d -> %d", e.Offset, e.Previous, e.Got)
}

// LogReader reads framed event records from a Kestrel replay log in file
// order, synthesizing event ids deterministically for any record that
// stored a zero id (spec.md §9 Open Questions: replay-only id synthesis).
type LogReader struct {
	r      io.Reader
	Header Header

	offset   int64
	lastTS   int64
	haveLast bool
	idGen    atomic.Uint64
}

// NewLogReader reads and validates the header, returning a ready reader.
func NewLogReader(r io.Reader) (*LogReader, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	return &LogReader{r: r, Header: h, offset: HeaderSize}, nil
}

// Next reads the next event from the log, returning io.EOF once the
// stream is exhausted.
func (lr *LogReader) Next() (*kevent.Event, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(lr.r, lenPrefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("replay: read length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(lr.r, body); err != nil {
		return nil, fmt.Errorf("replay: read record body: %w", err)
	}

	var trailer [4]byte
	if _, err := io.ReadFull(lr.r, trailer[:]); err != nil {
		return nil, fmt.Errorf("replay: read record trailer: %w", err)
	}
	want := binary.LittleEndian.Uint32(trailer[:])
	if crc32.ChecksumIEEE(body) != want {
		return nil, ErrCorruptRecord{Offset: lr.offset}
	}
	recordOffset := lr.offset
	lr.offset += int64(4 + len(body) + 4)

	evt, err := decodeEvent(body, lr.nextSyntheticID())
	if err != nil {
		return nil, err
	}

	if lr.haveLast && evt.TSMono() < lr.lastTS {
		return nil, ErrNonMonotonic{Offset: recordOffset, Previous: lr.lastTS, Got: evt.TSMono()}
	}
	lr.lastTS = evt.TSMono()
	lr.haveLast = true

	return evt, nil
}

// nextSyntheticID returns the id decodeEvent should substitute for a
// record's zero event_id: a monotonic counter scoped to this reader,
// deterministic across runs of the same log.
func (lr *LogReader) nextSyntheticID() uint64 {
	return lr.idGen.Add(1)
}
