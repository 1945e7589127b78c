// Package replay implements Kestrel's deterministic replay substrate: the
// binary log codec of spec.md §6, a mock-time-capable clock, deterministic
// event-id synthesis, and a driver that feeds a recorded event stream
// through an Orchestrator in stored order.
//
// Grounded on the teacher's checkpoint package
// (github.com/randalmurphal/flowgraph, pkg/flowgraph/checkpoint/store.go):
// the Store interface's Save/Load/Close shape is the structural ancestor
// of LogWriter/LogReader, specialized from a keyed store to an append-only
// framed stream, plus (sqlite.go) the pure-Go modernc.org/sqlite,
// database/sql, and WAL-mode conventions reused verbatim for SQLiteLog.
package replay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the fixed on-disk size of a log header in bytes (spec.md
// §6: "fixed 32-byte header").
const HeaderSize = 32

// Magic identifies a Kestrel replay log. A file whose first 8 bytes do not
// match this is refused.
var Magic = [8]byte{'K', 'E', 'S', 'T', 'R', 'E', 'L', '1'}

// CurrentFormatVersion is the newest format version this build can read
// and write. A log declaring a newer version is refused.
const CurrentFormatVersion uint16 = 1

// HeaderFlagABINegotiated reserves a bit in the header's flags field for a
// future predicate-ABI negotiation handshake (spec.md §9 Open Questions).
// It is declared here so the bit has a stable meaning, but this
// implementation never sets it: no runtime/module ABI handshake exists
// yet to negotiate.
const HeaderFlagABINegotiated uint16 = 1 << 0

// Header is the fixed-size prefix of a replay log.
type Header struct {
	FormatVersion uint16
	Flags         uint16
	SchemaVersion uint32
	FirstTSMono   int64
	Reserved      int64
}

// ErrBadMagic indicates a file does not begin with the Kestrel magic.
type ErrBadMagic struct{}

func (ErrBadMagic) Error() string { return "replay: bad magic, not a Kestrel log" }

// ErrUnsupportedVersion indicates a log declares a format version newer
// than CurrentFormatVersion.
type ErrUnsupportedVersion struct{ Version uint16 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("replay: unsupported format version %d (max %d)", e.Version, CurrentFormatVersion)
}

// writeHeader encodes h, little-endian, to w.
func writeHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.FormatVersion)
	binary.LittleEndian.PutUint16(buf[10:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], h.SchemaVersion)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.FirstTSMono))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.Reserved))
	_, err := w.Write(buf)
	return err
}

// readHeader decodes a Header from r, refusing a bad magic or a newer
// format version (spec.md §6: "the engine refuses to open a log whose
// magic does not match or whose format_version is newer than it
// supports").
func readHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("replay: read header: %w", err)
	}
	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != Magic {
		return Header{}, ErrBadMagic{}
	}
	h := Header{
		FormatVersion: binary.LittleEndian.Uint16(buf[8:10]),
		Flags:         binary.LittleEndian.Uint16(buf[10:12]),
		SchemaVersion: binary.LittleEndian.Uint32(buf[12:16]),
		FirstTSMono:   int64(binary.LittleEndian.Uint64(buf[16:24])),
		Reserved:      int64(binary.LittleEndian.Uint64(buf[24:32])),
	}
	if h.FormatVersion > CurrentFormatVersion {
		return Header{}, ErrUnsupportedVersion{Version: h.FormatVersion}
	}
	return h, nil
}
