package replay

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
)

// LogWriter appends framed event records to an io.Writer in the binary
// format of spec.md §6, after writing the fixed header exactly once.
type LogWriter struct {
	w io.Writer
}

// NewLogWriter writes the header and returns a LogWriter ready to accept
// records. firstTSMono should be the ts_mono of the first event that will
// be written, for the header's diagnostic field.
func NewLogWriter(w io.Writer, schemaVersion uint32, firstTSMono int64) (*LogWriter, error) {
	if err := writeHeader(w, Header{
		FormatVersion: CurrentFormatVersion,
		SchemaVersion: schemaVersion,
		FirstTSMono:   firstTSMono,
	}); err != nil {
		return nil, err
	}
	return &LogWriter{w: w}, nil
}

// WriteEvent appends one framed record: a 4-byte length prefix, the
// encoded event body, and a CRC32 trailer over the body.
func (lw *LogWriter) WriteEvent(evt *kevent.Event) error {
	body := encodeEvent(evt)

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := lw.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := lw.w.Write(body); err != nil {
		return err
	}

	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(body))
	_, err := lw.w.Write(trailer[:])
	return err
}
