package replay

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// encodeEvent serializes evt to its on-disk record body: event type, both
// timestamps, entity key, event id, field count, then each field as
// (field id, kind byte, value bytes).
func encodeEvent(evt *kevent.Event) []byte {
	n := evt.NumFields()
	ids := evt.FieldIDs()

	buf := make([]byte, 0, 2+8+8+16+8+4+n*16)
	buf = appendUint16(buf, uint16(evt.EventType()))
	buf = appendInt64(buf, evt.TSMono())
	buf = appendInt64(buf, evt.TSWall())

	entity := evt.EntityKey()
	buf = append(buf, entity[:]...)
	buf = appendUint64(buf, evt.ID())
	buf = appendUint32(buf, uint32(n))

	for _, id := range ids {
		v, _ := evt.GetField(id)
		buf = appendUint32(buf, uint32(id))
		buf = append(buf, byte(v.Kind()))
		buf = appendValue(buf, v)
	}
	return buf
}

// decodeEvent reverses encodeEvent, building an Event through Builder.
// overrideID, if non-zero, replaces a zero event id from the record (used
// by Source's deterministic id synthesis).
func decodeEvent(data []byte, overrideID uint64) (*kevent.Event, error) {
	if len(data) < 2+8+8+16+8+4 {
		return nil, fmt.Errorf("replay: record too short (%d bytes)", len(data))
	}
	off := 0
	eventType := schema.EventTypeID(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	tsMono := int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8
	tsWall := int64(binary.LittleEndian.Uint64(data[off:]))
	off += 8

	var entity kevent.EntityKey
	copy(entity[:], data[off:off+16])
	off += 16

	id := binary.LittleEndian.Uint64(data[off:])
	off += 8
	if id == 0 {
		id = overrideID
	}

	numFields := binary.LittleEndian.Uint32(data[off:])
	off += 4

	b := kevent.NewBuilder(eventType).
		WithTimestamps(tsMono, tsWall).
		WithEntityKey(entity).
		WithEventID(id)

	for i := uint32(0); i < numFields; i++ {
		if off+5 > len(data) {
			return nil, fmt.Errorf("replay: truncated field header at field %d", i)
		}
		fid := schema.FieldID(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		kind := kevent.ValueKind(data[off])
		off++

		v, consumed, err := decodeValue(kind, data[off:])
		if err != nil {
			return nil, err
		}
		off += consumed
		b.Set(fid, v)
	}

	evt, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("replay: rebuild event: %w", err)
	}
	return evt, nil
}

func appendValue(buf []byte, v kevent.Value) []byte {
	switch v.Kind() {
	case kevent.KindI64:
		i, _ := v.AsI64()
		return appendInt64(buf, i)
	case kevent.KindU64:
		u, _ := v.AsU64()
		return appendUint64(buf, u)
	case kevent.KindF64:
		f, _ := v.AsF64()
		return appendUint64(buf, math.Float64bits(f))
	case kevent.KindBool:
		bl, _ := v.AsBool()
		if bl {
			return append(buf, 1)
		}
		return append(buf, 0)
	case kevent.KindBytes:
		b, _ := v.AsBytes()
		return appendBytes(buf, b)
	case kevent.KindBuffer:
		b, _ := v.AsBuffer()
		return appendBytes(buf, b)
	default:
		return buf
	}
}

func decodeValue(kind kevent.ValueKind, data []byte) (kevent.Value, int, error) {
	switch kind {
	case kevent.KindI64:
		if len(data) < 8 {
			return kevent.Null, 0, fmt.Errorf("replay: truncated i64 value")
		}
		return kevent.I64(int64(binary.LittleEndian.Uint64(data))), 8, nil
	case kevent.KindU64:
		if len(data) < 8 {
			return kevent.Null, 0, fmt.Errorf("replay: truncated u64 value")
		}
		return kevent.U64(binary.LittleEndian.Uint64(data)), 8, nil
	case kevent.KindF64:
		if len(data) < 8 {
			return kevent.Null, 0, fmt.Errorf("replay: truncated f64 value")
		}
		return kevent.F64(math.Float64frombits(binary.LittleEndian.Uint64(data))), 8, nil
	case kevent.KindBool:
		if len(data) < 1 {
			return kevent.Null, 0, fmt.Errorf("replay: truncated bool value")
		}
		return kevent.Bool(data[0] != 0), 1, nil
	case kevent.KindBytes, kevent.KindBuffer:
		if len(data) < 4 {
			return kevent.Null, 0, fmt.Errorf("replay: truncated byte-string length")
		}
		n := binary.LittleEndian.Uint32(data)
		if uint32(len(data)-4) < n {
			return kevent.Null, 0, fmt.Errorf("replay: truncated byte-string payload")
		}
		b := append([]byte(nil), data[4:4+n]...)
		if kind == kevent.KindBytes {
			return kevent.Bytes(b), int(4 + n), nil
		}
		return kevent.Buffer(b), int(4 + n), nil
	case kevent.KindNull:
		return kevent.Null, 0, nil
	default:
		return kevent.Null, 0, fmt.Errorf("replay: unknown value kind %d", kind)
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}
