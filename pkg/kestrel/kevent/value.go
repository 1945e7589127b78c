package kevent

import "fmt"

// ValueKind identifies which variant of Value is populated. Readers must
// check the kind before interpreting a Value — the zero Value is Null, not
// an all-zero int.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindI64
	KindU64
	KindF64
	KindBool
	KindBytes
	KindBuffer
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindI64:
		return "i64"
	case KindU64:
		return "u64"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Value is a self-describing typed value: a sum type over signed/unsigned
// 64-bit integers, a 64-bit float, a bool, an owned byte string, an owned
// byte buffer, and null. Values are immutable once constructed.
type Value struct {
	kind  ValueKind
	i64   int64
	u64   uint64
	f64   float64
	bytes []byte // used for both KindBytes (string-ish) and KindBuffer
}

// Null is the absent/empty sentinel value.
var Null = Value{kind: KindNull}

func I64(v int64) Value  { return Value{kind: KindI64, i64: v} }
func U64(v uint64) Value { return Value{kind: KindU64, u64: v} }
func F64(v float64) Value { return Value{kind: KindF64, f64: v} }
func Bool(v bool) Value {
	var i int64
	if v {
		i = 1
	}
	return Value{kind: KindBool, i64: i}
}

// Bytes constructs a byte-string value. The slice is retained, not copied —
// callers that build events from mutable buffers should copy first.
func Bytes(v []byte) Value { return Value{kind: KindBytes, bytes: v} }

// Buffer constructs an opaque byte-buffer value (e.g. raw binary payloads).
func Buffer(v []byte) Value { return Value{kind: KindBuffer, bytes: v} }

// Str is a convenience constructor for a byte-string value from a Go string.
func Str(s string) Value { return Value{kind: KindBytes, bytes: []byte(s)} }

// Kind reports which variant is populated.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null/absent sentinel.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsI64 returns the signed integer value and whether v is that kind.
func (v Value) AsI64() (int64, bool) {
	if v.kind != KindI64 {
		return 0, false
	}
	return v.i64, true
}

// AsU64 returns the unsigned integer value and whether v is that kind.
func (v Value) AsU64() (uint64, bool) {
	if v.kind != KindU64 {
		return 0, false
	}
	return v.u64, true
}

// AsF64 returns the float value and whether v is that kind.
func (v Value) AsF64() (float64, bool) {
	if v.kind != KindF64 {
		return 0, false
	}
	return v.f64, true
}

// AsBool returns the boolean value and whether v is that kind.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.i64 != 0, true
}

// AsBytes returns the byte-string payload and whether v is KindBytes.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// AsBuffer returns the byte-buffer payload and whether v is KindBuffer.
func (v Value) AsBuffer() ([]byte, bool) {
	if v.kind != KindBuffer {
		return nil, false
	}
	return v.bytes, true
}

// AsString is a convenience reader over KindBytes, most useful for string-ish
// fields such as process.executable.
func (v Value) AsString() (string, bool) {
	b, ok := v.AsBytes()
	if !ok {
		return "", false
	}
	return string(b), true
}

// String renders the value for diagnostics and log lines. It never panics
// regardless of kind.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "<null>"
	case KindI64:
		return fmt.Sprintf("%d", v.i64)
	case KindU64:
		return fmt.Sprintf("%d", v.u64)
	case KindF64:
		return fmt.Sprintf("%g", v.f64)
	case KindBool:
		return fmt.Sprintf("%t", v.i64 != 0)
	case KindBytes:
		return string(v.bytes)
	case KindBuffer:
		return fmt.Sprintf("<%d bytes>", len(v.bytes))
	default:
		return "<unknown>"
	}
}

// Equal compares two values for exact equality, including kind.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindI64, KindBool:
		return v.i64 == other.i64
	case KindU64:
		return v.u64 == other.u64
	case KindF64:
		return v.f64 == other.f64
	case KindBytes, KindBuffer:
		if len(v.bytes) != len(other.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != other.bytes[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
