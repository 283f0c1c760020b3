// Package binding serializes entity definitions, index declarations and
// entity records as flat tuples of primitives.
package binding

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/devrev/entitydb/internal/errors"
)

// TupleOutput appends primitives to a growing buffer. Fixed-width
// numbers are big-endian; strings and byte slices are length-prefixed.
type TupleOutput struct {
	buf []byte
}

// NewTupleOutput creates an empty output.
func NewTupleOutput() *TupleOutput {
	return &TupleOutput{buf: make([]byte, 0, 128)}
}

func (o *TupleOutput) WriteFast(b byte) {
	o.buf = append(o.buf, b)
}

func (o *TupleOutput) WriteBoolean(v bool) {
	if v {
		o.buf = append(o.buf, 1)
		return
	}
	o.buf = append(o.buf, 0)
}

func (o *TupleOutput) WriteInt(v int32) {
	o.buf = binary.BigEndian.AppendUint32(o.buf, uint32(v))
}

func (o *TupleOutput) WriteLong(v int64) {
	o.buf = binary.BigEndian.AppendUint64(o.buf, uint64(v))
}

func (o *TupleOutput) WriteFloat(v float32) {
	o.buf = binary.BigEndian.AppendUint32(o.buf, math.Float32bits(v))
}

func (o *TupleOutput) WriteDouble(v float64) {
	o.buf = binary.BigEndian.AppendUint64(o.buf, math.Float64bits(v))
}

func (o *TupleOutput) WriteUvarint(v uint64) {
	o.buf = binary.AppendUvarint(o.buf, v)
}

func (o *TupleOutput) WriteBytes(b []byte) {
	o.WriteUvarint(uint64(len(b)))
	o.buf = append(o.buf, b...)
}

func (o *TupleOutput) WriteString(s string) {
	o.WriteUvarint(uint64(len(s)))
	o.buf = append(o.buf, s...)
}

// Bytes returns the encoded tuple.
func (o *TupleOutput) Bytes() []byte {
	return o.buf
}

// TupleInput reads primitives written by TupleOutput. The first failure
// is sticky: later reads return zero values and Err reports it.
type TupleInput struct {
	buf []byte
	pos int
	err error
}

// NewTupleInput wraps b for reading.
func NewTupleInput(b []byte) *TupleInput {
	return &TupleInput{buf: b}
}

// Err returns the first read failure.
func (in *TupleInput) Err() error {
	return in.err
}

// Remaining returns the number of unread bytes.
func (in *TupleInput) Remaining() int {
	return len(in.buf) - in.pos
}

func (in *TupleInput) take(n int, what string) []byte {
	if in.err != nil {
		return nil
	}
	if n < 0 || in.Remaining() < n {
		in.err = errors.CorruptedData(fmt.Sprintf("tuple truncated reading %s at offset %d", what, in.pos), nil).
			WithDetail("offset", in.pos)
		return nil
	}
	b := in.buf[in.pos : in.pos+n]
	in.pos += n
	return b
}

func (in *TupleInput) ReadFast() byte {
	b := in.take(1, "byte")
	if b == nil {
		return 0
	}
	return b[0]
}

func (in *TupleInput) ReadBoolean() bool {
	b := in.take(1, "boolean")
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	}
	in.fail(fmt.Sprintf("invalid boolean byte 0x%02x", b[0]))
	return false
}

func (in *TupleInput) ReadInt() int32 {
	b := in.take(4, "int")
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (in *TupleInput) ReadLong() int64 {
	b := in.take(8, "long")
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (in *TupleInput) ReadFloat() float32 {
	b := in.take(4, "float")
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func (in *TupleInput) ReadDouble() float64 {
	b := in.take(8, "double")
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (in *TupleInput) ReadUvarint() uint64 {
	if in.err != nil {
		return 0
	}
	v, n := binary.Uvarint(in.buf[in.pos:])
	if n <= 0 {
		in.fail("invalid uvarint")
		return 0
	}
	in.pos += n
	return v
}

// ReadCount reads a non-negative element count and rejects counts that
// could not fit in the remaining input at minSize bytes per element.
func (in *TupleInput) ReadCount(minSize int) int {
	n := in.ReadInt()
	if in.err != nil {
		return 0
	}
	if n < 0 || (minSize > 0 && int(n) > in.Remaining()/minSize) {
		in.fail(fmt.Sprintf("implausible element count %d", n))
		return 0
	}
	return int(n)
}

func (in *TupleInput) ReadBytes() []byte {
	n := in.ReadUvarint()
	if in.err != nil {
		return nil
	}
	if n > uint64(in.Remaining()) {
		in.fail(fmt.Sprintf("byte slice length %d exceeds remaining input", n))
		return nil
	}
	b := in.take(int(n), "bytes")
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (in *TupleInput) ReadString() string {
	n := in.ReadUvarint()
	if in.err != nil {
		return ""
	}
	if n > uint64(in.Remaining()) {
		in.fail(fmt.Sprintf("string length %d exceeds remaining input", n))
		return ""
	}
	return string(in.take(int(n), "string"))
}

func (in *TupleInput) fail(msg string) {
	if in.err == nil {
		in.err = errors.CorruptedData(msg, nil).WithDetail("offset", in.pos)
	}
}
