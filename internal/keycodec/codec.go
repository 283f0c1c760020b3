// Package keycodec encodes typed values into byte strings whose unsigned
// lexicographic order matches the natural order of the values. Encoded
// parts are self-delimiting, so composite keys are plain concatenations
// and compare part by part.
package keycodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
)

// Part tags. MIN and MAX only ever appear in bounds.
const (
	TagMin   byte = 0x00
	TagNull  byte = 0x01
	TagValue byte = 0x02
	TagMax   byte = 0xFF

	elemMore byte = 0x02
	elemEnd  byte = 0x01

	escByte  byte = 0x00
	escZero  byte = 0xFF
	escTerm  byte = 0x01
	signBit8 uint64 = 1 << 63
	signBit4 uint32 = 1 << 31
)

// AppendPart appends the encoding of v, typed as t, to dst. A non-nil
// collator replaces string payloads with collation sort keys.
func AppendPart(dst []byte, t model.FieldType, v interface{}, col *Collator) ([]byte, error) {
	if v == nil {
		return append(dst, TagNull), nil
	}
	if t.IsArray() {
		return appendArray(dst, t.BaseType(), v, col)
	}
	dst = append(dst, TagValue)
	return appendPayload(dst, t.BaseType(), v, col)
}

// EncodeValue returns the single-part encoding of v.
func EncodeValue(t model.FieldType, v interface{}) ([]byte, error) {
	return AppendPart(nil, t, v, nil)
}

// AppendMin appends the MIN sentinel, which sorts below every value including null.
func AppendMin(dst []byte) []byte {
	return append(dst, TagMin)
}

// AppendMax appends the MAX sentinel, which sorts above every value.
func AppendMax(dst []byte) []byte {
	return append(dst, TagMax)
}

// AppendPrefix appends the encoding of a string or blob prefix without its
// terminator, so every value starting with prefix carries it as a byte prefix.
func AppendPrefix(dst []byte, t model.FieldType, prefix interface{}) ([]byte, error) {
	dst = append(dst, TagValue)
	switch t.BaseType() {
	case model.TypeString, model.TypeText:
		s, ok := prefix.(string)
		if !ok {
			return nil, mismatch(t, prefix)
		}
		return appendEscaped(dst, []byte(s)), nil
	case model.TypeBlob:
		b, ok := prefix.([]byte)
		if !ok {
			return nil, mismatch(t, prefix)
		}
		return appendEscaped(dst, b), nil
	default:
		return appendPayload(dst, t.BaseType(), prefix, nil)
	}
}

func appendArray(dst []byte, base model.FieldType, v interface{}, col *Collator) ([]byte, error) {
	elems, err := arrayElems(v)
	if err != nil {
		return nil, err
	}
	dst = append(dst, TagValue)
	for _, e := range elems {
		dst = append(dst, elemMore)
		if dst, err = AppendPart(dst, base, e, col); err != nil {
			return nil, err
		}
	}
	return append(dst, elemEnd), nil
}

func appendPayload(dst []byte, base model.FieldType, v interface{}, col *Collator) ([]byte, error) {
	switch base {
	case model.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(base, v)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case model.TypeInt:
		n, ok := v.(int32)
		if !ok {
			return nil, mismatch(base, v)
		}
		return binary.BigEndian.AppendUint32(dst, uint32(n)^signBit4), nil
	case model.TypeLong:
		n, ok := v.(int64)
		if !ok {
			return nil, mismatch(base, v)
		}
		return appendLong(dst, n), nil
	case model.TypeFloat:
		f, ok := v.(float32)
		if !ok {
			return nil, mismatch(base, v)
		}
		if f == 0 {
			f = 0 // fold -0 onto +0
		}
		bits := math.Float32bits(f)
		if bits&signBit4 != 0 {
			bits = ^bits
		} else {
			bits |= signBit4
		}
		return binary.BigEndian.AppendUint32(dst, bits), nil
	case model.TypeDouble:
		f, ok := v.(float64)
		if !ok {
			return nil, mismatch(base, v)
		}
		if f == 0 {
			f = 0
		}
		bits := math.Float64bits(f)
		if bits&signBit8 != 0 {
			bits = ^bits
		} else {
			bits |= signBit8
		}
		return binary.BigEndian.AppendUint64(dst, bits), nil
	case model.TypeString, model.TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch(base, v)
		}
		if col != nil {
			return appendTerminated(dst, col.Key(s)), nil
		}
		return appendTerminated(dst, []byte(s)), nil
	case model.TypeDate:
		t, ok := v.(time.Time)
		if !ok {
			return nil, mismatch(base, v)
		}
		return appendLong(dst, t.UnixMilli()), nil
	case model.TypeBlob:
		b, ok := v.([]byte)
		if !ok {
			return nil, mismatch(base, v)
		}
		return appendTerminated(dst, b), nil
	case model.TypeReference:
		switch r := v.(type) {
		case *model.Entity:
			return appendLong(dst, r.ID), nil
		case model.Ref:
			return appendLong(dst, r.ID), nil
		}
		return nil, mismatch(base, v)
	}
	return nil, errors.CorruptedData(fmt.Sprintf("cannot encode values of type %s", base), nil)
}

// EncodeLong is the encoding used for primary ids in index data and primary keys.
func EncodeLong(n int64) []byte {
	return appendLong(make([]byte, 0, 8), n)
}

// DecodeLong reverses EncodeLong.
func DecodeLong(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, errors.CorruptedData(fmt.Sprintf("encoded long has %d bytes", len(b)), nil)
	}
	return int64(binary.BigEndian.Uint64(b) ^ signBit8), nil
}

func appendLong(dst []byte, n int64) []byte {
	return binary.BigEndian.AppendUint64(dst, uint64(n)^signBit8)
}

func appendEscaped(dst, b []byte) []byte {
	for _, c := range b {
		if c == escByte {
			dst = append(dst, escByte, escZero)
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

func appendTerminated(dst, b []byte) []byte {
	dst = appendEscaped(dst, b)
	return append(dst, escByte, escTerm)
}

// DecodeValue decodes one part typed as t and returns the remaining bytes.
func DecodeValue(t model.FieldType, b []byte) (interface{}, []byte, error) {
	if len(b) == 0 {
		return nil, nil, truncated(t)
	}
	switch b[0] {
	case TagNull:
		return nil, b[1:], nil
	case TagValue:
	default:
		return nil, nil, errors.CorruptedData(fmt.Sprintf("unexpected part tag 0x%02x for %s", b[0], t), nil)
	}
	b = b[1:]
	if t.IsArray() {
		return decodeArray(t.BaseType(), b)
	}
	return decodePayload(t.BaseType(), b)
}

func decodeArray(base model.FieldType, b []byte) (interface{}, []byte, error) {
	var elems []interface{}
	for {
		if len(b) == 0 {
			return nil, nil, truncated(base | model.TypeArray)
		}
		marker := b[0]
		b = b[1:]
		if marker == elemEnd {
			break
		}
		if marker != elemMore {
			return nil, nil, errors.CorruptedData(fmt.Sprintf("unexpected array marker 0x%02x", marker), nil)
		}
		v, rest, err := DecodeValue(base, b)
		if err != nil {
			return nil, nil, err
		}
		elems = append(elems, v)
		b = rest
	}
	f := &model.FieldDefinition{Name: "key", Type: base | model.TypeArray}
	if base == model.TypeReference {
		f.ReferenceType = refPlaceholder
	}
	out, err := model.Coerce(f, append([]interface{}{}, elems...))
	if err != nil {
		return nil, nil, errors.CorruptedData("decoded array elements do not match type", err)
	}
	return out, b, nil
}

// refPlaceholder types reference shells decoded from keys, which only carry ids.
const refPlaceholder = ""

func decodePayload(base model.FieldType, b []byte) (interface{}, []byte, error) {
	need := func(n int) error {
		if len(b) < n {
			return truncated(base)
		}
		return nil
	}

	switch base {
	case model.TypeBoolean:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return b[0] == 1, b[1:], nil
	case model.TypeInt:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return int32(binary.BigEndian.Uint32(b) ^ signBit4), b[4:], nil
	case model.TypeLong:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		return int64(binary.BigEndian.Uint64(b) ^ signBit8), b[8:], nil
	case model.TypeFloat:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		bits := binary.BigEndian.Uint32(b)
		if bits&signBit4 != 0 {
			bits &^= signBit4
		} else {
			bits = ^bits
		}
		return math.Float32frombits(bits), b[4:], nil
	case model.TypeDouble:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		bits := binary.BigEndian.Uint64(b)
		if bits&signBit8 != 0 {
			bits &^= signBit8
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), b[8:], nil
	case model.TypeString, model.TypeText:
		s, rest, err := readTerminated(b)
		if err != nil {
			return nil, nil, err
		}
		return string(s), rest, nil
	case model.TypeDate:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		ms := int64(binary.BigEndian.Uint64(b) ^ signBit8)
		return time.UnixMilli(ms).UTC(), b[8:], nil
	case model.TypeBlob:
		return readTerminated(b)
	case model.TypeReference:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		id := int64(binary.BigEndian.Uint64(b) ^ signBit8)
		return model.NewShell(model.Ref{Type: refPlaceholder, ID: id}), b[8:], nil
	}
	return nil, nil, errors.CorruptedData(fmt.Sprintf("cannot decode values of type %s", base), nil)
}

func readTerminated(b []byte) ([]byte, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != escByte {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch b[i+1] {
		case escZero:
			out = append(out, escByte)
			i++
		case escTerm:
			return out, b[i+2:], nil
		default:
			return nil, nil, errors.CorruptedData(fmt.Sprintf("invalid escape 0x00 0x%02x", b[i+1]), nil)
		}
	}
	return nil, nil, errors.CorruptedData("unterminated string part", nil)
}

// SkipPart returns the length of the leading part of b, typed as t.
// Collated parts are skipped like strings.
func SkipPart(t model.FieldType, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, truncated(t)
	}
	switch b[0] {
	case TagNull, TagMin, TagMax:
		return 1, nil
	case TagValue:
	default:
		return 0, errors.CorruptedData(fmt.Sprintf("unexpected part tag 0x%02x", b[0]), nil)
	}

	n := 1
	if t.IsArray() {
		for {
			if n >= len(b) {
				return 0, truncated(t)
			}
			marker := b[n]
			n++
			if marker == elemEnd {
				return n, nil
			}
			m, err := SkipPart(t.BaseType(), b[n:])
			if err != nil {
				return 0, err
			}
			n += m
		}
	}

	var width int
	switch t.BaseType() {
	case model.TypeBoolean:
		width = 1
	case model.TypeInt, model.TypeFloat:
		width = 4
	case model.TypeLong, model.TypeDouble, model.TypeDate, model.TypeReference:
		width = 8
	case model.TypeString, model.TypeText, model.TypeBlob:
		for i := n; i+1 < len(b); i++ {
			if b[i] != escByte {
				continue
			}
			if b[i+1] == escTerm {
				return i + 2, nil
			}
			i++
		}
		return 0, truncated(t)
	default:
		return 0, errors.CorruptedData(fmt.Sprintf("cannot skip values of type %s", t), nil)
	}
	if len(b) < n+width {
		return 0, truncated(t)
	}
	return n + width, nil
}

// SplitParts splits a composite key into its raw encoded parts.
func SplitParts(key []byte, types []model.FieldType) ([][]byte, error) {
	parts := make([][]byte, 0, len(types))
	for _, t := range types {
		if len(key) == 0 {
			break
		}
		n, err := SkipPart(t, key)
		if err != nil {
			return nil, err
		}
		parts = append(parts, key[:n])
		key = key[n:]
	}
	if len(key) != 0 {
		return nil, errors.CorruptedData(fmt.Sprintf("%d trailing bytes after composite key", len(key)), nil)
	}
	return parts, nil
}

// PrefixSuccessor returns the smallest byte string greater than every
// string that has b as a prefix, or nil when no such string exists.
func PrefixSuccessor(b []byte) []byte {
	out := bytes.Clone(b)
	for len(out) > 0 {
		last := len(out) - 1
		if out[last] != 0xFF {
			out[last]++
			return out
		}
		out = out[:last]
	}
	return nil
}

// CompareTruncated compares key, cut to the length of bound, with bound.
func CompareTruncated(key, bound []byte) int {
	if len(key) > len(bound) {
		key = key[:len(bound)]
	}
	return bytes.Compare(key, bound)
}

func arrayElems(v interface{}) ([]interface{}, error) {
	switch tv := v.(type) {
	case []bool:
		return toIface(tv), nil
	case []int32:
		return toIface(tv), nil
	case []int64:
		return toIface(tv), nil
	case []float32:
		return toIface(tv), nil
	case []float64:
		return toIface(tv), nil
	case []string:
		return toIface(tv), nil
	case []time.Time:
		return toIface(tv), nil
	case [][]byte:
		out := make([]interface{}, len(tv))
		for i, b := range tv {
			if b != nil {
				out[i] = b
			}
		}
		return out, nil
	case []*model.Entity:
		out := make([]interface{}, len(tv))
		for i, e := range tv {
			if e != nil {
				out[i] = e
			}
		}
		return out, nil
	case []interface{}:
		return tv, nil
	}
	return nil, errors.CorruptedData(fmt.Sprintf("cannot encode %T as an array", v), nil)
}

func toIface[T any](s []T) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func mismatch(t model.FieldType, v interface{}) error {
	return errors.CorruptedData(fmt.Sprintf("value of type %T does not encode as %s", v, t), nil).
		WithDetail("type", t.String())
}

func truncated(t model.FieldType) error {
	return errors.CorruptedData(fmt.Sprintf("truncated %s part", t), nil)
}
