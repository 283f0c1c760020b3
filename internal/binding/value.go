package binding

import (
	"fmt"
	"time"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
)

// Null markers precede every value so decode can tell null from empty.
const (
	NullFlagNull    byte = 0
	NullFlagNotNull byte = 1
)

// WriteValue writes a canonical field value: null flag, then the payload.
// Arrays write a count followed by each element; reference elements
// carry their own null flag.
func WriteValue(out *TupleOutput, f *model.FieldDefinition, v interface{}) error {
	if isNull(v) {
		out.WriteFast(NullFlagNull)
		return nil
	}
	out.WriteFast(NullFlagNotNull)

	if !f.IsArray() {
		return writeScalar(out, f, v)
	}

	switch tv := v.(type) {
	case []bool:
		return writeElems(out, f, tv)
	case []int32:
		return writeElems(out, f, tv)
	case []int64:
		return writeElems(out, f, tv)
	case []float32:
		return writeElems(out, f, tv)
	case []float64:
		return writeElems(out, f, tv)
	case []string:
		return writeElems(out, f, tv)
	case []time.Time:
		return writeElems(out, f, tv)
	case [][]byte:
		return writeElems(out, f, tv)
	case []*model.Entity:
		out.WriteInt(int32(len(tv)))
		for _, e := range tv {
			writeRef(out, e)
		}
		return nil
	}
	return mismatch(f, v)
}

func writeElems[T any](out *TupleOutput, f *model.FieldDefinition, elems []T) error {
	out.WriteInt(int32(len(elems)))
	for _, e := range elems {
		if err := writeScalar(out, f, e); err != nil {
			return err
		}
	}
	return nil
}

func writeScalar(out *TupleOutput, f *model.FieldDefinition, v interface{}) error {
	switch f.BaseType() {
	case model.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteBoolean(b)
	case model.TypeInt:
		n, ok := v.(int32)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteInt(n)
	case model.TypeLong:
		n, ok := v.(int64)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteLong(n)
	case model.TypeFloat:
		x, ok := v.(float32)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteFloat(x)
	case model.TypeDouble:
		x, ok := v.(float64)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteDouble(x)
	case model.TypeString, model.TypeText:
		s, ok := v.(string)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteString(s)
	case model.TypeDate:
		t, ok := v.(time.Time)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteLong(t.UnixMilli())
	case model.TypeBlob:
		b, ok := v.([]byte)
		if !ok {
			return mismatch(f, v)
		}
		out.WriteBytes(b)
	case model.TypeReference:
		e, ok := v.(*model.Entity)
		if !ok {
			return mismatch(f, v)
		}
		// the outer null flag has already been written for single references
		out.WriteString(e.Type)
		out.WriteLong(e.ID)
	default:
		return mismatch(f, v)
	}
	return nil
}

func writeRef(out *TupleOutput, e *model.Entity) {
	if e == nil {
		out.WriteFast(NullFlagNull)
		return
	}
	out.WriteFast(NullFlagNotNull)
	out.WriteString(e.Type)
	out.WriteLong(e.ID)
}

// ReadValue reads a value written by WriteValue. References decode to
// shells; an unsaved id is preserved as is.
func ReadValue(in *TupleInput, f *model.FieldDefinition) interface{} {
	flag := in.ReadFast()
	if in.Err() != nil {
		return nil
	}
	switch flag {
	case NullFlagNull:
		return nil
	case NullFlagNotNull:
	default:
		in.fail(fmt.Sprintf("invalid null flag 0x%02x for field '%s'", flag, f.Name))
		return nil
	}

	if !f.IsArray() {
		return readScalar(in, f)
	}

	switch f.BaseType() {
	case model.TypeBoolean:
		return readElems[bool](in, f, 1)
	case model.TypeInt:
		return readElems[int32](in, f, 4)
	case model.TypeLong:
		return readElems[int64](in, f, 8)
	case model.TypeFloat:
		return readElems[float32](in, f, 4)
	case model.TypeDouble:
		return readElems[float64](in, f, 8)
	case model.TypeString, model.TypeText:
		return readElems[string](in, f, 1)
	case model.TypeDate:
		return readElems[time.Time](in, f, 8)
	case model.TypeBlob:
		return readElems[[]byte](in, f, 1)
	case model.TypeReference:
		n := in.ReadCount(1)
		refs := make([]*model.Entity, n)
		for i := range refs {
			if in.ReadFast() == NullFlagNull {
				continue
			}
			refs[i] = model.NewShell(model.Ref{Type: in.ReadString(), ID: in.ReadLong()})
		}
		if in.Err() != nil {
			return nil
		}
		return refs
	}
	in.fail(fmt.Sprintf("field '%s' has unreadable type %s", f.Name, f.Type))
	return nil
}

func readElems[T any](in *TupleInput, f *model.FieldDefinition, minSize int) interface{} {
	n := in.ReadCount(minSize)
	out := make([]T, n)
	for i := range out {
		v, ok := readScalar(in, f).(T)
		if !ok {
			return nil
		}
		out[i] = v
	}
	if in.Err() != nil {
		return nil
	}
	return out
}

func readScalar(in *TupleInput, f *model.FieldDefinition) interface{} {
	var v interface{}
	switch f.BaseType() {
	case model.TypeBoolean:
		v = in.ReadBoolean()
	case model.TypeInt:
		v = in.ReadInt()
	case model.TypeLong:
		v = in.ReadLong()
	case model.TypeFloat:
		v = in.ReadFloat()
	case model.TypeDouble:
		v = in.ReadDouble()
	case model.TypeString, model.TypeText:
		v = in.ReadString()
	case model.TypeDate:
		v = time.UnixMilli(in.ReadLong()).UTC()
	case model.TypeBlob:
		v = in.ReadBytes()
	case model.TypeReference:
		typ := in.ReadString()
		v = model.NewShell(model.Ref{Type: typ, ID: in.ReadLong()})
	default:
		in.fail(fmt.Sprintf("field '%s' has unreadable type %s", f.Name, f.Type))
	}
	if in.Err() != nil {
		return nil
	}
	return v
}

func isNull(v interface{}) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case *model.Entity:
		return tv == nil
	case []byte:
		return tv == nil
	case []bool:
		return tv == nil
	case []int32:
		return tv == nil
	case []int64:
		return tv == nil
	case []float32:
		return tv == nil
	case []float64:
		return tv == nil
	case []string:
		return tv == nil
	case []time.Time:
		return tv == nil
	case [][]byte:
		return tv == nil
	case []*model.Entity:
		return tv == nil
	}
	return false
}

func mismatch(f *model.FieldDefinition, v interface{}) error {
	return errors.CorruptedData(fmt.Sprintf("value of type %T cannot be written as %s for field '%s'", v, f.Type, f.Name), nil).
		WithDetail("field", f.Name)
}
