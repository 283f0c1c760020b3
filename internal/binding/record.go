package binding

import (
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/util"
)

const recordVersion byte = 1

// MarshalEntity encodes e in definition field order. Attribute values
// must already be in their canonical representation.
func MarshalEntity(def *model.EntityDefinition, e *model.Entity) ([]byte, error) {
	out := NewTupleOutput()
	out.WriteFast(recordVersion)
	out.WriteLong(e.ID)
	out.WriteInt(int32(len(def.Fields)))
	for _, f := range def.Fields {
		if err := WriteValue(out, f, e.Attribute(f.Name)); err != nil {
			return nil, err
		}
	}
	return util.Seal(out.Bytes()), nil
}

// UnmarshalEntity decodes a record. Fields appended to the definition
// after the record was written take their defaults.
func UnmarshalEntity(def *model.EntityDefinition, b []byte) (*model.Entity, error) {
	payload, err := util.Unseal(b)
	if err != nil {
		return nil, err
	}
	in := NewTupleInput(payload)
	if v := in.ReadFast(); in.Err() == nil && v != recordVersion {
		return nil, errors.CorruptedData(fmt.Sprintf("unknown record version %d", v), nil)
	}
	id := in.ReadLong()
	n := in.ReadCount(1)
	if err := in.Err(); err != nil {
		return nil, err
	}
	if n > len(def.Fields) {
		return nil, errors.CorruptedData(
			fmt.Sprintf("record of '%s' has %d fields, definition has %d", def.Name, n, len(def.Fields)), nil).
			WithDetail("entity", def.Name)
	}

	e := def.CreateInstance()
	e.ID = id
	for _, f := range def.Fields[:n] {
		v := ReadValue(in, f)
		if in.Err() != nil {
			break
		}
		e.SetAttribute(f.Name, v)
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	if in.Remaining() != 0 {
		return nil, errors.CorruptedData(fmt.Sprintf("%d trailing bytes after record %s[%d]", in.Remaining(), def.Name, id), nil)
	}
	return e, nil
}
