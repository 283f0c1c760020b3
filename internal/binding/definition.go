package binding

import (
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/util"
)

const definitionVersion byte = 1

// MarshalEntityDefinition encodes a definition for the catalog. The
// output carries a CRC32 trailer.
func MarshalEntityDefinition(def *model.EntityDefinition) ([]byte, error) {
	out := NewTupleOutput()
	out.WriteFast(definitionVersion)
	out.WriteString(def.Name)
	out.WriteInt(int32(len(def.Fields)))

	for _, f := range def.Fields {
		out.WriteString(f.Name)
		out.WriteInt(int32(f.Type))
		if err := WriteValue(out, f, f.DefaultValue); err != nil {
			return nil, err
		}
		if f.IsReference() {
			out.WriteString(f.ReferenceType)
		}
		out.WriteBoolean(f.Required)
		out.WriteBoolean(f.CascadeOnDelete)
		out.WriteString(f.Comment)
	}
	return util.Seal(out.Bytes()), nil
}

// UnmarshalEntityDefinition decodes a catalog entry written by
// MarshalEntityDefinition.
func UnmarshalEntityDefinition(b []byte) (*model.EntityDefinition, error) {
	payload, err := util.Unseal(b)
	if err != nil {
		return nil, err
	}
	in := NewTupleInput(payload)
	if v := in.ReadFast(); in.Err() == nil && v != definitionVersion {
		return nil, errors.CorruptedData(fmt.Sprintf("unknown definition version %d", v), nil)
	}

	def := &model.EntityDefinition{Name: in.ReadString()}
	n := in.ReadCount(8)
	for i := 0; i < n && in.Err() == nil; i++ {
		f := &model.FieldDefinition{Name: in.ReadString()}
		f.Type = model.FieldType(uint16(in.ReadInt()))
		if in.Err() != nil {
			break
		}
		if !f.Type.IsValid() {
			return nil, errors.CorruptedData(fmt.Sprintf("field '%s' has unknown type tag %d", f.Name, uint16(f.Type)), nil)
		}
		f.DefaultValue = ReadValue(in, f)
		if f.IsReference() {
			f.ReferenceType = in.ReadString()
		}
		f.Required = in.ReadBoolean()
		f.CascadeOnDelete = in.ReadBoolean()
		f.Comment = in.ReadString()
		def.Fields = append(def.Fields, f)
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	if in.Remaining() != 0 {
		return nil, errors.CorruptedData(fmt.Sprintf("%d trailing bytes after definition '%s'", in.Remaining(), def.Name), nil)
	}

	for _, f := range def.Fields {
		if err := f.Validate(); err != nil {
			return nil, errors.CorruptedData("stored definition is invalid", err)
		}
	}
	return def, nil
}

