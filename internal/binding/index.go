package binding

import (
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/util"
)

const indexVersion byte = 1

// MarshalEntityIndex encodes an index declaration for the catalog.
// Attributes are written in key order so equal declarations encode
// identically.
func MarshalEntityIndex(ix *model.EntityIndex) []byte {
	out := NewTupleOutput()
	out.WriteFast(indexVersion)
	out.WriteString(ix.Entity)
	out.WriteString(ix.Name)
	out.WriteFast(byte(ix.Kind))
	out.WriteInt(int32(len(ix.Fields)))
	for _, f := range ix.Fields {
		out.WriteString(f)
	}
	keys := ix.AttributeKeys()
	out.WriteInt(int32(len(keys)))
	for _, k := range keys {
		out.WriteString(k)
		out.WriteString(ix.Attributes[k])
	}
	return util.Seal(out.Bytes())
}

// UnmarshalEntityIndex decodes a declaration written by MarshalEntityIndex.
func UnmarshalEntityIndex(b []byte) (*model.EntityIndex, error) {
	payload, err := util.Unseal(b)
	if err != nil {
		return nil, err
	}
	in := NewTupleInput(payload)
	if v := in.ReadFast(); in.Err() == nil && v != indexVersion {
		return nil, errors.CorruptedData(fmt.Sprintf("unknown index version %d", v), nil)
	}

	ix := &model.EntityIndex{
		Entity: in.ReadString(),
		Name:   in.ReadString(),
		Kind:   model.IndexKind(in.ReadFast()),
	}
	nf := in.ReadCount(1)
	for i := 0; i < nf && in.Err() == nil; i++ {
		ix.Fields = append(ix.Fields, in.ReadString())
	}
	na := in.ReadCount(2)
	if na > 0 {
		ix.Attributes = make(map[string]string, na)
	}
	for i := 0; i < na && in.Err() == nil; i++ {
		k := in.ReadString()
		ix.Attributes[k] = in.ReadString()
	}
	if err := in.Err(); err != nil {
		return nil, err
	}
	if in.Remaining() != 0 {
		return nil, errors.CorruptedData(fmt.Sprintf("%d trailing bytes after index '%s'", in.Remaining(), ix.Name), nil)
	}
	if ix.Kind > model.IndexMultiFieldArrayMembership {
		return nil, errors.CorruptedData(fmt.Sprintf("index '%s' has unknown kind %d", ix.Name, ix.Kind), nil)
	}
	return ix, nil
}
