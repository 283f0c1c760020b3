package index

import (
	"bytes"
	"fmt"
	"math"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/keycodec"
	"github.com/devrev/entitydb/internal/model"
)

// KeySchema describes how entries of one index are encoded.
type KeySchema struct {
	Index    *model.EntityIndex
	Fields   []*model.FieldDefinition
	Collator *keycodec.Collator
}

// NewKeySchema resolves the index fields against def.
func NewKeySchema(ix *model.EntityIndex, def *model.EntityDefinition) (*KeySchema, error) {
	s := &KeySchema{Index: ix}
	if ix.Kind == model.IndexPrimary {
		return s, nil
	}

	fields, err := ix.FieldDefinitions(def)
	if err != nil {
		return nil, err
	}
	s.Fields = fields

	if lang := ix.Collation(); lang != "" {
		if s.Collator, err = keycodec.NewCollator(lang); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// IsPrimary reports whether the schema describes the id index, whose keys
// are bare encoded ids.
func (s *KeySchema) IsPrimary() bool {
	return s.Index.Kind == model.IndexPrimary
}

// Parts is the number of key parts.
func (s *KeySchema) Parts() int {
	if s.IsPrimary() {
		return 1
	}
	return len(s.Fields)
}

// PartType is the type of one key part. Array fields of membership
// indexes contribute one element per entry, so their parts have the
// element type.
func (s *KeySchema) PartType(i int) model.FieldType {
	if s.IsPrimary() {
		return model.TypeLong
	}
	t := s.Fields[i].Type
	if s.Index.Kind.IsMembership() {
		return t.BaseType()
	}
	return t
}

// Types lists the part types in key order.
func (s *KeySchema) Types() []model.FieldType {
	out := make([]model.FieldType, s.Parts())
	for i := range out {
		out[i] = s.PartType(i)
	}
	return out
}

// Collated reports whether part i is encoded as a collation sort key.
func (s *KeySchema) Collated(i int) bool {
	return s.Collator != nil && !s.IsPrimary()
}

// AppendPart appends part i with value v, already in the canonical form
// of PartType(i).
func (s *KeySchema) AppendPart(dst []byte, i int, v interface{}) ([]byte, error) {
	if s.IsPrimary() {
		id, ok := v.(int64)
		if !ok {
			return nil, errors.TypeMismatch("id", model.TypeLong.String(), v)
		}
		return append(dst, keycodec.EncodeLong(id)...), nil
	}
	return keycodec.AppendPart(dst, s.PartType(i), v, s.Collator)
}

// AppendMin appends the lowest possible part i.
func (s *KeySchema) AppendMin(dst []byte, i int) []byte {
	if s.IsPrimary() {
		return append(dst, keycodec.EncodeLong(math.MinInt64)...)
	}
	return keycodec.AppendMin(dst)
}

// AppendMax appends the highest possible part i.
func (s *KeySchema) AppendMax(dst []byte, i int) []byte {
	if s.IsPrimary() {
		return append(dst, keycodec.EncodeLong(math.MaxInt64)...)
	}
	return keycodec.AppendMax(dst)
}

// AppendPrefix appends an unterminated string prefix for part i.
func (s *KeySchema) AppendPrefix(dst []byte, i int, v interface{}) ([]byte, error) {
	if s.IsPrimary() || s.Collated(i) {
		return nil, errors.Unsupported(fmt.Sprintf("STARTS_WITH is not supported on index '%s'", s.Index.Name))
	}
	return keycodec.AppendPrefix(dst, s.PartType(i), v)
}

// EntryKeys returns the distinct composite keys e contributes to the index.
// Membership indexes write one key per element of each array field, and
// the cartesian product when several array fields take part. An entity
// with a nil or empty array under a membership index has no entries.
func (s *KeySchema) EntryKeys(e *model.Entity) ([][]byte, error) {
	if s.IsPrimary() {
		return nil, errors.InternalError("the primary index has no derived entries", nil)
	}

	keys := [][]byte{{}}
	for i, f := range s.Fields {
		v := e.Attribute(f.Name)

		values := []interface{}{v}
		if s.Index.Kind.IsMembership() && f.IsArray() {
			elems, err := keycodec.Elements(v)
			if err != nil {
				return nil, err
			}
			if len(elems) == 0 {
				return nil, nil
			}
			values = elems
		}

		next := make([][]byte, 0, len(keys)*len(values))
		for _, prefix := range keys {
			for _, val := range values {
				k, err := s.AppendPart(bytes.Clone(prefix), i, val)
				if err != nil {
					return nil, err
				}
				next = append(next, k)
			}
		}
		keys = next
	}
	return dedupe(keys), nil
}

func dedupe(keys [][]byte) [][]byte {
	out := keys[:0]
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[string(k)]; ok {
			continue
		}
		seen[string(k)] = struct{}{}
		out = append(out, k)
	}
	return out
}
