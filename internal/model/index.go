package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devrev/entitydb/internal/errors"
)

// IndexKind selects how an index derives entries from an entity.
type IndexKind uint8

const (
	IndexPrimary IndexKind = iota
	IndexSimpleSingleField
	IndexSimpleMultiField
	IndexArrayMembership
	IndexMultiFieldArrayMembership
)

// PrimaryIndex is the reserved name of every entity type's id index.
const PrimaryIndex = "PRIMARY"

// AttrCollation names the index attribute holding a collation language tag.
const AttrCollation = "collation"

var indexKindNames = map[IndexKind]string{
	IndexPrimary:                   "Primary",
	IndexSimpleSingleField:         "SimpleSingleField",
	IndexSimpleMultiField:          "SimpleMultiField",
	IndexArrayMembership:           "ArrayMembership",
	IndexMultiFieldArrayMembership: "MultiFieldArrayMembership",
}

func (k IndexKind) String() string {
	if n, ok := indexKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("IndexKind(%d)", uint8(k))
}

// IsMembership reports whether array fields produce one entry per element.
func (k IndexKind) IsMembership() bool {
	return k == IndexArrayMembership || k == IndexMultiFieldArrayMembership
}

// ParseIndexKind accepts the kind names, case-insensitively.
func ParseIndexKind(s string) (IndexKind, error) {
	for k, n := range indexKindNames {
		if strings.EqualFold(n, s) {
			return k, nil
		}
	}
	return 0, errors.InvalidDefinition(fmt.Sprintf("unknown index kind %q", s))
}

// EntityIndex declares a secondary index over one or more fields.
type EntityIndex struct {
	Entity     string
	Name       string
	Kind       IndexKind
	Fields     []string
	Attributes map[string]string
}

// PrimaryIndexFor returns the implicit id index of an entity type.
func PrimaryIndexFor(entity string) *EntityIndex {
	return &EntityIndex{Entity: entity, Name: PrimaryIndex, Kind: IndexPrimary}
}

// Collation returns the configured collation language, if any.
func (ix *EntityIndex) Collation() string {
	if ix.Attributes == nil {
		return ""
	}
	return ix.Attributes[AttrCollation]
}

// Bucket is the store bucket holding the index entries.
func (ix *EntityIndex) Bucket() string {
	if ix.Kind == IndexPrimary {
		return PrimaryBucket(ix.Entity)
	}
	return "idx." + ix.Entity + "." + ix.Name
}

// PrimaryBucket is the store bucket holding an entity type's records.
func PrimaryBucket(entity string) string {
	return "ent." + entity
}

// FieldDefinitions resolves the index fields against def in key-part order.
func (ix *EntityIndex) FieldDefinitions(def *EntityDefinition) ([]*FieldDefinition, error) {
	out := make([]*FieldDefinition, len(ix.Fields))
	for i, name := range ix.Fields {
		f, ok := def.Field(name)
		if !ok {
			return nil, errors.UnknownField(def.Name, name)
		}
		out[i] = f
	}
	return out, nil
}

// Validate checks the field list against def and the kind's arity rules.
func (ix *EntityIndex) Validate(def *EntityDefinition) error {
	fields, err := ix.FieldDefinitions(def)
	if err != nil {
		return err
	}

	arrays := 0
	for _, f := range fields {
		if f.IsArray() {
			arrays++
		}
	}

	invalid := func(reason string) error {
		return errors.InvalidDefinition(fmt.Sprintf("index '%s' of kind %s %s", ix.Name, ix.Kind, reason)).
			WithDetail("index", ix.Name).
			WithDetail("kind", ix.Kind.String())
	}

	switch ix.Kind {
	case IndexPrimary:
		return invalid("is reserved")
	case IndexSimpleSingleField:
		if len(fields) != 1 {
			return invalid("requires exactly one field")
		}
	case IndexSimpleMultiField:
		if len(fields) < 2 {
			return invalid("requires at least two fields")
		}
	case IndexArrayMembership:
		if len(fields) != 1 {
			return invalid("requires exactly one field")
		}
		if arrays != 1 {
			return invalid("requires an array field")
		}
	case IndexMultiFieldArrayMembership:
		if len(fields) < 2 {
			return invalid("requires at least two fields")
		}
		if arrays == 0 {
			return invalid("requires at least one array field")
		}
	default:
		return invalid("is unknown")
	}

	if ix.Collation() != "" {
		for _, f := range fields {
			switch f.BaseType() {
			case TypeString, TypeText:
			default:
				return invalid(fmt.Sprintf("cannot collate non-string field '%s'", f.Name))
			}
		}
	}
	return nil
}

// Equal compares two declarations.
func (ix *EntityIndex) Equal(o *EntityIndex) bool {
	if ix.Entity != o.Entity || ix.Name != o.Name || ix.Kind != o.Kind || len(ix.Fields) != len(o.Fields) {
		return false
	}
	for i := range ix.Fields {
		if ix.Fields[i] != o.Fields[i] {
			return false
		}
	}
	if len(ix.Attributes) != len(o.Attributes) {
		return false
	}
	for k, v := range ix.Attributes {
		if o.Attributes[k] != v {
			return false
		}
	}
	return true
}

// AttributeKeys returns attribute names in sorted order.
func (ix *EntityIndex) AttributeKeys() []string {
	keys := make([]string, 0, len(ix.Attributes))
	for k := range ix.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
