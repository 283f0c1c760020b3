package model

import (
	"fmt"
	"strings"

	"github.com/devrev/entitydb/internal/errors"
)

// FieldType is a base type tag optionally combined with the Array flag.
type FieldType uint16

const (
	TypeUndefined FieldType = 0
	TypeBoolean   FieldType = 1
	TypeInt       FieldType = 2
	TypeLong      FieldType = 3
	TypeFloat     FieldType = 4
	TypeDouble    FieldType = 5
	TypeString    FieldType = 6
	TypeText      FieldType = 7
	TypeDate      FieldType = 8
	TypeBlob      FieldType = 9
	TypeReference FieldType = 10

	// TypeArray is OR-ed onto a base type.
	TypeArray FieldType = 0x100
)

// Unsaved is the id carried by entities and references that have not been persisted.
const Unsaved int64 = -1

var typeNames = map[FieldType]string{
	TypeUndefined: "Undefined",
	TypeBoolean:   "Boolean",
	TypeInt:       "Int",
	TypeLong:      "Long",
	TypeFloat:     "Float",
	TypeDouble:    "Double",
	TypeString:    "String",
	TypeText:      "Text",
	TypeDate:      "Date",
	TypeBlob:      "Blob",
	TypeReference: "Reference",
}

// BaseType masks off the Array flag.
func (t FieldType) BaseType() FieldType {
	return t &^ TypeArray
}

// IsArray reports whether the Array flag is set.
func (t FieldType) IsArray() bool {
	return t&TypeArray != 0
}

// IsValid reports whether t is a known base type, with or without the Array flag.
func (t FieldType) IsValid() bool {
	base := t.BaseType()
	if t&^(TypeArray|0xFF) != 0 {
		return false
	}
	return base > TypeUndefined && base <= TypeReference
}

func (t FieldType) String() string {
	name, ok := typeNames[t.BaseType()]
	if !ok {
		name = fmt.Sprintf("FieldType(%d)", uint16(t.BaseType()))
	}
	if t.IsArray() {
		return name + "[]"
	}
	return name
}

// ParseFieldType parses names such as "String", "int" or "Reference[]".
func ParseFieldType(s string) (FieldType, error) {
	name := strings.TrimSpace(s)
	var flag FieldType
	if strings.HasSuffix(name, "[]") {
		flag = TypeArray
		name = strings.TrimSuffix(name, "[]")
	}
	for t, n := range typeNames {
		if t != TypeUndefined && strings.EqualFold(n, name) {
			return t | flag, nil
		}
	}
	return TypeUndefined, errors.InvalidDefinition(fmt.Sprintf("unknown field type %q", s))
}
