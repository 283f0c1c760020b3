package model

import (
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
)

// FieldDefinition declares one attribute of an entity type.
type FieldDefinition struct {
	Name            string
	Type            FieldType
	ReferenceType   string
	DefaultValue    interface{}
	Required        bool
	CascadeOnDelete bool
	Comment         string
}

// NewFieldDefinition declares a non-reference field. Reference fields
// must be declared with NewReferenceField.
func NewFieldDefinition(name string, t FieldType) (*FieldDefinition, error) {
	if !t.IsValid() {
		return nil, errors.InvalidDefinition(fmt.Sprintf("field '%s' has invalid type %d", name, uint16(t))).
			WithDetail("field", name)
	}
	if t.BaseType() == TypeReference {
		return nil, errors.InvalidDefinition(fmt.Sprintf("field '%s' must be defined with a reference type", name)).
			WithDetail("field", name)
	}
	return &FieldDefinition{Name: name, Type: t}, nil
}

// NewReferenceField declares a Reference or Reference[] field pointing at refType.
func NewReferenceField(name string, t FieldType, refType string) (*FieldDefinition, error) {
	f := &FieldDefinition{Name: name, Type: t, ReferenceType: refType}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the type tag and that reference fields name their target type.
func (f *FieldDefinition) Validate() error {
	if !f.Type.IsValid() {
		return errors.InvalidDefinition(fmt.Sprintf("field '%s' has invalid type %d", f.Name, uint16(f.Type))).
			WithDetail("field", f.Name)
	}
	if f.Type.BaseType() == TypeReference && f.ReferenceType == "" {
		return errors.InvalidDefinition(fmt.Sprintf("field '%s' must be defined with a reference type", f.Name)).
			WithDetail("field", f.Name)
	}
	if f.Type.BaseType() != TypeReference && f.ReferenceType != "" {
		return errors.InvalidDefinition(fmt.Sprintf("field '%s' is not a reference but names reference type '%s'", f.Name, f.ReferenceType)).
			WithDetail("field", f.Name)
	}
	return nil
}

// BaseType returns the field type without the Array flag.
func (f *FieldDefinition) BaseType() FieldType {
	return f.Type.BaseType()
}

// IsArray reports whether the field holds a sequence.
func (f *FieldDefinition) IsArray() bool {
	return f.Type.IsArray()
}

// IsReference reports whether the field references other entities.
func (f *FieldDefinition) IsReference() bool {
	return f.Type.BaseType() == TypeReference
}

// SetDefault coerces v to the field type and stores it as the default.
func (f *FieldDefinition) SetDefault(v interface{}) error {
	cv, err := Coerce(f, v)
	if err != nil {
		return err
	}
	f.DefaultValue = cv
	return nil
}

// Clone returns a copy that shares no mutable state with f.
func (f *FieldDefinition) Clone() *FieldDefinition {
	out := *f
	out.DefaultValue = cloneValue(f.DefaultValue)
	return &out
}

// Equal compares declarations, including defaults.
func (f *FieldDefinition) Equal(o *FieldDefinition) bool {
	if f.Name != o.Name || f.Type != o.Type || f.ReferenceType != o.ReferenceType ||
		f.Required != o.Required || f.CascadeOnDelete != o.CascadeOnDelete || f.Comment != o.Comment {
		return false
	}
	return Compare(f.Type, f.DefaultValue, o.DefaultValue) == 0
}
