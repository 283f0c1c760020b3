package model

import (
	"github.com/devrev/entitydb/internal/errors"
)

// EntityDefinition is an entity type: a name and an ordered field list.
// Field order is the record encoding order, so fields are only appended.
type EntityDefinition struct {
	Name   string
	Fields []*FieldDefinition
}

// NewEntityDefinition creates a definition with the given fields.
func NewEntityDefinition(name string, fields ...*FieldDefinition) (*EntityDefinition, error) {
	d := &EntityDefinition{Name: name}
	for _, f := range fields {
		if err := d.AddField(f); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddField appends a field. A field with the same name reports AlreadyExists.
func (d *EntityDefinition) AddField(f *FieldDefinition) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if d.HasField(f.Name) {
		return errors.AlreadyExists("field", d.Name+"."+f.Name)
	}
	d.Fields = append(d.Fields, f)
	return nil
}

// Field looks up a field by name.
func (d *EntityDefinition) Field(name string) (*FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// HasField reports whether the type declares name.
func (d *EntityDefinition) HasField(name string) bool {
	_, ok := d.Field(name)
	return ok
}

// ReferenceFields returns the fields whose base type is Reference.
func (d *EntityDefinition) ReferenceFields() []*FieldDefinition {
	var out []*FieldDefinition
	for _, f := range d.Fields {
		if f.IsReference() {
			out = append(out, f)
		}
	}
	return out
}

// CreateInstance returns an unsaved entity with every attribute set to a
// copy of its default. Reference defaults become fresh shells, so an
// unsaved default reference yields a distinct entity per instance.
func (d *EntityDefinition) CreateInstance() *Entity {
	e := NewEntity(d.Name)
	for _, f := range d.Fields {
		e.attributes[f.Name] = cloneValue(f.DefaultValue)
	}
	return e
}

// Clone deep-copies the definition.
func (d *EntityDefinition) Clone() *EntityDefinition {
	out := &EntityDefinition{Name: d.Name, Fields: make([]*FieldDefinition, len(d.Fields))}
	for i, f := range d.Fields {
		out.Fields[i] = f.Clone()
	}
	return out
}
