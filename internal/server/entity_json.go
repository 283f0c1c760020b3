package server

import (
	"encoding/json"
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
)

// EntityJSON is the wire form of an entity. References that were not
// filled carry only type and id and are marked as shells.
type EntityJSON struct {
	Type       string                 `json:"type,omitempty"`
	ID         int64                  `json:"id,omitempty"`
	Shell      bool                   `json:"shell,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

func encodeEntity(e *model.Entity) *EntityJSON {
	return encodeEntityVisiting(e, make(map[*model.Entity]bool))
}

func encodeEntityVisiting(e *model.Entity, visiting map[*model.Entity]bool) *EntityJSON {
	out := &EntityJSON{Type: e.Type, ID: e.ID}
	if e.IsShell() {
		out.Shell = true
		return out
	}
	// cycles among loaded entities collapse to a bare reference
	if visiting[e] {
		return out
	}
	visiting[e] = true
	defer delete(visiting, e)

	out.Attributes = make(map[string]interface{})
	for _, name := range e.AttributeNames() {
		out.Attributes[name] = encodeValue(e.Attribute(name), visiting)
	}
	return out
}

func encodeValue(v interface{}, visiting map[*model.Entity]bool) interface{} {
	switch tv := v.(type) {
	case *model.Entity:
		if tv == nil {
			return nil
		}
		return encodeEntityVisiting(tv, visiting)
	case []*model.Entity:
		out := make([]*EntityJSON, len(tv))
		for i, e := range tv {
			if e != nil {
				out[i] = encodeEntityVisiting(e, visiting)
			}
		}
		return out
	}
	return v
}

// schemaLookup resolves the definition of a referenced type.
type schemaLookup func(name string) (*model.EntityDefinition, error)

// decodeEntity builds an entity of def from wire attributes. Reference
// fields accept a bare id, an {"id": n} object or, for new targets, an
// object with attributes and no id.
func decodeEntity(def *model.EntityDefinition, id int64, attrs map[string]interface{}, lookup schemaLookup) (*model.Entity, error) {
	e := model.NewEntity(def.Name)
	e.ID = id
	for name, v := range attrs {
		fd, ok := def.Field(name)
		if !ok {
			return nil, errors.UnknownField(def.Name, name)
		}
		if fd.IsReference() && v != nil {
			var err error
			if v, err = decodeReferences(fd, v, lookup); err != nil {
				return nil, err
			}
		}
		e.SetAttribute(name, v)
	}
	return e, nil
}

func decodeReferences(fd *model.FieldDefinition, v interface{}, lookup schemaLookup) (interface{}, error) {
	if !fd.IsArray() {
		return decodeReference(fd, v, lookup)
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, errors.TypeMismatch(fd.Name, fd.Type.String(), v)
	}
	out := make([]*model.Entity, len(list))
	for i, elem := range list {
		if elem == nil {
			continue
		}
		ref, err := decodeReference(fd, elem, lookup)
		if err != nil {
			return nil, err
		}
		out[i] = ref.(*model.Entity)
	}
	return out, nil
}

func decodeReference(fd *model.FieldDefinition, v interface{}, lookup schemaLookup) (interface{}, error) {
	switch tv := v.(type) {
	case json.Number:
		id, err := tv.Int64()
		if err != nil {
			return nil, errors.TypeMismatch(fd.Name, "reference id", v)
		}
		return model.NewShell(model.Ref{Type: fd.ReferenceType, ID: id}), nil
	case map[string]interface{}:
		return decodeNested(fd, tv, lookup)
	}
	return nil, errors.TypeMismatch(fd.Name, "reference to "+fd.ReferenceType, v)
}

func decodeNested(fd *model.FieldDefinition, obj map[string]interface{}, lookup schemaLookup) (*model.Entity, error) {
	refType := fd.ReferenceType
	if t, ok := obj["type"].(string); ok && t != refType {
		return nil, errors.TypeMismatch(fd.Name, "reference to "+refType, t).WithDetail("actual_type", t)
	}
	attrs, hasAttrs := obj["attributes"].(map[string]interface{})

	if raw, ok := obj["id"]; ok {
		n, isNum := raw.(json.Number)
		id, err := n.Int64()
		if !isNum || err != nil {
			return nil, errors.TypeMismatch(fd.Name, "reference id", raw)
		}
		if hasAttrs {
			return nil, errors.Unsupported(fmt.Sprintf("field '%s': nested updates of saved entities are not supported", fd.Name))
		}
		return model.NewShell(model.Ref{Type: refType, ID: id}), nil
	}

	def, err := lookup(refType)
	if err != nil {
		return nil, err
	}
	return decodeEntity(def, model.Unsaved, attrs, lookup)
}
