package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Ref identifies an entity by type and id. ID may be Unsaved, meaning
// "create a fresh entity on insert"; such a ref is never dereferenced.
type Ref struct {
	Type string
	ID   int64
}

// IsUnsaved reports whether the ref carries the unsaved sentinel id.
func (r Ref) IsUnsaved() bool {
	return r.ID == Unsaved
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Entity is a typed attribute bag. An Entity is owned by whoever holds
// it; the store copies values in and out and never keeps the pointer.
type Entity struct {
	Type       string
	ID         int64
	attributes map[string]interface{}
	shell      bool
}

// NewEntity returns an unsaved entity with no attributes.
func NewEntity(entityType string) *Entity {
	return &Entity{
		Type:       entityType,
		ID:         Unsaved,
		attributes: make(map[string]interface{}),
	}
}

// NewShell returns an unfilled reference target carrying only type and id.
func NewShell(ref Ref) *Entity {
	return &Entity{
		Type:       ref.Type,
		ID:         ref.ID,
		attributes: make(map[string]interface{}),
		shell:      true,
	}
}

// Ref returns the entity's identity.
func (e *Entity) Ref() Ref {
	return Ref{Type: e.Type, ID: e.ID}
}

// IsSaved reports whether the store has assigned an id.
func (e *Entity) IsSaved() bool {
	return e.ID != Unsaved
}

// IsShell reports whether only the identity of the entity is known.
func (e *Entity) IsShell() bool {
	return e.shell
}

// Attribute returns the value of a field, or nil.
func (e *Entity) Attribute(name string) interface{} {
	return e.attributes[name]
}

// SetAttribute stores a value. Values are coerced to the field type on save.
func (e *Entity) SetAttribute(name string, value interface{}) {
	if e.attributes == nil {
		e.attributes = make(map[string]interface{})
	}
	e.attributes[name] = value
	e.shell = false
}

// AttributeNames returns the names of set attributes in sorted order.
func (e *Entity) AttributeNames() []string {
	names := make([]string, 0, len(e.attributes))
	for k := range e.attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone copies the entity and its attribute values. Referenced entities
// are copied as shells so the clone shares no pointers with e.
func (e *Entity) Clone() *Entity {
	out := &Entity{
		Type:       e.Type,
		ID:         e.ID,
		attributes: make(map[string]interface{}, len(e.attributes)),
		shell:      e.shell,
	}
	for k, v := range e.attributes {
		out.attributes[k] = cloneValue(v)
	}
	return out
}

func (e *Entity) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{", e.Type, e.ID)
	for i, name := range e.AttributeNames() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", name, formatValue(e.attributes[name]))
	}
	b.WriteString("}")
	return b.String()
}

func formatValue(v interface{}) string {
	switch tv := v.(type) {
	case nil:
		return "null"
	case *Entity:
		if tv == nil {
			return "null"
		}
		return tv.Ref().String()
	case []*Entity:
		parts := make([]string, len(tv))
		for i, r := range tv {
			parts[i] = formatValue(r)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(tv))
	default:
		return fmt.Sprintf("%v", tv)
	}
}

// cloneValue copies canonical attribute values.
func cloneValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case *Entity:
		if tv == nil {
			return (*Entity)(nil)
		}
		return NewShell(tv.Ref())
	case []*Entity:
		if tv == nil {
			return tv
		}
		out := make([]*Entity, len(tv))
		for i, r := range tv {
			if r != nil {
				out[i] = NewShell(r.Ref())
			}
		}
		return out
	case []byte:
		return cloneSlice(tv)
	case []bool:
		return cloneSlice(tv)
	case []int32:
		return cloneSlice(tv)
	case []int64:
		return cloneSlice(tv)
	case []float32:
		return cloneSlice(tv)
	case []float64:
		return cloneSlice(tv)
	case []string:
		return cloneSlice(tv)
	case []time.Time:
		return cloneSlice(tv)
	case [][]byte:
		if tv == nil {
			return tv
		}
		out := make([][]byte, len(tv))
		for i, b := range tv {
			out[i] = cloneSlice(b)
		}
		return out
	default:
		return v
	}
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
