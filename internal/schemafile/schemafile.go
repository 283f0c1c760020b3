// Package schemafile reads and writes the YAML schema bootstrap file and
// applies it to an entity store.
package schemafile

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
)

// NewReference is the default of a reference field that creates a fresh
// referenced entity on every insert.
const NewReference = "new"

// File is the bootstrap document.
type File struct {
	Entities []EntitySpec `yaml:"entities" json:"entities"`
	Indexes  []IndexSpec  `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

// EntitySpec declares one entity type
type EntitySpec struct {
	Name   string      `yaml:"name" json:"name"`
	Fields []FieldSpec `yaml:"fields" json:"fields"`
}

// FieldSpec declares one field
type FieldSpec struct {
	Name            string      `yaml:"name" json:"name"`
	Type            string      `yaml:"type" json:"type"`
	Reference       string      `yaml:"reference,omitempty" json:"reference,omitempty"`
	Default         interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Required        bool        `yaml:"required,omitempty" json:"required,omitempty"`
	CascadeOnDelete bool        `yaml:"cascade_on_delete,omitempty" json:"cascade_on_delete,omitempty"`
	Comment         string      `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// IndexSpec declares one secondary index
type IndexSpec struct {
	Entity     string            `yaml:"entity" json:"entity"`
	Name       string            `yaml:"name" json:"name"`
	Kind       string            `yaml:"kind" json:"kind"`
	Fields     []string          `yaml:"fields" json:"fields"`
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Registry is the part of the entity store a schema file is applied to.
type Registry interface {
	AddEntityDefinition(ctx context.Context, def *model.EntityDefinition) error
	AddEntityIndex(ctx context.Context, entity string, fields []string, kind model.IndexKind, name string, attrs map[string]string) (*model.EntityIndex, error)
}

// ApplyResult counts what Apply registered and what already existed.
type ApplyResult struct {
	Created  int
	Existing int
}

// Load reads and parses a schema file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidArgument(fmt.Sprintf("failed to read schema file %s", path), err)
	}
	return Parse(data)
}

// Parse decodes a schema document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.InvalidArgument("failed to parse schema file", err)
	}
	return &f, nil
}

// Definitions converts the entity specs into definitions.
func (f *File) Definitions() ([]*model.EntityDefinition, error) {
	out := make([]*model.EntityDefinition, 0, len(f.Entities))
	for _, es := range f.Entities {
		def, err := es.Definition()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Definition converts one entity spec.
func (es EntitySpec) Definition() (*model.EntityDefinition, error) {
	def := &model.EntityDefinition{Name: es.Name}
	for _, fs := range es.Fields {
		fd, err := fs.Definition()
		if err != nil {
			return nil, errors.InvalidDefinition(fmt.Sprintf("entity '%s': %v", es.Name, err)).
				WithDetail("entity", es.Name)
		}
		if err := def.AddField(fd); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// Definition converts one field spec. A reference default of "new" is an
// unsaved entity, a number is the id of an existing one.
func (fs FieldSpec) Definition() (*model.FieldDefinition, error) {
	t, err := model.ParseFieldType(fs.Type)
	if err != nil {
		return nil, err
	}
	var fd *model.FieldDefinition
	if t.BaseType() == model.TypeReference {
		fd, err = model.NewReferenceField(fs.Name, t, fs.Reference)
	} else {
		fd, err = model.NewFieldDefinition(fs.Name, t)
	}
	if err != nil {
		return nil, err
	}
	fd.Required = fs.Required
	fd.CascadeOnDelete = fs.CascadeOnDelete
	fd.Comment = fs.Comment

	def := fs.Default
	if t == model.TypeReference && def != nil {
		if def == NewReference {
			def = model.NewShell(model.Ref{Type: fs.Reference, ID: model.Unsaved})
		} else if id, err := model.Coerce(&model.FieldDefinition{Name: fs.Name, Type: model.TypeLong}, def); err == nil {
			def = model.Ref{Type: fs.Reference, ID: id.(int64)}
		}
	}
	if err := fd.SetDefault(def); err != nil {
		return nil, err
	}
	return fd, nil
}

// Apply registers every entity type and then every index. Declarations
// that already exist are counted and skipped, so applying the same file
// twice is harmless.
func Apply(ctx context.Context, reg Registry, f *File, logger *zap.Logger) (ApplyResult, error) {
	var res ApplyResult
	start := time.Now()

	defs, err := f.Definitions()
	if err != nil {
		return res, err
	}
	for _, def := range defs {
		if err := reg.AddEntityDefinition(ctx, def); err != nil {
			if errors.IsAlreadyExists(err) {
				res.Existing++
				continue
			}
			return res, err
		}
		res.Created++
	}

	for _, is := range f.Indexes {
		if _, err := is.Register(ctx, reg); err != nil {
			if errors.IsAlreadyExists(err) {
				res.Existing++
				continue
			}
			return res, err
		}
		res.Created++
	}

	logger.Info("Applied schema file",
		zap.Int("created", res.Created),
		zap.Int("existing", res.Existing),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// Register adds the index to reg.
func (is IndexSpec) Register(ctx context.Context, reg Registry) (*model.EntityIndex, error) {
	kind, err := model.ParseIndexKind(is.Kind)
	if err != nil {
		return nil, err
	}
	return reg.AddEntityIndex(ctx, is.Entity, is.Fields, kind, is.Name, is.Attributes)
}

// FromSchema renders registered definitions and indexes as a File.
func FromSchema(defs []*model.EntityDefinition, indexes []*model.EntityIndex) *File {
	f := &File{}
	for _, def := range defs {
		es := EntitySpec{Name: def.Name}
		for _, fd := range def.Fields {
			es.Fields = append(es.Fields, FieldSpecOf(fd))
		}
		f.Entities = append(f.Entities, es)
	}
	for _, ix := range indexes {
		f.Indexes = append(f.Indexes, IndexSpecOf(ix))
	}
	return f
}

// FieldSpecOf renders a field definition as a spec.
func FieldSpecOf(fd *model.FieldDefinition) FieldSpec {
	return FieldSpec{
		Name:            fd.Name,
		Type:            fd.Type.String(),
		Reference:       fd.ReferenceType,
		Required:        fd.Required,
		CascadeOnDelete: fd.CascadeOnDelete,
		Comment:         fd.Comment,
		Default:         yamlDefault(fd.DefaultValue),
	}
}

// IndexSpecOf renders an index as a spec.
func IndexSpecOf(ix *model.EntityIndex) IndexSpec {
	return IndexSpec{
		Entity:     ix.Entity,
		Name:       ix.Name,
		Kind:       ix.Kind.String(),
		Fields:     ix.Fields,
		Attributes: ix.Attributes,
	}
}

// yamlDefault maps a canonical default to a value Parse reads back.
func yamlDefault(v interface{}) interface{} {
	switch tv := v.(type) {
	case *model.Entity:
		if tv != nil && !tv.IsSaved() {
			return NewReference
		}
		if tv != nil {
			return tv.ID
		}
		return nil
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case []byte:
		return base64.StdEncoding.EncodeToString(tv)
	default:
		return v
	}
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}
