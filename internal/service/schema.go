package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/binding"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/keycodec"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/model"
)

// Catalog keys. Definitions sort before indexes, so a reload sees every
// entity type before the indexes declared on it.
func definitionKey(entity string) []byte {
	return []byte("def/" + entity)
}

func indexKey(entity, name string) []byte {
	return []byte("idx/" + entity + "/" + name)
}

// reload rebuilds the in-memory registry from the catalog bucket.
func (s *EntityStore) reload(ctx context.Context) error {
	defs := make(map[string]*model.EntityDefinition)
	indexes := make(map[string]map[string]*registeredIndex)

	err := kv.View(ctx, s.store, func(txn kv.Txn) error {
		c, err := txn.Cursor(ctx, catalogBucket)
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.First()
		for ; err == nil && st == kv.Success; st, err = c.Next() {
			key := string(c.Key())
			switch {
			case strings.HasPrefix(key, "def/"):
				def, err := binding.UnmarshalEntityDefinition(c.Data())
				if err != nil {
					return err
				}
				defs[def.Name] = def
			case strings.HasPrefix(key, "idx/"):
				ix, err := binding.UnmarshalEntityIndex(c.Data())
				if err != nil {
					return err
				}
				def, ok := defs[ix.Entity]
				if !ok {
					return errors.CorruptedData(fmt.Sprintf("catalog index '%s' refers to unknown entity '%s'", ix.Name, ix.Entity), nil)
				}
				ks, err := index.NewKeySchema(ix, def)
				if err != nil {
					return err
				}
				if indexes[ix.Entity] == nil {
					indexes[ix.Entity] = make(map[string]*registeredIndex)
				}
				indexes[ix.Entity][ix.Name] = &registeredIndex{index: ix, schema: ks}
			default:
				return errors.CorruptedData(fmt.Sprintf("unexpected catalog key %q", key), nil)
			}
		}
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.defs = defs
	s.indexes = indexes
	s.mu.Unlock()
	s.updateSchemaStats()
	return nil
}

// AddEntityDefinition registers a new entity type. Registering a name that
// already exists reports AlreadyExists and leaves the catalog untouched.
func (s *EntityStore) AddEntityDefinition(ctx context.Context, def *model.EntityDefinition) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	def, err := s.prepareDefinition(def)
	if err != nil {
		return err
	}
	if _, err := s.EntityDefinition(def.Name); err == nil {
		return errors.AlreadyExists("entity", def.Name)
	}

	data, err := binding.MarshalEntityDefinition(def)
	if err != nil {
		return err
	}
	if err := s.store.EnsureBucket(ctx, model.PrimaryBucket(def.Name), false); err != nil {
		return err
	}
	err = kv.Update(ctx, s.store, func(txn kv.Txn) error {
		return txn.Put(ctx, catalogBucket, definitionKey(def.Name), data)
	})
	if err != nil {
		s.recordError("add_entity_definition", err)
		return err
	}

	s.mu.Lock()
	s.defs[def.Name] = def
	s.mu.Unlock()
	s.updateSchemaStats()

	s.logger.Info("Registered entity type",
		zap.String("entity", def.Name),
		zap.Int("fields", len(def.Fields)))
	return nil
}

// prepareDefinition validates names and returns a private copy with
// defaults in their canonical representation.
func (s *EntityStore) prepareDefinition(def *model.EntityDefinition) (*model.EntityDefinition, error) {
	if def == nil {
		return nil, errors.InvalidArgument("entity definition is required", nil)
	}
	if err := s.validator.ValidateEntityName(def.Name); err != nil {
		return nil, err
	}
	out := &model.EntityDefinition{Name: def.Name}
	for _, f := range def.Fields {
		f, err := s.prepareField(f, f.DefaultValue)
		if err != nil {
			return nil, err
		}
		if err := out.AddField(f); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *EntityStore) prepareField(f *model.FieldDefinition, defaultValue interface{}) (*model.FieldDefinition, error) {
	if f == nil {
		return nil, errors.InvalidArgument("field definition is required", nil)
	}
	if err := s.validator.ValidateFieldName(f.Name); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateComment(f.Comment); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := f.Clone()
	if err := out.SetDefault(defaultValue); err != nil {
		return nil, err
	}
	return out, nil
}

// AddEntityField appends a field to an existing type. Records written
// before the change read the new field as its default.
func (s *EntityStore) AddEntityField(ctx context.Context, entity string, field *model.FieldDefinition, defaultValue interface{}) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	current, err := s.EntityDefinition(entity)
	if err != nil {
		return err
	}
	f, err := s.prepareField(field, defaultValue)
	if err != nil {
		return err
	}
	def := current.Clone()
	if err := def.AddField(f); err != nil {
		return err
	}

	data, err := binding.MarshalEntityDefinition(def)
	if err != nil {
		return err
	}
	err = kv.Update(ctx, s.store, func(txn kv.Txn) error {
		return txn.Put(ctx, catalogBucket, definitionKey(entity), data)
	})
	if err != nil {
		s.recordError("add_entity_field", err)
		return err
	}

	s.mu.Lock()
	s.defs[entity] = def
	for _, ri := range s.indexes[entity] {
		if ks, err := index.NewKeySchema(ri.index, def); err == nil {
			ri.schema = ks
		}
	}
	s.mu.Unlock()
	s.invalidate(ctx, entity)

	s.logger.Info("Added entity field",
		zap.String("entity", entity),
		zap.String("field", f.Name),
		zap.String("type", f.Type.String()))
	return nil
}

// AddEntityIndex declares a secondary index and backfills it from the
// records already stored.
func (s *EntityStore) AddEntityIndex(ctx context.Context, entity string, fields []string, kind model.IndexKind, name string, attrs map[string]string) (*model.EntityIndex, error) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if err := s.validator.ValidateIndexName(name); err != nil {
		return nil, err
	}
	if err := s.validator.ValidateIndexFields(fields); err != nil {
		return nil, err
	}
	def, err := s.EntityDefinition(entity)
	if err != nil {
		return nil, err
	}
	if _, err := s.EntityIndex(entity, name); err == nil {
		return nil, errors.AlreadyExists("index", entity+"."+name)
	}

	ix := &model.EntityIndex{
		Entity: entity,
		Name:   name,
		Kind:   kind,
		Fields: append([]string(nil), fields...),
	}
	if len(attrs) > 0 {
		ix.Attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			ix.Attributes[k] = v
		}
	}
	if err := ix.Validate(def); err != nil {
		return nil, err
	}
	ks, err := index.NewKeySchema(ix, def)
	if err != nil {
		return nil, err
	}

	// A bucket without a catalog entry is left over from an interrupted
	// registration; its entries cannot be trusted.
	if err := s.store.DropBucket(ctx, ix.Bucket()); err != nil {
		return nil, err
	}
	if err := s.store.EnsureBucket(ctx, ix.Bucket(), true); err != nil {
		return nil, err
	}

	backfilled := 0
	err = kv.Update(ctx, s.store, func(txn kv.Txn) error {
		if err := txn.Put(ctx, catalogBucket, indexKey(entity, name), binding.MarshalEntityIndex(ix)); err != nil {
			return err
		}
		n, err := s.backfill(ctx, txn, def, ks)
		backfilled = n
		return err
	})
	if err != nil {
		s.recordError("add_entity_index", err)
		return nil, err
	}

	s.mu.Lock()
	if s.indexes[entity] == nil {
		s.indexes[entity] = make(map[string]*registeredIndex)
	}
	s.indexes[entity][name] = &registeredIndex{index: ix, schema: ks}
	s.mu.Unlock()
	s.updateSchemaStats()
	s.invalidate(ctx, entity)

	if s.metrics != nil {
		s.metrics.RecordIndexEntries(entity, name, backfilled)
	}
	s.logger.Info("Registered index",
		zap.String("entity", entity),
		zap.String("index", name),
		zap.String("kind", kind.String()),
		zap.Strings("fields", fields),
		zap.Int("backfilled_entries", backfilled))
	return ix, nil
}

// backfill writes the entries of every stored record into a new index.
func (s *EntityStore) backfill(ctx context.Context, txn kv.Txn, def *model.EntityDefinition, ks *index.KeySchema) (int, error) {
	c, err := txn.Cursor(ctx, model.PrimaryBucket(def.Name))
	if err != nil {
		return 0, err
	}
	defer c.Close()

	type entry struct{ key, data []byte }
	var pending []entry

	st, err := c.First()
	for ; err == nil && st == kv.Success; st, err = c.Next() {
		e, err := binding.UnmarshalEntity(def, c.Data())
		if err != nil {
			return 0, err
		}
		keys, err := ks.EntryKeys(e)
		if err != nil {
			return 0, err
		}
		id := bytes.Clone(c.Key())
		for _, k := range keys {
			pending = append(pending, entry{k, id})
		}
	}
	if err != nil {
		return 0, err
	}

	bucket := ks.Index.Bucket()
	for _, p := range pending {
		if err := txn.Put(ctx, bucket, p.key, p.data); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}

// DeleteEntityIndex removes an index declaration and its entries.
func (s *EntityStore) DeleteEntityIndex(ctx context.Context, entity, name string) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if name == model.PrimaryIndex {
		return errors.InvalidArgument("the primary index cannot be deleted", nil).WithDetail("entity", entity)
	}
	ix, err := s.EntityIndex(entity, name)
	if err != nil {
		return err
	}

	err = kv.Update(ctx, s.store, func(txn kv.Txn) error {
		_, err := txn.Delete(ctx, catalogBucket, indexKey(entity, name))
		return err
	})
	if err != nil {
		s.recordError("delete_entity_index", err)
		return err
	}

	s.mu.Lock()
	delete(s.indexes[entity], name)
	s.mu.Unlock()
	s.updateSchemaStats()
	s.invalidate(ctx, entity)

	if err := s.store.DropBucket(ctx, ix.Bucket()); err != nil {
		// The catalog no longer names the bucket; a later registration
		// under the same name drops it first.
		s.logger.Warn("Failed to drop index bucket", zap.String("bucket", ix.Bucket()), zap.Error(err))
	}

	s.logger.Info("Deleted index", zap.String("entity", entity), zap.String("index", name))
	return nil
}

// idKey is the primary bucket key of an entity id.
func idKey(id int64) []byte {
	return keycodec.EncodeLong(id)
}
