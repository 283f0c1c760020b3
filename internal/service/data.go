package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/binding"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/model"
)

// saveState tracks one SaveEntity call across the reference graph.
type saveState struct {
	txn      kv.Txn
	visiting map[*model.Entity]bool
	assigned []*model.Entity
	touched  map[string]bool
	entries  map[[2]string]int
	// values holds the canonical attributes of every saved entity. They
	// are copied into the caller's entities once the transaction commits.
	values map[*model.Entity]map[string]interface{}
}

// SaveEntity inserts or updates e. An unsaved entity gets the next id of
// its type; unsaved entities it references are saved first, in the same
// transaction. Attribute values are replaced by their canonical form.
func (s *EntityStore) SaveEntity(ctx context.Context, e *model.Entity) error {
	if e == nil {
		return errors.InvalidArgument("entity is required", nil)
	}
	start := time.Now()

	st := &saveState{
		visiting: make(map[*model.Entity]bool),
		touched:  make(map[string]bool),
		entries:  make(map[[2]string]int),
		values:   make(map[*model.Entity]map[string]interface{}),
	}
	s.schemaMu.RLock()
	err := kv.Update(ctx, s.store, func(txn kv.Txn) error {
		st.txn = txn
		return s.save(ctx, st, e)
	})
	s.schemaMu.RUnlock()
	if err != nil {
		for _, a := range st.assigned {
			a.ID = model.Unsaved
		}
		s.recordError("save_entity", err)
		s.logger.Debug("Save failed",
			zap.String("entity", e.Type),
			zap.Error(err))
		return err
	}

	for saved, values := range st.values {
		for name, v := range values {
			saved.SetAttribute(name, v)
		}
	}
	for t := range st.touched {
		s.invalidate(ctx, t)
		if s.metrics != nil {
			s.metrics.RecordWrite(t, "save", time.Since(start))
		}
	}
	if s.metrics != nil {
		for key, n := range st.entries {
			s.metrics.RecordIndexEntries(key[0], key[1], n)
		}
	}

	s.logger.Debug("Saved entity",
		zap.String("entity", e.Type),
		zap.Int64("id", e.ID),
		zap.Int("saved", len(st.visiting)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *EntityStore) save(ctx context.Context, st *saveState, e *model.Entity) error {
	if st.visiting[e] {
		return nil
	}
	st.visiting[e] = true

	// A saved shell carries no attributes to write.
	if e.IsShell() && e.IsSaved() {
		return nil
	}

	def, ris, err := s.snapshot(e.Type)
	if err != nil {
		return err
	}

	set := make(map[string]bool)
	for _, name := range e.AttributeNames() {
		if !def.HasField(name) {
			return errors.UnknownField(def.Name, name)
		}
		set[name] = true
	}

	// Unset attributes take a fresh copy of their default.
	var defaults *model.Entity
	values := make(map[string]interface{}, len(def.Fields))
	for _, f := range def.Fields {
		raw := e.Attribute(f.Name)
		if !set[f.Name] {
			if defaults == nil {
				defaults = def.CreateInstance()
			}
			raw = defaults.Attribute(f.Name)
		}
		v, err := model.Coerce(f, raw)
		if err != nil {
			return err
		}
		if f.Required && v == nil {
			return errors.RequiredMissing(def.Name, f.Name)
		}
		values[f.Name] = v
	}

	bucket := model.PrimaryBucket(def.Name)
	var old *model.Entity
	if e.IsSaved() {
		data, status, err := st.txn.Get(ctx, bucket, idKey(e.ID))
		if err != nil {
			return err
		}
		if status != kv.Success {
			return errors.EntityNotFound(def.Name, e.ID)
		}
		if old, err = binding.UnmarshalEntity(def, data); err != nil {
			return err
		}
	} else {
		id, err := s.nextID(ctx, st.txn, def.Name)
		if err != nil {
			return err
		}
		e.ID = id
		st.assigned = append(st.assigned, e)
	}

	// Referenced entities need ids before keys and the record are built.
	for _, f := range def.ReferenceFields() {
		for _, r := range referencesOf(values[f.Name]) {
			if !r.IsSaved() {
				if err := s.save(ctx, st, r); err != nil {
					return err
				}
			}
		}
	}
	record := model.NewEntity(def.Name)
	record.ID = e.ID
	for name, v := range values {
		record.SetAttribute(name, v)
	}
	st.values[e] = values

	id := idKey(e.ID)
	for _, ri := range ris {
		added, err := s.updateEntries(ctx, st.txn, ri, old, record, id)
		if err != nil {
			return err
		}
		st.entries[[2]string{def.Name, ri.index.Name}] += added
	}

	data, err := binding.MarshalEntity(def, record)
	if err != nil {
		return err
	}
	if err := st.txn.Put(ctx, bucket, id, data); err != nil {
		return err
	}
	st.touched[def.Name] = true
	return nil
}

// updateEntries replaces the entries old contributed to an index with the
// entries of e. Unchanged keys are left alone.
func (s *EntityStore) updateEntries(ctx context.Context, txn kv.Txn, ri *registeredIndex, old, e *model.Entity, id []byte) (int, error) {
	newKeys, err := ri.schema.EntryKeys(e)
	if err != nil {
		return 0, err
	}
	var oldKeys [][]byte
	if old != nil {
		if oldKeys, err = ri.schema.EntryKeys(old); err != nil {
			return 0, err
		}
	}

	bucket := ri.index.Bucket()
	for _, k := range oldKeys {
		if !containsKey(newKeys, k) {
			if _, err := txn.DeleteDup(ctx, bucket, k, id); err != nil {
				return 0, err
			}
		}
	}
	added := 0
	for _, k := range newKeys {
		if !containsKey(oldKeys, k) {
			if err := txn.Put(ctx, bucket, k, id); err != nil {
				return 0, err
			}
			added++
		}
	}
	return added, nil
}

// nextID advances the per-type id sequence. Ids start at 1.
func (s *EntityStore) nextID(ctx context.Context, txn kv.Txn, entity string) (int64, error) {
	key := []byte(entity)
	data, status, err := txn.Get(ctx, sequenceBucket, key)
	if err != nil {
		return 0, err
	}
	var last int64
	if status == kv.Success {
		in := binding.NewTupleInput(data)
		last = in.ReadLong()
		if err := in.Err(); err != nil {
			return 0, err
		}
	}

	out := binding.NewTupleOutput()
	out.WriteLong(last + 1)
	if err := txn.Put(ctx, sequenceBucket, key, out.Bytes()); err != nil {
		return 0, err
	}
	return last + 1, nil
}

// GetEntity loads one entity by id. References come back as shells.
func (s *EntityStore) GetEntity(ctx context.Context, entityType string, id int64) (*model.Entity, error) {
	def, err := s.EntityDefinition(entityType)
	if err != nil {
		return nil, err
	}

	var e *model.Entity
	err = kv.View(ctx, s.store, func(txn kv.Txn) error {
		loaded, found, err := s.load(ctx, txn, def, id)
		if err != nil {
			return err
		}
		if !found {
			return errors.EntityNotFound(entityType, id)
		}
		e = loaded
		return nil
	})
	if err != nil {
		s.recordError("get_entity", err)
		return nil, err
	}
	return e, nil
}

func (s *EntityStore) load(ctx context.Context, txn kv.Txn, def *model.EntityDefinition, id int64) (*model.Entity, bool, error) {
	data, status, err := txn.Get(ctx, model.PrimaryBucket(def.Name), idKey(id))
	if err != nil {
		return nil, false, err
	}
	if status != kv.Success {
		return nil, false, nil
	}
	e, err := binding.UnmarshalEntity(def, data)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// DeleteEntity removes e, its index entries and, through fields marked
// cascade-on-delete, the entities it references. Each entity is deleted
// at most once, so reference cycles terminate. On success e is unsaved.
func (s *EntityStore) DeleteEntity(ctx context.Context, e *model.Entity) error {
	if e == nil || !e.IsSaved() {
		return errors.InvalidArgument("only saved entities can be deleted", nil)
	}
	start := time.Now()

	deleted := make(map[model.Ref]bool)
	s.schemaMu.RLock()
	err := kv.Update(ctx, s.store, func(txn kv.Txn) error {
		return s.deleteCascade(ctx, txn, e.Ref(), deleted, true)
	})
	s.schemaMu.RUnlock()
	if err != nil {
		s.recordError("delete_entity", err)
		return err
	}

	types := make(map[string]bool)
	for ref := range deleted {
		types[ref.Type] = true
	}
	for t := range types {
		s.invalidate(ctx, t)
		if s.metrics != nil {
			s.metrics.RecordWrite(t, "delete", time.Since(start))
		}
	}

	s.logger.Debug("Deleted entity",
		zap.String("entity", e.Type),
		zap.Int64("id", e.ID),
		zap.Int("cascaded", len(deleted)-1))
	e.ID = model.Unsaved
	return nil
}

func (s *EntityStore) deleteCascade(ctx context.Context, txn kv.Txn, ref model.Ref, deleted map[model.Ref]bool, top bool) error {
	if deleted[ref] {
		return nil
	}

	def, ris, err := s.snapshot(ref.Type)
	if err != nil {
		return err
	}
	old, found, err := s.load(ctx, txn, def, ref.ID)
	if err != nil {
		return err
	}
	if !found {
		if top {
			return errors.EntityNotFound(ref.Type, ref.ID)
		}
		// dangling reference
		return nil
	}
	deleted[ref] = true

	id := idKey(ref.ID)
	for _, ri := range ris {
		keys, err := ri.schema.EntryKeys(old)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if _, err := txn.DeleteDup(ctx, ri.index.Bucket(), k, id); err != nil {
				return err
			}
		}
	}
	if _, err := txn.Delete(ctx, model.PrimaryBucket(def.Name), id); err != nil {
		return err
	}

	for _, f := range def.ReferenceFields() {
		if !f.CascadeOnDelete {
			continue
		}
		for _, r := range referencesOf(old.Attribute(f.Name)) {
			if r.IsSaved() {
				if err := s.deleteCascade(ctx, txn, r.Ref(), deleted, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// FillReferences replaces reference shells in the named fields, or in
// every reference field when none are named, with loaded entities.
// Unsaved shells and dangling references stay shells.
func (s *EntityStore) FillReferences(ctx context.Context, e *model.Entity, fields ...string) error {
	if e == nil {
		return errors.InvalidArgument("entity is required", nil)
	}
	def, err := s.EntityDefinition(e.Type)
	if err != nil {
		return err
	}
	targets, err := fillTargets(def, fields)
	if err != nil {
		return err
	}
	return kv.View(ctx, s.store, func(txn kv.Txn) error {
		return s.fill(ctx, txn, e, targets)
	})
}

// fillTargets resolves the fields to fill, all reference fields by default.
func fillTargets(def *model.EntityDefinition, fields []string) ([]*model.FieldDefinition, error) {
	if len(fields) == 0 {
		return def.ReferenceFields(), nil
	}
	out := make([]*model.FieldDefinition, 0, len(fields))
	for _, name := range fields {
		f, ok := def.Field(name)
		if !ok {
			return nil, errors.UnknownField(def.Name, name)
		}
		if !f.IsReference() {
			return nil, errors.InvalidArgument(fmt.Sprintf("field '%s.%s' is not a reference", def.Name, name), nil).
				WithDetail("field", name)
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *EntityStore) fill(ctx context.Context, txn kv.Txn, e *model.Entity, targets []*model.FieldDefinition) error {
	for _, f := range targets {
		switch v := e.Attribute(f.Name).(type) {
		case *model.Entity:
			loaded, err := s.dereference(ctx, txn, v)
			if err != nil {
				return err
			}
			e.SetAttribute(f.Name, loaded)
		case []*model.Entity:
			out := make([]*model.Entity, len(v))
			for i, r := range v {
				loaded, err := s.dereference(ctx, txn, r)
				if err != nil {
					return err
				}
				out[i] = loaded
			}
			e.SetAttribute(f.Name, out)
		}
	}
	return nil
}

func (s *EntityStore) dereference(ctx context.Context, txn kv.Txn, r *model.Entity) (*model.Entity, error) {
	if r == nil || !r.IsShell() || !r.IsSaved() {
		return r, nil
	}
	def, err := s.EntityDefinition(r.Type)
	if err != nil {
		return nil, err
	}
	loaded, found, err := s.load(ctx, txn, def, r.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		s.logger.Debug("Dangling reference", zap.String("ref", r.Ref().String()))
		return r, nil
	}
	return loaded, nil
}

// referencesOf lists the non-nil entities held by a reference value.
func referencesOf(v interface{}) []*model.Entity {
	switch tv := v.(type) {
	case *model.Entity:
		if tv != nil {
			return []*model.Entity{tv}
		}
	case []*model.Entity:
		out := make([]*model.Entity, 0, len(tv))
		for _, r := range tv {
			if r != nil {
				out = append(out, r)
			}
		}
		return out
	}
	return nil
}

func containsKey(keys [][]byte, k []byte) bool {
	for _, x := range keys {
		if bytes.Equal(x, k) {
			return true
		}
	}
	return false
}
