package memstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

type undoRecord struct {
	b        *bucket
	key      []byte
	data     []byte
	inserted bool
}

type txn struct {
	s        *Store
	id       string
	writable bool
	done     bool
	undo     []undoRecord
	redo     []logOp
	cursors  map[*cursor]struct{}
}

func newTxn(s *Store, writable bool) *txn {
	return &txn{
		s:        s,
		id:       uuid.NewString(),
		writable: writable,
		cursors:  make(map[*cursor]struct{}),
	}
}

func (t *txn) ID() string     { return t.id }
func (t *txn) Writable() bool { return t.writable }

func (t *txn) check(write bool) error {
	if t.done {
		return errors.Closed("transaction " + t.id)
	}
	if write && !t.writable {
		return errors.InternalError("write in a read-only transaction", nil).WithDetail("txn", t.id)
	}
	return nil
}

func (t *txn) bucket(name string) (*bucket, error) {
	b, ok := t.s.buckets[name]
	if !ok {
		return nil, errors.InternalError(fmt.Sprintf("bucket '%s' does not exist", name), nil).
			WithDetail("bucket", name)
	}
	return b, nil
}

func (t *txn) Get(ctx context.Context, bucketName string, key []byte) ([]byte, kv.OpStatus, error) {
	if err := t.check(false); err != nil {
		return nil, kv.NotFound, err
	}
	b, err := t.bucket(bucketName)
	if err != nil {
		return nil, kv.NotFound, err
	}
	n := b.list.seekKey(key)
	if n == nil || !bytes.Equal(n.key, key) {
		return nil, kv.NotFound, nil
	}
	return bytes.Clone(n.data), kv.Success, nil
}

func (t *txn) Put(ctx context.Context, bucketName string, key, data []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	b, err := t.bucket(bucketName)
	if err != nil {
		return err
	}
	key, data = bytes.Clone(key), bytes.Clone(data)
	if key == nil {
		key = []byte{}
	}
	if data == nil {
		data = []byte{}
	}

	if !b.dupSort {
		for _, old := range b.list.pairsOf(key) {
			if bytes.Equal(old, data) {
				return nil
			}
			b.list.remove(key, old)
			t.undo = append(t.undo, undoRecord{b: b, key: key, data: old})
		}
	}
	if b.list.insert(key, data) {
		t.undo = append(t.undo, undoRecord{b: b, key: key, data: data, inserted: true})
		t.redo = append(t.redo, logOp{Op: opPut, Bucket: b.name, Key: key, Data: data})
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, bucketName string, key []byte) (kv.OpStatus, error) {
	if err := t.check(true); err != nil {
		return kv.NotFound, err
	}
	b, err := t.bucket(bucketName)
	if err != nil {
		return kv.NotFound, err
	}
	pairs := b.list.pairsOf(key)
	if len(pairs) == 0 {
		return kv.NotFound, nil
	}
	for _, d := range pairs {
		t.removePair(b, key, d)
	}
	return kv.Success, nil
}

func (t *txn) DeleteDup(ctx context.Context, bucketName string, key, data []byte) (kv.OpStatus, error) {
	if err := t.check(true); err != nil {
		return kv.NotFound, err
	}
	b, err := t.bucket(bucketName)
	if err != nil {
		return kv.NotFound, err
	}
	if !t.removePair(b, key, data) {
		return kv.NotFound, nil
	}
	return kv.Success, nil
}

func (t *txn) removePair(b *bucket, key, data []byte) bool {
	key, data = bytes.Clone(key), bytes.Clone(data)
	if !b.list.remove(key, data) {
		return false
	}
	t.undo = append(t.undo, undoRecord{b: b, key: key, data: data})
	t.redo = append(t.redo, logOp{Op: opDeleteDup, Bucket: b.name, Key: key, Data: data})
	return true
}

func (t *txn) Cursor(ctx context.Context, bucketName string) (kv.Cursor, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	b, err := t.bucket(bucketName)
	if err != nil {
		return nil, err
	}
	c := &cursor{txn: t, b: b}
	t.cursors[c] = struct{}{}
	return c, nil
}

// Commit makes the writes durable. A failed log append rolls back.
func (t *txn) Commit() error {
	if t.done {
		return errors.Closed("transaction " + t.id)
	}
	if t.writable {
		if err := t.s.appendLog(t.id, t.redo); err != nil {
			t.rollback()
			t.finish()
			return err
		}
	}
	t.finish()
	return nil
}

// Rollback discards the writes. Rolling back a finished transaction is a no-op.
func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.rollback()
	t.finish()
	return nil
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		u := t.undo[i]
		if u.inserted {
			u.b.list.remove(u.key, u.data)
		} else {
			u.b.list.insert(u.key, u.data)
		}
	}
}

func (t *txn) finish() {
	for c := range t.cursors {
		c.closed = true
	}
	t.cursors = nil
	t.undo = nil
	t.redo = nil
	t.done = true
	t.s.release(t.writable)
}
