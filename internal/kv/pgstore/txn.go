package pgstore

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

type txn struct {
	ctx      context.Context
	s        *Store
	tx       pgx.Tx
	id       string
	writable bool
	done     bool
}

func newTxn(ctx context.Context, s *Store, tx pgx.Tx, writable bool) *txn {
	return &txn{ctx: ctx, s: s, tx: tx, id: uuid.NewString(), writable: writable}
}

func (t *txn) ID() string     { return t.id }
func (t *txn) Writable() bool { return t.writable }

func (t *txn) check(ctx context.Context, bucket string, write bool) (bool, error) {
	if t.done {
		return false, errors.Closed("transaction " + t.id)
	}
	if write && !t.writable {
		return false, errors.InternalError("write in a read-only transaction", nil).WithDetail("txn", t.id)
	}
	dup, ok, err := t.s.lookupBucket(ctx, t.tx, bucket)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, errors.InternalError(fmt.Sprintf("bucket '%s' does not exist", bucket), nil).
			WithDetail("bucket", bucket)
	}
	return dup, nil
}

func (t *txn) Get(ctx context.Context, bucket string, key []byte) ([]byte, kv.OpStatus, error) {
	if _, err := t.check(ctx, bucket, false); err != nil {
		return nil, kv.NotFound, err
	}
	var data []byte
	err := t.tx.QueryRow(ctx,
		`SELECT d FROM kv_entries WHERE bucket = $1 AND k = $2 ORDER BY d LIMIT 1`,
		bucket, key).Scan(&data)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, kv.NotFound, nil
	}
	if err != nil {
		return nil, kv.NotFound, mapError("get failed", err)
	}
	return data, kv.Success, nil
}

func (t *txn) Put(ctx context.Context, bucket string, key, data []byte) error {
	dup, err := t.check(ctx, bucket, true)
	if err != nil {
		return err
	}
	key, data = nonNil(key), nonNil(data)

	if !dup {
		if _, err := t.tx.Exec(ctx,
			`DELETE FROM kv_entries WHERE bucket = $1 AND k = $2 AND d <> $3`,
			bucket, key, data); err != nil {
			return mapError("put failed", err)
		}
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO kv_entries (bucket, k, d) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		bucket, key, data); err != nil {
		return mapError("put failed", err)
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, bucket string, key []byte) (kv.OpStatus, error) {
	if _, err := t.check(ctx, bucket, true); err != nil {
		return kv.NotFound, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM kv_entries WHERE bucket = $1 AND k = $2`, bucket, nonNil(key))
	if err != nil {
		return kv.NotFound, mapError("delete failed", err)
	}
	if tag.RowsAffected() == 0 {
		return kv.NotFound, nil
	}
	return kv.Success, nil
}

func (t *txn) DeleteDup(ctx context.Context, bucket string, key, data []byte) (kv.OpStatus, error) {
	if _, err := t.check(ctx, bucket, true); err != nil {
		return kv.NotFound, err
	}
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM kv_entries WHERE bucket = $1 AND k = $2 AND d = $3`,
		bucket, nonNil(key), nonNil(data))
	if err != nil {
		return kv.NotFound, mapError("delete failed", err)
	}
	if tag.RowsAffected() == 0 {
		return kv.NotFound, nil
	}
	return kv.Success, nil
}

func (t *txn) Cursor(ctx context.Context, bucket string) (kv.Cursor, error) {
	if _, err := t.check(ctx, bucket, false); err != nil {
		return nil, err
	}
	return &cursor{ctx: ctx, txn: t, bucket: bucket}, nil
}

func (t *txn) Commit() error {
	if t.done {
		return errors.Closed("transaction " + t.id)
	}
	t.done = true
	if err := t.tx.Commit(t.ctx); err != nil {
		return mapError("commit failed", err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(t.ctx); err != nil && !stderrors.Is(err, pgx.ErrTxClosed) {
		return mapError("rollback failed", err)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
