package pgstore

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

const (
	selectPair = `SELECT k, d FROM kv_entries WHERE bucket = $1 AND `
	ascending  = ` ORDER BY k, d LIMIT 1`
	descending = ` ORDER BY k DESC, d DESC LIMIT 1`
)

// cursor remembers the current pair and re-queries relative to it, so
// every movement is one indexed lookup on (bucket, k, d).
type cursor struct {
	ctx       context.Context
	txn       *txn
	bucket    string
	key, data []byte
	valid     bool
	closed    bool
}

func (c *cursor) fetch(where, order string, args ...any) (kv.OpStatus, error) {
	if c.closed || c.txn.done {
		return kv.NotFound, errors.Closed("cursor")
	}

	var k, d []byte
	err := c.txn.tx.QueryRow(c.ctx, selectPair+where+order, append([]any{c.bucket}, args...)...).Scan(&k, &d)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return kv.NotFound, nil
	}
	if err != nil {
		return kv.NotFound, mapError("cursor movement failed", err)
	}
	c.key, c.data, c.valid = k, d, true
	return kv.Success, nil
}

func (c *cursor) SearchKey(key []byte) (kv.OpStatus, error) {
	return c.fetch(`k = $2`, ascending, nonNil(key))
}

func (c *cursor) SearchKeyRange(key []byte) (kv.OpStatus, error) {
	return c.fetch(`k >= $2`, ascending, nonNil(key))
}

func (c *cursor) SearchBoth(key, data []byte) (kv.OpStatus, error) {
	return c.fetch(`k = $2 AND d = $3`, ascending, nonNil(key), nonNil(data))
}

func (c *cursor) SearchBothRange(key, data []byte) (kv.OpStatus, error) {
	return c.fetch(`(k, d) >= ($2, $3)`, ascending, nonNil(key), nonNil(data))
}

func (c *cursor) First() (kv.OpStatus, error) {
	return c.fetch(`true`, ascending)
}

func (c *cursor) Last() (kv.OpStatus, error) {
	return c.fetch(`true`, descending)
}

func (c *cursor) Next() (kv.OpStatus, error) {
	if !c.valid {
		return c.First()
	}
	return c.fetch(`(k, d) > ($2, $3)`, ascending, c.key, c.data)
}

func (c *cursor) Prev() (kv.OpStatus, error) {
	if !c.valid {
		return c.Last()
	}
	return c.fetch(`(k, d) < ($2, $3)`, descending, c.key, c.data)
}

func (c *cursor) NextDup() (kv.OpStatus, error) {
	if !c.valid {
		return c.notPositioned()
	}
	return c.fetch(`k = $2 AND d > $3`, ascending, c.key, c.data)
}

func (c *cursor) PrevDup() (kv.OpStatus, error) {
	if !c.valid {
		return c.notPositioned()
	}
	return c.fetch(`k = $2 AND d < $3`, descending, c.key, c.data)
}

func (c *cursor) NextNoDup() (kv.OpStatus, error) {
	if !c.valid {
		return c.First()
	}
	return c.fetch(`k > $2`, ascending, c.key)
}

func (c *cursor) PrevNoDup() (kv.OpStatus, error) {
	if !c.valid {
		return c.Last()
	}
	return c.fetch(`k < $2`, descending, c.key)
}

func (c *cursor) notPositioned() (kv.OpStatus, error) {
	if c.closed || c.txn.done {
		return kv.NotFound, errors.Closed("cursor")
	}
	return kv.NotFound, nil
}

func (c *cursor) Key() []byte  { return c.key }
func (c *cursor) Data() []byte { return c.data }

func (c *cursor) Close() error {
	c.closed = true
	return nil
}
