// Package kvtest is the behavioral contract every kv.Store
// implementation must pass.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityerrors "github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) kv.Store

type pair struct {
	key  string
	data string
}

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s kv.Store)
	}{
		{"UniquePutReplaces", testUniquePutReplaces},
		{"DupPairOrder", testDupPairOrder},
		{"Searches", testSearches},
		{"DupNavigation", testDupNavigation},
		{"NotFoundKeepsPosition", testNotFoundKeepsPosition},
		{"UnpositionedCursor", testUnpositionedCursor},
		{"Deletes", testDeletes},
		{"RollbackDiscards", testRollbackDiscards},
		{"CursorAfterCommit", testCursorAfterCommit},
		{"WriteInReadTxn", testWriteInReadTxn},
		{"DropBucket", testDropBucket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func seed(t *testing.T, s kv.Store, bucket string, dupSort bool, pairs ...pair) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureBucket(ctx, bucket, dupSort))
	require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
		for _, p := range pairs {
			if err := txn.Put(ctx, bucket, []byte(p.key), []byte(p.data)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func scan(t *testing.T, s kv.Store, bucket string) []pair {
	t.Helper()
	ctx := context.Background()
	var out []pair
	require.NoError(t, kv.View(ctx, s, func(txn kv.Txn) error {
		c, err := txn.Cursor(ctx, bucket)
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := c.First()
		for ; err == nil && st == kv.Success; st, err = c.Next() {
			out = append(out, pair{string(c.Key()), string(c.Data())})
		}
		return err
	}))
	return out
}

func withCursor(t *testing.T, s kv.Store, bucket string, fn func(c kv.Cursor)) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, kv.View(ctx, s, func(txn kv.Txn) error {
		c, err := txn.Cursor(ctx, bucket)
		if err != nil {
			return err
		}
		defer c.Close()
		fn(c)
		return nil
	}))
}

func at(t *testing.T, c kv.Cursor, st kv.OpStatus, err error, want pair) {
	t.Helper()
	require.NoError(t, err)
	require.Equal(t, kv.Success, st, "expected to land on %v", want)
	assert.Equal(t, want, pair{string(c.Key()), string(c.Data())})
}

func notFound(t *testing.T, st kv.OpStatus, err error) {
	t.Helper()
	require.NoError(t, err)
	assert.Equal(t, kv.NotFound, st)
}

var dupPairs = []pair{
	{"b", "3"}, {"b", "1"}, {"d", "0"}, {"b", "2"}, {"a", "9"}, {"d", "5"},
}

func testUniquePutReplaces(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "u", false, pair{"k", "v1"}, pair{"k", "v2"}, pair{"j", "x"})

	assert.Equal(t, []pair{{"j", "x"}, {"k", "v2"}}, scan(t, s, "u"))

	require.NoError(t, kv.View(ctx, s, func(txn kv.Txn) error {
		v, st, err := txn.Get(ctx, "u", []byte("k"))
		require.NoError(t, err)
		assert.Equal(t, kv.Success, st)
		assert.Equal(t, []byte("v2"), v)

		_, st, err = txn.Get(ctx, "u", []byte("missing"))
		require.NoError(t, err)
		assert.Equal(t, kv.NotFound, st)
		return nil
	}))

	withCursor(t, s, "u", func(c kv.Cursor) {
		st, err := c.SearchKey([]byte("k"))
		at(t, c, st, err, pair{"k", "v2"})
		st, err = c.NextDup()
		notFound(t, st, err)
	})
}

func testDupPairOrder(t *testing.T, s kv.Store) {
	seed(t, s, "d", true, dupPairs...)
	// adding an existing pair is a no-op
	seed(t, s, "d", true, pair{"b", "2"})

	assert.Equal(t, []pair{{"a", "9"}, {"b", "1"}, {"b", "2"}, {"b", "3"}, {"d", "0"}, {"d", "5"}}, scan(t, s, "d"))
}

func testSearches(t *testing.T, s kv.Store) {
	seed(t, s, "d", true, dupPairs...)

	withCursor(t, s, "d", func(c kv.Cursor) {
		st, err := c.SearchKey([]byte("b"))
		at(t, c, st, err, pair{"b", "1"})

		st, err = c.SearchKey([]byte("c"))
		notFound(t, st, err)

		st, err = c.SearchKeyRange([]byte("c"))
		at(t, c, st, err, pair{"d", "0"})

		st, err = c.SearchKeyRange([]byte("e"))
		notFound(t, st, err)

		st, err = c.SearchBoth([]byte("b"), []byte("2"))
		at(t, c, st, err, pair{"b", "2"})

		st, err = c.SearchBoth([]byte("b"), []byte("4"))
		notFound(t, st, err)

		st, err = c.SearchBothRange([]byte("b"), []byte("15"))
		at(t, c, st, err, pair{"b", "2"})

		// pair order crosses into the next key
		st, err = c.SearchBothRange([]byte("b"), []byte("4"))
		at(t, c, st, err, pair{"d", "0"})

		st, err = c.SearchBothRange([]byte("d"), []byte("6"))
		notFound(t, st, err)
	})
}

func testDupNavigation(t *testing.T, s kv.Store) {
	seed(t, s, "d", true, dupPairs...)

	withCursor(t, s, "d", func(c kv.Cursor) {
		st, err := c.SearchBoth([]byte("b"), []byte("2"))
		at(t, c, st, err, pair{"b", "2"})

		st, err = c.NextDup()
		at(t, c, st, err, pair{"b", "3"})
		st, err = c.NextDup()
		notFound(t, st, err)

		st, err = c.NextNoDup()
		at(t, c, st, err, pair{"d", "0"})

		st, err = c.PrevNoDup()
		at(t, c, st, err, pair{"b", "3"})
		st, err = c.PrevDup()
		at(t, c, st, err, pair{"b", "2"})
		st, err = c.PrevDup()
		at(t, c, st, err, pair{"b", "1"})
		st, err = c.PrevDup()
		notFound(t, st, err)

		st, err = c.PrevNoDup()
		at(t, c, st, err, pair{"a", "9"})
		st, err = c.PrevNoDup()
		notFound(t, st, err)

		st, err = c.Last()
		at(t, c, st, err, pair{"d", "5"})
		st, err = c.NextNoDup()
		notFound(t, st, err)
		st, err = c.Prev()
		at(t, c, st, err, pair{"d", "0"})
		st, err = c.Prev()
		at(t, c, st, err, pair{"b", "3"})
	})
}

func testNotFoundKeepsPosition(t *testing.T, s kv.Store) {
	seed(t, s, "d", true, dupPairs...)

	withCursor(t, s, "d", func(c kv.Cursor) {
		st, err := c.SearchBoth([]byte("b"), []byte("3"))
		at(t, c, st, err, pair{"b", "3"})

		st, err = c.SearchKey([]byte("zz"))
		notFound(t, st, err)
		assert.Equal(t, "b", string(c.Key()))

		st, err = c.NextDup()
		notFound(t, st, err)
		st, err = c.Next()
		at(t, c, st, err, pair{"d", "0"})
	})
}

func testUnpositionedCursor(t *testing.T, s kv.Store) {
	seed(t, s, "d", true, dupPairs...)

	withCursor(t, s, "d", func(c kv.Cursor) {
		st, err := c.NextDup()
		notFound(t, st, err)
		st, err = c.Next()
		at(t, c, st, err, pair{"a", "9"})
	})
	withCursor(t, s, "d", func(c kv.Cursor) {
		st, err := c.Prev()
		at(t, c, st, err, pair{"d", "5"})
	})

	seed(t, s, "empty", true)
	withCursor(t, s, "empty", func(c kv.Cursor) {
		st, err := c.First()
		notFound(t, st, err)
		st, err = c.Last()
		notFound(t, st, err)
	})
}

func testDeletes(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "d", true, dupPairs...)

	require.NoError(t, kv.Update(ctx, s, func(txn kv.Txn) error {
		st, err := txn.Delete(ctx, "d", []byte("b"))
		require.NoError(t, err)
		assert.Equal(t, kv.Success, st)

		st, err = txn.DeleteDup(ctx, "d", []byte("d"), []byte("5"))
		require.NoError(t, err)
		assert.Equal(t, kv.Success, st)

		st, err = txn.DeleteDup(ctx, "d", []byte("d"), []byte("7"))
		require.NoError(t, err)
		assert.Equal(t, kv.NotFound, st)

		st, err = txn.Delete(ctx, "d", []byte("zz"))
		require.NoError(t, err)
		assert.Equal(t, kv.NotFound, st)
		return nil
	}))

	assert.Equal(t, []pair{{"a", "9"}, {"d", "0"}}, scan(t, s, "d"))
}

func testRollbackDiscards(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "d", true, dupPairs...)
	before := scan(t, s, "d")

	txn, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ctx, "d", []byte("c"), []byte("1")))
	_, err = txn.Delete(ctx, "d", []byte("b"))
	require.NoError(t, err)

	// own writes are visible inside the transaction
	v, st, err := txn.Get(ctx, "d", []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, kv.Success, st)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, txn.Rollback())
	assert.Equal(t, before, scan(t, s, "d"))
}

func testCursorAfterCommit(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "d", true, dupPairs...)

	txn, err := s.Begin(ctx, false)
	require.NoError(t, err)
	c, err := txn.Cursor(ctx, "d")
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	_, err = c.First()
	require.Error(t, err)
	assert.True(t, entityerrors.IsStoreError(err))
	assert.NoError(t, c.Close())
}

func testWriteInReadTxn(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "d", true)

	err := kv.View(ctx, s, func(txn kv.Txn) error {
		return txn.Put(ctx, "d", []byte("a"), []byte("b"))
	})
	require.Error(t, err)
	assert.True(t, entityerrors.IsStoreError(err))

	err = kv.View(ctx, s, func(txn kv.Txn) error {
		_, err := txn.Cursor(ctx, "no-such-bucket")
		return err
	})
	assert.True(t, entityerrors.IsStoreError(err))
}

func testDropBucket(t *testing.T, s kv.Store) {
	ctx := context.Background()
	seed(t, s, "d", true, dupPairs...)

	require.NoError(t, s.DropBucket(ctx, "d"))
	require.NoError(t, s.DropBucket(ctx, "d"))
	require.NoError(t, s.EnsureBucket(ctx, "d", true))
	assert.Empty(t, scan(t, s, "d"))
}
