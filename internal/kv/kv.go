// Package kv defines the sorted, duplicate-aware key/value store the
// entity store is built on.
//
// A bucket holds (key, data) pairs sorted by key and then by data.
// Unique buckets hold at most one pair per key; dup-sorted buckets hold
// any number of distinct pairs per key.
package kv

import (
	"context"
)

// OpStatus is the outcome of a lookup or cursor movement.
type OpStatus int

const (
	Success OpStatus = iota
	NotFound
)

func (s OpStatus) String() string {
	if s == Success {
		return "SUCCESS"
	}
	return "NOTFOUND"
}

// Store is a set of buckets with transactional access.
type Store interface {
	// EnsureBucket creates the bucket if it does not exist. Reopening an
	// existing bucket with a different dupSort setting is an error.
	EnsureBucket(ctx context.Context, name string, dupSort bool) error
	// DropBucket removes a bucket and all of its pairs.
	DropBucket(ctx context.Context, name string) error
	// Begin starts a transaction. Write transactions are exclusive.
	Begin(ctx context.Context, writable bool) (Txn, error)
	Close() error
}

// Txn is a unit of work. A Txn and its cursors belong to one goroutine.
type Txn interface {
	ID() string
	Writable() bool

	// Get returns the data of key, or the first duplicate in a dup bucket.
	Get(ctx context.Context, bucket string, key []byte) ([]byte, OpStatus, error)
	// Put replaces the pair of key in a unique bucket and adds the pair
	// in a dup bucket. Adding an existing pair is a no-op.
	Put(ctx context.Context, bucket string, key, data []byte) error
	// Delete removes every pair of key.
	Delete(ctx context.Context, bucket string, key []byte) (OpStatus, error)
	// DeleteDup removes exactly one pair.
	DeleteDup(ctx context.Context, bucket string, key, data []byte) (OpStatus, error)

	Cursor(ctx context.Context, bucket string) (Cursor, error)

	Commit() error
	Rollback() error
}

// Cursor walks the pairs of one bucket. A movement that returns
// NotFound leaves the position unchanged. Next and Prev on an
// unpositioned cursor behave like First and Last.
type Cursor interface {
	// SearchKey positions on the first duplicate of key.
	SearchKey(key []byte) (OpStatus, error)
	// SearchKeyRange positions on the first pair whose key is >= key.
	SearchKeyRange(key []byte) (OpStatus, error)
	// SearchBoth positions on the exact pair.
	SearchBoth(key, data []byte) (OpStatus, error)
	// SearchBothRange positions on the first pair >= (key, data) in pair order.
	SearchBothRange(key, data []byte) (OpStatus, error)

	First() (OpStatus, error)
	Last() (OpStatus, error)
	Next() (OpStatus, error)
	Prev() (OpStatus, error)
	// NextDup and PrevDup stay within the current key.
	NextDup() (OpStatus, error)
	PrevDup() (OpStatus, error)
	// NextNoDup moves to the first duplicate of the next key.
	NextNoDup() (OpStatus, error)
	// PrevNoDup moves to the last duplicate of the previous key.
	PrevNoDup() (OpStatus, error)

	Key() []byte
	Data() []byte
	Close() error
}

// View runs fn in a read transaction.
func View(ctx context.Context, s Store, fn func(Txn) error) error {
	txn, err := s.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

// Update runs fn in a write transaction and commits when fn succeeds.
func Update(ctx context.Context, s Store, fn func(Txn) error) error {
	txn, err := s.Begin(ctx, true)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}
