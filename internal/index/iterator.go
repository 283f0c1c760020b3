// Package index implements the scans behind every query predicate and the
// generation of index entries from entities.
//
// All iterators follow the same protocol: Open or Resume positions the
// iterator on the first item to yield, Valid reports whether an item is
// available, Next advances, and Done turns true once the scan has left its
// range and stays true. Close releases the cursor and is safe at any point.
package index

import (
	"github.com/devrev/entitydb/internal/kv"
)

// Direction is the order in which a scan visits keys.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// Bound is one end of a key range. Key is a composite key prefix: every key
// that starts with it compares equal to the bound.
type Bound struct {
	Key       []byte
	Inclusive bool
}

// Iterator is a positioned scan over an index bucket.
type Iterator interface {
	Open(c kv.Cursor) error
	Resume(c kv.Cursor, tok Token) error
	Next() error
	Valid() bool
	Done() bool
	Key() []byte
	Data() []byte
	// ID is the primary id of the current entry.
	ID() (int64, error)
	Token() (Token, error)
	Close() error
}
