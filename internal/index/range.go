package index

import (
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/keycodec"
	"github.com/devrev/entitydb/internal/kv"
)

// RangeIterator scans the keys between two optional bounds in either
// direction. EQ, GLOB, LT, LTE, GT, GTE, STARTS_WITH and all BETWEEN
// variants are configurations of it.
type RangeIterator struct {
	dir    Direction
	lower  *Bound
	upper  *Bound
	unique bool

	c     kv.Cursor
	valid bool
	done  bool
}

var _ Iterator = (*RangeIterator)(nil)

// NewRangeIterator returns an unopened iterator. unique marks buckets
// without duplicates, whose keys are primary ids and whose data is the
// record itself.
func NewRangeIterator(dir Direction, lower, upper *Bound, unique bool) *RangeIterator {
	return &RangeIterator{dir: dir, lower: lower, upper: upper, unique: unique}
}

func (it *RangeIterator) Direction() Direction { return it.dir }
func (it *RangeIterator) Lower() *Bound        { return it.lower }
func (it *RangeIterator) Upper() *Bound        { return it.upper }

// Open positions the cursor on the first key inside the range.
func (it *RangeIterator) Open(c kv.Cursor) error {
	it.c = c
	it.valid, it.done = false, false

	var st kv.OpStatus
	var err error
	if it.dir == Ascending {
		switch {
		case it.lower == nil:
			st, err = c.First()
		case it.lower.Inclusive:
			st, err = c.SearchKeyRange(it.lower.Key)
		default:
			succ := keycodec.PrefixSuccessor(it.lower.Key)
			if succ == nil {
				it.finish()
				return nil
			}
			st, err = c.SearchKeyRange(succ)
		}
		if err != nil {
			return err
		}
		if st != kv.Success {
			it.finish()
			return nil
		}
		it.checkTerminal()
		return nil
	}

	if err := it.seekBelowUpper(); err != nil {
		return err
	}
	if !it.done {
		it.checkTerminal()
	}
	return nil
}

// seekBelowUpper puts a descending scan on the last pair not above the
// upper bound. Seeking finds the first pair past the bound, so the scan
// steps back from there, or starts from the end when nothing is past it.
func (it *RangeIterator) seekBelowUpper() error {
	var target []byte
	switch {
	case it.upper == nil:
	case it.upper.Inclusive:
		target = keycodec.PrefixSuccessor(it.upper.Key)
	default:
		target = it.upper.Key
	}

	var st kv.OpStatus
	var err error
	if target == nil {
		st, err = it.c.Last()
	} else {
		st, err = it.c.SearchKeyRange(target)
		if err != nil {
			return err
		}
		if st == kv.Success {
			st, err = it.c.Prev()
		} else {
			st, err = it.c.Last()
		}
	}
	if err != nil {
		return err
	}
	if st != kv.Success {
		it.finish()
	}
	return nil
}

// Resume re-positions the iterator just past the item tok was taken
// from. When that item is gone the scan continues from its neighbour in
// scan order, so nothing is skipped or repeated.
func (it *RangeIterator) Resume(c kv.Cursor, tok Token) error {
	it.c = c
	it.valid, it.done = false, false

	if !it.contains(tok.Key) {
		return errors.InvalidArgument("continuation token is outside the scanned range", nil)
	}

	var st kv.OpStatus
	var err error
	if it.unique {
		st, err = c.SearchKey(tok.Key)
	} else {
		st, err = c.SearchBoth(tok.Key, tok.Data)
	}
	if err != nil {
		return err
	}
	if st == kv.Success {
		it.valid = true
		return it.Next()
	}

	if it.unique {
		st, err = c.SearchKeyRange(tok.Key)
	} else {
		st, err = c.SearchBothRange(tok.Key, tok.Data)
	}
	if err != nil {
		return err
	}
	if it.dir == Descending {
		if st == kv.Success {
			st, err = c.Prev()
		} else {
			st, err = c.Last()
		}
		if err != nil {
			return err
		}
	}
	if st != kv.Success {
		it.finish()
		return nil
	}
	it.checkTerminal()
	return nil
}

// Next moves to the next duplicate of the current key, or to the next
// distinct key, which is then checked against the far bound.
func (it *RangeIterator) Next() error {
	if it.done || !it.valid {
		return nil
	}

	var st kv.OpStatus
	var err error
	if it.dir == Ascending {
		st, err = it.c.NextDup()
		if err == nil && st != kv.Success {
			st, err = it.c.NextNoDup()
			if err == nil && st == kv.Success {
				it.checkTerminal()
				return nil
			}
		}
	} else {
		st, err = it.c.PrevDup()
		if err == nil && st != kv.Success {
			st, err = it.c.PrevNoDup()
			if err == nil && st == kv.Success {
				it.checkTerminal()
				return nil
			}
		}
	}
	if err != nil {
		it.valid = false
		return err
	}
	if st != kv.Success {
		it.finish()
	}
	return nil
}

// checkTerminal compares the current key, truncated to the bound's
// length, with the bound the scan is moving towards.
func (it *RangeIterator) checkTerminal() {
	key := it.c.Key()
	ok := true
	if it.dir == Ascending && it.upper != nil {
		cmp := keycodec.CompareTruncated(key, it.upper.Key)
		ok = cmp < 0 || (cmp == 0 && it.upper.Inclusive)
	}
	if it.dir == Descending && it.lower != nil {
		cmp := keycodec.CompareTruncated(key, it.lower.Key)
		ok = cmp > 0 || (cmp == 0 && it.lower.Inclusive)
	}
	if !ok {
		it.finish()
		return
	}
	it.valid = true
}

func (it *RangeIterator) contains(key []byte) bool {
	if it.lower != nil {
		cmp := keycodec.CompareTruncated(key, it.lower.Key)
		if cmp < 0 || (cmp == 0 && !it.lower.Inclusive) {
			return false
		}
	}
	if it.upper != nil {
		cmp := keycodec.CompareTruncated(key, it.upper.Key)
		if cmp > 0 || (cmp == 0 && !it.upper.Inclusive) {
			return false
		}
	}
	return true
}

func (it *RangeIterator) finish() {
	it.valid = false
	it.done = true
}

func (it *RangeIterator) Valid() bool { return it.valid }
func (it *RangeIterator) Done() bool  { return it.done }

func (it *RangeIterator) Key() []byte {
	if !it.valid {
		return nil
	}
	return it.c.Key()
}

func (it *RangeIterator) Data() []byte {
	if !it.valid {
		return nil
	}
	return it.c.Data()
}

// ID decodes the primary id from the key of unique buckets and from the
// data of index buckets.
func (it *RangeIterator) ID() (int64, error) {
	if !it.valid {
		return 0, errors.InternalError("iterator is not positioned", nil)
	}
	if it.unique {
		return keycodec.DecodeLong(it.c.Key())
	}
	return keycodec.DecodeLong(it.c.Data())
}

// Token snapshots the current position.
func (it *RangeIterator) Token() (Token, error) {
	if !it.valid {
		return Token{}, errors.InternalError("iterator is not positioned", nil)
	}
	tok := Token{Key: clone(it.c.Key())}
	if !it.unique {
		tok.Data = clone(it.c.Data())
	}
	return tok, nil
}

func (it *RangeIterator) Close() error {
	it.valid = false
	if it.c == nil {
		return nil
	}
	c := it.c
	it.c = nil
	return c.Close()
}

func (it *RangeIterator) String() string {
	return fmt.Sprintf("range(%s %s..%s)", it.dir, boundString(it.lower, true), boundString(it.upper, false))
}

func boundString(b *Bound, lower bool) string {
	if b == nil {
		return "*"
	}
	switch {
	case lower && b.Inclusive:
		return fmt.Sprintf("[%x", b.Key)
	case lower:
		return fmt.Sprintf("(%x", b.Key)
	case b.Inclusive:
		return fmt.Sprintf("%x]", b.Key)
	}
	return fmt.Sprintf("%x)", b.Key)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
