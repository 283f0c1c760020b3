package index

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/keycodec"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/model"
)

// MatchMode selects how candidate sub-scans combine.
type MatchMode uint8

const (
	MatchAny MatchMode = iota
	MatchAll
)

func (m MatchMode) String() string {
	if m == MatchAll {
		return "ALL"
	}
	return "ANY"
}

// Residual is an equality filter on one encoded key part that could not
// be folded into a candidate's key range.
type Residual struct {
	Part  int
	Value []byte
}

// Candidate is one combination of per-field values of a membership test.
type Candidate struct {
	Lower, Upper *Bound
	Residuals    []Residual
}

// MembershipIterator yields, in ascending id order, the entities found
// under any or all of its candidates. ALL keeps an id only when every
// candidate sub-scan produced it.
type MembershipIterator struct {
	mode       MatchMode
	types      []model.FieldType
	candidates []Candidate

	c   kv.Cursor
	ids []int64
	pos int
}

var _ Iterator = (*MembershipIterator)(nil)

// NewMembershipIterator returns an unopened iterator. types are the key
// part types, used to split keys for residual filters.
func NewMembershipIterator(mode MatchMode, types []model.FieldType, candidates []Candidate) *MembershipIterator {
	return &MembershipIterator{mode: mode, types: types, candidates: candidates}
}

func (it *MembershipIterator) Mode() MatchMode { return it.mode }

// Open runs every candidate sub-scan on c and merges the ids.
func (it *MembershipIterator) Open(c kv.Cursor) error {
	it.c = c
	it.ids, it.pos = nil, 0

	var acc map[int64]struct{}
	for i, cand := range it.candidates {
		found, err := it.scan(cand)
		if err != nil {
			return err
		}
		switch {
		case i == 0:
			acc = found
		case it.mode == MatchAll:
			for id := range acc {
				if _, ok := found[id]; !ok {
					delete(acc, id)
				}
			}
		default:
			for id := range found {
				acc[id] = struct{}{}
			}
		}
		if it.mode == MatchAll && len(acc) == 0 {
			break
		}
	}

	it.ids = make([]int64, 0, len(acc))
	for id := range acc {
		it.ids = append(it.ids, id)
	}
	sort.Slice(it.ids, func(a, b int) bool { return it.ids[a] < it.ids[b] })
	return nil
}

func (it *MembershipIterator) scan(cand Candidate) (map[int64]struct{}, error) {
	sub := NewRangeIterator(Ascending, cand.Lower, cand.Upper, false)
	if err := sub.Open(it.c); err != nil {
		return nil, err
	}

	found := make(map[int64]struct{})
	for sub.Valid() {
		ok, err := it.matches(sub.Key(), cand.Residuals)
		if err != nil {
			return nil, err
		}
		if ok {
			id, err := sub.ID()
			if err != nil {
				return nil, err
			}
			found[id] = struct{}{}
		}
		if err := sub.Next(); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (it *MembershipIterator) matches(key []byte, residuals []Residual) (bool, error) {
	if len(residuals) == 0 {
		return true, nil
	}
	parts, err := keycodec.SplitParts(key, it.types)
	if err != nil {
		return false, err
	}
	for _, r := range residuals {
		if r.Part >= len(parts) || !bytes.Equal(parts[r.Part], r.Value) {
			return false, nil
		}
	}
	return true, nil
}

// Resume is not available: the merged id set cannot be rebuilt from a
// single position.
func (it *MembershipIterator) Resume(c kv.Cursor, _ Token) error {
	it.c = c
	return errors.Unsupported("membership scans cannot be resumed")
}

func (it *MembershipIterator) Next() error {
	if it.pos < len(it.ids) {
		it.pos++
	}
	return nil
}

func (it *MembershipIterator) Valid() bool { return it.ids != nil && it.pos < len(it.ids) }
func (it *MembershipIterator) Done() bool  { return it.ids != nil && it.pos >= len(it.ids) }

// Key is always nil: merged results are not tied to one index key.
func (it *MembershipIterator) Key() []byte { return nil }

func (it *MembershipIterator) Data() []byte {
	if !it.Valid() {
		return nil
	}
	return keycodec.EncodeLong(it.ids[it.pos])
}

func (it *MembershipIterator) ID() (int64, error) {
	if !it.Valid() {
		return 0, errors.InternalError("iterator is not positioned", nil)
	}
	return it.ids[it.pos], nil
}

func (it *MembershipIterator) Token() (Token, error) {
	return Token{}, errors.Unsupported("membership scans cannot be resumed")
}

func (it *MembershipIterator) Close() error {
	if it.c == nil {
		return nil
	}
	c := it.c
	it.c = nil
	return c.Close()
}

func (it *MembershipIterator) String() string {
	return fmt.Sprintf("membership(%s, %d candidates)", it.mode, len(it.candidates))
}
