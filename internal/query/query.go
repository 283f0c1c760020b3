// Package query is the builder-style model of an entity query: target
// type, index, predicate tree, ordering and paging.
package query

import (
	"fmt"
	"strings"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/model"
)

// AllResults disables page truncation.
const AllResults = -1

// Query is built with chained calls and finished with Ret.
type Query struct {
	entity    string
	indexName string
	root      *Node
	scopes    []*Node
	orderBy   string
	offset    int
	pageSize  int
	cache     bool
	after     index.Token
	fill      []string
	err       error
}

// New starts a query over the primary index of entity.
func New(entity string) *Query {
	root := &Node{Kind: NodeIntersection}
	return &Query{
		entity:    entity,
		indexName: model.PrimaryIndex,
		root:      root,
		scopes:    []*Node{root},
		pageSize:  AllResults,
		cache:     true,
	}
}

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Idx selects the index every predicate runs against.
func (q *Query) Idx(name string) *Query {
	if name == "" {
		return q.fail(errors.InvalidArgument("index name is empty", nil))
	}
	q.indexName = name
	return q
}

func (q *Query) Eq(v interface{}) *Query         { return q.Where(OpEq, index.Ascending, v) }
func (q *Query) Lt(v interface{}) *Query         { return q.Where(OpLt, index.Ascending, v) }
func (q *Query) Lte(v interface{}) *Query        { return q.Where(OpLte, index.Ascending, v) }
func (q *Query) Gt(v interface{}) *Query         { return q.Where(OpGt, index.Ascending, v) }
func (q *Query) Gte(v interface{}) *Query        { return q.Where(OpGte, index.Ascending, v) }
func (q *Query) StartsWith(v interface{}) *Query { return q.Where(OpStartsWith, index.Ascending, v) }

// Between matches bottom <= x <= top.
func (q *Query) Between(bottom, top interface{}) *Query {
	return q.Where(OpBetween, index.Ascending, bottom, top)
}

// BetweenExclusive matches bottom < x < top.
func (q *Query) BetweenExclusive(bottom, top interface{}) *Query {
	return q.Where(OpBetweenExclusive, index.Ascending, bottom, top)
}

// BetweenStartInclusive matches bottom <= x < top.
func (q *Query) BetweenStartInclusive(bottom, top interface{}) *Query {
	return q.Where(OpBetweenStartInclusive, index.Ascending, bottom, top)
}

// BetweenEndInclusive matches bottom < x <= top.
func (q *Query) BetweenEndInclusive(bottom, top interface{}) *Query {
	return q.Where(OpBetweenEndInclusive, index.Ascending, bottom, top)
}

// BetweenDesc scans from top down to bottom, both included.
func (q *Query) BetweenDesc(top, bottom interface{}) *Query {
	return q.Where(OpBetween, index.Descending, bottom, top)
}

// BetweenExclusiveDesc scans from top down to bottom, both excluded.
func (q *Query) BetweenExclusiveDesc(top, bottom interface{}) *Query {
	return q.Where(OpBetweenExclusive, index.Descending, bottom, top)
}

// BetweenStartInclusiveDesc scans down from top, included, to bottom, excluded.
func (q *Query) BetweenStartInclusiveDesc(top, bottom interface{}) *Query {
	return q.Where(OpBetweenEndInclusive, index.Descending, bottom, top)
}

// BetweenEndInclusiveDesc scans down from top, excluded, to bottom, included.
func (q *Query) BetweenEndInclusiveDesc(top, bottom interface{}) *Query {
	return q.Where(OpBetweenStartInclusive, index.Descending, bottom, top)
}

func (q *Query) SetContainsAny(v interface{}) *Query {
	return q.Where(OpSetContainsAny, index.Ascending, v)
}

func (q *Query) SetContainsAll(v interface{}) *Query {
	return q.Where(OpSetContainsAll, index.Ascending, v)
}

// Where adds a leaf. Between operators take (bottom, top) in that order
// for both directions.
func (q *Query) Where(op Op, dir index.Direction, args ...interface{}) *Query {
	if len(args) != op.Arity() {
		return q.fail(errors.InvalidArgument(
			fmt.Sprintf("%s takes %d arguments, got %d", op, op.Arity(), len(args)), nil))
	}

	leaf := &Leaf{Op: op, Desc: dir == index.Descending}
	if op.IsMembership() {
		if leaf.Desc {
			return q.fail(errors.InvalidArgument(fmt.Sprintf("%s has no direction", op), nil))
		}
		sets, nested, err := normalizeSets(args[0])
		if err != nil {
			return q.fail(err)
		}
		leaf.Sets, leaf.Nested = sets, nested
	} else {
		for _, a := range args {
			bound, err := normalizeBound(a)
			if err != nil {
				return q.fail(err)
			}
			leaf.Bounds = append(leaf.Bounds, bound)
		}
	}

	scope := q.scopes[len(q.scopes)-1]
	scope.Children = append(scope.Children, &Node{Kind: NodeLeaf, Leaf: leaf})
	return q
}

// Desc flips the most recent leaf of the current scope to a descending scan.
func (q *Query) Desc() *Query {
	scope := q.scopes[len(q.scopes)-1]
	if len(scope.Children) == 0 || scope.Children[len(scope.Children)-1].Kind != NodeLeaf {
		return q.fail(errors.InvalidArgument("desc must follow a comparator", nil))
	}
	leaf := scope.Children[len(scope.Children)-1].Leaf
	if leaf.Op.IsMembership() {
		return q.fail(errors.InvalidArgument(fmt.Sprintf("%s has no direction", leaf.Op), nil))
	}
	leaf.Desc = !leaf.Desc
	return q
}

func (q *Query) StartIntersection() *Query { return q.open(NodeIntersection) }
func (q *Query) EndIntersection() *Query   { return q.close(NodeIntersection) }
func (q *Query) StartUnion() *Query        { return q.open(NodeUnion) }
func (q *Query) EndUnion() *Query          { return q.close(NodeUnion) }

func (q *Query) open(kind NodeKind) *Query {
	n := &Node{Kind: kind}
	scope := q.scopes[len(q.scopes)-1]
	scope.Children = append(scope.Children, n)
	q.scopes = append(q.scopes, n)
	return q
}

func (q *Query) close(kind NodeKind) *Query {
	if len(q.scopes) == 1 {
		return q.fail(errors.InvalidArgument(fmt.Sprintf("end of %s without a matching start", kind), nil))
	}
	top := q.scopes[len(q.scopes)-1]
	if top.Kind != kind {
		return q.fail(errors.InvalidArgument(fmt.Sprintf("end of %s closes an open %s", kind, top.Kind), nil))
	}
	q.scopes = q.scopes[:len(q.scopes)-1]
	return q
}

// OrderBy re-sorts results by a field, ascending.
func (q *Query) OrderBy(field string) *Query {
	q.orderBy = field
	return q
}

func (q *Query) Offset(n int) *Query {
	if n < 0 {
		return q.fail(errors.InvalidArgument("offset must not be negative", nil))
	}
	q.offset = n
	return q
}

// PageSize truncates results; AllResults disables truncation.
func (q *Query) PageSize(n int) *Query {
	if n < AllResults || n == 0 {
		return q.fail(errors.InvalidArgument(fmt.Sprintf("invalid page size %d", n), nil))
	}
	q.pageSize = n
	return q
}

func (q *Query) CacheResults(on bool) *Query {
	q.cache = on
	return q
}

// After continues a scan from a token returned with a previous page.
func (q *Query) After(tok index.Token) *Query {
	q.after = tok
	return q
}

// Fill loads the named reference fields of every result.
func (q *Query) Fill(fields ...string) *Query {
	q.fill = append(q.fill, fields...)
	return q
}

// Ret closes any open scopes and returns the finished query, or the first
// builder error.
func (q *Query) Ret() (*Query, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.entity == "" {
		return nil, errors.InvalidArgument("query has no entity type", nil)
	}
	q.scopes = q.scopes[:1]
	if len(q.root.Children) == 0 {
		q.root.Children = append(q.root.Children, &Node{Kind: NodeLeaf, Leaf: &Leaf{Op: OpEq, Bounds: [][]Value{{Glob}}}})
	}
	if err := checkScopes(q.root); err != nil {
		return nil, err
	}
	return q, nil
}

func checkScopes(n *Node) error {
	if n.Kind == NodeLeaf {
		return nil
	}
	if len(n.Children) == 0 {
		return errors.InvalidArgument(fmt.Sprintf("empty %s scope", n.Kind), nil)
	}
	for _, c := range n.Children {
		if err := checkScopes(c); err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) Entity() string       { return q.entity }
func (q *Query) IndexName() string    { return q.indexName }
func (q *Query) OrderField() string   { return q.orderBy }
func (q *Query) Skip() int            { return q.offset }
func (q *Query) Limit() int           { return q.pageSize }
func (q *Query) Cached() bool         { return q.cache }
func (q *Query) Token() index.Token   { return q.after }
func (q *Query) FillFields() []string { return q.fill }

// Root returns the predicate tree. A top-level scope with a single child
// collapses into that child.
func (q *Query) Root() *Node {
	if len(q.root.Children) == 1 {
		return q.root.Children[0]
	}
	return q.root
}

// String is a canonical rendering used for cache keys and logs. It leaves
// out the caching flag.
func (q *Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s] %s", q.entity, q.indexName, q.Root())
	if q.orderBy != "" {
		fmt.Fprintf(&b, " order=%s", q.orderBy)
	}
	if q.offset > 0 {
		fmt.Fprintf(&b, " offset=%d", q.offset)
	}
	if q.pageSize != AllResults {
		fmt.Fprintf(&b, " page=%d", q.pageSize)
	}
	if !q.after.IsZero() {
		fmt.Fprintf(&b, " after=%s", q.after)
	}
	if len(q.fill) > 0 {
		fmt.Fprintf(&b, " fill=%s", strings.Join(q.fill, ","))
	}
	return b.String()
}

func normalizeValue(a interface{}) (Value, error) {
	switch v := a.(type) {
	case Value:
		return v, nil
	case ValueList:
		return Value{}, errors.InvalidArgument("nested value list where a single value is expected", nil)
	}
	return Exact(a), nil
}

func normalizeBound(a interface{}) ([]Value, error) {
	list, ok := a.(ValueList)
	if !ok {
		v, err := normalizeValue(a)
		if err != nil {
			return nil, err
		}
		return []Value{v}, nil
	}
	if len(list) == 0 {
		return nil, errors.InvalidArgument("empty value list", nil)
	}
	out := make([]Value, len(list))
	for i, e := range list {
		v, err := normalizeValue(e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalizeSets(a interface{}) ([]Set, bool, error) {
	list, ok := a.(ValueList)
	if !ok {
		v, err := normalizeValue(a)
		if err != nil {
			return nil, false, err
		}
		return []Set{{v}}, false, nil
	}
	if len(list) == 0 {
		return nil, false, errors.InvalidArgument("empty value list", nil)
	}

	nested := false
	sets := make([]Set, len(list))
	for i, e := range list {
		inner, isList := e.(ValueList)
		if !isList {
			v, err := normalizeValue(e)
			if err != nil {
				return nil, false, err
			}
			sets[i] = Set{v}
			continue
		}
		nested = true
		if len(inner) == 0 {
			return nil, false, errors.InvalidArgument("empty candidate list", nil)
		}
		set := make(Set, len(inner))
		for j, c := range inner {
			v, err := normalizeValue(c)
			if err != nil {
				return nil, false, err
			}
			set[j] = v
		}
		sets[i] = set
	}
	return sets, nested, nil
}
