// Package executor compiles queries into index scans and runs them.
package executor

import (
	"fmt"
	"strings"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
)

// Catalog resolves the schema a query is compiled against.
type Catalog interface {
	EntityDefinition(name string) (*model.EntityDefinition, error)
	EntityIndex(entity, name string) (*model.EntityIndex, error)
}

// Plan is a compiled query. It holds no store state and can be executed
// in any transaction.
type Plan struct {
	Query  *query.Query
	Def    *model.EntityDefinition
	Index  *model.EntityIndex
	Schema *index.KeySchema

	root      *node
	orderBy   *model.FieldDefinition
	resort    bool
	resumable bool
}

type node struct {
	kind     query.NodeKind
	leaf     *query.Leaf
	newIter  func() index.Iterator
	desc     string
	children []*node
}

// Compile validates q against the catalog and prepares one iterator
// factory per leaf. It never touches the store.
func Compile(cat Catalog, q *query.Query) (*Plan, error) {
	def, err := cat.EntityDefinition(q.Entity())
	if err != nil {
		return nil, err
	}

	ix := model.PrimaryIndexFor(def.Name)
	if q.IndexName() != model.PrimaryIndex {
		if ix, err = cat.EntityIndex(def.Name, q.IndexName()); err != nil {
			return nil, err
		}
	}
	ks, err := index.NewKeySchema(ix, def)
	if err != nil {
		return nil, err
	}

	p := &Plan{Query: q, Def: def, Index: ix, Schema: ks}
	c := &compiler{plan: p}
	if p.root, err = c.compile(q.Root()); err != nil {
		return nil, err
	}

	if name := q.OrderField(); name != "" {
		f, ok := def.Field(name)
		if !ok {
			return nil, errors.UnknownField(def.Name, name)
		}
		p.orderBy = f
		p.resort = !p.physicallyOrderedBy(f)
	}

	p.resumable = p.root.kind == query.NodeLeaf && !p.root.leaf.Op.IsMembership() &&
		!ix.Kind.IsMembership() && !p.resort
	if !q.Token().IsZero() && !p.resumable {
		return nil, errors.Unsupported("this query cannot continue from a token").
			WithDetail("query", q.String())
	}
	return p, nil
}

// physicallyOrderedBy reports whether the scan already returns results
// ordered by f, so no re-sort is needed.
func (p *Plan) physicallyOrderedBy(f *model.FieldDefinition) bool {
	if p.root.kind != query.NodeLeaf || p.root.leaf.Op.IsMembership() || p.root.leaf.Desc {
		return false
	}
	if p.Schema.IsPrimary() || p.Schema.Collator != nil || p.Index.Kind.IsMembership() {
		return false
	}
	return p.Index.Fields[0] == f.Name
}

// Resumable reports whether execution can stop at a page boundary and
// hand out a continuation token.
func (p *Plan) Resumable() bool { return p.resumable }

// String renders the plan for logs.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s via %s: %s", p.Def.Name, p.Index.Bucket(), p.root.describe())
	if p.orderBy != nil {
		if p.resort {
			fmt.Fprintf(&b, " resort=%s", p.orderBy.Name)
		} else {
			fmt.Fprintf(&b, " ordered=%s", p.orderBy.Name)
		}
	}
	return b.String()
}

func (n *node) describe() string {
	if n.kind == query.NodeLeaf {
		return n.desc
	}
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.describe()
	}
	return n.kind.String() + "{" + strings.Join(parts, "; ") + "}"
}

type compiler struct {
	plan *Plan
}

func (c *compiler) compile(qn *query.Node) (*node, error) {
	if qn.Kind != query.NodeLeaf {
		n := &node{kind: qn.Kind}
		for _, child := range qn.Children {
			cn, err := c.compile(child)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, cn)
		}
		return n, nil
	}

	if qn.Leaf.Op.IsMembership() {
		return c.membershipLeaf(qn.Leaf)
	}
	return c.rangeLeaf(qn.Leaf)
}

func (c *compiler) rangeLeaf(leaf *query.Leaf) (*node, error) {
	ks := c.plan.Schema
	keys := make([][]byte, len(leaf.Bounds))
	for i, bound := range leaf.Bounds {
		k, err := c.encodeBound(bound, leaf.Op == query.OpStartsWith)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	var lower, upper *index.Bound
	switch leaf.Op {
	case query.OpEq, query.OpStartsWith:
		lower = &index.Bound{Key: keys[0], Inclusive: true}
		upper = &index.Bound{Key: keys[0], Inclusive: true}
	case query.OpLt:
		upper = &index.Bound{Key: keys[0]}
	case query.OpLte:
		upper = &index.Bound{Key: keys[0], Inclusive: true}
	case query.OpGt:
		lower = &index.Bound{Key: keys[0]}
	case query.OpGte:
		lower = &index.Bound{Key: keys[0], Inclusive: true}
	case query.OpBetween:
		lower = &index.Bound{Key: keys[0], Inclusive: true}
		upper = &index.Bound{Key: keys[1], Inclusive: true}
	case query.OpBetweenExclusive:
		lower = &index.Bound{Key: keys[0]}
		upper = &index.Bound{Key: keys[1]}
	case query.OpBetweenStartInclusive:
		lower = &index.Bound{Key: keys[0], Inclusive: true}
		upper = &index.Bound{Key: keys[1]}
	case query.OpBetweenEndInclusive:
		lower = &index.Bound{Key: keys[0]}
		upper = &index.Bound{Key: keys[1], Inclusive: true}
	default:
		return nil, errors.Unsupported(fmt.Sprintf("operator %s", leaf.Op))
	}

	dir := index.Ascending
	if leaf.Desc {
		dir = index.Descending
	}
	unique := ks.IsPrimary()
	newIter := func() index.Iterator { return index.NewRangeIterator(dir, lower, upper, unique) }
	return &node{
		kind:    query.NodeLeaf,
		leaf:    leaf,
		newIter: newIter,
		desc:    fmt.Sprintf("%s %v", leaf.Op, newIter()),
	}, nil
}

// encodeBound turns a per-field value list into a key prefix. A GLOB ends
// the prefix, and only further GLOBs may follow it.
func (c *compiler) encodeBound(values []query.Value, prefixLast bool) ([]byte, error) {
	ks := c.plan.Schema
	if len(values) > ks.Parts() {
		return nil, c.invalid(fmt.Sprintf("%d values for an index of %d fields", len(values), ks.Parts()))
	}

	key := []byte{}
	for i, v := range values {
		if v.Kind == query.KindGlob {
			for _, rest := range values[i+1:] {
				if rest.Kind != query.KindGlob {
					return nil, c.invalid("a bound follows a GLOB")
				}
			}
			break
		}

		var err error
		switch v.Kind {
		case query.KindMin:
			key = ks.AppendMin(key, i)
		case query.KindMax:
			key = ks.AppendMax(key, i)
		default:
			var val interface{}
			if val, err = c.coercePart(i, v.V); err != nil {
				return nil, err
			}
			if prefixLast && i == len(values)-1 {
				key, err = c.appendPrefix(key, i, val)
			} else {
				key, err = ks.AppendPart(key, i, val)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func (c *compiler) appendPrefix(key []byte, i int, v interface{}) ([]byte, error) {
	ks := c.plan.Schema
	switch ks.PartType(i) {
	case model.TypeString, model.TypeText, model.TypeBlob:
	default:
		return nil, c.invalid("STARTS_WITH needs a string field")
	}
	if v == nil {
		return nil, c.invalid("STARTS_WITH needs a value")
	}
	if ks.Collated(i) {
		return nil, c.invalid("STARTS_WITH cannot run on a collated index")
	}
	return ks.AppendPrefix(key, i, v)
}

// coercePart converts a caller value into the canonical form of key part i.
// References may be given as bare ids.
func (c *compiler) coercePart(i int, v interface{}) (interface{}, error) {
	ks := c.plan.Schema
	if ks.IsPrimary() {
		return model.Coerce(&model.FieldDefinition{Name: "id", Type: model.TypeLong}, v)
	}

	f := ks.Fields[i]
	if f.BaseType() == model.TypeReference && v != nil {
		switch v.(type) {
		case *model.Entity, model.Ref:
		default:
			id, err := model.Coerce(&model.FieldDefinition{Name: f.Name, Type: model.TypeLong}, v)
			if err != nil {
				return nil, errors.TypeMismatch(f.Name, "reference to "+f.ReferenceType, v)
			}
			v = model.Ref{Type: f.ReferenceType, ID: id.(int64)}
		}
	}

	if ks.PartType(i) != f.Type {
		return model.CoerceScalar(f, v)
	}
	return model.Coerce(f, v)
}

func (c *compiler) membershipLeaf(leaf *query.Leaf) (*node, error) {
	ks := c.plan.Schema
	if !c.plan.Index.Kind.IsMembership() {
		return nil, c.invalid(fmt.Sprintf("%s needs an array membership index", leaf.Op))
	}

	sets := leaf.Sets
	if !leaf.Nested && ks.Parts() == 1 && len(sets) > 1 {
		merged := query.Set{}
		for _, s := range sets {
			merged = append(merged, s...)
		}
		sets = []query.Set{merged}
	}
	if len(sets) > ks.Parts() {
		return nil, c.invalid(fmt.Sprintf("%d values for an index of %d fields", len(sets), ks.Parts()))
	}
	// A scalar field holds one value per entity, so requiring all of
	// several candidates on it can never match.
	if leaf.Op == query.OpSetContainsAll {
		for i, set := range sets {
			if len(set) > 1 && !ks.Fields[i].Type.IsArray() {
				return nil, c.invalid(fmt.Sprintf("%s takes one value for scalar field '%s'", leaf.Op, ks.Fields[i].Name))
			}
		}
	}

	// encoded[i] holds the candidate parts of position i; nil is GLOB.
	encoded := make([][][]byte, len(sets))
	for i, set := range sets {
		for _, v := range set {
			switch v.Kind {
			case query.KindGlob:
				if len(set) != 1 {
					return nil, c.invalid("GLOB cannot be mixed with candidates")
				}
				encoded[i] = nil
				continue
			case query.KindMin, query.KindMax:
				return nil, c.invalid(fmt.Sprintf("%s takes values or GLOB, not %s", leaf.Op, v))
			}
			val, err := c.coercePart(i, v.V)
			if err != nil {
				return nil, err
			}
			part, err := ks.AppendPart(nil, i, val)
			if err != nil {
				return nil, err
			}
			encoded[i] = append(encoded[i], part)
		}
	}

	candidates := []index.Candidate{{}}
	prefixes := [][]byte{{}}
	for i, parts := range encoded {
		if parts == nil {
			continue
		}
		nextC := make([]index.Candidate, 0, len(candidates)*len(parts))
		nextP := make([][]byte, 0, len(candidates)*len(parts))
		for j, cand := range candidates {
			for _, part := range parts {
				nc := index.Candidate{Residuals: append([]index.Residual{}, cand.Residuals...)}
				np := prefixes[j]
				if globBefore(encoded, i) {
					nc.Residuals = append(nc.Residuals, index.Residual{Part: i, Value: part})
				} else {
					np = append(append([]byte{}, np...), part...)
				}
				nextC = append(nextC, nc)
				nextP = append(nextP, np)
			}
		}
		candidates, prefixes = nextC, nextP
	}
	for j := range candidates {
		if len(prefixes[j]) > 0 {
			candidates[j].Lower = &index.Bound{Key: prefixes[j], Inclusive: true}
			candidates[j].Upper = &index.Bound{Key: prefixes[j], Inclusive: true}
		}
	}

	mode := index.MatchAny
	if leaf.Op == query.OpSetContainsAll {
		mode = index.MatchAll
	}
	types := ks.Types()
	newIter := func() index.Iterator { return index.NewMembershipIterator(mode, types, candidates) }
	return &node{
		kind:    query.NodeLeaf,
		leaf:    leaf,
		newIter: newIter,
		desc:    fmt.Sprintf("%s %v", leaf.Op, newIter()),
	}, nil
}

func globBefore(encoded [][][]byte, i int) bool {
	for _, parts := range encoded[:i] {
		if parts == nil {
			return true
		}
	}
	return false
}

func (c *compiler) invalid(reason string) error {
	return errors.InvalidArgument(fmt.Sprintf("query on index '%s': %s", c.plan.Index.Name, reason), nil).
		WithDetail("index", c.plan.Index.Name).
		WithDetail("entity", c.plan.Def.Name)
}
