package query

import (
	"fmt"
	"strings"

	"github.com/devrev/entitydb/internal/errors"
)

// Op is a leaf comparator.
type Op uint8

const (
	OpEq Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
	OpStartsWith
	OpBetween
	OpBetweenExclusive
	OpBetweenStartInclusive
	OpBetweenEndInclusive
	OpSetContainsAny
	OpSetContainsAll
)

var opNames = []string{
	OpEq:                    "eq",
	OpLt:                    "lt",
	OpLte:                   "lte",
	OpGt:                    "gt",
	OpGte:                   "gte",
	OpStartsWith:            "starts_with",
	OpBetween:               "between",
	OpBetweenExclusive:      "between_exclusive",
	OpBetweenStartInclusive: "between_start_inclusive",
	OpBetweenEndInclusive:   "between_end_inclusive",
	OpSetContainsAny:        "set_contains_any",
	OpSetContainsAll:        "set_contains_all",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// ParseOp accepts the names printed by Op.String.
func ParseOp(s string) (Op, error) {
	for i, n := range opNames {
		if strings.EqualFold(n, s) {
			return Op(i), nil
		}
	}
	return 0, errors.InvalidArgument(fmt.Sprintf("unknown operator %q", s), nil)
}

// Arity is the number of bound arguments the operator takes.
func (o Op) Arity() int {
	if o.IsBetween() {
		return 2
	}
	return 1
}

func (o Op) IsBetween() bool {
	return o >= OpBetween && o <= OpBetweenEndInclusive
}

func (o Op) IsMembership() bool {
	return o == OpSetContainsAny || o == OpSetContainsAll
}

// Set is one position of a membership test: a single value or a list of
// candidates.
type Set []Value

// Leaf is one comparator. Range operators keep their bounds lower first,
// whatever the direction; each bound is a per-field list in index order.
type Leaf struct {
	Op     Op
	Desc   bool
	Bounds [][]Value
	Sets   []Set
	// Nested records whether the membership argument was a list of lists,
	// which always means one position per index field.
	Nested bool
}

func (l *Leaf) String() string {
	var b strings.Builder
	b.WriteString(l.Op.String())
	if l.Desc {
		b.WriteString(" desc")
	}
	b.WriteByte('(')
	if l.Op.IsMembership() {
		for i, s := range l.Sets {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(joinValues(s, "|"))
		}
	} else {
		for i, bound := range l.Bounds {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(joinValues(bound, ","))
		}
	}
	b.WriteByte(')')
	return b.String()
}

func joinValues(vs []Value, sep string) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, sep) + "]"
}

// NodeKind distinguishes leaves from set combinators.
type NodeKind uint8

const (
	NodeLeaf NodeKind = iota
	NodeIntersection
	NodeUnion
)

func (k NodeKind) String() string {
	switch k {
	case NodeIntersection:
		return "INTERSECT"
	case NodeUnion:
		return "UNION"
	}
	return "LEAF"
}

// Node is a predicate tree node.
type Node struct {
	Kind     NodeKind
	Leaf     *Leaf
	Children []*Node
}

func (n *Node) String() string {
	if n.Kind == NodeLeaf {
		return n.Leaf.String()
	}
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = c.String()
	}
	return n.Kind.String() + "{" + strings.Join(parts, "; ") + "}"
}

// Leaves returns the leaves in tree order.
func (n *Node) Leaves() []*Leaf {
	if n.Kind == NodeLeaf {
		return []*Leaf{n.Leaf}
	}
	var out []*Leaf
	for _, c := range n.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}
