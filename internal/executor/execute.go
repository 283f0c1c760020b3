package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/devrev/entitydb/internal/binding"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/keycodec"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
)

// Execute runs the plan in txn. Any error aborts the whole query and no
// partial result is returned.
func (p *Plan) Execute(ctx context.Context, txn kv.Txn) (*query.Result, error) {
	q := p.Query

	// The offset positions the first page only; a token already marks
	// where the previous page ended.
	skip := q.Skip()
	if !q.Token().IsZero() {
		skip = 0
	}

	limit := 0
	if p.resumable && q.Limit() != query.AllResults {
		limit = skip + q.Limit()
	}

	ids, next, err := p.eval(ctx, txn, p.root, limit)
	if err != nil {
		return nil, err
	}

	if p.resort {
		entities, err := p.load(ctx, txn, ids)
		if err != nil {
			return nil, err
		}
		f := p.orderBy
		sort.SliceStable(entities, func(i, j int) bool {
			return model.Compare(f.Type, entities[i].Attribute(f.Name), entities[j].Attribute(f.Name)) < 0
		})
		return &query.Result{Entities: window(entities, skip, q.Limit())}, nil
	}

	entities, err := p.load(ctx, txn, window(ids, skip, q.Limit()))
	if err != nil {
		return nil, err
	}
	return &query.Result{Entities: entities, Next: next}, nil
}

// Count runs the plan and tallies the surviving ids. Paging and entity
// loading are skipped.
func (p *Plan) Count(ctx context.Context, txn kv.Txn) (int, error) {
	ids, _, err := p.eval(ctx, txn, p.root, 0)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func window[T any](s []T, offset, size int) []T {
	if offset >= len(s) {
		return []T{}
	}
	s = s[offset:]
	if size != query.AllResults && size < len(s) {
		s = s[:size]
	}
	return s
}

// eval returns the ids matched by n, deduplicated. limit > 0 stops a leaf
// scan after that many ids and returns the token of the last one when
// more entries remain.
func (p *Plan) eval(ctx context.Context, txn kv.Txn, n *node, limit int) ([]int64, index.Token, error) {
	switch n.kind {
	case query.NodeLeaf:
		return p.scan(ctx, txn, n, limit)
	case query.NodeIntersection:
		branches, err := p.evalChildren(ctx, txn, n)
		if err != nil {
			return nil, index.Token{}, err
		}
		return intersect(branches), index.Token{}, nil
	case query.NodeUnion:
		branches, err := p.evalChildren(ctx, txn, n)
		if err != nil {
			return nil, index.Token{}, err
		}
		return union(branches), index.Token{}, nil
	}
	return nil, index.Token{}, errors.InternalError(fmt.Sprintf("unknown plan node %s", n.kind), nil)
}

func (p *Plan) evalChildren(ctx context.Context, txn kv.Txn, n *node) ([][]int64, error) {
	branches := make([][]int64, len(n.children))
	for i, c := range n.children {
		ids, _, err := p.eval(ctx, txn, c, 0)
		if err != nil {
			return nil, err
		}
		branches[i] = ids
	}
	return branches, nil
}

func (p *Plan) scan(ctx context.Context, txn kv.Txn, n *node, limit int) ([]int64, index.Token, error) {
	c, err := txn.Cursor(ctx, p.Index.Bucket())
	if err != nil {
		return nil, index.Token{}, err
	}
	it := n.newIter()
	defer it.Close()

	if tok := p.Query.Token(); !tok.IsZero() && p.resumable {
		err = it.Resume(c, tok)
	} else {
		err = it.Open(c)
	}
	if err != nil {
		return nil, index.Token{}, err
	}

	var ids []int64
	var last index.Token
	seen := make(map[int64]struct{})
	for it.Valid() {
		if err := ctx.Err(); err != nil {
			return nil, index.Token{}, errors.Unavailable("query cancelled", err)
		}
		id, err := it.ID()
		if err != nil {
			return nil, index.Token{}, err
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
			if limit > 0 && len(ids) == limit {
				if last, err = it.Token(); err != nil {
					return nil, index.Token{}, err
				}
				if err := it.Next(); err != nil {
					return nil, index.Token{}, err
				}
				if !it.Valid() {
					last = index.Token{}
				}
				return ids, last, nil
			}
		}
		if err := it.Next(); err != nil {
			return nil, index.Token{}, err
		}
	}
	return ids, index.Token{}, nil
}

// load resolves ids into entities from the primary bucket, keeping order.
func (p *Plan) load(ctx context.Context, txn kv.Txn, ids []int64) ([]*model.Entity, error) {
	bucket := model.PrimaryBucket(p.Def.Name)
	out := make([]*model.Entity, 0, len(ids))
	for _, id := range ids {
		data, st, err := txn.Get(ctx, bucket, keycodec.EncodeLong(id))
		if err != nil {
			return nil, err
		}
		if st != kv.Success {
			return nil, errors.CorruptedData(fmt.Sprintf("index '%s' refers to missing %s:%d", p.Index.Name, p.Def.Name, id), nil).
				WithDetail("entity", p.Def.Name).
				WithDetail("id", id)
		}
		e, err := binding.UnmarshalEntity(p.Def, data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
