package server

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/query"
)

// QueryRequest is the JSON body of the query, count and explain routes.
type QueryRequest struct {
	Index    string     `json:"index,omitempty"`
	Where    *Predicate `json:"where,omitempty"`
	OrderBy  string     `json:"order_by,omitempty"`
	Offset   int        `json:"offset,omitempty"`
	PageSize *int       `json:"page_size,omitempty"`
	Cache    *bool      `json:"cache,omitempty"`
	After    string     `json:"after,omitempty"`
	Fill     []string   `json:"fill,omitempty"`
}

// Predicate is either a comparator or a set operation over children.
// Between operators take bottom and top whatever the direction.
//
// Values are JSON scalars, arrays (one element per index field, or
// candidate lists for membership tests) or {"sentinel": "min"|"max"|"glob"}.
type Predicate struct {
	Op           string          `json:"op,omitempty"`
	Value        json.RawMessage `json:"value,omitempty"`
	Bottom       json.RawMessage `json:"bottom,omitempty"`
	Top          json.RawMessage `json:"top,omitempty"`
	Desc         bool            `json:"desc,omitempty"`
	Intersection []*Predicate    `json:"intersection,omitempty"`
	Union        []*Predicate    `json:"union,omitempty"`
}

// Build turns the request into a finished query over entity.
func (req *QueryRequest) Build(entity string) (*query.Query, error) {
	q := query.New(entity)
	if req.Index != "" {
		q.Idx(req.Index)
	}
	if req.Where != nil {
		if err := req.Where.apply(q, true); err != nil {
			return nil, err
		}
	}
	if req.OrderBy != "" {
		q.OrderBy(req.OrderBy)
	}
	if req.Offset != 0 {
		q.Offset(req.Offset)
	}
	if req.PageSize != nil {
		q.PageSize(*req.PageSize)
	}
	if req.Cache != nil {
		q.CacheResults(*req.Cache)
	}
	if req.After != "" {
		tok, err := index.ParseToken(req.After)
		if err != nil {
			return nil, err
		}
		q.After(tok)
	}
	if len(req.Fill) > 0 {
		q.Fill(req.Fill...)
	}
	return q.Ret()
}

func (p *Predicate) apply(q *query.Query, top bool) error {
	shapes := 0
	if p.Op != "" {
		shapes++
	}
	if len(p.Intersection) > 0 {
		shapes++
	}
	if len(p.Union) > 0 {
		shapes++
	}
	if shapes != 1 {
		return errors.InvalidArgument("a predicate needs exactly one of op, intersection or union", nil)
	}

	switch {
	case len(p.Intersection) > 0:
		// the query root is already an intersection
		if !top {
			q.StartIntersection()
		}
		for _, c := range p.Intersection {
			if err := c.apply(q, false); err != nil {
				return err
			}
		}
		if !top {
			q.EndIntersection()
		}
		return nil
	case len(p.Union) > 0:
		q.StartUnion()
		for _, c := range p.Union {
			if err := c.apply(q, false); err != nil {
				return err
			}
		}
		q.EndUnion()
		return nil
	}

	op, err := query.ParseOp(p.Op)
	if err != nil {
		return err
	}
	dir := index.Ascending
	if p.Desc {
		dir = index.Descending
	}

	if op.IsBetween() {
		if len(p.Bottom) == 0 || len(p.Top) == 0 {
			return errors.InvalidArgument(fmt.Sprintf("%s requires bottom and top", op), nil)
		}
		bottom, err := decodeQueryValue(p.Bottom)
		if err != nil {
			return err
		}
		topV, err := decodeQueryValue(p.Top)
		if err != nil {
			return err
		}
		q.Where(op, dir, bottom, topV)
		return nil
	}

	if len(p.Value) == 0 {
		return errors.InvalidArgument(fmt.Sprintf("%s requires a value", op), nil)
	}
	v, err := decodeQueryValue(p.Value)
	if err != nil {
		return err
	}
	q.Where(op, dir, v)
	return nil
}

func decodeQueryValue(raw json.RawMessage) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, errors.InvalidArgument("invalid predicate value", err)
	}
	return convertQueryValue(v)
}

func convertQueryValue(v interface{}) (interface{}, error) {
	switch tv := v.(type) {
	case []interface{}:
		out := make(query.ValueList, len(tv))
		for i, e := range tv {
			c, err := convertQueryValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]interface{}:
		s, _ := tv["sentinel"].(string)
		switch s {
		case "min":
			return query.Min, nil
		case "max":
			return query.Max, nil
		case "glob":
			return query.Glob, nil
		}
		return nil, errors.InvalidArgument(fmt.Sprintf("unknown predicate value object %v", tv), nil)
	}
	return v, nil
}

// QueryResponse is one page of results.
type QueryResponse struct {
	Entities []*EntityJSON `json:"entities"`
	Size     int           `json:"size"`
	Next     string        `json:"next,omitempty"`
}

func newQueryResponse(res *query.Result) QueryResponse {
	out := QueryResponse{Entities: make([]*EntityJSON, len(res.Entities)), Size: res.Size(), Next: res.Next.String()}
	for i, e := range res.Entities {
		out.Entities[i] = encodeEntity(e)
	}
	return out
}
