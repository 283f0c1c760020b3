package query

import (
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/model"
)

// Result is one page of query results. Next is set when a resumable scan
// stopped at the page boundary with more entries left.
type Result struct {
	Entities []*model.Entity
	Next     index.Token
}

// Size is the number of entities in the page.
func (r *Result) Size() int {
	if r == nil {
		return 0
	}
	return len(r.Entities)
}
