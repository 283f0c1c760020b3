package executor

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/binding"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/index"
	"github.com/devrev/entitydb/internal/keycodec"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/kv/memstore"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
)

var (
	firstNames = []string{
		"Alice", "Bob", "Carmen", "Daya", "Eli", "Fred", "Gigi", "Hana", "Ivan",
		"Joyce", "Kai", "Lena", "Milo", "Nora", "Omar", "Pia", "Quinn", "Rosa",
	}
	lastNames = []string{"Brown", "Jones", "Lee", "Smith", "Wright"}
	owners    = []string{"Harry", "Joyce", "Tom", "Wright"}
)

type testCatalog struct {
	defs    map[string]*model.EntityDefinition
	indexes map[string]*model.EntityIndex
}

func (c *testCatalog) EntityDefinition(name string) (*model.EntityDefinition, error) {
	def, ok := c.defs[name]
	if !ok {
		return nil, errors.UnknownEntity(name)
	}
	return def, nil
}

func (c *testCatalog) EntityIndex(entity, name string) (*model.EntityIndex, error) {
	ix, ok := c.indexes[entity+"."+name]
	if !ok {
		return nil, errors.UnknownIndex(entity, name)
	}
	return ix, nil
}

type fixture struct {
	store   *memstore.Store
	catalog *testCatalog
	authors []*model.Entity
}

func field(t *testing.T, name string, ft model.FieldType) *model.FieldDefinition {
	t.Helper()
	f, err := model.NewFieldDefinition(name, ft)
	require.NoError(t, err)
	return f
}

// newFixture stores n authors with pseudo-random attributes and maintains
// every index the way the entity store does.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	ctx := context.Background()

	def, err := model.NewEntityDefinition("Author",
		field(t, "FirstName", model.TypeString),
		field(t, "LastName", model.TypeString),
		field(t, "Rating", model.TypeInt),
		field(t, "Birthday", model.TypeDate),
		field(t, "Owners", model.TypeString|model.TypeArray),
		field(t, "WorkflowStatus", model.TypeString),
	)
	require.NoError(t, err)

	indexes := []*model.EntityIndex{
		{Entity: "Author", Name: "byFirstName", Kind: model.IndexSimpleSingleField, Fields: []string{"FirstName"}},
		{Entity: "Author", Name: "byRating", Kind: model.IndexSimpleSingleField, Fields: []string{"Rating"}},
		{Entity: "Author", Name: "byFirstNameByLastName", Kind: model.IndexSimpleMultiField, Fields: []string{"FirstName", "LastName"}},
		{Entity: "Author", Name: "byOwners", Kind: model.IndexArrayMembership, Fields: []string{"Owners"}},
		{Entity: "Author", Name: "byOwnersByStatus", Kind: model.IndexMultiFieldArrayMembership, Fields: []string{"Owners", "WorkflowStatus"}},
		{Entity: "Author", Name: "byFirstNameCollated", Kind: model.IndexSimpleSingleField, Fields: []string{"FirstName"},
			Attributes: map[string]string{model.AttrCollation: "en"}},
	}

	cat := &testCatalog{defs: map[string]*model.EntityDefinition{"Author": def}, indexes: map[string]*model.EntityIndex{}}
	store, err := memstore.New(memstore.Config{LockTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.EnsureBucket(ctx, model.PrimaryBucket("Author"), false))
	schemas := make([]*index.KeySchema, 0, len(indexes))
	for _, ix := range indexes {
		require.NoError(t, ix.Validate(def))
		cat.indexes["Author."+ix.Name] = ix
		require.NoError(t, store.EnsureBucket(ctx, ix.Bucket(), true))
		ks, err := index.NewKeySchema(ix, def)
		require.NoError(t, err)
		schemas = append(schemas, ks)
	}

	rnd := rand.New(rand.NewSource(7))
	base := time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fixture{store: store, catalog: cat}
	for i := 0; i < n; i++ {
		a := def.CreateInstance()
		a.ID = int64(i + 1)
		a.SetAttribute("FirstName", firstNames[rnd.Intn(len(firstNames))])
		a.SetAttribute("LastName", lastNames[rnd.Intn(len(lastNames))])
		a.SetAttribute("Rating", int32(rnd.Intn(10)))
		a.SetAttribute("Birthday", base.Add(time.Duration(rnd.Intn(20000))*24*time.Hour))
		var own []string
		for _, o := range owners {
			if rnd.Intn(2) == 0 {
				own = append(own, o)
			}
		}
		a.SetAttribute("Owners", own)
		status := "Draft"
		if rnd.Intn(3) > 0 {
			status = "Published"
		}
		a.SetAttribute("WorkflowStatus", status)
		f.authors = append(f.authors, a)
	}

	require.NoError(t, kv.Update(ctx, store, func(txn kv.Txn) error {
		for _, a := range f.authors {
			rec, err := binding.MarshalEntity(def, a)
			if err != nil {
				return err
			}
			if err := txn.Put(ctx, model.PrimaryBucket("Author"), keycodec.EncodeLong(a.ID), rec); err != nil {
				return err
			}
			for _, ks := range schemas {
				keys, err := ks.EntryKeys(a)
				if err != nil {
					return err
				}
				for _, k := range keys {
					if err := txn.Put(ctx, ks.Index.Bucket(), k, keycodec.EncodeLong(a.ID)); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}))
	return f
}

// compile finishes the builder and compiles it.
func (f *fixture) compile(t *testing.T, b *query.Query) *Plan {
	t.Helper()
	q, err := b.Ret()
	require.NoError(t, err)
	plan, err := Compile(f.catalog, q)
	require.NoError(t, err)
	return plan
}

func (f *fixture) run(t *testing.T, b *query.Query) *query.Result {
	t.Helper()
	plan := f.compile(t, b)

	var res *query.Result
	require.NoError(t, kv.View(context.Background(), f.store, func(txn kv.Txn) error {
		var err error
		res, err = plan.Execute(context.Background(), txn)
		return err
	}))
	return res
}

func (f *fixture) count(t *testing.T, b *query.Query) int {
	t.Helper()
	plan := f.compile(t, b)

	var n int
	require.NoError(t, kv.View(context.Background(), f.store, func(txn kv.Txn) error {
		var err error
		n, err = plan.Count(context.Background(), txn)
		return err
	}))
	return n
}

func (f *fixture) where(pred func(a *model.Entity) bool) []int64 {
	var ids []int64
	for _, a := range f.authors {
		if pred(a) {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

func ids(res *query.Result) []int64 {
	out := make([]int64, len(res.Entities))
	for i, e := range res.Entities {
		out[i] = e.ID
	}
	return out
}

func str(a *model.Entity, name string) string {
	s, _ := a.Attribute(name).(string)
	return s
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
