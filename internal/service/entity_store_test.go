package service

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/cache"
	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/kv"
	"github.com/devrev/entitydb/internal/kv/memstore"
	"github.com/devrev/entitydb/internal/metrics"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
)

var firstNames = []string{
	"Alice", "Bob", "Carmen", "Daya", "Eli", "Fred", "Gigi", "Hana", "Ivan",
	"Joyce", "Kai", "Lena", "Milo", "Nora", "Omar", "Pia", "Quinn", "Rosa",
}

func field(t *testing.T, name string, ft model.FieldType) *model.FieldDefinition {
	t.Helper()
	f, err := model.NewFieldDefinition(name, ft)
	require.NoError(t, err)
	return f
}

func refField(t *testing.T, name string, ft model.FieldType, refType string) *model.FieldDefinition {
	t.Helper()
	f, err := model.NewReferenceField(name, ft, refType)
	require.NoError(t, err)
	return f
}

func newMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	st, err := memstore.New(memstore.Config{LockTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	return st
}

func newEntityStore(t *testing.T, st kv.Store, opts Options) *EntityStore {
	t.Helper()
	s, err := NewEntityStore(context.Background(), st, opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// registerSchema declares Author and Book with the indexes the tests use.
func registerSchema(t *testing.T, s *EntityStore) {
	t.Helper()
	ctx := context.Background()

	author, err := model.NewEntityDefinition("Author",
		field(t, "FirstName", model.TypeString),
		field(t, "LastName", model.TypeString),
		field(t, "Rating", model.TypeInt),
		field(t, "Owners", model.TypeString|model.TypeArray),
		refField(t, "Books", model.TypeReference|model.TypeArray, "Book"),
	)
	require.NoError(t, err)
	require.NoError(t, s.AddEntityDefinition(ctx, author))

	title := field(t, "Title", model.TypeString)
	title.Required = true
	writer := refField(t, "Author", model.TypeReference, "Author")
	book, err := model.NewEntityDefinition("Book", title, writer, field(t, "Pages", model.TypeInt))
	require.NoError(t, err)
	require.NoError(t, s.AddEntityDefinition(ctx, book))

	_, err = s.AddEntityIndex(ctx, "Author", []string{"FirstName"}, model.IndexSimpleSingleField, "byFirstName", nil)
	require.NoError(t, err)
	_, err = s.AddEntityIndex(ctx, "Author", []string{"Owners"}, model.IndexArrayMembership, "byOwners", nil)
	require.NoError(t, err)
	_, err = s.AddEntityIndex(ctx, "Book", []string{"Author"}, model.IndexSimpleSingleField, "byAuthor", nil)
	require.NoError(t, err)
}

func newAuthor(t *testing.T, s *EntityStore, first string, rating int, owners ...string) *model.Entity {
	t.Helper()
	def, err := s.EntityDefinition("Author")
	require.NoError(t, err)
	e := def.CreateInstance()
	e.SetAttribute("FirstName", first)
	e.SetAttribute("Rating", rating)
	if len(owners) > 0 {
		e.SetAttribute("Owners", owners)
	}
	return e
}

func mustQuery(t *testing.T, b *query.Query) *query.Query {
	t.Helper()
	q, err := b.Ret()
	require.NoError(t, err)
	return q
}

func ids(es []*model.Entity) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func TestEntityStore_GigiScenario(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	rnd := rand.New(rand.NewSource(11))
	var gigis []int64
	for i := 0; i < 500; i++ {
		a := newAuthor(t, s, firstNames[rnd.Intn(len(firstNames))], rnd.Intn(10))
		require.NoError(t, s.SaveEntity(ctx, a))
		assert.Equal(t, int64(i+1), a.ID)
		if a.Attribute("FirstName") == "Gigi" {
			gigis = append(gigis, a.ID)
		}
	}
	require.NotEmpty(t, gigis)

	q := mustQuery(t, query.New("Author").Idx("byFirstName").Eq("Gigi"))
	res, err := s.ExecuteQuery(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, gigis, ids(res.Entities))

	n, err := s.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, len(gigis), n)

	// pages reassemble the full result
	var paged []int64
	b := query.New("Author").Idx("byFirstName").Eq("Gigi").PageSize(7)
	for {
		res, err := s.ExecuteQuery(ctx, mustQuery(t, b))
		require.NoError(t, err)
		paged = append(paged, ids(res.Entities)...)
		if res.Next.IsZero() {
			break
		}
		b = query.New("Author").Idx("byFirstName").Eq("Gigi").PageSize(7).After(res.Next)
	}
	assert.Equal(t, gigis, paged)
}

func TestEntityStore_UpdateMovesIndexEntries(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	a := newAuthor(t, s, "Gigi", 3, "Harry", "Tom")
	require.NoError(t, s.SaveEntity(ctx, a))

	a.SetAttribute("FirstName", "Rosa")
	a.SetAttribute("Owners", []string{"Tom", "Joyce"})
	require.NoError(t, s.SaveEntity(ctx, a))

	count := func(b *query.Query) int {
		n, err := s.Count(ctx, mustQuery(t, b))
		require.NoError(t, err)
		return n
	}
	assert.Equal(t, 0, count(query.New("Author").Idx("byFirstName").Eq("Gigi")))
	assert.Equal(t, 1, count(query.New("Author").Idx("byFirstName").Eq("Rosa")))
	assert.Equal(t, 0, count(query.New("Author").Idx("byOwners").SetContainsAny(query.List("Harry"))))
	assert.Equal(t, 1, count(query.New("Author").Idx("byOwners").SetContainsAll(query.List("Tom", "Joyce"))))

	loaded, err := s.GetEntity(ctx, "Author", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rosa", loaded.Attribute("FirstName"))
	assert.Equal(t, int32(3), loaded.Attribute("Rating"))
}

func TestEntityStore_OwnersMembership(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	both := newAuthor(t, s, "A", 1, "Harry", "Joyce")
	harry := newAuthor(t, s, "B", 1, "Harry")
	none := newAuthor(t, s, "C", 1)
	for _, e := range []*model.Entity{both, harry, none} {
		require.NoError(t, s.SaveEntity(ctx, e))
	}

	res, err := s.ExecuteQuery(ctx, mustQuery(t, query.New("Author").Idx("byOwners").SetContainsAll(query.List("Harry", "Joyce"))))
	require.NoError(t, err)
	assert.Equal(t, []int64{both.ID}, ids(res.Entities))

	res, err = s.ExecuteQuery(ctx, mustQuery(t, query.New("Author").Idx("byOwners").SetContainsAny(query.List("Harry", "Joyce"))))
	require.NoError(t, err)
	assert.Equal(t, []int64{both.ID, harry.ID}, ids(res.Entities))
}

func TestEntityStore_RegistrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	s := newEntityStore(t, st, Options{})
	registerSchema(t, s)

	snapshot := func() map[string][]byte {
		out := make(map[string][]byte)
		require.NoError(t, kv.View(ctx, st, func(txn kv.Txn) error {
			c, err := txn.Cursor(ctx, catalogBucket)
			if err != nil {
				return err
			}
			defer c.Close()
			status, err := c.First()
			for ; err == nil && status == kv.Success; status, err = c.Next() {
				out[string(c.Key())] = append([]byte(nil), c.Data()...)
			}
			return err
		}))
		return out
	}
	before := snapshot()

	author, err := model.NewEntityDefinition("Author", field(t, "Other", model.TypeLong))
	require.NoError(t, err)
	err = s.AddEntityDefinition(ctx, author)
	assert.True(t, errors.IsAlreadyExists(err))

	_, err = s.AddEntityIndex(ctx, "Author", []string{"LastName"}, model.IndexSimpleSingleField, "byFirstName", nil)
	assert.True(t, errors.IsAlreadyExists(err))

	err = s.AddEntityField(ctx, "Author", field(t, "Rating", model.TypeLong), nil)
	assert.True(t, errors.IsAlreadyExists(err))

	assert.Equal(t, before, snapshot())
}

func TestEntityStore_SchemaErrors(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	tests := []struct {
		name string
		run  func() error
		code errors.ErrorCode
	}{
		{
			name: "UnknownEntityIndex",
			run: func() error {
				_, err := s.AddEntityIndex(ctx, "Publisher", []string{"Name"}, model.IndexSimpleSingleField, "byName", nil)
				return err
			},
			code: errors.ErrCodeUnknownEntity,
		},
		{
			name: "UnknownIndexField",
			run: func() error {
				_, err := s.AddEntityIndex(ctx, "Author", []string{"Nope"}, model.IndexSimpleSingleField, "byNope", nil)
				return err
			},
			code: errors.ErrCodeUnknownField,
		},
		{
			name: "MembershipOnScalar",
			run: func() error {
				_, err := s.AddEntityIndex(ctx, "Author", []string{"FirstName"}, model.IndexArrayMembership, "byFirst2", nil)
				return err
			},
			code: errors.ErrCodeInvalidDefinition,
		},
		{
			name: "ReservedIndexName",
			run: func() error {
				_, err := s.AddEntityIndex(ctx, "Author", []string{"FirstName"}, model.IndexSimpleSingleField, "PRIMARY", nil)
				return err
			},
			code: errors.ErrCodeInvalidArgument,
		},
		{
			name: "BadEntityName",
			run: func() error {
				def, _ := model.NewEntityDefinition("1Author")
				return s.AddEntityDefinition(ctx, def)
			},
			code: errors.ErrCodeInvalidArgument,
		},
		{
			name: "DeleteUnknownIndex",
			run:  func() error { return s.DeleteEntityIndex(ctx, "Author", "byNothing") },
			code: errors.ErrCodeUnknownIndex,
		},
		{
			name: "RequiredMissing",
			run: func() error {
				return s.SaveEntity(ctx, model.NewEntity("Book"))
			},
			code: errors.ErrCodeRequiredMissing,
		},
		{
			name: "UnknownAttribute",
			run: func() error {
				e := model.NewEntity("Author")
				e.SetAttribute("Nickname", "G")
				return s.SaveEntity(ctx, e)
			},
			code: errors.ErrCodeUnknownField,
		},
		{
			name: "TypeMismatch",
			run: func() error {
				e := model.NewEntity("Author")
				e.SetAttribute("Rating", "high")
				return s.SaveEntity(ctx, e)
			},
			code: errors.ErrCodeTypeMismatch,
		},
		{
			name: "GetMissing",
			run: func() error {
				_, err := s.GetEntity(ctx, "Author", 42)
				return err
			},
			code: errors.ErrCodeEntityNotFound,
		},
		{
			name: "FillScalarField",
			run: func() error {
				e := model.NewEntity("Author")
				return s.FillReferences(ctx, e, "FirstName")
			},
			code: errors.ErrCodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestEntityStore_FailedSaveKeepsEntityUnsaved(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	book := model.NewEntity("Book")
	book.SetAttribute("Title", "Dune")
	writer := newAuthor(t, s, "Frank", 5)
	book.SetAttribute("Author", writer)
	writer.SetAttribute("Rating", "not a number")

	require.Error(t, s.SaveEntity(ctx, book))
	assert.False(t, book.IsSaved())
	assert.False(t, writer.IsSaved())

	writer.SetAttribute("Rating", 5)
	require.NoError(t, s.SaveEntity(ctx, book))
	assert.Equal(t, int64(1), book.ID, "the failed attempt consumed no ids")
	assert.Equal(t, int64(1), writer.ID)
}

func TestEntityStore_FailedSaveLeavesAttributesUntouched(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	first := model.NewEntity("Book")
	first.SetAttribute("Title", "Dune")
	first.SetAttribute("Pages", 412)
	untitled := model.NewEntity("Book")
	a := newAuthor(t, s, "Frank", 5)
	a.SetAttribute("Books", []*model.Entity{first, untitled})

	err := s.SaveEntity(ctx, a)
	assert.Equal(t, errors.ErrCodeRequiredMissing, errors.GetCode(err))
	assert.False(t, first.IsSaved())
	assert.Equal(t, 412, first.Attribute("Pages"), "values are canonicalized only on commit")
	assert.Equal(t, 5, a.Attribute("Rating"))

	untitled.SetAttribute("Title", "Children of Dune")
	require.NoError(t, s.SaveEntity(ctx, a))
	assert.Equal(t, int32(412), first.Attribute("Pages"))
	assert.Equal(t, int32(5), a.Attribute("Rating"))
}

func TestEntityStore_IndexChangesDuringWrites(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				a := newAuthor(t, s, firstNames[i%len(firstNames)], i)
				a.SetAttribute("LastName", "Lee")
				if err := s.SaveEntity(ctx, a); err != nil {
					t.Errorf("save: %v", err)
					return
				}
			}
		}()
	}

	for round := 0; round < 5; round++ {
		_, err := s.AddEntityIndex(ctx, "Author", []string{"LastName"}, model.IndexSimpleSingleField, "byLastName", nil)
		require.NoError(t, err)
		if round < 4 {
			require.NoError(t, s.DeleteEntityIndex(ctx, "Author", "byLastName"))
		}
	}
	wg.Wait()

	total, err := s.Count(ctx, mustQuery(t, query.New("Author").Eq(query.Glob)))
	require.NoError(t, err)
	require.Equal(t, writers*perWriter, total)

	indexed, err := s.Count(ctx, mustQuery(t, query.New("Author").Idx("byLastName").Eq("Lee")))
	require.NoError(t, err)
	assert.Equal(t, total, indexed, "every saved author is in the index")
}

func TestEntityStore_BackfillAndDeleteIndex(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	for _, first := range []string{"Gigi", "Bob", "Gigi"} {
		a := newAuthor(t, s, first, 1)
		a.SetAttribute("LastName", "Lee")
		require.NoError(t, s.SaveEntity(ctx, a))
	}

	ix, err := s.AddEntityIndex(ctx, "Author", []string{"LastName", "FirstName"}, model.IndexSimpleMultiField, "byLastFirst", nil)
	require.NoError(t, err)
	assert.Equal(t, "idx.Author.byLastFirst", ix.Bucket())

	n, err := s.Count(ctx, mustQuery(t, query.New("Author").Idx("byLastFirst").Eq(query.List("Lee", "Gigi"))))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	indexes, err := s.EntityIndexes("Author")
	require.NoError(t, err)
	var names []string
	for _, ix := range indexes {
		names = append(names, ix.Name)
	}
	assert.Equal(t, []string{"byFirstName", "byLastFirst", "byOwners"}, names)

	require.NoError(t, s.DeleteEntityIndex(ctx, "Author", "byLastFirst"))
	_, err = s.Count(ctx, mustQuery(t, query.New("Author").Idx("byLastFirst").Eq(query.List("Lee", "Gigi"))))
	assert.Equal(t, errors.ErrCodeUnknownIndex, errors.GetCode(err))

	// re-registering starts from an empty bucket
	_, err = s.AddEntityIndex(ctx, "Author", []string{"LastName", "FirstName"}, model.IndexSimpleMultiField, "byLastFirst", nil)
	require.NoError(t, err)
	n, err = s.Count(ctx, mustQuery(t, query.New("Author").Idx("byLastFirst").Eq(query.List("Lee"))))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEntityStore_AddEntityFieldDefaultsOldRecords(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	a := newAuthor(t, s, "Gigi", 1)
	require.NoError(t, s.SaveEntity(ctx, a))

	require.NoError(t, s.AddEntityField(ctx, "Author", field(t, "Country", model.TypeString), "NZ"))

	loaded, err := s.GetEntity(ctx, "Author", a.ID)
	require.NoError(t, err)
	assert.Equal(t, "NZ", loaded.Attribute("Country"))
	assert.Equal(t, "Gigi", loaded.Attribute("FirstName"))

	// existing indexes keep working against the new definition
	n, err := s.Count(ctx, mustQuery(t, query.New("Author").Idx("byFirstName").Eq("Gigi")))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEntityStore_Restart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	open := func() *EntityStore {
		st, err := memstore.New(memstore.Config{
			LockTimeout: time.Second,
			CommitLog:   &memstore.CommitLogConfig{Dir: dir, SyncWrites: true},
		}, zap.NewNop())
		require.NoError(t, err)
		s, err := NewEntityStore(ctx, st, Options{}, zap.NewNop())
		require.NoError(t, err)
		return s
	}

	s := open()
	registerSchema(t, s)
	first := newAuthor(t, s, "Gigi", 4, "Tom")
	require.NoError(t, s.SaveEntity(ctx, first))
	require.NoError(t, s.Close())

	s = open()
	defer s.Close()

	assert.Len(t, s.EntityDefinitions(), 2)
	indexes, err := s.EntityIndexes("Author")
	require.NoError(t, err)
	assert.Len(t, indexes, 2)

	res, err := s.ExecuteQuery(ctx, mustQuery(t, query.New("Author").Idx("byOwners").SetContainsAny(query.List("Tom"))))
	require.NoError(t, err)
	assert.Equal(t, []int64{first.ID}, ids(res.Entities))

	second := newAuthor(t, s, "Bob", 2)
	require.NoError(t, s.SaveEntity(ctx, second))
	assert.Equal(t, first.ID+1, second.ID, "the id sequence survives restarts")
}

func TestEntityStore_ReferencesAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	require.NoError(t, s.AddEntityField(ctx, "Book", func() *model.FieldDefinition {
		f := refField(t, "Sequel", model.TypeReference, "Book")
		f.CascadeOnDelete = true
		return f
	}(), nil))

	writer := newAuthor(t, s, "Frank", 5)
	dune := model.NewEntity("Book")
	dune.SetAttribute("Title", "Dune")
	dune.SetAttribute("Author", writer)
	messiah := model.NewEntity("Book")
	messiah.SetAttribute("Title", "Dune Messiah")
	messiah.SetAttribute("Author", writer)
	dune.SetAttribute("Sequel", messiah)
	// a cycle through cascading references
	messiah.SetAttribute("Sequel", dune)

	require.NoError(t, s.SaveEntity(ctx, dune))
	require.True(t, writer.IsSaved())
	require.True(t, messiah.IsSaved())

	loaded, err := s.GetEntity(ctx, "Book", dune.ID)
	require.NoError(t, err)
	shell := loaded.Attribute("Author").(*model.Entity)
	assert.True(t, shell.IsShell())
	assert.Equal(t, writer.ID, shell.ID)

	require.NoError(t, s.FillReferences(ctx, loaded, "Author"))
	filled := loaded.Attribute("Author").(*model.Entity)
	assert.False(t, filled.IsShell())
	assert.Equal(t, "Frank", filled.Attribute("FirstName"))

	byAuthor := mustQuery(t, query.New("Book").Idx("byAuthor").Eq(writer.Ref()).Fill("Author"))
	res, err := s.ExecuteQuery(ctx, byAuthor)
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	for _, b := range res.Entities {
		assert.Equal(t, "Frank", b.Attribute("Author").(*model.Entity).Attribute("FirstName"))
	}

	require.NoError(t, s.DeleteEntity(ctx, dune))
	assert.False(t, dune.IsSaved())

	_, err = s.GetEntity(ctx, "Book", messiah.ID)
	assert.Equal(t, errors.ErrCodeEntityNotFound, errors.GetCode(err), "cascade follows Sequel")
	_, err = s.GetEntity(ctx, "Author", writer.ID)
	assert.NoError(t, err, "Author does not cascade")

	n, err := s.Count(ctx, byAuthor)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEntityStore_UnsavedReferenceDefault(t *testing.T) {
	ctx := context.Background()
	s := newEntityStore(t, newMemStore(t), Options{})

	note, err := model.NewEntityDefinition("Note", field(t, "Body", model.TypeText))
	require.NoError(t, err)
	require.NoError(t, s.AddEntityDefinition(ctx, note))

	attachment := refField(t, "Note", model.TypeReference, "Note")
	attachment.DefaultValue = model.NewShell(model.Ref{Type: "Note", ID: model.Unsaved})
	ticket, err := model.NewEntityDefinition("Ticket", attachment)
	require.NoError(t, err)
	require.NoError(t, s.AddEntityDefinition(ctx, ticket))

	def, err := s.EntityDefinition("Ticket")
	require.NoError(t, err)

	first := def.CreateInstance()
	second := def.CreateInstance()
	require.NoError(t, s.SaveEntity(ctx, first))
	require.NoError(t, s.SaveEntity(ctx, second))

	a := first.Attribute("Note").(*model.Entity)
	b := second.Attribute("Note").(*model.Entity)
	assert.True(t, a.IsSaved())
	assert.True(t, b.IsSaved())
	assert.NotEqual(t, a.ID, b.ID, "each instance gets a fresh referenced entity")
	assert.Equal(t, model.Unsaved, def.Fields[0].DefaultValue.(*model.Entity).ID, "the default is never saved")
}

func TestEntityStore_QueryCache(t *testing.T) {
	ctx := context.Background()
	c := cache.NewInMemoryCache(100, time.Minute, zap.NewNop())
	s := newEntityStore(t, newMemStore(t), Options{Cache: c, Metrics: metrics.NewMetrics()})
	registerSchema(t, s)

	gigi := newAuthor(t, s, "Gigi", 1)
	require.NoError(t, s.SaveEntity(ctx, gigi))

	q := mustQuery(t, query.New("Author").Idx("byFirstName").Eq("Gigi"))
	res, err := s.ExecuteQuery(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []int64{gigi.ID}, ids(res.Entities))
	assert.Equal(t, 1, c.Size())

	res, err = s.ExecuteQuery(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []int64{gigi.ID}, ids(res.Entities))
	assert.Equal(t, 1, c.Size(), "the second run is served from the cache")

	another := newAuthor(t, s, "Gigi", 2)
	require.NoError(t, s.SaveEntity(ctx, another))

	res, err = s.ExecuteQuery(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []int64{gigi.ID, another.ID}, ids(res.Entities), "saving bumps the generation")

	uncached := mustQuery(t, query.New("Author").Idx("byFirstName").Eq("Bob").CacheResults(false))
	_, err = s.ExecuteQuery(ctx, uncached)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Size())
}

func TestEntityStore_Explain(t *testing.T) {
	s := newEntityStore(t, newMemStore(t), Options{})
	registerSchema(t, s)

	plan, err := s.Explain(mustQuery(t, query.New("Author").Idx("byFirstName").Gte("G")))
	require.NoError(t, err)
	assert.Contains(t, plan, "byFirstName")

	_, err = s.Explain(mustQuery(t, query.New("Nobody")))
	assert.Equal(t, errors.ErrCodeUnknownEntity, errors.GetCode(err))
}
