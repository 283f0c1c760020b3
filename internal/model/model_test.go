package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityerrors "github.com/devrev/entitydb/internal/errors"
)

func mustField(t *testing.T, name string, typ FieldType) *FieldDefinition {
	t.Helper()
	f, err := NewFieldDefinition(name, typ)
	require.NoError(t, err)
	return f
}

func TestFieldType_String(t *testing.T) {
	tests := []struct {
		typ  FieldType
		want string
	}{
		{TypeString, "String"},
		{TypeString | TypeArray, "String[]"},
		{TypeReference | TypeArray, "Reference[]"},
		{FieldType(42), "FieldType(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}

	parsed, err := ParseFieldType("date[]")
	require.NoError(t, err)
	assert.Equal(t, TypeDate|TypeArray, parsed)
	assert.Equal(t, TypeDate, parsed.BaseType())

	_, err = ParseFieldType("Decimal")
	assert.True(t, entityerrors.IsSchemaError(err))
}

func TestReferenceField_FailsFastWithoutType(t *testing.T) {
	_, err := NewFieldDefinition("FavoriteBook", TypeReference)
	assert.True(t, entityerrors.IsSchemaError(err))

	_, err = NewReferenceField("Books", TypeReference|TypeArray, "")
	assert.True(t, entityerrors.IsSchemaError(err))

	f, err := NewReferenceField("Books", TypeReference|TypeArray, "Book")
	require.NoError(t, err)
	assert.True(t, f.IsReference())
	assert.True(t, f.IsArray())

	_, err = NewReferenceField("Title", TypeString, "Book")
	assert.True(t, entityerrors.IsSchemaError(err))
}

func TestEntityDefinition_CreateInstance(t *testing.T) {
	status := mustField(t, "WorkflowStatus", TypeString)
	require.NoError(t, status.SetDefault("Draft"))
	owners := mustField(t, "Owners", TypeString|TypeArray)
	require.NoError(t, owners.SetDefault([]string{"Gigi"}))
	book, err := NewReferenceField("FavoriteBook", TypeReference, "Book")
	require.NoError(t, err)
	require.NoError(t, book.SetDefault(Ref{Type: "Book", ID: Unsaved}))

	def, err := NewEntityDefinition("Author", status, owners, book)
	require.NoError(t, err)

	a, b := def.CreateInstance(), def.CreateInstance()
	assert.Equal(t, Unsaved, a.ID)
	assert.False(t, a.IsSaved())
	assert.Equal(t, "Draft", a.Attribute("WorkflowStatus"))

	// defaults are copied, never shared
	a.Attribute("Owners").([]string)[0] = "Zeke"
	assert.Equal(t, []string{"Gigi"}, b.Attribute("Owners"))
	assert.Equal(t, []string{"Gigi"}, owners.DefaultValue)

	ra, rb := a.Attribute("FavoriteBook").(*Entity), b.Attribute("FavoriteBook").(*Entity)
	assert.NotSame(t, ra, rb)
	assert.True(t, ra.IsShell())
	assert.True(t, ra.Ref().IsUnsaved())

	err = def.AddField(mustField(t, "Owners", TypeLong))
	assert.True(t, entityerrors.IsAlreadyExists(err))
}

func TestCoerce(t *testing.T) {
	when := time.Date(2020, 1, 2, 3, 4, 5, 678_900_000, time.FixedZone("X", 3600))
	book, err := NewReferenceField("FavoriteBook", TypeReference, "Book")
	require.NoError(t, err)
	books, err := NewReferenceField("Books", TypeReference|TypeArray, "Book")
	require.NoError(t, err)

	tests := []struct {
		name    string
		field   *FieldDefinition
		in      interface{}
		want    interface{}
		wantErr bool
	}{
		{"int from int", mustField(t, "n", TypeInt), 7, int32(7), false},
		{"int from integral float", mustField(t, "n", TypeInt), 7.0, int32(7), false},
		{"int overflow", mustField(t, "n", TypeInt), int64(1 << 40), nil, true},
		{"int from fraction", mustField(t, "n", TypeInt), 7.5, nil, true},
		{"long from uint8", mustField(t, "n", TypeLong), uint8(3), int64(3), false},
		{"float from int", mustField(t, "x", TypeFloat), 2, float32(2), false},
		{"double", mustField(t, "x", TypeDouble), float32(0.5), 0.5, false},
		{"string", mustField(t, "s", TypeText), "hi", "hi", false},
		{"string from int", mustField(t, "s", TypeString), 3, nil, true},
		{"bool", mustField(t, "b", TypeBoolean), true, true, false},
		{"date truncates to millis", mustField(t, "d", TypeDate), when, time.UnixMilli(when.UnixMilli()).UTC(), false},
		{"date from millis", mustField(t, "d", TypeDate), int64(1000), time.UnixMilli(1000).UTC(), false},
		{"date from rfc3339", mustField(t, "d", TypeDate), "1970-01-01T00:00:01Z", time.UnixMilli(1000).UTC(), false},
		{"blob from base64", mustField(t, "b", TypeBlob), "AAE=", []byte{0, 1}, false},
		{"array from untyped", mustField(t, "a", TypeInt|TypeArray), []interface{}{1, int64(2)}, []int32{1, 2}, false},
		{"array null element", mustField(t, "a", TypeString|TypeArray), []interface{}{"a", nil}, nil, true},
		{"array from scalar", mustField(t, "a", TypeString|TypeArray), "a", nil, true},
		{"nil", mustField(t, "s", TypeString), nil, nil, false},
		{"ref from Ref", book, Ref{Type: "Book", ID: 4}, NewShell(Ref{Type: "Book", ID: 4}), false},
		{"ref wrong type", book, Ref{Type: "Author", ID: 4}, nil, true},
		{"ref array keeps nils", books, []interface{}{Ref{Type: "Book", ID: 1}, nil}, []*Entity{NewShell(Ref{Type: "Book", ID: 1}), nil}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.field, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, entityerrors.IsSchemaError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(TypeString, nil, "a"))
	assert.Equal(t, 0, Compare(TypeString, nil, nil))
	assert.Equal(t, 1, Compare(TypeInt, int32(2), int32(1)))
	assert.Equal(t, -1, Compare(TypeString|TypeArray, []string{"a"}, []string{"a", "b"}))
	assert.Equal(t, 1, Compare(TypeString|TypeArray, []string{"b"}, []string{"a", "b"}))
	assert.Equal(t, -1, Compare(TypeReference, NewShell(Ref{"Book", 1}), NewShell(Ref{"Book", 2})))
	assert.Equal(t, -1, Compare(TypeReference, (*Entity)(nil), NewShell(Ref{"Book", 2})))
}

func TestEntityIndex_Validate(t *testing.T) {
	def, err := NewEntityDefinition("Author",
		mustField(t, "FirstName", TypeString),
		mustField(t, "LastName", TypeString),
		mustField(t, "Owners", TypeString|TypeArray),
		mustField(t, "FavoriteNumber", TypeInt),
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		index   *EntityIndex
		wantErr bool
	}{
		{"single", &EntityIndex{Name: "i", Kind: IndexSimpleSingleField, Fields: []string{"FirstName"}}, false},
		{"single with two fields", &EntityIndex{Name: "i", Kind: IndexSimpleSingleField, Fields: []string{"FirstName", "LastName"}}, true},
		{"multi", &EntityIndex{Name: "i", Kind: IndexSimpleMultiField, Fields: []string{"LastName", "FirstName"}}, false},
		{"multi with one field", &EntityIndex{Name: "i", Kind: IndexSimpleMultiField, Fields: []string{"LastName"}}, true},
		{"membership", &EntityIndex{Name: "i", Kind: IndexArrayMembership, Fields: []string{"Owners"}}, false},
		{"membership on scalar", &EntityIndex{Name: "i", Kind: IndexArrayMembership, Fields: []string{"FirstName"}}, true},
		{"multi membership", &EntityIndex{Name: "i", Kind: IndexMultiFieldArrayMembership, Fields: []string{"Owners", "LastName"}}, false},
		{"multi membership without array", &EntityIndex{Name: "i", Kind: IndexMultiFieldArrayMembership, Fields: []string{"FirstName", "LastName"}}, true},
		{"primary is reserved", &EntityIndex{Name: "i", Kind: IndexPrimary}, true},
		{"unknown field", &EntityIndex{Name: "i", Kind: IndexSimpleSingleField, Fields: []string{"Nope"}}, true},
		{"collated string", &EntityIndex{Name: "i", Kind: IndexSimpleSingleField, Fields: []string{"LastName"}, Attributes: map[string]string{AttrCollation: "en"}}, false},
		{"collated int", &EntityIndex{Name: "i", Kind: IndexSimpleSingleField, Fields: []string{"FavoriteNumber"}, Attributes: map[string]string{AttrCollation: "en"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.index.Validate(def)
			if tt.wantErr {
				assert.True(t, entityerrors.IsSchemaError(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEntityIndex_Buckets(t *testing.T) {
	ix := &EntityIndex{Entity: "Author", Name: "FirstNameIdx", Kind: IndexSimpleSingleField}
	assert.Equal(t, "idx.Author.FirstNameIdx", ix.Bucket())
	assert.Equal(t, "ent.Author", PrimaryIndexFor("Author").Bucket())

	kind, err := ParseIndexKind("arraymembership")
	require.NoError(t, err)
	assert.Equal(t, IndexArrayMembership, kind)
	assert.True(t, kind.IsMembership())
}

func TestEntity_CloneSharesNothing(t *testing.T) {
	e := NewEntity("Author")
	e.ID = 5
	e.SetAttribute("Owners", []string{"a"})
	e.SetAttribute("FavoriteBook", &Entity{Type: "Book", ID: 9, attributes: map[string]interface{}{"Title": "x"}})

	c := e.Clone()
	c.Attribute("Owners").([]string)[0] = "b"
	assert.Equal(t, []string{"a"}, e.Attribute("Owners"))
	assert.True(t, c.Attribute("FavoriteBook").(*Entity).IsShell())
	assert.Equal(t, "Author[5]{FavoriteBook=Book:9, Owners=[a]}", e.String())
}
