package binding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityerrors "github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
)

func authorDefinition(t *testing.T) *model.EntityDefinition {
	t.Helper()

	field := func(name string, typ model.FieldType) *model.FieldDefinition {
		f, err := model.NewFieldDefinition(name, typ)
		require.NoError(t, err)
		return f
	}
	ref := func(name string, typ model.FieldType) *model.FieldDefinition {
		f, err := model.NewReferenceField(name, typ, "Book")
		require.NoError(t, err)
		return f
	}

	firstName := field("FirstName", model.TypeString)
	firstName.Required = true
	status := field("WorkflowStatus", model.TypeString)
	require.NoError(t, status.SetDefault("Draft"))
	owners := field("Owners", model.TypeString|model.TypeArray)
	owners.Comment = "people allowed to edit"
	favorite := ref("FavoriteBook", model.TypeReference)
	require.NoError(t, favorite.SetDefault(model.NewShell(model.Ref{Type: "Book", ID: model.Unsaved})))
	books := ref("Books", model.TypeReference|model.TypeArray)
	books.CascadeOnDelete = true

	def, err := model.NewEntityDefinition("Author",
		firstName,
		field("LastName", model.TypeString),
		field("Weight", model.TypeFloat),
		field("IsHungry", model.TypeBoolean),
		field("Birthday", model.TypeDate),
		field("FavoriteNumber", model.TypeInt),
		status,
		owners,
		field("Ints", model.TypeInt|model.TypeArray),
		field("Double", model.TypeDouble),
		field("BLOB", model.TypeBlob),
		favorite,
		books,
	)
	require.NoError(t, err)
	return def
}

func TestEntityDefinition_RoundTrip(t *testing.T) {
	def := authorDefinition(t)

	b, err := MarshalEntityDefinition(def)
	require.NoError(t, err)

	got, err := UnmarshalEntityDefinition(b)
	require.NoError(t, err)
	require.Len(t, got.Fields, len(def.Fields))
	assert.Equal(t, def.Name, got.Name)
	for i, f := range def.Fields {
		assert.True(t, f.Equal(got.Fields[i]), "field %s", f.Name)
	}

	fav, ok := got.Field("FavoriteBook")
	require.True(t, ok)
	shell, ok := fav.DefaultValue.(*model.Entity)
	require.True(t, ok)
	assert.Equal(t, model.Unsaved, shell.ID, "unsaved default reference keeps its sentinel id")
	assert.Equal(t, "Book", shell.Type)

	again, err := MarshalEntityDefinition(got)
	require.NoError(t, err)
	assert.Equal(t, b, again)
}

func TestEntityDefinition_Corrupt(t *testing.T) {
	b, err := MarshalEntityDefinition(authorDefinition(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"truncated", b[:len(b)/2]},
		{"flipped byte", func() []byte { c := append([]byte(nil), b...); c[10] ^= 0x40; return c }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalEntityDefinition(tt.in)
			require.Error(t, err)
			assert.True(t, entityerrors.IsEncodingError(err))
		})
	}
}

func TestEntity_RoundTrip(t *testing.T) {
	def := authorDefinition(t)
	birthday := time.Date(1971, 5, 14, 0, 0, 0, 0, time.UTC)

	e := def.CreateInstance()
	e.ID = 42
	e.SetAttribute("FirstName", "Gigi")
	e.SetAttribute("LastName", "Joyce")
	e.SetAttribute("Weight", float32(61.5))
	e.SetAttribute("IsHungry", true)
	e.SetAttribute("Birthday", birthday)
	e.SetAttribute("FavoriteNumber", int32(-7))
	e.SetAttribute("Owners", []string{"Carl", "Zeke"})
	e.SetAttribute("Ints", []int32{})
	e.SetAttribute("Double", 2.25)
	e.SetAttribute("BLOB", []byte{0, 1, 2})
	e.SetAttribute("FavoriteBook", model.NewShell(model.Ref{Type: "Book", ID: 3}))
	e.SetAttribute("Books", []*model.Entity{model.NewShell(model.Ref{Type: "Book", ID: 3}), nil})

	b, err := MarshalEntity(def, e)
	require.NoError(t, err)

	got, err := UnmarshalEntity(def, b)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	for _, f := range def.Fields {
		assert.Equal(t, e.Attribute(f.Name), got.Attribute(f.Name), f.Name)
	}
}

func TestEntity_AppendedFieldsTakeDefaults(t *testing.T) {
	def := authorDefinition(t)
	old := &model.EntityDefinition{Name: def.Name, Fields: def.Fields[:2]}

	e := old.CreateInstance()
	e.ID = 7
	e.SetAttribute("FirstName", "Zeke")
	b, err := MarshalEntity(old, e)
	require.NoError(t, err)

	got, err := UnmarshalEntity(def, b)
	require.NoError(t, err)
	assert.Equal(t, "Zeke", got.Attribute("FirstName"))
	assert.Equal(t, "Draft", got.Attribute("WorkflowStatus"))

	// a record can never carry more fields than its definition
	_, err = UnmarshalEntity(old, mustMarshal(t, def, def.CreateInstance()))
	assert.True(t, entityerrors.IsEncodingError(err))
}

func TestEntity_TypeMismatchOnWrite(t *testing.T) {
	def := authorDefinition(t)
	e := def.CreateInstance()
	e.SetAttribute("FavoriteNumber", "seven")

	_, err := MarshalEntity(def, e)
	assert.True(t, entityerrors.IsEncodingError(err))
}

func TestEntityIndex_RoundTrip(t *testing.T) {
	ix := &model.EntityIndex{
		Entity:     "Author",
		Name:       "OwnersStatus",
		Kind:       model.IndexMultiFieldArrayMembership,
		Fields:     []string{"Owners", "WorkflowStatus"},
		Attributes: map[string]string{model.AttrCollation: "en", "b": "2"},
	}

	b := MarshalEntityIndex(ix)
	got, err := UnmarshalEntityIndex(b)
	require.NoError(t, err)
	assert.True(t, ix.Equal(got))
	assert.Equal(t, b, MarshalEntityIndex(got))

	b[len(b)-1] ^= 0xFF
	_, err = UnmarshalEntityIndex(b)
	assert.True(t, entityerrors.IsEncodingError(err))
}

func TestTupleInput_StickyError(t *testing.T) {
	in := NewTupleInput([]byte{0x00, 0x01})
	assert.Equal(t, int32(0), in.ReadInt())
	require.Error(t, in.Err())
	assert.Equal(t, "", in.ReadString())
	assert.True(t, entityerrors.IsEncodingError(in.Err()))
}

func mustMarshal(t *testing.T, def *model.EntityDefinition, e *model.Entity) []byte {
	t.Helper()
	b, err := MarshalEntity(def, e)
	require.NoError(t, err)
	return b
}
