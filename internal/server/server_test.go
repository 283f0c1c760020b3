package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/config"
	"github.com/devrev/entitydb/internal/kv/memstore"
	"github.com/devrev/entitydb/internal/metrics"
	"github.com/devrev/entitydb/internal/schemafile"
	"github.com/devrev/entitydb/internal/service"
)

const librarySchema = `
entities:
  - name: Author
    fields:
      - {name: FirstName, type: String}
      - {name: Rating, type: Int, default: 3}
      - {name: Books, type: "Reference[]", reference: Book, cascade_on_delete: true}
  - name: Book
    fields:
      - {name: Title, type: String, required: true}
indexes:
  - {entity: Author, name: byFirstName, kind: SimpleSingleField, fields: [FirstName]}
`

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, MaxBodyBytes: 1 << 20},
	}
}

func newTestStore(t *testing.T) *service.EntityStore {
	t.Helper()
	st, err := memstore.New(memstore.Config{LockTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	es, err := service.NewEntityStore(context.Background(), st, service.Options{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { es.Close() })
	return es
}

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics()
	return NewServer(testConfig(), newTestStore(t), m, zap.NewNop()), m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func applySchema(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/schema", librarySchema)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]int{"created": 3, "existing": 0}, decode[map[string]int](t, rec))
}

func TestServer_EntityLifecycle(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	applySchema(t, h)

	rec := do(t, h, http.MethodPost, "/v1/entities/Author",
		`{"attributes":{"FirstName":"Gigi","Books":[{"attributes":{"Title":"Dune"}}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[EntityJSON](t, rec)
	assert.Equal(t, "Author", created.Type)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, float64(3), created.Attributes["Rating"])
	books := created.Attributes["Books"].([]interface{})
	require.Len(t, books, 1)
	assert.Equal(t, float64(1), books[0].(map[string]interface{})["id"])

	// references come back as shells unless filled
	rec = do(t, h, http.MethodGet, "/v1/entities/Author/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[EntityJSON](t, rec)
	book := got.Attributes["Books"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, book["shell"])

	rec = do(t, h, http.MethodGet, "/v1/entities/Author/1?fill=Books", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[EntityJSON](t, rec)
	book = got.Attributes["Books"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "Dune", book["attributes"].(map[string]interface{})["Title"])

	rec = do(t, h, http.MethodPut, "/v1/entities/Author/1",
		`{"attributes":{"FirstName":"Georgina","Rating":5,"Books":[1]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/entities/Author/query",
		`{"index":"byFirstName","where":{"op":"eq","value":"Georgina"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[QueryResponse](t, rec)
	require.Equal(t, 1, res.Size)
	assert.Equal(t, float64(5), res.Entities[0].Attributes["Rating"])

	rec = do(t, h, http.MethodDelete, "/v1/entities/Author/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// cascade removed the book as well
	rec = do(t, h, http.MethodGet, "/v1/entities/Book/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ENTITY_NOT_FOUND", decode[ErrorResponse](t, rec).ErrorCode)
}

func TestServer_QueryPaging(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	applySchema(t, h)

	names := []string{"Ada", "Bea", "Cy", "Dov", "Eva", "Fay", "Gil"}
	for _, n := range names {
		rec := do(t, h, http.MethodPost, "/v1/entities/Author", fmt.Sprintf(`{"attributes":{"FirstName":%q}}`, n))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	var seen []string
	after := ""
	for {
		body := fmt.Sprintf(`{"index":"byFirstName","where":{"op":"between","bottom":"B","top":"G"},"page_size":2,"after":%q}`, after)
		rec := do(t, h, http.MethodPost, "/v1/entities/Author/query", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		res := decode[QueryResponse](t, rec)
		for _, e := range res.Entities {
			seen = append(seen, e.Attributes["FirstName"].(string))
		}
		if res.Next == "" {
			break
		}
		after = res.Next
	}
	assert.Equal(t, []string{"Bea", "Cy", "Dov", "Eva", "Fay"}, seen)

	rec := do(t, h, http.MethodPost, "/v1/entities/Author/count",
		`{"index":"byFirstName","where":{"union":[{"op":"eq","value":"Ada"},{"op":"starts_with","value":"G"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]int{"count": 2}, decode[map[string]int](t, rec))

	rec = do(t, h, http.MethodPost, "/v1/entities/Author/explain",
		`{"index":"byFirstName","where":{"op":"gt","value":"C","desc":true}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	explained := decode[map[string]string](t, rec)
	assert.Equal(t, `Author[byFirstName] gt desc("C")`, explained["query"])
	assert.NotEmpty(t, explained["plan"])
}

func TestServer_SchemaAdmin(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/schema/entities",
		`{"name":"Tag","fields":[{"name":"Label","type":"String","required":true}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/schema/entities",
		`{"name":"Tag","fields":[{"name":"Label","type":"String","required":true}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/schema/entities/Tag/fields", `{"name":"Weight","type":"Double","default":1.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	def := decode[EntityDefinitionResponse](t, rec)
	require.Len(t, def.Fields, 2)
	assert.Equal(t, 1.5, def.Fields[1].Default)

	rec = do(t, h, http.MethodPost, "/v1/schema/entities/Tag/indexes",
		`{"name":"byLabel","kind":"SimpleSingleField","fields":["Label"],"attributes":{"collation":"en"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/schema/entities/Tag/indexes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	indexes := decode[[]map[string]interface{}](t, rec)
	require.Len(t, indexes, 1)
	assert.Equal(t, "byLabel", indexes[0]["name"])

	rec = do(t, h, http.MethodGet, "/v1/schema", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "name: byLabel")

	rec = do(t, h, http.MethodDelete, "/v1/schema/entities/Tag/indexes/byLabel", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/schema/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	defs := decode[[]EntityDefinitionResponse](t, rec)
	require.Len(t, defs, 1)
	assert.Empty(t, defs[0].Indexes)
}

func TestServer_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	applySchema(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"UnknownEntity", http.MethodPost, "/v1/entities/Nope", `{"attributes":{}}`, http.StatusBadRequest, "UNKNOWN_ENTITY"},
		{"UnknownField", http.MethodPost, "/v1/entities/Author", `{"attributes":{"Nick":"x"}}`, http.StatusBadRequest, "UNKNOWN_FIELD"},
		{"RequiredMissing", http.MethodPost, "/v1/entities/Book", `{"attributes":{}}`, http.StatusBadRequest, "REQUIRED_MISSING"},
		{"TypeMismatch", http.MethodPost, "/v1/entities/Author", `{"attributes":{"Rating":"high"}}`, http.StatusBadRequest, "TYPE_MISMATCH"},
		{"EmptyBody", http.MethodPost, "/v1/entities/Author", ``, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"UnknownBodyKey", http.MethodPost, "/v1/entities/Author/query", `{"indx":"byFirstName"}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"MissingRecord", http.MethodPut, "/v1/entities/Author/99", `{"attributes":{}}`, http.StatusNotFound, "ENTITY_NOT_FOUND"},
		{"UnknownIndex", http.MethodPost, "/v1/entities/Author/query", `{"index":"byNothing"}`, http.StatusBadRequest, "UNKNOWN_INDEX"},
		{"BadToken", http.MethodPost, "/v1/entities/Author/query", `{"after":"not-a-token"}`, http.StatusBadRequest, "BAD_TOKEN"},
		{"UnknownOp", http.MethodPost, "/v1/entities/Author/count", `{"where":{"op":"like","value":"x"}}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"AmbiguousPredicate", http.MethodPost, "/v1/entities/Author/count", `{"where":{"op":"eq","value":1,"union":[{"op":"eq","value":2}]}}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"DeletePrimary", http.MethodDelete, "/v1/schema/entities/Author/indexes/PRIMARY", ``, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"NoRoute", http.MethodGet, "/v2/anything", ``, http.StatusNotFound, "NOT_FOUND"},
		{"WrongMethod", http.MethodPatch, "/v1/entities/Author/1", ``, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.code, resp.ErrorCode)
		})
	}
}

func TestHandlers_GetEntityWithURLVars(t *testing.T) {
	es := newTestStore(t)
	h := NewHandlers(es, 0, zap.NewNop())
	ctx := context.Background()

	f, err := schemafile.Parse([]byte(librarySchema))
	require.NoError(t, err)
	_, err = schemafile.Apply(ctx, es, f, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"attributes":{"FirstName":"Ada"}}`))
	req = mux.SetURLVars(req, map[string]string{"entity": "Author"})
	rec := httptest.NewRecorder()
	h.CreateEntity(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = mux.SetURLVars(req, map[string]string{"entity": "Author", "id": "1"})
	rec = httptest.NewRecorder()
	h.GetEntity(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", decode[EntityJSON](t, rec).Attributes["FirstName"])

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"entity": "Author", "id": "0"})
	rec = httptest.NewRecorder()
	h.GetEntity(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReadinessAndMetrics(t *testing.T) {
	s, m := newTestServer(t)
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ready", "").Code)
	s.SetReady(true, "")
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "").Code)

	do(t, h, http.MethodGet, "/v1/schema/entities/Missing", "")
	rec := do(t, m.Handler(), http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(),
		`entitydb_http_requests_total{method="GET",route="/v1/schema/entities/{entity}",status="400"} 1`)
}
