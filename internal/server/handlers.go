package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/errors"
	"github.com/devrev/entitydb/internal/model"
	"github.com/devrev/entitydb/internal/query"
	"github.com/devrev/entitydb/internal/schemafile"
)

// Store is the entity store surface served over HTTP.
type Store interface {
	schemafile.Registry
	AddEntityField(ctx context.Context, entity string, field *model.FieldDefinition, defaultValue interface{}) error
	DeleteEntityIndex(ctx context.Context, entity, name string) error
	EntityDefinition(name string) (*model.EntityDefinition, error)
	EntityDefinitions() []*model.EntityDefinition
	EntityIndexes(entity string) ([]*model.EntityIndex, error)

	SaveEntity(ctx context.Context, e *model.Entity) error
	GetEntity(ctx context.Context, entityType string, id int64) (*model.Entity, error)
	DeleteEntity(ctx context.Context, e *model.Entity) error
	FillReferences(ctx context.Context, e *model.Entity, fields ...string) error

	ExecuteQuery(ctx context.Context, q *query.Query) (*query.Result, error)
	Count(ctx context.Context, q *query.Query) (int, error)
	Explain(q *query.Query) (string, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store        Store
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store Store, maxBodyBytes int64, logger *zap.Logger) *Handlers {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 4 << 20
	}
	return &Handlers{
		store:        store,
		logger:       logger,
		maxBodyBytes: maxBodyBytes,
	}
}

// EntityDefinitionResponse is the wire form of an entity type.
type EntityDefinitionResponse struct {
	Name    string                 `json:"name"`
	Fields  []schemafile.FieldSpec `json:"fields"`
	Indexes []schemafile.IndexSpec `json:"indexes,omitempty"`
}

func (h *Handlers) definitionResponse(def *model.EntityDefinition) (EntityDefinitionResponse, error) {
	resp := EntityDefinitionResponse{Name: def.Name, Fields: make([]schemafile.FieldSpec, len(def.Fields))}
	for i, fd := range def.Fields {
		resp.Fields[i] = schemafile.FieldSpecOf(fd)
	}
	indexes, err := h.store.EntityIndexes(def.Name)
	if err != nil {
		return resp, err
	}
	for _, ix := range indexes {
		resp.Indexes = append(resp.Indexes, schemafile.IndexSpecOf(ix))
	}
	return resp, nil
}

// ListEntityDefinitions handles GET /v1/schema/entities.
func (h *Handlers) ListEntityDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := h.store.EntityDefinitions()
	out := make([]EntityDefinitionResponse, 0, len(defs))
	for _, def := range defs {
		resp, err := h.definitionResponse(def)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		out = append(out, resp)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// GetEntityDefinition handles GET /v1/schema/entities/{entity}.
func (h *Handlers) GetEntityDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.EntityDefinition(mux.Vars(r)["entity"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp, err := h.definitionResponse(def)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CreateEntityDefinition handles POST /v1/schema/entities.
func (h *Handlers) CreateEntityDefinition(w http.ResponseWriter, r *http.Request) {
	var spec schemafile.EntitySpec
	if err := h.decodeJSON(w, r, &spec); err != nil {
		h.handleError(w, r, err)
		return
	}
	def, err := spec.Definition()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.store.AddEntityDefinition(r.Context(), def); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeSavedDefinition(w, r, def.Name, http.StatusCreated)
}

// AddEntityField handles POST /v1/schema/entities/{entity}/fields.
func (h *Handlers) AddEntityField(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	var spec schemafile.FieldSpec
	if err := h.decodeJSON(w, r, &spec); err != nil {
		h.handleError(w, r, err)
		return
	}
	fd, err := spec.Definition()
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.store.AddEntityField(r.Context(), entity, fd, fd.DefaultValue); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeSavedDefinition(w, r, entity, http.StatusOK)
}

func (h *Handlers) writeSavedDefinition(w http.ResponseWriter, r *http.Request, entity string, status int) {
	def, err := h.store.EntityDefinition(entity)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp, err := h.definitionResponse(def)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, status, resp)
}

// ListEntityIndexes handles GET /v1/schema/entities/{entity}/indexes.
func (h *Handlers) ListEntityIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := h.store.EntityIndexes(mux.Vars(r)["entity"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]schemafile.IndexSpec, len(indexes))
	for i, ix := range indexes {
		out[i] = schemafile.IndexSpecOf(ix)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// CreateEntityIndex handles POST /v1/schema/entities/{entity}/indexes.
func (h *Handlers) CreateEntityIndex(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	var spec schemafile.IndexSpec
	if err := h.decodeJSON(w, r, &spec); err != nil {
		h.handleError(w, r, err)
		return
	}
	if spec.Entity != "" && spec.Entity != entity {
		h.handleError(w, r, errors.InvalidArgument(
			fmt.Sprintf("index body names entity '%s' but the path names '%s'", spec.Entity, entity), nil))
		return
	}
	spec.Entity = entity

	ix, err := spec.Register(r.Context(), h.store)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, schemafile.IndexSpecOf(ix))
}

// DeleteEntityIndex handles DELETE /v1/schema/entities/{entity}/indexes/{index}.
func (h *Handlers) DeleteEntityIndex(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteEntityIndex(r.Context(), vars["entity"], vars["index"]); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportSchema handles GET /v1/schema, rendering every registered type
// and index as a schema file.
func (h *Handlers) ExportSchema(w http.ResponseWriter, r *http.Request) {
	defs := h.store.EntityDefinitions()
	var indexes []*model.EntityIndex
	for _, def := range defs {
		ixs, err := h.store.EntityIndexes(def.Name)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		indexes = append(indexes, ixs...)
	}
	data, err := schemafile.FromSchema(defs, indexes).Marshal()
	if err != nil {
		h.handleError(w, r, errors.InternalError("failed to render schema", err))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ApplySchema handles POST /v1/schema with a YAML schema file body.
func (h *Handlers) ApplySchema(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		h.handleError(w, r, errors.InvalidArgument("failed to read request body", err))
		return
	}
	f, err := schemafile.Parse(data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	res, err := schemafile.Apply(r.Context(), h.store, f, h.logger)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"created": res.Created, "existing": res.Existing})
}

// CreateEntity handles POST /v1/entities/{entity}.
func (h *Handlers) CreateEntity(w http.ResponseWriter, r *http.Request) {
	h.saveEntity(w, r, model.Unsaved, http.StatusCreated)
}

// UpdateEntity handles PUT /v1/entities/{entity}/{id}. The body replaces
// every attribute; omitted fields fall back to their defaults.
func (h *Handlers) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.saveEntity(w, r, id, http.StatusOK)
}

func (h *Handlers) saveEntity(w http.ResponseWriter, r *http.Request, id int64, status int) {
	def, err := h.store.EntityDefinition(mux.Vars(r)["entity"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	var body EntityJSON
	if err := h.decodeJSON(w, r, &body); err != nil {
		h.handleError(w, r, err)
		return
	}
	if body.Type != "" && body.Type != def.Name {
		h.handleError(w, r, errors.InvalidArgument(
			fmt.Sprintf("body has type '%s' but the path names '%s'", body.Type, def.Name), nil))
		return
	}

	e, err := decodeEntity(def, id, body.Attributes, h.store.EntityDefinition)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if err := h.store.SaveEntity(r.Context(), e); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, status, encodeEntity(e))
}

// GetEntity handles GET /v1/entities/{entity}/{id}. A fill parameter
// loads the named reference fields, or all of them when it is empty.
func (h *Handlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	e, err := h.store.GetEntity(r.Context(), mux.Vars(r)["entity"], id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if fill, ok := r.URL.Query()["fill"]; ok {
		if err := h.store.FillReferences(r.Context(), e, splitList(fill)...); err != nil {
			h.handleError(w, r, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, encodeEntity(e))
}

// DeleteEntity handles DELETE /v1/entities/{entity}/{id}.
func (h *Handlers) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	e := model.NewShell(model.Ref{Type: mux.Vars(r)["entity"], ID: id})
	if err := h.store.DeleteEntity(r.Context(), e); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Query handles POST /v1/entities/{entity}/query.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	q, ok := h.buildQuery(w, r)
	if !ok {
		return
	}
	res, err := h.store.ExecuteQuery(r.Context(), q)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newQueryResponse(res))
}

// Count handles POST /v1/entities/{entity}/count.
func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	q, ok := h.buildQuery(w, r)
	if !ok {
		return
	}
	n, err := h.store.Count(r.Context(), q)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Explain handles POST /v1/entities/{entity}/explain.
func (h *Handlers) Explain(w http.ResponseWriter, r *http.Request) {
	q, ok := h.buildQuery(w, r)
	if !ok {
		return
	}
	plan, err := h.store.Explain(q)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"query": q.String(), "plan": plan})
}

func (h *Handlers) buildQuery(w http.ResponseWriter, r *http.Request) (*query.Query, bool) {
	var req QueryRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	q, err := req.Build(mux.Vars(r)["entity"])
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return q, true
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.InvalidArgument(fmt.Sprintf("invalid entity id %q", raw), err)
	}
	return id, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
