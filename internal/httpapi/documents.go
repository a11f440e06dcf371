package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arkiliandb/docstore/internal/collection"
	"github.com/arkiliandb/docstore/internal/index"
	"github.com/arkiliandb/docstore/internal/query/ast"

	docerrors "github.com/arkiliandb/docstore/internal/errors"
)

// CollectionOpener resolves a collection name to a live handle. A
// *collection.Registry is the production implementation; tests supply a
// func-backed double.
type CollectionOpener interface {
	Collection(ctx context.Context, name string) (*collection.Collection, error)
}

// DocumentsHandler binds the HTTP Surface's five document routes directly
// to Collection Orchestrator calls (§4.13): no query or update semantics
// are reimplemented here, only request decoding, error-to-status mapping,
// and response shaping.
type DocumentsHandler struct {
	collections CollectionOpener
}

// NewDocumentsHandler creates a DocumentsHandler resolving collections
// through opener.
func NewDocumentsHandler(opener CollectionOpener) *DocumentsHandler {
	return &DocumentsHandler{collections: opener}
}

// Register wires the handler's routes onto mux using the Go 1.22+
// method-and-wildcard ServeMux pattern syntax.
func (h *DocumentsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /collections/{name}/find", h.handleFind)
	mux.HandleFunc("POST /collections/{name}/insert", h.handleInsert)
	mux.HandleFunc("POST /collections/{name}/update", h.handleUpdate)
	mux.HandleFunc("POST /collections/{name}/delete", h.handleDelete)
	mux.HandleFunc("POST /collections/{name}/indexes/array", h.handleEnsureArrayIndex)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

func (h *DocumentsHandler) resolve(ctx context.Context, w http.ResponseWriter, r *http.Request) (*collection.Collection, bool) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "collection name is required", GetRequestID(ctx))
		return nil, false
	}
	col, err := h.collections.Collection(ctx, name)
	if err != nil {
		writeDocError(w, r, err)
		return nil, false
	}
	return col, true
}

// FindRequest is the body of POST /collections/{name}/find. Query accepts
// the full {$query, $order} envelope as well as a plain filter document;
// Sort, Limit, and Skip are HTTP-layer pagination controls layered on top
// since Collection.Find takes its ordering and row-count hints out of
// band from the query document itself.
type FindRequest struct {
	Query map[string]any `json:"query"`
	Sort  map[string]any `json:"sort,omitempty"`
	Limit *int           `json:"limit,omitempty"`
	Skip  *int           `json:"skip,omitempty"`
}

// FindResponse is the body of a successful find response.
type FindResponse struct {
	Documents []map[string]any `json:"documents"`
	RequestID string           `json:"requestId,omitempty"`
}

func (h *DocumentsHandler) handleFind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	col, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}

	var req FindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(ctx))
		return
	}

	orderBy, err := orderTermsFromSort(req.Sort)
	if err != nil {
		writeDocError(w, r, err)
		return
	}

	docs, err := col.Find(ctx, req.Query, collection.FindOptions{OrderBy: orderBy, Limit: req.Limit, Skip: req.Skip})
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, FindResponse{Documents: docs, RequestID: GetRequestID(ctx)})
}

// InsertRequest is the body of POST /collections/{name}/insert. A single
// Document inserts one, Documents inserts many inside one transaction;
// exactly one of the two must be set, and a request with both or neither
// is rejected with 400.
type InsertRequest struct {
	Document  map[string]any   `json:"document,omitempty"`
	Documents []map[string]any `json:"documents,omitempty"`
}

// InsertResponse is the body of a successful insert response, echoing
// back whichever of Document/Documents the request populated.
type InsertResponse struct {
	Document  map[string]any   `json:"document,omitempty"`
	Documents []map[string]any `json:"documents,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
}

func (h *DocumentsHandler) handleInsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	col, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}

	var req InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(ctx))
		return
	}

	switch {
	case len(req.Documents) > 0 && req.Document != nil:
		writeError(w, http.StatusBadRequest, "only one of document or documents may be set", GetRequestID(ctx))
	case len(req.Documents) > 0:
		inserted, err := col.InsertMany(ctx, req.Documents)
		if err != nil {
			writeDocError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, InsertResponse{Documents: inserted, RequestID: GetRequestID(ctx)})
	case req.Document != nil:
		inserted, err := col.Insert(ctx, req.Document)
		if err != nil {
			writeDocError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, InsertResponse{Document: inserted, RequestID: GetRequestID(ctx)})
	default:
		writeError(w, http.StatusBadRequest, "one of document or documents is required", GetRequestID(ctx))
	}
}

// UpdateRequest is the body of POST /collections/{name}/update.
type UpdateRequest struct {
	Query  map[string]any `json:"query"`
	Update map[string]any `json:"update"`
	Multi  bool           `json:"multi,omitempty"`
	Upsert bool           `json:"upsert,omitempty"`
}

// UpdateResponse is the body of a successful update response.
type UpdateResponse struct {
	RequestID string `json:"requestId,omitempty"`
}

func (h *DocumentsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	col, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(ctx))
		return
	}
	if req.Update == nil {
		writeError(w, http.StatusBadRequest, "update is required", GetRequestID(ctx))
		return
	}

	opts := collection.UpdateOptions{Multi: req.Multi, Upsert: req.Upsert}
	if err := col.Update(ctx, req.Query, req.Update, opts); err != nil {
		writeDocError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateResponse{RequestID: GetRequestID(ctx)})
}

// DeleteRequest is the body of POST /collections/{name}/delete.
type DeleteRequest struct {
	Query   map[string]any `json:"query"`
	JustOne bool           `json:"justOne,omitempty"`
}

// DeleteResponse is the body of a successful delete response.
type DeleteResponse struct {
	DeletedCount int64  `json:"deletedCount"`
	RequestID    string `json:"requestId,omitempty"`
}

func (h *DocumentsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	col, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}

	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(ctx))
		return
	}

	deleted, err := col.Delete(ctx, req.Query, collection.DeleteOptions{JustOne: req.JustOne})
	if err != nil {
		writeDocError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{DeletedCount: deleted, RequestID: GetRequestID(ctx)})
}

// ArrayIndexRequest is the body of POST /collections/{name}/indexes/array.
type ArrayIndexRequest struct {
	Path  string `json:"path"`
	Order string `json:"order,omitempty"`
}

// ArrayIndexResponse is the body of a successful array-index response.
type ArrayIndexResponse struct {
	RequestID string `json:"requestId,omitempty"`
}

func (h *DocumentsHandler) handleEnsureArrayIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	col, ok := h.resolve(ctx, w, r)
	if !ok {
		return
	}

	var req ArrayIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), GetRequestID(ctx))
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required", GetRequestID(ctx))
		return
	}

	order := index.Ascending
	switch req.Order {
	case "", string(index.Ascending):
		order = index.Ascending
	case string(index.Descending):
		order = index.Descending
	default:
		writeError(w, http.StatusBadRequest, "order must be ASC or DESC", GetRequestID(ctx))
		return
	}

	if err := col.EnsureArrayIndex(ctx, req.Path, order); err != nil {
		writeDocError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ArrayIndexResponse{RequestID: GetRequestID(ctx)})
}

func (h *DocumentsHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// orderTermsFromSort turns an HTTP sort document ({field: ±1, ...}) into
// the []ast.OrderTerm Collection.Find expects, mirroring the direction
// parsing the $order envelope itself uses.
func orderTermsFromSort(sort map[string]any) ([]ast.OrderTerm, error) {
	if len(sort) == 0 {
		return nil, nil
	}
	terms := make([]ast.OrderTerm, 0, len(sort))
	for field, dir := range sort {
		desc, err := sortDirection(field, dir)
		if err != nil {
			return nil, err
		}
		terms = append(terms, ast.OrderTerm{Field: field, Descending: desc})
	}
	return terms, nil
}

func sortDirection(field string, dir any) (bool, error) {
	switch v := dir.(type) {
	case float64:
		return v < 0, nil
	case int:
		return v < 0, nil
	case int64:
		return v < 0, nil
	default:
		return false, docerrors.Configuration(docerrors.CodeMalformedNode,
			"sort direction must be ±1").WithDetails(field)
	}
}
