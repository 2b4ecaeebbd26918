// Package api exposes the catalog client and size estimator over HTTP. It
// is a thin shell: all behavior lives in the catalog and estimate packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/catalog"
	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
	"github.com/wayfinder-foundry/stac-scope/internal/estimate"
)

// Searcher lets the handlers run through the cache layer when enabled.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest) ([]model.Item, []string, error)
}

type Handlers struct {
	logger *zerolog.Logger
	client *catalog.Client
	search Searcher
	engine *estimate.Engine
}

func NewHandlers(logger *zerolog.Logger, client *catalog.Client, search Searcher, engine *estimate.Engine) *Handlers {
	if search == nil {
		search = client
	}
	return &Handlers{logger: logger, client: client, search: search, engine: engine}
}

type searchBody struct {
	Collections []string          `json:"collections"`
	BBox        []float64         `json:"bbox"`
	Datetime    string            `json:"datetime"`
	Query       map[string]any    `json:"query"`
	SortBy      []model.SortField `json:"sortby"`
	Limit       int               `json:"limit"`
}

type estimateBody struct {
	searchBody
	AdjustForNoData bool `json:"adjustForNoData"`
	MetadataOnly    bool `json:"metadataOnly"`
}

type aggregateBody struct {
	searchBody
	Fields     []string `json:"fields"`
	Operations []string `json:"operations"`
}

func (b searchBody) toRequest() (model.SearchRequest, error) {
	req := model.SearchRequest{
		Collections: b.Collections,
		Datetime:    b.Datetime,
		Query:       b.Query,
		SortBy:      b.SortBy,
		Limit:       b.Limit,
	}
	if len(b.BBox) > 0 {
		if len(b.BBox) != 4 {
			return req, errors.New("bbox must be [minx, miny, maxx, maxy]")
		}
		req.BBox = &model.BBox{MinX: b.BBox[0], MinY: b.BBox[1], MaxX: b.BBox[2], MaxY: b.BBox[3]}
	}
	return req, nil
}

func (h *Handlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed search body: "+err.Error(), "")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	items, warnings, err := h.search.Search(r.Context(), req)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	out := make([]itemDTO, len(items))
	for i := range items {
		out[i] = toItemDTO(items[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    out,
		"count":    len(out),
		"warnings": warnings,
	})
}

func (h *Handlers) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var body estimateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed estimate body: "+err.Error(), "")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	est, err := h.engine.EstimateSize(r.Context(), req, estimate.Options{
		AdjustForNoData: body.AdjustForNoData,
		MetadataOnly:    body.MetadataOnly,
	})
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handlers) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var body aggregateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed aggregate body: "+err.Error(), "")
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.client.GetAggregations(r.Context(), model.AggregationRequest{
		Search:     req,
		Fields:     body.Fields,
		Operations: body.Operations,
	})
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleQueryables serves both the catalog-wide and per-collection routes;
// the collection scope comes from the optional path parameter.
func (h *Handlers) handleQueryables(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "collectionID")
	q, err := h.client.GetQueryables(r.Context(), id)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	out := map[string]any{"queryables": q}
	if id != "" {
		out["collection"] = id
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleCollections(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if _, err := parsePositive(v, &limit); err != nil {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer", "")
			return
		}
	}
	cols, err := h.client.SearchCollections(r.Context(), limit)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	out := make([]collectionDTO, len(cols))
	for i := range cols {
		out[i] = toCollectionDTO(cols[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": out, "count": len(out)})
}

func (h *Handlers) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "collectionID")
	col, err := h.client.GetCollection(r.Context(), id)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	if col == nil {
		writeErr(w, http.StatusNotFound, "collection not found: "+id, "")
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(*col))
}

func (h *Handlers) handleGetItem(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collectionID")
	itemID := chi.URLParam(r, "itemID")
	item, err := h.client.GetItem(r.Context(), collectionID, itemID)
	if err != nil {
		writeCatalogErr(w, err)
		return
	}
	if item == nil {
		writeErr(w, http.StatusNotFound, "item not found: "+collectionID+"/"+itemID, "")
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg, hint string) {
	body := map[string]any{"error": msg}
	if hint != "" {
		body["hint"] = hint
	}
	writeJSON(w, status, body)
}

// writeCatalogErr maps classified catalog errors onto HTTP statuses without
// leaking internals beyond the kind and remediation hint.
func writeCatalogErr(w http.ResponseWriter, err error) {
	var ce *catalog.Error
	if !errors.As(err, &ce) {
		writeErr(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	status := http.StatusBadGateway
	switch ce.Kind {
	case catalog.KindValidationError:
		status = http.StatusBadRequest
	case catalog.KindTimeout:
		status = http.StatusGatewayTimeout
	case catalog.KindThrottled:
		status = http.StatusTooManyRequests
	case catalog.KindClientError:
		status = http.StatusBadGateway
	case catalog.KindUnknown:
		status = http.StatusInternalServerError
	}
	body := map[string]any{
		"error": ce.Error(),
		"kind":  ce.Kind.String(),
	}
	if ce.Hint != "" {
		body["hint"] = ce.Hint
	}
	writeJSON(w, status, body)
}

func parsePositive(s string, out *int) (int, error) {
	var n int
	if err := json.Unmarshal([]byte(s), &n); err != nil || n <= 0 {
		if err == nil {
			err = errors.New("not positive")
		}
		return 0, err
	}
	*out = n
	return n, nil
}

// healthz reports liveness plus the configured catalog URL.
func (h *Handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"catalog": h.client.URL(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// readyz reports whether the upstream catalog answers. The conformance
// document is cached after the first success, so readiness stays cheap once
// the catalog has been reached.
func (h *Handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	conforms, err := h.client.Conformance(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ready",
		"conformance_classes": len(conforms),
	})
}
