package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wayfinder-foundry/stac-scope/internal/catalog"
	"github.com/wayfinder-foundry/stac-scope/internal/estimate"
	"github.com/wayfinder-foundry/stac-scope/internal/probe"
)

// stubCatalog is a minimal upstream STAC endpoint.
func stubCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), `"aggregations"`) {
			_, _ = w.Write([]byte(`{"aggregations":{"count":{"value":3}}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"features": [
				{"id": "it1", "collection": "c1",
				 "properties": {"datetime": "2024-03-01T00:00:00Z"},
				 "assets": {"data": {"href": "https://x/1.tif", "type": "image/tiff", "file:size": 1048576}}}
			],
			"links": []
		}`))
	})
	mux.HandleFunc("/collections", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"collections":[{"id":"c1","title":"One"},{"id":"c2","title":"Two"}]}`))
	})
	mux.HandleFunc("/collections/c1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c1","title":"One","license":"CC-BY-4.0"}`))
	})
	mux.HandleFunc("/collections/c1/items/it1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"it1","collection":"c1","properties":{},"assets":{}}`))
	})
	mux.HandleFunc("/collections/c1/queryables", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"properties":{"eo:cloud_cover":{"type":"number"}}}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"id":"stub","conformsTo":[
				"https://api.stacspec.org/v1.0.0/item-search#queryables",
				"https://api.stacspec.org/v1.0.0/ogc-api-features-p3/conf/aggregation"
			]}`))
			return
		}
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, upstream *httptest.Server) http.Handler {
	t.Helper()
	policy := catalog.DefaultRetryPolicy()
	policy.MaxAttempts = 1
	exec := catalog.NewExecutor(nil, upstream.Client(), policy, nil)
	client, err := catalog.NewClient(nil, exec, upstream.URL, catalog.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	pool, err := probe.New(nil, upstream.Client(), nil, time.Second, 2)
	if err != nil {
		t.Fatalf("probe.New: %v", err)
	}
	engine := estimate.NewEngine(nil, client, pool, nil)
	return NewRouter(nil, NewHandlers(nil, client, nil, engine))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHandleSearch(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodPost, "/v1/search", `{"collections":["c1"],"limit":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
	items := body["items"].([]any)
	item := items[0].(map[string]any)
	if item["id"] != "it1" {
		t.Errorf("item = %v", item)
	}
}

func TestHandleSearchBadBBox(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodPost, "/v1/search", `{"bbox":[1,2,3]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bbox") {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestHandleSearchMalformedJSON(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodPost, "/v1/search", `{nope`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleSearchUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(upstream.Close)

	h := newTestRouter(t, upstream)
	rec := do(t, h, http.MethodPost, "/v1/search", `{"limit":5}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 for an upstream failure", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["kind"] != "remote_server_error" {
		t.Errorf("kind = %v", body["kind"])
	}
	if body["hint"] == nil {
		t.Error("error payload should carry a remediation hint")
	}
}

func TestHandleEstimate(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodPost, "/v1/estimate", `{"collections":["c1"],"limit":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["rawBytes"] != float64(1048576) {
		t.Errorf("rawBytes = %v", body["rawBytes"])
	}
	if body["method"] != "lazy-metadata" {
		t.Errorf("method = %v", body["method"])
	}
	if body["adjustedBytes"] != nil {
		t.Errorf("adjustedBytes = %v without opt-in", body["adjustedBytes"])
	}
}

func TestHandleCollections(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/v1/collections", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["count"] != float64(2) {
		t.Errorf("count = %v", body["count"])
	}

	rec = do(t, h, http.MethodGet, "/v1/collections?limit=1", "")
	if body := decodeBody(t, rec); body["count"] != float64(1) {
		t.Errorf("limited count = %v", body["count"])
	}

	rec = do(t, h, http.MethodGet, "/v1/collections?limit=forty", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestHandleGetCollection(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/v1/collections/c1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["id"] != "c1" {
		t.Errorf("body = %v", body)
	}

	rec = do(t, h, http.MethodGet, "/v1/collections/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing collection status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] == nil {
		t.Error("404 should carry a JSON error body")
	}
}

func TestHandleGetItem(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/v1/collections/c1/items/it1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["id"] != "it1" {
		t.Errorf("body = %v", body)
	}

	rec = do(t, h, http.MethodGet, "/v1/collections/c1/items/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing item status = %d", rec.Code)
	}
}

func TestHandleReadyz(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if body := decodeBody(t, rec); body["status"] != "ready" {
		t.Errorf("body = %v", body)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	rec = do(t, newTestRouter(t, down), http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unreachable catalog: status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "not_ready" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleHealthz(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleQueryables(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/v1/collections/c1/queryables", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["collection"] != "c1" {
		t.Errorf("collection = %v", body["collection"])
	}
	q, ok := body["queryables"].(map[string]any)
	if !ok {
		t.Fatalf("queryables missing: %v", body)
	}
	if _, ok := q["eo:cloud_cover"]; !ok {
		t.Errorf("queryables = %v", q)
	}
}

func TestHandleQueryablesCatalogWide(t *testing.T) {
	// No /queryables route on the stub: the document is absent, not the
	// capability, so the handler answers with an empty object.
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodGet, "/v1/queryables", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if _, ok := body["collection"]; ok {
		t.Errorf("collection should be absent: %v", body)
	}
	if q, ok := body["queryables"].(map[string]any); !ok || len(q) != 0 {
		t.Errorf("queryables = %v, want empty object", body["queryables"])
	}
}

func TestHandleAggregate(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodPost, "/v1/aggregate", `{"collections":["c1"],"operations":["count"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decodeBody(t, rec)
	if body["supported"] != true {
		t.Errorf("supported = %v", body["supported"])
	}
	aggs, ok := body["aggregations"].(map[string]any)
	if !ok {
		t.Fatalf("aggregations missing: %v", body)
	}
	if _, ok := aggs["count"]; !ok {
		t.Errorf("aggregations = %v", aggs)
	}
}

func TestHandleAggregateMalformedJSON(t *testing.T) {
	h := newTestRouter(t, stubCatalog(t))
	rec := do(t, h, http.MethodPost, "/v1/aggregate", `{nope`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
