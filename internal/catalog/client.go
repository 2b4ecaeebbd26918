package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

// Conformance URIs from the STAC API specifications. Lists include multiple
// versions to support older catalogs.
var (
	conformanceQuery = []string{
		"https://api.stacspec.org/v1.0.0/item-search#query",
		"https://api.stacspec.org/v1.0.0-beta.2/item-search#query",
	}
	conformanceSort = []string{
		"https://api.stacspec.org/v1.0.0/item-search#sort",
	}
	conformanceQueryables = []string{
		"https://api.stacspec.org/v1.0.0/item-search#queryables",
		"https://api.stacspec.org/v1.0.0-rc.1/item-search#queryables",
	}
	conformanceAggregation = []string{
		"https://api.stacspec.org/v1.0.0/ogc-api-features-p3/conf/aggregation",
	}
)

// defaultSearchLimit applies when a request leaves Limit unset.
const defaultSearchLimit = 10

// Options configures a Client.
type Options struct {
	// MaxLimit is the hard ceiling on a search's result cap.
	MaxLimit int
	// Timeout is the effective per-call timeout passed to the executor.
	Timeout time.Duration
	// CollectionCacheSize bounds the in-process collection LRU.
	CollectionCacheSize int
}

// Client issues search, collection, and item operations against one remote
// catalog. All traffic routes through the retrying executor. Safe for
// concurrent use.
type Client struct {
	logger   *zerolog.Logger
	exec     *Executor
	baseURL  string
	maxLimit int
	timeout  time.Duration

	collections *lru.Cache[string, *model.Collection]

	confMu      sync.Mutex
	conformance []string

	// now is a test seam for "latest" datetime resolution.
	now func() time.Time
}

func NewClient(logger *zerolog.Logger, exec *Executor, catalogURL string, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(catalogURL), "/")
	if base == "" {
		return nil, NewValidationError("new_client", "catalog URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, NewValidationError("new_client", fmt.Sprintf("invalid catalog URL: %v", err))
	}
	if opts.MaxLimit < 1 {
		opts.MaxLimit = 500
	}
	size := opts.CollectionCacheSize
	if size < 1 {
		size = 256
	}
	cc, err := lru.New[string, *model.Collection](size)
	if err != nil {
		return nil, fmt.Errorf("collection cache: %w", err)
	}
	return &Client{
		logger:      logger,
		exec:        exec,
		baseURL:     base,
		maxLimit:    opts.MaxLimit,
		timeout:     opts.Timeout,
		collections: cc,
		now:         time.Now,
	}, nil
}

// MaxLimit returns the configured result-cap ceiling.
func (c *Client) MaxLimit() int { return c.maxLimit }

// URL returns the catalog base URL.
func (c *Client) URL() string { return c.baseURL }

// Search runs a paginated item search. The returned warnings flag truncation
// and partial pagination; items gathered before a mid-pagination failure are
// returned alongside the warning rather than discarded.
func (c *Client) Search(ctx context.Context, req model.SearchRequest) ([]model.Item, []string, error) {
	var warnings []string

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > c.maxLimit {
		warnings = append(warnings, fmt.Sprintf("requested limit %d truncated to configured maximum %d", req.Limit, c.maxLimit))
		limit = c.maxLimit
	}
	if req.BBox != nil && !req.BBox.Valid() {
		return nil, nil, NewValidationError("search", "bbox must be [minx, miny, maxx, maxy] with min <= max")
	}
	if len(req.Query) > 0 {
		if err := c.requireConformance(ctx, "search", conformanceQuery, "query extension"); err != nil {
			return nil, nil, err
		}
	}
	if len(req.SortBy) > 0 {
		if err := c.requireConformance(ctx, "search", conformanceSort, "sort extension"); err != nil {
			return nil, nil, err
		}
	}

	body, err := json.Marshal(c.searchBody(req, limit))
	if err != nil {
		return nil, nil, NewValidationError("search", fmt.Sprintf("encode search body: %v", err))
	}

	items := make([]model.Item, 0, limit)
	nextURL := c.baseURL + "/search"
	nextMethod := http.MethodPost
	nextBody := body

	for len(items) < limit {
		resp, err := c.exec.Do(ctx, "search", Request{
			Method:  nextMethod,
			URL:     nextURL,
			Body:    nextBody,
			Timeout: c.timeout,
		})
		if err != nil {
			if len(items) > 0 {
				// Later page failed; the partial result is still useful.
				warnings = append(warnings, fmt.Sprintf("pagination stopped after %d items: %v", len(items), err))
				return items, warnings, nil
			}
			return nil, warnings, err
		}

		var page wireFeatureCollection
		if err := json.Unmarshal(resp.Body, &page); err != nil {
			if len(items) > 0 {
				warnings = append(warnings, fmt.Sprintf("pagination stopped after %d items: malformed page", len(items)))
				return items, warnings, nil
			}
			return nil, warnings, &Error{Op: "search", Kind: KindUnknown, Err: fmt.Errorf("decode search page: %w", err)}
		}
		if len(page.Features) == 0 {
			break
		}
		for _, f := range page.Features {
			items = append(items, decodeItem(f))
			if len(items) >= limit {
				break
			}
		}

		next := nextLink(page.Links)
		if next == nil || next.Href == "" {
			break
		}
		nextURL = next.Href
		nextMethod = strings.ToUpper(next.Method)
		if nextMethod == "" || nextMethod == http.MethodGet {
			nextMethod = http.MethodGet
			nextBody = nil
		} else {
			nextBody = next.Body
			if len(nextBody) == 0 {
				nextBody = body
			}
		}
	}
	return items, warnings, nil
}

func (c *Client) searchBody(req model.SearchRequest, limit int) map[string]any {
	body := map[string]any{}
	if limit > 0 {
		body["limit"] = limit
	}
	if len(req.Collections) > 0 {
		body["collections"] = req.Collections
	}
	if req.BBox != nil {
		body["bbox"] = req.BBox.Slice()
	}
	if dt := c.resolveDatetime(req.Datetime); dt != "" {
		body["datetime"] = dt
	}
	if len(req.Query) > 0 {
		body["query"] = req.Query
	}
	if len(req.SortBy) > 0 {
		body["sortby"] = req.SortBy
	}
	return body
}

// resolveDatetime maps the "latest" shorthand to today's date.
func (c *Client) resolveDatetime(dt string) string {
	if dt == "latest" {
		return c.now().UTC().Format("2006-01-02")
	}
	return dt
}

// GetCollection fetches one collection document. A 404 resolves to
// (nil, nil). Results are cached in-process.
func (c *Client) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("get_collection", "collection id is required")
	}
	if col, ok := c.collections.Get(id); ok {
		return col, nil
	}
	resp, err := c.exec.Do(ctx, "get_collection", Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/collections/" + url.PathEscape(id),
		Timeout: c.timeout,
	})
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var w wireCollection
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return nil, &Error{Op: "get_collection", Kind: KindUnknown, Err: fmt.Errorf("decode collection: %w", err)}
	}
	col := decodeCollection(w)
	c.collections.Add(id, col)
	return col, nil
}

// GetItem fetches one item. A 404 on either path segment resolves to
// (nil, nil).
func (c *Client) GetItem(ctx context.Context, collectionID, itemID string) (*model.Item, error) {
	if strings.TrimSpace(collectionID) == "" || strings.TrimSpace(itemID) == "" {
		return nil, NewValidationError("get_item", "collection id and item id are required")
	}
	resp, err := c.exec.Do(ctx, "get_item", Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/collections/" + url.PathEscape(collectionID) + "/items/" + url.PathEscape(itemID),
		Timeout: c.timeout,
	})
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var f wireFeature
	if err := json.Unmarshal(resp.Body, &f); err != nil {
		return nil, &Error{Op: "get_item", Kind: KindUnknown, Err: fmt.Errorf("decode item: %w", err)}
	}
	item := decodeItem(f)
	if item.Collection == "" {
		item.Collection = collectionID
	}
	return &item, nil
}

// SearchCollections lists collections, up to limit when limit > 0.
func (c *Client) SearchCollections(ctx context.Context, limit int) ([]model.Collection, error) {
	resp, err := c.exec.Do(ctx, "search_collections", Request{
		Method:  http.MethodGet,
		URL:     c.baseURL + "/collections",
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, err
	}
	var list wireCollectionList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, &Error{Op: "search_collections", Kind: KindUnknown, Err: fmt.Errorf("decode collections: %w", err)}
	}
	out := make([]model.Collection, 0, len(list.Collections))
	for _, w := range list.Collections {
		out = append(out, *decodeCollection(w))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetQueryables fetches the queryable properties the catalog advertises for
// filtering, scoped to one collection when collectionID is non-empty.
// Requires the queryables conformance class. A catalog that declares the
// class but serves no document resolves to an empty map.
func (c *Client) GetQueryables(ctx context.Context, collectionID string) (map[string]any, error) {
	if err := c.requireConformance(ctx, "get_queryables", conformanceQueryables, "queryables extension"); err != nil {
		return nil, err
	}
	u := c.baseURL + "/queryables"
	if collectionID != "" {
		u = c.baseURL + "/collections/" + url.PathEscape(collectionID) + "/queryables"
	}
	resp, err := c.exec.Do(ctx, "get_queryables", Request{
		Method:  http.MethodGet,
		URL:     u,
		Timeout: c.timeout,
	})
	if err != nil {
		if notFound(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	var w wireQueryables
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return nil, &Error{Op: "get_queryables", Kind: KindUnknown, Err: fmt.Errorf("decode queryables: %w", err)}
	}
	// Newer catalogs nest the properties under "properties"; older ones use
	// a top-level "queryables" object.
	if len(w.Properties) > 0 {
		return w.Properties, nil
	}
	if w.Queryables == nil {
		return map[string]any{}, nil
	}
	return w.Queryables, nil
}

// GetAggregations runs an aggregation query by posting a search body carrying
// the aggregations extension. Requires the aggregation conformance class.
// Catalogs that reject the body with a 400 or 404 resolve to an unsupported
// result rather than an error.
func (c *Client) GetAggregations(ctx context.Context, req model.AggregationRequest) (*model.AggregationResult, error) {
	if err := c.requireConformance(ctx, "get_aggregations", conformanceAggregation, "aggregation extension"); err != nil {
		return nil, err
	}
	if req.Search.BBox != nil && !req.Search.BBox.Valid() {
		return nil, NewValidationError("get_aggregations", "bbox must be [minx, miny, maxx, maxy] with min <= max")
	}
	body := c.searchBody(req.Search, req.Search.Limit)
	body["aggregations"] = aggregationSpec(req.Fields, req.Operations)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, NewValidationError("get_aggregations", fmt.Sprintf("encode aggregation body: %v", err))
	}
	resp, err := c.exec.Do(ctx, "get_aggregations", Request{
		Method:  http.MethodPost,
		URL:     c.baseURL + "/search",
		Body:    raw,
		Timeout: c.timeout,
	})
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && (ce.Status == http.StatusBadRequest || ce.Status == http.StatusNotFound) {
			return &model.AggregationResult{
				Aggregations: map[string]any{},
				Message:      fmt.Sprintf("aggregations unsupported (%d)", ce.Status),
			}, nil
		}
		return nil, err
	}
	var w wireAggregationResponse
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return nil, &Error{Op: "get_aggregations", Kind: KindUnknown, Err: fmt.Errorf("decode aggregations: %w", err)}
	}
	res := &model.AggregationResult{Supported: len(w.Aggregations) > 0, Aggregations: w.Aggregations}
	if res.Aggregations == nil {
		res.Aggregations = map[string]any{}
	}
	if !res.Supported {
		res.Message = "no aggregations returned"
	}
	return res, nil
}

// aggregationSpec expands requested operations into the aggregations body.
// An empty operation list defaults to a bare item count; field operations
// pair each operation with each named field.
func aggregationSpec(fields, operations []string) map[string]any {
	if len(operations) == 0 {
		operations = []string{"count"}
	}
	aggs := make(map[string]any)
	for _, op := range operations {
		if op == "count" {
			aggs["count"] = map[string]any{"type": "count"}
			continue
		}
		for _, f := range fields {
			aggs[f+"_"+op] = map[string]any{"type": op, "field": f}
		}
	}
	return aggs
}

// Conformance returns the catalog's conformance classes, fetched once and
// cached for the client's lifetime.
func (c *Client) Conformance(ctx context.Context) ([]string, error) {
	c.confMu.Lock()
	defer c.confMu.Unlock()
	if c.conformance != nil {
		return c.conformance, nil
	}
	resp, err := c.exec.Do(ctx, "get_root", Request{
		Method:  http.MethodGet,
		URL:     c.baseURL,
		Timeout: c.timeout,
	})
	if err != nil {
		return nil, err
	}
	var root wireRoot
	if err := json.Unmarshal(resp.Body, &root); err != nil {
		return nil, &Error{Op: "get_root", Kind: KindUnknown, Err: fmt.Errorf("decode root: %w", err)}
	}
	if root.ConformsTo == nil {
		root.ConformsTo = []string{}
	}
	c.conformance = root.ConformsTo
	return c.conformance, nil
}

func (c *Client) requireConformance(ctx context.Context, op string, uris []string, capability string) error {
	conforms, err := c.Conformance(ctx)
	if err != nil {
		return err
	}
	for _, have := range conforms {
		for _, want := range uris {
			if have == want {
				return nil
			}
		}
	}
	return NewValidationError(op, fmt.Sprintf("catalog at %s does not support the %s", c.baseURL, capability))
}

func notFound(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Status == http.StatusNotFound
}
