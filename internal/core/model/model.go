// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

// BBox is a WGS84 bounding box in [minx, miny, maxx, maxy] order.
type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Valid reports whether the box is ordered min<=max on both axes.
func (b BBox) Valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Slice returns the box in STAC wire order.
func (b BBox) Slice() []float64 {
	return []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// SortField is one sort directive for catalogs supporting the sort extension.
type SortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// SearchRequest describes one catalog search. Constructed per call, never
// mutated after construction.
type SearchRequest struct {
	Collections []string
	BBox        *BBox
	// Datetime is a STAC datetime: a single instant, "start/end", or an
	// open-ended "start/.." form. The literal "latest" resolves to today.
	Datetime string
	// Query maps property name to a predicate object, e.g.
	// {"eo:cloud_cover": {"lt": 10}}. Requires the query extension.
	Query map[string]any
	// SortBy requires the sort extension.
	SortBy []SortField
	// Limit caps the number of returned items. Clamped to [1, MaxLimit]
	// by the catalog client.
	Limit int
}

// AggregationRequest describes one aggregation query against a catalog
// supporting the aggregation extension. Operations without a field, such as
// "count", apply globally; field operations expand per named field.
type AggregationRequest struct {
	Search     SearchRequest
	Fields     []string
	Operations []string
}

// AggregationResult reports what the catalog returned for an aggregation
// query. Supported is false when the catalog answered without aggregations
// or rejected the request as a client error.
type AggregationResult struct {
	Supported    bool           `json:"supported"`
	Aggregations map[string]any `json:"aggregations"`
	Message      string         `json:"message,omitempty"`
}

// Asset is a named data file attached to an item. Declared fields come from
// item metadata and may be absent.
type Asset struct {
	Name      string
	Href      string
	MediaType string
	// DeclaredBytes is the size advertised in metadata (file:size and
	// friends), nil when absent.
	DeclaredBytes *int64
	// NoData is the declared sentinel value, nil when absent.
	NoData *float64
	// Shape and DType describe the array layout for gridded assets.
	Shape []int
	DType string
}

// ElementCount returns the product of the declared shape dimensions, or 0
// when no shape is declared.
func (a Asset) ElementCount() int64 {
	if len(a.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range a.Shape {
		if d <= 0 {
			return 0
		}
		n *= int64(d)
	}
	return n
}

// Item is one dataset descriptor returned by a search. Assets preserve a
// stable name order.
type Item struct {
	ID         string
	Collection string
	BBox       *BBox
	Datetime   time.Time
	Properties map[string]any
	Assets     []Asset
}

// Collection is the subset of a catalog collection document this service
// reads.
type Collection struct {
	ID          string
	Title       string
	Description string
	License     string
	Extent      map[string]any
	Summaries   map[string]any
}

// ProbeOutcome tags a ProbeResult.
type ProbeOutcome int

const (
	ProbeOK ProbeOutcome = iota
	ProbeFailed
	ProbeTimedOut
	// ProbeSkipped marks probes never started because the caller deadline
	// passed first.
	ProbeSkipped
)

func (o ProbeOutcome) String() string {
	switch o {
	case ProbeOK:
		return "ok"
	case ProbeFailed:
		return "failed"
	case ProbeTimedOut:
		return "timeout"
	case ProbeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ProbeResult records the outcome of one asset size probe.
type ProbeResult struct {
	// Key identifies the probed asset as "itemID/assetName".
	Key     string
	Href    string
	Outcome ProbeOutcome
	Bytes   int64
	Err     error
	Elapsed time.Duration
}

// EstimateMethod tags how a SizeEstimate total was produced.
type EstimateMethod string

const (
	MethodLazyMetadata EstimateMethod = "lazy-metadata"
	MethodProbed       EstimateMethod = "probed"
	MethodHeuristic    EstimateMethod = "heuristic"
)

// AssetEstimate is the per-asset line of a SizeEstimate breakdown.
type AssetEstimate struct {
	Item      string `json:"item"`
	Asset     string `json:"asset"`
	MediaType string `json:"mediaType,omitempty"`
	Bytes     int64  `json:"bytes"`
	// Source records where this asset's bytes came from: "metadata",
	// "shape-dtype", "probe", or "heuristic".
	Source string `json:"source"`
	// Ratio is the applied no-data scaling for this asset, when enabled.
	Ratio *float64 `json:"effectiveRatio,omitempty"`
}

// SizeEstimate is the stable output shape of the estimation engine. Fields
// may be added but never repurposed.
type SizeEstimate struct {
	RawBytes       int64    `json:"rawBytes"`
	AdjustedBytes  *int64   `json:"adjustedBytes,omitempty"`
	EffectiveRatio *float64 `json:"effectiveRatio,omitempty"`
	// SensorNativeBytes is the total recomputed with instrument-native
	// dtypes where the collection is known, reported alongside RawBytes.
	SensorNativeBytes *int64          `json:"sensorNativeBytes,omitempty"`
	Method            EstimateMethod  `json:"method"`
	ItemCount         int             `json:"itemCount"`
	Assets            []AssetEstimate `json:"assets,omitempty"`
	Warnings          []string        `json:"warnings,omitempty"`
}
