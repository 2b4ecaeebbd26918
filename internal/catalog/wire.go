package catalog

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

// declaredSizeKeys are the metadata fields consulted, in order, for an
// asset's declared byte size.
var declaredSizeKeys = []string{
	"file:size",
	"file:bytes",
	"bytes",
	"size",
	"byte_size",
	"content_length",
}

type wireLink struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type wireFeatureCollection struct {
	Features []wireFeature `json:"features"`
	Links    []wireLink    `json:"links"`
}

type wireFeature struct {
	ID         string                     `json:"id"`
	Collection string                     `json:"collection"`
	BBox       []float64                  `json:"bbox"`
	Properties map[string]any             `json:"properties"`
	Assets     map[string]json.RawMessage `json:"assets"`
}

type wireAsset struct {
	Href   string           `json:"href"`
	Type   string           `json:"type"`
	NoData *float64         `json:"nodata"`
	Shape  []int            `json:"proj:shape"`
	Bands  []wireRasterBand `json:"raster:bands"`
	DType  string           `json:"dtype"`
}

type wireRasterBand struct {
	DataType string   `json:"data_type"`
	NoData   *float64 `json:"nodata"`
}

type wireCollection struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	License     string         `json:"license"`
	Extent      map[string]any `json:"extent"`
	Summaries   map[string]any `json:"summaries"`
}

type wireCollectionList struct {
	Collections []wireCollection `json:"collections"`
	Links       []wireLink       `json:"links"`
}

type wireQueryables struct {
	Properties map[string]any `json:"properties"`
	Queryables map[string]any `json:"queryables"`
}

type wireAggregationResponse struct {
	Aggregations map[string]any `json:"aggregations"`
}

type wireRoot struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ConformsTo  []string   `json:"conformsTo"`
	Links       []wireLink `json:"links"`
}

func decodeBBox(raw []float64) *model.BBox {
	if len(raw) != 4 {
		return nil
	}
	return &model.BBox{MinX: raw[0], MinY: raw[1], MaxX: raw[2], MaxY: raw[3]}
}

func decodeItem(f wireFeature) model.Item {
	it := model.Item{
		ID:         f.ID,
		Collection: f.Collection,
		BBox:       decodeBBox(f.BBox),
		Properties: f.Properties,
	}
	if f.Properties != nil {
		if s, ok := f.Properties["datetime"].(string); ok && s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				it.Datetime = t
			}
		}
	}

	// Asset map order is not stable on the wire; sort by name so downstream
	// breakdowns are deterministic.
	names := make([]string, 0, len(f.Assets))
	for name := range f.Assets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		it.Assets = append(it.Assets, decodeAsset(name, f.Assets[name]))
	}
	return it
}

func decodeAsset(name string, raw json.RawMessage) model.Asset {
	var wa wireAsset
	_ = json.Unmarshal(raw, &wa)

	a := model.Asset{
		Name:      name,
		Href:      wa.Href,
		MediaType: wa.Type,
		NoData:    wa.NoData,
		Shape:     wa.Shape,
		DType:     wa.DType,
	}
	if len(wa.Bands) > 0 {
		if a.DType == "" {
			a.DType = wa.Bands[0].DataType
		}
		if a.NoData == nil {
			a.NoData = wa.Bands[0].NoData
		}
	}

	// Declared sizes live in extension fields at the asset's top level.
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err == nil {
		for _, k := range declaredSizeKeys {
			if v, ok := extra[k]; ok {
				if n, ok := asInt64(v); ok && n >= 0 {
					a.DeclaredBytes = &n
					break
				}
			}
		}
	}
	return a
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		var f float64
		if err := json.Unmarshal([]byte(n), &f); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func decodeCollection(w wireCollection) *model.Collection {
	return &model.Collection{
		ID:          w.ID,
		Title:       w.Title,
		Description: w.Description,
		License:     w.License,
		Extent:      w.Extent,
		Summaries:   w.Summaries,
	}
}

func nextLink(links []wireLink) *wireLink {
	for i := range links {
		if links[i].Rel == "next" {
			return &links[i]
		}
	}
	return nil
}
