// Package keys derives stable cache keys for search requests.
package keys

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	h3 "github.com/uber/h3-go/v4"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

// spatialRes is the H3 resolution used to bucket bounding boxes. Coarse on
// purpose: res 2 cells span hundreds of kilometers, so near-identical AOIs
// normalize to the same token while the request hash still separates exact
// extents.
const spatialRes = 2

// maxSpatialCells caps the token length; larger coverings collapse to a
// hash of the cell set.
const maxSpatialCells = 6

// Search builds the cache key for one search request.
func Search(req model.SearchRequest) string {
	colPart := "all"
	if len(req.Collections) > 0 {
		cols := append([]string(nil), req.Collections...)
		sort.Strings(cols)
		colPart = sanitize(strings.Join(cols, ","))
	}
	spatial := SpatialToken(req.BBox)
	sum := xxhash.Sum64String(canonical(req))
	return fmt.Sprintf("search:%s:%s:q=%016x", colPart, spatial, sum)
}

// CollectionIndex names the Redis set tracking cached search keys that
// touch a collection, for invalidation.
func CollectionIndex(collection string) string {
	return "idx:" + sanitize(collection)
}

// SpatialToken maps a bounding box to a short H3 covering token. A nil box
// maps to "global".
func SpatialToken(bb *model.BBox) string {
	if bb == nil || !bb.Valid() {
		return "global"
	}
	loop := h3.GeoLoop{
		{Lat: bb.MinY, Lng: bb.MinX},
		{Lat: bb.MinY, Lng: bb.MaxX},
		{Lat: bb.MaxY, Lng: bb.MaxX},
		{Lat: bb.MaxY, Lng: bb.MinX},
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, spatialRes)
	if err != nil || len(cells) == 0 {
		// Degenerate boxes still get a cell via their center point.
		center, cerr := h3.LatLngToCell(h3.LatLng{
			Lat: (bb.MinY + bb.MaxY) / 2,
			Lng: (bb.MinX + bb.MaxX) / 2,
		}, spatialRes)
		if cerr != nil {
			return "global"
		}
		cells = []h3.Cell{center}
	}

	toks := make([]string, len(cells))
	for i, c := range cells {
		toks[i] = c.String()
	}
	sort.Strings(toks)
	if len(toks) > maxSpatialCells {
		return fmt.Sprintf("h3x%016x", xxhash.Sum64String(strings.Join(toks, ",")))
	}
	return strings.Join(toks, "-")
}

// canonical renders the request as a stable string: collections sorted,
// query keys sorted by the JSON encoder, field order fixed.
func canonical(req model.SearchRequest) string {
	cols := append([]string(nil), req.Collections...)
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString("collections=")
	b.WriteString(strings.Join(cols, ","))
	b.WriteString(";bbox=")
	if req.BBox != nil {
		b.WriteString(req.BBox.String())
	}
	b.WriteString(";datetime=")
	b.WriteString(req.Datetime)
	b.WriteString(";query=")
	if len(req.Query) > 0 {
		if raw, err := json.Marshal(req.Query); err == nil {
			b.Write(raw)
		}
	}
	b.WriteString(";sortby=")
	for _, s := range req.SortBy {
		b.WriteString(s.Field)
		b.WriteByte(':')
		b.WriteString(s.Direction)
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, ";limit=%d", req.Limit)
	return b.String()
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == ',':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
