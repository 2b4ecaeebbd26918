package estimate

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
	"github.com/wayfinder-foundry/stac-scope/internal/core/observability"
	"github.com/wayfinder-foundry/stac-scope/internal/probe"
)

// Searcher is the catalog surface the engine consumes.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest) ([]model.Item, []string, error)
}

// Prober issues bounded-concurrency size probes.
type Prober interface {
	ProbeAll(ctx context.Context, targets []probe.Target) []model.ProbeResult
}

// RatioSampler estimates the non-sentinel fraction of an asset.
type RatioSampler interface {
	EffectiveRatio(ctx context.Context, a model.Asset) float64
	MaxAssets() int
}

// Options select per-call estimation behavior.
type Options struct {
	// AdjustForNoData enables sentinel sampling and the adjusted total.
	AdjustForNoData bool
	// MetadataOnly bypasses probing; metadata gaps are filled by the
	// heuristic instead.
	MetadataOnly bool
}

// Engine orchestrates search, the lazy metadata path, probe fallback, and
// no-data adjustment into one SizeEstimate.
type Engine struct {
	logger  *zerolog.Logger
	search  Searcher
	pool    Prober
	sampler RatioSampler
}

func NewEngine(logger *zerolog.Logger, search Searcher, pool Prober, sampler RatioSampler) *Engine {
	return &Engine{logger: logger, search: search, pool: pool, sampler: sampler}
}

// assetLine ties a breakdown row to the asset it came from.
type assetLine struct {
	est   model.AssetEstimate
	asset model.Asset
	// collection the owning item belongs to, for sensor dtype lookups.
	collection string
	pending    bool
}

// EstimateSize runs the full estimation state machine. It fails only when
// the initial search fails terminally; after that every per-asset problem is
// recovered via fallback and reported as a warning.
func (e *Engine) EstimateSize(ctx context.Context, req model.SearchRequest, opts Options) (*model.SizeEstimate, error) {
	items, warnings, err := e.search.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	est := &model.SizeEstimate{
		ItemCount: len(items),
		Method:    model.MethodLazyMetadata,
		Warnings:  warnings,
	}
	if len(items) == 0 {
		est.Warnings = append(est.Warnings, "no items matched the query")
		observability.ObserveEstimate(string(est.Method))
		return est, nil
	}

	lines := e.collectLines(items)

	pendingIdx := make([]int, 0)
	for i := range lines {
		if lines[i].pending {
			pendingIdx = append(pendingIdx, i)
		}
	}

	switch {
	case len(pendingIdx) == 0:
		est.Method = model.MethodLazyMetadata
	case opts.MetadataOnly:
		est.Method = model.MethodHeuristic
		for _, i := range pendingIdx {
			lines[i].est.Bytes = HeuristicBytes(lines[i].asset)
			lines[i].est.Source = "heuristic"
		}
		est.Warnings = append(est.Warnings,
			fmt.Sprintf("%d assets lacked declared sizes; heuristic estimates applied (probing disabled)", len(pendingIdx)))
	default:
		est.Method = model.MethodProbed
		e.probePending(ctx, lines, pendingIdx, est)
	}

	if opts.AdjustForNoData && e.sampler != nil {
		e.adjust(ctx, lines, est)
	}

	var raw int64
	for i := range lines {
		raw += lines[i].est.Bytes
		est.Assets = append(est.Assets, lines[i].est)
	}
	est.RawBytes = raw

	if native, ok := sensorNativeTotal(lines); ok {
		est.SensorNativeBytes = &native
	}

	observability.ObserveEstimate(string(est.Method))
	if e.logger != nil {
		e.logger.Info().
			Int("items", est.ItemCount).
			Int64("raw_bytes", est.RawBytes).
			Str("method", string(est.Method)).
			Int("warnings", len(est.Warnings)).
			Msg("size estimate complete")
	}
	return est, nil
}

// collectLines resolves the lazy metadata path per asset and marks the rest
// pending.
func (e *Engine) collectLines(items []model.Item) []assetLine {
	var lines []assetLine
	for _, it := range items {
		info, known := SensorInfoFor(it.Collection)
		for _, a := range it.Assets {
			if known && info.ShouldIgnoreAsset(a.Name, a.MediaType) {
				continue
			}
			line := assetLine{
				est:        model.AssetEstimate{Item: it.ID, Asset: a.Name, MediaType: a.MediaType},
				asset:      a,
				collection: it.Collection,
			}
			switch {
			case a.DeclaredBytes != nil:
				line.est.Bytes = *a.DeclaredBytes
				line.est.Source = "metadata"
			case a.ElementCount() > 0 && DTypeSize(a.DType) > 0:
				line.est.Bytes = a.ElementCount() * int64(DTypeSize(a.DType))
				line.est.Source = "shape-dtype"
			default:
				line.pending = true
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// probePending dispatches unresolved assets to the probe pool and fills the
// remainder with heuristics.
func (e *Engine) probePending(ctx context.Context, lines []assetLine, pendingIdx []int, est *model.SizeEstimate) {
	targets := make([]probe.Target, len(pendingIdx))
	for n, i := range pendingIdx {
		targets[n] = probe.Target{
			Key:  lines[i].est.Item + "/" + lines[i].est.Asset,
			Href: lines[i].asset.Href,
		}
	}
	results := e.pool.ProbeAll(ctx, targets)
	for n, res := range results {
		i := pendingIdx[n]
		if res.Outcome == model.ProbeOK {
			lines[i].est.Bytes = res.Bytes
			lines[i].est.Source = "probe"
			continue
		}
		lines[i].est.Bytes = HeuristicBytes(lines[i].asset)
		lines[i].est.Source = "heuristic"
		est.Warnings = append(est.Warnings,
			fmt.Sprintf("probe for %s %s; heuristic estimate applied", res.Key, res.Outcome))
	}
}

// adjust applies no-data scaling within the sampling budget. The raw total
// is never modified; the adjusted total is reported alongside it.
func (e *Engine) adjust(ctx context.Context, lines []assetLine, est *model.SizeEstimate) {
	budget := e.sampler.MaxAssets()
	sampled := 0
	var raw, adjusted int64
	for i := range lines {
		raw += lines[i].est.Bytes
		contribution := lines[i].est.Bytes
		if sampled < budget && sampleEligible(lines[i].asset) {
			ratio := clampRatio(e.sampler.EffectiveRatio(ctx, lines[i].asset))
			sampled++
			if ratio < 1 {
				r := ratio
				lines[i].est.Ratio = &r
				contribution = int64(math.Round(float64(contribution) * ratio))
			}
		}
		adjusted += contribution
	}
	est.AdjustedBytes = &adjusted
	if raw > 0 {
		ratio := clampRatio(float64(adjusted) / float64(raw))
		est.EffectiveRatio = &ratio
	}
}

// sampleEligible keeps sampling to assets we can actually decode.
func sampleEligible(a model.Asset) bool {
	return a.Href != "" && DTypeSize(a.DType) > 0
}

// sensorNativeTotal recomputes the total with instrument-native dtype widths
// for collections in the registry. Reported alongside, never instead of, the
// raw total.
func sensorNativeTotal(lines []assetLine) (int64, bool) {
	var total int64
	recomputed := false
	for i := range lines {
		bytes := lines[i].est.Bytes
		if n := lines[i].asset.ElementCount(); n > 0 {
			if info, ok := SensorInfoFor(lines[i].collection); ok {
				if w := DTypeSize(info.DTypeForAsset(lines[i].asset.Name)); w > 0 {
					bytes = n * int64(w)
					recomputed = true
				}
			}
		}
		total += bytes
	}
	return total, recomputed
}
