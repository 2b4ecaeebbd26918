package estimate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
	"github.com/wayfinder-foundry/stac-scope/internal/probe"
)

type fakeSearch struct {
	items    []model.Item
	warnings []string
	err      error
	calls    int
}

func (f *fakeSearch) Search(context.Context, model.SearchRequest) ([]model.Item, []string, error) {
	f.calls++
	return f.items, f.warnings, f.err
}

type fakeProber struct {
	results map[string]model.ProbeResult
	calls   int
}

func (f *fakeProber) ProbeAll(_ context.Context, targets []probe.Target) []model.ProbeResult {
	f.calls++
	out := make([]model.ProbeResult, len(targets))
	for i, tg := range targets {
		if res, ok := f.results[tg.Key]; ok {
			res.Key = tg.Key
			out[i] = res
			continue
		}
		out[i] = model.ProbeResult{Key: tg.Key, Outcome: model.ProbeFailed, Err: errors.New("unexpected target")}
	}
	return out
}

type fakeSampler struct {
	ratio float64
	max   int
	calls int
}

func (f *fakeSampler) EffectiveRatio(context.Context, model.Asset) float64 {
	f.calls++
	return f.ratio
}

func (f *fakeSampler) MaxAssets() int { return f.max }

func i64(n int64) *int64 { return &n }

func declaredItem(id string, bytes int64) model.Item {
	return model.Item{
		ID:         id,
		Collection: "c1",
		Assets: []model.Asset{
			{Name: "data", Href: "https://x/" + id + ".tif", MediaType: "image/tiff", DeclaredBytes: i64(bytes)},
		},
	}
}

func newTestEngine(search Searcher, pool Prober, sampler RatioSampler) *Engine {
	return NewEngine(nil, search, pool, sampler)
}

func TestEstimateLazyMetadataPath(t *testing.T) {
	const itemBytes = 100 * 1024 * 1024
	items := make([]model.Item, 5)
	for i := range items {
		items[i] = declaredItem("it"+string(rune('a'+i)), itemBytes)
	}
	pool := &fakeProber{}
	e := newTestEngine(&fakeSearch{items: items}, pool, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.Method != model.MethodLazyMetadata {
		t.Errorf("method = %s, want lazy-metadata", est.Method)
	}
	if want := int64(5 * itemBytes); est.RawBytes != want {
		t.Errorf("rawBytes = %d, want %d", est.RawBytes, want)
	}
	if est.ItemCount != 5 {
		t.Errorf("itemCount = %d", est.ItemCount)
	}
	if pool.calls != 0 {
		t.Errorf("pool called %d times; declared sizes need no probing", pool.calls)
	}
	if len(est.Warnings) != 0 {
		t.Errorf("warnings = %v", est.Warnings)
	}
	for _, a := range est.Assets {
		if a.Source != "metadata" {
			t.Errorf("asset %s/%s source = %q", a.Item, a.Asset, a.Source)
		}
	}
}

func TestEstimateShapeDTypePath(t *testing.T) {
	items := []model.Item{{
		ID:         "it1",
		Collection: "unknown-collection",
		Assets: []model.Asset{
			{Name: "band", Href: "https://x/b.tif", Shape: []int{100, 200}, DType: "uint16"},
		},
	}}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.Method != model.MethodLazyMetadata {
		t.Errorf("method = %s", est.Method)
	}
	if want := int64(100 * 200 * 2); est.RawBytes != want {
		t.Errorf("rawBytes = %d, want %d", est.RawBytes, want)
	}
	if est.Assets[0].Source != "shape-dtype" {
		t.Errorf("source = %q", est.Assets[0].Source)
	}
}

func TestEstimateProbedPathWithHeuristicFallback(t *testing.T) {
	items := []model.Item{
		{ID: "it1", Assets: []model.Asset{{Name: "data", Href: "https://x/1.tif", MediaType: "image/tiff"}}},
		{ID: "it2", Assets: []model.Asset{{Name: "data", Href: "https://x/2.tif", MediaType: "image/tiff"}}},
		{ID: "it3", Assets: []model.Asset{{Name: "data", Href: "https://x/3.tif", MediaType: "image/tiff"}}},
	}
	pool := &fakeProber{results: map[string]model.ProbeResult{
		"it1/data": {Outcome: model.ProbeOK, Bytes: 10 << 20},
		"it2/data": {Outcome: model.ProbeOK, Bytes: 15 << 20},
		"it3/data": {Outcome: model.ProbeTimedOut, Err: context.DeadlineExceeded},
	}}
	e := newTestEngine(&fakeSearch{items: items}, pool, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.Method != model.MethodProbed {
		t.Errorf("method = %s, want probed", est.Method)
	}
	if want := int64(10<<20 + 15<<20 + heuristicTiffBytes); est.RawBytes != want {
		t.Errorf("rawBytes = %d, want %d", est.RawBytes, want)
	}
	if len(est.Warnings) != 1 || !strings.Contains(est.Warnings[0], "it3/data") {
		t.Errorf("warnings = %v, want one naming the timed-out probe", est.Warnings)
	}
	sources := []string{est.Assets[0].Source, est.Assets[1].Source, est.Assets[2].Source}
	if sources[0] != "probe" || sources[1] != "probe" || sources[2] != "heuristic" {
		t.Errorf("sources = %v", sources)
	}
}

func TestEstimateMetadataOnlySkipsProbing(t *testing.T) {
	items := []model.Item{
		{ID: "it1", Assets: []model.Asset{{Name: "data", Href: "https://x/1.tif", MediaType: "image/tiff"}}},
	}
	pool := &fakeProber{}
	e := newTestEngine(&fakeSearch{items: items}, pool, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{MetadataOnly: true})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if pool.calls != 0 {
		t.Errorf("pool called %d times with probing disabled", pool.calls)
	}
	if est.Method != model.MethodHeuristic {
		t.Errorf("method = %s, want heuristic", est.Method)
	}
	if est.RawBytes != heuristicTiffBytes {
		t.Errorf("rawBytes = %d", est.RawBytes)
	}
	if len(est.Warnings) != 1 || !strings.Contains(est.Warnings[0], "probing disabled") {
		t.Errorf("warnings = %v", est.Warnings)
	}
}

func TestEstimateZeroItems(t *testing.T) {
	e := newTestEngine(&fakeSearch{}, &fakeProber{}, nil)
	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.RawBytes != 0 || est.ItemCount != 0 {
		t.Errorf("est = %+v", est)
	}
	if len(est.Warnings) != 1 || !strings.Contains(est.Warnings[0], "no items matched") {
		t.Errorf("warnings = %v", est.Warnings)
	}
}

func TestEstimateSearchFailureIsTerminal(t *testing.T) {
	wantErr := errors.New("catalog down")
	e := newTestEngine(&fakeSearch{err: wantErr}, &fakeProber{}, nil)
	_, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want terminal search failure", err)
	}
}

func TestEstimateNoDataAdjustment(t *testing.T) {
	items := []model.Item{
		{ID: "it1", Assets: []model.Asset{
			{Name: "data", Href: "https://x/1.tif", DType: "uint16", DeclaredBytes: i64(100)},
		}},
	}
	sampler := &fakeSampler{ratio: 0.5, max: 8}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, sampler)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{AdjustForNoData: true})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.RawBytes != 100 {
		t.Errorf("rawBytes = %d; adjustment must never rewrite the raw total", est.RawBytes)
	}
	if est.AdjustedBytes == nil || *est.AdjustedBytes != 50 {
		t.Errorf("adjustedBytes = %v, want 50", est.AdjustedBytes)
	}
	if est.EffectiveRatio == nil || *est.EffectiveRatio != 0.5 {
		t.Errorf("effectiveRatio = %v, want 0.5", est.EffectiveRatio)
	}
	if est.Assets[0].Ratio == nil || *est.Assets[0].Ratio != 0.5 {
		t.Errorf("per-asset ratio = %v", est.Assets[0].Ratio)
	}
}

func TestEstimateNoDataDisabledByDefault(t *testing.T) {
	items := []model.Item{declaredItem("it1", 100)}
	sampler := &fakeSampler{ratio: 0.1, max: 8}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, sampler)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.AdjustedBytes != nil || est.EffectiveRatio != nil {
		t.Errorf("adjusted fields populated without opt-in: %+v", est)
	}
	if sampler.calls != 0 {
		t.Errorf("sampler called %d times without opt-in", sampler.calls)
	}
}

func TestEstimateNoDataSamplingBudget(t *testing.T) {
	var items []model.Item
	for i := 0; i < 5; i++ {
		items = append(items, model.Item{
			ID: "it" + string(rune('a'+i)),
			Assets: []model.Asset{
				{Name: "data", Href: "https://x/a.tif", DType: "uint16", DeclaredBytes: i64(100)},
			},
		})
	}
	sampler := &fakeSampler{ratio: 0.5, max: 2}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, sampler)

	if _, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{AdjustForNoData: true}); err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if sampler.calls != 2 {
		t.Errorf("sampler called %d times, budget is 2", sampler.calls)
	}
}

func TestEstimateIgnoresPreviewAssetsForKnownSensors(t *testing.T) {
	items := []model.Item{{
		ID:         "it1",
		Collection: "sentinel-2-l2a",
		Assets: []model.Asset{
			{Name: "B02", Href: "https://x/b02.tif", DeclaredBytes: i64(100)},
			{Name: "thumbnail", Href: "https://x/thumb.jpg", MediaType: "image/jpeg", DeclaredBytes: i64(999)},
		},
	}}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if len(est.Assets) != 1 || est.Assets[0].Asset != "B02" {
		t.Errorf("assets = %+v, preview should be dropped", est.Assets)
	}
	if est.RawBytes != 100 {
		t.Errorf("rawBytes = %d", est.RawBytes)
	}
}

func TestEstimateSensorNativeTotal(t *testing.T) {
	// Declared float64 shape, but sentinel-2 bands are natively uint16: the
	// sensor-native total is a quarter of the raw one.
	items := []model.Item{{
		ID:         "it1",
		Collection: "sentinel-2-l2a",
		Assets: []model.Asset{
			{Name: "B02", Href: "https://x/b02.tif", Shape: []int{100, 100}, DType: "float64"},
		},
	}}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if want := int64(100 * 100 * 8); est.RawBytes != want {
		t.Errorf("rawBytes = %d, want %d", est.RawBytes, want)
	}
	if est.SensorNativeBytes == nil || *est.SensorNativeBytes != 100*100*2 {
		t.Errorf("sensorNativeBytes = %v, want %d", est.SensorNativeBytes, 100*100*2)
	}
}

func TestEstimateSensorNativeAbsentForUnknownCollections(t *testing.T) {
	items := []model.Item{{
		ID:         "it1",
		Collection: "somebody-elses-catalog",
		Assets:     []model.Asset{{Name: "data", Shape: []int{10, 10}, DType: "float64"}},
	}}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.SensorNativeBytes != nil {
		t.Errorf("sensorNativeBytes = %v, want nil", est.SensorNativeBytes)
	}
}

func TestEstimateIsRepeatable(t *testing.T) {
	items := []model.Item{declaredItem("it1", 123), declaredItem("it2", 456)}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, nil)

	first, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.RawBytes != second.RawBytes || first.Method != second.Method {
		t.Errorf("estimates differ: %+v vs %+v", first, second)
	}
}

func TestEstimateCarriesSearchWarnings(t *testing.T) {
	search := &fakeSearch{
		items:    []model.Item{declaredItem("it1", 1)},
		warnings: []string{"requested limit 9999 truncated to configured maximum 500"},
	}
	e := newTestEngine(search, &fakeProber{}, nil)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if len(est.Warnings) != 1 || !strings.Contains(est.Warnings[0], "truncated") {
		t.Errorf("warnings = %v", est.Warnings)
	}
}

func TestEstimateNoDataClampsSamplerRatio(t *testing.T) {
	items := []model.Item{
		{ID: "it1", Assets: []model.Asset{
			{Name: "data", Href: "https://x/1.tif", DType: "uint16", DeclaredBytes: i64(100)},
		}},
	}
	// A sampler reporting an out-of-range ratio must never produce a
	// negative contribution; it clamps to zero.
	sampler := &fakeSampler{ratio: -0.5, max: 8}
	e := newTestEngine(&fakeSearch{items: items}, &fakeProber{}, sampler)

	est, err := e.EstimateSize(context.Background(), model.SearchRequest{}, Options{AdjustForNoData: true})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.RawBytes != 100 {
		t.Errorf("rawBytes = %d", est.RawBytes)
	}
	if est.AdjustedBytes == nil || *est.AdjustedBytes != 0 {
		t.Errorf("adjustedBytes = %v, want 0", est.AdjustedBytes)
	}
	if est.Assets[0].Ratio == nil || *est.Assets[0].Ratio != 0 {
		t.Errorf("per-asset ratio = %v, want 0", est.Assets[0].Ratio)
	}

	// Above one the ratio clamps to a no-op and no per-asset ratio is kept.
	sampler = &fakeSampler{ratio: 1.7, max: 8}
	e = newTestEngine(&fakeSearch{items: items}, &fakeProber{}, sampler)
	est, err = e.EstimateSize(context.Background(), model.SearchRequest{}, Options{AdjustForNoData: true})
	if err != nil {
		t.Fatalf("EstimateSize: %v", err)
	}
	if est.AdjustedBytes == nil || *est.AdjustedBytes != 100 {
		t.Errorf("adjustedBytes = %v, want 100", est.AdjustedBytes)
	}
	if est.Assets[0].Ratio != nil {
		t.Errorf("per-asset ratio = %v, want nil", est.Assets[0].Ratio)
	}
}
