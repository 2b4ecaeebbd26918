package estimate

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

// SampleBudget bounds the cost of no-data sampling.
type SampleBudget struct {
	// MaxBytesPerAsset caps the raw bytes fetched per asset across all
	// windows.
	MaxBytesPerAsset int
	// MaxAssets caps how many assets per estimation call are sampled.
	MaxAssets int
}

func DefaultSampleBudget() SampleBudget {
	return SampleBudget{MaxBytesPerAsset: 1 << 20, MaxAssets: 8}
}

// sentinelMinFraction is the smallest share of sampled values a repeated
// extreme must occupy to be treated as an undeclared sentinel. Below it the
// sampler stays inconclusive and reports 1.0.
const sentinelMinFraction = 0.2

// sampleWindows is how many spatial windows are read per asset when the
// asset's total byte length is known.
const sampleWindows = 3

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Sampler estimates the fraction of non-sentinel values in an asset by
// reading bounded byte windows. It never materializes a full asset.
type Sampler struct {
	logger  *zerolog.Logger
	client  httpDoer
	headers map[string]string
	budget  SampleBudget
	timeout time.Duration
}

func NewSampler(logger *zerolog.Logger, client httpDoer, headers map[string]string, budget SampleBudget, timeout time.Duration) *Sampler {
	if budget.MaxBytesPerAsset <= 0 {
		budget.MaxBytesPerAsset = DefaultSampleBudget().MaxBytesPerAsset
	}
	if budget.MaxAssets <= 0 {
		budget.MaxAssets = DefaultSampleBudget().MaxAssets
	}
	return &Sampler{logger: logger, client: client, headers: headers, budget: budget, timeout: timeout}
}

// MaxAssets exposes the per-call asset cap for the estimation engine.
func (s *Sampler) MaxAssets() int { return s.budget.MaxAssets }

// EffectiveRatio returns the estimated fraction of real (non-sentinel)
// values in [0, 1]. When no sentinel can be determined or sampling is
// inconclusive, it returns 1.0 rather than guessing.
func (s *Sampler) EffectiveRatio(ctx context.Context, a model.Asset) float64 {
	width := DTypeSize(a.DType)
	if width == 0 || a.Href == "" {
		return 1.0
	}

	values := s.sampleValues(ctx, a, width)
	if len(values) == 0 {
		return 1.0
	}

	if a.NoData != nil {
		return clampRatio(fractionNotEqual(values, *a.NoData))
	}

	// No declared sentinel: look for a repeated extreme value.
	sentinel, frac, ok := detectSentinel(values)
	if !ok {
		return 1.0
	}
	if s.logger != nil {
		s.logger.Debug().
			Str("asset", a.Name).
			Float64("sentinel", sentinel).
			Float64("fraction", frac).
			Msg("detected undeclared sentinel from sample")
	}
	return clampRatio(1 - frac)
}

// sampleValues reads bounded windows of the asset and decodes them with the
// declared dtype. Windows are spread across the asset when its total length
// is known from shape metadata.
func (s *Sampler) sampleValues(ctx context.Context, a model.Asset, width int) []float64 {
	total := a.ElementCount() * int64(width)
	perWindow := s.budget.MaxBytesPerAsset

	var windows [][2]int64
	if total > int64(s.budget.MaxBytesPerAsset)*sampleWindows {
		perWindow = s.budget.MaxBytesPerAsset / sampleWindows
		step := total / sampleWindows
		for i := int64(0); i < sampleWindows; i++ {
			start := i * step
			windows = append(windows, [2]int64{start, start + int64(perWindow) - 1})
		}
	} else {
		windows = append(windows, [2]int64{0, int64(perWindow) - 1})
	}

	var values []float64
	for _, w := range windows {
		buf := s.fetchRange(ctx, a.Href, w[0], w[1])
		if len(buf) == 0 {
			continue
		}
		values = append(values, decodeValues(buf, a.DType)...)
	}
	return values
}

func (s *Sampler) fetchRange(ctx context.Context, href string, from, to int64) []byte {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", from, to))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil
	}
	// Servers ignoring Range reply 200 with the full body; the limit keeps
	// the read bounded either way.
	buf, err := io.ReadAll(io.LimitReader(resp.Body, to-from+1))
	if err != nil {
		return nil
	}
	return buf
}

// decodeValues interprets raw bytes as a little-endian array of the declared
// dtype.
func decodeValues(buf []byte, dtype string) []float64 {
	dtype = strings.ToLower(strings.TrimSpace(dtype))
	width := DTypeSize(dtype)
	if width == 0 {
		return nil
	}
	n := len(buf) / width
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		b := buf[i*width : (i+1)*width]
		switch dtype {
		case "uint8", "u1", "byte":
			out = append(out, float64(b[0]))
		case "int8", "i1":
			out = append(out, float64(int8(b[0])))
		case "uint16", "u2":
			out = append(out, float64(binary.LittleEndian.Uint16(b)))
		case "int16", "i2":
			out = append(out, float64(int16(binary.LittleEndian.Uint16(b))))
		case "float16":
			out = append(out, float16Value(binary.LittleEndian.Uint16(b)))
		case "uint32", "u4":
			out = append(out, float64(binary.LittleEndian.Uint32(b)))
		case "int32", "i4":
			out = append(out, float64(int32(binary.LittleEndian.Uint32(b))))
		case "float32":
			out = append(out, float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
		case "uint64", "u8":
			out = append(out, float64(binary.LittleEndian.Uint64(b)))
		case "int64", "i8":
			out = append(out, float64(int64(binary.LittleEndian.Uint64(b))))
		case "float64":
			out = append(out, math.Float64frombits(binary.LittleEndian.Uint64(b)))
		default:
			return nil
		}
	}
	return out
}

// float16Value expands an IEEE 754 half-precision bit pattern.
func float16Value(bits uint16) float64 {
	sign := float64(1)
	if bits&0x8000 != 0 {
		sign = -1
	}
	exp := int(bits>>10) & 0x1f
	frac := float64(bits & 0x3ff)
	switch exp {
	case 0:
		return sign * math.Ldexp(frac, -24)
	case 0x1f:
		if frac != 0 {
			return math.NaN()
		}
		return sign * math.Inf(1)
	}
	return sign * math.Ldexp(1+frac/1024, exp-15)
}

func fractionNotEqual(values []float64, sentinel float64) float64 {
	hits := 0
	for _, v := range values {
		if v == sentinel || (math.IsNaN(sentinel) && math.IsNaN(v)) {
			hits++
		}
	}
	return 1 - float64(hits)/float64(len(values))
}

// detectSentinel looks for a repeated extreme (min or max) occupying at
// least sentinelMinFraction of the sample.
func detectSentinel(values []float64) (sentinel, fraction float64, ok bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if math.IsInf(lo, 1) || lo == hi {
		return 0, 0, false
	}
	nLo, nHi := 0, 0
	for _, v := range values {
		switch v {
		case lo:
			nLo++
		case hi:
			nHi++
		}
	}
	total := float64(len(values))
	if float64(nLo) >= float64(nHi) {
		sentinel, fraction = lo, float64(nLo)/total
	} else {
		sentinel, fraction = hi, float64(nHi)/total
	}
	if fraction < sentinelMinFraction {
		return 0, 0, false
	}
	return sentinel, fraction, true
}

func clampRatio(r float64) float64 {
	if math.IsNaN(r) || r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}
