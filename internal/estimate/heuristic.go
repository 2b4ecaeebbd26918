package estimate

import (
	"strings"

	"github.com/wayfinder-foundry/stac-scope/internal/core/model"
)

// Heuristic fallback for assets with no declared size, no usable
// shape/dtype, and no successful probe. The constants below are a documented
// policy choice, not measurements: they are rounded central sizes for each
// media family as seen on public catalogs, and tests pin them as a contract.
const (
	heuristicTiffBytes    = 64 << 20  // single-band COG scene
	heuristicJP2Bytes     = 48 << 20  // JPEG2000 band
	heuristicZarrBytes    = 128 << 20 // zarr store root
	heuristicNetCDFBytes  = 64 << 20
	heuristicParquetBytes = 32 << 20
	heuristicHDFBytes     = 64 << 20
	heuristicTextBytes    = 64 << 10 // json/xml sidecars
	heuristicImageBytes   = 1 << 20  // previews
	heuristicDefaultBytes = 16 << 20
)

// assumedDTypeWidth applies when a shape is declared but the dtype is not.
// Most EO rasters are 16-bit.
const assumedDTypeWidth = 2

// HeuristicBytes estimates an asset's size from declared shape and media
// type alone.
func HeuristicBytes(a model.Asset) int64 {
	// A declared shape beats any media-type guess, even with the dtype
	// missing.
	if n := a.ElementCount(); n > 0 {
		width := DTypeSize(a.DType)
		if width == 0 {
			width = assumedDTypeWidth
		}
		return n * int64(width)
	}

	ref := strings.ToLower(a.MediaType)
	if ref == "" {
		ref = strings.ToLower(a.Href)
	}
	switch {
	case strings.Contains(ref, "zarr"):
		return heuristicZarrBytes
	case strings.Contains(ref, "parquet"):
		return heuristicParquetBytes
	case strings.Contains(ref, "netcdf") || strings.HasSuffix(ref, ".nc"):
		return heuristicNetCDFBytes
	case strings.Contains(ref, "hdf"):
		return heuristicHDFBytes
	case strings.Contains(ref, "tiff") || strings.HasSuffix(ref, ".tif"):
		return heuristicTiffBytes
	case strings.Contains(ref, "jp2") || strings.Contains(ref, "jpeg2000"):
		return heuristicJP2Bytes
	case strings.Contains(ref, "json") || strings.Contains(ref, "xml") || strings.Contains(ref, "text"):
		return heuristicTextBytes
	case strings.Contains(ref, "jpeg") || strings.Contains(ref, "png"):
		return heuristicImageBytes
	default:
		return heuristicDefaultBytes
	}
}
