// Package estimate computes data-volume estimates for catalog search results
// without downloading pixel data.
package estimate

import "strings"

// DTypeSize returns the per-element byte width of a declared array dtype, or
// 0 when the dtype is unknown.
func DTypeSize(dtype string) int {
	switch strings.ToLower(strings.TrimSpace(dtype)) {
	case "uint8", "int8", "u1", "i1", "byte":
		return 1
	case "uint16", "int16", "u2", "i2", "float16":
		return 2
	case "uint32", "int32", "u4", "i4", "float32":
		return 4
	case "uint64", "int64", "u8", "i8", "float64":
		return 8
	default:
		return 0
	}
}

// SensorInfo describes a collection's instrument-native band dtypes.
type SensorInfo struct {
	// DefaultDType applies to the main image bands.
	DefaultDType string
	// BandOverrides maps an asset-name substring to a dtype for special
	// bands (e.g. "scl" -> int8).
	BandOverrides map[string]string
	// IgnoreSubstrings lists asset-name fragments the estimator skips,
	// typically previews.
	IgnoreSubstrings []string
}

var defaultIgnore = []string{"preview", "thumbnail", "browse", "rgb"}

// DTypeForAsset returns the native dtype for an asset name, preferring band
// overrides. Lookup is substring-based and case-insensitive.
func (s SensorInfo) DTypeForAsset(assetName string) string {
	an := strings.ToLower(assetName)
	for key, dt := range s.BandOverrides {
		if strings.Contains(an, strings.ToLower(key)) {
			return dt
		}
	}
	return s.DefaultDType
}

// ShouldIgnoreAsset reports whether an asset is a preview/browse product that
// should not count toward data volume.
func (s SensorInfo) ShouldIgnoreAsset(assetName, mediaType string) bool {
	an := strings.ToLower(assetName)
	for _, frag := range s.IgnoreSubstrings {
		if strings.Contains(an, frag) {
			return true
		}
	}
	mt := strings.ToLower(mediaType)
	return strings.Contains(mt, "thumbnail") || strings.Contains(mt, "preview") ||
		strings.Contains(mt, "jpeg") || strings.Contains(mt, "png")
}

func si(dtype string, overrides map[string]string) SensorInfo {
	return SensorInfo{
		DefaultDType:     dtype,
		BandOverrides:    overrides,
		IgnoreSubstrings: defaultIgnore,
	}
}

// sensorRegistry maps exact collection ids (lower-cased) to native dtypes.
// Intentionally small; extend as collections show up in practice.
var sensorRegistry = map[string]SensorInfo{
	// Sentinel / Copernicus
	"sentinel-2-l2a":                si("uint16", map[string]string{"scl": "int8"}),
	"sentinel-2-l1c":                si("uint16", nil),
	"sentinel-2-c1-l2a":             si("uint16", map[string]string{"scl": "int8"}),
	"sentinel-1-grd":                si("float32", nil),
	"sentinel-1-rtc":                si("float32", nil),
	"sentinel-3-olci-lfr-l2-netcdf": si("float32", nil),
	"sentinel-5p-l2-netcdf":         si("float32", nil),
	// Landsat
	"landsat-c2-l2": si("uint16", map[string]string{"qa": "uint16"}),
	"landsat-c2-l1": si("uint16", map[string]string{"qa": "uint16"}),
	// HLS
	"hls2-s30": si("uint16", map[string]string{"scl": "int8"}),
	"hls2-l30": si("uint16", map[string]string{"scl": "int8"}),
	// MODIS
	"modis-09a1-061": si("int16", nil),
	"modis-09q1-061": si("int16", nil),
	// NAIP
	"naip": si("uint8", nil),
	// Climate / gridded
	"daymet-daily-na":   si("float32", nil),
	"daymet-daily-pr":   si("float32", nil),
	"daymet-monthly-na": si("float32", nil),
	"gridmet":           si("float32", nil),
	"terraclimate":      si("float32", nil),
	"era5-pds":          si("float32", nil),
	// DEMs
	"cop-dem-glo-30": si("float32", nil),
	"cop-dem-glo-90": si("float32", nil),
	"nasadem":        si("float32", nil),
	"3dep-seamless":  si("float32", nil),
	// Misc
	"io-lulc":      si("uint8", nil),
	"ms-buildings": si("uint8", nil),
}

// SensorInfoFor looks up the native dtype info for a collection id. The
// second return is false for unknown collections.
func SensorInfoFor(collectionID string) (SensorInfo, bool) {
	info, ok := sensorRegistry[strings.ToLower(collectionID)]
	return info, ok
}
