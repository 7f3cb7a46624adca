// Package skymap provides the sentinel's view of a sky-localization
// probability map: a small interface covering contour-area queries and
// header metadata (distance), plus an Acquirer implementing the
// embedded-skymap / HTTP-or-file-download / Gaussian-synthesis resolution
// order.
//
// The probability-map mathematics themselves (HEALPix resampling, MOC
// conversion, proper contour integration) live in an external skymap
// library; this package implements only minimal FITS header reading, and
// its FITS-backed maps answer contour queries from header values alone.
package skymap

import "context"

// SkyMap is the minimal probability-map contract the strategy resolver
// and notification composer need.
type SkyMap interface {
	// ContourArea returns the sky area, in square degrees, enclosed by the
	// smallest region containing the given cumulative probability (e.g. 0.9).
	ContourArea(level float64) float64
	// Header exposes named scalar header values (e.g. "distmean", "diststd").
	// Returns (0, false) when the key is absent.
	Header(key string) (float64, bool)
	// Nside returns the map's HEALPix resolution parameter.
	Nside() int
	// Order returns the map's HEALPix pixel ordering scheme.
	Order() string
	// IsMOC reports whether the map is stored as a multi-order-coverage map.
	IsMOC() bool
	// Regrade returns a copy of the map resampled to a different nside and
	// ordering scheme.
	Regrade(nside int, order string) SkyMap
}

// HEALPix pixel ordering schemes.
const (
	OrderRing   = "RING"
	OrderNested = "NESTED"
	OrderNUNIQ  = "NUNIQ"
)

// Fetcher retrieves skymap bytes given a URL or local path. Production
// code uses httpFetcher; tests can substitute a stub.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}
