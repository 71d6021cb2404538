package tile

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/pspoerri/raster2mbtiles/internal/encode"
)

// ErrInvalidConfiguration marks export settings rejected before any tile
// work begins.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Profile describes the output tile images: square pixel dimensions, band
// count (3 for RGB, 4 for RGBA), 8-bit samples, the nodata value used to
// fill uncovered pixels, and the encoding format. SrcNodata and DstNodata
// are resampling-time overrides only; they do not affect the encoded image
// format and are excluded from the cache key.
//
// A Profile is constructed once per export run and passed by value.
type Profile struct {
	TileSize int
	Bands    int
	Nodata   float64
	Format   string // "png", "jpeg" or "webp"
	Quality  int

	SrcNodata *float64
	DstNodata *float64
}

// Validate rejects profiles that cannot produce valid tiles. It runs before
// any tile work or output file creation.
func (p Profile) Validate() error {
	if p.TileSize <= 0 {
		return fmt.Errorf("%w: tile size must be positive, got %d", ErrInvalidConfiguration, p.TileSize)
	}
	if p.Bands != 3 && p.Bands != 4 {
		return fmt.Errorf("%w: band count must be 3 or 4, got %d", ErrInvalidConfiguration, p.Bands)
	}
	enc, err := encode.NewEncoder(p.Format, p.Quality)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if p.Bands == 4 && !enc.SupportsAlpha() {
		return fmt.Errorf("%w: RGBA output is not possible with %s format", ErrInvalidConfiguration, p.Format)
	}
	return nil
}

// Encoder returns the tile image encoder for this profile.
func (p Profile) Encoder() (encode.Encoder, error) {
	return encode.NewEncoder(p.Format, p.Quality)
}

// Key returns the empty-tile cache key: a hash over the fields that affect
// the encoded bytes of a blank tile. Equal profiles hash equal.
func (p Profile) Key() uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%dx%d:b%d:nd%g:%s:q%d",
		p.TileSize, p.TileSize, p.Bands, p.Nodata, p.Format, p.Quality))
}

// ValidateNodata rejects a destination nodata override that has no
// resolvable source nodata to map from: srcOverride is the command-line
// override, metaNodata the value carried by the source dataset itself.
func ValidateNodata(dstOverride, srcOverride, metaNodata *float64) error {
	if dstOverride != nil && srcOverride == nil && metaNodata == nil {
		return fmt.Errorf("%w: src-nodata must be provided because dst-nodata is set", ErrInvalidConfiguration)
	}
	return nil
}
