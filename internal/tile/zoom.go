package tile

import (
	"errors"
	"fmt"
	"math"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
)

// ErrInvalidExtent marks degenerate or non-finite geodetic bounds.
var ErrInvalidExtent = errors.New("invalid extent")

// Full-earth extents used by the zoom heuristic: 360° of longitude and the
// latitude span of the Web Mercator square.
const (
	fullLonExtent = 360.0
	fullLatExtent = 170.1022
)

// ZoomRange is an inclusive min..max range of export zoom levels.
type ZoomRange struct {
	Min, Max int
}

// ZoomRangeFromBounds infers the export zoom range from geodetic bounds:
// for each axis, the zoom at which the bounds fit a single tile is
// round(log2(full_extent / bounds_extent)); the range is the min and max of
// the two axis estimates.
func ZoomRangeFromBounds(b coord.GeodeticBounds) (ZoomRange, error) {
	if !b.Valid() {
		return ZoomRange{}, fmt.Errorf("%w: %+v", ErrInvalidExtent, b)
	}

	zw := int(math.Round(math.Log2(fullLonExtent / b.Width())))
	zh := int(math.Round(math.Log2(fullLatExtent / b.Height())))

	zr := ZoomRange{Min: zw, Max: zh}
	if zh < zw {
		zr = ZoomRange{Min: zh, Max: zw}
	}
	if zr.Min < 0 {
		zr.Min = 0
	}
	if zr.Max < 0 {
		zr.Max = 0
	}
	return zr, nil
}
