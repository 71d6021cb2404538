package tile

import (
	"iter"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
)

// enumEpsilon nudges the east and south edges inward so that bounds ending
// exactly on a tile boundary do not pull in an extra column or row of tiles.
const enumEpsilon = 1e-11

// Enumerate returns a lazy, restartable sequence of every tile whose extent
// intersects the given (clamped) bounds, for every zoom level in the range.
// Order is deterministic: zoom ascending, then column-major within a zoom.
// No tile is yielded twice.
func Enumerate(b coord.GeodeticBounds, zr ZoomRange) iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		for z := zr.Min; z <= zr.Max; z++ {
			minX, minY, maxX, maxY := tileSpan(b, z)
			for x := minX; x <= maxX; x++ {
				for y := minY; y <= maxY; y++ {
					if !yield(Coord{X: x, Y: y, Z: z}) {
						return
					}
				}
			}
		}
	}
}

// Count returns the number of tiles Enumerate would yield, without walking
// them. Used for progress reporting.
func Count(b coord.GeodeticBounds, zr ZoomRange) int64 {
	var n int64
	for z := zr.Min; z <= zr.Max; z++ {
		minX, minY, maxX, maxY := tileSpan(b, z)
		n += int64(maxX-minX+1) * int64(maxY-minY+1)
	}
	return n
}

// tileSpan returns the inclusive tile index ranges covering the bounds at
// one zoom level. The upper-left tile comes from the (west, north) corner
// and the lower-right from (east, south).
func tileSpan(b coord.GeodeticBounds, z int) (minX, minY, maxX, maxY int) {
	minX, minY = coord.LonLatToTile(b.West, b.North, z)
	maxX, maxY = coord.LonLatToTile(b.East-enumEpsilon, b.South+enumEpsilon, z)
	return
}
