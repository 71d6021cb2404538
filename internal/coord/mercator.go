package coord

import "math"

const (
	// EarthRadius is the sphere radius used by the spherical Web Mercator
	// projection (EPSG:3857). Tile servers use the sphere, not the WGS84
	// ellipsoid.
	EarthRadius = 6378137.0
	// OriginShift is the Mercator coordinate of the projection edge.
	OriginShift = math.Pi * EarthRadius
	// MercatorLatLimit is the latitude at which the Web Mercator square closes.
	MercatorLatLimit = 85.051129
	// DefaultTileSize is the standard web map tile dimension.
	DefaultTileSize = 256
)

// WebMercatorProj implements the Projection interface for EPSG:3857.
type WebMercatorProj struct{}

func (w *WebMercatorProj) EPSG() int { return 3857 }

func (w *WebMercatorProj) ToWGS84(x, y float64) (lon, lat float64) {
	lon = x / EarthRadius * 180.0 / math.Pi
	lat = (2.0*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2.0) * 180.0 / math.Pi
	return
}

func (w *WebMercatorProj) FromWGS84(lon, lat float64) (x, y float64) {
	x = EarthRadius * lon * math.Pi / 180.0
	y = EarthRadius * math.Log(math.Tan(math.Pi/4.0+lat*math.Pi/360.0))
	return
}

// LonLatToTile converts WGS84 lon/lat to tile coordinates at the given zoom
// level, clamped to the valid tile range.
func LonLatToTile(lon, lat float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	if x < 0 {
		x = 0
	}
	if x > maxTile {
		x = maxTile
	}
	if y < 0 {
		y = 0
	}
	if y > maxTile {
		y = maxTile
	}
	return
}

// TileUpperLeft returns the WGS84 lon/lat of the upper-left corner of the
// tile (x, y) at the given zoom level.
func TileUpperLeft(x, y, z int) (lon, lat float64) {
	n := math.Pow(2, float64(z))
	lon = float64(x)/n*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*float64(y)/n))) * 180.0 / math.Pi
	return
}

// TileBounds returns the WGS84 bounding box of a tile at the given zoom level.
func TileBounds(z, x, y int) (minLon, minLat, maxLon, maxLat float64) {
	minLon, maxLat = TileUpperLeft(x, y, z)
	maxLon, minLat = TileUpperLeft(x+1, y+1, z)
	return
}

// TileMercatorBounds returns the Web Mercator (meters) bounds of a tile:
// the upper-left corner of (x, y) and the upper-left corner of (x+1, y+1),
// which is the tile's lower-right corner.
func TileMercatorBounds(z, x, y int) (ulx, uly, lrx, lry float64) {
	var m WebMercatorProj
	lon, lat := TileUpperLeft(x, y, z)
	ulx, uly = m.FromWGS84(lon, lat)
	lon, lat = TileUpperLeft(x+1, y+1, z)
	lrx, lry = m.FromWGS84(lon, lat)
	return
}
