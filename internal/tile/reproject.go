package tile

import (
	"fmt"
	"image"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
	"github.com/pspoerri/raster2mbtiles/internal/raster"
)

// Result is the outcome of reprojecting one tile. Empty means "no data at
// this location": the assembler writes a zero-length record so the tileset
// still carries coverage information for the zoom level. Exactly one Result
// is produced per enumerated coordinate.
type Result struct {
	Coord Coord
	Data  []byte
	Empty bool
}

// ReprojectTile produces the encoded image for one tile.
//
// When the source dataset contains no data anywhere — a whole-dataset check,
// not a per-tile footprint test — the cached empty tile is returned without
// invoking the engine. Tiles outside the source extent of a non-empty
// dataset still go through the engine; if the warp touches no source pixel
// the result is Empty.
func ReprojectTile(src *raster.Source, c Coord, p Profile, method Resampling, eng Engine, cache *EmptyTileCache) (Result, error) {
	if !src.HasData() {
		data, err := cache.Get(p)
		if err != nil {
			return Result{}, fmt.Errorf("tile %s: %w", c, err)
		}
		return Result{Coord: c, Data: data}, nil
	}

	// North-up destination transform: pixel (0,0) at the tile's upper-left
	// Mercator corner, pixel (size,size) at its lower-right.
	ulx, uly, lrx, lry := coord.TileMercatorBounds(c.Z, c.X, c.Y)
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)

	dst := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))
	hasData, err := eng.Warp(src, dst, dstT, p, method)
	if err != nil {
		return Result{}, fmt.Errorf("%w: tile %s: %v", ErrResampling, c, err)
	}
	if !hasData {
		return Result{Coord: c, Empty: true}, nil
	}

	enc, err := p.Encoder()
	if err != nil {
		return Result{}, fmt.Errorf("tile %s: %w", c, err)
	}
	data, err := enc.Encode(dst)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding tile %s: %v", ErrResampling, c, err)
	}
	return Result{Coord: c, Data: data}, nil
}
