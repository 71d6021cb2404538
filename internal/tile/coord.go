// Package tile implements the tile-pyramid export pipeline: zoom inference,
// tile enumeration, per-tile reprojection with an empty-tile cache, and the
// bounded worker pool that drives it all.
package tile

import "fmt"

// Coord identifies a tile in the XYZ scheme (north-origin row numbering).
// Identity is the triple itself; coordinates are zero-based with
// 0 ≤ x,y < 2^z.
type Coord struct {
	X, Y, Z int
}

func (c Coord) Valid() bool {
	return c.Z >= 0 && c.Z < 32 &&
		c.X >= 0 && c.X < (1<<c.Z) &&
		c.Y >= 0 && c.Y < (1<<c.Z)
}

// FlippedRow returns the MBTiles tile_row for this coordinate. MBTiles 1.1
// numbers rows from the south, so the north-origin y is flipped exactly once
// at write time: row = 2^z - y - 1.
func (c Coord) FlippedRow() int {
	return (1 << c.Z) - c.Y - 1
}

func (c Coord) String() string {
	return fmt.Sprintf("z%d/%d/%d", c.Z, c.X, c.Y)
}
