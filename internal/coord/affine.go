package coord

// Affine is a 2D affine transform in the GDAL/world-file parameter order:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// For north-up rasters B and D are zero and E is negative.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps pixel (col, row) to CRS coordinates.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps CRS coordinates back to pixel (col, row). Only axis-aligned
// (north-up) transforms are supported; rotated rasters are rejected at open.
func (t Affine) Invert(x, y float64) (col, row float64) {
	return (x - t.C) / t.A, (y - t.F) / t.E
}

// TransformFromBounds builds the north-up transform that maps pixel (0,0)
// to the upper-left corner (west, north) and pixel (width, height) to the
// lower-right corner (east, south).
func TransformFromBounds(west, south, east, north float64, width, height int) Affine {
	return Affine{
		A: (east - west) / float64(width),
		C: west,
		E: (south - north) / float64(height),
		F: north,
	}
}
