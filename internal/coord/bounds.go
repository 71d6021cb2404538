package coord

import "math"

// lonEpsilon keeps clamped bounds strictly inside (-180, 180) so that tile
// index arithmetic never lands on the antimeridian singularity.
const lonEpsilon = 1e-10

// GeodeticBounds is a WGS84 bounding box in degrees: west < east,
// south < north. Values are expected to be clamped to the Web Mercator
// valid range before tile enumeration.
type GeodeticBounds struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Width returns the longitudinal extent in degrees.
func (b GeodeticBounds) Width() float64 { return b.East - b.West }

// Height returns the latitudinal extent in degrees.
func (b GeodeticBounds) Height() float64 { return b.North - b.South }

// CenterLat returns the latitude of the bounds' center.
func (b GeodeticBounds) CenterLat() float64 { return (b.South + b.North) / 2.0 }

// Valid reports whether the bounds describe a finite, non-degenerate box.
func (b GeodeticBounds) Valid() bool {
	for _, v := range [4]float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.West < b.East && b.South < b.North
}

// ClampToMercatorLimits clamps bounds to the valid spherical Mercator range:
// latitude to ±MercatorLatLimit, longitude strictly inside ±180. It never
// fails; degenerate input produces degenerate (but in-range) output.
func ClampToMercatorLimits(b GeodeticBounds) GeodeticBounds {
	return GeodeticBounds{
		West:  math.Max(-180.0+lonEpsilon, b.West),
		South: math.Max(-MercatorLatLimit, b.South),
		East:  math.Min(180.0-lonEpsilon, b.East),
		North: math.Min(MercatorLatLimit, b.North),
	}
}
