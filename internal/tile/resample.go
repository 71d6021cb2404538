package tile

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
	"github.com/pspoerri/raster2mbtiles/internal/raster"
)

var (
	// ErrUnsupportedResampling rejects unknown resampling method names. It
	// fires during configuration, before any tile work starts.
	ErrUnsupportedResampling = errors.New("unsupported resampling method")

	// ErrResampling marks a per-tile resampling failure. Fatal to the run:
	// there is no partial-tile retry.
	ErrResampling = errors.New("resampling failed")
)

// Resampling selects the interpolation used when warping source pixels into
// a tile.
type Resampling int

const (
	ResamplingNearest Resampling = iota
	ResamplingBilinear
	ResamplingCubic
)

// ParseResampling resolves a method name from the command line.
func ParseResampling(s string) (Resampling, error) {
	switch s {
	case "nearest":
		return ResamplingNearest, nil
	case "bilinear":
		return ResamplingBilinear, nil
	case "cubic":
		return ResamplingCubic, nil
	default:
		return 0, fmt.Errorf("%w: %q (supported: nearest, bilinear, cubic)", ErrUnsupportedResampling, s)
	}
}

func (r Resampling) String() string {
	switch r {
	case ResamplingNearest:
		return "nearest"
	case ResamplingBilinear:
		return "bilinear"
	case ResamplingCubic:
		return "cubic"
	default:
		return "unknown"
	}
}

// Engine warps source raster bands into a destination tile buffer described
// by a north-up affine transform in Web Mercator meters. It reports whether
// any destination pixel received data.
type Engine interface {
	Warp(src *raster.Source, dst *image.NRGBA, dstTransform coord.Affine, p Profile, method Resampling) (hasData bool, err error)
}

// NewWarpEngine returns the built-in inverse-mapping resampling engine.
func NewWarpEngine() Engine {
	return &warpEngine{}
}

type warpEngine struct{}

func (e *warpEngine) Warp(src *raster.Source, dst *image.NRGBA, dstT coord.Affine, p Profile, method Resampling) (bool, error) {
	w := dst.Rect.Dx()
	h := dst.Rect.Dy()
	if w <= 0 || h <= 0 {
		return false, fmt.Errorf("empty destination buffer")
	}

	nd := clampByte(destNodata(p))
	missing := color.NRGBA{R: nd, G: nd, B: nd, A: 255}
	if p.Bands == 4 {
		missing.A = nd
	}
	fillNRGBA(dst, missing)

	if handled := e.warpAligned(src, dst, dstT, method); handled {
		return true, nil
	}

	srcT := src.Transform()
	srcProj := src.Projection()
	srcW, srcH := src.Size()
	var merc coord.WebMercatorProj

	hasData := false
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			// Inverse mapping: destination pixel center → Mercator meters →
			// WGS84 → source CRS → fractional source pixel.
			mx, my := dstT.Apply(float64(col)+0.5, float64(row)+0.5)
			lon, lat := merc.ToWGS84(mx, my)
			sx, sy := srcProj.FromWGS84(lon, lat)
			fc, fr := srcT.Invert(sx, sy)

			if fc < 0 || fr < 0 || fc >= float64(srcW) || fr >= float64(srcH) {
				continue
			}

			c, ok := sampleKernel(src, fc, fr, method)
			if !ok {
				continue
			}
			if p.Bands == 3 {
				c.A = 255
			}
			dst.SetNRGBA(col, row, c)
			hasData = true
		}
	}
	return hasData, nil
}

// destNodata resolves the fill value for uncovered destination pixels.
func destNodata(p Profile) float64 {
	if p.DstNodata != nil {
		return *p.DstNodata
	}
	return p.Nodata
}

// alignEps is the tolerance for treating a fractional source coordinate as
// sitting on a pixel boundary.
const alignEps = 1e-6

// warpAligned is the fast path for sources already in Web Mercator: the warp
// degenerates to an axis-aligned crop and resize, which imaging does far
// faster than per-pixel inverse mapping. Only taken when the tile footprint
// sits on source pixel boundaries inside a fully-valid (no nodata, no alpha)
// source; a fractional footprint would be shifted by up to one source pixel
// when snapped to the integer crop rect, so it falls back to inverse mapping.
func (e *warpEngine) warpAligned(src *raster.Source, dst *image.NRGBA, dstT coord.Affine, method Resampling) bool {
	if src.Projection().EPSG() != 3857 {
		return false
	}
	if _, ok := src.Nodata(); ok {
		return false
	}
	if src.Bands() == 4 {
		return false
	}

	w := dst.Rect.Dx()
	h := dst.Rect.Dy()
	ulx, uly := dstT.Apply(0, 0)
	lrx, lry := dstT.Apply(float64(w), float64(h))

	srcT := src.Transform()
	c0, r0 := srcT.Invert(ulx, uly)
	c1, r1 := srcT.Invert(lrx, lry)
	if c1 < c0 {
		c0, c1 = c1, c0
	}
	if r1 < r0 {
		r0, r1 = r1, r0
	}
	if !nearIntegral(c0) || !nearIntegral(r0) || !nearIntegral(c1) || !nearIntegral(r1) {
		return false
	}

	ic0 := int(math.Round(c0))
	ir0 := int(math.Round(r0))
	ic1 := int(math.Round(c1))
	ir1 := int(math.Round(r1))

	srcW, srcH := src.Size()
	if ic0 < 0 || ir0 < 0 || ic1 > srcW || ir1 > srcH {
		return false
	}

	rect := image.Rect(ic0, ir0, ic1, ir1)
	if rect.Dx() < 2 || rect.Dy() < 2 {
		return false
	}

	win := src.Window(rect)
	resized := imaging.Resize(win, w, h, imagingFilter(method))
	draw.Draw(dst, dst.Rect, resized, resized.Bounds().Min, draw.Src)
	return true
}

func nearIntegral(v float64) bool {
	return math.Abs(v-math.Round(v)) <= alignEps
}

func imagingFilter(method Resampling) imaging.ResampleFilter {
	switch method {
	case ResamplingBilinear:
		return imaging.Linear
	case ResamplingCubic:
		return imaging.CatmullRom
	default:
		return imaging.NearestNeighbor
	}
}

func sampleKernel(src *raster.Source, fx, fy float64, method Resampling) (color.NRGBA, bool) {
	switch method {
	case ResamplingBilinear:
		return sampleBilinear(src, fx, fy)
	case ResamplingCubic:
		return sampleCubic(src, fx, fy)
	default:
		return sampleNearest(src, fx, fy)
	}
}

// sampleNearest reads the source pixel containing the point.
func sampleNearest(src *raster.Source, fx, fy float64) (color.NRGBA, bool) {
	c, ok := src.Sample(int(fx), int(fy))
	if !ok || src.IsNodata(c) {
		return color.NRGBA{}, false
	}
	return c, true
}

// sampleBilinear interpolates the four pixels around the point. Nodata
// neighbors are excluded from the color interpolation so they don't bleed
// dark values into the result; alpha keeps the full bilinear weights so data
// edges fade smoothly.
func sampleBilinear(src *raster.Source, fx, fy float64) (color.NRGBA, bool) {
	srcW, srcH := src.Size()

	cx := fx - 0.5
	cy := fy - 0.5
	x0 := int(math.Floor(cx))
	y0 := int(math.Floor(cy))
	dx := cx - math.Floor(cx)
	dy := cy - math.Floor(cy)

	xs := [2]int{clampInt(x0, 0, srcW-1), clampInt(x0+1, 0, srcW-1)}
	ys := [2]int{clampInt(y0, 0, srcH-1), clampInt(y0+1, 0, srcH-1)}
	weights := [4]float64{
		(1 - dx) * (1 - dy),
		dx * (1 - dy),
		(1 - dx) * dy,
		dx * dy,
	}

	var rSum, gSum, bSum, aSum, wSum float64
	for i := 0; i < 4; i++ {
		px := xs[i%2]
		py := ys[i/2]
		c, _ := src.Sample(px, py)
		if src.IsNodata(c) {
			continue // alpha contribution is 0, color weight dropped
		}
		w := weights[i]
		rSum += w * float64(c.R)
		gSum += w * float64(c.G)
		bSum += w * float64(c.B)
		aSum += w * float64(c.A)
		wSum += w
	}
	if wSum == 0 {
		return color.NRGBA{}, false
	}

	return color.NRGBA{
		R: clampByte(rSum / wSum),
		G: clampByte(gSum / wSum),
		B: clampByte(bSum / wSum),
		A: clampByte(aSum),
	}, true
}

// sampleCubic interpolates a 4×4 neighborhood with the Catmull-Rom kernel.
// Nodata pixels are weight-zeroed and the remaining weights renormalized.
func sampleCubic(src *raster.Source, fx, fy float64) (color.NRGBA, bool) {
	srcW, srcH := src.Size()

	cx := fx - 0.5
	cy := fy - 0.5
	x1 := int(math.Floor(cx))
	y1 := int(math.Floor(cy))

	var wx, wy [4]float64
	var xs, ys [4]int
	for k := 0; k < 4; k++ {
		xk := x1 - 1 + k
		yk := y1 - 1 + k
		wx[k] = catmullRom(cx - float64(xk))
		wy[k] = catmullRom(cy - float64(yk))
		xs[k] = clampInt(xk, 0, srcW-1)
		ys[k] = clampInt(yk, 0, srcH-1)
	}

	var rSum, gSum, bSum, aSum, wSum float64
	for j := 0; j < 4; j++ {
		for i := 0; i < 4; i++ {
			w := wx[i] * wy[j]
			if w == 0 {
				continue
			}
			c, _ := src.Sample(xs[i], ys[j])
			if src.IsNodata(c) {
				continue
			}
			rSum += w * float64(c.R)
			gSum += w * float64(c.G)
			bSum += w * float64(c.B)
			aSum += w * float64(c.A)
			wSum += w
		}
	}
	if wSum <= 0 {
		return color.NRGBA{}, false
	}

	return color.NRGBA{
		R: clampByte(rSum / wSum),
		G: clampByte(gSum / wSum),
		B: clampByte(bSum / wSum),
		A: clampByte(aSum / wSum),
	}, true
}

// catmullRom is the cubic convolution kernel with a = -0.5.
func catmullRom(d float64) float64 {
	d = math.Abs(d)
	switch {
	case d <= 1:
		return 1.5*d*d*d - 2.5*d*d + 1
	case d < 2:
		return -0.5*d*d*d + 2.5*d*d - 4*d + 2
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
