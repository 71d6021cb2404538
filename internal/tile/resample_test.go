package tile

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
	"github.com/pspoerri/raster2mbtiles/internal/raster"
)

func uniformNRGBA(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func worldSource(t *testing.T, img image.Image, west, south, east, north float64, epsg int, nodata *float64) *raster.Source {
	t.Helper()
	b := img.Bounds()
	tr := coord.TransformFromBounds(west, south, east, north, b.Dx(), b.Dy())
	src, err := raster.NewFromImage(img, tr, epsg, nodata)
	if err != nil {
		t.Fatalf("NewFromImage: %v", err)
	}
	return src
}

func TestParseResampling(t *testing.T) {
	tests := []struct {
		in      string
		want    Resampling
		wantErr bool
	}{
		{"nearest", ResamplingNearest, false},
		{"bilinear", ResamplingBilinear, false},
		{"cubic", ResamplingCubic, false},
		{"lanczos", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseResampling(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseResampling(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrUnsupportedResampling) {
				t.Errorf("ParseResampling(%q) error %v does not wrap ErrUnsupportedResampling", tt.in, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ParseResampling(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWarpUniformWorld(t *testing.T) {
	// A uniform source covering more than the Mercator square: every
	// destination pixel of the zoom 0 tile maps inside it.
	fill := color.NRGBA{R: 100, G: 150, B: 200, A: 255}
	src := worldSource(t, uniformNRGBA(64, 64, fill), -180, -86, 180, 86, 4326, nil)

	p := Profile{TileSize: 256, Bands: 3, Nodata: 0, Format: "png"}
	ulx, uly, lrx, lry := coord.TileMercatorBounds(0, 0, 0)
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)
	dst := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))

	for _, method := range []Resampling{ResamplingNearest, ResamplingBilinear, ResamplingCubic} {
		t.Run(method.String(), func(t *testing.T) {
			hasData, err := NewWarpEngine().Warp(src, dst, dstT, p, method)
			if err != nil {
				t.Fatalf("Warp: %v", err)
			}
			if !hasData {
				t.Fatal("hasData = false for a fully covered tile")
			}
			for _, pt := range []image.Point{{0, 0}, {128, 128}, {255, 255}, {17, 240}} {
				if got := dst.NRGBAAt(pt.X, pt.Y); got != fill {
					t.Errorf("pixel %v = %v, want %v", pt, got, fill)
				}
			}
		})
	}
}

func TestWarpMercatorFastPath(t *testing.T) {
	// A Web Mercator source exactly covering the zoom 0 tile with no nodata
	// and no alpha takes the crop-and-resize path; the output must still be
	// uniform.
	fill := color.NRGBA{R: 30, G: 60, B: 90, A: 255}
	ulx, uly, lrx, lry := coord.TileMercatorBounds(0, 0, 0)
	src := worldSource(t, uniformNRGBA(64, 64, fill), ulx, lry, lrx, uly, 3857, nil)

	p := Profile{TileSize: 256, Bands: 3, Nodata: 0, Format: "png"}
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)
	dst := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))

	hasData, err := NewWarpEngine().Warp(src, dst, dstT, p, ResamplingBilinear)
	if err != nil {
		t.Fatalf("Warp: %v", err)
	}
	if !hasData {
		t.Fatal("hasData = false")
	}
	for _, pt := range []image.Point{{0, 0}, {100, 30}, {255, 255}} {
		if got := dst.NRGBAAt(pt.X, pt.Y); got != fill {
			t.Errorf("pixel %v = %v, want %v", pt, got, fill)
		}
	}
}

// gradientNRGBA builds an opaque image whose red channel encodes the column
// and green channel the row, so any geometric shift shows up in pixel values.
func gradientNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 0, A: 255})
		}
	}
	return img
}

func TestWarpFractionalFootprintMatchesInverseMapping(t *testing.T) {
	// A Web Mercator source positioned so tile (1,1,2) covers the fractional
	// pixel window 3.95..13.95 on both axes. Snapping that window to whole
	// pixels would shift the content by nearly a full source pixel, so the
	// crop-and-resize shortcut must not be taken; the output has to agree
	// with the inverse-mapping result exactly.
	ulx, uly, lrx, lry := coord.TileMercatorBounds(2, 1, 1)
	pw := (lrx - ulx) / 10

	img := gradientNRGBA(16, 16)
	tr := coord.Affine{A: pw, C: ulx - 3.95*pw, E: -pw, F: uly + 3.95*pw}

	fast, err := raster.NewFromImage(img, tr, 3857, nil)
	if err != nil {
		t.Fatalf("NewFromImage: %v", err)
	}
	// An unused nodata value forces the per-pixel path without changing
	// which samples are valid.
	nd := 250.0
	ref, err := raster.NewFromImage(img, tr, 3857, &nd)
	if err != nil {
		t.Fatalf("NewFromImage: %v", err)
	}

	p := Profile{TileSize: 64, Bands: 3, Nodata: 0, Format: "png"}
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)

	for _, method := range []Resampling{ResamplingNearest, ResamplingBilinear, ResamplingCubic} {
		t.Run(method.String(), func(t *testing.T) {
			dstFast := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))
			dstRef := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))

			if _, err := NewWarpEngine().Warp(fast, dstFast, dstT, p, method); err != nil {
				t.Fatalf("Warp: %v", err)
			}
			if _, err := NewWarpEngine().Warp(ref, dstRef, dstT, p, method); err != nil {
				t.Fatalf("Warp reference: %v", err)
			}

			var mismatches int
			for y := 0; y < p.TileSize; y++ {
				for x := 0; x < p.TileSize; x++ {
					if dstFast.NRGBAAt(x, y) != dstRef.NRGBAAt(x, y) {
						if mismatches == 0 {
							t.Errorf("first mismatch at (%d,%d): got %v, want %v",
								x, y, dstFast.NRGBAAt(x, y), dstRef.NRGBAAt(x, y))
						}
						mismatches++
					}
				}
			}
			if mismatches > 0 {
				t.Errorf("%d of %d pixels misregistered", mismatches, p.TileSize*p.TileSize)
			}
		})
	}
}

func TestWarpAlignedFootprintKeepsRegistration(t *testing.T) {
	// Footprint exactly on pixel boundaries (columns/rows 4..12): the
	// shortcut applies, and output blocks must line up with the source
	// gradient with no shift.
	ulx, uly, lrx, lry := coord.TileMercatorBounds(2, 1, 1)
	pw := (lrx - ulx) / 8

	tr := coord.Affine{A: pw, C: ulx - 4*pw, E: -pw, F: uly + 4*pw}
	src, err := raster.NewFromImage(gradientNRGBA(16, 16), tr, 3857, nil)
	if err != nil {
		t.Fatalf("NewFromImage: %v", err)
	}

	p := Profile{TileSize: 64, Bands: 3, Nodata: 0, Format: "png"}
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)
	dst := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))

	hasData, err := NewWarpEngine().Warp(src, dst, dstT, p, ResamplingNearest)
	if err != nil {
		t.Fatalf("Warp: %v", err)
	}
	if !hasData {
		t.Fatal("hasData = false")
	}

	// Each source pixel becomes an 8x8 block; sample block centers against
	// the source columns/rows 4..11.
	tests := []struct {
		dstX, dstY     int
		srcCol, srcRow int
	}{
		{3, 3, 4, 4},
		{11, 3, 5, 4},
		{3, 11, 4, 5},
		{35, 35, 8, 8},
		{59, 59, 11, 11},
	}
	for _, tt := range tests {
		want := color.NRGBA{R: uint8(tt.srcCol * 16), G: uint8(tt.srcRow * 16), B: 0, A: 255}
		if got := dst.NRGBAAt(tt.dstX, tt.dstY); got != want {
			t.Errorf("dst(%d,%d) = %v, want source pixel (%d,%d) = %v",
				tt.dstX, tt.dstY, got, tt.srcCol, tt.srcRow, want)
		}
	}
}

func TestWarpAllNodata(t *testing.T) {
	nd := 0.0
	src := worldSource(t, uniformNRGBA(16, 16, color.NRGBA{A: 255}), -180, -86, 180, 86, 4326, &nd)

	p := Profile{TileSize: 64, Bands: 3, Nodata: 7, Format: "png"}
	ulx, uly, lrx, lry := coord.TileMercatorBounds(0, 0, 0)
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)
	dst := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))

	hasData, err := NewWarpEngine().Warp(src, dst, dstT, p, ResamplingNearest)
	if err != nil {
		t.Fatalf("Warp: %v", err)
	}
	if hasData {
		t.Error("hasData = true for an all-nodata source")
	}
	want := color.NRGBA{R: 7, G: 7, B: 7, A: 255}
	if got := dst.NRGBAAt(32, 32); got != want {
		t.Errorf("uncovered pixel = %v, want nodata fill %v", got, want)
	}
}

func TestWarpPartialCoverage(t *testing.T) {
	// Source covers only the western hemisphere; the eastern half of the
	// zoom 0 tile stays at the nodata fill.
	fill := color.NRGBA{R: 200, G: 10, B: 10, A: 255}
	src := worldSource(t, uniformNRGBA(32, 32, fill), -180, -86, 0, 86, 4326, nil)

	p := Profile{TileSize: 256, Bands: 3, Nodata: 0, Format: "png"}
	ulx, uly, lrx, lry := coord.TileMercatorBounds(0, 0, 0)
	dstT := coord.TransformFromBounds(ulx, lry, lrx, uly, p.TileSize, p.TileSize)
	dst := image.NewNRGBA(image.Rect(0, 0, p.TileSize, p.TileSize))

	hasData, err := NewWarpEngine().Warp(src, dst, dstT, p, ResamplingNearest)
	if err != nil {
		t.Fatalf("Warp: %v", err)
	}
	if !hasData {
		t.Fatal("hasData = false")
	}
	if got := dst.NRGBAAt(64, 128); got != fill {
		t.Errorf("western pixel = %v, want %v", got, fill)
	}
	missing := color.NRGBA{A: 255}
	if got := dst.NRGBAAt(192, 128); got != missing {
		t.Errorf("eastern pixel = %v, want %v", got, missing)
	}
}

func TestSampleBilinearInterpolates(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	src := worldSource(t, img, 0, 0, 2, 1, 4326, nil)

	// Halfway between the two pixel centers.
	c, ok := sampleBilinear(src, 1.0, 0.5)
	if !ok {
		t.Fatal("ok = false")
	}
	if c.R != 50 || c.G != 50 || c.B != 50 {
		t.Errorf("got %v, want midpoint gray 50", c)
	}
}

func TestSampleNearestRejectsNodata(t *testing.T) {
	nd := 42.0
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 42, G: 42, B: 42, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 9, G: 9, B: 9, A: 255})
	src := worldSource(t, img, 0, 0, 2, 1, 4326, &nd)

	if _, ok := sampleNearest(src, 0.5, 0.5); ok {
		t.Error("nodata pixel accepted")
	}
	c, ok := sampleNearest(src, 1.5, 0.5)
	if !ok || c.R != 9 {
		t.Errorf("valid pixel: got %v ok=%v", c, ok)
	}
}

func TestSampleCubicUniform(t *testing.T) {
	fill := color.NRGBA{R: 77, G: 88, B: 99, A: 255}
	src := worldSource(t, uniformNRGBA(8, 8, fill), 0, 0, 8, 8, 4326, nil)

	c, ok := sampleCubic(src, 4.3, 4.7)
	if !ok {
		t.Fatal("ok = false")
	}
	if c != fill {
		t.Errorf("got %v, want %v (cubic over uniform field must be identity)", c, fill)
	}
}
