package raster

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
)

// WorldFile holds the six parameters of an ESRI world file sidecar
// (.wld, .tfw, .pgw, .jgw, ...).
//
// Line 1: pixel width (x-component of pixel size)
// Line 2: rotation about y-axis (typically 0)
// Line 3: rotation about x-axis (typically 0)
// Line 4: pixel height (y-component, typically negative for north-up)
// Line 5: x-coordinate of the center of the upper-left pixel
// Line 6: y-coordinate of the center of the upper-left pixel
type WorldFile struct {
	PixelSizeX float64
	RotationY  float64
	RotationX  float64
	PixelSizeY float64
	OriginX    float64
	OriginY    float64
}

// parseWorldFile reads a world file from the given path.
func parseWorldFile(path string) (*WorldFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading world file %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 6 {
		return nil, fmt.Errorf("world file %s: expected 6 lines, got %d", path, len(lines))
	}

	vals := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(lines[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("world file %s line %d: %w", path, i+1, err)
		}
		vals[i] = v
	}

	wf := &WorldFile{
		PixelSizeX: vals[0],
		RotationY:  vals[1],
		RotationX:  vals[2],
		PixelSizeY: vals[3],
		OriginX:    vals[4],
		OriginY:    vals[5],
	}

	if wf.RotationX != 0 || wf.RotationY != 0 {
		return nil, fmt.Errorf("world file %s: rotated rasters are not supported (rotation: %f, %f)",
			path, wf.RotationX, wf.RotationY)
	}
	if wf.PixelSizeX == 0 || wf.PixelSizeY == 0 {
		return nil, fmt.Errorf("world file %s: zero pixel size", path)
	}

	return wf, nil
}

// findWorldFile looks for a world file sidecar alongside the given image path.
// Format-specific extensions (.tfw for .tif, .pgw for .png, .jgw for .jpg)
// are tried first, then the generic .wld.
func findWorldFile(imagePath string) string {
	ext := strings.ToLower(filepath.Ext(imagePath))
	base := imagePath[:len(imagePath)-len(filepath.Ext(imagePath))]

	var candidates []string
	switch ext {
	case ".tif", ".tiff":
		candidates = []string{".tfw", ".tifw"}
	case ".png":
		candidates = []string{".pgw", ".pngw"}
	case ".jpg", ".jpeg":
		candidates = []string{".jgw", ".jpgw"}
	case ".bmp":
		candidates = []string{".bpw", ".bmpw"}
	}
	candidates = append(candidates, ".wld")

	for _, c := range candidates {
		for _, v := range []string{c, strings.ToUpper(c)} {
			p := base + v
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// toAffine converts world-file parameters into a pixel→CRS transform.
// The world-file origin is the center of the upper-left pixel; the transform
// origin is the pixel's top-left corner, which is what the rest of the
// pipeline expects.
func (wf *WorldFile) toAffine() coord.Affine {
	return coord.Affine{
		A: wf.PixelSizeX,
		C: wf.OriginX - wf.PixelSizeX/2,
		E: wf.PixelSizeY,
		F: wf.OriginY - wf.PixelSizeY/2,
	}
}

// inferEPSG guesses the EPSG code from the coordinate ranges of the
// georeferenced extent. Coordinates that look like geographic lon/lat map to
// EPSG:4326; coordinates within the Mercator square map to EPSG:3857.
func inferEPSG(tr coord.Affine, width, height int) int {
	maxX := tr.C + float64(width)*tr.A
	minY := tr.F + float64(height)*tr.E

	if tr.C >= -180 && maxX <= 360 && minY >= -90 && tr.F <= 90 {
		return 4326
	}
	if math.Abs(tr.C) <= coord.OriginShift+1 && math.Abs(tr.F) <= coord.OriginShift+1 {
		return 3857
	}
	return 4326
}
