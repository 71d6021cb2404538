// Package raster provides read-only access to a georeferenced raster image:
// pixel sampling, geodetic bounds, and the whole-dataset data-presence check
// used by the export pipeline. Georeferencing comes from an ESRI world file
// sidecar; the image itself may be PNG, JPEG, TIFF or BMP.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
)

// ErrSourceRead marks an unreadable or malformed input raster. It is fatal
// to the whole export run.
var ErrSourceRead = errors.New("source read error")

// stripRows is the height of one cached conversion strip. Decoded source
// images (YCbCr from JPEG, paletted PNG, ...) are converted to NRGBA in
// strips on demand instead of all at once, bounding peak memory for large
// rasters.
const stripRows = 64

// Source is a read-only handle to a georeferenced raster. It is safe for
// concurrent use once opened: all mutable state lives in the thread-safe
// strip cache, and cached strips are immutable after construction.
type Source struct {
	img       image.Image
	nrgba     *image.NRGBA // non-nil when the decoded image is already NRGBA
	width     int
	height    int
	bands     int
	hasAlpha  bool
	nodata    *float64
	transform coord.Affine
	proj      coord.Projection
	hasData   bool

	strips *lru.Cache[int, *image.NRGBA]
}

// Open decodes the raster at path and its world file sidecar. epsg selects
// the source CRS; 0 infers it from the georeferenced extent. nodata
// overrides the sentinel pixel value (nil means no explicit nodata; alpha
// zero then counts as "no data" for sources with an alpha channel).
func Open(path string, epsg int, nodata *float64) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrSourceRead, path, err)
	}

	wfPath := findWorldFile(path)
	if wfPath == "" {
		return nil, fmt.Errorf("%w: no world file found for %s", ErrSourceRead, path)
	}
	wf, err := parseWorldFile(wfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
	}
	tr := wf.toAffine()

	if epsg == 0 {
		b := img.Bounds()
		epsg = inferEPSG(tr, b.Dx(), b.Dy())
	}

	return NewFromImage(img, tr, epsg, nodata)
}

// NewFromImage wraps an already decoded image as a Source. Used by tests
// and by callers that synthesize rasters in memory.
func NewFromImage(img image.Image, tr coord.Affine, epsg int, nodata *float64) (*Source, error) {
	proj := coord.ForEPSG(epsg)
	if proj == nil {
		return nil, fmt.Errorf("%w: unsupported EPSG code: %d", ErrSourceRead, epsg)
	}
	if tr.A == 0 || tr.E == 0 {
		return nil, fmt.Errorf("%w: degenerate geotransform", ErrSourceRead)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrSourceRead)
	}

	s := &Source{
		img:       img,
		width:     b.Dx(),
		height:    b.Dy(),
		nodata:    nodata,
		transform: tr,
		proj:      proj,
	}

	s.hasAlpha = imageHasAlpha(img)
	if s.hasAlpha {
		s.bands = 4
	} else {
		s.bands = 3
	}

	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		s.nrgba = n
	} else {
		numStrips := (s.height + stripRows - 1) / stripRows
		capEntries := numStrips
		if capEntries > 256 {
			capEntries = 256
		}
		if capEntries < 8 {
			capEntries = 8
		}
		cache, err := lru.New[int, *image.NRGBA](capEntries)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceRead, err)
		}
		s.strips = cache
	}

	s.hasData = s.scanForData()
	return s, nil
}

func imageHasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	switch img.(type) {
	case *image.NRGBA, *image.RGBA, *image.NRGBA64, *image.RGBA64, *image.NYCbCrA:
		return true
	}
	return false
}

// Size returns the pixel dimensions of the raster.
func (s *Source) Size() (width, height int) { return s.width, s.height }

// Bands returns 4 for sources with an alpha channel, 3 otherwise.
func (s *Source) Bands() int { return s.bands }

// Nodata returns the explicit nodata value, if any.
func (s *Source) Nodata() (float64, bool) {
	if s.nodata == nil {
		return 0, false
	}
	return *s.nodata, true
}

// Transform returns the pixel→CRS affine transform.
func (s *Source) Transform() coord.Affine { return s.transform }

// Projection returns the source CRS projection.
func (s *Source) Projection() coord.Projection { return s.proj }

// HasData reports whether the dataset contains any non-nodata sample
// anywhere. This is the whole-dataset check the reprojector uses for its
// empty-source short circuit; it is computed once at open time.
func (s *Source) HasData() bool { return s.hasData }

// BoundsWGS84 returns the geodetic bounding box of the raster extent,
// computed by projecting all four corners of the pixel grid.
func (s *Source) BoundsWGS84() coord.GeodeticBounds {
	corners := [4][2]float64{
		{0, 0},
		{float64(s.width), 0},
		{0, float64(s.height)},
		{float64(s.width), float64(s.height)},
	}
	west, south := math.Inf(1), math.Inf(1)
	east, north := math.Inf(-1), math.Inf(-1)
	for _, c := range corners {
		x, y := s.transform.Apply(c[0], c[1])
		lon, lat := s.proj.ToWGS84(x, y)
		west = math.Min(west, lon)
		east = math.Max(east, lon)
		south = math.Min(south, lat)
		north = math.Max(north, lat)
	}
	return coord.GeodeticBounds{West: west, South: south, East: east, North: north}
}

// strip returns the NRGBA conversion of the strip containing row py,
// converting and caching it on first access. Concurrent first accesses may
// convert the same strip twice; the result is identical either way.
func (s *Source) strip(py int) *image.NRGBA {
	idx := py / stripRows
	if v, ok := s.strips.Get(idx); ok {
		return v
	}

	y0 := idx * stripRows
	y1 := y0 + stripRows
	if y1 > s.height {
		y1 = s.height
	}
	min := s.img.Bounds().Min
	rect := image.Rect(0, y0, s.width, y1)
	n := image.NewNRGBA(rect)
	draw.Draw(n, rect, s.img, image.Pt(min.X, min.Y+y0), draw.Src)

	s.strips.Add(idx, n)
	return n
}

// Sample returns the pixel at (px, py) as NRGBA channels. ok is false when
// the coordinates fall outside the pixel grid.
func (s *Source) Sample(px, py int) (c color.NRGBA, ok bool) {
	if px < 0 || py < 0 || px >= s.width || py >= s.height {
		return color.NRGBA{}, false
	}
	if s.nrgba != nil {
		return s.nrgba.NRGBAAt(px, py), true
	}
	return s.strip(py).NRGBAAt(px, py), true
}

// IsNodata reports whether a sampled pixel counts as "no data": every band
// equals the nodata value when one is set, or alpha is zero for sources
// with an alpha channel and no explicit nodata.
func (s *Source) IsNodata(c color.NRGBA) bool {
	if s.nodata != nil {
		nd := clampByte(*s.nodata)
		if s.hasAlpha {
			return c.R == nd && c.G == nd && c.B == nd && c.A == nd
		}
		return c.R == nd && c.G == nd && c.B == nd
	}
	if s.hasAlpha {
		return c.A == 0
	}
	return false
}

// Window copies the given pixel rectangle (clipped to the raster) into a
// standalone NRGBA image. Used by the resampling fast path.
func (s *Source) Window(rect image.Rectangle) *image.NRGBA {
	rect = rect.Intersect(image.Rect(0, 0, s.width, s.height))
	out := image.NewNRGBA(rect)
	if rect.Empty() {
		return out
	}
	min := s.img.Bounds().Min
	draw.Draw(out, rect, s.img, image.Pt(min.X+rect.Min.X, min.Y+rect.Min.Y), draw.Src)
	return out
}

// scanForData walks every pixel looking for one that is not nodata. A
// source with no explicit nodata and no alpha channel trivially has data.
func (s *Source) scanForData() bool {
	if s.nodata == nil && !s.hasAlpha {
		return true
	}
	for py := 0; py < s.height; py++ {
		for px := 0; px < s.width; px++ {
			c, _ := s.Sample(px, py)
			if !s.IsNodata(c) {
				return true
			}
		}
	}
	return false
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
