package tile

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// EmptyTileCache memoizes the encoded blank tile per distinct output
// profile, so an export covering regions without data encodes the all-nodata
// image only once. The cache is scoped to one export run and injected into
// the pipeline, never global.
//
// Construction is single-flight: concurrent first callers for the same
// profile wait for one encoder run instead of racing. The cached bytes are
// immutable, so handing the same slice to many callers is safe.
type EmptyTileCache struct {
	mu     sync.RWMutex
	tiles  map[uint64][]byte
	group  singleflight.Group
	builds atomic.Int64
}

func NewEmptyTileCache() *EmptyTileCache {
	return &EmptyTileCache{tiles: make(map[uint64][]byte)}
}

// Get returns the encoded blank tile for the profile, synthesizing and
// encoding it on first use.
func (c *EmptyTileCache) Get(p Profile) ([]byte, error) {
	key := p.Key()

	c.mu.RLock()
	data, ok := c.tiles[key]
	c.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		c.mu.RLock()
		data, ok := c.tiles[key]
		c.mu.RUnlock()
		if ok {
			return data, nil
		}

		data, err := encodeEmptyTile(p)
		if err != nil {
			return nil, fmt.Errorf("encoding empty tile: %w", err)
		}
		c.builds.Add(1)

		c.mu.Lock()
		c.tiles[key] = data
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Builds returns how many distinct empty tiles have been constructed.
func (c *EmptyTileCache) Builds() int64 {
	return c.builds.Load()
}

// encodeEmptyTile synthesizes a zero-data image of the profile's dimensions
// and band count, every sample set to the nodata value, and encodes it.
func encodeEmptyTile(p Profile) ([]byte, error) {
	enc, err := p.Encoder()
	if err != nil {
		return nil, err
	}
	return enc.Encode(emptyImage(p))
}

func emptyImage(p Profile) image.Image {
	nd := clampByte(p.Nodata)
	rect := image.Rect(0, 0, p.TileSize, p.TileSize)
	if p.Bands == 4 {
		img := image.NewNRGBA(rect)
		fillNRGBA(img, color.NRGBA{R: nd, G: nd, B: nd, A: nd})
		return img
	}
	img := image.NewNRGBA(rect)
	fillNRGBA(img, color.NRGBA{R: nd, G: nd, B: nd, A: 255})
	return img
}

func fillNRGBA(img *image.NRGBA, c color.NRGBA) {
	pix := img.Pix
	for i := 0; i < len(pix); i += 4 {
		pix[i] = c.R
		pix[i+1] = c.G
		pix[i+2] = c.B
		pix[i+3] = c.A
	}
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
