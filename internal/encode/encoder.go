package encode

import (
	"fmt"
	"image"
)

// Encoder encodes an image into tile bytes.
type Encoder interface {
	// Encode encodes an image to bytes in the tile format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name used in MBTiles metadata (e.g. "jpg", "png").
	Format() string

	// SupportsAlpha reports whether the format can carry an alpha channel.
	SupportsAlpha() bool

	// FileExtension returns the appropriate file extension.
	FileExtension() string
}

// NewEncoder creates an encoder for the given format and quality.
func NewEncoder(format string, quality int) (Encoder, error) {
	switch format {
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "png":
		return &PNGEncoder{}, nil
	case "webp":
		return newWebPEncoder(quality)
	default:
		return nil, fmt.Errorf("unsupported tile format: %q (supported: jpeg, png, webp)", format)
	}
}
