// Command raster2mbtiles exports a georeferenced raster image to an MBTiles
// tileset: the source is warped into Web Mercator tiles across a zoom range
// and the encoded tiles are written into a single SQLite container.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
	"github.com/pspoerri/raster2mbtiles/internal/mbtiles"
	"github.com/pspoerri/raster2mbtiles/internal/raster"
	"github.com/pspoerri/raster2mbtiles/internal/tile"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		zoomLevels  string
		tileSize    int
		format      string
		quality     int
		resampling  string
		rgba        bool
		srcCRS      int
		srcNodata   string
		dstNodata   string
		workers     int
		imageDump   string
		title       string
		description string
		overlay     bool
		baselayer   bool
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&zoomLevels, "zoom-levels", "", "Zoom range MIN..MAX (default: inferred from the source extent)")
	flag.IntVar(&tileSize, "tile-size", coord.DefaultTileSize, "Output tile size in pixels")
	flag.StringVar(&format, "format", "jpeg", "Tile encoding: jpeg, png, webp")
	flag.IntVar(&quality, "quality", 85, "JPEG/WebP quality 1-100")
	flag.StringVar(&resampling, "resampling", "nearest", "Interpolation method: nearest, bilinear, cubic")
	flag.BoolVar(&rgba, "rgba", false, "Write RGBA tiles (png/webp only)")
	flag.IntVar(&srcCRS, "src-crs", 0, "Source EPSG code (default: inferred from the georeferenced extent)")
	flag.StringVar(&srcNodata, "src-nodata", "", "Source nodata value override")
	flag.StringVar(&dstNodata, "dst-nodata", "", "Destination fill value for pixels without data")
	flag.IntVar(&workers, "j", 0, "Number of parallel workers (default: CPUs - 1)")
	flag.StringVar(&imageDump, "image-dump", "", "Also write each tile as an image file into this directory")
	flag.StringVar(&title, "title", "", "Tileset name metadata (default: input file name)")
	flag.StringVar(&description, "description", "", "Tileset description metadata")
	flag.BoolVar(&overlay, "overlay", false, "Mark the tileset as an overlay (the default)")
	flag.BoolVar(&baselayer, "baselayer", false, "Mark the tileset as a baselayer instead of an overlay")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: raster2mbtiles [flags] <input-raster> <output.mbtiles>\n\n")
		fmt.Fprintf(os.Stderr, "Export a georeferenced raster to an MBTiles tile pyramid.\n\n")
		fmt.Fprintf(os.Stderr, "The input image (PNG, JPEG, TIFF or BMP) must have an ESRI world file\n")
		fmt.Fprintf(os.Stderr, "sidecar (.wld, .pgw, .tfw, ...) for georeferencing.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("raster2mbtiles %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log := newLogger(logLevel)

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	inputPath := args[0]
	outputPath := args[1]

	if !strings.HasSuffix(outputPath, ".mbtiles") {
		log.Fatal().Msg("output file must have .mbtiles extension")
	}

	// Resolve and validate the whole configuration before touching the
	// output path.
	method, err := tile.ParseResampling(resampling)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid resampling method")
	}

	srcND, err := parseNodata(srcNodata)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid src-nodata")
	}
	dstND, err := parseNodata(dstNodata)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid dst-nodata")
	}
	if err := tile.ValidateNodata(dstND, srcND, nil); err != nil {
		log.Fatal().Err(err).Msg("invalid nodata configuration")
	}

	bands := 3
	if rgba {
		bands = 4
	}
	var fill float64
	if srcND != nil {
		fill = *srcND
	}
	profile := tile.Profile{
		TileSize:  tileSize,
		Bands:     bands,
		Nodata:    fill,
		Format:    strings.ToLower(format),
		Quality:   quality,
		SrcNodata: srcND,
		DstNodata: dstND,
	}
	if err := profile.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid export configuration")
	}
	enc, err := profile.Encoder()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid format")
	}

	start := time.Now()
	src, err := raster.Open(inputPath, srcCRS, srcND)
	if err != nil {
		log.Fatal().Err(err).Str("input", inputPath).Msg("opening source raster")
	}
	w, h := src.Size()
	log.Info().
		Str("input", inputPath).
		Int("width", w).
		Int("height", h).
		Int("bands", src.Bands()).
		Int("epsg", src.Projection().EPSG()).
		Msg("source raster opened")

	bounds := coord.ClampToMercatorLimits(src.BoundsWGS84())

	var zooms tile.ZoomRange
	if zoomLevels != "" {
		zooms, err = parseZoomRange(zoomLevels)
	} else {
		zooms, err = tile.ZoomRangeFromBounds(bounds)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("resolving zoom range")
	}
	log.Info().
		Float64("west", bounds.West).
		Float64("south", bounds.South).
		Float64("east", bounds.East).
		Float64("north", bounds.North).
		Int("min_zoom", zooms.Min).
		Int("max_zoom", zooms.Max).
		Msg("export extent")

	if imageDump != "" {
		if err := os.MkdirAll(imageDump, 0o755); err != nil {
			log.Fatal().Err(err).Msg("creating image dump directory")
		}
	}

	if overlay && baselayer {
		log.Fatal().Msg("overlay and baselayer are mutually exclusive")
	}
	layerType := "overlay"
	if baselayer {
		layerType = "baselayer"
	}
	meta := tilesetMetadata(title, description, inputPath, enc.Format(), layerType, bounds)

	writer, err := mbtiles.NewWriter(outputPath, meta)
	if err != nil {
		log.Fatal().Err(err).Str("output", outputPath).Msg("creating output tileset")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := tile.Config{
		Bounds:     bounds,
		Zooms:      zooms,
		Profile:    profile,
		Resampling: method,
		Workers:    workers,
		ImageDump:  imageDump,
		Logger:     log,
	}
	stats, err := tile.Run(ctx, cfg, src, writer)
	if err != nil {
		writer.Abort()
		log.Fatal().Err(err).Msg("tile export failed, output removed")
	}
	if err := writer.Finalize(); err != nil {
		log.Fatal().Err(err).Msg("finalizing output tileset")
	}

	fi, _ := os.Stat(outputPath)
	var size int64
	if fi != nil {
		size = fi.Size()
	}
	log.Info().
		Int64("tiles", stats.TileCount).
		Int64("empty", stats.EmptyTiles).
		Str("size", humanSize(size)).
		Dur("elapsed", time.Since(start).Round(time.Millisecond)).
		Str("output", outputPath).
		Msg("export complete")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// tilesetMetadata applies the metadata defaults: the tileset name falls back
// to the input file name and the description to the input path.
func tilesetMetadata(title, description, inputPath, format, layerType string, bounds coord.GeodeticBounds) mbtiles.Metadata {
	if title == "" {
		title = filepath.Base(inputPath)
	}
	if description == "" {
		description = inputPath
	}
	return mbtiles.Metadata{
		Name:        title,
		Description: description,
		Format:      format,
		Type:        layerType,
		Version:     "1.1",
		Bounds:      bounds,
	}
}

// parseZoomRange parses "MIN..MAX" (or a single "Z") into an inclusive range.
func parseZoomRange(s string) (tile.ZoomRange, error) {
	lo, hi, found := strings.Cut(s, "..")
	if !found {
		hi = lo
	}
	min, err := strconv.Atoi(lo)
	if err != nil {
		return tile.ZoomRange{}, fmt.Errorf("invalid zoom range %q: %v", s, err)
	}
	max, err := strconv.Atoi(hi)
	if err != nil {
		return tile.ZoomRange{}, fmt.Errorf("invalid zoom range %q: %v", s, err)
	}
	if min < 0 || max < min {
		return tile.ZoomRange{}, fmt.Errorf("invalid zoom range %q: want 0 <= MIN <= MAX", s)
	}
	return tile.ZoomRange{Min: min, Max: max}, nil
}

func parseNodata(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid nodata value %q: %v", s, err)
	}
	return &v, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
