package tile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
	"github.com/pspoerri/raster2mbtiles/internal/raster"
)

// TileSink receives completed tiles. The pipeline guarantees a single
// goroutine calls WriteTile, so implementations (the SQLite assembler in
// particular) need no internal locking.
type TileSink interface {
	WriteTile(c Coord, data []byte) error
}

// Config holds the export pipeline configuration.
type Config struct {
	Bounds     coord.GeodeticBounds
	Zooms      ZoomRange
	Profile    Profile
	Resampling Resampling
	Workers    int    // 0 = DefaultWorkers()
	ImageDump  string // optional directory for per-tile image files
	Engine     Engine // nil = built-in warp engine
	Logger     zerolog.Logger
}

// Stats holds export statistics.
type Stats struct {
	TileCount  int64
	EmptyTiles int64
	TotalBytes int64
}

// DefaultWorkers is the default concurrency: available parallelism minus
// one, minimum one.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Run reprojects every enumerated tile under a bounded worker pool and
// hands the results to the sink. Each coordinate is processed exactly once;
// completion order is irrelevant because every Result carries its own
// coordinate. The first fatal error stops dispatch, cancels in-flight work
// and is returned; the caller is expected to abort the sink so no partial
// output survives.
func Run(ctx context.Context, cfg Config, src *raster.Source, sink TileSink) (Stats, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return Stats{}, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	eng := cfg.Engine
	if eng == nil {
		eng = NewWarpEngine()
	}
	cache := NewEmptyTileCache()

	total := Count(cfg.Bounds, cfg.Zooms)
	cfg.Logger.Info().
		Int("min_zoom", cfg.Zooms.Min).
		Int("max_zoom", cfg.Zooms.Max).
		Int64("tiles", total).
		Int("workers", workers).
		Msg("starting tile export")

	var tileCount, emptyCount, totalBytes atomic.Int64

	// Per-zoom tile totals, so the writer can report each completed level.
	zoomTotals := make(map[int]int64)
	for z := cfg.Zooms.Min; z <= cfg.Zooms.Max; z++ {
		minX, minY, maxX, maxY := tileSpan(cfg.Bounds, z)
		zoomTotals[z] = int64(maxX-minX+1) * int64(maxY-minY+1)
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan Coord, workers*2)
	results := make(chan Result, workers*2)

	// Feeder: walks the enumerator, stops as soon as any worker fails.
	g.Go(func() error {
		defer close(jobs)
		for c := range Enumerate(cfg.Bounds, cfg.Zooms) {
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case jobs <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workerWG sync.WaitGroup
	workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			defer workerWG.Done()
			for c := range jobs {
				res, err := ReprojectTile(src, c, cfg.Profile, cfg.Resampling, eng, cache)
				if err != nil {
					return err
				}
				select {
				case results <- res:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workerWG.Wait()
		close(results)
	}()

	// A wholly empty source produces cache-served blank rows; those are
	// recorded in the container but not worth dumping as image files.
	dump := cfg.ImageDump != "" && src.HasData()

	// Single writer: the only goroutine touching the sink.
	g.Go(func() error {
		var done int64
		zoomDone := make(map[int]int64)
		for res := range results {
			tileCount.Add(1)
			if res.Empty {
				emptyCount.Add(1)
			} else {
				totalBytes.Add(int64(len(res.Data)))
			}

			if dump && !res.Empty {
				if err := dumpImage(cfg.ImageDump, res, cfg.Profile); err != nil {
					return err
				}
			}

			data := res.Data
			if res.Empty {
				data = nil
			}
			if err := sink.WriteTile(res.Coord, data); err != nil {
				return fmt.Errorf("writing tile %s: %w", res.Coord, err)
			}

			done++
			zoomDone[res.Coord.Z]++
			if zoomDone[res.Coord.Z] == zoomTotals[res.Coord.Z] {
				cfg.Logger.Info().
					Int("zoom", res.Coord.Z).
					Int64("tiles", zoomTotals[res.Coord.Z]).
					Msg("zoom level complete")
			}
			if done%1000 == 0 {
				cfg.Logger.Debug().Int64("done", done).Int64("total", total).Msg("export progress")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TileCount:  tileCount.Load(),
		EmptyTiles: emptyCount.Load(),
		TotalBytes: totalBytes.Load(),
	}
	cfg.Logger.Info().
		Int64("tiles", stats.TileCount).
		Int64("empty", stats.EmptyTiles).
		Int64("bytes", stats.TotalBytes).
		Msg("tile export complete")
	return stats, nil
}

// dumpImage writes one tile image into the dump directory, named
// column-row-zoom with the flipped (MBTiles) row, matching the container's
// addressing.
func dumpImage(dir string, res Result, p Profile) error {
	enc, err := p.Encoder()
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%d-%d-%d%s", res.Coord.X, res.Coord.FlippedRow(), res.Coord.Z, enc.FileExtension())
	if err := os.WriteFile(filepath.Join(dir, name), res.Data, 0o644); err != nil {
		return fmt.Errorf("dumping tile %s: %w", res.Coord, err)
	}
	return nil
}
