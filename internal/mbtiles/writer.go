// Package mbtiles assembles an MBTiles 1.1 tileset: a SQLite container with
// a metadata table and a tiles table holding one encoded image blob per tile.
package mbtiles

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/pspoerri/raster2mbtiles/internal/coord"
	"github.com/pspoerri/raster2mbtiles/internal/tile"
)

// ErrOutputWrite marks a failure creating or writing the output container.
var ErrOutputWrite = errors.New("output write error")

// Metadata holds the tileset descriptors written to the metadata table.
type Metadata struct {
	Name        string
	Description string
	Format      string // "png", "jpg" or "webp"
	Type        string // "overlay" or "baselayer"
	Version     string
	Bounds      coord.GeodeticBounds
}

const schema = `
CREATE TABLE metadata (name text, value text);
CREATE TABLE tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);
CREATE UNIQUE INDEX tile_index ON tiles (zoom_level, tile_column, tile_row);
`

// Writer writes one MBTiles file inside a single transaction: either
// Finalize commits every tile at once, or Abort leaves nothing behind. The
// pipeline serializes WriteTile calls, so Writer needs no locking.
type Writer struct {
	db     *sql.DB
	tx     *sql.Tx
	insert *sql.Stmt
	path   string
	closed bool
}

// NewWriter creates the output file, replacing any existing file at path,
// and writes the metadata records. The transaction stays open until
// Finalize or Abort.
func NewWriter(path string, meta Metadata) (*Writer, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: removing existing %s: %v", ErrOutputWrite, path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrOutputWrite, path, err)
	}
	// One connection: the whole file is written by a single transaction.
	db.SetMaxOpenConns(1)

	w := &Writer{db: db, path: path}
	if err := w.initialize(meta); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *Writer) initialize(meta Metadata) error {
	if _, err := w.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: creating schema: %v", ErrOutputWrite, err)
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrOutputWrite, err)
	}
	w.tx = tx

	// Metadata goes in before any tile so an interrupted run never leaves
	// tiles without their descriptors.
	records := [][2]string{
		{"name", meta.Name},
		{"type", meta.Type},
		{"version", meta.Version},
		{"description", meta.Description},
		{"format", meta.Format},
		{"bounds", fmt.Sprintf("%f,%f,%f,%f", meta.Bounds.West, meta.Bounds.South, meta.Bounds.East, meta.Bounds.North)},
	}
	for _, r := range records {
		if _, err := tx.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", r[0], r[1]); err != nil {
			return fmt.Errorf("%w: writing metadata %q: %v", ErrOutputWrite, r[0], err)
		}
	}

	stmt, err := tx.Prepare("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("%w: preparing tile insert: %v", ErrOutputWrite, err)
	}
	w.insert = stmt
	return nil
}

// WriteTile stores one tile. The XYZ row is flipped to the MBTiles
// south-origin numbering here, exactly once. nil data is stored as a
// zero-length blob marking a tile without data.
func (w *Writer) WriteTile(c tile.Coord, data []byte) error {
	if !c.Valid() {
		return fmt.Errorf("%w: tile coordinate out of range: %s", ErrOutputWrite, c)
	}
	if data == nil {
		data = []byte{}
	}
	if _, err := w.insert.Exec(c.Z, c.X, c.FlippedRow(), data); err != nil {
		return fmt.Errorf("%w: inserting tile %s: %v", ErrOutputWrite, c, err)
	}
	return nil
}

// Finalize commits the transaction and closes the file.
func (w *Writer) Finalize() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.insert.Close()
	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		os.Remove(w.path)
		return fmt.Errorf("%w: committing %s: %v", ErrOutputWrite, w.path, err)
	}
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrOutputWrite, w.path, err)
	}
	return nil
}

// Abort rolls back the transaction and removes the output file, leaving no
// partial tileset behind.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.insert.Close()
	w.tx.Rollback()
	w.db.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing %s: %v", ErrOutputWrite, w.path, err)
	}
	return nil
}
