// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mbtiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultPoolSize is the number of connections when Options.PoolSize
// is zero.
const DefaultPoolSize = 2

// MaxZoom is the highest zoom level Tile accepts.
const MaxZoom = 30

var (
	// ErrNotMBTiles means the database lacks the metadata or tiles
	// table.
	ErrNotMBTiles = errors.New("not an MBTiles database")

	// ErrTileNotFound means the tileset has no tile at the requested
	// coordinates.
	ErrTileNotFound = errors.New("tile not found")

	// ErrInvalidTile means the coordinates are outside the tile grid.
	ErrInvalidTile = errors.New("invalid tile coordinates")
)

// Options configures Open.
type Options struct {
	// PoolSize is the number of connections. Zero uses
	// DefaultPoolSize.
	PoolSize int

	// Logger receives operational messages. If nil, messages are
	// discarded.
	Logger *slog.Logger
}

// Metadata is the content of the metadata table. The well-known keys
// are parsed into fields; Values holds every key as stored.
type Metadata struct {
	Name        string
	Format      string
	Description string
	Attribution string

	// MinZoom and MaxZoom are -1 when the key is absent.
	MinZoom int
	MaxZoom int

	// Bounds is west, south, east, north in WGS84 degrees, or nil
	// when absent.
	Bounds []float64

	Values map[string]string
}

// Tileset is an open MBTiles database. It is safe for concurrent use.
type Tileset struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens the tileset at path read-only and checks that it has the
// MBTiles tables. The caller must call Close.
func Open(ctx context.Context, path string, options Options) (*Tileset, error) {
	if path == "" {
		return nil, fmt.Errorf("mbtiles: path is required")
	}
	if options.PoolSize <= 0 {
		options.PoolSize = DefaultPoolSize
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: resolving %s: %w", path, err)
	}
	uri := (&url.URL{Scheme: "file", Path: absolute, RawQuery: "mode=ro&immutable=1"}).String()

	pool, err := sqlitex.NewPool(uri, sqlitex.PoolOptions{
		Flags:       sqlite.OpenReadOnly | sqlite.OpenURI,
		PoolSize:    options.PoolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("mbtiles: opening %s: %w", path, err)
	}

	tileset := &Tileset{pool: pool, logger: options.Logger, path: path}
	if err := tileset.checkSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	options.Logger.Debug("tileset opened", "path", path, "pool_size", options.PoolSize)
	return tileset, nil
}

// Path returns the path the tileset was opened from.
func (t *Tileset) Path() string { return t.path }

// Close closes every connection. It blocks until borrowed connections
// are returned.
func (t *Tileset) Close() error {
	if err := t.pool.Close(); err != nil {
		return fmt.Errorf("mbtiles: closing %s: %w", t.path, err)
	}
	return nil
}

// Metadata reads the metadata table.
func (t *Tileset) Metadata(ctx context.Context) (Metadata, error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return Metadata{}, fmt.Errorf("mbtiles: take: %w", err)
	}
	defer t.pool.Put(conn)

	values := make(map[string]string)
	err = sqlitex.Execute(conn, "SELECT name, value FROM metadata", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			values[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return Metadata{}, fmt.Errorf("mbtiles: reading metadata of %s: %w", t.path, err)
	}
	return parseMetadata(values)
}

// Tile returns the tile data at XYZ coordinates.
func (t *Tileset) Tile(ctx context.Context, zoom, column, row int) ([]byte, error) {
	if zoom < 0 || zoom > MaxZoom {
		return nil, fmt.Errorf("zoom %d: %w", zoom, ErrInvalidTile)
	}
	size := 1 << zoom
	if column < 0 || column >= size || row < 0 || row >= size {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", zoom, column, row, ErrInvalidTile)
	}
	tmsRow := size - 1 - row

	conn, err := t.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: take: %w", err)
	}
	defer t.pool.Put(conn)

	var (
		data  []byte
		found bool
	)
	err = sqlitex.Execute(conn,
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		&sqlitex.ExecOptions{
			Args: []any{zoom, column, tmsRow},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("mbtiles: reading tile %d/%d/%d: %w", zoom, column, row, err)
	}
	if !found {
		return nil, fmt.Errorf("tile %d/%d/%d: %w", zoom, column, row, ErrTileNotFound)
	}
	return data, nil
}

func (t *Tileset) checkSchema(ctx context.Context) error {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("mbtiles: take: %w", err)
	}
	defer t.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn,
		"SELECT count(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name IN ('metadata', 'tiles')",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("mbtiles: reading schema of %s: %w", t.path, err)
	}
	if count != 2 {
		return fmt.Errorf("%s: %w", t.path, ErrNotMBTiles)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA query_only=ON",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("mbtiles: %s: %w", pragma, err)
		}
	}
	return nil
}

func parseMetadata(values map[string]string) (Metadata, error) {
	metadata := Metadata{
		Name:        values["name"],
		Format:      values["format"],
		Description: values["description"],
		Attribution: values["attribution"],
		MinZoom:     -1,
		MaxZoom:     -1,
		Values:      values,
	}

	for key, target := range map[string]*int{"minzoom": &metadata.MinZoom, "maxzoom": &metadata.MaxZoom} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		zoom, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Metadata{}, fmt.Errorf("mbtiles: metadata %s %q: %w", key, raw, err)
		}
		*target = zoom
	}

	if raw, ok := values["bounds"]; ok {
		parts := strings.Split(raw, ",")
		if len(parts) != 4 {
			return Metadata{}, fmt.Errorf("mbtiles: metadata bounds %q: want 4 comma-separated values", raw)
		}
		bounds := make([]float64, 4)
		for i, part := range parts {
			value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return Metadata{}, fmt.Errorf("mbtiles: metadata bounds %q: %w", raw, err)
			}
			bounds[i] = value
		}
		metadata.Bounds = bounds
	}

	return metadata, nil
}
