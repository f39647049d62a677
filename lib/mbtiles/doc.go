// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mbtiles reads MBTiles tilesets: SQLite databases holding a
// metadata key/value table and a tiles table of blobs keyed by zoom,
// column, and row.
//
// Tilesets are opened strictly read-only through a pool of
// zombiezen.com/go/sqlite connections. The database is opened as an
// immutable URI so SQLite never creates journal, WAL, or shared-memory
// files next to it and never takes file locks. That makes it safe to
// open a tileset that lives on a read-only FUSE mount, which is how
// rangefs --inspect reports what it is serving.
//
// # Pragmas
//
// Every connection in the pool is initialized with:
//
//   - query_only=ON: reject any statement that would write.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Coordinates
//
// MBTiles stores rows in TMS order (row 0 at the south edge). [Tileset.Tile]
// takes XYZ coordinates (row 0 at the north edge), as used by web map
// clients, and flips the row.
package mbtiles
