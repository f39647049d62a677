// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// rangefs mounts a single remote HTTP resource as a read-only file.
//
// The mount holds one directory with one file (dots.mbtiles by
// default). Its size is the remote Content-Length, and reads at any
// offset become ranged GET requests for the covering blocks, which are
// kept in a bounded LRU cache. Nothing is downloaded up front, so a
// multi-gigabyte tileset can be opened by SQLite or any other
// random-access reader immediately.
//
// The server must support byte ranges. If the resource changes while
// mounted, reads fail with EIO rather than mixing old and new content.
//
// Usage:
//
//	rangefs [flags] <mountpoint>
//
// SIGINT or SIGTERM unmounts and exits.
package main
