// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote presents a remote HTTP resource as a fixed-length,
// seekable byte stream.
//
// [Open] probes the resource once (HEAD, falling back to a one-byte
// ranged GET) to learn its length and a validator (strong ETag or
// Last-Modified). Reads are then served from fixed-size blocks fetched
// with Range requests. Every block request carries If-Range with the
// validator, so a resource that changes while mounted fails reads with
// [ErrRemoteChanged] instead of silently mixing old and new bytes.
//
// # Caching
//
// Fetched blocks live in an in-memory LRU bounded by block count.
// Blocks may be held compressed (LZ4 or zstd) to stretch the cache;
// blocks that do not shrink are stored raw. Concurrent misses on one
// block share a single request. With ReadAhead set, a read schedules
// background fetches for the blocks that follow it.
//
// # Failures
//
// Transport errors, 5xx and 429 responses, and truncated bodies are
// retried with exponential backoff on an injectable clock. Other 4xx
// responses surface as [*HTTPError]. A server that ignores Range fails
// with [ErrRangeUnsupported] at Open.
package remote
