// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/rangefs/lib/clock"
)

// DefaultBlockSize is the transfer unit for remote fetches.
const DefaultBlockSize = 256 * 1024

// DefaultCacheBlocks is the LRU capacity in blocks (16 MiB at the
// default block size).
const DefaultCacheBlocks = 64

// DefaultRetries is the number of retries after a failed fetch.
const DefaultRetries = 3

// DefaultRetryBackoff is the delay before the first retry. Each
// further retry doubles it.
const DefaultRetryBackoff = 250 * time.Millisecond

// Options configures a Source.
type Options struct {
	// BlockSize is the size of each ranged fetch. Zero uses
	// DefaultBlockSize.
	BlockSize int

	// CacheBlocks is the number of blocks kept in the LRU cache. Zero
	// uses DefaultCacheBlocks; a negative value disables caching.
	CacheBlocks int

	// Compression selects how cached blocks are stored.
	Compression Compression

	// Retries is the number of retries for a failed fetch. Zero uses
	// DefaultRetries; a negative value disables retries.
	Retries int

	// RetryBackoff is the delay before the first retry. Zero uses
	// DefaultRetryBackoff.
	RetryBackoff time.Duration

	// ReadAhead is the number of blocks past the end of a read to
	// fetch in the background. Zero disables read-ahead.
	ReadAhead int

	// HTTPClient performs all requests. If nil, http.DefaultClient.
	HTTPClient *http.Client

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// Clock drives retry backoff. If nil, clock.Real().
	Clock clock.Clock

	// Logger receives diagnostic messages. If nil, messages are
	// discarded.
	Logger *slog.Logger
}

// Stats is a snapshot of a Source's counters.
type Stats struct {
	CacheHits    int64
	CacheMisses  int64
	Fetches      int64
	Retries      int64
	BytesFetched int64
	CachedBlocks int
	CachedBytes  int64
}

type sourceStats struct {
	hits         atomic.Int64
	misses       atomic.Int64
	fetches      atomic.Int64
	retries      atomic.Int64
	bytesFetched atomic.Int64
}

// Source is a fixed-length, read-only view of a remote HTTP resource.
// Data is fetched in BlockSize ranged requests and cached.
//
// ReadRange and ReadAt are position-free and safe for concurrent use.
// Seek and Read share a cursor guarded by a mutex, so each call is
// atomic but a Seek followed by a Read is not: callers that need the
// pair to be atomic must hold their own lock or use ReadRange.
type Source struct {
	url       string
	options   Options
	client    *http.Client
	logger    *slog.Logger
	length    int64
	validator string

	cache    *blockCache
	inflight singleflight.Group
	prefetch *errgroup.Group
	stats    sourceStats

	// ctx is canceled by Close and bounds every block fetch.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	position int64
}

// Open probes the resource at rawURL and returns a Source over it. The
// probe establishes the length and the validator used to detect the
// resource changing underneath the mount.
func Open(ctx context.Context, rawURL string, options Options) (*Source, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", rawURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("url %q: scheme must be http or https", rawURL)
	}

	if options.BlockSize == 0 {
		options.BlockSize = DefaultBlockSize
	}
	if options.BlockSize < 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", options.BlockSize)
	}
	if options.CacheBlocks == 0 {
		options.CacheBlocks = DefaultCacheBlocks
	}
	if options.Retries == 0 {
		options.Retries = DefaultRetries
	}
	if options.Retries < 0 {
		options.Retries = 0
	}
	if options.RetryBackoff == 0 {
		options.RetryBackoff = DefaultRetryBackoff
	}
	if options.ReadAhead < 0 {
		options.ReadAhead = 0
	}
	if options.HTTPClient == nil {
		options.HTTPClient = http.DefaultClient
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	sourceCtx, cancel := context.WithCancel(context.Background())
	source := &Source{
		url:      rawURL,
		options:  options,
		client:   options.HTTPClient,
		logger:   options.Logger,
		cache:    newBlockCache(options.CacheBlocks, options.Compression),
		prefetch: new(errgroup.Group),
		ctx:      sourceCtx,
		cancel:   cancel,
	}
	if options.ReadAhead > 0 {
		source.prefetch.SetLimit(options.ReadAhead)
	}

	if err := source.probe(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("probing %s: %w", rawURL, err)
	}

	source.logger.Info("remote source opened",
		"url", rawURL,
		"length", source.length,
		"block_size", options.BlockSize,
		"validator", source.validator,
	)
	return source, nil
}

// URL returns the resource URL.
func (s *Source) URL() string { return s.url }

// Length returns the total size of the resource in bytes, as reported
// when the Source was opened.
func (s *Source) Length() int64 { return s.length }

// BlockSize returns the transfer block size.
func (s *Source) BlockSize() int { return s.options.BlockSize }

// Seek moves the read cursor to offset. Offsets past the end are
// allowed; reads there return no data.
func (s *Source) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("seek to %d: %w", offset, ErrNegativeOffset)
	}
	s.mu.Lock()
	s.position = offset
	s.mu.Unlock()
	return nil
}

// Read returns up to size bytes from the cursor and advances it by the
// number of bytes returned. The result is shorter than size only at
// the end of the resource.
func (s *Source) Read(size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.ReadRange(s.ctx, s.position, size)
	if err != nil {
		return nil, err
	}
	s.position += int64(len(data))
	return data, nil
}

// ReadRange returns up to size bytes starting at offset without
// touching the cursor. The result is shorter than size only when the
// range crosses the end of the resource, and empty at or past it.
func (s *Source) ReadRange(ctx context.Context, offset int64, size int) ([]byte, error) {
	if offset < 0 {
		return nil, fmt.Errorf("read at %d: %w", offset, ErrNegativeOffset)
	}
	if size < 0 {
		return nil, fmt.Errorf("read of %d bytes: negative size", size)
	}
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if offset >= s.length || size == 0 {
		return []byte{}, nil
	}

	end := offset + int64(size)
	if end > s.length || end < offset {
		end = s.length
	}

	blockSize := int64(s.options.BlockSize)
	result := make([]byte, 0, end-offset)
	lastIndex := int64(-1)
	for position := offset; position < end; {
		index := position / blockSize
		data, err := s.block(ctx, index)
		if err != nil {
			return nil, err
		}

		start := position - index*blockSize
		if start >= int64(len(data)) {
			return nil, fmt.Errorf("block %d holds %d bytes, need offset %d: %w",
				index, len(data), start, ErrTruncated)
		}
		count := min(int64(len(data))-start, end-position)
		result = append(result, data[start:start+count]...)
		position += count
		lastIndex = index
	}

	s.readAhead(lastIndex + 1)
	return result, nil
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, offset int64) (int, error) {
	data, err := s.ReadRange(s.ctx, offset, len(p))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Stats returns a snapshot of the cache and fetch counters.
func (s *Source) Stats() Stats {
	blocks, bytes := s.cache.usage()
	return Stats{
		CacheHits:    s.stats.hits.Load(),
		CacheMisses:  s.stats.misses.Load(),
		Fetches:      s.stats.fetches.Load(),
		Retries:      s.stats.retries.Load(),
		BytesFetched: s.stats.bytesFetched.Load(),
		CachedBlocks: blocks,
		CachedBytes:  bytes,
	}
}

// Close cancels background fetches and waits for them to stop. Reads
// after Close fail with ErrClosed.
func (s *Source) Close() error {
	s.cancel()
	_ = s.prefetch.Wait()
	return nil
}

// block returns the contents of block index from the cache, or fetches
// it. Concurrent requests for the same missing block share one fetch.
// The fetch itself runs on the Source's context: cancelling ctx only
// stops this caller waiting for it.
func (s *Source) block(ctx context.Context, index int64) ([]byte, error) {
	if data, ok := s.cache.get(index); ok {
		s.stats.hits.Add(1)
		return data, nil
	}
	s.stats.misses.Add(1)

	results := s.inflight.DoChan(strconv.FormatInt(index, 10), func() (any, error) {
		// Another caller may have finished this block between our
		// cache miss and entering the group.
		if data, ok := s.cache.get(index); ok {
			return data, nil
		}
		data, err := s.fetchBlock(s.ctx, index)
		if err != nil {
			return nil, err
		}
		s.cache.put(index, data)
		return data, nil
	})

	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.([]byte), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("block %d: %w", index, ctx.Err())
	}
}

// readAhead schedules background fetches of the ReadAhead blocks that
// start at index. Blocks already cached are skipped, and scheduling
// never waits: if every prefetch slot is busy the block is left for a
// later read.
func (s *Source) readAhead(index int64) {
	if s.options.ReadAhead == 0 || s.options.CacheBlocks <= 0 {
		return
	}
	blockCount := s.blockCount()
	for i := range int64(s.options.ReadAhead) {
		next := index + i
		if next >= blockCount {
			return
		}
		if s.cache.contains(next) {
			continue
		}
		s.prefetch.TryGo(func() error {
			if _, err := s.block(s.ctx, next); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("read-ahead failed", "block", next, "error", err)
			}
			return nil
		})
	}
}

// blockSpan returns the inclusive byte range covered by block index.
func (s *Source) blockSpan(index int64) (first, last int64) {
	blockSize := int64(s.options.BlockSize)
	first = index * blockSize
	last = min(first+blockSize, s.length) - 1
	return first, last
}

func (s *Source) blockCount() int64 {
	blockSize := int64(s.options.BlockSize)
	return (s.length + blockSize - 1) / blockSize
}
