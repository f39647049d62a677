// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/rangefs/lib/clock"
	"github.com/bureau-foundation/rangefs/lib/netutil"
)

// probe learns the resource length and validator. It tries HEAD first
// and falls back to a one-byte ranged GET for servers that omit the
// length or reject HEAD.
func (s *Source) probe(ctx context.Context) error {
	return s.withRetry(ctx, "probe", func() error {
		found, err := s.probeHead(ctx)
		if err != nil || found {
			return err
		}
		return s.probeRange(ctx)
	})
}

// probeHead returns true when HEAD alone established the length and
// range support. A rejected HEAD is not an error: the caller falls back
// to a ranged GET.
func (s *Source) probeHead(ctx context.Context) (bool, error) {
	request, err := s.newRequest(ctx, http.MethodHead)
	if err != nil {
		return false, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return false, err
	}
	response.Body.Close()

	if response.StatusCode != http.StatusOK {
		if response.StatusCode >= 500 {
			return false, &HTTPError{Method: http.MethodHead, URL: s.url, StatusCode: response.StatusCode}
		}
		return false, nil
	}
	if response.ContentLength < 0 || !strings.EqualFold(response.Header.Get("Accept-Ranges"), "bytes") {
		return false, nil
	}

	s.length = response.ContentLength
	s.validator = validatorOf(response.Header)
	return true, nil
}

func (s *Source) probeRange(ctx context.Context) error {
	request, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return err
	}
	request.Header.Set("Range", netutil.RangeHeader(0, 0))

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusPartialContent:
		contentRange, err := netutil.ParseContentRange(response.Header.Get("Content-Range"))
		if err != nil {
			return newProtocolError("probe: %v", err)
		}
		if contentRange.Total < 0 {
			return newProtocolError("probe: server did not report the resource length")
		}
		s.length = contentRange.Total
		s.validator = validatorOf(response.Header)
		return nil

	case http.StatusRequestedRangeNotSatisfiable:
		// The only resource for which bytes=0-0 is unsatisfiable is an
		// empty one, reported as "bytes */0".
		if strings.TrimSpace(response.Header.Get("Content-Range")) == "bytes */0" {
			s.length = 0
			s.validator = validatorOf(response.Header)
			return nil
		}
		return &HTTPError{
			Method:     http.MethodGet,
			URL:        s.url,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}

	case http.StatusOK:
		return ErrRangeUnsupported

	default:
		return &HTTPError{
			Method:     http.MethodGet,
			URL:        s.url,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
}

// fetchBlock downloads block index, retrying transient failures. The
// returned slice is exactly the block's length.
func (s *Source) fetchBlock(ctx context.Context, index int64) ([]byte, error) {
	first, last := s.blockSpan(index)

	var data []byte
	err := s.withRetry(ctx, "fetch block", func() error {
		var err error
		data, err = s.fetchSpan(ctx, first, last)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("block %d (bytes %d-%d): %w", index, first, last, err)
	}

	s.stats.fetches.Add(1)
	s.stats.bytesFetched.Add(int64(len(data)))
	return data, nil
}

func (s *Source) fetchSpan(ctx context.Context, first, last int64) ([]byte, error) {
	request, err := s.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Range", netutil.RangeHeader(first, last))
	if s.validator != "" {
		request.Header.Set("If-Range", s.validator)
	}

	s.logger.Debug("fetching block range",
		"url", s.url,
		"first", first,
		"last", last,
	)

	response, err := s.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		// A full response to a ranged request: with If-Range this
		// means the validator no longer matches.
		if s.validator != "" {
			return nil, ErrRemoteChanged
		}
		return nil, ErrRangeUnsupported
	default:
		return nil, &HTTPError{
			Method:     http.MethodGet,
			URL:        s.url,
			StatusCode: response.StatusCode,
			Body:       netutil.ErrorBody(response.Body),
		}
	}

	contentRange, err := netutil.ParseContentRange(response.Header.Get("Content-Range"))
	if err != nil {
		return nil, newProtocolError("%v", err)
	}
	if contentRange.First != first || contentRange.Last != last {
		return nil, newProtocolError("requested bytes %d-%d, server sent %d-%d",
			first, last, contentRange.First, contentRange.Last)
	}
	if contentRange.Total >= 0 && contentRange.Total != s.length {
		return nil, fmt.Errorf("%w: length was %d, now %d", ErrRemoteChanged, s.length, contentRange.Total)
	}

	expected := last - first + 1
	data, err := netutil.ReadBounded(response.Body, expected)
	if errors.Is(err, netutil.ErrBodyTooLarge) {
		return nil, newProtocolError("body exceeds the %d bytes of its range", expected)
	}
	if int64(len(data)) < expected {
		// A dropped connection mid-body surfaces as a read error;
		// either way the block is incomplete.
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrTruncated, len(data), expected)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// withRetry runs attempt until it succeeds, fails permanently, or the
// retry budget is spent. Backoff doubles from RetryBackoff on the
// injected clock.
func (s *Source) withRetry(ctx context.Context, operation string, attempt func() error) error {
	backoff := s.options.RetryBackoff
	for try := 0; ; try++ {
		err := attempt()
		if err == nil {
			return nil
		}
		if !retryable(err) || try >= s.options.Retries {
			return err
		}

		s.stats.retries.Add(1)
		s.logger.Warn("remote request failed, retrying",
			"operation", operation,
			"url", s.url,
			"attempt", try+1,
			"backoff", backoff,
			"error", err,
		)
		if sleepErr := clock.Sleep(ctx, s.options.Clock, backoff); sleepErr != nil {
			return fmt.Errorf("%w (while retrying after: %v)", sleepErr, err)
		}
		backoff *= 2
	}
}

func (s *Source) newRequest(ctx context.Context, method string) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return nil, err
	}
	if s.options.UserAgent != "" {
		request.Header.Set("User-Agent", s.options.UserAgent)
	}
	return request, nil
}

// validatorOf returns the strongest cache validator the server sent.
// Weak ETags cannot be used with If-Range, so they fall through to
// Last-Modified.
func validatorOf(header http.Header) string {
	if etag := header.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
		return etag
	}
	return header.Get("Last-Modified")
}
