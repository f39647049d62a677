// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRangeUnsupported means the server answered a ranged request
	// with the whole resource and offered no validator. Without range
	// support every read would download the full object.
	ErrRangeUnsupported = errors.New("server does not support byte-range requests")

	// ErrRemoteChanged means the resource's validator (ETag or
	// Last-Modified) no longer matches the one captured at Open, so
	// blocks fetched now would not line up with blocks already cached.
	ErrRemoteChanged = errors.New("remote resource changed since it was opened")

	// ErrTruncated means a block response carried fewer bytes than
	// its range promised. It is retried.
	ErrTruncated = errors.New("truncated block response")

	// ErrNegativeOffset is returned for reads and seeks before the
	// start of the resource.
	ErrNegativeOffset = errors.New("negative offset")

	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("source is closed")
)

// HTTPError is a non-success HTTP status from the remote server.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int

	// Body is a bounded excerpt of the response body.
	Body string
}

func (e *HTTPError) Error() string {
	message := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		message += ": " + e.Body
	}
	return message
}

// Temporary reports whether the status is worth retrying: server
// errors and rate limiting.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// retryable classifies a fetch error. Transport failures, truncated
// bodies, and temporary HTTP statuses are retried; everything else,
// including context cancellation, is final.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRemoteChanged) || errors.Is(err, ErrRangeUnsupported) || errors.Is(err, ErrClosed) {
		return false
	}
	if errors.Is(err, ErrTruncated) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Temporary()
	}
	var protocolErr *protocolError
	if errors.As(err, &protocolErr) {
		return false
	}
	// Anything else came from the transport (connection refused,
	// reset, timeout).
	return true
}

// protocolError is a response that is well-formed HTTP but violates
// what a range request promises (wrong Content-Range, oversized body).
// Retrying will not fix it.
type protocolError struct {
	message string
}

func (e *protocolError) Error() string { return e.message }

func newProtocolError(format string, args ...any) error {
	return &protocolError{message: fmt.Sprintf(format, args...)}
}
