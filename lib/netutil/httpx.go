// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP response helpers for the remote block
// fetcher.
//
// Body reads are always bounded. A block fetch knows exactly how many
// bytes it expects, so ReadBounded reads one byte past the expectation
// to detect servers that ignore the Range header. Error bodies are
// only used for diagnostics and are truncated at MaxErrorBodySize.
package netutil

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxErrorBodySize bounds how much of an HTTP error response body is
// kept for an error message.
const MaxErrorBodySize int64 = 4 << 10

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic error messages. Read errors are silently
// ignored; a partial or empty body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize))
	return strings.TrimSpace(string(data))
}

// ErrBodyTooLarge is returned by ReadBounded when the body holds more
// than the permitted number of bytes.
var ErrBodyTooLarge = errors.New("response body exceeds expected length")

// ReadBounded reads at most limit bytes from body. If the body holds
// more, the bytes read so far are returned together with
// ErrBodyTooLarge.
func ReadBounded(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return data, err
	}
	if int64(len(data)) > limit {
		return data[:limit], ErrBodyTooLarge
	}
	return data, nil
}

// ContentRange is a parsed "Content-Range: bytes first-last/total"
// header. Total is -1 when the server reports "*".
type ContentRange struct {
	First int64
	Last  int64
	Total int64
}

// Length returns the number of bytes covered by the range.
func (r ContentRange) Length() int64 {
	return r.Last - r.First + 1
}

// ParseContentRange parses a byte-range Content-Range header value as
// sent with a 206 response.
func ParseContentRange(value string) (ContentRange, error) {
	unit, spec, found := strings.Cut(strings.TrimSpace(value), " ")
	if !found || unit != "bytes" {
		return ContentRange{}, fmt.Errorf("content-range %q: unsupported unit", value)
	}

	span, totalText, found := strings.Cut(spec, "/")
	if !found {
		return ContentRange{}, fmt.Errorf("content-range %q: missing total", value)
	}

	result := ContentRange{Total: -1}
	if totalText != "*" {
		total, err := strconv.ParseInt(totalText, 10, 64)
		if err != nil || total < 0 {
			return ContentRange{}, fmt.Errorf("content-range %q: invalid total", value)
		}
		result.Total = total
	}

	firstText, lastText, found := strings.Cut(span, "-")
	if !found {
		return ContentRange{}, fmt.Errorf("content-range %q: invalid span", value)
	}
	first, err := strconv.ParseInt(firstText, 10, 64)
	if err != nil || first < 0 {
		return ContentRange{}, fmt.Errorf("content-range %q: invalid first byte", value)
	}
	last, err := strconv.ParseInt(lastText, 10, 64)
	if err != nil || last < first {
		return ContentRange{}, fmt.Errorf("content-range %q: invalid last byte", value)
	}
	if result.Total >= 0 && last >= result.Total {
		return ContentRange{}, fmt.Errorf("content-range %q: span exceeds total", value)
	}

	result.First = first
	result.Last = last
	return result, nil
}

// RangeHeader formats a Range request header value for the inclusive
// byte span [first, last].
func RangeHeader(first, last int64) string {
	return "bytes=" + strconv.FormatInt(first, 10) + "-" + strconv.FormatInt(last, 10)
}
