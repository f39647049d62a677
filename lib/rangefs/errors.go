// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangefs

import "errors"

var (
	// ErrNoSuchEntry is returned for unknown inodes and names. The
	// FUSE bridge reports it as ENOENT.
	ErrNoSuchEntry = errors.New("no such entry")

	// ErrPermissionDenied is returned when a file is opened for
	// writing. The FUSE bridge reports it as EPERM.
	ErrPermissionDenied = errors.New("operation not permitted")

	// ErrInvalidRange is returned for reads at a negative offset or of
	// a negative size. The FUSE bridge reports it as EINVAL.
	ErrInvalidRange = errors.New("invalid read range")
)
