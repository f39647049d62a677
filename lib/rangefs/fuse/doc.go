// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse serves a rangefs.Operations implementation to the
// kernel through go-fuse's raw protocol API.
//
// The bridge is a thin translation layer: node IDs are inodes, file
// handles are rangefs handles, and directory offsets are the cookies
// returned in each entry. It holds no per-request state of its own.
//
// # Errors
//
// Errors returned by the operations are mapped to FUSE status codes:
// rangefs.ErrNoSuchEntry is ENOENT, rangefs.ErrPermissionDenied is
// EPERM, rangefs.ErrInvalidRange is EINVAL, and a syscall.Errno
// anywhere in the chain is passed through. Anything else is logged
// and reported as EIO. A failed read fails only that request; the
// mount stays up.
//
// # Read-only
//
// The filesystem is mounted with the "ro" option. Requests that would
// mutate the namespace or file content return EROFS.
package fuse
