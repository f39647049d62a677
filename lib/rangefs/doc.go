// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rangefs implements a read-only, two-inode filesystem that
// exposes one remote byte stream as a regular file.
//
// The namespace is fixed for the lifetime of the process:
//
//	/            RootInode  directory, mode 0755
//	/<FileName>  FileInode  regular file, mode 0644, size = Source.Length()
//
// [Adapter] answers filesystem requests (attribute queries, lookup,
// directory listing, open, ranged read, release) against that
// namespace and forwards reads to a [Source]. It is protocol-neutral:
// the FUSE bridge in the fuse subpackage drives it through the
// [Operations] interface, and tests drive it directly.
//
// # Handles
//
// Open and OpenDirectory return the inode number itself as the handle.
// There is no handle table: with one directory and one immutable file
// an open handle carries no state, and Release has nothing to free.
//
// # Timestamps
//
// Both entries report the same fixed access, change, and modify time
// ([DefaultTimestamp]) rather than the wall clock, so attributes are
// identical across mounts and runs. Options.Timestamp overrides it.
//
// # Reads
//
// Reads at or past the end of the file return no data without touching
// the source. Everything else is delegated: the Adapter keeps no cache
// and no retry policy of its own, and source errors are returned
// wrapped but intact for errors.Is.
package rangefs
