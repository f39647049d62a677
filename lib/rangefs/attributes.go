// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangefs

import (
	"syscall"
	"time"
)

// Inode identifies a filesystem entry for the lifetime of the mount.
type Inode uint64

// Handle is returned by Open and OpenDirectory and passed back to
// ReadDirectory, Read, and Release.
type Handle uint64

const (
	// RootInode is the mount root. It matches the FUSE root node ID.
	RootInode Inode = 1

	// FileInode is the single regular file.
	FileInode Inode = RootInode + 1
)

// DefaultFileName is the name of the file inside the mount root.
const DefaultFileName = "dots.mbtiles"

// DefaultTimestamp is the access, change, and modify time reported for
// both entries: 1438467123.985654 seconds after the epoch, rounded to
// the nearest float64 nanosecond count.
var DefaultTimestamp = time.Unix(0, 1438467123985654016)

const (
	rootMode = syscall.S_IFDIR | 0o755
	fileMode = syscall.S_IFREG | 0o644
)

// EntryAttributes is the metadata reported for one inode.
type EntryAttributes struct {
	Inode Inode

	// Mode holds the file type and permission bits, as in
	// syscall.Stat_t.Mode.
	Mode uint32

	// Size is the length in bytes. Zero for the root.
	Size uint64

	AccessTime time.Time
	ChangeTime time.Time
	ModifyTime time.Time

	UID uint32
	GID uint32
}

// IsDir reports whether the entry is a directory.
func (a EntryAttributes) IsDir() bool {
	return a.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// DirEntry is one directory listing result. NextOffset is the cookie
// that resumes the listing after this entry.
type DirEntry struct {
	Name       string
	Attributes EntryAttributes
	NextOffset uint64
}

// Owner is the uid/gid reported for every entry.
type Owner struct {
	UID uint32
	GID uint32
}
