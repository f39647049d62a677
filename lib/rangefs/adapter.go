// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rangefs

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Operations is the request set a filesystem implements to be served
// by the FUSE bridge. Every method answers one kernel request and must
// be safe to call from multiple goroutines.
type Operations interface {
	// GetAttributes returns the attributes of inode, or
	// ErrNoSuchEntry.
	GetAttributes(inode Inode) (EntryAttributes, error)

	// Lookup resolves name inside the directory parent.
	Lookup(parent Inode, name string) (EntryAttributes, error)

	// OpenDirectory returns a handle for listing inode.
	OpenDirectory(inode Inode) (Handle, error)

	// ReadDirectory lists the directory behind handle starting at the
	// offset cookie. Zero starts from the beginning; other values
	// come from a previous entry's NextOffset.
	ReadDirectory(handle Handle, offset uint64) iter.Seq[DirEntry]

	// Open returns a handle for reading inode. flags are the open(2)
	// flags.
	Open(inode Inode, flags uint32) (Handle, error)

	// Read returns up to size bytes at offset. The result is short
	// only at the end of the file.
	Read(ctx context.Context, handle Handle, offset int64, size int) ([]byte, error)

	// Release is called once the kernel has closed handle.
	Release(handle Handle)
}

// Source is the backing byte stream of the file. Seek positions a
// cursor and Read returns up to size bytes from it, short only at the
// end of the stream.
type Source interface {
	Length() int64
	Seek(offset int64) error
	Read(size int) ([]byte, error)
}

// RangeReader is implemented by sources that can read a range without
// a shared cursor. When the Source provides it, the Adapter uses it
// instead of Seek+Read and takes no lock around reads.
type RangeReader interface {
	ReadRange(ctx context.Context, offset int64, size int) ([]byte, error)
}

// Options configures an Adapter.
type Options struct {
	// FileName is the name of the file in the root directory. Empty
	// uses DefaultFileName.
	FileName string

	// Timestamp is reported as the access, change, and modify time of
	// both entries. Zero uses DefaultTimestamp.
	Timestamp time.Time

	// Owner is reported as the uid/gid of both entries. If nil, the
	// real uid and gid of the process.
	Owner *Owner

	// Logger receives per-request debug messages. If nil, messages
	// are discarded.
	Logger *slog.Logger
}

// Adapter serves the two-inode namespace over a Source.
type Adapter struct {
	source    Source
	ranged    RangeReader
	fileName  string
	timestamp time.Time
	owner     Owner
	logger    *slog.Logger

	// cursorMu makes Seek+Read atomic for sources without ReadRange.
	cursorMu sync.Mutex
}

var _ Operations = (*Adapter)(nil)

// New returns an Adapter serving source.
func New(source Source, options Options) (*Adapter, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if options.FileName == "" {
		options.FileName = DefaultFileName
	}
	if err := validateFileName(options.FileName); err != nil {
		return nil, err
	}
	if options.Timestamp.IsZero() {
		options.Timestamp = DefaultTimestamp
	}
	if options.Owner == nil {
		options.Owner = &Owner{UID: uint32(unix.Getuid()), GID: uint32(unix.Getgid())}
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	adapter := &Adapter{
		source:    source,
		fileName:  options.FileName,
		timestamp: options.Timestamp,
		owner:     *options.Owner,
		logger:    options.Logger,
	}
	if ranged, ok := source.(RangeReader); ok {
		adapter.ranged = ranged
	}
	return adapter, nil
}

func validateFileName(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("invalid file name %q", name)
	}
	if len(name) > 255 {
		return fmt.Errorf("file name is %d bytes, limit is 255", len(name))
	}
	return nil
}

// FileName returns the name of the file in the root directory.
func (a *Adapter) FileName() string { return a.fileName }

// GetAttributes returns the attributes of the root or the file. The
// file size is read from the source on every call.
func (a *Adapter) GetAttributes(inode Inode) (EntryAttributes, error) {
	attributes := EntryAttributes{
		Inode:      inode,
		AccessTime: a.timestamp,
		ChangeTime: a.timestamp,
		ModifyTime: a.timestamp,
		UID:        a.owner.UID,
		GID:        a.owner.GID,
	}
	switch inode {
	case RootInode:
		attributes.Mode = rootMode
		attributes.Size = 0
	case FileInode:
		attributes.Mode = fileMode
		attributes.Size = uint64(max(a.source.Length(), 0))
	default:
		return EntryAttributes{}, ErrNoSuchEntry
	}
	return attributes, nil
}

// Lookup resolves the file name in the root directory. The match is
// byte-exact.
func (a *Adapter) Lookup(parent Inode, name string) (EntryAttributes, error) {
	if parent != RootInode || name != a.fileName {
		return EntryAttributes{}, ErrNoSuchEntry
	}
	return a.GetAttributes(FileInode)
}

// OpenDirectory opens the root. The handle is the root inode.
func (a *Adapter) OpenDirectory(inode Inode) (Handle, error) {
	if inode != RootInode {
		return 0, ErrNoSuchEntry
	}
	return Handle(inode), nil
}

// ReadDirectory yields the file entry when offset is zero and nothing
// otherwise. handle must come from OpenDirectory.
func (a *Adapter) ReadDirectory(handle Handle, offset uint64) iter.Seq[DirEntry] {
	if handle != Handle(RootInode) {
		panic(fmt.Sprintf("rangefs: ReadDirectory on handle %d, only the root (%d) is a directory", handle, RootInode))
	}
	return func(yield func(DirEntry) bool) {
		if offset != 0 {
			return
		}
		attributes, _ := a.GetAttributes(FileInode)
		yield(DirEntry{
			Name:       a.fileName,
			Attributes: attributes,
			NextOffset: 1,
		})
	}
}

// Open opens the file for reading. The handle is the file inode.
// Any write access bit, including the invalid access mode 3, fails
// with ErrPermissionDenied.
func (a *Adapter) Open(inode Inode, flags uint32) (Handle, error) {
	a.logger.Debug("open", "inode", inode, "flags", fmt.Sprintf("%#o", flags))
	if inode != FileInode {
		return 0, ErrNoSuchEntry
	}
	if flags&(unix.O_WRONLY|unix.O_RDWR) != 0 {
		return 0, ErrPermissionDenied
	}
	return Handle(inode), nil
}

// Read returns up to size bytes at offset. handle must come from Open.
func (a *Adapter) Read(ctx context.Context, handle Handle, offset int64, size int) ([]byte, error) {
	if handle != Handle(FileInode) {
		panic(fmt.Sprintf("rangefs: Read on handle %d, only the file (%d) can be read", handle, FileInode))
	}
	a.logger.Debug("read", "handle", handle, "offset", offset, "size", size)

	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("offset %d, size %d: %w", offset, size, ErrInvalidRange)
	}
	if size == 0 || offset >= a.source.Length() {
		return []byte{}, nil
	}

	var (
		data []byte
		err  error
	)
	if a.ranged != nil {
		data, err = a.ranged.ReadRange(ctx, offset, size)
	} else {
		data, err = a.seekAndRead(offset, size)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %d bytes at offset %d: %w", size, offset, err)
	}
	return data, nil
}

func (a *Adapter) seekAndRead(offset int64, size int) ([]byte, error) {
	a.cursorMu.Lock()
	defer a.cursorMu.Unlock()

	if err := a.source.Seek(offset); err != nil {
		return nil, err
	}
	return a.source.Read(size)
}

// Release records that the kernel closed handle. There is no handle
// state to free.
func (a *Adapter) Release(handle Handle) {
	a.logger.Debug("release", "handle", handle)
}
