// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/rangefs/lib/rangefs"
)

// maxNameLength is reported by STATFS.
const maxNameLength = 255

// rawBridge implements fuse.RawFileSystem on top of
// rangefs.Operations. Requests it does not handle fall through to the
// embedded default, which answers ENOSYS.
type rawBridge struct {
	fuse.RawFileSystem

	operations   rangefs.Operations
	fsName       string
	blockSize    uint32
	entryTimeout time.Duration
	attrTimeout  time.Duration
	logger       *slog.Logger
}

var _ fuse.RawFileSystem = (*rawBridge)(nil)

func newRawBridge(options *Options) *rawBridge {
	return &rawBridge{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		operations:    options.Operations,
		fsName:        options.FsName,
		blockSize:     uint32(options.BlockSize),
		entryTimeout:  options.EntryTimeout,
		attrTimeout:   options.AttrTimeout,
		logger:        options.Logger,
	}
}

func (b *rawBridge) String() string {
	return b.fsName
}

func (b *rawBridge) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	attributes, err := b.operations.Lookup(rangefs.Inode(header.NodeId), name)
	if err != nil {
		return b.status("lookup", err)
	}
	b.fillEntry(attributes, out)
	return fuse.OK
}

func (b *rawBridge) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	attributes, err := b.operations.GetAttributes(rangefs.Inode(input.NodeId))
	if err != nil {
		return b.status("getattr", err)
	}
	b.fillAttr(attributes, &out.Attr)
	out.SetTimeout(b.attrTimeout)
	return fuse.OK
}

// Access answers access(2) without consulting the operations beyond
// an existence check. Every entry is readable; nothing is writable.
func (b *rawBridge) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	if _, err := b.operations.GetAttributes(rangefs.Inode(input.NodeId)); err != nil {
		return b.status("access", err)
	}
	if input.Mask&unix.W_OK != 0 {
		return fuse.EROFS
	}
	return fuse.OK
}

func (b *rawBridge) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	handle, err := b.operations.OpenDirectory(rangefs.Inode(input.NodeId))
	if err != nil {
		return b.status("opendir", err)
	}
	out.Fh = uint64(handle)
	return fuse.OK
}

func (b *rawBridge) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	for entry := range b.operations.ReadDirectory(rangefs.Handle(input.Fh), input.Offset) {
		if !out.AddDirEntry(dirEntry(entry)) {
			break
		}
	}
	return fuse.OK
}

func (b *rawBridge) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	for entry := range b.operations.ReadDirectory(rangefs.Handle(input.Fh), input.Offset) {
		entryOut := out.AddDirLookupEntry(dirEntry(entry))
		if entryOut == nil {
			break
		}
		b.fillEntry(entry.Attributes, entryOut)
	}
	return fuse.OK
}

func (b *rawBridge) ReleaseDir(input *fuse.ReleaseIn) {
	b.logger.Debug("releasedir", "handle", input.Fh)
}

func (b *rawBridge) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	handle, err := b.operations.Open(rangefs.Inode(input.NodeId), input.Flags)
	if err != nil {
		return b.status("open", err)
	}
	out.Fh = uint64(handle)
	// The remote content cannot change for the life of the mount
	// without the source failing reads, so the page cache stays valid.
	out.OpenFlags = fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

func (b *rawBridge) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	if input.Offset > math.MaxInt64 {
		return nil, fuse.EINVAL
	}

	ctx, stop := cancelContext(cancel)
	defer stop()

	data, err := b.operations.Read(ctx, rangefs.Handle(input.Fh), int64(input.Offset), int(input.Size))
	if err != nil {
		return nil, b.status("read", err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

func (b *rawBridge) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	b.operations.Release(rangefs.Handle(input.Fh))
}

func (b *rawBridge) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	*out = fuse.StatfsOut{
		Bsize:   b.blockSize,
		Frsize:  b.blockSize,
		Files:   2,
		NameLen: maxNameLength,
	}
	return fuse.OK
}

func (b *rawBridge) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	return 0, fuse.EROFS
}

func (b *rawBridge) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	return fuse.EROFS
}

func (b *rawBridge) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo string, linkName string, out *fuse.EntryOut) fuse.Status {
	return fuse.EROFS
}

// status maps an operation error to a FUSE status. Unclassified errors
// are logged here since the kernel only ever sees EIO for them.
func (b *rawBridge) status(operation string, err error) fuse.Status {
	switch {
	case errors.Is(err, rangefs.ErrNoSuchEntry):
		return fuse.ENOENT
	case errors.Is(err, rangefs.ErrPermissionDenied):
		return fuse.EPERM
	case errors.Is(err, rangefs.ErrInvalidRange):
		return fuse.EINVAL
	case errors.Is(err, context.Canceled):
		return fuse.EINTR
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Status(errno)
	}

	b.logger.Error("request failed", "operation", operation, "error", err)
	return fuse.EIO
}

func (b *rawBridge) fillEntry(attributes rangefs.EntryAttributes, out *fuse.EntryOut) {
	out.NodeId = uint64(attributes.Inode)
	out.Generation = 1
	b.fillAttr(attributes, &out.Attr)
	out.SetEntryTimeout(b.entryTimeout)
	out.SetAttrTimeout(b.attrTimeout)
}

func (b *rawBridge) fillAttr(attributes rangefs.EntryAttributes, out *fuse.Attr) {
	out.Ino = uint64(attributes.Inode)
	out.Size = attributes.Size
	out.Blocks = (attributes.Size + 511) / 512
	out.Mode = attributes.Mode
	out.Nlink = 1
	if attributes.IsDir() {
		out.Nlink = 2
	}
	out.Owner = fuse.Owner{Uid: attributes.UID, Gid: attributes.GID}
	out.Blksize = b.blockSize
	out.SetTimes(&attributes.AccessTime, &attributes.ModifyTime, &attributes.ChangeTime)
}

func dirEntry(entry rangefs.DirEntry) fuse.DirEntry {
	return fuse.DirEntry{
		Name: entry.Name,
		Mode: entry.Attributes.Mode,
		Ino:  uint64(entry.Attributes.Inode),
		Off:  entry.NextOffset,
	}
}

// cancelContext returns a context that is cancelled when the kernel
// interrupts the request. The returned stop function must be called
// once the request completes.
func cancelContext(cancel <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(context.Background())
	if cancel == nil {
		return ctx, stop
	}
	go func() {
		select {
		case <-cancel:
			stop()
		case <-ctx.Done():
		}
	}()
	return ctx, stop
}
