// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/rangefs/lib/rangefs"
	"github.com/bureau-foundation/rangefs/lib/testutil"
)

// memorySource serves a fixed byte slice through the rangefs.Source
// cursor interface.
type memorySource struct {
	data     []byte
	position int64
	err      error
}

func (s *memorySource) Length() int64 { return int64(len(s.data)) }

func (s *memorySource) Seek(offset int64) error {
	s.position = offset
	return nil
}

func (s *memorySource) Read(size int) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	end := min(s.position+int64(size), int64(len(s.data)))
	result := append([]byte(nil), s.data[s.position:end]...)
	s.position = end
	return result, nil
}

var testOwner = rangefs.Owner{UID: 1000, GID: 1000}

func newTestBridge(t *testing.T, source rangefs.Source) *rawBridge {
	t.Helper()
	adapter, err := rangefs.New(source, rangefs.Options{Owner: &testOwner})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return newRawBridge(&Options{
		Operations:   adapter,
		FsName:       DefaultFsName,
		BlockSize:    262144,
		EntryTimeout: DefaultTimeout,
		AttrTimeout:  DefaultTimeout,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func header(inode rangefs.Inode) fuse.InHeader {
	return fuse.InHeader{NodeId: uint64(inode)}
}

func TestBridgeLookup(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	var out fuse.EntryOut
	in := header(rangefs.RootInode)
	if status := bridge.Lookup(nil, &in, rangefs.DefaultFileName, &out); status != fuse.OK {
		t.Fatalf("Lookup status = %v, want OK", status)
	}
	if out.NodeId != uint64(rangefs.FileInode) {
		t.Errorf("NodeId = %d, want %d", out.NodeId, rangefs.FileInode)
	}
	if out.Ino != uint64(rangefs.FileInode) {
		t.Errorf("Ino = %d, want %d", out.Ino, rangefs.FileInode)
	}
	if out.Size != 10 {
		t.Errorf("Size = %d, want 10", out.Size)
	}
	if out.Mode != syscall.S_IFREG|0o644 {
		t.Errorf("Mode = %o, want %o", out.Mode, syscall.S_IFREG|0o644)
	}
	if out.Nlink != 1 {
		t.Errorf("Nlink = %d, want 1", out.Nlink)
	}
	if out.Owner.Uid != 1000 || out.Owner.Gid != 1000 {
		t.Errorf("Owner = %d:%d, want 1000:1000", out.Owner.Uid, out.Owner.Gid)
	}
	if out.EntryValid != 1 || out.AttrValid != 1 {
		t.Errorf("timeouts = %d/%d, want 1/1", out.EntryValid, out.AttrValid)
	}

	for _, name := range []string{"missing", "", "."} {
		if status := bridge.Lookup(nil, &in, name, &fuse.EntryOut{}); status != fuse.ENOENT {
			t.Errorf("Lookup(%q) status = %v, want ENOENT", name, status)
		}
	}

	fileHeader := header(rangefs.FileInode)
	if status := bridge.Lookup(nil, &fileHeader, rangefs.DefaultFileName, &fuse.EntryOut{}); status != fuse.ENOENT {
		t.Errorf("Lookup under file status = %v, want ENOENT", status)
	}
}

func TestBridgeGetAttr(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	var root fuse.AttrOut
	if status := bridge.GetAttr(nil, &fuse.GetAttrIn{InHeader: header(rangefs.RootInode)}, &root); status != fuse.OK {
		t.Fatalf("GetAttr(root) status = %v", status)
	}
	if root.Mode != syscall.S_IFDIR|0o755 {
		t.Errorf("root Mode = %o, want %o", root.Mode, syscall.S_IFDIR|0o755)
	}
	if root.Size != 0 || root.Nlink != 2 {
		t.Errorf("root Size/Nlink = %d/%d, want 0/2", root.Size, root.Nlink)
	}
	if root.Blksize != 262144 {
		t.Errorf("root Blksize = %d, want 262144", root.Blksize)
	}

	var file fuse.AttrOut
	if status := bridge.GetAttr(nil, &fuse.GetAttrIn{InHeader: header(rangefs.FileInode)}, &file); status != fuse.OK {
		t.Fatalf("GetAttr(file) status = %v", status)
	}
	if file.Size != 10 || file.Blocks != 1 {
		t.Errorf("file Size/Blocks = %d/%d, want 10/1", file.Size, file.Blocks)
	}

	// Every timestamp carries the same seconds and nanoseconds.
	wantSeconds := uint64(rangefs.DefaultTimestamp.Unix())
	wantNanoseconds := uint32(rangefs.DefaultTimestamp.Nanosecond())
	if wantSeconds != 1438467123 {
		t.Fatalf("DefaultTimestamp seconds = %d, want 1438467123", wantSeconds)
	}
	for name, got := range map[string][2]uint64{
		"atime": {file.Atime, uint64(file.Atimensec)},
		"mtime": {file.Mtime, uint64(file.Mtimensec)},
		"ctime": {file.Ctime, uint64(file.Ctimensec)},
	} {
		if got[0] != wantSeconds || got[1] != uint64(wantNanoseconds) {
			t.Errorf("%s = %d.%09d, want %d.%09d", name, got[0], got[1], wantSeconds, wantNanoseconds)
		}
	}

	if status := bridge.GetAttr(nil, &fuse.GetAttrIn{InHeader: header(3)}, &fuse.AttrOut{}); status != fuse.ENOENT {
		t.Errorf("GetAttr(3) status = %v, want ENOENT", status)
	}
}

// direntAt decodes the fixed-size dirent header at the start of buf.
func direntAt(buf []byte) (ino, off uint64, name string) {
	ino = binary.NativeEndian.Uint64(buf[0:8])
	off = binary.NativeEndian.Uint64(buf[8:16])
	nameLength := binary.NativeEndian.Uint32(buf[16:20])
	return ino, off, string(buf[24 : 24+nameLength])
}

func TestBridgeReadDir(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	var open fuse.OpenOut
	if status := bridge.OpenDir(nil, &fuse.OpenIn{InHeader: header(rangefs.RootInode)}, &open); status != fuse.OK {
		t.Fatalf("OpenDir status = %v", status)
	}
	if open.Fh != uint64(rangefs.RootInode) {
		t.Errorf("OpenDir Fh = %d, want %d", open.Fh, rangefs.RootInode)
	}

	buf := make([]byte, 4096)
	list := fuse.NewDirEntryList(buf, 0)
	in := &fuse.ReadIn{InHeader: header(rangefs.RootInode), Fh: open.Fh, Offset: 0, Size: uint32(len(buf))}
	if status := bridge.ReadDir(nil, in, list); status != fuse.OK {
		t.Fatalf("ReadDir status = %v", status)
	}
	ino, off, name := direntAt(buf)
	if ino != uint64(rangefs.FileInode) || off != 1 || name != rangefs.DefaultFileName {
		t.Errorf("entry = (%d, %d, %q), want (%d, 1, %q)", ino, off, name, rangefs.FileInode, rangefs.DefaultFileName)
	}
	if list.Offset != 1 {
		t.Errorf("list Offset = %d, want 1", list.Offset)
	}

	// Resuming at the returned cookie yields nothing.
	buf = make([]byte, 4096)
	list = fuse.NewDirEntryList(buf, 1)
	in.Offset = 1
	if status := bridge.ReadDir(nil, in, list); status != fuse.OK {
		t.Fatalf("ReadDir(1) status = %v", status)
	}
	if ino, _, _ := direntAt(buf); ino != 0 {
		t.Errorf("ReadDir(1) wrote an entry with ino %d", ino)
	}

	if status := bridge.OpenDir(nil, &fuse.OpenIn{InHeader: header(rangefs.FileInode)}, &fuse.OpenOut{}); status != fuse.ENOENT {
		t.Errorf("OpenDir(file) status = %v, want ENOENT", status)
	}

	bridge.ReleaseDir(&fuse.ReleaseIn{InHeader: header(rangefs.RootInode), Fh: open.Fh})
}

func TestBridgeReadDirBufferFull(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	// Too small for even one entry.
	list := fuse.NewDirEntryList(make([]byte, 8), 0)
	in := &fuse.ReadIn{InHeader: header(rangefs.RootInode), Fh: uint64(rangefs.RootInode)}
	if status := bridge.ReadDir(nil, in, list); status != fuse.OK {
		t.Fatalf("ReadDir status = %v", status)
	}
	if list.Offset != 0 {
		t.Errorf("list Offset = %d, want 0 (nothing added)", list.Offset)
	}
}

func TestBridgeReadDirPlus(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	list := fuse.NewDirEntryList(make([]byte, 4096), 0)
	in := &fuse.ReadIn{InHeader: header(rangefs.RootInode), Fh: uint64(rangefs.RootInode)}
	if status := bridge.ReadDirPlus(nil, in, list); status != fuse.OK {
		t.Fatalf("ReadDirPlus status = %v", status)
	}
	if list.Offset != 1 {
		t.Errorf("list Offset = %d, want 1", list.Offset)
	}

	list = fuse.NewDirEntryList(make([]byte, 4096), 1)
	in.Offset = 1
	if status := bridge.ReadDirPlus(nil, in, list); status != fuse.OK {
		t.Fatalf("ReadDirPlus(1) status = %v", status)
	}
	if list.Offset != 1 {
		t.Errorf("list Offset after end = %d, want 1", list.Offset)
	}
}

func TestBridgeOpenReadRelease(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	var open fuse.OpenOut
	in := &fuse.OpenIn{InHeader: header(rangefs.FileInode), Flags: syscall.O_RDONLY}
	if status := bridge.Open(nil, in, &open); status != fuse.OK {
		t.Fatalf("Open status = %v", status)
	}
	if open.Fh != uint64(rangefs.FileInode) {
		t.Errorf("Open Fh = %d, want %d", open.Fh, rangefs.FileInode)
	}
	if open.OpenFlags&fuse.FOPEN_KEEP_CACHE == 0 {
		t.Errorf("OpenFlags = %#x, want FOPEN_KEEP_CACHE", open.OpenFlags)
	}

	tests := []struct {
		offset uint64
		size   uint32
		want   string
	}{
		{offset: 3, size: 5, want: "34567"},
		{offset: 8, size: 10, want: "89"},
		{offset: 0, size: 10, want: "0123456789"},
		{offset: 10, size: 4, want: ""},
		{offset: 100, size: 4, want: ""},
		{offset: 4, size: 0, want: ""},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("offset=%d/size=%d", test.offset, test.size), func(t *testing.T) {
			buf := make([]byte, test.size)
			result, status := bridge.Read(nil, &fuse.ReadIn{
				InHeader: header(rangefs.FileInode),
				Fh:       open.Fh,
				Offset:   test.offset,
				Size:     test.size,
			}, buf)
			if status != fuse.OK {
				t.Fatalf("Read status = %v", status)
			}
			defer result.Done()
			got, status := result.Bytes(buf)
			if status != fuse.OK {
				t.Fatalf("Bytes status = %v", status)
			}
			if string(got) != test.want {
				t.Errorf("Read = %q, want %q", got, test.want)
			}
		})
	}

	bridge.Release(nil, &fuse.ReleaseIn{InHeader: header(rangefs.FileInode), Fh: open.Fh})
}

func TestBridgeOpenErrors(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	tests := []struct {
		name  string
		inode rangefs.Inode
		flags uint32
		want  fuse.Status
	}{
		{name: "write only", inode: rangefs.FileInode, flags: syscall.O_WRONLY, want: fuse.EPERM},
		{name: "read write", inode: rangefs.FileInode, flags: syscall.O_RDWR, want: fuse.EPERM},
		{name: "root", inode: rangefs.RootInode, flags: syscall.O_RDONLY, want: fuse.ENOENT},
		{name: "unknown", inode: 7, flags: syscall.O_RDONLY, want: fuse.ENOENT},
		{name: "unknown for write", inode: 7, flags: syscall.O_WRONLY, want: fuse.ENOENT},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			in := &fuse.OpenIn{InHeader: header(test.inode), Flags: test.flags}
			if status := bridge.Open(nil, in, &fuse.OpenOut{}); status != test.want {
				t.Errorf("Open status = %v, want %v", status, test.want)
			}
		})
	}
}

func TestBridgeReadErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want fuse.Status
	}{
		{name: "unclassified", err: errors.New("connection reset"), want: fuse.EIO},
		{name: "errno", err: fmt.Errorf("fetching block 0: %w", syscall.ETIMEDOUT), want: fuse.Status(syscall.ETIMEDOUT)},
		{name: "cancelled", err: fmt.Errorf("fetching block 0: %w", context.Canceled), want: fuse.EINTR},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bridge := newTestBridge(t, &memorySource{data: []byte("0123456789"), err: test.err})
			_, status := bridge.Read(nil, &fuse.ReadIn{
				InHeader: header(rangefs.FileInode),
				Fh:       uint64(rangefs.FileInode),
				Offset:   0,
				Size:     4,
			}, make([]byte, 4))
			if status != test.want {
				t.Errorf("Read status = %v, want %v", status, test.want)
			}

			// The failure does not poison later requests.
			var attr fuse.AttrOut
			if status := bridge.GetAttr(nil, &fuse.GetAttrIn{InHeader: header(rangefs.FileInode)}, &attr); status != fuse.OK {
				t.Errorf("GetAttr after failed read status = %v", status)
			}
		})
	}
}

func TestBridgeReadOffsetOverflow(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	_, status := bridge.Read(nil, &fuse.ReadIn{
		InHeader: header(rangefs.FileInode),
		Fh:       uint64(rangefs.FileInode),
		Offset:   1 << 63,
		Size:     4,
	}, make([]byte, 4))
	if status != fuse.EINVAL {
		t.Errorf("Read status = %v, want EINVAL", status)
	}
}

func TestBridgeAccess(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	tests := []struct {
		name  string
		inode rangefs.Inode
		mask  uint32
		want  fuse.Status
	}{
		{name: "root exists", inode: rangefs.RootInode, mask: 0, want: fuse.OK},
		{name: "file read", inode: rangefs.FileInode, mask: 4, want: fuse.OK},
		{name: "file write", inode: rangefs.FileInode, mask: 2, want: fuse.EROFS},
		{name: "root write", inode: rangefs.RootInode, mask: 2 | 1, want: fuse.EROFS},
		{name: "unknown", inode: 9, mask: 4, want: fuse.ENOENT},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			in := &fuse.AccessIn{InHeader: header(test.inode), Mask: test.mask}
			if status := bridge.Access(nil, in); status != test.want {
				t.Errorf("Access status = %v, want %v", status, test.want)
			}
		})
	}
}

func TestBridgeStatFs(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})

	var out fuse.StatfsOut
	in := header(rangefs.RootInode)
	if status := bridge.StatFs(nil, &in, &out); status != fuse.OK {
		t.Fatalf("StatFs status = %v", status)
	}
	if out.Bsize != 262144 || out.Frsize != 262144 {
		t.Errorf("Bsize/Frsize = %d/%d, want 262144", out.Bsize, out.Frsize)
	}
	if out.Files != 2 {
		t.Errorf("Files = %d, want 2", out.Files)
	}
	if out.NameLen != maxNameLength {
		t.Errorf("NameLen = %d, want %d", out.NameLen, maxNameLength)
	}
}

func TestBridgeRejectsMutations(t *testing.T) {
	bridge := newTestBridge(t, &memorySource{data: []byte("0123456789")})
	root := header(rangefs.RootInode)

	statuses := map[string]fuse.Status{
		"setattr": bridge.SetAttr(nil, &fuse.SetAttrIn{}, &fuse.AttrOut{}),
		"create":  bridge.Create(nil, &fuse.CreateIn{InHeader: root}, "new", &fuse.CreateOut{}),
		"mkdir":   bridge.Mkdir(nil, &fuse.MkdirIn{InHeader: root}, "dir", &fuse.EntryOut{}),
		"mknod":   bridge.Mknod(nil, &fuse.MknodIn{InHeader: root}, "node", &fuse.EntryOut{}),
		"unlink":  bridge.Unlink(nil, &root, rangefs.DefaultFileName),
		"rmdir":   bridge.Rmdir(nil, &root, "dir"),
		"rename":  bridge.Rename(nil, &fuse.RenameIn{InHeader: root}, rangefs.DefaultFileName, "other"),
		"link":    bridge.Link(nil, &fuse.LinkIn{InHeader: root}, "hard", &fuse.EntryOut{}),
		"symlink": bridge.Symlink(nil, &root, rangefs.DefaultFileName, "soft", &fuse.EntryOut{}),
	}
	_, writeStatus := bridge.Write(nil, &fuse.WriteIn{InHeader: header(rangefs.FileInode)}, []byte("x"))
	statuses["write"] = writeStatus

	for name, status := range statuses {
		if status != fuse.EROFS {
			t.Errorf("%s status = %v, want EROFS", name, status)
		}
	}
}

func TestCancelContext(t *testing.T) {
	cancel := make(chan struct{})
	ctx, stop := cancelContext(cancel)
	defer stop()

	if ctx.Err() != nil {
		t.Fatalf("context done before interrupt: %v", ctx.Err())
	}
	close(cancel)

	testutil.RequireClosed(t, ctx.Done(), 5*time.Second, "context cancelled after interrupt")

	nilCtx, nilStop := cancelContext(nil)
	if nilCtx.Err() != nil {
		t.Errorf("nil channel context done early: %v", nilCtx.Err())
	}
	nilStop()
	if nilCtx.Err() == nil {
		t.Error("stop did not cancel the context")
	}
}
