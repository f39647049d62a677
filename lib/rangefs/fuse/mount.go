// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/bureau-foundation/rangefs/lib/rangefs"
)

const (
	// DefaultFsName is the filesystem name shown in the mount table.
	DefaultFsName = "rangefs"

	// DefaultBlockSize is reported as st_blksize and the STATFS block
	// size when Options.BlockSize is zero.
	DefaultBlockSize = 4096

	// DefaultTimeout is the kernel's entry and attribute cache
	// lifetime when the Options leave them zero.
	DefaultTimeout = 1 * time.Second
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Operations answers the kernel's requests.
	Operations rangefs.Operations

	// FsName is the source column of the mount table. Empty uses
	// DefaultFsName.
	FsName string

	// Name is the filesystem subtype ("fuse.<Name>"). Empty uses
	// FsName.
	Name string

	// BlockSize is the preferred I/O size reported to callers,
	// normally the remote source's transfer block size.
	BlockSize int

	// EntryTimeout and AttrTimeout control how long the kernel caches
	// lookups and attributes. Zero uses DefaultTimeout.
	EntryTimeout time.Duration
	AttrTimeout  time.Duration

	// Concurrent dispatches requests on multiple goroutines. The
	// default serves one request at a time.
	Concurrent bool

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug logs every FUSE request and reply. The trace is written
	// at info level so it does not depend on the logger's level.
	Debug bool

	// Logger receives diagnostic messages. If nil, errors (and with
	// Debug, the request trace) are written to stderr.
	Logger *slog.Logger
}

// Mount mounts the filesystem at the configured mountpoint and waits
// until the kernel has completed the handshake. The caller must call
// Unmount on the returned Server when done, and may call Wait to
// block until the serve loop exits.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Operations == nil {
		return nil, fmt.Errorf("operations are required")
	}
	if options.BlockSize < 0 {
		return nil, fmt.Errorf("block size must not be negative, got %d", options.BlockSize)
	}

	if options.FsName == "" {
		options.FsName = DefaultFsName
	}
	if options.Name == "" {
		options.Name = options.FsName
	}
	if options.BlockSize == 0 {
		options.BlockSize = DefaultBlockSize
	}
	if options.EntryTimeout == 0 {
		options.EntryTimeout = DefaultTimeout
	}
	if options.AttrTimeout == 0 {
		options.AttrTimeout = DefaultTimeout
	}
	if options.Logger == nil {
		options.Logger = defaultLogger(options.Debug)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	bridge := newRawBridge(&options)

	server, err := fuse.NewServer(bridge, options.Mountpoint, &fuse.MountOptions{
		FsName:         options.FsName,
		Name:           options.Name,
		AllowOther:     options.AllowOther,
		SingleThreaded: !options.Concurrent,
		Debug:          options.Debug,
		Logger:         serverLogger(options.Logger),
		DisableXAttrs:  true,
		Options:        []string{"ro"},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	go server.Serve()

	// The serve loop exits on its own when the handshake fails, so
	// there is no mount to tear down here.
	if err := server.WaitMount(); err != nil {
		return nil, fmt.Errorf("waiting for FUSE mount at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("FUSE filesystem mounted",
		"mountpoint", options.Mountpoint,
		"fsname", options.FsName,
		"concurrent", options.Concurrent,
	)
	return server, nil
}

func defaultLogger(debug bool) *slog.Logger {
	level := slog.LevelError
	if debug {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// serverLogger adapts logger for go-fuse, which prints both its request
// trace and its own serve-loop failures through Printf. Every line is
// logged at info level.
func serverLogger(logger *slog.Logger) *log.Logger {
	return slog.NewLogLogger(logger.Handler(), slog.LevelInfo)
}
