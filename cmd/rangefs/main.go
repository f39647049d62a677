// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/bureau-foundation/rangefs/lib/config"
	"github.com/bureau-foundation/rangefs/lib/mbtiles"
	"github.com/bureau-foundation/rangefs/lib/process"
	"github.com/bureau-foundation/rangefs/lib/rangefs"
	rangefuse "github.com/bureau-foundation/rangefs/lib/rangefs/fuse"
	"github.com/bureau-foundation/rangefs/lib/remote"
	"github.com/bureau-foundation/rangefs/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	parsed, flagSet, err := parseCommandLine(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	if parsed.showHelp {
		printHelp(os.Stderr, flagSet)
		return nil
	}
	if parsed.showVersion {
		fmt.Printf("rangefs %s\n", version.Info())
		return nil
	}

	level := slog.LevelInfo
	if parsed.debug {
		level = slog.LevelDebug
		debug.SetTraceback("all")
	}
	logger := newLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, parsed.config, logger)
}

// serve mounts cfg and blocks until the filesystem is unmounted, either
// by ctx being cancelled or externally with fusermount -u.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	sourceOptions, err := remoteOptions(cfg, logger)
	if err != nil {
		return err
	}

	source, err := remote.Open(ctx, cfg.URL, sourceOptions)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.URL, err)
	}
	defer source.Close()

	adapter, err := rangefs.New(source, rangefs.Options{
		FileName: cfg.Name,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	server, err := rangefuse.Mount(rangefuse.Options{
		Mountpoint: cfg.Mountpoint,
		Operations: adapter,
		FsName:     cfg.Mount.FsName,
		BlockSize:  source.BlockSize(),
		Concurrent: cfg.Mount.Concurrent,
		AllowOther: cfg.Mount.AllowOther,
		Debug:      cfg.Mount.DebugFUSE,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("serving remote file",
		"url", cfg.URL,
		"name", cfg.Name,
		"length", source.Length(),
		"mountpoint", cfg.Mountpoint,
	)

	if cfg.Inspect {
		inspectTileset(ctx, filepath.Join(cfg.Mountpoint, cfg.Name), logger)
	}

	served := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("unmounting", "mountpoint", cfg.Mountpoint)
			if err := server.Unmount(); err != nil {
				logger.Error("failed to unmount FUSE filesystem", "mountpoint", cfg.Mountpoint, "error", err)
			}
		case <-served:
		}
	}()

	server.Wait()
	close(served)

	stats := source.Stats()
	logger.Info("FUSE filesystem unmounted",
		"mountpoint", cfg.Mountpoint,
		"fetches", stats.Fetches,
		"bytes_fetched", stats.BytesFetched,
		"cache_hits", stats.CacheHits,
		"cache_misses", stats.CacheMisses,
		"retries", stats.Retries,
	)
	return nil
}

// inspectTileset logs the MBTiles metadata of the mounted file. A file
// that is not a tileset is reported and otherwise ignored.
func inspectTileset(ctx context.Context, path string, logger *slog.Logger) {
	tileset, err := mbtiles.Open(ctx, path, mbtiles.Options{Logger: logger})
	if err != nil {
		logger.Warn("cannot inspect mounted file", "path", path, "error", err)
		return
	}
	defer tileset.Close()

	metadata, err := tileset.Metadata(ctx)
	if err != nil {
		logger.Warn("cannot read tileset metadata", "path", path, "error", err)
		return
	}
	logger.Info("tileset metadata",
		"path", path,
		"name", metadata.Name,
		"format", metadata.Format,
		"minzoom", metadata.MinZoom,
		"maxzoom", metadata.MaxZoom,
		"bounds", metadata.Bounds,
	)
}

// remoteOptions translates the config into remote.Options. Zero in the
// config means "off" for the cache and retries, which remote.Options
// spells as a negative value.
func remoteOptions(cfg *config.Config, logger *slog.Logger) (remote.Options, error) {
	compression, err := remote.ParseCompression(cfg.Remote.Compression)
	if err != nil {
		return remote.Options{}, err
	}

	options := remote.Options{
		BlockSize:    cfg.Remote.BlockSize,
		CacheBlocks:  cfg.Remote.CacheBlocks,
		Compression:  compression,
		Retries:      cfg.Remote.Retries,
		RetryBackoff: cfg.RetryBackoffDuration(),
		ReadAhead:    cfg.Remote.ReadAhead,
		UserAgent:    cfg.Remote.UserAgent,
		Logger:       logger,
	}
	if options.CacheBlocks == 0 {
		options.CacheBlocks = -1
	}
	if options.Retries == 0 {
		options.Retries = -1
	}
	if options.UserAgent == "" {
		options.UserAgent = version.UserAgent()
	}
	return options, nil
}
