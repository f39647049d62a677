// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rangefs/lib/config"
)

// invocation is the parsed command line merged with the optional
// config file.
type invocation struct {
	config *config.Config

	debug       bool
	showHelp    bool
	showVersion bool
}

// parseCommandLine parses args. When --config names a file it is
// loaded first and only flags given explicitly on the command line
// replace its values.
func parseCommandLine(args []string, output io.Writer) (*invocation, *pflag.FlagSet, error) {
	defaults := config.Default()
	flags := *defaults

	var (
		configPath string
		result     invocation
	)

	flagSet := pflag.NewFlagSet("rangefs", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {}
	flagSet.BoolVar(&result.debug, "debug", false, "enable debug logging")
	flagSet.BoolVar(&flags.Mount.DebugFUSE, "debug-fuse", false, "log every FUSE request and reply")
	flagSet.StringVar(&flags.URL, "url", defaults.URL, "remote http or https resource to mount")
	flagSet.StringVar(&flags.Name, "name", defaults.Name, "file name inside the mount")
	flagSet.IntVar(&flags.Remote.BlockSize, "block-size", defaults.Remote.BlockSize, "bytes fetched per ranged request")
	flagSet.IntVar(&flags.Remote.CacheBlocks, "cache-blocks", defaults.Remote.CacheBlocks, "blocks kept in the LRU cache (0 disables)")
	flagSet.StringVar(&flags.Remote.Compression, "compression", defaults.Remote.Compression, "cache compression: none, lz4, or zstd")
	flagSet.IntVar(&flags.Remote.ReadAhead, "read-ahead", defaults.Remote.ReadAhead, "blocks to prefetch after a cache miss")
	flagSet.IntVar(&flags.Remote.Retries, "retries", defaults.Remote.Retries, "retries for a failed block fetch")
	flagSet.StringVar(&flags.Remote.RetryBackoff, "retry-backoff", defaults.Remote.RetryBackoff, "delay before the first retry, doubled per attempt")
	flagSet.StringVar(&flags.Remote.UserAgent, "user-agent", "", "User-Agent header (default: rangefs/<version>)")
	flagSet.BoolVar(&flags.Mount.AllowOther, "allow-other", false, "allow other users to access the mount")
	flagSet.StringVar(&flags.Mount.FsName, "fsname", defaults.Mount.FsName, "filesystem name shown in the mount table")
	flagSet.BoolVar(&flags.Mount.Concurrent, "concurrent", false, "serve FUSE requests concurrently")
	flagSet.BoolVar(&flags.Inspect, "inspect", false, "log the MBTiles metadata of the mounted file once ready")
	flagSet.StringVar(&configPath, "config", "", "YAML or JSONC config file")
	flagSet.BoolVar(&result.showVersion, "version", false, "print version information and exit")
	flagSet.BoolVarP(&result.showHelp, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			result.showHelp = true
			return &result, flagSet, nil
		}
		return nil, flagSet, err
	}
	if result.showHelp || result.showVersion {
		return &result, flagSet, nil
	}

	cfg := defaults
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return nil, flagSet, err
		}
		cfg = loaded
	}
	applyChangedFlags(flagSet, cfg, &flags)

	switch positional := flagSet.Args(); len(positional) {
	case 0:
	case 1:
		cfg.Mountpoint = positional[0]
	default:
		return nil, flagSet, fmt.Errorf("expected one mountpoint, got %d arguments", len(positional))
	}
	if cfg.Mountpoint == "" {
		return nil, flagSet, fmt.Errorf("mountpoint is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, flagSet, err
	}

	result.config = cfg
	return &result, flagSet, nil
}

// applyChangedFlags copies the value of every flag set on the command
// line from flags into cfg.
func applyChangedFlags(flagSet *pflag.FlagSet, cfg *config.Config, flags *config.Config) {
	overrides := map[string]func(){
		"debug-fuse":    func() { cfg.Mount.DebugFUSE = flags.Mount.DebugFUSE },
		"url":           func() { cfg.URL = flags.URL },
		"name":          func() { cfg.Name = flags.Name },
		"block-size":    func() { cfg.Remote.BlockSize = flags.Remote.BlockSize },
		"cache-blocks":  func() { cfg.Remote.CacheBlocks = flags.Remote.CacheBlocks },
		"compression":   func() { cfg.Remote.Compression = flags.Remote.Compression },
		"read-ahead":    func() { cfg.Remote.ReadAhead = flags.Remote.ReadAhead },
		"retries":       func() { cfg.Remote.Retries = flags.Remote.Retries },
		"retry-backoff": func() { cfg.Remote.RetryBackoff = flags.Remote.RetryBackoff },
		"user-agent":    func() { cfg.Remote.UserAgent = flags.Remote.UserAgent },
		"allow-other":   func() { cfg.Mount.AllowOther = flags.Mount.AllowOther },
		"fsname":        func() { cfg.Mount.FsName = flags.Mount.FsName },
		"concurrent":    func() { cfg.Mount.Concurrent = flags.Mount.Concurrent },
		"inspect":       func() { cfg.Inspect = flags.Inspect },
	}
	flagSet.Visit(func(flag *pflag.Flag) {
		if apply, ok := overrides[flag.Name]; ok {
			apply()
		}
	})
}

func printHelp(output io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(output, `rangefs mounts a remote HTTP resource as a read-only file.

The mount contains one file whose reads are served by ranged GET
requests. The server must support byte ranges.

Usage:
  rangefs [flags] <mountpoint>

Examples:
  # Mount the default tileset
  rangefs /mnt/tiles

  # Mount another resource with a compressed cache and read-ahead
  rangefs --url https://example.com/planet.mbtiles --name planet.mbtiles \
      --compression zstd --cache-blocks 256 --read-ahead 2 /mnt/planet

  # Mount and log the tileset's name, format, zoom range, and bounds
  rangefs --inspect /mnt/tiles

  # Use a config file, overriding one value
  rangefs --config /etc/rangefs.yaml --debug /mnt/tiles

Flags:
`)
	flagSet.SetOutput(output)
	flagSet.PrintDefaults()
}
