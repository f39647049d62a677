// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how cached blocks are held in memory. Remote
// blocks are fetched uncompressed; compressing them in the cache trades
// CPU on every cache hit for a larger effective cache.
type Compression uint8

const (
	// CompressionNone stores blocks as fetched.
	CompressionNone Compression = iota

	// CompressionLZ4 stores blocks with LZ4 block compression. Cheap
	// to decode, modest ratio.
	CompressionLZ4

	// CompressionZstd stores blocks with zstd at the default level.
	// Better ratio for tile databases full of repetitive SQLite pages.
	CompressionZstd
)

// String returns the flag-friendly name of a compression mode.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression mode from its name. The empty
// string selects CompressionNone.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// errIncompressible is returned when compressing a block would not
// make it smaller. The cache then stores the block raw.
var errIncompressible = errors.New("block is incompressible")

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll/DecodeAll, so one of each serves every Source.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("remote: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("remote: zstd decoder initialization failed: " + err.Error())
	}
}

// compressBlock compresses data with the given mode. CompressionNone
// returns data unchanged (no copy).
func compressBlock(data []byte, mode Compression) ([]byte, error) {
	switch mode {
	case CompressionNone:
		return data, nil

	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for incompressible input.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("unsupported compression %s", mode)
	}
}

// decompressBlock reverses compressBlock. The decoded length must equal
// size exactly.
func decompressBlock(data []byte, mode Compression, size int) ([]byte, error) {
	switch mode {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("raw block: size %d does not match expected %d", len(data), size)
		}
		return data, nil

	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unsupported compression %s", mode)
	}
}
