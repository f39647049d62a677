// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultURL is the remote resource mounted when neither the file nor
// the command line names one.
const DefaultURL = "http://mike.teczno.com/img/openaddr-us-ca-dots.mbtiles"

// Compressions lists the accepted values of remote.compression.
var Compressions = []string{"none", "lz4", "zstd"}

// Config is the mount configuration.
type Config struct {
	// URL is the http or https resource exposed as the file.
	URL string `yaml:"url" json:"url"`

	// Name is the file name inside the mount.
	Name string `yaml:"name" json:"name"`

	// Mountpoint is where the filesystem is mounted. The command line
	// argument overrides it.
	Mountpoint string `yaml:"mountpoint" json:"mountpoint"`

	// Inspect opens the mounted file as an MBTiles tileset once the
	// mount is ready and logs its metadata.
	Inspect bool `yaml:"inspect" json:"inspect"`

	// Remote configures fetching and caching of the resource.
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Mount configures the FUSE mount.
	Mount MountConfig `yaml:"mount" json:"mount"`
}

// RemoteConfig configures the remote block source.
type RemoteConfig struct {
	// BlockSize is the transfer and cache unit in bytes.
	// Default: 262144
	BlockSize int `yaml:"block_size" json:"block_size"`

	// CacheBlocks is the LRU capacity in blocks. Zero disables the
	// cache.
	// Default: 64
	CacheBlocks int `yaml:"cache_blocks" json:"cache_blocks"`

	// Compression is how cached blocks are stored: none, lz4, or zstd.
	// Default: none
	Compression string `yaml:"compression" json:"compression"`

	// ReadAhead is the number of blocks prefetched after a miss.
	// Default: 0
	ReadAhead int `yaml:"read_ahead" json:"read_ahead"`

	// Retries is how many times a failed block fetch is retried.
	// Default: 3
	Retries int `yaml:"retries" json:"retries"`

	// RetryBackoff is the delay before the first retry, as a Go
	// duration string. It doubles on each attempt.
	// Default: 250ms
	RetryBackoff string `yaml:"retry_backoff" json:"retry_backoff"`

	// UserAgent is sent with every request. Empty uses the binary's
	// version string.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// MountConfig configures the FUSE mount.
type MountConfig struct {
	// FsName is the source column of the mount table.
	// Default: rangefs
	FsName string `yaml:"fsname" json:"fsname"`

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other" json:"allow_other"`

	// Concurrent serves requests on multiple goroutines.
	Concurrent bool `yaml:"concurrent" json:"concurrent"`

	// DebugFUSE logs every FUSE request and reply.
	DebugFUSE bool `yaml:"debug_fuse" json:"debug_fuse"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		URL:  DefaultURL,
		Name: "dots.mbtiles",
		Remote: RemoteConfig{
			BlockSize:    256 << 10,
			CacheBlocks:  64,
			Compression:  "none",
			ReadAhead:    0,
			Retries:      3,
			RetryBackoff: "250ms",
		},
		Mount: MountConfig{
			FsName: "rangefs",
		},
	}
}

// LoadFile loads configuration from path on top of Default. The format
// is chosen by the file extension.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch extension := strings.ToLower(filepath.Ext(path)); extension {
	case ".yaml", ".yml":
		err = cfg.decodeYAML(data)
	case ".json", ".jsonc":
		err = cfg.decodeJSONC(data)
	default:
		return nil, fmt.Errorf("config %s: unsupported extension %q (want .yaml, .yml, .json, or .jsonc)", path, extension)
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

func (c *Config) decodeJSONC(data []byte) error {
	stripped := jsonc.ToJSON(data)
	if len(bytes.TrimSpace(stripped)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// mountpoint.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Mountpoint = expandVars(c.Mountpoint, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// RetryBackoffDuration parses Remote.RetryBackoff. Call Validate first;
// an unparseable value returns zero.
func (c *Config) RetryBackoffDuration() time.Duration {
	duration, err := time.ParseDuration(c.Remote.RetryBackoff)
	if err != nil {
		return 0
	}
	return duration
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.URL == "" {
		errs = append(errs, fmt.Errorf("url is required"))
	} else if parsed, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("url: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("url must be http or https, got scheme %q", parsed.Scheme))
	} else if parsed.Host == "" {
		errs = append(errs, fmt.Errorf("url %q has no host", c.URL))
	}

	if c.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	} else if c.Name == "." || c.Name == ".." || strings.ContainsAny(c.Name, "/\x00") {
		errs = append(errs, fmt.Errorf("name %q is not a valid file name", c.Name))
	}

	if c.Remote.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("remote.block_size must be positive, got %d", c.Remote.BlockSize))
	}
	if c.Remote.CacheBlocks < 0 {
		errs = append(errs, fmt.Errorf("remote.cache_blocks must not be negative, got %d", c.Remote.CacheBlocks))
	}
	if !slices.Contains(Compressions, c.Remote.Compression) {
		errs = append(errs, fmt.Errorf("remote.compression must be one of: %v", Compressions))
	}
	if c.Remote.ReadAhead < 0 {
		errs = append(errs, fmt.Errorf("remote.read_ahead must not be negative, got %d", c.Remote.ReadAhead))
	}
	if c.Remote.Retries < 0 {
		errs = append(errs, fmt.Errorf("remote.retries must not be negative, got %d", c.Remote.Retries))
	}
	if duration, err := time.ParseDuration(c.Remote.RetryBackoff); err != nil {
		errs = append(errs, fmt.Errorf("remote.retry_backoff: %w", err))
	} else if duration < 0 {
		errs = append(errs, fmt.Errorf("remote.retry_backoff must not be negative, got %s", duration))
	}

	if c.Mount.FsName == "" {
		errs = append(errs, fmt.Errorf("mount.fsname is required"))
	} else if strings.Contains(c.Mount.FsName, ",") {
		errs = append(errs, fmt.Errorf("mount.fsname %q must not contain a comma", c.Mount.FsName))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
