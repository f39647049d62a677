// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the optional rangefs mount configuration file.
//
// Configuration comes from a single file named by the --config flag.
// There is no environment variable, no ~/.config discovery, and no
// automatic file search. Command-line flags that were set explicitly
// take precedence over the file; everything else falls back to the file
// and then to [Default].
//
// The format is chosen by extension: .yaml and .yml are parsed with
// gopkg.in/yaml.v3, and .json and .jsonc are parsed as JSON after
// stripping comments and trailing commas. Unknown keys are rejected in
// both formats so that a misspelled option fails loudly instead of
// silently keeping its default.
//
// ${HOME} and ${VAR:-default} patterns in the mountpoint are expanded
// after loading.
//
// This package depends on no other rangefs packages.
package config
