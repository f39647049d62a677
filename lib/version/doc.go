// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the rangefs
// binary.
//
// Four package-level variables are injected at build time via
// -ldflags -X, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/rangefs/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// These default to "unknown" / "0.1.0-dev" when not injected, which
// occurs during development builds and test runs.
//
//   - [Info] -- "0.1.0-dev (abc1234, 2026-02-10T...)" for --version
//   - [Full] -- Info plus Go version and GOOS/GOARCH
//   - [UserAgent] -- the User-Agent header for remote requests
package version
