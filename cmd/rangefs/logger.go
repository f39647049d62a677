// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger creates the process logger. When stderr is a terminal it
// uses slog.TextHandler for human-readable output; otherwise (systemd,
// redirection, tests) slog.JSONHandler.
func newLogger(level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
