// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select against a timer) so that individual
// tests do not need direct time.After calls. Tests drive time through
// clock.Fake; these helpers are the only place a real wall-clock
// timeout is used, and only to turn a hang into a failure.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no rangefs-internal dependencies.
package testutil
