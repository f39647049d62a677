// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that retry
// backoff in the remote block fetcher can be driven deterministically
// in tests.
//
// Production code uses Real(). Tests use Fake(), which only advances
// when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go fetchWithRetries(c)
//	c.WaitForTimers(1)          // the fetcher is now sleeping
//	c.Advance(250 * time.Millisecond)
package clock
