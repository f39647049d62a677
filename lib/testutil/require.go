// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import "time"

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first. message names
// what the test was waiting for.
//
//	got := testutil.RequireReceive(t, done, 5*time.Second, "waiting for read")
func RequireReceive[T any](t TB, ch <-chan T, timeout time.Duration, message string) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed with no value", message)
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received after %v", message, timeout)
	}
	panic("unreachable")
}

// RequireClosed fails the test unless ch is closed (or delivers a
// value) within timeout.
func RequireClosed(t TB, ch <-chan struct{}, timeout time.Duration, message string) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: still open after %v", message, timeout)
	}
}
