// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recordingTB captures the first Fatalf and stops the calling
// goroutine the way testing.T does.
type recordingTB struct {
	failure string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failure = fmt.Sprintf(format, args...)
	panic(r)
}

// run calls body and reports the Fatalf message, if any.
func (r *recordingTB) run(body func()) string {
	defer func() {
		if recovered := recover(); recovered != nil && recovered != r {
			panic(recovered)
		}
	}()
	body()
	return r.failure
}

func TestRequireReceiveReturnsValue(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 42
	if got := RequireReceive(t, ch, time.Second, "waiting for value"); got != 42 {
		t.Errorf("RequireReceive = %d, want 42", got)
	}
}

func TestRequireReceiveFailures(t *testing.T) {
	closed := make(chan int)
	close(closed)
	recorder := &recordingTB{}
	recorder.run(func() { RequireReceive(recorder, closed, time.Second, "waiting for result") })
	if !strings.HasPrefix(recorder.failure, "waiting for result: channel closed") {
		t.Errorf("closed channel failure = %q", recorder.failure)
	}

	recorder = &recordingTB{}
	recorder.run(func() { RequireReceive(recorder, make(chan int), time.Millisecond, "waiting for result") })
	if !strings.HasPrefix(recorder.failure, "waiting for result: nothing received") {
		t.Errorf("timeout failure = %q", recorder.failure)
	}
}

func TestRequireClosed(t *testing.T) {
	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second, "done closed")

	recorder := &recordingTB{}
	recorder.run(func() { RequireClosed(recorder, make(chan struct{}), time.Millisecond, "done closed") })
	if !strings.HasPrefix(recorder.failure, "done closed: still open") {
		t.Errorf("timeout failure = %q", recorder.failure)
	}
}
