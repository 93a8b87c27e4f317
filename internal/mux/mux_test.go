// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mux

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestWaitReportsReadableFD(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if _, err := unix.Write(fds[0], []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	ready, err := Wait([]Want{{FD: fds[1], WantRead: true}}, 1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 1 || !ready[0].Readable {
		t.Fatalf("expected fds[1] readable, got %+v", ready)
	}
}

func TestWaitTimesOutWithNoActivity(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	ready, err := Wait([]Want{{FD: fds[1], WantRead: true}}, 50)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(ready) != 0 {
		t.Fatalf("expected no readiness, got %+v", ready)
	}
}
