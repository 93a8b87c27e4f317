// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ioutil

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestReadAppendAndWriteSomeRoundTrip(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer Close(fds[0])
	defer Close(fds[1])

	payload := []byte("hello dispatchd")
	if !WriteAll(fds[0], payload) {
		t.Fatalf("WriteAll failed")
	}

	var buf []byte
	for len(buf) < len(payload) {
		var n int
		buf, n, err = ReadAppend(fds[1], buf, 64)
		if err != nil {
			t.Fatalf("ReadAppend: %v", err)
		}
		if n == 0 {
			t.Fatalf("unexpected EOF before full payload read")
		}
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q, want %q", buf, payload)
	}
}

func TestReadAppendReturnsEOF(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer Close(fds[1])
	Close(fds[0])

	buf, n, err := ReadAppend(fds[1], nil, 64)
	if err != nil {
		t.Fatalf("ReadAppend: %v", err)
	}
	if n != 0 || len(buf) != 0 {
		t.Fatalf("expected EOF (0, nil buf), got n=%d buf=%q", n, buf)
	}
}

func TestReadAppendWouldBlockOnNonblockingEmptySocket(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer Close(fds[0])
	defer Close(fds[1])

	if err := SetNonblock(fds[1], true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	_, _, err = ReadAppend(fds[1], nil, 64)
	if err != ErrWouldBlock {
		t.Fatalf("expected ErrWouldBlock, got %v", err)
	}
}
