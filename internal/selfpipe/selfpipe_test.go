// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package selfpipe

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestNudgeAndDrain(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Nudge(Shutdown); err != nil {
		t.Fatalf("Nudge: %v", err)
	}

	buf := make([]byte, 8)
	n, err := unix.Read(p.ReadFD, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 || buf[0] != Shutdown {
		t.Fatalf("expected single Shutdown byte, got %q", buf[:n])
	}
}

func TestNudgeToleratesCoalescing(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	for i := 0; i < 3; i++ {
		if err := p.Nudge(ReadyResponse); err != nil {
			t.Fatalf("Nudge: %v", err)
		}
	}
	buf := make([]byte, 8)
	n, err := unix.Read(p.ReadFD, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected at least one byte")
	}
}
