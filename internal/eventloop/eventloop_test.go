// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package eventloop

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/dispatchd/internal/selfpipe"
	"code.hybscloud.com/dispatchd/internal/wire"
)

type recordingRouter struct {
	routed    []wire.Message
	malformed int
}

func (r *recordingRouter) Route(connID int64, m wire.Message) { r.routed = append(r.routed, m) }
func (r *recordingRouter) Malformed(connID int64, skipped []byte) { r.malformed++ }

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	p, err := selfpipe.New()
	if err != nil {
		t.Fatalf("selfpipe.New: %v", err)
	}
	t.Cleanup(p.Close)
	return New(p, nil, nil)
}

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestQueueResponseThenDispatchAppendsToWriteBuffer(t *testing.T) {
	l := newTestLoop(t)
	fd0, fd1 := socketpair(t)
	l.connections[1] = &conn{id: 1, readFD: fd0, writeFD: fd1}

	l.QueueResponse(1, []byte("hello"))

	buf := make([]byte, 8)
	n, err := unix.Read(l.pipe.ReadFD, buf)
	if err != nil || n != 1 || buf[0] != selfpipe.ReadyResponse {
		t.Fatalf("expected a single ReadyResponse nudge, got n=%d err=%v", n, err)
	}

	l.dispatchResponses()
	if string(l.connections[1].writeData) != "hello" {
		t.Fatalf("got %q", l.connections[1].writeData)
	}
}

func TestDispatchResponsesDropsUnknownConnection(t *testing.T) {
	l := newTestLoop(t)
	l.QueueResponse(99, []byte("orphan"))
	l.dispatchResponses() // must not panic; connection 99 was never registered
}

func TestReadConnRoutesCompleteMessages(t *testing.T) {
	l := newTestLoop(t)
	fd0, fd1 := socketpair(t)
	router := &recordingRouter{}
	l.router = router

	c := &conn{id: 7, readFD: fd0, writeFD: fd0}
	l.connections[7] = c

	if _, err := unix.Write(fd1, []byte("13 abc Gversion ")); err != nil {
		t.Fatalf("write: %v", err)
	}

	l.readConn(c)

	if len(router.routed) != 1 {
		t.Fatalf("expected 1 routed message, got %d", len(router.routed))
	}
	if router.routed[0].MsgID != "abc" || router.routed[0].Target != "Gversion" {
		t.Fatalf("unexpected message: %+v", router.routed[0])
	}
	if len(c.readData) != 0 {
		t.Fatalf("expected read buffer fully consumed, left %q", c.readData)
	}
}

func TestReadConnMarksClosingOnEOF(t *testing.T) {
	l := newTestLoop(t)
	fd0, fd1 := socketpair(t)
	unix.Close(fd1) // peer closed: fd0 will read EOF

	c := &conn{id: 1, readFD: fd0, writeFD: fd0}
	l.connections[1] = c

	l.readConn(c)

	if !c.closing {
		t.Fatalf("expected connection marked closing on EOF")
	}
}

func TestWriteConnFlushesBuffer(t *testing.T) {
	l := newTestLoop(t)
	fd0, fd1 := socketpair(t)

	c := &conn{id: 1, readFD: fd0, writeFD: fd0, writeData: []byte("hi")}
	l.writeConn(c)

	buf := make([]byte, 8)
	n, err := unix.Read(fd1, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hi" {
		t.Fatalf("got %q", buf[:n])
	}
	if len(c.writeData) != 0 {
		t.Fatalf("expected write buffer drained")
	}
}

func TestWriteConnClosesAfterFlushWhenRequested(t *testing.T) {
	l := newTestLoop(t)
	fd0, fd1 := socketpair(t)
	_ = fd1

	c := &conn{id: 1, readFD: fd0, writeFD: fd0, writeData: []byte("x"), closeAfterFlush: true}
	l.writeConn(c)

	if !c.closing {
		t.Fatalf("expected connection marked closing once its flush completed")
	}
}

func TestRunReturnsOnObservedShutdown(t *testing.T) {
	l := newTestLoop(t)
	if err := l.pipe.Nudge(selfpipe.Shutdown); err != nil {
		t.Fatalf("Nudge: %v", err)
	}

	done := make(chan bool, 1)
	go func() { done <- l.Run() }()

	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected Run to report success, err=%v", l.Err())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after observing shutdown")
	}
}
