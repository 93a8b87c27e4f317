// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package selfpipe implements the internal wake-up byte-pipe the event loop
// multiplexes on alongside connection fds (spec.md §4.7, §4.9, §6). It plays
// the same role as the teacher's framer.NewPipe (an always-ready-to-use
// reader/writer pair constructed in one call) but backed by a real OS pipe
// rather than an in-memory io.Pipe, since the event loop needs an fd it can
// hand to the poll-based multiplexer alongside socket fds.
package selfpipe

import "golang.org/x/sys/unix"

// Shutdown and ReadyResponse are the only two meaningful bytes carried on
// the pipe; any other byte is tolerated and simply causes a response-queue
// drain, per spec.md Design Notes §9.
const (
	Shutdown      byte = 'S'
	ReadyResponse byte = 'R'
)

// Pipe is a non-blocking self-pipe: ReadFD is polled by the event loop,
// WriteFD is nudged by any concurrent unit that needs to wake it.
type Pipe struct {
	ReadFD  int
	WriteFD int
}

// New creates a non-blocking pipe pair.
func New() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Pipe{ReadFD: fds[0], WriteFD: fds[1]}, nil
}

// Nudge writes a single byte to the pipe, ignoring EAGAIN: the pipe is
// non-blocking and a full buffer still carries the same meaning as one
// byte, since receivers coalesce arbitrarily (spec.md Design Notes §9).
func (p *Pipe) Nudge(b byte) error {
	_, err := unix.Write(p.WriteFD, []byte{b})
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil
	}
	return err
}

// Close closes both ends of the pipe.
func (p *Pipe) Close() {
	unix.Close(p.ReadFD)
	unix.Close(p.WriteFD)
}
