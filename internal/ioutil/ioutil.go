// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ioutil implements the non-blocking-safe byte-stream primitives
// (spec.md §4.2): read-append and write-some, retrying only on interruption,
// never on would-block. Unlike framer's readOnce/writeOnce (which retry on
// ErrWouldBlock to emulate cooperative blocking), these helpers let
// would-block propagate to the caller so the event loop can reschedule the
// fd instead of spinning.
package ioutil

import (
	"errors"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// ErrWouldBlock reports that the fd would have blocked (EAGAIN/EWOULDBLOCK).
// It is not an error in the usual sense: the caller should retry after the
// fd is next reported ready by the multiplexer.
//
// Re-exported from code.hybscloud.com/iox (the teacher's own non-blocking
// I/O dependency, see framer.go's "ErrWouldBlock = iox.ErrWouldBlock"
// package-level alias) rather than a locally defined sentinel, so callers
// elsewhere in this module can compare against the same control-flow error
// the teacher's stack already standardizes on.
var ErrWouldBlock = iox.ErrWouldBlock

func retryableInterrupt(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// ReadAppend reads up to cap bytes from fd and appends them to buf. It
// returns the updated buffer and the number of bytes read. A return of
// (buf, 0, nil) means EOF. ErrWouldBlock is returned verbatim so the caller
// can reschedule rather than spin; any other non-nil error is unrecoverable.
func ReadAppend(fd int, buf []byte, capHint int) ([]byte, int, error) {
	scratch := make([]byte, capHint)
	for {
		n, err := unix.Read(fd, scratch)
		if err != nil {
			if retryableInterrupt(err) {
				continue
			}
			if isWouldBlock(err) {
				return buf, 0, ErrWouldBlock
			}
			return buf, 0, err
		}
		if n == 0 {
			return buf, 0, nil
		}
		return append(buf, scratch[:n]...), n, nil
	}
}

// WriteSome writes a best-effort prefix of buf to fd and returns the number
// of bytes written. The caller is responsible for erasing that prefix.
func WriteSome(fd int, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if retryableInterrupt(err) {
				continue
			}
			if isWouldBlock(err) {
				return 0, ErrWouldBlock
			}
			return n, err
		}
		return n, nil
	}
}

// ReadExact blocks (the fd must be in blocking mode) until exactly n bytes
// have been read or EOF is reached. A returned slice shorter than n implies
// EOF was reached first.
func ReadExact(fd int, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	scratch := make([]byte, n)
	for len(out) < n {
		rn, err := unix.Read(fd, scratch[:n-len(out)])
		if err != nil {
			if retryableInterrupt(err) {
				continue
			}
			return out, err
		}
		if rn == 0 {
			return out, nil
		}
		out = append(out, scratch[:rn]...)
	}
	return out, nil
}

// WriteAll writes every byte of buf to fd, retrying on interruption and on
// partial writes, returning false only on an unrecoverable error.
func WriteAll(fd int, buf []byte) bool {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			if retryableInterrupt(err) {
				continue
			}
			return false
		}
		buf = buf[n:]
	}
	return true
}

// Close closes fd, retrying on interruption.
func Close(fd int) bool {
	for {
		err := unix.Close(fd)
		if err == nil {
			return true
		}
		if retryableInterrupt(err) {
			continue
		}
		return false
	}
}

// SetNonblock toggles O_NONBLOCK on fd, mirroring the framer package's
// habit of exposing narrow, single-purpose fd helpers.
func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}
