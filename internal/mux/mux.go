// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mux provides the level-triggered readiness multiplex primitive
// the event loop (spec.md §4.7) computes its readiness set with, backed by
// unix.Poll rather than epoll: the connection set here churns far more
// often than a typical long-lived epoll registration would tolerate well,
// and poll's "pass the whole set every call" model fits a loop that already
// rebuilds its watch list once per cycle.
package mux

import "golang.org/x/sys/unix"

// Want describes what readiness a caller is interested in for one fd.
type Want struct {
	FD        int
	WantRead  bool
	WantWrite bool
}

// Ready reports what became ready for one fd after a Wait call.
type Ready struct {
	FD       int
	Readable bool
	Writable bool
	Errored  bool
}

// Wait polls the given fds for readiness, blocking up to timeoutMillis (a
// negative value blocks indefinitely). It returns ErrInterrupted verbatim so
// the caller can simply "continue" its loop, matching spec.md §4.7 step 2.
func Wait(wants []Want, timeoutMillis int) ([]Ready, error) {
	pfds := make([]unix.PollFd, len(wants))
	for i, w := range wants {
		var events int16
		if w.WantRead {
			events |= unix.POLLIN
		}
		if w.WantWrite {
			events |= unix.POLLOUT
		}
		pfds[i] = unix.PollFd{Fd: int32(w.FD), Events: events}
	}

	_, err := unix.Poll(pfds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, ErrInterrupted
		}
		return nil, err
	}

	out := make([]Ready, 0, len(pfds))
	for i, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, Ready{
			FD:       wants[i].FD,
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP) != 0,
			Writable: pfd.Revents&unix.POLLOUT != 0,
			Errored:  pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0,
		})
	}
	return out, nil
}

// ErrInterrupted reports that the poll call was interrupted by a signal;
// spec.md §4.7 step 2 says to simply continue the loop on this condition.
var ErrInterrupted = errInterrupted{}

type errInterrupted struct{}

func (errInterrupted) Error() string { return "mux: interrupted" }
