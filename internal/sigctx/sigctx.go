// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sigctx installs the process-wide signal handling spec.md §4.9
// calls for: SIGINT/SIGTERM nudge the server's self-pipe with a shutdown
// byte, a second SIGINT (or any SIGTERM) escalates to an emergency exit,
// and SIGCHLD triggers a non-blocking reap of zombie children.
//
// Shape grounded directly on k3s-io-k3s/pkg/signals: the
// "onlyOneSignalHandler closes, double-signal forces os.Exit(1)" pattern,
// and registering shutdownSignals as a var so posix/non-posix builds can
// diverge, are both reused here. Where k3s cancels a context.Context on
// shutdown, dispatchd nudges a self-pipe, since that is the actual signal
// spec.md's event loop watches for.
package sigctx

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

var shutdownSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// Nudger is the minimal surface sigctx needs from the server's wake-up
// pipe: write one byte, never block.
type Nudger interface {
	Nudge(b byte) error
}

// Handle represents one installation of the process-wide signal handlers.
// Release restores default disposition; it is the per-process registration
// spec.md §4.9 calls for ("a registration that returns a handle").
type Handle struct {
	stop chan struct{}
	once sync.Once
}

// Install registers SIGINT, SIGTERM and SIGCHLD handling for the current
// process. shutdownByte is written to pipe on the first INT/TERM; a second
// INT, or any TERM, calls emergency (which must be safe to call from a
// signal-adjacent goroutine: no blocking I/O beyond best-effort cleanup)
// and then exits the process.
func Install(pipe Nudger, shutdownByte byte, emergency func()) *Handle {
	installPID := os.Getpid()
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, shutdownSignals...)

	chldCh := make(chan os.Signal, 4)
	signal.Notify(chldCh, unix.SIGCHLD)

	h := &Handle{stop: make(chan struct{})}

	go func() {
		for {
			select {
			case <-h.stop:
				return
			case sig := <-chldCh:
				_ = sig
				reapChildren()
			}
		}
	}()

	go func() {
		select {
		case <-h.stop:
			return
		case sig := <-sigCh:
			if os.Getpid() != installPID {
				return
			}
			_ = pipe.Nudge(shutdownByte)
			if sig == unix.SIGTERM {
				if emergency != nil {
					emergency()
				}
				os.Exit(0)
			}
		}
		// A second signal forces an emergency exit regardless of kind.
		select {
		case <-h.stop:
			return
		case <-sigCh:
			if emergency != nil {
				emergency()
			}
			os.Exit(1)
		}
	}()

	return h
}

// Release stops the installed handlers and restores default disposition
// for the signals this package registered. Idempotent.
func (h *Handle) Release() {
	h.once.Do(func() {
		close(h.stop)
		signal.Reset(shutdownSignals...)
		signal.Reset(unix.SIGCHLD)
	})
}

// reapChildren performs a non-blocking wait for any exited children,
// matching the original's SIGCHLD handler: reap everything available,
// ignore errors, never block the caller.
func reapChildren() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}
