// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatchd implements the core of an asynchronous request-
// dispatch server framework: an event loop that multiplexes I/O across
// connections and an internal wake-up pipe, a worker pool that dispatches
// parsed messages to group-bound workers, a length-prefixed wire framer,
// and a signal-driven shutdown state machine (spec.md §1).
//
// This file wires internal/serverlog, internal/sigctx, internal/selfpipe,
// internal/workerpool, internal/workers, internal/dispatch and
// internal/eventloop together into the public Server type, and owns the
// ServerState write-once semantics of spec.md §3 (started, shutting_down,
// error).
package dispatchd

import (
	"fmt"
	"sync"

	"code.hybscloud.com/dispatchd/internal/dispatch"
	"code.hybscloud.com/dispatchd/internal/eventloop"
	"code.hybscloud.com/dispatchd/internal/selfpipe"
	"code.hybscloud.com/dispatchd/internal/serverlog"
	"code.hybscloud.com/dispatchd/internal/sigctx"
	"code.hybscloud.com/dispatchd/internal/workerpool"
	"code.hybscloud.com/dispatchd/internal/workers"
)

// Server owns one dispatchd instance: its log, wake-up pipe, event loop,
// worker pool and dispatcher.
type Server struct {
	cfg      Config
	log      *serverlog.Logger
	pipe     *selfpipe.Pipe
	listener *eventloop.TCPListener
	loop     *eventloop.Loop
	pool     *workerpool.Pool
	disp     *dispatch.Dispatcher
	sig      *sigctx.Handle

	mu           sync.Mutex
	started      bool
	shuttingDown bool
	err          error
}

// New constructs a Server from cfg without starting it. It opens the
// wake-up pipe and, unless cfg.Stdio is set, binds and listens on
// cfg.Interface:cfg.Port — both of which can fail, so New returns an
// error rather than deferring the failure to Run.
func New(cfg Config) (*Server, error) {
	s := &Server{cfg: cfg}
	s.log = serverlog.New(cfg.LogPath)

	pipe, err := selfpipe.New()
	if err != nil {
		return nil, fmt.Errorf("dispatchd: create wake-up pipe: %w", err)
	}
	s.pipe = pipe

	var listener *eventloop.TCPListener
	if !cfg.Stdio {
		listener, err = eventloop.NewTCPListener(cfg.Interface, cfg.Port)
		if err != nil {
			pipe.Close()
			return nil, fmt.Errorf("dispatchd: listen on %s:%d: %w", cfg.Interface, cfg.Port, err)
		}
	}
	s.listener = listener

	// eventloop.Listener is an interface; assign only when listener is
	// non-nil, or a typed-nil *TCPListener wrapped in the interface would
	// compare non-nil to the loop's own nil checks.
	var loopListener eventloop.Listener
	if listener != nil {
		loopListener = listener
	}

	loop := eventloop.New(pipe, loopListener, s.log.ForUnit(s.log.NextUnit()))
	if cfg.Stdio {
		loop.AddStdioConnection()
	}
	s.loop = loop

	disp := dispatch.New(cfg.Version, s.log.ForUnit(s.log.NextUnit()))
	factory := workers.NewFactory(disp, cfg.Searchers, cfg.Updaters)
	pool := workerpool.New(factory, cfg.PendingLimit)
	disp.Bind(pool, loop)
	loop.SetRouter(disp)

	s.pool = pool
	s.disp = disp
	return s, nil
}

// Shutdown requests a graceful shutdown: it nudges the wake-up pipe with
// the shutdown byte. Idempotent (spec.md §3 invariant 4; §8 "Idempotence").
func (s *Server) Shutdown() error {
	return s.pipe.Nudge(selfpipe.Shutdown)
}

// emergencyShutdown is the signal-safe-only hook sigctx calls on a second
// INT or any TERM (spec.md §4.9). This module owns no temp files or other
// resources that need unlinking outside the normal shutdown path, so it is
// a no-op kept for parity with the hook's contract.
func (s *Server) emergencyShutdown() {}

// Run starts the server: installs signal handlers, drives the event loop
// until it observes a shutdown or an unrecoverable error, then drains the
// worker pool and releases resources. It returns true iff no error was
// ever recorded, matching spec.md §4.9's "run() returns true iff error is
// empty". Run must not be called more than once per Server.
func (s *Server) Run() bool {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.setErr(ErrShuttingDown)
		return false
	}
	s.started = true
	s.mu.Unlock()

	s.sig = sigctx.Install(s.pipe, selfpipe.Shutdown, s.emergencyShutdown)

	loopOK := s.loop.Run()

	s.mu.Lock()
	s.shuttingDown = true
	s.mu.Unlock()

	s.sig.Release()
	s.pool.Stop()
	s.pool.Join()

	s.loop.Close()
	if s.listener != nil {
		s.listener.Close()
	}
	s.pipe.Close()
	s.log.Close()

	if err := s.loop.Err(); err != nil {
		s.setErr(err)
	}
	return loopOK && s.Err() == nil
}

func (s *Server) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first recorded error, if any (spec.md §3
// ServerState.error, write-once — first writer wins).
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run constructs a Server from cfg and runs it to completion, returning
// whether it exited cleanly and the first recorded error, if any.
func Run(cfg Config) (bool, error) {
	s, err := New(cfg)
	if err != nil {
		return false, err
	}
	ok := s.Run()
	return ok, s.Err()
}
