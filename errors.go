// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dispatchd

import (
	"errors"

	"code.hybscloud.com/dispatchd/internal/workerpool"
)

// Sentinel errors the framework distinguishes programmatically, following
// the teacher's sentinel-error style (errors.New package vars compared
// with errors.Is, as in framer's ErrInvalidArgument/ErrTooLong and its
// re-exported ErrWouldBlock/ErrMore aliases of code.hybscloud.com/iox).
var (
	// ErrShuttingDown is recorded as the server's error (reported by
	// Server.Err) when Server.Run is called more than once on a Server
	// already started; that extra Run call returns false (spec.md §3
	// ServerState.started: a false->true transition exactly once).
	ErrShuttingDown = errors.New("dispatchd: server already started")

	// ErrUnknownConnection reports an operation addressed a connection id
	// the server has no record of.
	ErrUnknownConnection = errors.New("dispatchd: unknown connection")

	// ErrWorkerLimitReached re-exports workerpool's sentinel: a worker
	// group is at capacity and its pending queue is full (DESIGN.md Open
	// Question 2).
	ErrWorkerLimitReached = workerpool.ErrWorkerLimitReached

	// ErrQueueClosed reports that a response was queued after the server
	// had already released its outbound queue during shutdown.
	ErrQueueClosed = errors.New("dispatchd: outbound queue closed")
)
