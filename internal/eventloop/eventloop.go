// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventloop implements the single-threaded event loop of spec.md
// §4.7: it multiplexes readiness across every connection's read/write fd
// plus the wake-up pipe, drives the wire framer on readable connections,
// flushes queued responses on writable ones, and tears connections down on
// EOF or unrecoverable write failure.
//
// The general "compute readiness, iterate, dispatch" shape is grounded on
// other_examples' raw epoll HTTP server (register fds, wait, iterate
// events), adapted to mux's poll-based primitive and to the outbound-queue
// / self-pipe design spec.md requires that the epoll example has neither.
package eventloop

import (
	"bytes"
	"sync"

	"code.hybscloud.com/dispatchd/internal/ioutil"
	"code.hybscloud.com/dispatchd/internal/mux"
	"code.hybscloud.com/dispatchd/internal/selfpipe"
	"code.hybscloud.com/dispatchd/internal/serverlog"
	"code.hybscloud.com/dispatchd/internal/wire"
)

// readChunk bounds a single ReadAppend call's scratch buffer.
const readChunk = 64 * 1024

// conn is the event-loop-owned connection state (spec.md §3): mutated only
// by the loop's own goroutine, matching "Connections are mutated only by
// the event loop unit" (spec.md §5).
type conn struct {
	id              int64
	readFD, writeFD int
	readData        []byte
	writeData       []byte
	closeAfterFlush bool
	closing         bool
}

// Listener is the minimal accept surface the loop needs; TCPListener
// satisfies it, and tests can substitute a fake.
type Listener interface {
	FD() int
	Accept() (fd int, err error)
}

type outboundItem struct {
	connID int64
	data   []byte
}

// Loop is the single-threaded event loop of spec.md §4.7.
type Loop struct {
	log      *serverlog.UnitLogger
	pipe     *selfpipe.Pipe
	listener Listener
	router   wire.Router

	connections map[int64]*conn

	outMu    sync.Mutex
	outbound []outboundItem

	errMu sync.Mutex
	err   error
}

// New constructs a Loop. listener may be nil for stdio-only operation
// (spec.md §6 "Stdio mode").
func New(pipe *selfpipe.Pipe, listener Listener, log *serverlog.UnitLogger) *Loop {
	return &Loop{
		pipe:        pipe,
		listener:    listener,
		log:         log,
		connections: make(map[int64]*conn),
	}
}

// SetRouter completes construction once the dispatcher exists: the
// dispatcher needs this Loop as its Outbound, and this Loop needs the
// dispatcher as its wire.Router, so the two are wired together after both
// are constructed (see DESIGN.md's wiring note on the root package).
func (l *Loop) SetRouter(r wire.Router) { l.router = r }

// AddStdioConnection registers connection 0 on fd 0 (read) / fd 1 (write),
// per spec.md §6.
func (l *Loop) AddStdioConnection() {
	l.connections[0] = &conn{id: 0, readFD: 0, writeFD: 1}
}

// QueueResponse implements dispatch.Outbound: append bytes destined for
// connID and nudge the wake-up pipe so the loop observes them, per spec.md
// §4.7's queue_response.
func (l *Loop) QueueResponse(connID int64, data []byte) {
	l.outMu.Lock()
	l.outbound = append(l.outbound, outboundItem{connID: connID, data: data})
	l.outMu.Unlock()
	_ = l.pipe.Nudge(selfpipe.ReadyResponse)
}

// CloseAfterFlush implements dispatch.Outbound (DESIGN.md Open Question 1).
// It is only ever called from the loop's own goroutine (via Malformed,
// invoked synchronously from the read pass), so it needs no lock of its
// own.
func (l *Loop) CloseAfterFlush(connID int64) {
	if c, ok := l.connections[connID]; ok {
		c.closeAfterFlush = true
	}
}

func (l *Loop) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

// Err returns the first recorded unrecoverable error, if any (spec.md §3
// ServerState.error, write-once).
func (l *Loop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Close releases every remaining open connection fd. The listener is not
// closed here; its owner closes it. Call after Run returns.
func (l *Loop) Close() {
	for _, c := range l.connections {
		ioutil.Close(c.readFD)
		if c.writeFD != c.readFD {
			ioutil.Close(c.writeFD)
		}
	}
	l.connections = make(map[int64]*conn)
}

func (l *Loop) listenerFD() int {
	if l.listener == nil {
		return -1
	}
	return l.listener.FD()
}

// Run drives the loop until a shutdown byte is observed on the wake-up
// pipe or an unrecoverable error occurs. Per DESIGN.md Open Question 4, an
// empty connections map is never, by itself, a loop-exit condition: a
// TCP-only server with no client connected yet must keep polling for
// accepts.
func (l *Loop) Run() bool {
	for {
		wants, readIdx, writeIdx := l.buildWants()
		ready, err := mux.Wait(wants, -1)
		if err != nil {
			if err == mux.ErrInterrupted {
				continue
			}
			l.setErr(err)
			return false
		}

		shutdown := false
		for _, rd := range ready {
			switch rd.FD {
			case l.pipe.ReadFD:
				if rd.Readable {
					if l.drainPipe() {
						shutdown = true
					}
					l.dispatchResponses()
				}
			case l.listenerFD():
				if rd.Readable {
					l.acceptNew()
				}
			default:
				if rd.Readable {
					if c, ok := readIdx[rd.FD]; ok {
						l.readConn(c)
					}
				}
				if rd.Writable {
					if c, ok := writeIdx[rd.FD]; ok {
						l.writeConn(c)
					}
				}
			}
		}

		l.reapClosed()

		if shutdown || l.Err() != nil {
			return l.Err() == nil
		}
	}
}

// buildWants computes the multiplex readiness set of spec.md §4.7: the
// wake-up pipe's read end and the listener (both always watched for read),
// every connection's read fd (always watched), and every connection's
// write fd (watched iff its outbound buffer is non-empty).
func (l *Loop) buildWants() ([]mux.Want, map[int]*conn, map[int]*conn) {
	wants := make([]mux.Want, 0, len(l.connections)*2+2)
	wants = append(wants, mux.Want{FD: l.pipe.ReadFD, WantRead: true})
	if l.listener != nil {
		wants = append(wants, mux.Want{FD: l.listener.FD(), WantRead: true})
	}

	readIdx := make(map[int]*conn, len(l.connections))
	writeIdx := make(map[int]*conn, len(l.connections))

	for _, c := range l.connections {
		readIdx[c.readFD] = c
		wantWrite := len(c.writeData) > 0

		if c.writeFD == c.readFD {
			wants = append(wants, mux.Want{FD: c.readFD, WantRead: true, WantWrite: wantWrite})
			if wantWrite {
				writeIdx[c.writeFD] = c
			}
			continue
		}
		wants = append(wants, mux.Want{FD: c.readFD, WantRead: true})
		if wantWrite {
			wants = append(wants, mux.Want{FD: c.writeFD, WantWrite: true})
			writeIdx[c.writeFD] = c
		}
	}
	return wants, readIdx, writeIdx
}

// drainPipe reads every currently-available byte off the wake-up pipe and
// reports whether a shutdown byte was among them.
func (l *Loop) drainPipe() bool {
	sawShutdown := false
	for {
		data, n, err := ioutil.ReadAppend(l.pipe.ReadFD, nil, 256)
		if err != nil {
			if err == ioutil.ErrWouldBlock {
				return sawShutdown
			}
			l.setErr(err)
			return sawShutdown
		}
		if n == 0 {
			return sawShutdown
		}
		for _, b := range data {
			if b == selfpipe.Shutdown {
				sawShutdown = true
			}
		}
	}
}

// dispatchResponses implements spec.md §4.7's dispatch_responses: drain
// the outbound queue, appending each payload to its connection's write
// buffer, logging and discarding payloads for connections that no longer
// exist.
func (l *Loop) dispatchResponses() {
	l.outMu.Lock()
	items := l.outbound
	l.outbound = nil
	l.outMu.Unlock()

	for _, it := range items {
		c, ok := l.connections[it.connID]
		if !ok {
			if l.log != nil {
				l.log.Debug("dropping response for unknown connection")
			}
			continue
		}
		c.writeData = append(c.writeData, it.data...)
	}
}

// acceptNew accepts every currently-pending connection on the listener.
func (l *Loop) acceptNew() {
	for {
		fd, err := l.listener.Accept()
		if err != nil {
			if err == ioutil.ErrWouldBlock {
				return
			}
			if l.log != nil {
				l.log.SysError("accept", err)
			}
			return
		}
		l.connections[int64(fd)] = &conn{id: int64(fd), readFD: fd, writeFD: fd}
	}
}

// readConn implements spec.md §4.7 step 4: read into the connection's
// buffer, mark it closing on EOF, and drive the framer over whatever
// complete messages are now available.
func (l *Loop) readConn(c *conn) {
	data, n, err := ioutil.ReadAppend(c.readFD, c.readData, readChunk)
	if err != nil {
		if err == ioutil.ErrWouldBlock {
			return
		}
		if l.log != nil {
			l.log.SysError("read", err)
		}
		c.closing = true
		return
	}
	c.readData = data
	if n == 0 {
		c.closing = true
		return
	}

	buf := bytes.NewBuffer(c.readData)
	if l.router != nil {
		for wire.Dispatch(c.id, buf, l.router) {
		}
	}
	c.readData = buf.Bytes()
}

// writeConn implements spec.md §4.7 step 5.
func (l *Loop) writeConn(c *conn) {
	n, err := ioutil.WriteSome(c.writeFD, c.writeData)
	if err != nil {
		if err == ioutil.ErrWouldBlock {
			return
		}
		c.closing = true
		return
	}
	c.writeData = c.writeData[n:]
	if len(c.writeData) == 0 && c.closeAfterFlush {
		c.closing = true
	}
}

// reapClosed implements spec.md §4.7 step 6.
func (l *Loop) reapClosed() {
	for id, c := range l.connections {
		if !c.closing {
			continue
		}
		ioutil.Close(c.readFD)
		if c.writeFD != c.readFD {
			ioutil.Close(c.writeFD)
		}
		delete(l.connections, id)
	}
}
