// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dispatch implements the routing policy of spec.md §4.8: a
// concrete Dispatcher satisfying wire.Router (driven by the event loop's
// read pass) and the worker-facing Responder contract (driven by whichever
// worker produced a response), mapping the G/P/U/D method byte and
// /-split target path onto worker groups and response encoders.
//
// Grounded on original_source/src/xappy/dispatch.cc's XappyDispatcher
// shape (dispatch_request/get_worker/send_error_response/send_msg_response)
// generalized from its single "echo" group into spec.md §4.8's full route
// table (Gversion, G db/<db>, U db/<db>).
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"code.hybscloud.com/dispatchd/internal/serverlog"
	"code.hybscloud.com/dispatchd/internal/wire"
	"code.hybscloud.com/dispatchd/internal/workerpool"
)

// Outbound is the subset of the event loop's connection-facing surface the
// dispatcher needs: queuing raw, already-framed response bytes for a
// connection, and requesting the connection be closed once that is
// flushed. Kept as a narrow interface (rather than an import of
// internal/eventloop) so eventloop and dispatch don't depend on each
// other; the root package wires a concrete *eventloop.Loop in as this.
type Outbound interface {
	QueueResponse(connID int64, data []byte)
	CloseAfterFlush(connID int64)
}

// Dispatcher is the routing policy of spec.md §4.8. It satisfies
// wire.Router and workers.Responder.
type Dispatcher struct {
	pool    *workerpool.Pool
	out     Outbound
	log     *serverlog.UnitLogger
	version string
}

// New constructs a Dispatcher. Bind must be called once the pool and
// outbound surface exist: the pool's worker factory needs this Dispatcher
// as a Responder, and this Dispatcher needs the pool and the event loop's
// Outbound, so construction happens in two steps (see DESIGN.md's wiring
// note on the root package).
func New(version string, log *serverlog.UnitLogger) *Dispatcher {
	return &Dispatcher{version: version, log: log}
}

// Bind completes construction once pool and out exist.
func (d *Dispatcher) Bind(pool *workerpool.Pool, out Outbound) {
	d.pool = pool
	d.out = out
}

// Route implements wire.Router, applying spec.md §4.8's route table.
func (d *Dispatcher) Route(connID int64, m wire.Message) {
	if len(m.Target) == 0 {
		d.SendErrorResponse(m, "Invalid message")
		return
	}

	method := m.Target[0]
	rest := m.Target[1:]

	switch method {
	case 'G':
		if rest == "version" {
			d.SendMsgResponse(connID, m.MsgID, wire.StatusOK, []byte(d.version))
			return
		}
		if db, ok := dbPath(rest); ok {
			_ = db
			d.sendToGroup(connID, "search", m)
			return
		}
		d.SendErrorResponse(m, "Not found")
	case 'U':
		if db, ok := dbPath(rest); ok {
			d.sendToGroup(connID, "indexer_"+db, m)
			return
		}
		d.SendErrorResponse(m, "Not found")
	case 'P', 'D':
		// spec.md §4.8 names only G and U routes explicitly; P/D carry a
		// method byte in the wire grammar but no route is defined for them.
		d.SendErrorResponse(m, "Not found")
	default:
		d.SendErrorResponse(m, "Invalid message")
	}
}

// dbPath recognizes a "db/<name>" path, the only multi-component route
// spec.md §4.8 defines.
func dbPath(rest string) (db string, ok bool) {
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[0] == "db" && parts[1] != "" {
		return parts[1], true
	}
	return "", false
}

func (d *Dispatcher) sendToGroup(connID int64, group string, m wire.Message) {
	err := d.pool.SendToWorker(group, workerpool.Message{
		ConnID:  connID,
		MsgID:   m.MsgID,
		Target:  m.Target,
		Payload: m.Payload,
	})
	if err != nil {
		d.SendErrorResponse(m, "Too busy")
	}
}

// Malformed implements wire.Router: emits a fatal-status response and
// closes the connection once it is flushed, per DESIGN.md Open Question 1
// (spec.md's source comments say yes, the source itself never implements
// it).
func (d *Dispatcher) Malformed(connID int64, skipped []byte) {
	if d.log != nil {
		d.log.Debug(fmt.Sprintf("resyncing: discarding %d bytes", len(skipped)))
	}
	d.SendFatalError(connID, "malformed request")
	d.out.CloseAfterFlush(connID)
}

type errorPayload struct {
	OK  int    `json:"ok"`
	Msg string `json:"msg"`
}

func encodeErrorPayload(msg string) []byte {
	// encoding/json is the out-of-scope "JSON encoder used to build error
	// payloads" spec.md §1 names; this is the two-key envelope it wraps.
	b, err := json.Marshal(errorPayload{OK: 0, Msg: msg})
	if err != nil {
		return []byte(`{"ok":0,"msg":"internal error"}`)
	}
	return b
}

// SendResponse delegates an already-framed response to the server.
func (d *Dispatcher) SendResponse(connID int64, data []byte) {
	d.out.QueueResponse(connID, data)
}

// SendFatalError writes a length-prefixed response carrying the JSON
// envelope with a leading marker byte F and an empty msgid, per spec.md
// §4.8.
func (d *Dispatcher) SendFatalError(connID int64, msg string) {
	d.out.QueueResponse(connID, wire.EncodeFatal(encodeErrorPayload(msg)))
}

// SendErrorResponse emits the same JSON envelope with status E, echoing
// the originating message's msgid.
func (d *Dispatcher) SendErrorResponse(m wire.Message, msg string) {
	d.out.QueueResponse(m.ConnID, wire.EncodeResponse(m.MsgID, wire.StatusError, encodeErrorPayload(msg)))
}

// SendMsgResponse implements workers.Responder: it is the runtime-provided
// send_response capability spec.md §4.4 describes a worker consuming,
// injected into worker constructors rather than inherited.
func (d *Dispatcher) SendMsgResponse(connID int64, msgid string, status byte, payload []byte) {
	d.out.QueueResponse(connID, wire.EncodeResponse(msgid, status, payload))
}
