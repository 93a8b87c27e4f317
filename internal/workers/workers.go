// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workers supplies the demo worker bodies SPEC_FULL.md's
// "Supplemented features" section calls for: the concrete search/index
// worker bodies are explicitly out of scope as real implementations
// (spec.md §1), but the module needs a runnable default factory to
// demonstrate the worker contract (spec.md §4.4) end to end.
//
// Grounded on original_source/src/xappy/dispatch.cc's EchoWorker /
// EchoWorkerFactory: a worker that echoes its payload back with a success
// status, generalized here into a search-group echo worker and an
// indexer-group acknowledging sink worker.
package workers

import (
	"encoding/json"
	"strings"

	"code.hybscloud.com/dispatchd/internal/wire"
	"code.hybscloud.com/dispatchd/internal/workerpool"
)

// Responder is the runtime-provided send_response capability spec.md §4.4
// describes a worker consuming. It is injected at construction rather than
// reached via inheritance, per spec.md Design Notes §9 ("avoid
// inheritance — pass a vtable-like record explicitly").
type Responder interface {
	SendMsgResponse(connID int64, msgid string, status byte, payload []byte)
}

// EchoWorker is the "search" group demo worker: it echoes its payload back
// with a success status.
type EchoWorker struct {
	r Responder
}

// NewEchoWorker constructs an EchoWorker bound to r.
func NewEchoWorker(r Responder) *EchoWorker { return &EchoWorker{r: r} }

// Run implements workerpool.Worker.
func (w *EchoWorker) Run(rt *workerpool.Runtime) {
	readyToExit := false
	for {
		msg, ok := rt.WaitForMessage(readyToExit)
		if !ok {
			return
		}
		w.r.SendMsgResponse(msg.ConnID, msg.MsgID, wire.StatusOK, msg.Payload)
		readyToExit = true
	}
}

// Cleanup implements workerpool.Worker; EchoWorker holds nothing to release.
func (w *EchoWorker) Cleanup() {}

type sinkAck struct {
	OK int    `json:"ok"`
	DB string `json:"db"`
}

// SinkWorker is the "indexer_<db>" group demo worker: it acknowledges every
// write with a success ack whose body is the JSON object {"ok":1,"db":<db>},
// standing in for a real index-update binding (out of scope per spec.md §1).
type SinkWorker struct {
	r  Responder
	db string
}

// NewSinkWorker constructs a SinkWorker bound to r, acknowledging writes
// for db.
func NewSinkWorker(r Responder, db string) *SinkWorker { return &SinkWorker{r: r, db: db} }

// Run implements workerpool.Worker.
func (w *SinkWorker) Run(rt *workerpool.Runtime) {
	readyToExit := false
	for {
		msg, ok := rt.WaitForMessage(readyToExit)
		if !ok {
			return
		}
		ack, err := json.Marshal(sinkAck{OK: 1, DB: w.db})
		if err != nil {
			ack = []byte(`{"ok":1}`)
		}
		w.r.SendMsgResponse(msg.ConnID, msg.MsgID, wire.StatusOK, ack)
		readyToExit = true
	}
}

// Cleanup implements workerpool.Worker; SinkWorker holds nothing to release.
func (w *SinkWorker) Cleanup() {}

// NewFactory builds a workerpool.Factory implementing spec.md §4.6 step
// 3's factory hook: "search" workers are capped at searcherLimit,
// "indexer_<db>" workers at updaterLimit per group, matching the -s/-u CLI
// counts of spec.md §6.
func NewFactory(r Responder, searcherLimit, updaterLimit int) workerpool.Factory {
	return func(group string, current int) (workerpool.Worker, bool) {
		switch {
		case group == "search":
			if current >= searcherLimit {
				return nil, false
			}
			return NewEchoWorker(r), true
		case strings.HasPrefix(group, "indexer_"):
			if current >= updaterLimit {
				return nil, false
			}
			return NewSinkWorker(r, strings.TrimPrefix(group, "indexer_")), true
		default:
			return nil, false
		}
	}
}
