// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workers

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/dispatchd/internal/wire"
	"code.hybscloud.com/dispatchd/internal/workerpool"
)

type recordedResponse struct {
	connID  int64
	msgid   string
	status  byte
	payload []byte
}

type fakeResponder struct {
	responses chan recordedResponse
}

func newFakeResponder() *fakeResponder {
	return &fakeResponder{responses: make(chan recordedResponse, 8)}
}

func (r *fakeResponder) SendMsgResponse(connID int64, msgid string, status byte, payload []byte) {
	r.responses <- recordedResponse{connID: connID, msgid: msgid, status: status, payload: append([]byte(nil), payload...)}
}

func (r *fakeResponder) recv(t *testing.T) recordedResponse {
	t.Helper()
	select {
	case m := <-r.responses:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return recordedResponse{}
	}
}

func TestEchoWorkerEchoesPayloadWithSuccess(t *testing.T) {
	r := newFakeResponder()
	pool := workerpool.New(func(group string, current int) (workerpool.Worker, bool) {
		return NewEchoWorker(r), true
	}, 8)

	require.NoError(t, pool.SendToWorker("search", workerpool.Message{
		ConnID: 1, MsgID: "m1", Target: "Gdb/main", Payload: []byte("hello"),
	}))

	resp := r.recv(t)
	require.Equal(t, int64(1), resp.connID)
	require.Equal(t, "m1", resp.msgid)
	require.Equal(t, wire.StatusOK, resp.status)
	require.Equal(t, "hello", string(resp.payload))
}

func TestSinkWorkerAcksWithDB(t *testing.T) {
	r := newFakeResponder()
	pool := workerpool.New(NewFactory(r, 4, 4), 8)

	require.NoError(t, pool.SendToWorker("indexer_products", workerpool.Message{
		ConnID: 2, MsgID: "m2", Target: "Udb/products", Payload: []byte(`{"id":1}`),
	}))

	resp := r.recv(t)
	require.Equal(t, wire.StatusOK, resp.status)

	var ack sinkAck
	require.NoError(t, json.Unmarshal(resp.payload, &ack))
	require.Equal(t, 1, ack.OK)
	require.Equal(t, "products", ack.DB)
}

func TestFactoryRoutesSearchAndIndexerGroups(t *testing.T) {
	r := newFakeResponder()
	factory := NewFactory(r, 1, 1)

	w, ok := factory("search", 0)
	require.True(t, ok)
	_, isEcho := w.(*EchoWorker)
	require.True(t, isEcho)

	w, ok = factory("indexer_catalog", 0)
	require.True(t, ok)
	sink, isSink := w.(*SinkWorker)
	require.True(t, isSink)
	require.Equal(t, "catalog", sink.db)

	_, ok = factory("search", 1)
	require.False(t, ok, "expected the searcher limit to be enforced")

	_, ok = factory("unknown", 0)
	require.False(t, ok, "expected an unrecognized group to decline")
}
