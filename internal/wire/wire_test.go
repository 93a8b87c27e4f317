// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"testing"
)

type recordingRouter struct {
	routed    []Message
	malformed [][]byte
}

func (r *recordingRouter) Route(connID int64, m Message) {
	r.routed = append(r.routed, m)
}

func (r *recordingRouter) Malformed(connID int64, skipped []byte) {
	r.malformed = append(r.malformed, append([]byte(nil), skipped...))
}

func TestDispatchVersionQuery(t *testing.T) {
	var r recordingRouter
	buf := bytes.NewBufferString("13 abc Gversion ")
	routed := Dispatch(0, buf, &r)
	if !routed {
		t.Fatalf("expected a message to be routed")
	}
	if len(r.routed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(r.routed))
	}
	m := r.routed[0]
	if m.MsgID != "abc" || m.Target != "Gversion" || string(m.Payload) != "" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected buffer fully consumed, left %q", buf.Bytes())
	}
}

func TestDispatchSearchRoute(t *testing.T) {
	var r recordingRouter
	buf := bytes.NewBufferString("11 7 Gdb/main ")
	routed := Dispatch(0, buf, &r)
	if !routed {
		t.Fatalf("expected a message to be routed")
	}
	m := r.routed[0]
	if m.MsgID != "7" || m.Target != "Gdb/main" || string(m.Payload) != "" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestDispatchMalformedThenValid(t *testing.T) {
	var r recordingRouter
	buf := bytes.NewBufferString("9x junk\n13 abc Gversion ")
	routed := Dispatch(0, buf, &r)
	if !routed {
		t.Fatalf("expected the trailing valid message to be routed")
	}
	if len(r.malformed) != 1 {
		t.Fatalf("expected exactly 1 malformed report, got %d", len(r.malformed))
	}
	if len(r.routed) != 1 || r.routed[0].MsgID != "abc" || r.routed[0].Target != "Gversion" {
		t.Fatalf("unexpected routed messages: %+v", r.routed)
	}
}

func TestDispatchPartialFrameLeavesTail(t *testing.T) {
	var r recordingRouter
	buf := bytes.NewBufferString("20 abc Gversion ")
	routed := Dispatch(0, buf, &r)
	if routed {
		t.Fatalf("expected no message routed for a short buffer")
	}
	if buf.String() != "20 abc Gversion " {
		t.Fatalf("expected tail preserved untouched, got %q", buf.String())
	}
}

func TestDispatchMultipleMessagesInOrder(t *testing.T) {
	var r recordingRouter
	// msg1 body "1 a x" (len 5), msg2 body "2 b yyy" (len 7), back-to-back.
	buf := bytes.NewBufferString("5 1 a x7 2 b yyy")
	Dispatch(0, buf, &r)
	if len(r.routed) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(r.routed), r.routed)
	}
	if r.routed[0].MsgID != "1" || r.routed[1].MsgID != "2" {
		t.Fatalf("messages out of order: %+v", r.routed)
	}
	if string(r.routed[0].Payload) != "x" || string(r.routed[1].Payload) != "yyy" {
		t.Fatalf("unexpected payloads: %+v", r.routed)
	}
}

func TestEncodeResponseLengthCountsFromMsgID(t *testing.T) {
	out := EncodeResponse("abc", StatusOK, []byte("1234567"))
	if string(out) != "12 abc S1234567" {
		t.Fatalf("got %q", out)
	}
}

func TestEncodeFatalHasEmptyMsgID(t *testing.T) {
	payload := []byte(`{"ok":0,"msg":"bad"}`)
	out := EncodeFatal(payload)
	want := "22  F" + string(payload)
	if string(out) != want {
		t.Fatalf("got %q want %q", out, want)
	}
}
