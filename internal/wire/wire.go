// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire implements the request-dispatch ASCII wire protocol
// (spec.md §4.3, §6):
//
//	<decimal-length> SP <msgid> SP <target> SP <payload-bytes>
//
// where <decimal-length> counts the bytes of "<msgid> SP <target> SP
// <payload>" and is at most maxLenDigits ASCII decimal digits.
//
// This is a structural cousin of framer's stream state machine
// (internal.go's readStream): header parse, then payload read, then reset,
// driven off offset/length fields on a per-connection buffer. Where the
// teacher encodes length as 1/2/7 binary bytes, this package encodes it as
// ASCII decimal text, because the protocol here is intentionally
// human-inspectable on the wire.
package wire

import (
	"bytes"
	"strconv"
)

// maxLenDigits bounds the decimal length prefix to 9 digits (1e9 byte cap),
// per spec.md §4.3. A prefix with more digits is not resync-scanned digit by
// digit; it immediately triggers RESYNC, since an unbounded digit scan is
// itself a resource-exhaustion vector (see DESIGN.md Open Question 3).
const maxLenDigits = 9

// Status bytes used on outbound responses.
const (
	StatusOK    byte = 'S'
	StatusError byte = 'E'
	StatusFatal byte = 'F'
)

// Message is a single parsed request: spec.md §3.
type Message struct {
	ConnID  int64
	MsgID   string
	Target  string
	Payload []byte
}

// Router receives the results of Dispatch: Route is invoked once per fully
// parsed message. Neither method returns a value, so a Router cannot stop
// Dispatch from parsing the rest of the buffer.
type Router interface {
	Route(connID int64, m Message)
	// Malformed is called when a frame cannot be parsed; skipped is the raw
	// byte range that was discarded during resynchronization.
	Malformed(connID int64, skipped []byte)
}

// Dispatch drives the framer state machine over buf, routing every complete
// message it finds to r, and reports whether at least one message was
// routed. buf is truncated in place to the unconsumed tail (spec.md §4.3
// step 6: "erase [0, start) from buf").
func Dispatch(connID int64, buf *bytes.Buffer, r Router) bool {
	routedAny := false
	data := buf.Bytes()
	cursor := 0
	start := 0

	for {
		// Step 1: skip leading whitespace.
		for cursor < len(data) && isWhitespace(data[cursor]) {
			cursor++
		}
		start = cursor
		if cursor >= len(data) {
			break
		}

		// Step 2: read up to maxLenDigits ASCII digits for the length.
		digitsStart := cursor
		for cursor < len(data) && cursor-digitsStart < maxLenDigits && isDigit(data[cursor]) {
			cursor++
		}
		if cursor == digitsStart {
			// No digits at all where a length was expected: resync.
			cursor = resync(data, cursor, connID, r, start)
			start = cursor
			if cursor >= len(data) {
				break
			}
			continue
		}
		// A length prefix continuing past maxLenDigits is not resync-able in
		// place: scan ahead to see if more digits follow before the SP.
		if cursor < len(data) && isDigit(data[cursor]) {
			cursor = resync(data, cursor, connID, r, start)
			start = cursor
			if cursor >= len(data) {
				break
			}
			continue
		}
		if cursor >= len(data) {
			// Ran out of data mid-length; need more.
			cursor = start
			break
		}
		if data[cursor] != ' ' {
			cursor = resync(data, cursor, connID, r, start)
			start = cursor
			if cursor >= len(data) {
				break
			}
			continue
		}
		msglen, err := strconv.Atoi(string(data[digitsStart:cursor]))
		if err != nil {
			cursor = resync(data, cursor, connID, r, start)
			start = cursor
			if cursor >= len(data) {
				break
			}
			continue
		}
		spPos := cursor
		bodyStart := spPos + 1

		// Step 3: need the full declared body before proceeding.
		if bodyStart+msglen > len(data) {
			cursor = start
			break
		}

		body := data[bodyStart : bodyStart+msglen]

		// Step 4: split body into msgid, target, payload on the first two SPs.
		firstSP := bytes.IndexByte(body, ' ')
		if firstSP < 0 {
			cursor = resync(data, bodyStart+msglen, connID, r, start)
			start = cursor
			if cursor >= len(data) {
				break
			}
			continue
		}
		rest := body[firstSP+1:]
		secondSP := bytes.IndexByte(rest, ' ')
		if secondSP < 0 {
			cursor = resync(data, bodyStart+msglen, connID, r, start)
			start = cursor
			if cursor >= len(data) {
				break
			}
			continue
		}
		msgid := string(body[:firstSP])
		target := string(rest[:secondSP])
		payload := append([]byte(nil), rest[secondSP+1:]...)

		// Step 5: route, then advance past the message.
		r.Route(connID, Message{ConnID: connID, MsgID: msgid, Target: target, Payload: payload})
		routedAny = true
		cursor = bodyStart + msglen
		start = cursor
	}

	// Step 6: erase [0, start) and leave the unconsumed tail.
	buf.Next(start)
	return routedAny
}

// resync advances from pos to the next CR or LF (or end of buffer),
// reporting the skipped range to the router, per spec.md §4.3 step 2 and
// §7 category 3.
func resync(data []byte, pos int, connID int64, r Router, from int) int {
	end := pos
	for end < len(data) && data[end] != '\r' && data[end] != '\n' {
		end++
	}
	if end < len(data) {
		end++ // consume the CR/LF itself
	}
	r.Malformed(connID, data[from:end])
	return end
}

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// EncodeResponse renders "<n> <msgid> <status><payload>" where n counts
// from msgid inclusive, per spec.md §4.8.
func EncodeResponse(msgid string, status byte, payload []byte) []byte {
	n := len(msgid) + 1 + 1 + len(payload)
	var out bytes.Buffer
	out.WriteString(strconv.Itoa(n))
	out.WriteByte(' ')
	out.WriteString(msgid)
	out.WriteByte(' ')
	out.WriteByte(status)
	out.Write(payload)
	return out.Bytes()
}

// EncodeFatal renders "<n>  F<payload>" (empty msgid), per spec.md §4.8.
func EncodeFatal(payload []byte) []byte {
	return EncodeResponse("", StatusFatal, payload)
}
