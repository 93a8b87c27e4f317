// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sigctx

import (
	"sync"
	"testing"
)

type recordingNudger struct {
	mu    sync.Mutex
	bytes []byte
}

func (r *recordingNudger) Nudge(b byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes = append(r.bytes, b)
	return nil
}

func TestInstallAndReleaseIsIdempotent(t *testing.T) {
	n := &recordingNudger{}
	h := Install(n, 'S', nil)
	h.Release()
	h.Release() // must not panic
}
