// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workerpool implements the worker contract, worker runtime and
// worker pool of spec.md §4.4–4.6: a group-indexed registry that selects an
// idle worker or creates one on demand, tracks in-flight counts, and drains
// workers through a two-phase retirement (workers -> exiting -> exited) on
// shutdown.
//
// This component has no teacher analogue (the framer library has no worker
// concept); its style — small state-carrying structs mutated only under a
// documented lock sequence — is carried over from the teacher's discipline
// around framer's internal state machine, applied here to WorkerDetails and
// the two registry views spec.md §3 describes.
package workerpool

import (
	"errors"
	"sync"
)

// ErrWorkerLimitReached is returned by SendToWorker when a group's pending
// queue is full and the factory declined to create a new worker (DESIGN.md
// Open Question 2).
var ErrWorkerLimitReached = errors.New("workerpool: worker limit reached for group")

// Message is the minimal payload the pool hands to a worker; it mirrors
// wire.Message but workerpool must not import wire, to keep the dependency
// direction pool-owns-nothing-about-wire-format.
type Message struct {
	ConnID  int64
	MsgID   string
	Target  string
	Payload []byte
}

// Worker is the polymorphic contract spec.md §4.4 describes: an entity that
// runs until told to stop, optionally cleans up, and is fed through the two
// runtime-provided operations below.
type Worker interface {
	// Run executes until WaitForMessage signals a stop (by returning
	// ok=false). Run must call WaitForMessage in a loop and must not retain
	// messages past the call that returns them.
	Run(rt *Runtime)
	// Cleanup is called once after Run returns, before the pool is notified
	// the worker has exited. Optional: a worker with nothing to clean up may
	// leave this as a no-op.
	Cleanup()
}

// Factory produces a new Worker bound to group, given the number of workers
// already active in that group. Returning (nil, false) means the group has
// reached its limit; SendToWorker then applies the pending-queue policy.
type Factory func(group string, currentInGroup int) (Worker, bool)

// Runtime is the per-worker concurrent unit: a private FIFO inbound queue
// guarded by a mutex and condition variable, plus the stop flag, per
// spec.md §4.5.
type Runtime struct {
	pool  *Pool
	group string

	mu            sync.Mutex
	cond          *sync.Cond
	messages      []Message
	stopRequested bool
	hadMessage    bool

	done chan struct{}
}

func newRuntime(pool *Pool, group string) *Runtime {
	rt := &Runtime{pool: pool, group: group, done: make(chan struct{})}
	rt.cond = sync.NewCond(&rt.mu)
	return rt
}

// SendMessage enqueues m for this worker and wakes it if waiting.
func (rt *Runtime) SendMessage(m Message) {
	rt.mu.Lock()
	rt.messages = append(rt.messages, m)
	rt.cond.Signal()
	rt.mu.Unlock()
}

// Stop idempotently requests the worker to exit at its next WaitForMessage.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	rt.stopRequested = true
	rt.cond.Signal()
	rt.mu.Unlock()
}

// WaitForMessage blocks until a message is available or a stop was
// requested. ok is false exactly when the worker should return from Run.
//
// Step order matches spec.md §4.5 verbatim: if a prior message was handled,
// report it to the pool BEFORE acquiring this worker's own mutex, since the
// pool's list_mutex must never be acquired while a worker's mutex is held.
func (rt *Runtime) WaitForMessage(readyToExit bool) (Message, bool) {
	rt.mu.Lock()
	hadMessage := rt.hadMessage
	rt.mu.Unlock()

	if hadMessage {
		rt.pool.workerMessageHandled(rt, readyToExit)
	}

	rt.mu.Lock()
	for !rt.stopRequested && len(rt.messages) == 0 {
		rt.cond.Wait()
	}
	if rt.stopRequested {
		rt.mu.Unlock()
		return Message{}, false
	}
	m := rt.messages[0]
	rt.messages = rt.messages[1:]
	rt.hadMessage = true
	rt.mu.Unlock()
	return m, true
}

// workerDetails is the pool's bookkeeping record for one worker (spec.md §3).
type workerDetails struct {
	group        string
	inFlight     int
	readyToExit  bool
	rt           *Runtime
	w            Worker
}

// Pool is the group-indexed worker registry and scheduler (spec.md §4.6).
type Pool struct {
	factory Factory

	mu             sync.Mutex
	workers        map[*Runtime]*workerDetails
	workersByGroup map[string]map[*Runtime]struct{}
	exiting        map[*Runtime]*workerDetails
	exited         []*Runtime

	pendingByGroup map[string][]Message
	pendingLimit   int
}

// New constructs an empty pool. pendingLimit bounds the retry queue used
// when a group is at capacity and the factory declines to create a new
// worker (DESIGN.md Open Question 2); zero means "reject immediately"
// rather than queue.
func New(factory Factory, pendingLimit int) *Pool {
	return &Pool{
		factory:        factory,
		workers:        make(map[*Runtime]*workerDetails),
		workersByGroup: make(map[string]map[*Runtime]struct{}),
		exiting:        make(map[*Runtime]*workerDetails),
		pendingByGroup: make(map[string][]Message),
		pendingLimit:   pendingLimit,
	}
}

// SendToWorker selects an idle worker in group, creating one if necessary,
// and delivers msg to it. Per spec.md §4.6 step 3, if the factory declines
// to create a new worker and no idle worker exists, msg is queued (bounded
// by pendingLimit) rather than dropped or blocking the caller.
func (p *Pool) SendToWorker(group string, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rt := p.findIdleLocked(group); rt != nil {
		p.dispatchLocked(rt, msg)
		return nil
	}

	currentInGroup := len(p.workersByGroup[group])
	w, ok := p.factory(group, currentInGroup)
	if ok && w != nil {
		rt := newRuntime(p, group)
		details := &workerDetails{group: group, rt: rt, w: w}
		p.workers[rt] = details
		if p.workersByGroup[group] == nil {
			p.workersByGroup[group] = make(map[*Runtime]struct{})
		}
		p.workersByGroup[group][rt] = struct{}{}
		p.startLocked(rt, w)
		p.dispatchLocked(rt, msg)
		return nil
	}

	q := p.pendingByGroup[group]
	if len(q) >= p.pendingLimit {
		return ErrWorkerLimitReached
	}
	p.pendingByGroup[group] = append(q, msg)
	return nil
}

func (p *Pool) findIdleLocked(group string) *Runtime {
	for rt := range p.workersByGroup[group] {
		if p.workers[rt].inFlight == 0 {
			return rt
		}
	}
	return nil
}

func (p *Pool) dispatchLocked(rt *Runtime, msg Message) {
	details := p.workers[rt]
	details.inFlight++
	details.readyToExit = false
	rt.SendMessage(msg)
}

func (p *Pool) startLocked(rt *Runtime, w Worker) {
	go func() {
		w.Run(rt)
		w.Cleanup()
		p.workerExited(rt)
		close(rt.done)
	}()
}

// workerMessageHandled is called by a worker's own concurrent unit, with
// that worker's mutex NOT held, per spec.md §4.6.
func (p *Pool) workerMessageHandled(rt *Runtime, readyToExit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	details, ok := p.workers[rt]
	if !ok {
		return
	}
	if details.inFlight <= 0 {
		panic("workerpool: worker_message_handled called with in_flight <= 0")
	}
	details.inFlight--
	if details.inFlight == 0 && readyToExit {
		details.readyToExit = true
	}

	if details.inFlight == 0 {
		if q := p.pendingByGroup[details.group]; len(q) > 0 {
			next := q[0]
			p.pendingByGroup[details.group] = q[1:]
			p.dispatchLocked(rt, next)
		}
	}
}

// workerExited is called after Run and Cleanup return, per spec.md §4.6.
func (p *Pool) workerExited(rt *Runtime) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if details, ok := p.workers[rt]; ok {
		delete(p.workers, rt)
		if set := p.workersByGroup[details.group]; set != nil {
			delete(set, rt)
			if len(set) == 0 {
				delete(p.workersByGroup, details.group)
			}
		}
	} else {
		delete(p.exiting, rt)
	}
	p.exited = append(p.exited, rt)
}

// Stop initiates drain: every current worker is told to stop and moved from
// the primary registry into exiting. Must not block.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for rt, details := range p.workers {
		rt.Stop()
		delete(p.workers, rt)
		if set := p.workersByGroup[details.group]; set != nil {
			delete(set, rt)
			if len(set) == 0 {
				delete(p.workersByGroup, details.group)
			}
		}
		p.exiting[rt] = details
	}
}

// Join waits for every exiting (and already-exited) worker to finish,
// draining both registries, per spec.md §4.6.
func (p *Pool) Join() {
	for {
		p.mu.Lock()
		var rt *Runtime
		for k := range p.exiting {
			rt = k
			break
		}
		p.mu.Unlock()
		if rt == nil {
			break
		}
		<-rt.done
		p.mu.Lock()
		delete(p.exiting, rt)
		p.mu.Unlock()
	}

	for {
		p.mu.Lock()
		if len(p.exited) == 0 {
			p.mu.Unlock()
			break
		}
		rt := p.exited[0]
		p.exited = p.exited[1:]
		p.mu.Unlock()
		<-rt.done
	}
}

// Invariants exposes the registry's current consistency state for testing
// against spec.md §3's invariants; it is not used by production code paths.
type Invariants struct {
	WorkerGroupKeysMatch bool
	Disjoint             bool
}

// CheckInvariants evaluates the spec.md §3 invariants that must hold at
// every lock release.
func (p *Pool) CheckInvariants() Invariants {
	p.mu.Lock()
	defer p.mu.Unlock()

	union := make(map[*Runtime]struct{})
	for _, set := range p.workersByGroup {
		for rt := range set {
			union[rt] = struct{}{}
		}
	}
	keysMatch := len(union) == len(p.workers)
	if keysMatch {
		for rt := range p.workers {
			if _, ok := union[rt]; !ok {
				keysMatch = false
				break
			}
		}
	}

	disjoint := true
	for rt := range p.workers {
		if _, ok := p.exiting[rt]; ok {
			disjoint = false
		}
	}
	for _, rt := range p.exited {
		if _, ok := p.workers[rt]; ok {
			disjoint = false
		}
		if _, ok := p.exiting[rt]; ok {
			disjoint = false
		}
	}

	return Invariants{WorkerGroupKeysMatch: keysMatch, Disjoint: disjoint}
}
