// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"sync"
	"sync/atomic"
)

// ThreadState is one of the states from spec.md section 3. A thread is in
// exactly one place at any instant: a single run queue, a single wait
// queue, currently executing, or being destroyed.
type ThreadState int

const (
	Entering ThreadState = iota
	Ready
	Running
	Sleeping
	Exiting
	Lingering
)

func (s ThreadState) String() string {
	switch s {
	case Entering:
		return "Entering"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Exiting:
		return "Exiting"
	case Lingering:
		return "Lingering"
	default:
		return "Unknown"
	}
}

// ThreadFlags is a bitmask of the flags from spec.md section 3.
type ThreadFlags uint32

const (
	// WIRED threads are not migratable: they may only execute on, and
	// appear on the queues of, one specific CPU.
	WIRED ThreadFlags = 1 << iota
	// STOLEN marks a thread recently migrated by the load balancer, so
	// that it is not immediately stolen again.
	STOLEN
	// FPUOwned is set on at most one thread per CPU.
	FPUOwned
)

// FPUContext is an opaque, architecture-specific FPU register save area.
// Saving/restoring it is out of scope (spec.md section 1); the scheduler
// only needs to know whether one exists and to hand the opaque value to
// the two hooks below.
type FPUContext struct {
	generation uint64
}

// yieldReason tells the scheduler why a thread gave up the CPU, mirroring
// the state switch in scheduler_separated_stack.
type yieldReason int

const (
	yieldRunning yieldReason = iota // quantum expired or explicit Yield
	yieldSleeping
	yieldExiting
)

type yieldMsg struct {
	thread *Thread
	reason yieldReason
	// afterDetach runs on the scheduler goroutine immediately after the
	// outgoing thread's bookkeeping transition, analogous to releasing
	// wq.lock only once Sleeping has been committed. Nil for the other
	// reasons.
	afterDetach func()
}

// Thread is a schedulable unit of execution, per spec.md section 3.
//
// Body runs on a dedicated goroutine once the scheduler first grants this
// thread the CPU. Because that grant is a real hand-off -- the owning
// CPU's scheduler goroutine blocks on this thread's yield message until it
// arrives -- Body must eventually reach one of Yield, ConsumeTick, Sleep or
// an IPC/futex call that blocks through WaitQueue on every path, including
// an otherwise-idle loop; a Body that blocks on anything else (a bare
// channel receive, a plain time.Sleep) stalls its CPU's scheduler forever,
// since nothing would ever signal yieldCh on this thread's behalf.
type Thread struct {
	ID   uint64
	Task *Task
	Body func(t *Thread)

	state atomic.Int32 // ThreadState

	mu       sync.Mutex // guards cpu, fpuCtx, fpuCtxExists, sleepQueue, callMe
	cpu      *CPU
	priority atomic.Int32
	ticks    atomic.Int32
	flags    atomic.Uint32

	fpuCtx       *FPUContext
	fpuCtxExists bool

	sleepQueue *WaitQueue

	callMe    func(arg interface{})
	callMeArg interface{}

	// turn is granted a fresh value each time the scheduler hands this
	// thread the CPU; the thread's goroutine parks on it between runs.
	turn chan struct{}

	started atomic.Bool
	done    chan struct{}
}

// newThread creates a thread in the Entering state, owned by task, running
// body once scheduled. It does not place the thread on any run queue; call
// ThreadReady for that.
func newThread(id uint64, task *Task, body func(t *Thread)) *Thread {
	t := &Thread{
		ID:   id,
		Task: task,
		Body: body,
		turn: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.state.Store(int32(Entering))
	t.priority.Store(0)
	go t.run()
	return t
}

// run is the thread's own goroutine. It waits for its first turn, executes
// Body, and then reports Exiting to whichever CPU is currently scheduling
// it.
func (t *Thread) run() {
	<-t.turn
	if t.Body != nil {
		t.Body(t)
	}
	t.state.Store(int32(Exiting))
	cpu := t.CPU()
	cpu.scheduler.yieldCh <- yieldMsg{thread: t, reason: yieldExiting}
	close(t.done)

	// This thread's own state is already Exiting (set above), so
	// liveThreadCount here correctly excludes it; if it was the task's
	// last thread, the task itself exits now, from ordinary goroutine
	// context (never IRQ context: see Task.Exit/DispatchIRQ).
	if t.Task.liveThreadCount() == 0 {
		t.Task.Exit(false)
	}
}

// State returns the thread's current state.
func (t *Thread) State() ThreadState {
	return ThreadState(t.state.Load())
}

// CPU returns the CPU this thread last executed on (or is pinned to, if
// WIRED).
func (t *Thread) CPU() *CPU {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cpu
}

// Priority returns the thread's current run-queue priority.
func (t *Thread) Priority() int {
	return int(t.priority.Load())
}

// Flags returns the thread's flag bitmask.
func (t *Thread) Flags() ThreadFlags {
	return ThreadFlags(t.flags.Load())
}

func (t *Thread) hasFlag(f ThreadFlags) bool {
	return ThreadFlags(t.flags.Load())&f != 0
}

func (t *Thread) setFlag(f ThreadFlags) {
	for {
		old := t.flags.Load()
		if old&uint32(f) != 0 {
			return
		}
		if t.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (t *Thread) clearFlag(f ThreadFlags) {
	for {
		old := t.flags.Load()
		if old&uint32(f) == 0 {
			return
		}
		if t.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// saveFPUContext marks t's FPU context as populated, standing in for the
// opaque hardware save spec.md section 1 puts out of scope.
func (t *Thread) saveFPUContext() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fpuCtx == nil {
		t.fpuCtx = &FPUContext{}
	}
	t.fpuCtx.generation++
	t.fpuCtxExists = true
}

// loadOrInitFPUContext restores t's FPU context if one already exists, or
// initializes a fresh one on first use, per spec.md section 4.C's "loads
// the requesting thread's (or initializes if first use)".
func (t *Thread) loadOrInitFPUContext() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.fpuCtxExists {
		t.fpuCtx = &FPUContext{}
		t.fpuCtxExists = true
	}
}

// TouchFPU is the lazy-FPU trap hook: a Body calls it immediately before
// touching floating-point state, standing in for the hardware trap that
// drives scheduler_fpu_lazy_request in the original (spec.md section 4.C,
// "when a thread first touches the FPU a trap calls
// scheduler_fpu_lazy_request"). Under FPUEager this is a no-op --
// applyFPUPolicy already granted ownership unconditionally on entry. Under
// FPULazy, if t is not already cpu's FPU owner, the current owner's context
// is saved, t's own is loaded or initialized, and ownership transfers to t.
func (t *Thread) TouchFPU() {
	cpu := t.CPU()
	if cpu == nil || cpu.kernel.config.FPU != FPULazy {
		return
	}
	if t.hasFlag(FPUOwned) {
		return
	}

	cpu.lock.Lock()
	prev := cpu.fpuOwner
	cpu.fpuOwner = t
	cpu.lock.Unlock()

	if prev != nil {
		prev.clearFlag(FPUOwned)
		prev.saveFPUContext()
	}
	t.loadOrInitFPUContext()
	t.setFlag(FPUOwned)
}

// SetCallMe registers a one-shot callback to be invoked exactly once the
// next time this thread enters the scheduler (spec.md section 3,
// "deferred callback"). Only one registration is live at a time; a second
// call before the first fires overwrites it.
func (t *Thread) SetCallMe(fn func(arg interface{}), arg interface{}) {
	t.mu.Lock()
	t.callMe = fn
	t.callMeArg = arg
	t.mu.Unlock()
}

// takeCallMe atomically removes and returns the pending callback, if any.
func (t *Thread) takeCallMe() (func(arg interface{}), interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn, arg := t.callMe, t.callMeArg
	t.callMe, t.callMeArg = nil, nil
	return fn, arg
}

// Wait blocks until the thread's goroutine has returned from Body.
func (t *Thread) Wait() {
	<-t.done
}

// Yield voluntarily gives up the CPU, re-entering the Ready state one
// priority level lower (ageOnQuantumExpiry, the same aging as an expired
// quantum). Equivalent to the Running branch of scheduler_separated_stack.
func (t *Thread) Yield() {
	t.blockOn(yieldRunning, nil, nil)
}

// blockOn hands control back to this thread's current CPU's scheduler for
// the given reason, first running setup (e.g. linking the thread onto a
// wait queue) while still "holding the CPU", then parking until the
// scheduler grants this thread its next turn. afterDetach, if non-nil, runs
// on the scheduler goroutine immediately after the outgoing-thread
// bookkeeping for the given reason has been committed -- this is the
// "release wq.lock only once Sleeping has been committed" idiom from
// scheduler_separated_stack.
func (t *Thread) blockOn(reason yieldReason, setup func(), afterDetach func()) {
	turn := make(chan struct{})
	t.mu.Lock()
	t.turn = turn
	cpu := t.cpu
	t.mu.Unlock()

	if setup != nil {
		setup()
	}

	cpu.scheduler.yieldCh <- yieldMsg{thread: t, reason: reason, afterDetach: afterDetach}
	<-turn
}

// ConsumeTick spends one unit of this thread's current quantum. Once the
// budget the scheduler granted at the start of this run is exhausted,
// ConsumeTick yields the CPU exactly like Yield and reports true. A Body
// that does meaningful work in a loop should call ConsumeTick between
// iterations so that a CPU-bound thread still ages and rotates fairly; a
// Body that is mostly blocking on Sleep or IPC has no need to call it.
func (t *Thread) ConsumeTick() bool {
	if t.ticks.Add(-1) <= 0 {
		t.Yield()
		return true
	}
	return false
}

// grant closes the thread's current turn channel, waking its goroutine (in
// run, Yield, or blockOn) and handing it the CPU. Must only be called by
// the scheduler goroutine that owns this thread.
func (t *Thread) grant() {
	t.mu.Lock()
	turn := t.turn
	t.mu.Unlock()
	close(turn)
}
