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

// Scheduler is the per-CPU scheduler goroutine described in spec.md section
// 4.C: it owns cpu's run queues exclusively, and every context switch on cpu
// passes through its yieldCh. Threads never touch a run queue directly;
// ThreadReady enqueues, and the scheduler loop itself dequeues via find_best.
type Scheduler struct {
	cpu *CPU

	// yieldCh carries one message per outgoing thread: a quantum expiry or
	// explicit Yield, a block on a WaitQueue, or a thread exiting. The
	// scheduler loop is the sole reader.
	yieldCh chan yieldMsg

	// readyCh carries newly-Ready threads in from other goroutines
	// (ThreadReady, the load balancer) without those callers touching
	// cpu.runQueues directly.
	readyCh chan *Thread

	log cpuLogger

	stop chan struct{}
}

func newScheduler(cpu *CPU) *Scheduler {
	s := &Scheduler{
		cpu:     cpu,
		yieldCh: make(chan yieldMsg),
		readyCh: make(chan *Thread, 64),
		log:     newCPULogger(cpu.ID),
		stop:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// enqueueReady places t on its priority's run queue and adjusts nrdy
// counters, mirroring thread_ready's run-queue half (spec.md section 4.C).
func (s *Scheduler) enqueueReady(t *Thread) {
	cpu := s.cpu
	t.state.Store(int32(Ready))
	t.mu.Lock()
	t.cpu = cpu
	t.mu.Unlock()

	p := t.Priority()
	if p < 0 {
		p = 0
	}
	if p >= RQCount {
		p = RQCount - 1
	}
	cpu.runQueues[p].pushBack(t)
	cpu.nrdy.Add(1)
	cpu.kernel.globalNrdy.Add(1)
	cpu.ringDoorbell()
}

// findBest scans cpu's run queues from priority 0 (most favored) upward for
// the first non-empty one. Returns nil if every queue is empty. Per spec.md
// section 4.C, relink_rq(priority_of(THREAD)) is applied *after* THREAD is
// chosen here, not before; see loop, which calls relinkRQ with the
// selected thread's priority as start.
func (s *Scheduler) findBest() *Thread {
	cpu := s.cpu

	for p := 0; p < RQCount; p++ {
		rq := &cpu.runQueues[p]
		rq.lock.Lock()
		t := rq.popFrontLocked()
		rq.lock.Unlock()
		if t != nil {
			cpu.nrdy.Add(-1)
			cpu.kernel.globalNrdy.Add(-1)
			return t
		}
	}
	return nil
}

// relinkRQ shifts each run queue above start down one level: for every i in
// [start, RQCount-2], rq[i+1] is concatenated onto rq[i], emptying rq[i+1].
// This is spec.md section 4.C's relink_rq(start), called with start set to
// the priority of the thread findBest just chose, undoing the effect of
// priority aging one level at a time so starved threads at priority `start`
// are not permanently shadowed by arrivals at every priority above it.
func (s *Scheduler) relinkRQ(start int) {
	if start < 0 {
		start = 0
	}
	cpu := s.cpu
	for i := start; i < RQCount-1; i++ {
		cpu.runQueues[i+1].drainInto(&cpu.runQueues[i])
	}
}

// loop is the scheduler goroutine body: it alternates between running a
// chosen thread (by granting it the CPU and waiting for yieldCh) and, when no
// thread is ready, halting on the CPU's doorbell. This is the Go-native
// reading of scheduler_separated_stack: there is no separated stack, because
// every suspension point here is a channel receive rather than a context
// switch on a shared kernel stack.
func (s *Scheduler) loop() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.drainReady()

		next := s.findBest()
		if next == nil {
			s.halt()
			continue
		}

		if s.cpu.needsRelink.Load() > NeedsRelinkMax {
			s.relinkRQ(next.Priority())
			s.cpu.needsRelink.Store(0)
		}

		s.runOne(next)
	}
}

// drainReady moves every thread waiting on readyCh onto its run queue before
// the scheduler picks the next victim, so that a burst of wakeups is visible
// to findBest in one pass.
func (s *Scheduler) drainReady() {
	for {
		select {
		case t := <-s.readyCh:
			s.enqueueReady(t)
		default:
			return
		}
	}
}

// halt parks the scheduler goroutine until a thread becomes ready on this
// CPU, the load balancer migrates one in, or Stop is called. This is the
// idle-thread equivalent: spec.md leaves idle's exact form unspecified, so
// halting the goroutine (rather than busy-looping an idle thread) is the
// direct Go translation.
func (s *Scheduler) halt() {
	select {
	case <-s.cpu.doorbell:
	case <-s.stop:
	}
}

// runOne grants t the CPU, marks it Running, and blocks until it yields,
// sleeps, or exits, then applies the state-specific bookkeeping that
// scheduler_separated_stack performs on the outgoing thread.
func (s *Scheduler) runOne(t *Thread) {
	cpu := s.cpu

	t.state.Store(int32(Running))
	t.mu.Lock()
	t.cpu = cpu
	t.mu.Unlock()
	// STOLEN only protects a thread from being re-stolen before the thief
	// has actually run it once (spec.md section 4.D); clear it here, now
	// that this CPU is about to run it.
	t.clearFlag(STOLEN)

	s.applyFPUPolicy(t)

	if fn, arg := t.takeCallMe(); fn != nil {
		fn(arg)
	}

	p := t.Priority()
	ticks := (p + 1)
	if ticks <= 0 {
		ticks = 1
	}
	t.ticks.Store(int32(ticks))

	t.grant()
	msg := <-s.yieldCh

	switch msg.reason {
	case yieldExiting:
		t.state.Store(int32(Lingering))

	case yieldSleeping:
		// t.blockOn's setup callback has already committed t.state =
		// Sleeping and t.sleepQueue under the caller's wq.lock, before
		// this message was even sent; our job is just the priority
		// bookkeeping and the deferred unlock.
		s.ageOnBlock(t)
		if msg.afterDetach != nil {
			msg.afterDetach()
		}

	case yieldRunning:
		s.ageOnQuantumExpiry(t)
		s.enqueueReady(t)

	default:
		panic("scheduler: thread yielded with unknown reason")
	}
}

// ageOnBlock boosts a thread's priority slightly when it voluntarily blocks,
// per spec.md section 4.C's aging rule rewarding I/O-bound behavior.
func (s *Scheduler) ageOnBlock(t *Thread) {
	p := t.priority.Load()
	if p > 0 {
		t.priority.Add(-1)
	}
}

// ageOnQuantumExpiry lowers a thread's priority after it exhausts its
// quantum by running to completion without blocking, per spec.md section
// 4.C's aging rule penalizing CPU-bound behavior.
func (s *Scheduler) ageOnQuantumExpiry(t *Thread) {
	if p := t.priority.Load(); p < RQCount-1 {
		t.priority.Add(1)
	}
	s.cpu.needsRelink.Add(1)
}

// applyFPUPolicy implements the FPU laziness described in spec.md section
// 4.C. In FPUEager mode the incoming thread's context is always considered
// live, so ownership is granted unconditionally on every entry. In FPULazy
// mode ownership only changes hands when the incoming thread actually
// touches the FPU, which this function cannot observe by itself; it is a
// no-op here, and Thread.TouchFPU is the trap hook a Body calls to drive
// scheduler_fpu_lazy_request's save/restore/ownership-transfer when that
// happens.
func (s *Scheduler) applyFPUPolicy(t *Thread) {
	if s.cpu.kernel.config.FPU == FPUEager {
		s.cpu.setFPUOwner(t)
		t.setFlag(FPUOwned)
	}
}

// Stop halts the scheduler goroutine. Threads still linked to this CPU are
// left as-is; Stop is only used during Kernel teardown once no thread is
// expected to run again.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// ThreadReady places t on the run queue of its current (or, for a thread
// that has never run, its assigned) CPU, per spec.md section 3's thread_ready.
func ThreadReady(t *Thread) {
	t.mu.Lock()
	cpu := t.cpu
	t.mu.Unlock()
	cpu.scheduler.readyCh <- t
	cpu.ringDoorbell()
}
