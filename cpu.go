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

import "sync/atomic"

// RunQueue is one priority level of a CPU's multi-level FIFO, per spec.md
// section 4.C: a spinlock plus a slice-backed FIFO; its length is the count.
type RunQueue struct {
	lock  SpinLock
	queue []*Thread
}

func (rq *RunQueue) len() int {
	rq.lock.Lock()
	n := len(rq.queue)
	rq.lock.Unlock()
	return n
}

func (rq *RunQueue) pushBack(t *Thread) {
	rq.lock.Lock()
	rq.queue = append(rq.queue, t)
	rq.lock.Unlock()
}

// popFrontLocked removes and returns the head of the queue, or nil if empty. The
// caller must already hold rq.lock.
func (rq *RunQueue) popFrontLocked() *Thread {
	if len(rq.queue) == 0 {
		return nil
	}
	t := rq.queue[0]
	rq.queue = rq.queue[1:]
	return t
}

// drainInto appends every thread in rq onto dst, emptying rq. Used by
// relink_rq, which concatenates rq[i+1] onto rq[i].
func (rq *RunQueue) drainInto(dst *RunQueue) {
	rq.lock.Lock()
	moved := rq.queue
	rq.queue = nil
	rq.lock.Unlock()

	if len(moved) == 0 {
		return
	}

	dst.lock.Lock()
	dst.queue = append(dst.queue, moved...)
	dst.lock.Unlock()
}

// popTailMatching scans from the tail for the first thread satisfying pred,
// removing and returning it. Used by the load balancer, which prefers to
// steal from the tail (the longest-waiting-to-be-stolen end) of the lowest
// priority it is examining.
func (rq *RunQueue) popTailMatching(pred func(*Thread) bool) *Thread {
	rq.lock.Lock()
	defer rq.lock.Unlock()
	for i := len(rq.queue) - 1; i >= 0; i-- {
		if pred(rq.queue[i]) {
			t := rq.queue[i]
			rq.queue = append(rq.queue[:i], rq.queue[i+1:]...)
			return t
		}
	}
	return nil
}

// CPU is one processor in the SMP system, per spec.md section 3.
type CPU struct {
	ID     int
	kernel *Kernel

	interrupts interruptFlag

	lock SpinLock // guards fpuOwner

	runQueues [RQCount]RunQueue

	nrdy         atomic.Int64
	needsRelink  atomic.Int32
	fpuOwner     *Thread

	active atomic.Bool

	scheduler *Scheduler

	// doorbell is rung whenever a thread becomes Ready on this CPU, to
	// wake the scheduler goroutine from its idle halt.
	doorbell chan struct{}
}

func newCPU(id int, k *Kernel) *CPU {
	c := &CPU{
		ID:       id,
		kernel:   k,
		doorbell: make(chan struct{}, 1),
	}
	c.active.Store(true)
	c.scheduler = newScheduler(c)
	return c
}

// Nrdy returns the number of Ready threads currently queued on this CPU.
func (c *CPU) Nrdy() int {
	return int(c.nrdy.Load())
}

func (c *CPU) ringDoorbell() {
	select {
	case c.doorbell <- struct{}{}:
	default:
	}
}

// FPUOwner returns the thread whose FPU context is currently live in this
// CPU's hardware FPU, or nil.
func (c *CPU) FPUOwner() *Thread {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.fpuOwner
}

func (c *CPU) setFPUOwner(t *Thread) {
	c.lock.Lock()
	c.fpuOwner = t
	c.lock.Unlock()
}
