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
	"time"

	"github.com/jacobsa/timeutil"
	"golang.org/x/net/context"
)

// SleepResult is the outcome of WaitQueue.Sleep, per spec.md section 4.B.
type SleepResult int

const (
	SleepOK SleepResult = iota
	SleepInterrupted
	SleepTimeout
)

// SleepFlags modifies WaitQueue.Sleep's behavior.
type SleepFlags int

const (
	// SleepInterruptible allows Sleep to return SleepInterrupted if ctx is
	// canceled or the thread is otherwise woken externally rather than by
	// WakeOne/WakeAll.
	SleepInterruptible SleepFlags = 1 << iota
)

// WaitQueue is a FIFO of blocked threads plus a missed-wakeup counter, per
// spec.md section 4.B: a wake_one on an empty queue is not lost, it is
// recorded so that the next sleeper consumes it without blocking.
type WaitQueue struct {
	lock          SpinLock
	waiters       []*waiter
	missedWakeups int
}

type waiter struct {
	thread *Thread
	woken  bool
	result SleepResult
}

// Sleep blocks the calling thread t on wq until woken, timed out, or (if
// SleepInterruptible is set) interrupted via ctx cancellation. timeout <= 0
// means no timeout. Sleep is the one place spec.md's "unlock-after-switch"
// idiom is required for correctness: the thread is linked onto wq, marked
// Sleeping, and only then handed back to the scheduler, which releases
// wq.lock after the transition has committed -- closing the race window
// between a sleeper enqueuing and a waker's WakeOne/WakeAll running.
func (wq *WaitQueue) Sleep(ctx context.Context, clk timeutil.Clock, t *Thread, timeout time.Duration, flags SleepFlags) SleepResult {
	clock := asClockLike(clk)
	wq.lock.Lock()

	// A pending missed wakeup satisfies this sleep immediately, per spec.
	if wq.missedWakeups > 0 {
		wq.missedWakeups--
		wq.lock.Unlock()
		return SleepOK
	}

	w := &waiter{thread: t}
	wq.waiters = append(wq.waiters, w)

	// setup runs on the calling thread's own goroutine, still "holding the
	// CPU", before control transfers to the scheduler: commit the
	// Sleeping state and the sleep_queue back-pointer while wq.lock is
	// still held by us.
	setup := func() {
		t.mu.Lock()
		t.sleepQueue = wq
		t.mu.Unlock()
		t.state.Store(int32(Sleeping))
	}

	// afterDetach runs on the scheduler goroutine immediately after the
	// Sleeping-branch bookkeeping (the priority boost) has been applied,
	// and releases wq.lock -- the "unlock-after-switch" step.
	afterDetach := func() {
		wq.lock.Unlock()
	}

	var timer *time.Timer
	var timedOut = make(chan struct{})
	if timeout > 0 {
		timer = clock.AfterFunc(timeout, func() {
			wq.wakeWaiter(w, SleepTimeout)
			close(timedOut)
		})
	}

	var cancelC <-chan struct{}
	if flags&SleepInterruptible != 0 && ctx != nil {
		cancelC = ctx.Done()
	}

	if cancelC != nil || timer != nil {
		go func() {
			select {
			case <-cancelC:
				wq.wakeWaiter(w, SleepInterrupted)
			case <-timedOut:
			case <-t.done:
			}
		}()
	}

	t.blockOn(yieldSleeping, setup, afterDetach)

	if timer != nil {
		timer.Stop()
	}

	wq.lock.Lock()
	res := w.result
	wq.lock.Unlock()
	return res
}

// wakeWaiter marks w woken with the given result and, if it is still
// linked on its wait queue, removes it and grants it the CPU again. Safe to
// call more than once; only the first call has effect.
func (wq *WaitQueue) wakeWaiter(w *waiter, res SleepResult) {
	wq.lock.Lock()
	if w.woken {
		wq.lock.Unlock()
		return
	}
	idx := -1
	for i, x := range wq.waiters {
		if x == w {
			idx = i
			break
		}
	}
	if idx < 0 {
		wq.lock.Unlock()
		return
	}
	wq.waiters = append(wq.waiters[:idx], wq.waiters[idx+1:]...)
	w.woken = true
	w.result = res
	wq.lock.Unlock()

	w.thread.grant()
}

// WakeOne wakes the longest-waiting thread on wq, in FIFO order. If wq is
// empty, the wakeup is not lost: it increments missedWakeups so the next
// Sleep call is satisfied without blocking.
func (wq *WaitQueue) WakeOne() {
	wq.lock.Lock()
	if len(wq.waiters) == 0 {
		wq.missedWakeups++
		wq.lock.Unlock()
		return
	}
	w := wq.waiters[0]
	wq.waiters = wq.waiters[1:]
	w.woken = true
	w.result = SleepOK
	wq.lock.Unlock()

	w.thread.grant()
}

// WakeAll wakes every thread currently sleeping on wq.
func (wq *WaitQueue) WakeAll() {
	wq.lock.Lock()
	all := wq.waiters
	wq.waiters = nil
	wq.lock.Unlock()

	for _, w := range all {
		w.woken = true
		w.result = SleepOK
		w.thread.grant()
	}
}

// Len reports the number of threads currently sleeping on wq.
func (wq *WaitQueue) Len() int {
	wq.lock.Lock()
	defer wq.lock.Unlock()
	return len(wq.waiters)
}
