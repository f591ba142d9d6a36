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
	"fmt"
	"sync/atomic"

	"github.com/helenos-go/corekernel/internal/callid"
	"github.com/jacobsa/syncutil"
)

// Capability is a bitmask of the privileged operations from spec.md section
// 3's Task.
type Capability uint32

const (
	// CapIOManager permits direct PIO range access in IRQ registration.
	CapIOManager Capability = 1 << iota
	// CapIRQReg permits ipc_register_irq.
	CapIRQReg
)

// Task is an address-space-owning container for threads and phones, per
// spec.md section 3.
type Task struct {
	ID     uint64
	kernel *Kernel

	// mu guards the fields below except activeCalls (atomic) and
	// futexCache (guarded by futexCacheLock). Its invariant check mirrors the
	// caching_fs/memfs pattern of running checkInvariants after each
	// exclusive unlock rather than hand-rolling assertions at every call
	// site.
	mu syncutil.InvariantMutex

	threads      []*Thread
	nextThreadID uint64

	Answerbox *Answerbox

	phones []*Phone

	// activeCalls counts outstanding async requests this task has sent but
	// not yet received an answer for, enforced against
	// Kernel.config.IPCMaxAsyncCalls (spec.md section 4.E's back-pressure).
	activeCalls atomic.Int32

	// outstanding maps a call id this task was given (by call_async or
	// call_async_fast) back to the *Call, so answer/wait_for_call can
	// resolve it. Protected by mu.
	outstanding *callid.Table

	caps Capability

	futexCache     map[uintptr]*futexCacheEntry
	futexCacheLock SpinLock
}

func newTask(k *Kernel) *Task {
	t := &Task{
		kernel:      k,
		phones:      make([]*Phone, k.config.IPCMaxPhones),
		outstanding: callid.NewTable(64),
		futexCache:  make(map[uintptr]*futexCacheEntry),
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	t.Answerbox = newAnswerbox(t)
	for i := range t.phones {
		t.phones[i] = newPhone(t, i)
	}
	return t
}

// checkInvariants verifies that every phone slot still believes it lives at
// its own index in t.phones, the one thing about Task's mutable state that's
// cheap to assert without reaching past mu into another lock.
func (t *Task) checkInvariants() {
	for i, p := range t.phones {
		if p != nil && p.Index != i {
			panic(fmt.Sprintf("phone at slot %d reports Index %d", i, p.Index))
		}
	}
}

func (t *Task) addThread(th *Thread) {
	t.mu.Lock()
	t.threads = append(t.threads, th)
	t.mu.Unlock()
}

// liveThreadCount returns the number of t's threads that have not yet
// reached Exiting or Lingering, i.e. threads run's own goroutine has not
// yet finished tearing down. Used to detect a task's last thread finishing.
func (t *Task) liveThreadCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, th := range t.threads {
		switch th.State() {
		case Exiting, Lingering:
		default:
			n++
		}
	}
	return n
}

// Exit tears down t: it releases its futex cache (teardownFutexCache,
// deferred through futexTeardownQueue when inIRQContext is true, since that
// release path takes an ordinary mutex that must never be taken with
// interrupts disabled) and removes t from the kernel's task registry.
// Spec.md section 2's task teardown, combined with the original's
// task_kill -> futex_task_deinit sequence (spec.md section 4.H's closing
// note and SPEC_FULL.md's futex cache teardown deferral supplement).
func (t *Task) Exit(inIRQContext bool) {
	teardownFutexCache(t, inIRQContext)
	t.kernel.unregisterTask(t)
}

// Grant adds caps to this task's capability set.
func (t *Task) Grant(caps Capability) {
	t.mu.Lock()
	t.caps |= caps
	t.mu.Unlock()
}

// Has reports whether this task holds every capability in caps.
func (t *Task) Has(caps Capability) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caps&caps == caps
}

// allocPhone returns the lowest free phone slot index, transitioning it to
// Connecting, or ELIMIT if the table is full. Spec.md section 4.E's
// phone_alloc.
func (t *Task) allocPhone() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.phones {
		if p.State() == PhoneFree {
			p.lock.Lock()
			p.state = PhoneConnecting
			p.lock.Unlock()
			return i, nil
		}
	}
	return 0, ELIMIT
}

// AllocPhoneForTest allocates a phone slot in the Connecting state. It is
// exported for samples and tests that need an already-connected phone
// without driving the full CONNECT_ME_TO/CONNECT_TO_ME handshake through
// IPC; production code never calls it directly.
func (t *Task) AllocPhoneForTest() (int, *Phone, error) {
	idx, err := t.allocPhone()
	if err != nil {
		return 0, nil, err
	}
	return idx, t.phones[idx], nil
}

// Phone returns the phone at index i, or nil if out of range.
func (t *Task) Phone(i int) *Phone {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.phones) {
		return nil
	}
	return t.phones[i]
}

// deallocPhone resets the phone at index i back to Free.
func (t *Task) deallocPhone(i int) {
	if p := t.Phone(i); p != nil {
		p.reset()
	}
}

// reserveAsyncSlot increments activeCalls if doing so would stay within
// IPCMaxAsyncCalls, reporting whether the reservation succeeded. Spec.md
// section 4.E's back-pressure: beyond the limit, callAsync returns EAGAIN
// without allocating a call.
func (t *Task) reserveAsyncSlot() bool {
	limit := int32(t.kernel.config.IPCMaxAsyncCalls)
	for {
		cur := t.activeCalls.Load()
		if cur >= limit {
			return false
		}
		if t.activeCalls.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (t *Task) releaseAsyncSlot() {
	t.activeCalls.Add(-1)
}

// registerOutstanding records c under a fresh, untagged call id, so a later
// answer can be matched back to it by id.
func (t *Task) registerOutstanding(c *Call) callid.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outstanding.Put(c, 0)
}

// resolveOutstanding looks up and removes the call registered under id,
// reporting ok == false for a stale or forged id.
func (t *Task) resolveOutstanding(id callid.ID) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.outstanding.Get(id)
	if !ok {
		return nil, false
	}
	t.outstanding.Remove(id)
	return v.(*Call), true
}
