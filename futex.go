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

	"golang.org/x/net/context"
)

// AddressTranslator resolves a task-local virtual address to the physical
// address of the page backing it, spec.md section 1's opaque virt_to_phys.
// The physmem package provides a test/demo implementation backed by a
// fallocated file standing in for shared physical memory.
type AddressTranslator interface {
	// Translate returns the physical address backing uaddr in the address
	// space identified by asHandle, or ok == false if uaddr is unmapped.
	Translate(asHandle interface{}, uaddr uintptr) (phys uintptr, ok bool)
}

// futex is the kernel object keyed by physical address, per spec.md section
// 3's Futex: a wait queue shared by every task whose address space maps the
// same physical page.
type futex struct {
	phys     uintptr
	refcount int
	wq       WaitQueue
}

// futexTable is the kernel-wide hash table phys -> *futex, guarded by a
// single lock standing in for spec.md section 4.A's futex_ht_lock, the
// outermost lock in the core's fixed lock order.
type futexTable struct {
	lock  sync.Mutex
	table map[uintptr]*futex
}

func newFutexTable() *futexTable {
	return &futexTable{table: make(map[uintptr]*futex)}
}

// getOrCreate returns the futex for phys, creating it with refcount 0 if
// absent. The caller is responsible for bumping refcount under ft.lock
// immediately if it is installing a new cache entry.
func (ft *futexTable) getOrCreate(phys uintptr) *futex {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	f, ok := ft.table[phys]
	if !ok {
		f = &futex{phys: phys}
		ft.table[phys] = f
	}
	return f
}

// release drops one reference to f, removing it from the table if the
// refcount reaches zero. Spec.md section 4.H's invariant: "the kernel futex
// for a given phys address is freed iff no task cache references it."
func (ft *futexTable) release(f *futex) {
	ft.lock.Lock()
	defer ft.lock.Unlock()
	f.refcount--
	if f.refcount <= 0 {
		delete(ft.table, f.phys)
	}
}

// futexCacheEntry is one entry in a task's per-uaddr futex cache, spec.md
// section 4.H: "each task maintains a per-task cache mapping uaddr ->
// futex_ptr for fast repeated access."
type futexCacheEntry struct {
	f *futex
}

// lookupFutex resolves uaddr to its futex, consulting (and, on a miss,
// populating) task's cache. asHandle is passed through to tr opaquely; this
// core has no address-space type of its own, per spec.md section 1.
func lookupFutex(task *Task, tr AddressTranslator, asHandle interface{}, uaddr uintptr) (*futex, error) {
	task.futexCacheLock.Lock()
	if e, ok := task.futexCache[uaddr]; ok {
		task.futexCacheLock.Unlock()
		return e.f, nil
	}
	task.futexCacheLock.Unlock()

	phys, ok := tr.Translate(asHandle, uaddr)
	if !ok {
		return nil, ENOENT
	}

	ft := task.kernel.futexes
	f := ft.getOrCreate(phys)

	task.futexCacheLock.Lock()
	defer task.futexCacheLock.Unlock()
	if e, ok := task.futexCache[uaddr]; ok {
		// Lost the race with a concurrent lookup of the same uaddr; the
		// entry installed first wins, and our getOrCreate'd reference
		// (which added no refcount of its own) is simply unused.
		return e.f, nil
	}

	ft.lock.Lock()
	f.refcount++
	ft.lock.Unlock()

	task.futexCache[uaddr] = &futexCacheEntry{f: f}
	return f, nil
}

// FutexSleep resolves uaddr in task's address space and sleeps t
// interruptibly on the corresponding futex's wait queue, per spec.md
// section 4.H's futex_sleep.
func FutexSleep(ctx context.Context, task *Task, tr AddressTranslator, asHandle interface{}, t *Thread, uaddr uintptr) error {
	f, err := lookupFutex(task, tr, asHandle, uaddr)
	if err != nil {
		return err
	}
	res := f.wq.Sleep(ctx, task.kernel.config.Clock, t, 0, SleepInterruptible)
	if res == SleepInterrupted {
		return EINTERRUPTED
	}
	return nil
}

// FutexWakeup resolves uaddr in task's address space and wakes at most one
// thread sleeping on the corresponding futex, per spec.md section 4.H's
// futex_wakeup.
func FutexWakeup(task *Task, tr AddressTranslator, asHandle interface{}, uaddr uintptr) error {
	f, err := lookupFutex(task, tr, asHandle, uaddr)
	if err != nil {
		return err
	}
	f.wq.WakeOne()
	return nil
}

// futexTeardownQueue is the package-level deferral queue SPEC_FULL.md's
// futex cache teardown supplement calls for: a buffered channel plus one
// drainer goroutine, standing in for the original's deferred
// futex_task_deinit work item. teardownFutexCache hands its closure here
// instead of running it inline whenever it is called from IRQ context,
// since the closure below takes futexTable.lock (an ordinary mutex) and
// must never do so while interrupts are disabled.
var futexTeardownQueue = make(chan func(), 256)

func init() {
	go func() {
		for fn := range futexTeardownQueue {
			fn()
		}
	}()
}

// teardownFutexCache drops every entry in task's futex cache, releasing one
// reference per entry. Spec.md section 4.H: "on task termination all
// entries are dropped, possibly freeing the futex"; per the original's
// futex_task_deinit, this is deferred to futexTeardownQueue's drainer
// goroutine rather than run inline when inIRQContext is true.
func teardownFutexCache(task *Task, inIRQContext bool) {
	do := func() {
		task.futexCacheLock.Lock()
		entries := task.futexCache
		task.futexCache = make(map[uintptr]*futexCacheEntry)
		task.futexCacheLock.Unlock()

		for _, e := range entries {
			task.kernel.futexes.release(e.f)
		}
	}

	if !inIRQContext {
		do()
		return
	}
	futexTeardownQueue <- do
}
