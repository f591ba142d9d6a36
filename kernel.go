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

// Kernel is the top-level object: the set of CPUs, the global futex table,
// and the registry of live tasks. Boot brings one up; there is no facility
// for tearing down and rebuilding one in place, matching the teacher's
// Mount/MountedFileSystem lifecycle rather than a restartable server.
type Kernel struct {
	config Config

	cpus []*CPU

	// globalNrdy is the sum of every CPU's nrdy, maintained incrementally
	// alongside each CPU's own counter so that Sum(CPU.Nrdy()) ==
	// Kernel.Nrdy() at all times (spec.md section 8's work-conservation
	// property).
	globalNrdy atomic.Int64

	futexes *futexTable
	irqs    *irqHashTable

	tasksMu sync.Mutex
	tasks   map[uint64]*Task
	nextTID uint64

	lbStop chan struct{}
	lbWG   sync.WaitGroup
}

// Boot brings up a Kernel with the given configuration: NumCPUs scheduler
// goroutines, one load-balancer goroutine per CPU, and an empty futex table
// and task registry. It starts those goroutines and returns without waiting
// for any of them to begin running.
func Boot(cfg Config) *Kernel {
	cfg.setDefaults()

	k := &Kernel{
		config:  cfg,
		futexes: newFutexTable(),
		irqs:    newIRQHashTable(),
		tasks:   make(map[uint64]*Task),
		lbStop:  make(chan struct{}),
	}

	k.cpus = make([]*CPU, cfg.NumCPUs)
	for i := range k.cpus {
		k.cpus[i] = newCPU(i, k)
	}

	for _, c := range k.cpus {
		c := c
		k.lbWG.Add(1)
		go func() {
			defer k.lbWG.Done()
			runLoadBalancer(k, c, k.lbStop)
		}()
	}

	return k
}

// Shutdown stops every load-balancer and scheduler goroutine. It does not
// wait for in-flight thread Bodies to finish; callers should Wait on any
// thread they care about before calling Shutdown.
func (k *Kernel) Shutdown() {
	close(k.lbStop)
	k.lbWG.Wait()
	for _, c := range k.cpus {
		c.scheduler.Stop()
	}
}

// NumCPUs returns the number of CPUs this Kernel was booted with.
func (k *Kernel) NumCPUs() int {
	return len(k.cpus)
}

// CPU returns the i'th CPU, for tests and samples that want to target a
// specific one (e.g. to create a WIRED thread).
func (k *Kernel) CPU(i int) *CPU {
	return k.cpus[i]
}

// Nrdy returns the total number of Ready threads across every CPU.
func (k *Kernel) Nrdy() int {
	return int(k.globalNrdy.Load())
}

// Futexes returns the kernel-wide futex table (spec.md section 5).
func (k *Kernel) Futexes() *futexTable {
	return k.futexes
}

// leastLoadedCPU returns the CPU with the smallest nrdy, used to place a
// newly created unwired thread. Ties break toward the lowest CPU ID.
func (k *Kernel) leastLoadedCPU() *CPU {
	best := k.cpus[0]
	for _, c := range k.cpus[1:] {
		if c.Nrdy() < best.Nrdy() {
			best = c
		}
	}
	return best
}

// registerTask assigns t a kernel-unique ID and records it in the task
// registry.
func (k *Kernel) registerTask(t *Task) {
	k.tasksMu.Lock()
	defer k.tasksMu.Unlock()
	k.nextTID++
	t.ID = k.nextTID
	k.tasks[t.ID] = t
}

// unregisterTask removes t from the task registry (spec.md section 2's task
// teardown). It is called from Task.Exit; t's open phones are not checked.
func (k *Kernel) unregisterTask(t *Task) {
	k.tasksMu.Lock()
	delete(k.tasks, t.ID)
	k.tasksMu.Unlock()
}

// CreateTask creates a new, empty task owned by this kernel.
func (k *Kernel) CreateTask() *Task {
	t := newTask(k)
	k.registerTask(t)
	return t
}

// CreateThread creates a new thread belonging to task, running body once
// scheduled, and places it in the Ready state on the least-loaded CPU
// (or, if wired, the given CPU). Spec.md section 3's thread_create plus
// thread_ready, combined as a single convenience entry point.
func (k *Kernel) CreateThread(task *Task, body func(t *Thread), wired *CPU) *Thread {
	task.mu.Lock()
	task.nextThreadID++
	id := task.nextThreadID
	task.mu.Unlock()

	th := newThread(id, task, body)

	var cpu *CPU
	if wired != nil {
		th.setFlag(WIRED)
		cpu = wired
	} else {
		cpu = k.leastLoadedCPU()
	}
	th.mu.Lock()
	th.cpu = cpu
	th.mu.Unlock()

	task.addThread(th)

	ThreadReady(th)
	return th
}
