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
	"testing"
	"time"

	"github.com/helenos-go/corekernel/physmem"
	"golang.org/x/net/context"
)

// TestFutex_CrossTaskWakeupViaSharedPhysicalPage is spec.md section 8's S6:
// two tasks mapping the same physical page at different virtual addresses
// must share the same kernel futex, so a wakeup issued by one reaches a
// sleeper parked by the other.
func TestFutex_CrossTaskWakeupViaSharedPhysicalPage(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	mem, err := physmem.New(4)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer mem.Close()

	asA := physmem.NewAddressSpace(mem)
	asB := physmem.NewAddressSpace(mem)
	const physPage = 2
	if err := asA.Map(0x1000, physPage); err != nil {
		t.Fatalf("asA.Map: %v", err)
	}
	if err := asB.Map(0x7000, physPage); err != nil {
		t.Fatalf("asB.Map: %v", err)
	}

	tr := physmem.Translator{}
	sleeper := k.CreateTask()
	waker := k.CreateTask()

	done := make(chan error, 1)
	k.CreateThread(sleeper, func(th *Thread) {
		done <- FutexSleep(context.Background(), sleeper, tr, asA, th, 0x1000)
	}, nil)

	time.Sleep(20 * time.Millisecond) // let the sleeper actually reach Sleep

	k.CreateThread(waker, func(th *Thread) {
		if err := FutexWakeup(waker, tr, asB, 0x7000); err != nil {
			t.Errorf("FutexWakeup: %v", err)
		}
	}, nil)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("FutexSleep returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("FutexWakeup from a different task's address space never woke the sleeper")
	}
}

// TestFutex_UnmappedAddressFails checks that FutexWakeup on an address with
// no mapping reports ENOENT rather than blocking forever or panicking.
func TestFutex_UnmappedAddressFails(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	mem, err := physmem.New(1)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer mem.Close()

	as := physmem.NewAddressSpace(mem)
	tr := physmem.Translator{}
	task := k.CreateTask()

	if err := FutexWakeup(task, tr, as, 0x9000); err != ENOENT {
		t.Fatalf("FutexWakeup on an unmapped address = %v, want ENOENT", err)
	}
}

// TestFutex_RefcountFreedOnTaskTeardown exercises teardownFutexCache's
// refcounting: once every task that ever cached a futex has torn down its
// cache, the kernel-wide table entry must be gone.
func TestFutex_RefcountFreedOnTaskTeardown(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	mem, err := physmem.New(1)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer mem.Close()

	asA := physmem.NewAddressSpace(mem)
	asB := physmem.NewAddressSpace(mem)
	if err := asA.Map(0x2000, 0); err != nil {
		t.Fatalf("asA.Map: %v", err)
	}
	if err := asB.Map(0x3000, 0); err != nil {
		t.Fatalf("asB.Map: %v", err)
	}
	tr := physmem.Translator{}

	taskA := k.CreateTask()
	taskB := k.CreateTask()

	if err := FutexWakeup(taskA, tr, asA, 0x2000); err != nil {
		t.Fatalf("FutexWakeup(taskA): %v", err)
	}
	if err := FutexWakeup(taskB, tr, asB, 0x3000); err != nil {
		t.Fatalf("FutexWakeup(taskB): %v", err)
	}
	if got := len(k.futexes.table); got != 1 {
		t.Fatalf("futex table has %d entries after two tasks cached the same page, want 1", got)
	}

	teardownFutexCache(taskA, false)
	if got := len(k.futexes.table); got != 1 {
		t.Fatalf("futex table has %d entries after only one of two referencing tasks tore down, want 1", got)
	}

	teardownFutexCache(taskB, false)
	if got := len(k.futexes.table); got != 0 {
		t.Fatalf("futex table has %d entries after both referencing tasks tore down, want 0", got)
	}
}

// TestTaskExitFromIRQContextDrainsThroughQueue checks that Task.Exit(true)
// still tears down the futex cache and removes the task from the kernel's
// registry, even though the work is handed to futexTeardownQueue's drainer
// goroutine rather than run inline.
func TestTaskExitFromIRQContextDrainsThroughQueue(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	mem, err := physmem.New(1)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer mem.Close()

	as := physmem.NewAddressSpace(mem)
	if err := as.Map(0x4000, 0); err != nil {
		t.Fatalf("as.Map: %v", err)
	}
	tr := physmem.Translator{}

	task := k.CreateTask()
	if err := FutexWakeup(task, tr, as, 0x4000); err != nil {
		t.Fatalf("FutexWakeup: %v", err)
	}

	taskID := task.ID
	task.Exit(true)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		k.tasksMu.Lock()
		_, stillRegistered := k.tasks[taskID]
		k.tasksMu.Unlock()
		if !stillRegistered && len(k.futexes.table) == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Task.Exit(true) never drained through futexTeardownQueue")
}
