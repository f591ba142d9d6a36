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

	"golang.org/x/net/context"
)

// TestWaitQueue_WakeOneUnblocksOneWaiter puts two sleepers on one queue and
// checks that WakeOne wakes exactly one of them and WakeAll the other, end
// to end through a booted Kernel, since Sleep's setup/afterDetach callbacks
// only make sense driven by a real scheduler goroutine.
func TestWaitQueue_WakeOneUnblocksOneWaiter(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()

	var wq WaitQueue
	task := k.CreateTask()

	results := make(chan SleepResult, 2)
	for i := 0; i < 2; i++ {
		k.CreateThread(task, func(th *Thread) {
			res := wq.Sleep(context.Background(), k.config.Clock, th, 0, SleepInterruptible)
			results <- res
		}, nil)
	}

	// Give both threads a chance to actually reach Sleep before waking.
	time.Sleep(20 * time.Millisecond)
	if got := wq.Len(); got != 2 {
		t.Fatalf("WaitQueue.Len() = %d, want 2", got)
	}

	wq.WakeOne()
	select {
	case res := <-results:
		if res != SleepOK {
			t.Fatalf("first wake result = %v, want SleepOK", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WakeOne to unblock a sleeper")
	}
	if got := wq.Len(); got != 1 {
		t.Fatalf("WaitQueue.Len() after one wake = %d, want 1", got)
	}

	wq.WakeAll()
	select {
	case res := <-results:
		if res != SleepOK {
			t.Fatalf("second wake result = %v, want SleepOK", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WakeAll to unblock the remaining sleeper")
	}
}

// TestWaitQueue_MissedWakeupIsNotLost checks spec.md section 4.B's
// guarantee that a WakeOne racing ahead of any sleeper is recorded rather
// than discarded.
func TestWaitQueue_MissedWakeupIsNotLost(t *testing.T) {
	var wq WaitQueue
	wq.WakeOne()

	k := Boot(DefaultConfig())
	defer k.Shutdown()
	task := k.CreateTask()

	done := make(chan SleepResult, 1)
	k.CreateThread(task, func(th *Thread) {
		done <- wq.Sleep(context.Background(), k.config.Clock, th, 0, SleepInterruptible)
	}, nil)

	select {
	case res := <-done:
		if res != SleepOK {
			t.Fatalf("Sleep after a missed wakeup returned %v, want SleepOK", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep blocked despite a pending missed wakeup")
	}
}

// TestWaitQueue_Timeout checks that Sleep honors a timeout when nobody ever
// wakes the sleeper.
func TestWaitQueue_Timeout(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()
	task := k.CreateTask()

	var wq WaitQueue
	done := make(chan SleepResult, 1)
	k.CreateThread(task, func(th *Thread) {
		done <- wq.Sleep(context.Background(), k.config.Clock, th, 10*time.Millisecond, SleepInterruptible)
	}, nil)

	select {
	case res := <-done:
		if res != SleepTimeout {
			t.Fatalf("Sleep result = %v, want SleepTimeout", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep never returned")
	}
}

// TestWaitQueue_ContextCancelInterrupts checks that canceling ctx wakes an
// interruptible sleeper with SleepInterrupted.
func TestWaitQueue_ContextCancelInterrupts(t *testing.T) {
	k := Boot(DefaultConfig())
	defer k.Shutdown()
	task := k.CreateTask()

	ctx, cancel := context.WithCancel(context.Background())
	var wq WaitQueue
	done := make(chan SleepResult, 1)
	k.CreateThread(task, func(th *Thread) {
		done <- wq.Sleep(ctx, k.config.Clock, th, 0, SleepInterruptible)
	}, nil)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		if res != SleepInterrupted {
			t.Fatalf("Sleep result = %v, want SleepInterrupted", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Sleep never returned after ctx cancellation")
	}
}
