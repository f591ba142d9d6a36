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
)

// TestLoadBalancer_StealOnceSkipsWiredAndStolen checks stealOnce's
// eligibility predicate directly: a WIRED thread is never a candidate, and
// a thread already marked STOLEN is skipped so it is not immediately
// stolen again (spec.md section 4.D's "a thread is not migrated twice in
// a row without an intervening run").
func TestLoadBalancer_StealOnceSkipsWiredAndStolen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPUs = 2
	k := Boot(cfg)
	defer k.Shutdown()

	self := k.CPU(0)
	peer := k.CPU(1)
	task := k.CreateTask()

	wired := newThread(1, task, func(th *Thread) {})
	wired.setFlag(WIRED)
	wired.mu.Lock()
	wired.cpu = peer
	wired.mu.Unlock()
	wired.state.Store(int32(Ready))
	peer.runQueues[RQCount-1].pushBack(wired)
	peer.nrdy.Add(1)
	k.globalNrdy.Add(1)

	stolenAlready := newThread(2, task, func(th *Thread) {})
	stolenAlready.setFlag(STOLEN)
	stolenAlready.mu.Lock()
	stolenAlready.cpu = peer
	stolenAlready.mu.Unlock()
	stolenAlready.state.Store(int32(Ready))
	peer.runQueues[RQCount-1].pushBack(stolenAlready)
	peer.nrdy.Add(1)
	k.globalNrdy.Add(1)

	eligible := newThread(3, task, func(th *Thread) {})
	eligible.mu.Lock()
	eligible.cpu = peer
	eligible.mu.Unlock()
	eligible.state.Store(int32(Ready))
	peer.runQueues[RQCount-1].pushBack(eligible)
	peer.nrdy.Add(1)
	k.globalNrdy.Add(1)

	stolen, _ := stealOnce(k, self, 0, 0)
	if stolen == nil {
		t.Fatal("stealOnce found no eligible thread, want the unwired/unstolen one")
	}
	if stolen.ID != eligible.ID {
		t.Fatalf("stealOnce stole thread %d, want thread %d (the only eligible one)", stolen.ID, eligible.ID)
	}
	if !stolen.hasFlag(STOLEN) {
		t.Fatal("stealOnce did not mark the stolen thread STOLEN")
	}
	if got := stolen.CPU(); got != self {
		t.Fatalf("stolen thread's CPU = %v, want self (%v)", got, self)
	}
}

// TestLoadBalancer_ConvergesLoadAcrossCPUs is spec.md section 8's S5: a
// burst of unwired threads piled directly onto one CPU should, once the
// load balancer has had a chance to run, no longer be entirely
// concentrated there.
func TestLoadBalancer_ConvergesLoadAcrossCPUs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumCPUs = 4
	cfg.LoadBalanceInterval = 5 * time.Millisecond
	k := Boot(cfg)
	defer k.Shutdown()

	task := k.CreateTask()
	cpu0 := k.CPU(0)
	stop := make(chan struct{})
	const n = 40
	for i := 0; i < n; i++ {
		th := newThread(uint64(i+1), task, func(th *Thread) {
			for {
				select {
				case <-stop:
					return
				default:
				}
				th.Yield()
			}
		})
		th.mu.Lock()
		th.cpu = cpu0
		th.mu.Unlock()
		th.state.Store(int32(Ready))
		cpu0.runQueues[RQCount-1].pushBack(th)
		cpu0.nrdy.Add(1)
		k.globalNrdy.Add(1)
	}
	cpu0.ringDoorbell()
	defer close(stop)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		spread := false
		for i := 1; i < k.NumCPUs(); i++ {
			if k.CPU(i).Nrdy() > 0 {
				spread = true
				break
			}
		}
		if spread {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no thread migrated off CPU 0 after repeated load-balancer passes")
}
