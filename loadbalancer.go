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

// runLoadBalancer is kcpulb (spec.md section 4.D): one goroutine per CPU,
// conceptually wired to it, that periodically steals Ready threads from
// busier CPUs to keep load even. It runs until stop is closed.
func runLoadBalancer(k *Kernel, self *CPU, stop <-chan struct{}) {
	log := newCPULogger(self.ID)
	interval := k.config.LoadBalanceInterval
	clock := asClockLike(k.config.Clock)
	rotate := self.ID

	for {
		fired := make(chan struct{})
		timer := clock.AfterFunc(interval, func() { close(fired) })
		select {
		case <-stop:
			timer.Stop()
			return
		case <-fired:
		}
		_ = clock.Now() // stamp, for parity with a real timestamped trace

		for {
			avg, deficit := loadStats(k, self)
			if deficit <= 0 {
				break
			}

			moved, nextRotate := stealOnce(k, self, rotate, avg)
			rotate = nextRotate
			if moved == nil {
				break
			}

			log.Printf("stole thread %d from cpu %d", moved.ID, moved.CPU().ID)
			ThreadReady(moved)
			deficit--
			if deficit <= 0 {
				break
			}
		}

		if self.Nrdy() > 0 {
			// Spec.md section 4.D step 4: yield to let migrated threads
			// run before sleeping again. This goroutine has no CPU grant
			// of its own to yield (it is infrastructure, not a scheduled
			// Thread); ringing the doorbell is the direct equivalent,
			// prompting the scheduler to pick up newly Ready arrivals
			// immediately rather than waiting for its next natural pass.
			self.ringDoorbell()
		}
	}
}

// loadStats implements spec.md section 4.D step 2: avg =
// global_nrdy/active_cpus + 1; deficit = avg - CPU.nrdy.
func loadStats(k *Kernel, self *CPU) (avg int, deficit int) {
	active := 0
	for _, c := range k.cpus {
		if c.active.Load() {
			active++
		}
	}
	if active == 0 {
		active = 1
	}
	avg = int(k.globalNrdy.Load())/active + 1
	return avg, avg - self.Nrdy()
}

// stealOnce scans priorities from lowest to highest (RQCount-1 down to 0)
// across peer CPUs starting from a rotating index, stealing the first
// eligible thread found. It returns the stolen thread (nil if none) and the
// rotation index to resume from next time, per spec.md section 4.D step 3.
func stealOnce(k *Kernel, self *CPU, rotate int, avg int) (*Thread, int) {
	n := len(k.cpus)
	for j := RQCount - 1; j >= 0; j-- {
		for step := 0; step < n; step++ {
			idx := (rotate + step) % n
			peer := k.cpus[idx]
			if peer == self {
				continue
			}
			if peer.Nrdy() <= avg {
				continue
			}

			t := peer.runQueues[j].popTailMatching(func(t *Thread) bool {
				return !t.hasFlag(WIRED) && !t.hasFlag(STOLEN) && !t.hasFlag(FPUOwned)
			})
			if t != nil {
				peer.nrdy.Add(-1)
				k.globalNrdy.Add(-1)
				t.setFlag(STOLEN)
				t.mu.Lock()
				t.cpu = self
				t.mu.Unlock()
				return t, (idx + 1) % n
			}
		}
	}
	return nil, rotate
}
