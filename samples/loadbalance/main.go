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

// Command loadbalance runs spec.md section 8's S5: one CPU is pinned with
// N wired threads busy-looping, then N un-wired threads are created with
// CreateThread, which places each on whichever CPU is least loaded at that
// moment; they are not forced onto the busy CPU first. The demo checks that
// within two seconds every un-wired thread is on the second CPU.
package main

import (
	"fmt"
	"log"
	"time"

	corekernel "github.com/helenos-go/corekernel"
)

const numPairs = 4

func main() {
	cfg := corekernel.DefaultConfig()
	cfg.NumCPUs = 2
	cfg.LoadBalanceInterval = 200 * time.Millisecond
	k := corekernel.Boot(cfg)
	defer k.Shutdown()

	busyCPU := k.CPU(0)
	idleCPU := k.CPU(1)

	task := k.CreateTask()

	stop := make(chan struct{})
	for i := 0; i < numPairs; i++ {
		k.CreateThread(task, func(t *corekernel.Thread) {
			for {
				select {
				case <-stop:
					return
				default:
				}
				t.ConsumeTick()
			}
		}, busyCPU)
	}

	unwired := make([]*corekernel.Thread, numPairs)
	for i := 0; i < numPairs; i++ {
		unwired[i] = k.CreateThread(task, func(t *corekernel.Thread) {
			// Idle but still cooperative: give the CPU up every turn so
			// this thread is actually Ready (and therefore stealable)
			// between turns, rather than occupying the scheduler
			// goroutine indefinitely on its very first run.
			for {
				select {
				case <-stop:
					return
				default:
				}
				t.Yield()
			}
		}, nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		migrated := 0
		for _, th := range unwired {
			if th.CPU() == idleCPU {
				migrated++
			}
		}
		if migrated == numPairs {
			close(stop)
			fmt.Println("S5 (load balancing) OK")
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	close(stop)
	log.Fatalf("timed out waiting for %d threads to migrate to the idle CPU", numPairs)
}
