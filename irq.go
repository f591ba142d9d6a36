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

	"github.com/helenos-go/corekernel/irqvm"
)

// IRQ is a registered top-half handler for one interrupt line, per spec.md
// section 3's IRQ object.
type IRQ struct {
	INR int

	// Method is the IPC method stamped into every notification this IRQ
	// generates.
	Method uint64

	// Target is the answerbox notifications are delivered to.
	Target *Answerbox

	lock    sync.Mutex
	program *irqvm.ValidatedProgram
	io      irqvm.PIO
	counter uint64
}

// irqHashTable owns every currently-registered IRQ, keyed by interrupt
// number with owners ordered by registration, per spec.md section 4.G:
// "each external IRQ line has an owner set ordered by registration; on an
// interrupt, owners are polled via their claim function until one returns
// ACCEPT."
type irqHashTable struct {
	mu      sync.Mutex
	owners  map[int][]*IRQ
}

func newIRQHashTable() *irqHashTable {
	return &irqHashTable{owners: make(map[int][]*IRQ)}
}

func (h *irqHashTable) register(irq *IRQ) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owners[irq.INR] = append(h.owners[irq.INR], irq)
}

// unregister removes irq from its line's owner set. It is idempotent: a
// second call (or a call racing a concurrent in-flight Dispatch that has
// already captured the owner slice) has no further effect, mirroring the
// source's tolerance of unsubscribe racing delivery of an already-queued
// notification.
func (h *irqHashTable) unregister(irq *IRQ) {
	h.mu.Lock()
	defer h.mu.Unlock()
	owners := h.owners[irq.INR]
	for i, o := range owners {
		if o == irq {
			h.owners[irq.INR] = append(owners[:i], owners[i+1:]...)
			return
		}
	}
}

func (h *irqHashTable) ownersOf(inr int) []*IRQ {
	h.mu.Lock()
	defer h.mu.Unlock()
	owners := h.owners[inr]
	cp := make([]*IRQ, len(owners))
	copy(cp, owners)
	return cp
}

// RegisterIRQ validates prog against the kernel's configured limits,
// resolves its PIO ranges through resolver, and adds it to inr's owner set.
// Caller must hold CapIRQReg. Spec.md section 4.G's ipc_irq_subscribe.
func (k *Kernel) RegisterIRQ(owner *Task, inr int, method uint64, target *Answerbox, prog irqvm.UnvalidatedProgram, io irqvm.PIO, resolver irqvm.AddressResolver) (*IRQ, error) {
	if !owner.Has(CapIRQReg) {
		return nil, EPERM
	}

	lim := irqvm.Limits{
		MaxProgSize:   k.config.IRQMaxProgSize,
		MaxRangeCount: k.config.IRQMaxRangeCount,
	}
	validated, err := irqvm.Validate(prog, lim, resolver)
	if err != nil {
		return nil, EINVAL
	}

	irq := &IRQ{INR: inr, Method: method, Target: target, program: validated, io: io}
	k.irqs.register(irq)
	return irq, nil
}

// UnregisterIRQ removes irq from its line's owner set and frees its
// program. Spec.md section 4.G: "unlinks the IRQ object from the hash
// table; frees program & ranges; remaining in-flight notifications remain
// valid."
func (k *Kernel) UnregisterIRQ(irq *IRQ) error {
	k.irqs.unregister(irq)
	irq.lock.Lock()
	irq.program = nil
	irq.lock.Unlock()
	return nil
}

// DispatchIRQ simulates a hardware interrupt on inr: it polls inr's owners
// in registration order via their top-half program until one claims it,
// delivering a notification call to that owner's target answerbox.
// Unclaimed interrupts are reported via the returned bool. Spec.md section
// 4.G's top_half_claim plus the notification-delivery step.
func (k *Kernel) DispatchIRQ(inr int) (claimed bool) {
	for _, irq := range k.irqs.ownersOf(inr) {
		irq.lock.Lock()
		prog := irq.program
		io := irq.io
		if prog == nil {
			irq.lock.Unlock()
			continue
		}
		verdict, scratch := irqvm.Run(prog, io)
		if verdict != irqvm.Accept {
			irq.lock.Unlock()
			continue
		}
		irq.counter++
		seq := irq.counter
		irq.lock.Unlock()

		c := newCall(irq.Method, [IPCArgCount]uint64{}, nil, nil)
		for i := 1; i <= 5; i++ {
			c.Args[i-1] = uint64(scratch[i])
		}
		c.Flags |= CallNotif
		c.Private = seq
		irq.Target.enqueueNotif(c)

		// DispatchIRQ runs synchronously, the way a real top-half handler
		// runs with interrupts disabled (spec.md section 4.G). If the
		// owning task's last thread already finished but nothing has
		// reaped it yet, finalize its teardown now, from this
		// interrupt-disabled context, exactly like the original's
		// task_kill -> futex_task_deinit sequence when it runs off the
		// clock interrupt path.
		if owner := irq.Target.Owner; owner != nil && owner.liveThreadCount() == 0 {
			owner.Exit(true)
		}
		return true
	}
	return false
}
