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
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	spinUnlocked uint32 = 0
	spinLocked   uint32 = 1
)

// SpinLock is mutual exclusion that never suspends the calling goroutine.
// It models spec 4.A: spinlocks are never held across a suspension point,
// and acquisition order for nested locks is fixed.
//
// SpinLock is padded to its own cache line so that contention on one lock
// never cross-invalidates a neighboring lock's cache line.
type SpinLock struct {
	_    cpu.CacheLinePad
	lock atomic.Uint32
	_    cpu.CacheLinePad
}

// Trylock attempts to acquire the lock without blocking.
func (s *SpinLock) Trylock() bool {
	return s.lock.CompareAndSwap(spinUnlocked, spinLocked)
}

// Lock acquires the lock, spinning (with Gosched back-off) until it
// succeeds. Never call this across a suspension point while already
// holding another spinlock out of order.
func (s *SpinLock) Lock() {
	spins := 0
	for !s.Trylock() {
		spins++
		if spins > 64 {
			runtime.Gosched()
			spins = 0
		}
	}
}

// Unlock releases the lock. The caller must hold it.
func (s *SpinLock) Unlock() {
	s.lock.Store(spinUnlocked)
}

// InterruptState is the token returned by InterruptsDisable, to be passed to
// InterruptsRestore. It is opaque and safe to nest: restoring an outer token
// after an inner disable/restore pair has no effect on interrupts that were
// already disabled by the outer call.
type InterruptState struct {
	wasEnabled bool
}

// interruptFlag simulates the local-interrupt-mask bit that a real
// architecture would keep in a status register. Architecture-specific
// interrupt masking itself is out of scope (spec.md section 1); this is the
// opaque interface the core needs from it.
type interruptFlag struct {
	disabled atomic.Bool
}

// InterruptsDisable disables "interrupts" on the calling goroutine's
// simulated CPU and returns a token capturing the prior state.
func (c *CPU) InterruptsDisable() InterruptState {
	was := !c.interrupts.disabled.Swap(true)
	return InterruptState{wasEnabled: was}
}

// InterruptsRestore restores the interrupt mask captured by a prior call to
// InterruptsDisable. Nested disable/restore pairs are idempotent: only the
// outermost restore that had wasEnabled set actually re-enables interrupts.
func (c *CPU) InterruptsRestore(s InterruptState) {
	if s.wasEnabled {
		c.interrupts.disabled.Store(false)
	}
}

// InterruptsDisabled reports whether interrupts are currently disabled on
// this CPU. Used by assertions that a function reachable from IRQ context
// never calls a suspension point.
func (c *CPU) InterruptsDisabled() bool {
	return c.interrupts.disabled.Load()
}

// IRQSpinLock combines a SpinLock with interrupt disabling, per spec 4.A's
// irq_spinlock_lock. The token returned by Lock must be passed to Unlock.
type IRQSpinLock struct {
	SpinLock
}

// IRQSpinLockToken is returned by Lock and consumed by Unlock.
type IRQSpinLockToken struct {
	istate     InterruptState
	disabledIRQ bool
}

// Lock acquires the spinlock, optionally disabling interrupts on cpu first.
func (s *IRQSpinLock) Lock(cpu *CPU, disableIRQ bool) IRQSpinLockToken {
	var tok IRQSpinLockToken
	tok.disabledIRQ = disableIRQ
	if disableIRQ {
		tok.istate = cpu.InterruptsDisable()
	}
	s.SpinLock.Lock()
	return tok
}

// Unlock releases the spinlock and restores the interrupt state captured by
// the matching Lock call.
func (s *IRQSpinLock) Unlock(cpu *CPU, tok IRQSpinLockToken) {
	s.SpinLock.Unlock()
	if tok.disabledIRQ {
		cpu.InterruptsRestore(tok.istate)
	}
}
