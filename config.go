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
	"time"

	"github.com/jacobsa/timeutil"
)

// RQCount is the number of priority levels per CPU run queue (spec.md
// section 4.C). It is a compile-time constant, unlike the rest of the
// tunables below, because it sizes CPU.runQueues.
const RQCount = 16

// NeedsRelinkMax bounds CPU.needsRelink before relink_rq fires.
const NeedsRelinkMax = 10

// FPUMode selects how the scheduler manages the FPU across context
// switches (spec.md section 4.C, "FPU laziness").
type FPUMode int

const (
	// FPULazy defers save/restore until a thread first touches the FPU.
	FPULazy FPUMode = iota
	// FPUEager restores (or initializes) the FPU context on every
	// scheduler entry.
	FPUEager
)

// Config collects the kernel's tunables, mirroring MountConfig's role in
// the teacher: sane defaults, overridable by the embedder, consumed once
// by Boot.
type Config struct {
	// NumCPUs is the number of simulated CPUs to bring up.
	NumCPUs int

	// BaseQuantum is advisory pacing for a Body loop that calls
	// Thread.ConsumeTick between units of work: a thread at priority p is
	// granted (p+1) ticks per scheduler turn, and the thread itself decides
	// how long a "tick" of wall-clock work is. The scheduler does not force
	// a reschedule on a thread that never calls ConsumeTick; this is the
	// cooperative-core analogue of spec.md section 4.C's timer-driven
	// quantum expiry.
	BaseQuantum time.Duration

	// IPCMaxPhones bounds the number of phone slots per task.
	IPCMaxPhones int

	// IPCMaxAsyncCalls bounds the number of outstanding async calls per
	// task.
	IPCMaxAsyncCalls int

	// IRQMaxProgSize bounds the number of top-half bytecode instructions
	// per IRQ handler.
	IRQMaxProgSize int

	// IRQMaxRangeCount bounds the number of PIO ranges per IRQ handler.
	IRQMaxRangeCount int

	// FPU selects lazy or eager FPU context management.
	FPU FPUMode

	// LoadBalanceInterval is how often each CPU's load balancer wakes to
	// consider stealing work. spec.md section 4.D specifies 1 second.
	LoadBalanceInterval time.Duration

	// Clock is consulted for all timed waits (WaitQueue timeouts and the
	// load balancer's sleep); quantum expiry is counted by ConsumeTick, not
	// by the clock. Defaults to timeutil.RealClock(); tests substitute a
	// simulated clock to make timeouts and load balancing deterministic
	// without sleeping on a wall clock.
	Clock timeutil.Clock

	// Logger receives debug-level trace output. Defaults to the package
	// logger gated by the -kernel.debug flag.
	Logger interface {
		Printf(format string, args ...interface{})
	}
}

// DefaultConfig returns a Config with the tunables from spec.md sections 3
// and 6 (typical values) and NumCPUs set to 1.
func DefaultConfig() Config {
	return Config{
		NumCPUs:             1,
		BaseQuantum:         10 * time.Millisecond,
		IPCMaxPhones:        32,
		IPCMaxAsyncCalls:    4000,
		IRQMaxProgSize:      64,
		IRQMaxRangeCount:    8,
		FPU:                 FPULazy,
		LoadBalanceInterval: time.Second,
		Clock:               timeutil.RealClock(),
	}
}

func (c *Config) setDefaults() {
	if c.NumCPUs <= 0 {
		c.NumCPUs = 1
	}
	if c.BaseQuantum <= 0 {
		c.BaseQuantum = 10 * time.Millisecond
	}
	if c.IPCMaxPhones <= 0 {
		c.IPCMaxPhones = 32
	}
	if c.IPCMaxAsyncCalls <= 0 {
		c.IPCMaxAsyncCalls = 4000
	}
	if c.IRQMaxProgSize <= 0 {
		c.IRQMaxProgSize = 64
	}
	if c.IRQMaxRangeCount <= 0 {
		c.IRQMaxRangeCount = 8
	}
	if c.LoadBalanceInterval <= 0 {
		c.LoadBalanceInterval = time.Second
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock()
	}
	if c.Logger == nil {
		c.Logger = getLogger()
	}
}
