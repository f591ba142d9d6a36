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

// Package kernel implements the concurrency and IPC core of a small
// preemptive, SMP-capable microkernel: a per-CPU scheduler with work
// stealing, synchronous/asynchronous IPC over phones and answerboxes, a
// physical-address-keyed futex table, and an IRQ top-half bytecode
// interpreter.
//
// The primary elements of interest are:
//
//  *  Kernel, the top-level object returned by Boot, which owns the set of
//     CPUs and their scheduler and load-balancer goroutines.
//
//  *  Task, Phone, Answerbox and Call, which implement message-passing IPC.
//
//  *  The futex table, reachable through Kernel.Futexes, a userspace
//     blocking primitive keyed by physical address so that the same page
//     mapped into different tasks shares one wait queue.
//
//  *  Subpackage irqvm, the validated top-half bytecode run at IRQ time.
package kernel
