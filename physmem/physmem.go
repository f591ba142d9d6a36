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

// Package physmem is test/demo scaffolding standing in for the kernel's
// opaque physical memory and address-space operations (spec.md section 1).
// It backs a slab of "physical memory" with a single fallocated file and
// hands out regions of it to simulated tasks, so that two tasks mapping
// "the same physical page" at different virtual addresses — the scenario
// futex sharing (spec.md section 8, S6) depends on — is a real, checkable
// condition rather than an assumption.
package physmem

import (
	"fmt"
	"os"
	"sync"

	"github.com/detailyang/go-fallocate"
)

// PageSize is the granularity Region and AddressSpace operate at.
const PageSize = 4096

// Memory is a fallocated backing file standing in for a fixed pool of
// physical page frames.
type Memory struct {
	f        *os.File
	numPages int
}

// New allocates a Memory pool of numPages pages, fallocating the backing
// file up front so that every page is guaranteed to have real storage
// before any AddressSpace maps it — the simulator's analogue of the
// kernel's own frame allocator reserving frames eagerly.
func New(numPages int) (*Memory, error) {
	f, err := os.CreateTemp("", "corekernel-physmem-*.bin")
	if err != nil {
		return nil, fmt.Errorf("physmem: creating backing file: %w", err)
	}

	size := int64(numPages) * PageSize
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("physmem: fallocating %d bytes: %w", size, err)
	}

	return &Memory{f: f, numPages: numPages}, nil
}

// Close releases the backing file.
func (m *Memory) Close() error {
	name := m.f.Name()
	err := m.f.Close()
	os.Remove(name)
	return err
}

// NumPages reports the pool's size in pages.
func (m *Memory) NumPages() int {
	return m.numPages
}

// AddressSpace is a simulated per-task virtual address space: a set of
// (virtual page -> physical page) mappings into a shared Memory pool. Two
// AddressSpaces created from the same Memory and Map'd to the same physical
// page simulate two tasks sharing that page, regardless of what virtual
// address each uses for it.
type AddressSpace struct {
	mem *Memory

	mu   sync.Mutex
	maps map[uintptr]int // virtual page number -> physical page number
}

// NewAddressSpace creates an empty address space backed by mem.
func NewAddressSpace(mem *Memory) *AddressSpace {
	return &AddressSpace{mem: mem, maps: make(map[uintptr]int)}
}

// Map installs a mapping from the page containing virtual address vaddr to
// physical page physPage (an index in [0, mem.NumPages())).
func (as *AddressSpace) Map(vaddr uintptr, physPage int) error {
	if physPage < 0 || physPage >= as.mem.numPages {
		return fmt.Errorf("physmem: physical page %d out of range [0,%d)", physPage, as.mem.numPages)
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.maps[vaddr/PageSize] = physPage
	return nil
}

// Unmap removes any mapping for the page containing vaddr.
func (as *AddressSpace) Unmap(vaddr uintptr) {
	as.mu.Lock()
	defer as.mu.Unlock()
	delete(as.maps, vaddr/PageSize)
}

// translate resolves vaddr to a simulated physical address: the mapped
// page's index times PageSize, plus vaddr's in-page offset. Two
// AddressSpaces mapping the same physical page resolve to the identical
// physical address for corresponding in-page offsets, which is exactly the
// property the kernel's futex table relies on.
func (as *AddressSpace) translate(vaddr uintptr) (uintptr, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	page, ok := as.maps[vaddr/PageSize]
	if !ok {
		return 0, false
	}
	return uintptr(page)*PageSize + vaddr%PageSize, true
}

// Translator adapts a set of named AddressSpaces to kernel.AddressTranslator
// (the kernel package is not imported here to avoid a dependency cycle;
// callers wire this in with the same method set). asHandle is expected to
// be an *AddressSpace, matching what a sample program hands to
// kernel.FutexSleep/FutexWakeup as the per-task handle.
type Translator struct{}

// Translate implements the single-method interface kernel.AddressTranslator
// requires: Translate(asHandle interface{}, uaddr uintptr) (uintptr, bool).
func (Translator) Translate(asHandle interface{}, uaddr uintptr) (uintptr, bool) {
	as, ok := asHandle.(*AddressSpace)
	if !ok {
		return 0, false
	}
	return as.translate(uaddr)
}
