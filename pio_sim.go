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
	"encoding/binary"
	"sync"
)

// SimPIO is an in-process stand-in for device PIO, backed by a plain byte
// slice rather than a real port or memory-mapped register window. It is
// the default irqvm.PIO implementation on every platform, and the only one
// available off Linux; FilePIO (pio_linux.go) additionally offers real
// /dev/mem-style access there.
type SimPIO struct {
	mu  sync.Mutex
	mem []byte
}

// NewSimPIO allocates a simulated PIO window of size bytes, addressed
// starting at 0.
func NewSimPIO(size int) *SimPIO {
	return &SimPIO{mem: make([]byte, size)}
}

func (p *SimPIO) Read8(addr uintptr) uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mem[addr]
}

func (p *SimPIO) Read16(addr uintptr) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint16(p.mem[addr:])
}

func (p *SimPIO) Read32(addr uintptr) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint32(p.mem[addr:])
}

func (p *SimPIO) Write8(addr uintptr, v uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mem[addr] = v
}

func (p *SimPIO) Write16(addr uintptr, v uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint16(p.mem[addr:], v)
}

func (p *SimPIO) Write32(addr uintptr, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	binary.LittleEndian.PutUint32(p.mem[addr:], v)
}

// identityResolver implements irqvm.AddressResolver by leaving every
// address unchanged, appropriate when ranges are already expressed in
// SimPIO's own flat address space rather than real physical addresses.
type identityResolver struct{}

func (identityResolver) Resolve(phys uintptr, size uintptr) (uintptr, error) {
	return phys, nil
}

// IdentityResolver is the AddressResolver to pass to irqvm.Validate when
// using SimPIO (or any PIO backend already addressed the way the program's
// ranges describe it).
var IdentityResolver = identityResolver{}
