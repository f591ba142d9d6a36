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

// Package irqvm implements the small bytecode interpreter run at hard-IRQ
// time to filter and transform device interrupts into IPC notifications
// (spec.md section 4.G). Following spec.md section 9's REDESIGN FLAGS,
// validation and execution are distinct types: an UnvalidatedProgram can
// only become a ValidatedProgram through Validate, and Run accepts nothing
// else, so the executor can never be handed unchecked bytecode.
package irqvm

import "fmt"

// Opcode identifies one top-half bytecode instruction.
type Opcode uint8

const (
	OpPIORead8 Opcode = iota
	OpPIORead16
	OpPIORead32
	OpPIOWrite8
	OpPIOWrite16
	OpPIOWrite32
	OpPIOWriteA8
	OpPIOWriteA16
	OpPIOWriteA32
	OpLoad
	OpAnd
	OpPredicate
	OpAccept
	OpDecline
)

// ScratchRegs is the number of 32-bit scratch slots available to a program,
// spec.md section 4.G: "six 32-bit scratch slots."
const ScratchRegs = 6

// Instruction is one bytecode command, laid out per spec.md section 6's
// instruction encoding: opcode, two register operands, an address and a
// value.
type Instruction struct {
	Op     Opcode
	Dstarg uint8
	Srcarg uint8
	Addr   uintptr
	Value  uint32
}

// Range is one physical PIO region a program is declared to touch, spec.md
// section 4.G: "ranges (physical PIO memory regions it needs access to)."
type Range struct {
	Base uintptr
	Size uintptr
}

// UnvalidatedProgram is bytecode exactly as received from userspace: it has
// not been checked for well-formedness and Run refuses to accept it.
type UnvalidatedProgram struct {
	Ranges []Range
	Cmds   []Instruction
}

// ValidatedProgram is bytecode that has passed Validate: every opcode is
// known, every register operand is in range, every PREDICATE jump stays
// within the program, and every PIO address falls within a declared range.
// It is the only type Run accepts.
type ValidatedProgram struct {
	ranges []Range
	cmds   []Instruction
}

// Limits bounds program and range-table size, spec.md section 6.
type Limits struct {
	MaxProgSize   int
	MaxRangeCount int
}

// AddressResolver rewrites a physical PIO address declared in a Range into
// the address Run should actually use (a mapped kernel-virtual address, or
// the same physical address on architectures that access PIO directly).
// Spec.md section 4.G: "maps each range into kernel virtual memory... and
// rewrites every command's addr from physical to kernel-virtual."
type AddressResolver interface {
	Resolve(phys uintptr, size uintptr) (mapped uintptr, err error)
}

// Validate checks p against lim and, if it passes, resolves every PIO
// address through tr and returns the resulting ValidatedProgram. This is
// spec.md section 4.G's code_check plus the range-to-address rewrite,
// combined because both run once, at subscribe time, off the IRQ path.
func Validate(p UnvalidatedProgram, lim Limits, tr AddressResolver) (*ValidatedProgram, error) {
	if len(p.Ranges) > lim.MaxRangeCount {
		return nil, fmt.Errorf("irqvm: %d ranges exceeds limit %d", len(p.Ranges), lim.MaxRangeCount)
	}
	if len(p.Cmds) > lim.MaxProgSize {
		return nil, fmt.Errorf("irqvm: %d commands exceeds limit %d", len(p.Cmds), lim.MaxProgSize)
	}

	mapped := make([]uintptr, len(p.Ranges))
	for i, r := range p.Ranges {
		m, err := tr.Resolve(r.Base, r.Size)
		if err != nil {
			return nil, fmt.Errorf("irqvm: resolving range %d (base=%#x size=%#x): %w", i, r.Base, r.Size, err)
		}
		mapped[i] = m
	}

	cmds := make([]Instruction, len(p.Cmds))
	for i, c := range p.Cmds {
		if err := checkOpcode(c.Op); err != nil {
			return nil, fmt.Errorf("irqvm: cmd %d: %w", i, err)
		}
		if err := checkArg(c.Dstarg); err != nil {
			return nil, fmt.Errorf("irqvm: cmd %d dstarg: %w", i, err)
		}
		if err := checkArg(c.Srcarg); err != nil {
			return nil, fmt.Errorf("irqvm: cmd %d srcarg: %w", i, err)
		}

		if c.Op == OpPredicate {
			skip := int(c.Value)
			// Jumping just beyond the last command (i+skip == len(p.Cmds))
			// is correct behaviour, not an overflow: Run's post-increment
			// then carries i one further, past the loop bound, and it
			// simply declines. Only i+skip strictly past the end is unsafe.
			if i+skip > len(p.Cmds) {
				return nil, fmt.Errorf("irqvm: cmd %d: PREDICATE skip %d overflows program of length %d", i, skip, len(p.Cmds))
			}
		}

		cmds[i] = c
		if isPIO(c.Op) {
			ri, base, ok := findRange(p.Ranges, c.Addr)
			if !ok {
				return nil, fmt.Errorf("irqvm: cmd %d: addr %#x is not within any declared range", i, c.Addr)
			}
			offset := c.Addr - base
			cmds[i].Addr = mapped[ri] + offset
		}
	}

	return &ValidatedProgram{ranges: p.Ranges, cmds: cmds}, nil
}

func checkOpcode(op Opcode) error {
	if op > OpDecline {
		return fmt.Errorf("unknown opcode %d", op)
	}
	return nil
}

func checkArg(a uint8) error {
	if int(a) >= ScratchRegs {
		return fmt.Errorf("register %d out of range [0,%d)", a, ScratchRegs)
	}
	return nil
}

func isPIO(op Opcode) bool {
	switch op {
	case OpPIORead8, OpPIORead16, OpPIORead32,
		OpPIOWrite8, OpPIOWrite16, OpPIOWrite32,
		OpPIOWriteA8, OpPIOWriteA16, OpPIOWriteA32:
		return true
	default:
		return false
	}
}

func findRange(ranges []Range, addr uintptr) (idx int, base uintptr, ok bool) {
	for i, r := range ranges {
		if addr >= r.Base && addr < r.Base+r.Size {
			return i, r.Base, true
		}
	}
	return 0, 0, false
}

// Verdict is Run's result: whether the program claims the interrupt.
type Verdict int

const (
	Decline Verdict = iota
	Accept
)

// PIO is the hardware access surface Run needs: reading and writing 8/16/32
// bit ports or memory-mapped registers at an already-resolved address.
type PIO interface {
	Read8(addr uintptr) uint8
	Read16(addr uintptr) uint16
	Read32(addr uintptr) uint32
	Write8(addr uintptr, v uint8)
	Write16(addr uintptr, v uint16)
	Write32(addr uintptr, v uint32)
}

// Run executes p against io, returning its verdict and the final scratch
// register contents (args 1..5 of which become an IRQ notification's
// payload on Accept, per spec.md section 4.G). Run is the only part of
// this package that touches hardware, and the only part that may be called
// from IRQ context; Validate must never be.
func Run(p *ValidatedProgram, io PIO) (Verdict, [ScratchRegs]uint32) {
	var scratch [ScratchRegs]uint32

	for i := 0; i < len(p.cmds); i++ {
		c := p.cmds[i]
		switch c.Op {
		case OpPIORead8:
			scratch[c.Dstarg] = uint32(io.Read8(c.Addr))
		case OpPIORead16:
			scratch[c.Dstarg] = uint32(io.Read16(c.Addr))
		case OpPIORead32:
			scratch[c.Dstarg] = io.Read32(c.Addr)
		case OpPIOWrite8:
			io.Write8(c.Addr, uint8(c.Value))
		case OpPIOWrite16:
			io.Write16(c.Addr, uint16(c.Value))
		case OpPIOWrite32:
			io.Write32(c.Addr, c.Value)
		case OpPIOWriteA8:
			io.Write8(c.Addr, uint8(scratch[c.Srcarg]))
		case OpPIOWriteA16:
			io.Write16(c.Addr, uint16(scratch[c.Srcarg]))
		case OpPIOWriteA32:
			io.Write32(c.Addr, scratch[c.Srcarg])
		case OpLoad:
			scratch[c.Dstarg] = c.Value
		case OpAnd:
			scratch[c.Dstarg] = scratch[c.Srcarg] & c.Value
		case OpPredicate:
			if scratch[c.Srcarg] == 0 {
				i += int(c.Value)
			}
		case OpAccept:
			return Accept, scratch
		case OpDecline:
			return Decline, scratch
		default:
			return Decline, scratch
		}
	}
	return Decline, scratch
}
