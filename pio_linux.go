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
	"strconv"

	"golang.org/x/sys/unix"
)

// FilePIO backs irqvm.PIO with pread/pwrite against an open file descriptor,
// the natural Linux stand-in for a /dev/mem-style PIO window: each range's
// Resolve in irqvm.Validate reports an offset into this file rather than a
// kernel-virtual address, and reads/writes here go through the syscall
// instead of a raw pointer dereference.
type FilePIO struct {
	fd int
}

// NewFilePIO wraps an already-open file descriptor (typically /dev/mem,
// opened by the caller with whatever privilege that requires).
func NewFilePIO(fd int) *FilePIO {
	return &FilePIO{fd: fd}
}

func (p *FilePIO) Read8(addr uintptr) uint8 {
	var b [1]byte
	mustPread(p.fd, b[:], int64(addr))
	return b[0]
}

func (p *FilePIO) Read16(addr uintptr) uint16 {
	var b [2]byte
	mustPread(p.fd, b[:], int64(addr))
	return binary.LittleEndian.Uint16(b[:])
}

func (p *FilePIO) Read32(addr uintptr) uint32 {
	var b [4]byte
	mustPread(p.fd, b[:], int64(addr))
	return binary.LittleEndian.Uint32(b[:])
}

func (p *FilePIO) Write8(addr uintptr, v uint8) {
	mustPwrite(p.fd, []byte{v}, int64(addr))
}

func (p *FilePIO) Write16(addr uintptr, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	mustPwrite(p.fd, b[:], int64(addr))
}

func (p *FilePIO) Write32(addr uintptr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	mustPwrite(p.fd, b[:], int64(addr))
}

func mustPread(fd int, b []byte, off int64) {
	if _, err := unix.Pread(fd, b, off); err != nil {
		panic("kernel: PIO read at offset 0x" + strconv.FormatInt(off, 16) + ": " + err.Error())
	}
}

func mustPwrite(fd int, b []byte, off int64) {
	if _, err := unix.Pwrite(fd, b, off); err != nil {
		panic("kernel: PIO write at offset 0x" + strconv.FormatInt(off, 16) + ": " + err.Error())
	}
}
