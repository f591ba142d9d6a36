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

package physmem

import "testing"

func TestNewAllocatesRequestedPages(t *testing.T) {
	mem, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mem.Close()
	if got := mem.NumPages(); got != 8 {
		t.Fatalf("NumPages() = %d, want 8", got)
	}
}

func TestMapOutOfRangePageFails(t *testing.T) {
	mem, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mem.Close()

	as := NewAddressSpace(mem)
	if err := as.Map(0x1000, 2); err == nil {
		t.Fatal("Map accepted a physical page index past NumPages()")
	}
}

// TestTwoAddressSpacesSharingAPageTranslateIdentically is the property
// futex sharing depends on: two address spaces mapping the same physical
// page, at different virtual addresses, must resolve to the same physical
// address for corresponding in-page offsets.
func TestTwoAddressSpacesSharingAPageTranslateIdentically(t *testing.T) {
	mem, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mem.Close()

	asA := NewAddressSpace(mem)
	asB := NewAddressSpace(mem)
	if err := asA.Map(0x1000, 3); err != nil {
		t.Fatalf("asA.Map: %v", err)
	}
	if err := asB.Map(0x9000, 3); err != nil {
		t.Fatalf("asB.Map: %v", err)
	}

	tr := Translator{}
	physA, ok := tr.Translate(asA, 0x1000+16)
	if !ok {
		t.Fatal("translating a mapped address in asA failed")
	}
	physB, ok := tr.Translate(asB, 0x9000+16)
	if !ok {
		t.Fatal("translating a mapped address in asB failed")
	}
	if physA != physB {
		t.Fatalf("physA=%#x physB=%#x, want equal for the same physical page and in-page offset", physA, physB)
	}
}

func TestTranslateUnmappedAddressFails(t *testing.T) {
	mem, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mem.Close()

	as := NewAddressSpace(mem)
	tr := Translator{}
	if _, ok := tr.Translate(as, 0x4000); ok {
		t.Fatal("Translate succeeded on an address with no mapping")
	}
}

func TestUnmapRemovesMapping(t *testing.T) {
	mem, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mem.Close()

	as := NewAddressSpace(mem)
	if err := as.Map(0x5000, 0); err != nil {
		t.Fatalf("Map: %v", err)
	}
	as.Unmap(0x5000)

	tr := Translator{}
	if _, ok := tr.Translate(as, 0x5000); ok {
		t.Fatal("Translate succeeded after Unmap")
	}
}

func TestTranslateWrongHandleTypeFails(t *testing.T) {
	tr := Translator{}
	if _, ok := tr.Translate("not an address space", 0); ok {
		t.Fatal("Translate succeeded with a handle that isn't an *AddressSpace")
	}
}
