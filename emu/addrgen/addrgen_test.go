/*
 * PCIe DMA - Address generator test cases.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package addrgen

import (
	"testing"
)

// First address uses seeded offset under mask.
func TestNextSeed(t *testing.T) {
	tests := []struct {
		base, offset, mask, stride uint64
		addr, next                 uint64
	}{
		{0x1000, 0, 0x1fff, 0x100, 0x1000, 0x100},
		{0x1000, 0x180, 0x1fff, 0x100, 0x1180, 0x280},
		{0x1000, 0x2100, 0x1fff, 0x100, 0x1100, 0x2200},
		{0, 0x55, 0, 4, 0, 0x59},
		{0x100000000, 0x1ff0, 0xfff, 0x20, 0x100000ff0, 0x2010},
	}
	for _, tc := range tests {
		addr, next := Next(tc.base, tc.offset, tc.mask, tc.stride)
		if addr != tc.addr {
			t.Errorf("Next address not correct got: %x expected: %x", addr, tc.addr)
		}
		if next != tc.next {
			t.Errorf("Next offset not correct got: %x expected: %x", next, tc.next)
		}
	}
}

// Check power of two masks.
func TestValidMask(t *testing.T) {
	for i := range 64 {
		mask := (uint64(1) << i) - 1
		if !ValidMask(mask) {
			t.Errorf("Mask %x should be valid", mask)
		}
	}
	if !ValidMask(^uint64(0)) {
		t.Errorf("Full mask should be valid")
	}
	for _, mask := range []uint64{0x2, 0x1ffe, 0x1800, 0x17ff, 0xf0f} {
		if ValidMask(mask) {
			t.Errorf("Mask %x should not be valid", mask)
		}
	}
}

// After region/stride steps offset wraps to start under mask.
func TestWraparound(t *testing.T) {
	const regionLen = 0x2000
	const blockLen = 256
	for _, seed := range []uint64{0, 0x100, 0x1f00} {
		g := Generator{Base: 0x4000, Offset: seed, Mask: regionLen - 1, Stride: blockLen}
		seen := map[uint64]bool{}
		for range regionLen / blockLen {
			addr := g.Step()
			if addr < 0x4000 || addr >= 0x4000+regionLen {
				t.Errorf("Address out of region got: %x", addr)
			}
			if seen[addr] {
				t.Errorf("Address repeated before wrap: %x", addr)
			}
			seen[addr] = true
		}
		if g.Offset&g.Mask != seed&g.Mask {
			t.Errorf("Offset did not wrap got: %x expected: %x", g.Offset&g.Mask, seed)
		}
		if g.Peek() != 0x4000+seed {
			t.Errorf("Peek after wrap got: %x expected: %x", g.Peek(), 0x4000+seed)
		}
	}
}

// Addresses does not advance the generator it was called on.
func TestAddresses(t *testing.T) {
	g := Generator{Base: 0x100, Mask: 0x3ff, Stride: 0x100}
	list := g.Addresses(6)
	expect := []uint64{0x100, 0x200, 0x300, 0x400, 0x100, 0x200}
	if len(list) != len(expect) {
		t.Fatalf("Address list length got: %d expected: %d", len(list), len(expect))
	}
	for i := range expect {
		if list[i] != expect[i] {
			t.Errorf("Address %d got: %x expected: %x", i, list[i], expect[i])
		}
	}
	if g.Offset != 0 {
		t.Errorf("Generator advanced got: %x", g.Offset)
	}
	if RegionLen(0x1fff) != 0x2000 {
		t.Errorf("Region length got: %x expected: %x", RegionLen(0x1fff), 0x2000)
	}
}
