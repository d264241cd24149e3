/*
 * PCIe DMA - Block address generator
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

// Package addrgen computes the address sequence of a strided block transfer.
//
// The mask is applied to the current offset, not to the offset after the
// stride is added. The first address therefore uses the seeded offset and
// wraparound happens only once the accumulated stride crosses the mask.
package addrgen

// Compute address of current block and offset of the next one.
func Next(base, offset, mask, stride uint64) (address uint64, newOffset uint64) {
	return base + (offset & mask), offset + stride
}

// Check that mask covers a power of two sized region, ie 2^n - 1.
func ValidMask(mask uint64) bool {
	return mask&(mask+1) == 0
}

// Region length described by a valid mask. Zero means the full 64 bit space.
func RegionLen(mask uint64) uint64 {
	return mask + 1
}

// Generator walks one side (DMA or RAM) of a block transfer.
type Generator struct {
	Base   uint64 // Region base address
	Offset uint64 // Running offset
	Mask   uint64 // Offset mask
	Stride uint64 // Bytes added to offset per block
}

// Return address of current block and advance to next.
func (g *Generator) Step() uint64 {
	var addr uint64
	addr, g.Offset = Next(g.Base, g.Offset, g.Mask, g.Stride)
	return addr
}

// Address of current block without advancing.
func (g Generator) Peek() uint64 {
	addr, _ := Next(g.Base, g.Offset, g.Mask, g.Stride)
	return addr
}

// Generate addresses for count blocks starting at the current offset.
func (g Generator) Addresses(count int) []uint64 {
	list := make([]uint64, 0, count)
	for range count {
		list = append(list, g.Step())
	}
	return list
}
