package memory

/*
 * PCIe DMA - Backing store regions
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

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Store is the raw byte access the DMA engine moves data through.
type Store interface {
	ReadBytes(addr uint64, n int) ([]byte, error)
	WriteBytes(addr uint64, data []byte) error
}

var ErrRange = errors.New("address out of range")

const (
	pageShift = 11 // 2K pages for access keys

	KeyAccess uint8 = 0x4 // Page has been read
	KeyModify uint8 = 0x2 // Page has been written

	MaxSize uint64 = 1 << 30 // Largest region we will allocate
)

// Region is a contiguous byte addressable memory starting at base.
type Region struct {
	name   string
	base   uint64
	mem    []byte
	key    []uint8
	mu     sync.RWMutex
	reads  atomic.Uint64 // Number of read accesses
	writes atomic.Uint64 // Number of write accesses
}

// Create a region of size bytes at absolute address base.
func New(name string, base uint64, size uint64) (*Region, error) {
	if size == 0 || size > MaxSize {
		return nil, fmt.Errorf("%s: invalid memory size %d", name, size)
	}
	if base+size < base {
		return nil, fmt.Errorf("%s: region at %x wraps address space", name, base)
	}
	return &Region{
		name: name,
		base: base,
		mem:  make([]byte, size),
		key:  make([]uint8, (size+(1<<pageShift)-1)>>pageShift),
	}, nil
}

// Return name of region.
func (r *Region) Name() string {
	return r.name
}

// Return absolute base address.
func (r *Region) Base() uint64 {
	return r.base
}

// Return size of region in bytes.
func (r *Region) Size() uint64 {
	return uint64(len(r.mem))
}

// Check if range is inside region, return offset into mem.
func (r *Region) offset(addr uint64, n int) (uint64, error) {
	if n < 0 || addr < r.base {
		return 0, fmt.Errorf("%s %x+%d: %w", r.name, addr, n, ErrRange)
	}
	off := addr - r.base
	if off > uint64(len(r.mem)) || uint64(n) > uint64(len(r.mem))-off {
		return 0, fmt.Errorf("%s %x+%d: %w", r.name, addr, n, ErrRange)
	}
	return off, nil
}

// Update access keys for pages in range.
func (r *Region) touch(off uint64, n int, bits uint8) {
	if n == 0 {
		return
	}
	for p := off >> pageShift; p <= (off+uint64(n)-1)>>pageShift; p++ {
		r.key[p] |= bits
	}
}

// Read n bytes at addr, returns copy of data.
func (r *Region) ReadBytes(addr uint64, n int) ([]byte, error) {
	off, err := r.offset(addr, n)
	if err != nil {
		return nil, err
	}
	r.reads.Add(1)
	data := make([]byte, n)
	r.mu.Lock()
	copy(data, r.mem[off:])
	r.touch(off, n, KeyAccess)
	r.mu.Unlock()
	return data, nil
}

// Write data at addr.
func (r *Region) WriteBytes(addr uint64, data []byte) error {
	off, err := r.offset(addr, len(data))
	if err != nil {
		return err
	}
	r.writes.Add(1)
	r.mu.Lock()
	copy(r.mem[off:], data)
	r.touch(off, len(data), KeyAccess|KeyModify)
	r.mu.Unlock()
	return nil
}

// Return copy of bytes without updating access information.
func (r *Region) Peek(addr uint64, n int) ([]byte, error) {
	off, err := r.offset(addr, n)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	r.mu.RLock()
	copy(data, r.mem[off:])
	r.mu.RUnlock()
	return data, nil
}

// Set bytes without updating access information.
func (r *Region) Poke(addr uint64, data []byte) error {
	off, err := r.offset(addr, len(data))
	if err != nil {
		return err
	}
	r.mu.Lock()
	copy(r.mem[off:], data)
	r.mu.Unlock()
	return nil
}

// Fill n bytes at addr with pattern generator value.
func (r *Region) Fill(addr uint64, n int, pattern func(i int) byte) error {
	off, err := r.offset(addr, n)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for i := range n {
		r.mem[off+uint64(i)] = pattern(i)
	}
	r.mu.Unlock()
	return nil
}

// Return access key for page holding addr.
func (r *Region) Key(addr uint64) uint8 {
	off, err := r.offset(addr, 0)
	if err != nil || off >= uint64(len(r.mem)) {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.key[off>>pageShift]
}

// Return number of read and write accesses.
func (r *Region) Accesses() (reads uint64, writes uint64) {
	return r.reads.Load(), r.writes.Load()
}

// Clear memory, keys and access counts.
func (r *Region) Reset() {
	r.mu.Lock()
	clear(r.mem)
	clear(r.key)
	r.mu.Unlock()
	r.reads.Store(0)
	r.writes.Store(0)
}
