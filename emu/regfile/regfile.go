/*
 * PCIe DMA - Register file.
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

// Package regfile holds the flat 32 bit register space seen through BAR0.
//
// Each cell is registered with a fixed role. Host cells are written by the
// host and only read by the engine. Engine cells are live views of engine
// state and ignore host writes. Shared cells are seeded by the host and
// updated by the engine while it runs. Trigger cells run a side effect on
// write and return a live value on read.
package regfile

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Bus is the decoded register access path a transport delivers.
type Bus interface {
	Read(addr uint32) uint32
	Write(addr uint32, value uint32)
}

type Role int

const (
	Host Role = iota
	Engine
	Shared
	Trigger
)

var roleNames = [...]string{"host", "engine", "shared", "trigger"}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", int(r))
}

type cell struct {
	name  string
	role  Role
	read  func() uint32
	write func(uint32)
}

// File is a register address space. Registration happens during setup,
// accesses may come from any goroutine.
type File struct {
	mu    sync.RWMutex
	cells map[uint32]*cell
	names map[string]uint32
}

func New() *File {
	return &File{
		cells: make(map[uint32]*cell),
		names: make(map[string]uint32),
	}
}

func (f *File) add(addr uint32, c *cell) {
	if addr&3 != 0 {
		panic(fmt.Sprintf("register %s at unaligned address %04x", c.name, addr))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.cells[addr]; ok {
		panic(fmt.Sprintf("register %s overlaps %s at %04x", c.name, old.name, addr))
	}
	if _, ok := f.names[c.name]; ok {
		panic("duplicate register name " + c.name)
	}
	f.cells[addr] = c
	f.names[c.name] = addr
}

// Register a host written cell backed by value.
func (f *File) Plain(addr uint32, name string, value *atomic.Uint32) {
	f.add(addr, &cell{name: name, role: Host, read: value.Load, write: value.Store})
}

// Register a cell both host and engine update.
func (f *File) Shared(addr uint32, name string, value *atomic.Uint32) {
	f.add(addr, &cell{name: name, role: Shared, read: value.Load, write: value.Store})
}

// Register a read only view of engine state.
func (f *File) Live(addr uint32, name string, read func() uint32) {
	f.add(addr, &cell{name: name, role: Engine, read: read})
}

// Register a cell whose write starts an action. Read may be nil.
func (f *File) Trigger(addr uint32, name string, read func() uint32, write func(uint32)) {
	if read == nil {
		read = func() uint32 { return 0 }
	}
	f.add(addr, &cell{name: name, role: Trigger, read: read, write: write})
}

// Register a 64 bit value as name_lo at addr and name_hi at addr+4.
// Role must be Host, Shared or Engine.
func (f *File) Map64(addr uint32, name string, role Role, value *atomic.Uint64) {
	lo := &cell{name: name + "_lo", role: role, read: func() uint32 {
		return uint32(value.Load())
	}}
	hi := &cell{name: name + "_hi", role: role, read: func() uint32 {
		return uint32(value.Load() >> 32)
	}}
	switch role {
	case Host, Shared:
		lo.write = func(v uint32) { storeHalf(value, 0, v) }
		hi.write = func(v uint32) { storeHalf(value, 32, v) }
	case Engine:
	default:
		panic("Map64 can't register role " + role.String())
	}
	f.add(addr, lo)
	f.add(addr+4, hi)
}

// Replace one 32 bit half of value.
func storeHalf(value *atomic.Uint64, shift uint, v uint32) {
	mask := uint64(0xffffffff) << shift
	for {
		old := value.Load()
		next := (old &^ mask) | (uint64(v) << shift)
		if value.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *File) lookup(addr uint32) *cell {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cells[addr]
}

// Read register, unmapped addresses return 0.
func (f *File) Read(addr uint32) uint32 {
	c := f.lookup(addr)
	if c == nil {
		return 0
	}
	return c.read()
}

// Write register, unmapped and engine owned addresses ignore the write.
func (f *File) Write(addr uint32, value uint32) {
	c := f.lookup(addr)
	if c == nil || c.write == nil {
		return
	}
	c.write(value)
}

// Return address of named register.
func (f *File) Lookup(name string) (uint32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	addr, ok := f.names[name]
	return addr, ok
}

// Return name and role of register at addr.
func (f *File) Describe(addr uint32) (string, Role, bool) {
	c := f.lookup(addr)
	if c == nil {
		return "", 0, false
	}
	return c.name, c.role, true
}

// Return all mapped addresses in ascending order.
func (f *File) Addresses() []uint32 {
	f.mu.RLock()
	list := make([]uint32, 0, len(f.cells))
	for addr := range f.cells {
		list = append(list, addr)
	}
	f.mu.RUnlock()
	slices.Sort(list)
	return list
}

// Return register names in address order.
func (f *File) Names() []string {
	addrs := f.Addresses()
	f.mu.RLock()
	defer f.mu.RUnlock()
	list := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		list = append(list, f.cells[addr].name)
	}
	return list
}
