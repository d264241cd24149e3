/*
 * PCIe DMA - Register file test cases.
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

package regfile

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmapped(t *testing.T) {
	f := New()
	assert.Equal(t, uint32(0), f.Read(0x1234))
	f.Write(0x1234, 0xdeadbeef)
	assert.Equal(t, uint32(0), f.Read(0x1234))
	_, _, ok := f.Describe(0x1234)
	assert.False(t, ok)
}

func TestPlainAndShared(t *testing.T) {
	f := New()
	var plain, shared atomic.Uint32
	f.Plain(0x100, "len", &plain)
	f.Shared(0x104, "count", &shared)

	f.Write(0x100, 0x400)
	assert.Equal(t, uint32(0x400), plain.Load())
	assert.Equal(t, uint32(0x400), f.Read(0x100))

	f.Write(0x104, 32)
	shared.Add(^uint32(0))
	assert.Equal(t, uint32(31), f.Read(0x104), "engine update visible on next read")

	name, role, ok := f.Describe(0x104)
	require.True(t, ok)
	assert.Equal(t, "count", name)
	assert.Equal(t, Shared, role)
}

func TestLive(t *testing.T) {
	f := New()
	var state atomic.Uint32
	f.Live(0x118, "status", state.Load)
	f.Write(0x118, 0xffffffff)
	assert.Equal(t, uint32(0), f.Read(0x118), "host write to engine cell ignored")
	state.Store(0x800000aa)
	assert.Equal(t, uint32(0x800000aa), f.Read(0x118))
}

func TestTrigger(t *testing.T) {
	f := New()
	var got []uint32
	f.Trigger(0x114, "tag", nil, func(v uint32) { got = append(got, v) })
	f.Write(0x114, 0xaa)
	f.Write(0x114, 0x55)
	assert.Equal(t, []uint32{0xaa, 0x55}, got)
	assert.Equal(t, uint32(0), f.Read(0x114))
}

func TestMap64(t *testing.T) {
	f := New()
	var base, live atomic.Uint64
	f.Map64(0x80, "dma_base", Host, &base)
	f.Map64(0x08, "cycle", Engine, &live)

	f.Write(0x80, 0x00001000)
	f.Write(0x84, 0x00000001)
	assert.Equal(t, uint64(0x100001000), base.Load())
	f.Write(0x80, 0x2000)
	assert.Equal(t, uint64(0x100002000), base.Load(), "low half write keeps high half")
	assert.Equal(t, uint32(0x2000), f.Read(0x80))
	assert.Equal(t, uint32(1), f.Read(0x84))

	live.Store(0x500000007)
	f.Write(0x08, 0)
	assert.Equal(t, uint32(7), f.Read(0x08))
	assert.Equal(t, uint32(5), f.Read(0x0c))

	addr, ok := f.Lookup("dma_base_hi")
	require.True(t, ok)
	assert.Equal(t, uint32(0x84), addr)
	assert.Equal(t, []string{"cycle_lo", "cycle_hi", "dma_base_lo", "dma_base_hi"}, f.Names())
}

func TestRegisterPanics(t *testing.T) {
	f := New()
	var v atomic.Uint32
	f.Plain(0x100, "a", &v)
	assert.Panics(t, func() { f.Plain(0x100, "b", &v) }, "overlap")
	assert.Panics(t, func() { f.Plain(0x200, "a", &v) }, "duplicate name")
	assert.Panics(t, func() { f.Plain(0x202, "c", &v) }, "unaligned")
	var w atomic.Uint64
	assert.Panics(t, func() { f.Map64(0x300, "d", Trigger, &w) }, "trigger pair")
}

func TestConcurrentHalves(t *testing.T) {
	f := New()
	var v atomic.Uint64
	f.Map64(0, "value", Shared, &v)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range uint32(1000) {
			f.Write(0, i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := range uint32(1000) {
			f.Write(4, i)
		}
	}()
	wg.Wait()
	assert.Equal(t, uint64(999)<<32|999, v.Load())
}
