/*
 * PCIe DMA - Host side driver test cases.
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

package driver

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/irq"
	"github.com/qby123456/verilog-pcie/emu/memory"
	"github.com/qby123456/verilog-pcie/emu/regfile"
	"github.com/qby123456/verilog-pcie/emu/stats"
)

const hostBase = 0x100000000

type bench struct {
	host    *memory.Region
	ram     *memory.Region
	tracker *irq.Tracker
	drv     *Driver
}

// Build both channels on a register file and run their workers.
func newBench(t *testing.T) *bench {
	t.Helper()
	host, err := memory.New("host", hostBase, 0x10000)
	require.NoError(t, err)
	ram, err := memory.New("ram", 0, 0x10000)
	require.NoError(t, err)

	regs := regfile.New()
	tracker := irq.NewTracker()
	enable := &atomic.Uint32{}
	registry := metrics.NewRegistry()
	regs.Plain(dma.RegEnable, "dma_enable", enable)
	regs.Plain(dma.RegIrqEnable, "irq_enable", tracker.Enable())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	for _, dir := range []dma.Direction{dma.Read, dma.Write} {
		ch := dma.NewChannel(dir, dma.Config{
			Host:    host,
			RAM:     ram,
			Tracker: tracker,
			Enable:  enable,
			Stats:   stats.NewChannel(registry, dir.String()),
			Options: dma.DefaultOptions(),
		})
		ch.Map(regs)
		go ch.Run(ctx)
	}

	drv := New(regs, tracker)
	drv.Enable(true)
	return &bench{host: host, ram: ram, tracker: tracker, drv: drv}
}

func wait(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func pattern(i int) byte {
	return byte(i*7 + 3)
}

func TestDescriptorRoundTrip(t *testing.T) {
	b := newBench(t)
	ctx := wait(t)
	require.NoError(t, b.host.Fill(hostBase, 0x400, pattern))

	b.drv.ReadDescriptor(hostBase, 0x100, 0x400, 0xaa)
	status, err := b.drv.WaitStatus(ctx, dma.Read, 0xaa)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x800000aa), status)

	b.drv.WriteDescriptor(hostBase+0x1000, 0x100, 0x400, 0x55)
	status, err = b.drv.WaitStatus(ctx, dma.Write, 0x55)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000055), status)

	src, _ := b.host.Peek(hostBase, 0x400)
	dst, _ := b.host.Peek(hostBase+0x1000, 0x400)
	assert.True(t, bytes.Equal(src, dst), "data not copied through RAM")
}

func TestWriteImmediate(t *testing.T) {
	b := newBench(t)
	require.NoError(t, b.drv.WriteImmediate(hostBase+0x20, 0x44332211, 3, 0x12))
	status, err := b.drv.WaitStatus(wait(t), dma.Write, 0x12)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000012), status)
	got, _ := b.host.Peek(hostBase+0x20, 4)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x00}, got)

	assert.Error(t, b.drv.WriteImmediate(hostBase, 0, 5, 1))
}

// Disabled engine never completes, wait gives up on context.
func TestWaitTimeout(t *testing.T) {
	b := newBench(t)
	b.drv.Enable(false)
	b.drv.ReadDescriptor(hostBase, 0, 16, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.drv.WaitStatus(ctx, dma.Read, 1)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitTagMismatch(t *testing.T) {
	b := newBench(t)
	b.drv.ReadDescriptor(hostBase, 0, 16, 0x21)
	_, err := b.drv.WaitStatus(wait(t), dma.Read, 0x21)
	require.NoError(t, err)
	_, err = b.drv.WaitStatus(wait(t), dma.Read, 0x22)
	assert.ErrorIs(t, err, ErrTag)
}

// Both channels run block transfers at the same time.
func TestWaitBlocks(t *testing.T) {
	b := newBench(t)
	require.NoError(t, b.host.Fill(hostBase, 0x2000, pattern))
	require.NoError(t, b.ram.Fill(0x8000, 0x1000, func(i int) byte { return byte(^i) }))

	b.drv.ConfigureBlock(dma.Read, BlockConfig{
		DmaBase: hostBase, DmaMask: 0x1fff, DmaStride: 0x100,
		RAMBase: 0, RAMMask: 0x1fff, RAMStride: 0x100,
		Len: 0x100, Count: 32,
	})
	b.drv.ConfigureBlock(dma.Write, BlockConfig{
		DmaBase: hostBase + 0x4000, DmaMask: 0xfff, DmaStride: 0x80,
		RAMBase: 0x8000, RAMMask: 0xfff, RAMStride: 0x80,
		Len: 0x80, Count: 32,
	})
	b.drv.StartBlock(dma.Read)
	b.drv.StartBlock(dma.Write)
	require.NoError(t, b.drv.WaitBlocks(wait(t), dma.Read, dma.Write))

	assert.Equal(t, uint64(32), b.drv.BlockCycles(dma.Read))
	assert.Equal(t, uint64(32), b.drv.BlockCycles(dma.Write))
	assert.Zero(t, b.drv.BlockCount(dma.Read))

	host, _ := b.host.Peek(hostBase, 0x2000)
	ram, _ := b.ram.Peek(0, 0x2000)
	assert.True(t, bytes.Equal(host, ram), "read block data mismatch")

	ram, _ = b.ram.Peek(0x8000, 0x1000)
	host, _ = b.host.Peek(hostBase+0x4000, 0x1000)
	assert.True(t, bytes.Equal(host, ram), "write block data mismatch")
}

func TestWaitIRQ(t *testing.T) {
	b := newBench(t)
	b.drv.EnableIRQ(1 << irq.LineWrite)
	wake, err := b.drv.IRQ(dma.Write)
	require.NoError(t, err)
	b.drv.WriteDescriptor(hostBase, 0, 8, 3)
	require.NoError(t, b.drv.WaitIRQ(wait(t), wake))
	assert.Equal(t, uint64(1), b.tracker.Count(irq.LineWrite))

	// Read line is not armed.
	wake, err = b.drv.IRQ(dma.Read)
	require.NoError(t, err)
	b.drv.ReadDescriptor(hostBase, 0, 8, 4)
	_, err = b.drv.WaitStatus(wait(t), dma.Read, 4)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.drv.WaitIRQ(ctx, wake), ErrTimeout)
}

func TestNoTracker(t *testing.T) {
	drv := New(regfile.New(), nil)
	_, err := drv.IRQ(dma.Read)
	assert.ErrorIs(t, err, ErrNoIRQ)
	assert.Zero(t, drv.Status(dma.Read))
}
