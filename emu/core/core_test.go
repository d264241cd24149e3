/*
 * PCIe DMA - DMA engine core test cases.
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

package core

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	command "github.com/qby123456/verilog-pcie/command/command"
	"github.com/qby123456/verilog-pcie/driver"
	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/irq"
	"github.com/qby123456/verilog-pcie/emu/master"
)

func startCore(t *testing.T, s Settings) (*Core, *driver.Driver) {
	t.Helper()
	core, err := NewCore(s, make(chan master.Packet))
	require.NoError(t, err)
	go core.Start()
	t.Cleanup(core.Stop)
	return core, driver.New(core.Port(), core.Tracker)
}

func timeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewCoreDefaults(t *testing.T) {
	core, err := NewCore(Settings{RAMSize: 4096}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), core.RAM.Size())
	assert.Equal(t, uint64(0x100000000), core.Host.Base())
	assert.Equal(t, uint64(16<<20), core.Host.Size())
	assert.Equal(t, dma.DefaultQueueDepth, core.Settings().QueueDepth)
	opts := core.Channel(dma.Write).Options()
	assert.True(t, opts.Immediate)
	assert.True(t, opts.MaskCheck)

	core, err = NewCore(Settings{RAMSize: 4096, NoImmediate: true, Policy: dma.PolicyRestart}, nil)
	require.NoError(t, err)
	opts = core.Channel(dma.Read).Options()
	assert.False(t, opts.Immediate)
	assert.Equal(t, dma.PolicyRestart, opts.Policy)

	_, err = NewCore(Settings{RAMSize: 1 << 40}, nil)
	assert.Error(t, err)
}

// Descriptor, immediate and block flow as a host driver runs it.
func TestScenario(t *testing.T) {
	core, drv := startCore(t, Settings{})
	ctx := timeout(t)
	base := core.Host.Base()

	drv.Enable(true)
	drv.EnableIRQ(1<<irq.LineRead | 1<<irq.LineWrite)
	require.NoError(t, core.Host.Fill(base, 0x400, func(i int) byte { return byte(i ^ 0x5a) }))

	wake, err := drv.IRQ(dma.Read)
	require.NoError(t, err)
	drv.ReadDescriptor(base, 0x100, 0x400, 0xaa)
	status, err := drv.WaitStatus(ctx, dma.Read, 0xaa)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x800000aa), status)
	require.NoError(t, drv.WaitIRQ(ctx, wake))

	drv.WriteDescriptor(base+0x1000, 0x100, 0x400, 0x55)
	status, err = drv.WaitStatus(ctx, dma.Write, 0x55)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000055), status)
	src, _ := core.Host.Peek(base, 0x400)
	dst, _ := core.Host.Peek(base+0x1000, 0x400)
	assert.True(t, bytes.Equal(src, dst), "descriptor data mismatch")

	require.NoError(t, drv.WriteImmediate(base, 0x44332211, 4, 0xaa))
	status, err = drv.WaitStatus(ctx, dma.Write, 0xaa)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x800000aa), status)
	got, _ := core.Host.Peek(base, 4)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, got)

	require.NoError(t, core.Host.Fill(base, 0x2000, func(i int) byte { return byte(i >> 3) }))
	drv.ConfigureBlock(dma.Read, driver.BlockConfig{
		DmaBase: base, DmaMask: 0x1fff, DmaStride: 256,
		RAMBase: 0, RAMMask: 0x1fff, RAMStride: 256,
		Len: 256, Count: 32,
	})
	drv.StartBlock(dma.Read)
	require.NoError(t, drv.WaitBlock(ctx, dma.Read))
	assert.Equal(t, uint64(32), drv.BlockCycles(dma.Read))

	drv.ConfigureBlock(dma.Write, driver.BlockConfig{
		DmaBase: base + 0x4000, DmaMask: 0x1fff, DmaStride: 256,
		RAMBase: 0, RAMMask: 0x1fff, RAMStride: 256,
		Len: 256, Count: 32,
	})
	drv.StartBlock(dma.Write)
	require.NoError(t, drv.WaitBlock(ctx, dma.Write))
	assert.Equal(t, uint64(32), drv.BlockCycles(dma.Write))

	src, _ = core.Host.Peek(base, 0x2000)
	dst, _ = core.Host.Peek(base+0x4000, 0x2000)
	assert.True(t, bytes.Equal(src, dst), "block data mismatch")

	// Block runs do not interrupt.
	assert.Equal(t, uint64(1), core.Tracker.Count(irq.LineRead))
	assert.Equal(t, uint64(2), core.Tracker.Count(irq.LineWrite))

	port := core.Port()
	require.NoError(t, port.Reset())
	assert.Zero(t, drv.Status(dma.Read))
	assert.Zero(t, drv.BlockCycles(dma.Write))
	assert.Zero(t, port.Read(dma.RegEnable))
	assert.Zero(t, core.Tracker.Count(irq.LineWrite))
}

func TestStopped(t *testing.T) {
	core, _ := startCore(t, Settings{RAMSize: 4096})
	port := core.Port()
	require.NoError(t, port.Flush())
	core.Stop()
	assert.ErrorIs(t, port.Flush(), ErrStopped)
	assert.ErrorIs(t, port.Reset(), ErrStopped)
	assert.Zero(t, port.Read(dma.RegEnable))
}

func TestSetShow(t *testing.T) {
	core, err := NewCore(Settings{RAMSize: 4096}, nil)
	require.NoError(t, err)

	err = core.Set(true, []*command.CmdOption{
		{Name: "policy", EqualOpt: "queue"},
		{Name: "depth", Value: 3},
		{Name: "maskcheck"},
	})
	require.NoError(t, err)
	require.NoError(t, core.Set(false, []*command.CmdOption{{Name: "immediate"}}))
	for _, dir := range []dma.Direction{dma.Read, dma.Write} {
		opts := core.Channel(dir).Options()
		assert.Equal(t, dma.PolicyQueue, opts.Policy)
		assert.Equal(t, 3, opts.QueueDepth)
		assert.False(t, opts.Immediate)
		assert.True(t, opts.MaskCheck)
	}
	assert.Error(t, core.Set(true, []*command.CmdOption{{Name: "policy", EqualOpt: "never"}}))
	assert.Error(t, core.Set(false, []*command.CmdOption{{Name: "depth"}}))
	assert.Error(t, core.Set(true, []*command.CmdOption{{Name: "speed"}}))

	out, err := core.Show([]*command.CmdOption{{Name: "settings"}})
	require.NoError(t, err)
	assert.Contains(t, out, "policy queue depth 3 immediate false maskcheck true")

	out, err = core.Show([]*command.CmdOption{{Name: "regs"}})
	require.NoError(t, err)
	for _, name := range []string{"dma_enable", "rd_status", "wr_blk_ctrl", "wr_blk_ram_stride_hi"} {
		assert.Contains(t, out, name)
	}

	out, err = core.Show(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "dma.Snapshot"))

	out, err = core.Show([]*command.CmdOption{{Name: "stats"}, {Name: "irq"}})
	require.NoError(t, err)
	assert.Contains(t, out, "dma.read.transfers")
	assert.Contains(t, out, "enable 0 read 0 write 0")

	_, err = core.Show([]*command.CmdOption{{Name: "cpu"}})
	assert.Error(t, err)
}

func TestStatsExporter(t *testing.T) {
	core, err := NewCore(Settings{RAMSize: 4096, StatsListen: "127.0.0.1:0"}, nil)
	require.NoError(t, err)
	require.NotNil(t, core.exporter)
	assert.NotEmpty(t, core.exporter.Addr())
	core.Stop()
	assert.Nil(t, core.exporter)
}
