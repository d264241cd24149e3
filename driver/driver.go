/*
 * PCIe DMA - Host side driver.
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

// Package driver programs the engine through its registers the way host
// software does and waits for completion by polling or interrupt.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/irq"
	"github.com/qby123456/verilog-pcie/emu/regfile"
)

var (
	ErrTimeout  = errors.New("timed out waiting for engine")
	ErrTag      = errors.New("completion tag mismatch")
	ErrNoIRQ    = errors.New("no interrupt tracker")
	DefaultPoll = time.Millisecond
)

type Driver struct {
	bus     regfile.Bus
	tracker *irq.Tracker
	Poll    time.Duration // Interval between status polls
}

// Create driver on bus, tracker may be nil if interrupts are not used.
func New(bus regfile.Bus, tracker *irq.Tracker) *Driver {
	return &Driver{bus: bus, tracker: tracker, Poll: DefaultPoll}
}

// Bus driver is using.
func (d *Driver) Bus() regfile.Bus {
	return d.bus
}

func (d *Driver) write64(addr uint32, value uint64) {
	d.bus.Write(addr, uint32(value))
	d.bus.Write(addr+4, uint32(value>>32))
}

func (d *Driver) read64(addr uint32) uint64 {
	return uint64(d.bus.Read(addr)) | uint64(d.bus.Read(addr+4))<<32
}

// Enable or disable the engine.
func (d *Driver) Enable(on bool) {
	var v uint32
	if on {
		v = 1
	}
	d.bus.Write(dma.RegEnable, v)
}

// Set interrupt enable mask.
func (d *Driver) EnableIRQ(mask uint32) {
	d.bus.Write(dma.RegIrqEnable, mask)
}

// Program single shot descriptor and start it by writing the tag.
func (d *Driver) Submit(dir dma.Direction, desc dma.Descriptor) {
	base := dma.SingleBase(dir)
	d.write64(base+dma.SingleDmaAddr, desc.DmaAddr)
	d.bus.Write(base+dma.SingleRamAddr, desc.RAMAddr)
	d.bus.Write(base+dma.SingleLen, desc.Len)
	d.bus.Write(base+dma.SingleTag, desc.Tag)
}

// Copy length bytes from host dmaAddr to device ramAddr.
func (d *Driver) ReadDescriptor(dmaAddr uint64, ramAddr uint32, length uint32, tag uint8) {
	d.Submit(dma.Read, dma.Descriptor{DmaAddr: dmaAddr, RAMAddr: ramAddr, Len: length, Tag: uint32(tag)})
}

// Copy length bytes from device ramAddr to host dmaAddr.
func (d *Driver) WriteDescriptor(dmaAddr uint64, ramAddr uint32, length uint32, tag uint8) {
	d.Submit(dma.Write, dma.Descriptor{DmaAddr: dmaAddr, RAMAddr: ramAddr, Len: length, Tag: uint32(tag)})
}

// Write up to four payload bytes, little endian, to host dmaAddr.
func (d *Driver) WriteImmediate(dmaAddr uint64, payload uint32, length uint32, tag uint8) error {
	if length > dma.ImmediateMax {
		return fmt.Errorf("immediate length %d larger than %d", length, dma.ImmediateMax)
	}
	d.Submit(dma.Write, dma.Descriptor{DmaAddr: dmaAddr, RAMAddr: payload, Len: length, Tag: uint32(tag)})
	return nil
}

// Current status register of channel.
func (d *Driver) Status(dir dma.Direction) uint32 {
	return d.bus.Read(dma.SingleBase(dir) + dma.SingleStatus)
}

// Poll until check returns true or ctx is done.
func (d *Driver) poll(ctx context.Context, check func() (bool, error)) error {
	interval := d.Poll
	if interval <= 0 {
		interval = DefaultPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := check()
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Wait for single shot completion with tag, returns final status.
func (d *Driver) WaitStatus(ctx context.Context, dir dma.Direction, tag uint8) (uint32, error) {
	var status uint32
	err := d.poll(ctx, func() (bool, error) {
		status = d.Status(dir)
		if status&irq.DoneFlag == 0 {
			return false, nil
		}
		if uint8(status) != tag {
			return true, fmt.Errorf("%w: status %08x expected tag %02x", ErrTag, status, tag)
		}
		return true, nil
	})
	return status, err
}

// Block descriptor as programmed by the host.
type BlockConfig struct {
	DmaBase   uint64
	DmaOffset uint64
	DmaMask   uint64
	DmaStride uint64
	RAMBase   uint64
	RAMOffset uint64
	RAMMask   uint64
	RAMStride uint64
	Len       uint32 // Bytes per block
	Count     uint64 // Number of blocks
}

// Program block registers of channel and clear its cycle count.
func (d *Driver) ConfigureBlock(dir dma.Direction, cfg BlockConfig) {
	base := dma.BlockBase(dir)
	d.write64(base+dma.BlockDmaBase, cfg.DmaBase)
	d.write64(base+dma.BlockDmaOffset, cfg.DmaOffset)
	d.write64(base+dma.BlockDmaMask, cfg.DmaMask)
	d.write64(base+dma.BlockDmaStride, cfg.DmaStride)
	d.write64(base+dma.BlockRAMBase, cfg.RAMBase)
	d.write64(base+dma.BlockRAMOffset, cfg.RAMOffset)
	d.write64(base+dma.BlockRAMMask, cfg.RAMMask)
	d.write64(base+dma.BlockRAMStride, cfg.RAMStride)
	d.write64(base+dma.BlockCycle, 0)
	d.bus.Write(base+dma.BlockLen, cfg.Len)
	d.write64(base+dma.BlockCount, cfg.Count)
}

// Start block run on channel.
func (d *Driver) StartBlock(dir dma.Direction) {
	d.bus.Write(dma.BlockBase(dir)+dma.BlockCtrl, dma.CtrlStart)
}

// Remaining blocks of channel.
func (d *Driver) BlockCount(dir dma.Direction) uint64 {
	return d.read64(dma.BlockBase(dir) + dma.BlockCount)
}

// Completed blocks of channel.
func (d *Driver) BlockCycles(dir dma.Direction) uint64 {
	return d.read64(dma.BlockBase(dir) + dma.BlockCycle)
}

// Channel is busy with a single shot or block run.
func (d *Driver) Running(dir dma.Direction) bool {
	return d.bus.Read(dma.BlockBase(dir)+dma.BlockCtrl)&dma.CtrlRunning != 0
}

// Wait until block count of channel reaches zero and the channel is idle.
func (d *Driver) WaitBlock(ctx context.Context, dir dma.Direction) error {
	return d.poll(ctx, func() (bool, error) {
		return d.BlockCount(dir) == 0 && !d.Running(dir), nil
	})
}

// Wait for block runs on several channels at once.
func (d *Driver) WaitBlocks(ctx context.Context, dirs ...dma.Direction) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range dirs {
		g.Go(func() error {
			if err := d.WaitBlock(gctx, dir); err != nil {
				return fmt.Errorf("%s channel: %w", dir, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Return channel closed by the next interrupt of dir. Call before
// starting the transfer to be waited on.
func (d *Driver) IRQ(dir dma.Direction) (<-chan struct{}, error) {
	if d.tracker == nil {
		return nil, ErrNoIRQ
	}
	line := irq.LineRead
	if dir == dma.Write {
		line = irq.LineWrite
	}
	return d.tracker.Next(line), nil
}

// Wait for interrupt returned by IRQ.
func (d *Driver) WaitIRQ(ctx context.Context, wake <-chan struct{}) error {
	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
