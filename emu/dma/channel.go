/*
 * PCIe DMA - DMA channel transfer engine.
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

package dma

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qby123456/verilog-pcie/emu/addrgen"
	"github.com/qby123456/verilog-pcie/emu/irq"
	"github.com/qby123456/verilog-pcie/emu/memory"
	"github.com/qby123456/verilog-pcie/emu/stats"
	"github.com/qby123456/verilog-pcie/util/debug"
	"github.com/qby123456/verilog-pcie/util/hex"
)

var ErrBusy = errors.New("channel is running")

// Config holds the collaborators of a channel.
type Config struct {
	Host    memory.Store   // External memory behind dma addresses
	RAM     memory.Store   // On device RAM
	Tracker *irq.Tracker   // Interrupt tracker
	Enable  *atomic.Uint32 // Global enable register
	Stats   *stats.Channel // Channel counters
	Options
}

// Start request, a latched single shot descriptor or a block run.
type request struct {
	block     bool
	immediate bool
	desc      Descriptor
}

// Channel is one direction of the engine with its own registers and worker.
type Channel struct {
	dir  Direction
	cfg  Config
	name string
	log  *slog.Logger

	// Single shot registers.
	dmaAddr atomic.Uint64
	ramAddr atomic.Uint32
	length  atomic.Uint32
	tag     atomic.Uint32
	status  irq.Status

	blk Block

	mu      sync.Mutex
	state   State
	pending []request
	abort   atomic.Bool
	run     chan request
}

// Create channel for direction.
func NewChannel(dir Direction, cfg Config) *Channel {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.Enable == nil {
		cfg.Enable = &atomic.Uint32{}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = irq.NewTracker()
	}
	return &Channel{
		dir:  dir,
		cfg:  cfg,
		name: "DMA " + dir.String(),
		log:  slog.Default().With("channel", dir.String()),
		run:  make(chan request, 1),
	}
}

// Direction of channel.
func (c *Channel) Direction() Direction {
	return c.dir
}

// Block registers of channel.
func (c *Channel) Block() *Block {
	return &c.blk
}

// Return current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Return number of queued starts.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Single shot status register.
func (c *Channel) Status() uint32 {
	return c.status.Load()
}

// Return current options.
func (c *Channel) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Options
}

// Change options, only takes effect for later starts.
func (c *Channel) SetOptions(opts Options) {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	c.mu.Lock()
	c.cfg.Options = opts
	c.mu.Unlock()
}

// Snapshot of channel state for display.
type Snapshot struct {
	Direction string
	State     string
	Pending   int
	Status    uint32
	Single    Descriptor
	Block     BlockSnapshot
}

type BlockSnapshot struct {
	Len       uint32
	Count     uint64
	Cycle     uint64
	DmaBase   uint64
	DmaOffset uint64
	DmaMask   uint64
	DmaStride uint64
	RAMBase   uint64
	RAMOffset uint64
	RAMMask   uint64
	RAMStride uint64
}

// Return snapshot of registers and state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	state, pending := c.state, len(c.pending)
	c.mu.Unlock()
	return Snapshot{
		Direction: c.dir.String(),
		State:     state.String(),
		Pending:   pending,
		Status:    c.status.Load(),
		Single: Descriptor{
			DmaAddr: c.dmaAddr.Load(),
			RAMAddr: c.ramAddr.Load(),
			Len:     c.length.Load(),
			Tag:     c.tag.Load(),
		},
		Block: BlockSnapshot{
			Len:       c.blk.Len.Load(),
			Count:     c.blk.Count.Load(),
			Cycle:     c.blk.Cycle.Load(),
			DmaBase:   c.blk.DmaBase.Load(),
			DmaOffset: c.blk.DmaOffset.Load(),
			DmaMask:   c.blk.DmaMask.Load(),
			DmaStride: c.blk.DmaStride.Load(),
			RAMBase:   c.blk.RAMBase.Load(),
			RAMOffset: c.blk.RAMOffset.Load(),
			RAMMask:   c.blk.RAMMask.Load(),
			RAMStride: c.blk.RAMStride.Load(),
		},
	}
}

func (c *Channel) irqLine() int {
	if c.dir == Write {
		return irq.LineWrite
	}
	return irq.LineRead
}

func (c *Channel) debugf(level int, format string, a ...interface{}) {
	debug.Debugf(c.name, int(debugMsk[c.dir&1].Load()), level, format, a...)
}

// Latch single shot descriptor registers and start it. Called on tag write.
func (c *Channel) TriggerSingle() {
	desc := Descriptor{
		DmaAddr: c.dmaAddr.Load(),
		RAMAddr: c.ramAddr.Load(),
		Len:     c.length.Load(),
		Tag:     c.tag.Load(),
	}
	c.debugf(debugCmd, "start dma=%x ram=%x len=%d tag=%02x", desc.DmaAddr, desc.RAMAddr,
		desc.Len, desc.Tag&irq.TagMask)
	c.start(request{desc: desc})
}

// Start block run from block registers. Called on control write.
func (c *Channel) TriggerBlock() {
	if c.Options().MaskCheck {
		dmaMask := c.blk.DmaMask.Load()
		ramMask := c.blk.RAMMask.Load()
		if !addrgen.ValidMask(dmaMask) || !addrgen.ValidMask(ramMask) {
			c.cfg.Stats.Rejected.Inc(1)
			c.log.Warn(fmt.Sprintf("block start rejected, mask not 2^n-1 dma=%x ram=%x", dmaMask, ramMask))
			return
		}
	}
	c.debugf(debugCmd, "start block len=%d count=%d", c.blk.Len.Load(), c.blk.Count.Load())
	c.start(request{block: true})
}

// Accept or refuse a start request.
func (c *Channel) start(req request) {
	if c.cfg.Enable.Load()&1 == 0 {
		c.cfg.Stats.Disabled.Inc(1)
		c.debugf(debugCmd, "start dropped, engine disabled")
		return
	}

	c.mu.Lock()
	req.immediate = c.isImmediate(req)
	if c.state == Running {
		c.retrigger(req)
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.begin(req)
	if req.immediate {
		// Executes on caller, nothing else can run on channel until finish.
		c.mu.Unlock()
		c.execute(context.Background(), req)
		c.finish()
		return
	}
	c.mu.Unlock()
	c.dispatch(req)
}

// Apply retrigger policy, called with mu held.
func (c *Channel) retrigger(req request) {
	switch c.cfg.Policy {
	case PolicyQueue:
		if len(c.pending) >= c.cfg.QueueDepth {
			c.cfg.Stats.Dropped.Inc(1)
			c.log.Warn(fmt.Sprintf("start queue full, dropping start (depth %d)", c.cfg.QueueDepth))
			return
		}
		c.pending = append(c.pending, req)
		c.cfg.Stats.Queued.Inc(1)
		c.debugf(debugCmd, "start queued, %d pending", len(c.pending))
	case PolicyRestart:
		c.pending = append(c.pending[:0], req)
		c.abort.Store(true)
		c.debugf(debugCmd, "restart requested")
	default:
		c.cfg.Stats.Ignored.Inc(1)
		c.debugf(debugCmd, "start ignored, channel running")
	}
}

// Prepare for request about to run, called with mu held.
func (c *Channel) begin(req request) {
	c.abort.Store(false)
	if !req.block {
		c.status.Clear()
	}
}

// Hand request to worker.
func (c *Channel) dispatch(req request) {
	select {
	case c.run <- req:
	default:
		// Worker still holds a request, should never happen while Running is exclusive.
		c.log.Error("worker busy, start lost")
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
	}
}

// Run next pending request or go idle.
func (c *Channel) finish() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.state = Idle
		c.mu.Unlock()
		return
	}
	req := c.pending[0]
	c.pending = c.pending[1:]
	c.begin(req)
	c.mu.Unlock()
	c.dispatch(req)
}

// Called with mu held.
func (c *Channel) isImmediate(req request) bool {
	return !req.block && c.dir == Write && c.cfg.Immediate && req.desc.Len <= ImmediateMax
}

// Worker loop, runs requests until context is canceled.
func (c *Channel) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.run:
			c.execute(ctx, req)
			c.finish()
		}
	}
}

func (c *Channel) execute(ctx context.Context, req request) {
	switch {
	case req.block:
		c.runBlock(ctx)
	case req.immediate:
		c.runImmediate(req.desc)
	default:
		c.runSingle(req.desc)
	}
}

// Source and destination stores of channel.
func (c *Channel) stores() (src memory.Store, dst memory.Store) {
	if c.dir == Write {
		return c.cfg.RAM, c.cfg.Host
	}
	return c.cfg.Host, c.cfg.RAM
}

// Source and destination address of a copy.
func (c *Channel) addresses(dmaAddr, ramAddr uint64) (src uint64, dst uint64) {
	if c.dir == Write {
		return ramAddr, dmaAddr
	}
	return dmaAddr, ramAddr
}

// Copy n bytes, read all then write.
func (c *Channel) copyBytes(src, dst uint64, n int) error {
	if n == 0 {
		return nil
	}
	from, to := c.stores()
	data, err := from.ReadBytes(src, n)
	if err != nil {
		return err
	}
	if (int(debugMsk[c.dir&1].Load()) & debugData) != 0 {
		c.debugf(debugData, "data %x -> %x\n%s", src, dst, hex.Dump(src, data))
	}
	return to.WriteBytes(dst, data)
}

func (c *Channel) fault(what string, err error) {
	c.cfg.Stats.Faults.Inc(1)
	c.log.Error(what + " failed: " + err.Error())
}

// Report single shot completion.
func (c *Channel) complete(desc Descriptor) {
	c.status.Done(desc.Tag)
	c.debugf(debugCmd, "done status=%08x", c.status.Load())
	if c.cfg.Tracker.Signal(c.irqLine()) {
		c.cfg.Stats.Interrupts.Inc(1)
	}
}

func (c *Channel) runSingle(desc Descriptor) {
	src, dst := c.addresses(desc.DmaAddr, uint64(desc.RAMAddr))
	if err := c.copyBytes(src, dst, int(desc.Len)); err != nil {
		c.fault(fmt.Sprintf("transfer tag %02x", desc.Tag&irq.TagMask), err)
		return
	}
	c.cfg.Stats.Transfers.Inc(1)
	c.cfg.Stats.Bytes.Inc(int64(desc.Len))
	c.complete(desc)
}

// Write payload held in ram address register straight to host.
func (c *Channel) runImmediate(desc Descriptor) {
	if desc.Len != 0 {
		var payload [4]byte
		binary.LittleEndian.PutUint32(payload[:], desc.RAMAddr)
		c.debugf(debugData, "immediate %x <- % x", desc.DmaAddr, payload[:desc.Len])
		if err := c.cfg.Host.WriteBytes(desc.DmaAddr, payload[:desc.Len]); err != nil {
			c.fault(fmt.Sprintf("immediate write tag %02x", desc.Tag&irq.TagMask), err)
			return
		}
	}
	c.cfg.Stats.Immediates.Inc(1)
	c.cfg.Stats.Bytes.Inc(int64(desc.Len))
	c.complete(desc)
}

// Run blocks until count reaches zero, a restart is requested or ctx is done.
func (c *Channel) runBlock(ctx context.Context) {
	started := time.Now()
	blkLen := int(c.blk.Len.Load())
	dmaGen := addrgen.Generator{
		Base:   c.blk.DmaBase.Load(),
		Offset: c.blk.DmaOffset.Load(),
		Mask:   c.blk.DmaMask.Load(),
		Stride: c.blk.DmaStride.Load(),
	}
	ramGen := addrgen.Generator{
		Base:   c.blk.RAMBase.Load(),
		Offset: c.blk.RAMOffset.Load(),
		Mask:   c.blk.RAMMask.Load(),
		Stride: c.blk.RAMStride.Load(),
	}

	for c.blk.Count.Load() != 0 {
		if ctx.Err() != nil {
			c.log.Info("block run stopped by shutdown", "remaining", c.blk.Count.Load())
			return
		}
		src, dst := c.addresses(dmaGen.Peek(), ramGen.Peek())
		c.debugf(debugDetail, "block %d %x -> %x", c.blk.Cycle.Load(), src, dst)
		if err := c.copyBytes(src, dst, blkLen); err != nil {
			c.fault(fmt.Sprintf("block %d", c.blk.Cycle.Load()), err)
			return
		}
		dmaGen.Step()
		ramGen.Step()
		c.blk.DmaOffset.Store(dmaGen.Offset)
		c.blk.RAMOffset.Store(ramGen.Offset)
		c.blk.decrement()
		c.blk.Cycle.Add(1)
		c.cfg.Stats.Blocks.Inc(1)
		c.cfg.Stats.Bytes.Inc(int64(blkLen))

		if c.abort.Load() {
			c.cfg.Stats.Restarted.Inc(1)
			c.debugf(debugCmd, "block run restarted, %d remaining", c.blk.Count.Load())
			return
		}
	}
	c.cfg.Stats.Runs.Inc(1)
	c.cfg.Stats.RunTime.UpdateSince(started)
	c.debugf(debugCmd, "block run done, cycle %d", c.blk.Cycle.Load())
}

// Clear registers, status and queue. Fails if channel is running.
func (c *Channel) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		return fmt.Errorf("%s: %w", c.name, ErrBusy)
	}
	c.dmaAddr.Store(0)
	c.ramAddr.Store(0)
	c.length.Store(0)
	c.tag.Store(0)
	c.status.Clear()
	c.blk.clear()
	c.pending = nil
	c.abort.Store(false)
	return nil
}
