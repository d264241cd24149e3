/*
 * PCIe DMA - DMA channel definitions.
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
	"errors"
	"strings"
	"sync/atomic"
)

// Direction of a channel.
type Direction int

const (
	Read  Direction = iota // Host memory to device RAM
	Write                  // Device RAM to host memory
)

func (d Direction) String() string {
	if d == Write {
		return "write"
	}
	return "read"
}

// Convert channel name to direction.
func ParseDirection(name string) (Direction, error) {
	switch strings.ToLower(name) {
	case "read", "rd":
		return Read, nil
	case "write", "wr":
		return Write, nil
	}
	return Read, errors.New("channel direction invalid: " + name)
}

// Return register name prefix of channel.
func (d Direction) prefix() string {
	if d == Write {
		return "wr_"
	}
	return "rd_"
}

// Policy decides what a start does while the channel is running.
type Policy int

const (
	PolicyIgnore  Policy = iota // Drop the new start
	PolicyQueue                 // Queue it behind the current run
	PolicyRestart               // Stop current run at next block, run newest start
)

var policyNames = map[string]Policy{
	"IGNORE":  PolicyIgnore,
	"QUEUE":   PolicyQueue,
	"RESTART": PolicyRestart,
}

func (p Policy) String() string {
	switch p {
	case PolicyQueue:
		return "queue"
	case PolicyRestart:
		return "restart"
	default:
		return "ignore"
	}
}

// Convert policy name to policy.
func ParsePolicy(name string) (Policy, error) {
	p, ok := policyNames[strings.ToUpper(name)]
	if !ok {
		return PolicyIgnore, errors.New("retrigger policy invalid: " + name)
	}
	return p, nil
}

// State of a channel.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

const (
	DefaultQueueDepth = 8 // Depth of start queue
	ImmediateMax      = 4 // Largest write carried in descriptor

	// Global registers.
	RegEnable    uint32 = 0x000 // Bit 0 enables engine
	RegIrqEnable uint32 = 0x008 // Bit 0 read irq, bit 1 write irq

	// Single shot register set base.
	ReadSingle  uint32 = 0x100
	WriteSingle uint32 = 0x200

	// Offsets in single shot register set.
	SingleDmaAddr uint32 = 0x00 // Host address lo/hi
	SingleRamAddr uint32 = 0x08 // RAM address, immediate payload
	SingleLen     uint32 = 0x10 // Length in bytes
	SingleTag     uint32 = 0x14 // Tag, write starts descriptor
	SingleStatus  uint32 = 0x18 // Done flag and tag

	// Block register set base.
	ReadBlock  uint32 = 0x1000
	WriteBlock uint32 = 0x1100

	// Offsets in block register set.
	BlockCtrl      uint32 = 0x00 // Write bit 0 starts, read bit 0 running
	BlockCycle     uint32 = 0x08 // Completed blocks lo/hi
	BlockLen       uint32 = 0x10 // Bytes per block
	BlockCount     uint32 = 0x18 // Remaining blocks lo/hi
	BlockDmaBase   uint32 = 0x80
	BlockDmaOffset uint32 = 0x88
	BlockDmaMask   uint32 = 0x90
	BlockDmaStride uint32 = 0x98
	BlockRAMBase   uint32 = 0xc0
	BlockRAMOffset uint32 = 0xc8
	BlockRAMMask   uint32 = 0xd0
	BlockRAMStride uint32 = 0xd8

	CtrlStart   uint32 = 0x1 // Block control start bit
	CtrlRunning uint32 = 0x1 // Block control running bit
)

// Base of single shot register set for channel.
func SingleBase(d Direction) uint32 {
	if d == Write {
		return WriteSingle
	}
	return ReadSingle
}

// Base of block register set for channel.
func BlockBase(d Direction) uint32 {
	if d == Write {
		return WriteBlock
	}
	return ReadBlock
}

// Descriptor of a single shot transfer, latched when the tag is written.
type Descriptor struct {
	DmaAddr uint64 // Host address
	RAMAddr uint32 // RAM address, or payload of immediate write
	Len     uint32 // Length in bytes
	Tag     uint32 // Tag echoed in status
}

// Block descriptor registers. Offsets, count and cycle count are updated
// by the engine while a run is active.
type Block struct {
	Cycle     atomic.Uint64
	Len       atomic.Uint32
	Count     atomic.Uint64
	DmaBase   atomic.Uint64
	DmaOffset atomic.Uint64
	DmaMask   atomic.Uint64
	DmaStride atomic.Uint64
	RAMBase   atomic.Uint64
	RAMOffset atomic.Uint64
	RAMMask   atomic.Uint64
	RAMStride atomic.Uint64
}

// Zero all block registers.
func (b *Block) clear() {
	for _, v := range []*atomic.Uint64{&b.Cycle, &b.Count, &b.DmaBase, &b.DmaOffset, &b.DmaMask,
		&b.DmaStride, &b.RAMBase, &b.RAMOffset, &b.RAMMask, &b.RAMStride} {
		v.Store(0)
	}
	b.Len.Store(0)
}

// Decrement count unless already zero.
func (b *Block) decrement() {
	for {
		n := b.Count.Load()
		if n == 0 || b.Count.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Options controlling channel behavior.
type Options struct {
	Policy     Policy // Start while running policy
	QueueDepth int    // Depth of queue for PolicyQueue
	Immediate  bool   // Short writes carry data in descriptor
	MaskCheck  bool   // Reject block starts with invalid masks
}

// Default channel options.
func DefaultOptions() Options {
	return Options{
		Policy:     PolicyIgnore,
		QueueDepth: DefaultQueueDepth,
		Immediate:  true,
		MaskCheck:  true,
	}
}

// Debug trace options.
const (
	debugCmd = 1 << iota
	debugData
	debugDetail
)

var debugOption = map[string]int{
	"CMD":    debugCmd,
	"DATA":   debugData,
	"DETAIL": debugDetail,
}

var debugMsk [2]atomic.Int32

// Enable debug option for channel.
func Debug(d Direction, opt string) error {
	flag, ok := debugOption[strings.ToUpper(opt)]
	if !ok {
		return errors.New("dma debug option invalid: " + opt)
	}
	debugMsk[d&1].Or(int32(flag))
	return nil
}

// Clear debug options of both channels.
func ClearDebug() {
	debugMsk[0].Store(0)
	debugMsk[1].Store(0)
}
