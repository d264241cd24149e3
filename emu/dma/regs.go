/*
 * PCIe DMA - DMA channel register mapping.
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
	"github.com/qby123456/verilog-pcie/emu/regfile"
)

// Map single shot and block registers of channel into f.
func (c *Channel) Map(f *regfile.File) {
	p := c.dir.prefix()
	base := SingleBase(c.dir)
	f.Map64(base+SingleDmaAddr, p+"dma_addr", regfile.Host, &c.dmaAddr)
	f.Plain(base+SingleRamAddr, p+"ram_addr", &c.ramAddr)
	f.Plain(base+SingleLen, p+"len", &c.length)
	f.Trigger(base+SingleTag, p+"tag", c.tag.Load, func(v uint32) {
		c.tag.Store(v)
		c.TriggerSingle()
	})
	f.Live(base+SingleStatus, p+"status", c.status.Load)

	p += "blk_"
	base = BlockBase(c.dir)
	f.Trigger(base+BlockCtrl, p+"ctrl", c.ctrl, func(v uint32) {
		if v&CtrlStart != 0 {
			c.TriggerBlock()
		}
	})
	f.Map64(base+BlockCycle, p+"cycle_count", regfile.Shared, &c.blk.Cycle)
	f.Plain(base+BlockLen, p+"len", &c.blk.Len)
	f.Map64(base+BlockCount, p+"count", regfile.Shared, &c.blk.Count)
	f.Map64(base+BlockDmaBase, p+"dma_base", regfile.Host, &c.blk.DmaBase)
	f.Map64(base+BlockDmaOffset, p+"dma_offset", regfile.Shared, &c.blk.DmaOffset)
	f.Map64(base+BlockDmaMask, p+"dma_mask", regfile.Host, &c.blk.DmaMask)
	f.Map64(base+BlockDmaStride, p+"dma_stride", regfile.Host, &c.blk.DmaStride)
	f.Map64(base+BlockRAMBase, p+"ram_base", regfile.Host, &c.blk.RAMBase)
	f.Map64(base+BlockRAMOffset, p+"ram_offset", regfile.Shared, &c.blk.RAMOffset)
	f.Map64(base+BlockRAMMask, p+"ram_mask", regfile.Host, &c.blk.RAMMask)
	f.Map64(base+BlockRAMStride, p+"ram_stride", regfile.Host, &c.blk.RAMStride)
}

// Block control read value, running bit.
func (c *Channel) ctrl() uint32 {
	if c.State() == Running {
		return CtrlRunning
	}
	return 0
}
