/*
   Register port through the core loop.

   Copyright (c) 2024, Richard Cornwell

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   ROBERT M SUPNIK BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package core

import (
	"errors"

	"github.com/qby123456/verilog-pcie/emu/master"
)

var ErrStopped = errors.New("engine stopped")

// Port delivers register accesses to the core loop in order, as a
// transport would. It satisfies regfile.Bus.
type Port struct {
	core *Core
}

func (core *Core) Port() *Port {
	return &Port{core: core}
}

func (p *Port) send(packet master.Packet) bool {
	select {
	case p.core.Master <- packet:
		return true
	case <-p.core.done:
		return false
	}
}

// Read register, returns 0 once the engine is stopped.
func (p *Port) Read(addr uint32) uint32 {
	reply := make(chan uint32, 1)
	if !p.send(master.Packet{Msg: master.RegRead, Addr: addr, Reply: reply}) {
		return 0
	}
	select {
	case v := <-reply:
		return v
	case <-p.core.done:
		return 0
	}
}

// Write register.
func (p *Port) Write(addr uint32, value uint32) {
	p.send(master.Packet{Msg: master.RegWrite, Addr: addr, Data: value})
}

// Reset engine through core loop.
func (p *Port) Reset() error {
	reply := make(chan error, 1)
	if !p.send(master.Packet{Msg: master.Reset, Err: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-p.core.done:
		return ErrStopped
	}
}

// Wait until all earlier packets have been processed.
func (p *Port) Flush() error {
	reply := make(chan uint32, 1)
	if !p.send(master.Packet{Msg: master.Flush, Reply: reply}) {
		return ErrStopped
	}
	select {
	case <-reply:
		return nil
	case <-p.core.done:
		return ErrStopped
	}
}
