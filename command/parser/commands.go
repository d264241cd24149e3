/*
 * PCIe DMA - Console commands.
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

package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	command "github.com/qby123456/verilog-pcie/command/command"
	"github.com/qby123456/verilog-pcie/command/script"
	"github.com/qby123456/verilog-pcie/driver"
	core "github.com/qby123456/verilog-pcie/emu/core"
	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/util/hex"
)

// How long dma and block commands wait for completion.
var WaitTime = 5 * time.Second

var cmdList = []cmd{
	{Name: "read", Min: 1, Process: read},
	{Name: "write", Min: 1, Process: write},
	{Name: "dump", Min: 2, Process: dump, Complete: wordComplete("host", "ram")},
	{Name: "fill", Min: 1, Process: fill, Complete: wordComplete("host", "ram")},
	{Name: "dma", Min: 2, Process: dmaCmd, Complete: wordComplete("read", "write")},
	{Name: "block", Min: 1, Process: block, Complete: blockComplete},
	{Name: "set", Min: 3, Process: set, Complete: optionComplete(command.ValidSet)},
	{Name: "unset", Min: 3, Process: unset, Complete: optionComplete(command.ValidSet)},
	{Name: "show", Min: 2, Process: show, Complete: optionComplete(command.ValidShow)},
	{Name: "irq", Min: 1, Process: irqCmd},
	{Name: "run", Min: 2, Process: run},
	{Name: "reset", Min: 3, Process: reset},
	{Name: "quit", Min: 4, Process: quit},
}

// Options of block command.
var blockOptions = []command.Options{
	{Name: "dmabase", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "dmaoffset", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "dmamask", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "dmastride", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "rambase", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "ramoffset", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "rammask", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "ramstride", OptionType: command.OptionHex, OptionValid: command.ValidBlock},
	{Name: "len", OptionType: command.OptionNumber, OptionValid: command.ValidBlock},
	{Name: "count", OptionType: command.OptionNumber, OptionValid: command.ValidBlock},
	{Name: "nowait", OptionType: command.OptionSwitch, OptionValid: command.ValidBlock},
}

func newDriver(core *core.Core) *driver.Driver {
	return driver.New(core.Port(), core.Tracker)
}

func waitContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), WaitTime)
}

// Check nothing follows the command.
func (line *cmdLine) checkEOL() error {
	line.skipSpace()
	if !line.isEOL() {
		return errors.New("unexpected text: " + line.line[line.pos:])
	}
	return nil
}

// Read register.
func read(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Read")
	addr, err := line.getRegister(core)
	if err != nil {
		return false, err
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	name, _, ok := core.Regs.Describe(addr)
	if !ok {
		name = "unmapped"
	}
	var str strings.Builder
	fmt.Fprintf(&str, "%s %04x: ", name, addr)
	hex.FormatWord(&str, []uint32{core.Port().Read(addr)})
	fmt.Fprintln(Output, strings.TrimSpace(str.String()))
	return false, nil
}

// Write register.
func write(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Write")
	addr, err := line.getRegister(core)
	if err != nil {
		return false, err
	}
	value, err := line.getHex()
	if err != nil {
		return false, err
	}
	if value > 0xffffffff {
		return false, errors.New("value larger than 32 bits")
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	port := core.Port()
	port.Write(addr, uint32(value))
	return false, port.Flush()
}

// Dump memory.
func dump(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Dump")
	region, err := line.getRegion(core)
	if err != nil {
		return false, err
	}
	start, length, err := line.getRange(0x100)
	if err != nil {
		return false, err
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	data, err := region.Peek(start, int(length))
	if err != nil {
		return false, err
	}
	fmt.Fprint(Output, hex.Dump(start, data))
	return false, nil
}

// Fill memory, incrementing bytes unless a value is given.
func fill(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Fill")
	region, err := line.getRegion(core)
	if err != nil {
		return false, err
	}
	start, length, err := line.getRange(0x100)
	if err != nil {
		return false, err
	}
	pattern := func(i int) byte { return byte(i) }
	line.skipSpace()
	if !line.isEOL() {
		value, err := line.getHex()
		if err != nil || value > 0xff {
			return false, errors.New("fill value must be a byte")
		}
		pattern = func(int) byte { return byte(value) }
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	return false, region.Fill(start, int(length), pattern)
}

// Submit single shot descriptor: dma read|write <dma> <ram|payload> <len> <tag>.
func dmaCmd(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command DMA")
	dir, err := line.getDirection()
	if err != nil {
		return false, err
	}
	var args [4]uint64
	for i, what := range []string{"dma address", "ram address", "length", "tag"} {
		if args[i], err = line.getHex(); err != nil {
			return false, errors.New(what + " missing: " + err.Error())
		}
	}
	if args[1] > 0xffffffff || args[2] > 0xffffffff || args[3] > 0xff {
		return false, errors.New("ram address, length or tag too large")
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}

	drv := newDriver(core)
	tag := uint8(args[3])
	drv.Submit(dir, dma.Descriptor{DmaAddr: args[0], RAMAddr: uint32(args[1]), Len: uint32(args[2]), Tag: uint32(tag)})
	ctx, cancel := waitContext()
	defer cancel()
	status, err := drv.WaitStatus(ctx, dir, tag)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(Output, "%s status %08x\n", dir, status)
	return false, nil
}

// Configure and start block run: block read|write name=value...
func block(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Block")
	dir, err := line.getDirection()
	if err != nil {
		return false, err
	}
	optlist, err := line.getOptions(blockOptions, command.ValidBlock)
	if err != nil {
		return false, err
	}

	cfg := driver.BlockConfig{}
	wait := true
	for _, opt := range optlist {
		switch opt.Name {
		case "dmabase":
			cfg.DmaBase = opt.Value
		case "dmaoffset":
			cfg.DmaOffset = opt.Value
		case "dmamask":
			cfg.DmaMask = opt.Value
		case "dmastride":
			cfg.DmaStride = opt.Value
		case "rambase":
			cfg.RAMBase = opt.Value
		case "ramoffset":
			cfg.RAMOffset = opt.Value
		case "rammask":
			cfg.RAMMask = opt.Value
		case "ramstride":
			cfg.RAMStride = opt.Value
		case "len":
			if opt.Value > 0xffffffff {
				return false, errors.New("block length too large")
			}
			cfg.Len = uint32(opt.Value)
		case "count":
			cfg.Count = opt.Value
		case "nowait":
			wait = false
		}
	}

	drv := newDriver(core)
	drv.ConfigureBlock(dir, cfg)
	drv.StartBlock(dir)
	if !wait {
		return false, nil
	}
	if !drv.Running(dir) {
		if left := drv.BlockCount(dir); left != 0 {
			return false, fmt.Errorf("%s block run not accepted, %d blocks remaining", dir, left)
		}
	}
	ctx, cancel := waitContext()
	defer cancel()
	if err := drv.WaitBlock(ctx, dir); err != nil {
		return false, err
	}
	fmt.Fprintf(Output, "%s block cycles %d\n", dir, drv.BlockCycles(dir))
	return false, nil
}

// Handle set commands.
func set(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Set")
	optlist, err := line.getOptions(core.Options(""), command.ValidSet)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options give to set command")
	}
	return false, core.Set(true, optlist)
}

// Handle unset commands.
func unset(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Unset")
	optlist, err := line.getOptions(core.Options(""), command.ValidSet)
	if err != nil {
		return false, err
	}
	if len(optlist) == 0 {
		return false, errors.New("no options give to unset command")
	}
	return false, core.Set(false, optlist)
}

// Process the show command.
func show(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Show")
	optlist, err := line.getOptions(core.Options(""), command.ValidShow)
	if err != nil {
		return false, err
	}
	out, err := core.Show(optlist)
	if err != nil {
		return false, err
	}
	fmt.Fprint(Output, out)
	return false, nil
}

// Show interrupts, optionally set enable mask first.
func irqCmd(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command IRQ")
	line.skipSpace()
	if !line.isEOL() {
		mask, err := line.getHex()
		if err != nil || mask > 3 {
			return false, errors.New("interrupt mask must be 0 to 3")
		}
		port := core.Port()
		port.Write(dma.RegIrqEnable, uint32(mask))
		if err := port.Flush(); err != nil {
			return false, err
		}
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	out, err := core.Show([]*command.CmdOption{{Name: "irq"}})
	if err != nil {
		return false, err
	}
	fmt.Fprint(Output, out)
	return false, nil
}

// Run scenario file.
func run(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Run")
	file, ok := line.parseQuoteString()
	if !ok || file == "" {
		return false, errors.New("run requires scenario file name")
	}
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	return false, script.NewRunner(core, Output).RunFile(context.Background(), file)
}

// Reset engine registers.
func reset(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Reset")
	if err := line.checkEOL(); err != nil {
		return false, err
	}
	return false, core.Port().Reset()
}

// Handle commands that quit simulation.
func quit(_ *cmdLine, _ *core.Core) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}
