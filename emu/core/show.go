/*
   Console set and show for the DMA engine.

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
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"

	command "github.com/qby123456/verilog-pcie/command/command"
	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/irq"
	"github.com/qby123456/verilog-pcie/emu/stats"
	"github.com/qby123456/verilog-pcie/util/hex"
)

var policyList = []string{"ignore", "queue", "restart"}

// Options for set and show commands.
func (core *Core) Options(_ string) []command.Options {
	return []command.Options{
		{Name: "policy", OptionType: command.OptionList, OptionValid: command.ValidSet, OptionList: policyList},
		{Name: "depth", OptionType: command.OptionNumber, OptionValid: command.ValidSet},
		{Name: "immediate", OptionType: command.OptionSwitch, OptionValid: command.ValidSet},
		{Name: "maskcheck", OptionType: command.OptionSwitch, OptionValid: command.ValidSet},
		{Name: "state", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
		{Name: "regs", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
		{Name: "stats", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
		{Name: "settings", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
		{Name: "irq", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
	}
}

// Change channel options.
func (core *Core) Set(set bool, options []*command.CmdOption) error {
	opts := core.channels[dma.Read].Options()
	for _, opt := range options {
		switch opt.Name {
		case "policy":
			if !set {
				return errors.New("policy can't be unset")
			}
			p, err := dma.ParsePolicy(opt.EqualOpt)
			if err != nil {
				return err
			}
			opts.Policy = p
		case "depth":
			if !set || opt.Value == 0 {
				return errors.New("depth must be set to non zero value")
			}
			opts.QueueDepth = int(opt.Value)
		case "immediate":
			opts.Immediate = set
		case "maskcheck":
			opts.MaskCheck = set
		default:
			return errors.New("set option invalid: " + opt.Name)
		}
	}
	for _, ch := range core.channels {
		ch.SetOptions(opts)
	}
	return nil
}

// Show engine information.
func (core *Core) Show(options []*command.CmdOption) (string, error) {
	if len(options) == 0 {
		options = []*command.CmdOption{{Name: "state"}}
	}
	var str strings.Builder
	for _, opt := range options {
		switch opt.Name {
		case "state":
			cfg := spew.NewDefaultConfig()
			cfg.DisableCapacities = true
			cfg.DisablePointerAddresses = true
			for _, ch := range core.channels {
				str.WriteString(cfg.Sdump(ch.Snapshot()))
			}
		case "regs":
			core.showRegs(&str)
		case "stats":
			for _, line := range stats.Snapshot(core.Registry) {
				str.WriteString(line + "\n")
			}
		case "settings":
			opts := core.channels[dma.Read].Options()
			s := core.settings
			fmt.Fprintf(&str, "host %x+%x ram %x\n", s.HostBase, s.HostSize, s.RAMSize)
			fmt.Fprintf(&str, "policy %s depth %d immediate %v maskcheck %v\n",
				opts.Policy, opts.QueueDepth, opts.Immediate, opts.MaskCheck)
		case "irq":
			fmt.Fprintf(&str, "enable %x read %d write %d\n", core.Tracker.Enable().Load(),
				core.Tracker.Count(irq.LineRead), core.Tracker.Count(irq.LineWrite))
		default:
			return "", errors.New("show option invalid: " + opt.Name)
		}
	}
	return str.String(), nil
}

// List registers with current value.
func (core *Core) showRegs(str *strings.Builder) {
	for _, addr := range core.Regs.Addresses() {
		name, role, _ := core.Regs.Describe(addr)
		fmt.Fprintf(str, "%-22s %04x ", name, addr)
		hex.FormatWord(str, []uint32{core.Regs.Read(addr)})
		str.WriteString(role.String() + "\n")
	}
}
