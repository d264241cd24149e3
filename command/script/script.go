/*
 * PCIe DMA - YAML scenario runner.
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

// Package script runs register level scenarios described in YAML against
// a running engine.
package script

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/qby123456/verilog-pcie/driver"
	"github.com/qby123456/verilog-pcie/emu/core"
	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/memory"
)

const DefaultTimeout = 5 * time.Second

type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Name       string        `yaml:"name"`
	Write      *RegWrite     `yaml:"write"`
	Read       *RegRead      `yaml:"read"`
	Fill       *Fill         `yaml:"fill"`
	Expect     *Expect       `yaml:"expect"`
	CopyCheck  *CopyCheck    `yaml:"copy-check"`
	DMA        *Desc         `yaml:"dma"`
	Block      *Block        `yaml:"block"`
	WaitStatus *WaitStatus   `yaml:"wait-status"`
	WaitBlock  *WaitBlock    `yaml:"wait-block"`
	Sleep      time.Duration `yaml:"sleep"`
}

// Register is given by name or by address.
type Reg struct {
	Name string  `yaml:"reg"`
	Addr *uint32 `yaml:"addr"`
}

type RegWrite struct {
	Reg   `yaml:",inline"`
	Value uint32 `yaml:"value"`
}

type RegRead struct {
	Reg    `yaml:",inline"`
	Expect *uint32 `yaml:"expect"`
	Mask   *uint32 `yaml:"mask"`
}

// Location in host memory or device RAM.
type Loc struct {
	Region string `yaml:"region"`
	Addr   uint64 `yaml:"addr"`
}

// Fill with constant value, or incrementing bytes from seed.
type Fill struct {
	Loc   `yaml:",inline"`
	Len   int    `yaml:"len"`
	Value *uint8 `yaml:"value"`
	Seed  uint8  `yaml:"seed"`
}

type Expect struct {
	Loc   `yaml:",inline"`
	Bytes []byte `yaml:"bytes"`
}

type CopyCheck struct {
	Src Loc `yaml:"src"`
	Dst Loc `yaml:"dst"`
	Len int `yaml:"len"`
}

type Desc struct {
	Dir     string `yaml:"dir"`
	DmaAddr uint64 `yaml:"dma"`
	RAMAddr uint32 `yaml:"ram"`
	Len     uint32 `yaml:"len"`
	Tag     uint8  `yaml:"tag"`
}

type Side struct {
	Base   uint64 `yaml:"base"`
	Offset uint64 `yaml:"offset"`
	Mask   uint64 `yaml:"mask"`
	Stride uint64 `yaml:"stride"`
}

type Block struct {
	Dir   string `yaml:"dir"`
	DMA   Side   `yaml:"dma"`
	RAM   Side   `yaml:"ram"`
	Len   uint32 `yaml:"len"`
	Count uint64 `yaml:"count"`
}

type WaitStatus struct {
	Dir     string        `yaml:"dir"`
	Tag     uint8         `yaml:"tag"`
	Timeout time.Duration `yaml:"timeout"`
}

type WaitBlock struct {
	Dir     string        `yaml:"dir"`
	Timeout time.Duration `yaml:"timeout"`
}

// Load scenario from reader.
func Load(in io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	sc := &Scenario{}
	if err := dec.Decode(sc); err != nil {
		return nil, errors.Wrap(err, "decode scenario")
	}
	for i, step := range sc.Steps {
		if n := step.actions(); n != 1 {
			return nil, errors.Errorf("step %d %s: has %d actions, expected one", i+1, step.Name, n)
		}
	}
	return sc, nil
}

// Load scenario from file.
func LoadFile(name string) (*Scenario, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open scenario %s", name)
	}
	defer file.Close()
	sc, err := Load(file)
	if err != nil {
		return nil, errors.Wrapf(err, "scenario %s", name)
	}
	return sc, nil
}

func (s *Step) actions() int {
	n := 0
	for _, set := range []bool{s.Write != nil, s.Read != nil, s.Fill != nil, s.Expect != nil,
		s.CopyCheck != nil, s.DMA != nil, s.Block != nil, s.WaitStatus != nil,
		s.WaitBlock != nil, s.Sleep != 0} {
		if set {
			n++
		}
	}
	return n
}

// Runner executes scenarios against an engine.
type Runner struct {
	core *core.Core
	drv  *driver.Driver
	out  io.Writer
}

// Create runner, progress is written to out when not nil.
func NewRunner(c *core.Core, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{core: c, drv: driver.New(c.Port(), c.Tracker), out: out}
}

// Run all steps, stops at first failure.
func (r *Runner) Run(ctx context.Context, sc *Scenario) error {
	fmt.Fprintf(r.out, "scenario %s: %d steps\n", sc.Name, len(sc.Steps))
	for i := range sc.Steps {
		step := &sc.Steps[i]
		if err := r.step(ctx, step); err != nil {
			return errors.Wrapf(err, "step %d %s", i+1, step.Name)
		}
		fmt.Fprintf(r.out, "step %d %s: ok\n", i+1, step.Name)
	}
	return nil
}

// Run scenario file.
func (r *Runner) RunFile(ctx context.Context, name string) error {
	sc, err := LoadFile(name)
	if err != nil {
		return err
	}
	return r.Run(ctx, sc)
}

func (r *Runner) step(ctx context.Context, s *Step) error {
	switch {
	case s.Write != nil:
		addr, err := r.addr(s.Write.Reg)
		if err != nil {
			return err
		}
		r.drv.Bus().Write(addr, s.Write.Value)
	case s.Read != nil:
		return r.read(s.Read)
	case s.Fill != nil:
		return r.fill(s.Fill)
	case s.Expect != nil:
		return r.expect(s.Expect)
	case s.CopyCheck != nil:
		return r.copyCheck(s.CopyCheck)
	case s.DMA != nil:
		dir, err := dma.ParseDirection(s.DMA.Dir)
		if err != nil {
			return err
		}
		r.drv.Submit(dir, dma.Descriptor{DmaAddr: s.DMA.DmaAddr, RAMAddr: s.DMA.RAMAddr,
			Len: s.DMA.Len, Tag: uint32(s.DMA.Tag)})
	case s.Block != nil:
		dir, err := dma.ParseDirection(s.Block.Dir)
		if err != nil {
			return err
		}
		b := s.Block
		r.drv.ConfigureBlock(dir, driver.BlockConfig{
			DmaBase: b.DMA.Base, DmaOffset: b.DMA.Offset, DmaMask: b.DMA.Mask, DmaStride: b.DMA.Stride,
			RAMBase: b.RAM.Base, RAMOffset: b.RAM.Offset, RAMMask: b.RAM.Mask, RAMStride: b.RAM.Stride,
			Len: b.Len, Count: b.Count,
		})
		r.drv.StartBlock(dir)
	case s.WaitStatus != nil:
		dir, err := dma.ParseDirection(s.WaitStatus.Dir)
		if err != nil {
			return err
		}
		wctx, cancel := withTimeout(ctx, s.WaitStatus.Timeout)
		defer cancel()
		status, err := r.drv.WaitStatus(wctx, dir, s.WaitStatus.Tag)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s status %08x\n", dir, status)
	case s.WaitBlock != nil:
		dir, err := dma.ParseDirection(s.WaitBlock.Dir)
		if err != nil {
			return err
		}
		wctx, cancel := withTimeout(ctx, s.WaitBlock.Timeout)
		defer cancel()
		if err := r.drv.WaitBlock(wctx, dir); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s block cycles %d\n", dir, r.drv.BlockCycles(dir))
	case s.Sleep != 0:
		select {
		case <-time.After(s.Sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// Resolve register name or address.
func (r *Runner) addr(reg Reg) (uint32, error) {
	if reg.Addr != nil {
		return *reg.Addr, nil
	}
	addr, ok := r.core.Regs.Lookup(reg.Name)
	if !ok {
		return 0, errors.Errorf("unknown register %q", reg.Name)
	}
	return addr, nil
}

func (r *Runner) read(rd *RegRead) error {
	addr, err := r.addr(rd.Reg)
	if err != nil {
		return err
	}
	value := r.drv.Bus().Read(addr)
	fmt.Fprintf(r.out, "read %04x: %08x\n", addr, value)
	if rd.Expect == nil {
		return nil
	}
	mask := ^uint32(0)
	if rd.Mask != nil {
		mask = *rd.Mask
	}
	if value&mask != *rd.Expect&mask {
		return errors.Errorf("register %04x got: %08x expected: %08x mask: %08x", addr, value, *rd.Expect, mask)
	}
	return nil
}

func (r *Runner) region(name string) (*memory.Region, error) {
	switch name {
	case "host", "":
		return r.core.Host, nil
	case "ram":
		return r.core.RAM, nil
	}
	return nil, errors.Errorf("unknown region %q", name)
}

func (r *Runner) fill(f *Fill) error {
	region, err := r.region(f.Region)
	if err != nil {
		return err
	}
	pattern := func(i int) byte { return f.Seed + byte(i) }
	if f.Value != nil {
		value := *f.Value
		pattern = func(int) byte { return value }
	}
	return errors.WithMessage(region.Fill(f.Addr, f.Len, pattern), "fill")
}

func (r *Runner) expect(e *Expect) error {
	region, err := r.region(e.Region)
	if err != nil {
		return err
	}
	got, err := region.Peek(e.Addr, len(e.Bytes))
	if err != nil {
		return errors.WithMessage(err, "expect")
	}
	if !bytes.Equal(got, e.Bytes) {
		return errors.Errorf("%s %x got: % x expected: % x", region.Name(), e.Addr, got, e.Bytes)
	}
	return nil
}

func (r *Runner) copyCheck(c *CopyCheck) error {
	src, err := r.region(c.Src.Region)
	if err != nil {
		return err
	}
	dst, err := r.region(c.Dst.Region)
	if err != nil {
		return err
	}
	a, err := src.Peek(c.Src.Addr, c.Len)
	if err != nil {
		return errors.WithMessage(err, "copy-check source")
	}
	b, err := dst.Peek(c.Dst.Addr, c.Len)
	if err != nil {
		return errors.WithMessage(err, "copy-check destination")
	}
	for i := range a {
		if a[i] != b[i] {
			return errors.Errorf("copy mismatch at %d %s %x got: %02x %s %x expected: %02x",
				i, dst.Name(), c.Dst.Addr+uint64(i), b[i], src.Name(), c.Src.Addr+uint64(i), a[i])
		}
	}
	return nil
}
