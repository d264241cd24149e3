/*
   Core PCIe DMA engine loop.

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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	metrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"

	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/irq"
	"github.com/qby123456/verilog-pcie/emu/master"
	"github.com/qby123456/verilog-pcie/emu/memory"
	"github.com/qby123456/verilog-pcie/emu/regfile"
	"github.com/qby123456/verilog-pcie/emu/stats"
)

type Core struct {
	settings Settings
	Host     *memory.Region   // Host memory seen through dma addresses
	RAM      *memory.Region   // Device RAM
	Regs     *regfile.File    // BAR0 register space
	Tracker  *irq.Tracker     // Interrupt tracker
	Registry metrics.Registry // Engine metrics
	channels [2]*dma.Channel
	enable   atomic.Uint32

	wg       sync.WaitGroup
	done     chan struct{} // Signal to shutdown engine.
	stopOnce sync.Once
	Master   chan master.Packet
	exporter *stats.Exporter
}

// Create engine, zero settings take their default.
func NewCore(settings Settings, masterChannel chan master.Packet) (*Core, error) {
	if err := mergo.Merge(&settings, DefaultSettings()); err != nil {
		return nil, fmt.Errorf("merge settings: %w", err)
	}

	host, err := memory.New("host", settings.HostBase, settings.HostSize)
	if err != nil {
		return nil, err
	}
	ram, err := memory.New("ram", 0, settings.RAMSize)
	if err != nil {
		return nil, err
	}

	core := &Core{
		settings: settings,
		Host:     host,
		RAM:      ram,
		Regs:     regfile.New(),
		Tracker:  irq.NewTracker(),
		Registry: metrics.NewRegistry(),
		done:     make(chan struct{}),
		Master:   masterChannel,
	}

	core.Regs.Plain(dma.RegEnable, "dma_enable", &core.enable)
	core.Regs.Plain(dma.RegIrqEnable, "irq_enable", core.Tracker.Enable())
	for _, dir := range []dma.Direction{dma.Read, dma.Write} {
		ch := dma.NewChannel(dir, dma.Config{
			Host:    host,
			RAM:     ram,
			Tracker: core.Tracker,
			Enable:  &core.enable,
			Stats:   stats.NewChannel(core.Registry, dir.String()),
			Options: settings.Options(),
		})
		ch.Map(core.Regs)
		core.channels[dir] = ch
	}

	if settings.StatsListen != "" {
		core.exporter, err = stats.StartPrometheus(core.Registry, settings.StatsListen,
			settings.StatsPath, settings.StatsInterval)
		if err != nil {
			return nil, err
		}
	}
	slog.Info(fmt.Sprintf("DMA engine host memory %x+%x ram %x, retrigger %s",
		settings.HostBase, settings.HostSize, settings.RAMSize, settings.Policy))
	return core, nil
}

// Return channel for direction.
func (core *Core) Channel(dir dma.Direction) *dma.Channel {
	return core.channels[dir&1]
}

// Return settings engine was built with.
func (core *Core) Settings() Settings {
	return core.settings
}

// Start channel workers and process packets until stopped.
func (core *Core) Start() {
	core.wg.Add(1)
	defer core.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range core.channels {
		g.Go(func() error {
			ch.Run(gctx)
			return nil
		})
	}

	for {
		select {
		case <-core.done:
			cancel()
			_ = g.Wait()
			return
		case packet := <-core.Master:
			core.processPacket(packet)
		}
	}
}

// Stop a running engine.
func (core *Core) Stop() {
	core.stopOnce.Do(func() {
		slog.Info("Shutting down DMA engine")
		close(core.done)
	})
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for DMA engine to finish.")
	}

	if core.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := core.exporter.Stop(ctx); err != nil {
			slog.Warn("Stopping stats exporter: " + err.Error())
		}
		core.exporter = nil
	}
}

// Clear registers, counters and status of both channels.
func (core *Core) Reset() error {
	for _, ch := range core.channels {
		if ch.State() == dma.Running {
			return fmt.Errorf("reset: %s channel: %w", ch.Direction(), dma.ErrBusy)
		}
	}
	var errs []error
	for _, ch := range core.channels {
		errs = append(errs, ch.Reset())
	}
	core.enable.Store(0)
	core.Tracker.Reset()
	return errors.Join(errs...)
}

// Process a packet sent to engine.
func (core *Core) processPacket(packet master.Packet) {
	switch packet.Msg {
	case master.RegRead:
		packet.Reply <- core.Regs.Read(packet.Addr)
	case master.RegWrite:
		core.Regs.Write(packet.Addr, packet.Data)
	case master.Reset:
		err := core.Reset()
		if packet.Err != nil {
			packet.Err <- err
		}
	case master.Flush:
		packet.Reply <- 0
	default:
		slog.Warn(fmt.Sprintf("unknown packet type %d", packet.Msg))
	}
}
