/*
   PCIe DMA engine settings.

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
	"time"

	"github.com/qby123456/verilog-pcie/emu/dma"
)

// Settings describe how the engine is built. Zero fields take the value
// from DefaultSettings, so switches are expressed as their negation.
type Settings struct {
	HostSize      uint64        // Size of host memory region
	HostBase      uint64        // Absolute address of host memory
	RAMSize       uint64        // Size of device RAM
	Policy        dma.Policy    // Start while running policy
	QueueDepth    int           // Depth of start queue
	NoImmediate   bool          // Disable immediate writes
	NoMaskCheck   bool          // Accept any block mask
	StatsListen   string        // Prometheus listen address, empty for none
	StatsPath     string        // Prometheus path
	StatsInterval time.Duration // Prometheus update interval
	LogLevel      string        // slog level name
}

func DefaultSettings() Settings {
	return Settings{
		HostSize:      16 * 1024 * 1024,
		HostBase:      0x100000000,
		RAMSize:       16 * 1024 * 1024,
		Policy:        dma.PolicyIgnore,
		QueueDepth:    dma.DefaultQueueDepth,
		StatsPath:     "/metrics",
		StatsInterval: 10 * time.Second,
		LogLevel:      "INFO",
	}
}

// Channel options for settings.
func (s Settings) Options() dma.Options {
	return dma.Options{
		Policy:     s.Policy,
		QueueDepth: s.QueueDepth,
		Immediate:  !s.NoImmediate,
		MaskCheck:  !s.NoMaskCheck,
	}
}
