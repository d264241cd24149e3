/*
 * PCIe DMA - DMA engine configuration keywords.
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

package dmaconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"

	config "github.com/qby123456/verilog-pcie/config/configparser"
	"github.com/qby123456/verilog-pcie/emu/core"
	"github.com/qby123456/verilog-pcie/emu/dma"
)

var (
	mu       sync.Mutex
	settings core.Settings
)

// register keywords on initialize.
func init() {
	config.RegisterOptions("HOSTMEM", setHostMem)
	config.RegisterOption("RAM", setRAM)
	config.RegisterOption("RETRIGGER", setRetrigger)
	config.RegisterOption("QUEUEDEPTH", setQueueDepth)
	config.RegisterOption("IMMEDIATE", setImmediate)
	config.RegisterOption("MASKCHECK", setMaskCheck)
	config.RegisterOptions("STATS", setStats)
	config.RegisterOption("LOGLEVEL", setLogLevel)
	config.RegisterOptions("DEBUG", setDebug)
}

// Return settings from configuration, unset values take their default.
func Settings() (core.Settings, error) {
	mu.Lock()
	s := settings
	mu.Unlock()
	if err := mergo.Merge(&s, core.DefaultSettings()); err != nil {
		return s, fmt.Errorf("merge settings: %w", err)
	}
	return s, nil
}

// Forget all configured values.
func Reset() {
	mu.Lock()
	settings = core.Settings{}
	mu.Unlock()
}

func update(fn func(s *core.Settings)) {
	mu.Lock()
	fn(&settings)
	mu.Unlock()
}

// HOSTMEM <size> [BASE=<hex>].
func setHostMem(first string, options []config.Option) error {
	size, err := config.ParseSize(first)
	if err != nil {
		return fmt.Errorf("hostmem: %w", err)
	}
	var base uint64
	for _, opt := range options {
		switch strings.ToUpper(opt.Name) {
		case "BASE":
			base, err = strconv.ParseUint(opt.EqualOpt, 16, 64)
			if err != nil || base&0xfff != 0 {
				return errors.New("hostmem base must be page aligned hex: " + opt.EqualOpt)
			}
		default:
			return errors.New("hostmem option invalid: " + opt.Name)
		}
	}
	update(func(s *core.Settings) {
		s.HostSize = size
		if base != 0 {
			s.HostBase = base
		}
	})
	return nil
}

// RAM <size>.
func setRAM(first string, _ []config.Option) error {
	size, err := config.ParseSize(first)
	if err != nil {
		return fmt.Errorf("ram: %w", err)
	}
	update(func(s *core.Settings) { s.RAMSize = size })
	return nil
}

// RETRIGGER IGNORE|QUEUE|RESTART.
func setRetrigger(first string, _ []config.Option) error {
	p, err := dma.ParsePolicy(first)
	if err != nil {
		return err
	}
	update(func(s *core.Settings) { s.Policy = p })
	return nil
}

// QUEUEDEPTH <n>.
func setQueueDepth(first string, _ []config.Option) error {
	depth, err := strconv.Atoi(first)
	if err != nil || depth <= 0 || depth > 1024 {
		return errors.New("queue depth must be between 1 and 1024: " + first)
	}
	update(func(s *core.Settings) { s.QueueDepth = depth })
	return nil
}

// IMMEDIATE ON|OFF.
func setImmediate(first string, _ []config.Option) error {
	on, err := config.ParseOnOff(first)
	if err != nil {
		return fmt.Errorf("immediate: %w", err)
	}
	update(func(s *core.Settings) { s.NoImmediate = !on })
	return nil
}

// MASKCHECK ON|OFF.
func setMaskCheck(first string, _ []config.Option) error {
	on, err := config.ParseOnOff(first)
	if err != nil {
		return fmt.Errorf("maskcheck: %w", err)
	}
	update(func(s *core.Settings) { s.NoMaskCheck = !on })
	return nil
}

// STATS PROMETHEUS LISTEN=<addr> [PATH=<path>] [INTERVAL=<duration>].
func setStats(first string, options []config.Option) error {
	if strings.ToUpper(first) != "PROMETHEUS" {
		return errors.New("stats exporter invalid: " + first)
	}
	var listen, path string
	var interval time.Duration
	for _, opt := range options {
		switch strings.ToUpper(opt.Name) {
		case "LISTEN":
			listen = opt.EqualOpt
		case "PATH":
			if !strings.HasPrefix(opt.EqualOpt, "/") {
				return errors.New("stats path must start with /: " + opt.EqualOpt)
			}
			path = opt.EqualOpt
		case "INTERVAL":
			var err error
			interval, err = time.ParseDuration(opt.EqualOpt)
			if err != nil || interval <= 0 {
				return errors.New("stats interval invalid: " + opt.EqualOpt)
			}
		default:
			return errors.New("stats option invalid: " + opt.Name)
		}
	}
	if listen == "" {
		return errors.New("stats requires LISTEN address")
	}
	update(func(s *core.Settings) {
		s.StatsListen = listen
		s.StatsPath = path
		s.StatsInterval = interval
	})
	return nil
}

// LOGLEVEL DEBUG|INFO|WARN|ERROR.
func setLogLevel(first string, _ []config.Option) error {
	if _, err := ParseLevel(first); err != nil {
		return err
	}
	update(func(s *core.Settings) { s.LogLevel = strings.ToUpper(first) })
	return nil
}

// Convert level name to slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, errors.New("log level invalid: " + name)
	}
	return level, nil
}

// DEBUG READ|WRITE|BOTH <option>,<option>...
func setDebug(first string, options []config.Option) error {
	var dirs []dma.Direction
	switch strings.ToUpper(first) {
	case "READ":
		dirs = []dma.Direction{dma.Read}
	case "WRITE":
		dirs = []dma.Direction{dma.Write}
	case "BOTH":
		dirs = []dma.Direction{dma.Read, dma.Write}
	default:
		return errors.New("debug option invalid: " + first)
	}

	for _, dir := range dirs {
		for _, opt := range options {
			if err := dma.Debug(dir, opt.Name); err != nil {
				return err
			}
			for _, value := range opt.Value {
				if err := dma.Debug(dir, *value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
