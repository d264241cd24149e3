/*
 * PCIe DMA - Main program.
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

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	reader "github.com/qby123456/verilog-pcie/command/reader"
	script "github.com/qby123456/verilog-pcie/command/script"
	config "github.com/qby123456/verilog-pcie/config/configparser"
	dmaconfig "github.com/qby123456/verilog-pcie/config/dmaconfig"
	core "github.com/qby123456/verilog-pcie/emu/core"
	master "github.com/qby123456/verilog-pcie/emu/master"
	debug "github.com/qby123456/verilog-pcie/util/debug"
	logger "github.com/qby123456/verilog-pcie/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optScript := getopt.StringLong("script", 's', "", "Run scenario file and exit")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file io.Writer
	if *optLogFile != "" {
		logFile, err := os.Create(*optLogFile)
		if err != nil {
			slog.Error("Unable to create log file: " + err.Error())
			os.Exit(1)
		}
		defer logFile.Close()
		file = logFile
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	if *optDebug {
		programLevel.Set(slog.LevelDebug)
	}
	handler := logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug)
	slog.SetDefault(slog.New(handler))

	slog.Info("PCIe DMA engine started")
	if *optConfig != "" {
		if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
			slog.Error("Configuration file " + *optConfig + " can't be found")
			os.Exit(1)
		}
		if err := config.LoadConfigFile(*optConfig); err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
	}

	settings, err := dmaconfig.Settings()
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	if !*optDebug {
		level, err := dmaconfig.ParseLevel(settings.LogLevel)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
		handler.SetLevel(level)
	}

	masterChannel := make(chan master.Packet)
	engine, err := core.NewCore(settings, masterChannel)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	// Start engine.
	go engine.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := 0
	if *optScript != "" {
		if err := script.NewRunner(engine, os.Stdout).RunFile(ctx, *optScript); err != nil {
			slog.Error(err.Error())
			status = 1
		}
	} else {
		msg := make(chan string, 1)
		go func() {
			reader.ConsoleReader(engine)
			msg <- ""
		}()

		// Wait on shutdown option
		select {
		case <-msg:
		case <-ctx.Done():
		}
	}

	engine.Stop()
	if err := debug.Close(); err != nil {
		slog.Warn("Closing debug file: " + err.Error())
	}
	slog.Info("DMA engine stopped.")
	if status != 0 {
		os.Exit(status)
	}
}
