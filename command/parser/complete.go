/*
 * PCIe DMA - Command line completion.
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
	"slices"
	"strings"

	command "github.com/qby123456/verilog-pcie/command/command"
)

// Called to complete a command line, during line editing. Options of set
// and show come from device.
func CompleteCmd(commandLine string, device command.Command) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord(false)

	// We have a command, let it try and complete it.
	if line.pos < len(line.line) {
		match := matchList(name)
		if len(match) != 1 || match[0].Complete == nil {
			return nil
		}
		return match[0].Complete(&line, device)
	}

	var matches []string
	for _, m := range cmdList {
		if strings.HasPrefix(m.Name, name) {
			matches = append(matches, m.Name+" ")
		}
	}
	slices.Sort(matches)
	return matches
}

// Split line into everything before last word and the last word.
func (line *cmdLine) lastWord() (string, string) {
	i := strings.LastIndexAny(line.line, " \t")
	return line.line[:i+1], line.line[i+1:]
}

// Check if only the first argument is being typed.
func (line *cmdLine) firstArgument() bool {
	rest := strings.TrimLeft(line.line[line.pos:], " \t")
	return !strings.ContainsAny(rest, " \t")
}

// Complete first argument from list of words.
func wordComplete(words ...string) func(*cmdLine, command.Command) []string {
	return func(line *cmdLine, _ command.Command) []string {
		if !line.firstArgument() {
			return nil
		}
		leading, word := line.lastWord()
		var matches []string
		for _, w := range words {
			if strings.HasPrefix(w, strings.ToLower(word)) {
				matches = append(matches, leading+w+" ")
			}
		}
		return matches
	}
}

// Complete options of device valid for command type.
func optionComplete(cmdType int) func(*cmdLine, command.Command) []string {
	return func(line *cmdLine, device command.Command) []string {
		if device == nil {
			return nil
		}
		return line.scanOptions(device.Options(""), cmdType)
	}
}

// Complete direction then block options.
func blockComplete(line *cmdLine, device command.Command) []string {
	if line.firstArgument() {
		return wordComplete("read", "write")(line, device)
	}
	return line.scanOptions(blockOptions, command.ValidBlock)
}

// Complete last option name, or value of list option.
func (line *cmdLine) scanOptions(opts []command.Options, cmdType int) []string {
	leading, word := line.lastWord()
	word = strings.ToLower(word)
	var matches []string

	if name, value, ok := strings.Cut(word, "="); ok {
		opt := matchOption(name, opts, cmdType)
		if opt.OptionType != command.OptionList {
			return nil
		}
		for _, mod := range opt.OptionList {
			mod = strings.ToLower(mod)
			if strings.HasPrefix(mod, value) {
				matches = append(matches, leading+name+"="+mod+" ")
			}
		}
		return matches
	}

	for _, opt := range opts {
		if (opt.OptionValid&cmdType) == 0 || !strings.HasPrefix(opt.Name, word) {
			continue
		}
		eq := "="
		if opt.OptionType == command.OptionSwitch {
			eq = " "
		}
		matches = append(matches, leading+opt.Name+eq)
	}
	slices.Sort(matches)
	return matches
}
