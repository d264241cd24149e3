/*
 * PCIe DMA - Command parser.
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
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	command "github.com/qby123456/verilog-pcie/command/command"
	core "github.com/qby123456/verilog-pcie/emu/core"
	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/memory"
)

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Process  func(*cmdLine, *core.Core) (bool, error)
	Complete func(*cmdLine, command.Command) []string
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// Where command output goes.
var Output io.Writer = os.Stdout

// Execute the command line given.
func ProcessCommand(commandLine string, core *core.Core) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord(false)
	if command == "" {
		if !line.isEOL() {
			return false, errors.New("command not found: " + strings.TrimSpace(commandLine))
		}
		return false, nil
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, core)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	return strings.HasPrefix(match.Name, command) && len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	if command == "" {
		return []cmd{}
	}

	var match []cmd
	for _, m := range cmdList {
		if m.Name == command {
			return []cmd{m}
		}
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Match list of options.
func matchOption(option string, optList []command.Options, cmdType int) command.Options {
	for _, opt := range optList {
		if (opt.OptionValid & cmdType) == 0 {
			continue
		}
		if opt.Name == option {
			return opt
		}
	}
	return command.Options{OptionType: -1}
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Check if at end of line or whitespace.
func (line *cmdLine) isSeparator() bool {
	return line.isEOL() || unicode.IsSpace(rune(line.line[line.pos]))
}

// Return current character and advance to next.
func (line *cmdLine) getCurrent() byte {
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	line.pos++
	return by
}

// Peek at current character.
func (line *cmdLine) peek() byte {
	if line.isEOL() {
		return 0
	}
	return line.line[line.pos]
}

// Parse string that is "string" or just string.
func (line *cmdLine) parseQuoteString() (string, bool) {
	line.skipSpace()
	if line.isEOL() {
		return "", false
	}

	value := ""
	if line.peek() != '"' {
		for !line.isSeparator() {
			value += string(line.getCurrent())
		}
		return value, true
	}

	// Quoted string, "" gets replaced by single quote.
	line.pos++
	for line.pos < len(line.line) {
		by := line.line[line.pos]
		line.pos++
		if by == '"' {
			if line.pos < len(line.line) && line.line[line.pos] == '"' {
				line.pos++
			} else {
				return value, true
			}
		}
		value += string(by)
	}
	return value, false
}

// Collect characters up to next separator.
func (line *cmdLine) getToken() string {
	line.skipSpace()
	start := line.pos
	for !line.isSeparator() {
		line.pos++
	}
	return line.line[start:line.pos]
}

// Parse a decimal number, or hex with 0x prefix.
func (line *cmdLine) getNumber() (uint64, error) {
	pos := line.pos
	token := line.getToken()
	value, err := strconv.ParseUint(token, 0, 64)
	if err != nil {
		line.pos = pos
		return 0, errors.New("not a number: " + token)
	}
	return value, nil
}

// Parse hex number, 0x prefix is optional.
func (line *cmdLine) getHex() (uint64, error) {
	pos := line.pos
	token := line.getToken()
	digits := strings.TrimPrefix(strings.ToLower(token), "0x")
	value, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		line.pos = pos
		return 0, errors.New("not a hex number: " + token)
	}
	return value, nil
}

// Parse a name of letters, digits and underscores starting with a letter.
// With equal set the name may be followed by =.
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()
	start := line.pos
	for !line.isEOL() {
		by := rune(line.line[line.pos])
		if unicode.IsLetter(by) || (line.pos > start && (unicode.IsDigit(by) || by == '_')) {
			line.pos++
			continue
		}
		break
	}
	if !line.isSeparator() && !(equal && line.peek() == '=') {
		line.pos = start
		return ""
	}
	return strings.ToLower(line.line[start:line.pos])
}

// Get an option.
func (line *cmdLine) getOption(opts []command.Options, cmdType int) (*command.CmdOption, error) {
	name := line.getWord(true)
	if name == "" {
		if line.isEOL() {
			return nil, nil
		}
		return nil, errors.New("invalid option: " + line.getToken())
	}

	opt := command.CmdOption{Name: name}
	match := matchOption(name, opts, cmdType)
	if match.OptionType == -1 {
		return nil, errors.New("unknown option: " + name)
	}

	if match.OptionType == command.OptionSwitch {
		if line.peek() == '=' {
			return nil, errors.New("switch option can't have arguments: " + name)
		}
		return &opt, nil
	}

	if line.getCurrent() != '=' {
		return nil, errors.New("option must be followed by =value: " + name)
	}
	switch match.OptionType {
	case command.OptionFile:
		file, ok := line.parseQuoteString()
		if !ok || file == "" {
			return nil, errors.New("file name not valid: " + name)
		}
		opt.EqualOpt = file
	case command.OptionNumber:
		num, err := line.getNumber()
		if err != nil {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		opt.Value = num
	case command.OptionHex:
		num, err := line.getHex()
		if err != nil {
			return nil, errors.New("hex options must be followed by hexadecimal number: " + name)
		}
		opt.Value = num
	case command.OptionList:
		value := line.getWord(false)
		for _, mod := range match.OptionList {
			if strings.ToLower(mod) == value {
				opt.EqualOpt = value
				return &opt, nil
			}
		}
		return nil, errors.New("option not valid for " + name + ": " + value)
	default:
		return nil, errors.New("invalid option type: " + name)
	}
	return &opt, nil
}

// Scan options and return a list of options.
func (line *cmdLine) getOptions(opts []command.Options, cmdType int) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	for {
		opt, err := line.getOption(opts, cmdType)
		if err != nil {
			return optlist, err
		}
		if opt == nil {
			break
		}
		optlist = append(optlist, opt)
	}
	return optlist, nil
}

// Get channel direction.
func (line *cmdLine) getDirection() (dma.Direction, error) {
	name := line.getWord(false)
	if name == "" {
		return dma.Read, errors.New("channel must be read or write")
	}
	return dma.ParseDirection(name)
}

// Get memory region by name.
func (line *cmdLine) getRegion(core *core.Core) (*memory.Region, error) {
	switch line.getWord(false) {
	case "host":
		return core.Host, nil
	case "ram":
		return core.RAM, nil
	}
	return nil, errors.New("memory must be host or ram")
}

// Get register by name or hex address.
func (line *cmdLine) getRegister(core *core.Core) (uint32, error) {
	pos := line.pos
	if name := line.getWord(false); name != "" {
		if addr, ok := core.Regs.Lookup(name); ok {
			return addr, nil
		}
		line.pos = pos
	}
	addr, err := line.getHex()
	if err != nil {
		return 0, errors.New("register must be name or address")
	}
	if addr > 0xffff || addr&3 != 0 {
		return 0, errors.New("register address not valid")
	}
	return uint32(addr), nil
}

// Get address range, <addr>, <addr>-<end> or <addr>:<len>.
func (line *cmdLine) getRange(defLen uint64) (uint64, uint64, error) {
	line.skipSpace()
	token := line.getToken()
	length := defLen
	var err error
	if lo, hi, ok := strings.Cut(token, "-"); ok {
		var start, end uint64
		if start, err = parseHex(lo); err == nil {
			if end, err = parseHex(hi); err == nil && end < start {
				err = errors.New("range end before start")
			}
		}
		return start, end - start + 1, err
	}
	if lo, n, ok := strings.Cut(token, ":"); ok {
		token = lo
		if length, err = parseHex(n); err != nil {
			return 0, 0, err
		}
	}
	start, err := parseHex(token)
	return start, length, err
}

func parseHex(text string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(text), "0x"), 16, 64)
	if err != nil {
		return 0, errors.New("not a hex number: " + text)
	}
	return value, nil
}
