/*
 * PCIe DMA - Configuration file parser.
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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// List of options to pass to create routine.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Value of option.
}

// Current option line being parsed.
type optionLine struct {
	line   string // Current option line.
	pos    int    // Current position in line.
	number int    // Line number in file.
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <keyword> [<whitespace> <value>] *(<whitespace> <option>)
 * <keyword> := <string>
 * <value> ::= <string> | <number>[<K|M|G>] | <quoteopt>
 * <option> ::= <name> ['=' <quoteopt>] *(',' *(<whitespace>) <string>)
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number>)
 */

const (
	TypeOption  = 1 + iota // Accepts a single value.
	TypeOptions            // Accepts a value and list of options.
	TypeSwitch             // Keyword only used to set a flag.
	TypeFile               // Accepts a file name.
)

// Keyword handler.
type keywordDef struct {
	create func(string, []Option) error
	ty     int
}

var keywords = map[string]keywordDef{}

// Return type of keyword or 0 if not registered.
func getType(key string) int {
	def, ok := keywords[key]
	if !ok {
		return 0
	}
	return def.ty
}

func register(key string, ty int, fn func(string, []Option) error) {
	key = strings.ToUpper(key)
	slog.Debug("Registering config keyword: " + key)
	keywords[key] = keywordDef{create: fn, ty: ty}
}

// Register should be called from init functions.
func RegisterOption(key string, fn func(string, []Option) error) {
	register(key, TypeOption, fn)
}

// Register should be called from init functions.
func RegisterOptions(key string, fn func(string, []Option) error) {
	register(key, TypeOptions, fn)
}

// Register should be called from init functions.
func RegisterSwitch(key string, fn func(string, []Option) error) {
	register(key, TypeSwitch, fn)
}

// Register should be called from init functions.
func RegisterFile(key string, fn func(string, []Option) error) {
	register(key, TypeFile, fn)
}

// Run keyword handler.
func create(key string, ty int, value string, options []Option) error {
	key = strings.ToUpper(key)
	def, ok := keywords[key]
	if !ok {
		return errors.New("unknown keyword: " + key)
	}
	if def.ty != ty {
		return fmt.Errorf("keyword %s used as wrong type", key)
	}
	return def.create(value, options)
}

// Load in a configuration file.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return LoadConfig(file)
}

// Load configuration from reader.
func LoadConfig(in io.Reader) error {
	number := 0
	reader := bufio.NewReader(in)
	for {
		var err error

		line := optionLine{}
		line.line, err = reader.ReadString('\n')
		number++
		line.number = number
		if len(line.line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		line.line = strings.TrimRight(line.line, "\r\n")
		if perr := line.parseLine(); perr != nil {
			return perr
		}
		if err != nil {
			break
		}
	}
	return nil
}

// Parse one line from file.
func (line *optionLine) parseLine() error {
	key := line.parseKeyword()
	if key == "" {
		return nil
	}
	switch getType(key) {
	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if !line.isEOL() || first == "" {
			return fmt.Errorf("option: %s not followed by single value, line: %d", key, line.number)
		}
		return create(key, TypeOption, first, nil)

	case TypeOptions:
		first := line.parseFirst()
		if first == "" {
			return fmt.Errorf("option: %s not followed by value, line: %d", key, line.number)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return create(key, TypeOptions, first, options)

	case TypeFile:
		name, ok := line.parseFileName()
		if !ok || name == "" {
			return fmt.Errorf("option: %s requires file name, line: %d", key, line.number)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return create(key, TypeFile, name, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch option: %s followed by options, line: %d", key, line.number)
		}
		return create(key, TypeSwitch, "", nil)
	}
	return fmt.Errorf("no type: %s registered, line: %d", key, line.number)
}

// Skip forward over line until none whitespace character found.
func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return next letter or digit in line. 0 if EOL or space.
func (line *optionLine) getNext(inQuote bool) byte {
	line.pos++
	if line.pos >= len(line.line) || (!inQuote && line.isEOL()) {
		return 0
	}
	by := line.line[line.pos]
	if unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by)) || inQuote {
		return by
	}
	return 0
}

// Peek at next character.
func (line *optionLine) getPeek() byte {
	if (line.pos + 1) >= len(line.line) {
		return 0
	}
	return line.line[line.pos+1]
}

// Collect letters and digits at current position.
func (line *optionLine) getWord() string {
	value := ""
	for !line.isEOL() {
		by := line.line[line.pos]
		if !unicode.IsLetter(rune(by)) && !unicode.IsNumber(rune(by)) {
			break
		}
		value += string([]byte{by})
		line.pos++
	}
	return value
}

// Parse keyword at start of line.
func (line *optionLine) parseKeyword() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}
	return strings.ToUpper(line.getWord())
}

// Parse first option parameter.
func (line *optionLine) parseFirst() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}
	return line.getWord()
}

// Parse file name, either quoted or up to next space.
func (line *optionLine) parseFileName() (string, bool) {
	line.skipSpace()
	if line.isEOL() {
		return "", false
	}
	if line.line[line.pos] == '"' {
		// parseQuoteString expects to sit just before the quote.
		line.pos--
		return line.parseQuoteString()
	}
	value := ""
	for !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
		value += string([]byte{line.line[line.pos]})
		line.pos++
	}
	return value, true
}

// Parse string that is "string" or just string.
func (line *optionLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	// If quote, set we are in quoted string
	if line.getPeek() == '"' {
		inQuote = true
		line.pos++
	}

	for {
		by := line.getNext(inQuote)
		// If processing a quoted string "" gets replaced by signal quote
		if by == '"' && inQuote {
			if line.getPeek() != '"' {
				// Hit end of string.
				line.pos++
				return value, true
			}
			line.pos++
		}

		// Space or comma terminates a no quoted string.
		if !inQuote && (by == 0 || unicode.IsSpace(rune(by)) || by == ',') {
			return value, true
		}
		if by == 0 && line.pos >= len(line.line) {
			return value, false
		}

		value += string(by)
	}
}

// Parse option name.
func (line *optionLine) getName() (string, error) {
	if line.isEOL() {
		return "", nil
	}

	// First character must be alphabetic.
	if !unicode.IsLetter(rune(line.line[line.pos])) {
		return "", fmt.Errorf("invalid option encountered line: %d [%d]", line.number, line.pos)
	}
	return line.getWord(), nil
}

// Parse options for a line.
func (line *optionLine) parseOption() (*Option, error) {
	line.skipSpace()

	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	option := Option{Name: value}

	if line.isEOL() {
		return &option, nil
	}

	// Check if equals option.
	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string line: %d [%d]", line.number, line.pos)
		}
		option.EqualOpt = v
	}

	line.skipSpace()

	// Grab all , options
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		line.skipSpace()
	}

	return &option, nil
}

// Collect all options for line.
func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}

// Convert size with optional K, M or G suffix to bytes.
func ParseSize(value string) (uint64, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	shift := 0
	switch {
	case strings.HasSuffix(value, "K"):
		shift = 10
	case strings.HasSuffix(value, "M"):
		shift = 20
	case strings.HasSuffix(value, "G"):
		shift = 30
	}
	if shift != 0 {
		value = value[:len(value)-1]
	}
	size, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %s", value)
	}
	if size > (^uint64(0))>>shift {
		return 0, fmt.Errorf("size too large: %s", value)
	}
	return size << shift, nil
}

// Check option switch value ON or OFF.
func ParseOnOff(value string) (bool, error) {
	switch strings.ToUpper(value) {
	case "ON", "YES", "TRUE", "1":
		return true, nil
	case "OFF", "NO", "FALSE", "0":
		return false, nil
	}
	return false, errors.New("expected ON or OFF: " + value)
}
