/*
 * PCIe DMA - Command parser test cases.
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
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	command "github.com/qby123456/verilog-pcie/command/command"
	core "github.com/qby123456/verilog-pcie/emu/core"
	"github.com/qby123456/verilog-pcie/emu/dma"
	"github.com/qby123456/verilog-pcie/emu/master"
)

func TestGetWord(t *testing.T) {
	tests := []struct {
		line   string
		equal  bool
		result string
	}{
		{"hello world", false, "hello"},
		{"  Mixed", false, "mixed"},
		{"abc=1", false, ""},
		{"abc=1", true, "abc"},
		{"rd_blk_len ", false, "rd_blk_len"},
		{"1abc", false, ""},
		{"word# comment", false, "word"},
		{"", false, ""},
	}
	for _, test := range tests {
		line := cmdLine{line: test.line}
		result := line.getWord(test.equal)
		if result != test.result {
			t.Errorf("getWord(%q) got: %q expected: %q", test.line, result, test.result)
		}
	}
}

func TestGetNumbers(t *testing.T) {
	hexTests := []struct {
		line   string
		value  uint64
		hasErr bool
	}{
		{"100000000", 0x100000000, false},
		{" 0xAA", 0xaa, false},
		{"ffffffffffffffff", ^uint64(0), false},
		{"12g", 0, true},
		{"", 0, true},
	}
	for _, test := range hexTests {
		line := cmdLine{line: test.line}
		value, err := line.getHex()
		if (err != nil) != test.hasErr {
			t.Errorf("getHex(%q) error got: %v", test.line, err)
		}
		if value != test.value {
			t.Errorf("getHex(%q) got: %x expected: %x", test.line, value, test.value)
		}
	}

	numTests := []struct {
		line   string
		value  uint64
		hasErr bool
	}{
		{"256", 256, false},
		{"0x20", 0x20, false},
		{"12a", 0, true},
	}
	for _, test := range numTests {
		line := cmdLine{line: test.line}
		value, err := line.getNumber()
		if (err != nil) != test.hasErr {
			t.Errorf("getNumber(%q) error got: %v", test.line, err)
		}
		if value != test.value {
			t.Errorf("getNumber(%q) got: %d expected: %d", test.line, value, test.value)
		}
	}
}

func TestParseQuoteString(t *testing.T) {
	tests := []struct {
		line   string
		result string
		ok     bool
	}{
		{"file.yaml rest", "file.yaml", true},
		{`"my file.yaml"`, "my file.yaml", true},
		{`"say ""hi"""`, `say "hi"`, true},
		{`"open`, "open", false},
		{"", "", false},
	}
	for _, test := range tests {
		line := cmdLine{line: test.line}
		result, ok := line.parseQuoteString()
		if result != test.result || ok != test.ok {
			t.Errorf("parseQuoteString(%q) got: %q %v expected: %q %v", test.line, result, ok,
				test.result, test.ok)
		}
	}
}

func TestGetRange(t *testing.T) {
	tests := []struct {
		line          string
		start, length uint64
	}{
		{"100", 0x100, 0x40},
		{"100:10", 0x100, 0x10},
		{"100-1ff", 0x100, 0x100},
	}
	for _, test := range tests {
		line := cmdLine{line: test.line}
		start, length, err := line.getRange(0x40)
		if err != nil {
			t.Errorf("getRange(%q) error: %v", test.line, err)
		}
		if start != test.start || length != test.length {
			t.Errorf("getRange(%q) got: %x:%x expected: %x:%x", test.line, start, length,
				test.start, test.length)
		}
	}
	line := cmdLine{line: "200-100"}
	if _, _, err := line.getRange(0x40); err == nil {
		t.Errorf("getRange backwards range did not fail")
	}
}

func TestGetOptions(t *testing.T) {
	line := cmdLine{line: "dmabase=100000000 len=256 count=0x20 nowait # comment"}
	opts, err := line.getOptions(blockOptions, command.ValidBlock)
	require.NoError(t, err)
	require.Len(t, opts, 4)
	assert.Equal(t, command.CmdOption{Name: "dmabase", Value: 0x100000000}, *opts[0])
	assert.Equal(t, uint64(256), opts[1].Value)
	assert.Equal(t, uint64(32), opts[2].Value)
	assert.Equal(t, "nowait", opts[3].Name)

	for _, text := range []string{"len", "nowait=1", "bogus=1", "dmabase=xyz", "count=ten", "=5"} {
		line := cmdLine{line: text}
		_, err := line.getOptions(blockOptions, command.ValidBlock)
		assert.Error(t, err, text)
	}
}

func TestMatchList(t *testing.T) {
	tests := map[string]string{
		"r": "read", "re": "read", "res": "reset", "ru": "run", "b": "block",
		"sh": "show", "dm": "dma", "du": "dump", "quit": "quit",
	}
	for abbrev, name := range tests {
		match := matchList(abbrev)
		if len(match) != 1 || match[0].Name != name {
			t.Errorf("matchList(%q) got: %v expected: %s", abbrev, match, name)
		}
	}
	for _, abbrev := range []string{"s", "d", "q", "readx", ""} {
		if match := matchList(abbrev); len(match) == 1 {
			t.Errorf("matchList(%q) matched: %s", abbrev, match[0].Name)
		}
	}
}

func startCore(t *testing.T) (*core.Core, *bytes.Buffer) {
	t.Helper()
	c, err := core.NewCore(core.Settings{HostSize: 1 << 20, RAMSize: 1 << 20}, make(chan master.Packet))
	require.NoError(t, err)
	go c.Start()
	t.Cleanup(c.Stop)

	var out bytes.Buffer
	saved := Output
	Output = &out
	t.Cleanup(func() { Output = saved })
	return c, &out
}

func console(t *testing.T, c *core.Core, out *bytes.Buffer, line string) string {
	t.Helper()
	out.Reset()
	quit, err := ProcessCommand(line, c)
	require.NoError(t, err, line)
	assert.False(t, quit, line)
	return out.String()
}

func TestConsoleSession(t *testing.T) {
	c, out := startCore(t)

	console(t, c, out, "write dma_enable 1")
	console(t, c, out, "fill host 100000000:400")
	assert.Contains(t, console(t, c, out, "dma read 100000000 100 400 aa"), "read status 800000aa")
	assert.Contains(t, console(t, c, out, "dump ram 100:10"),
		"0000000000000100: 00 01 02 03 04 05 06 07 08 09 0a 0b 0c 0d 0e 0f")
	assert.Equal(t, "rd_status 0118: 800000aa\n", console(t, c, out, "read rd_status"))
	assert.Equal(t, "unmapped 0ffc: 00000000\n", console(t, c, out, "r ffc"))

	console(t, c, out, "dma write 100002000 0 4 1")
	got, _ := c.Host.Peek(0x100002000, 4)
	assert.Equal(t, []byte{0, 0, 0, 0}, got)
	console(t, c, out, "fill ram 0-1fff 5a")
	assert.Contains(t, console(t, c, out,
		"block write dmabase=100004000 dmamask=1fff dmastride=100 rammask=1fff ramstride=100 len=256 count=32"),
		"write block cycles 32")
	got, _ = c.Host.Peek(0x100005ffc, 4)
	assert.Equal(t, []byte{0x5a, 0x5a, 0x5a, 0x5a}, got)

	console(t, c, out, "set policy=queue depth=4")
	console(t, c, out, "unset immediate")
	assert.Contains(t, console(t, c, out, "show settings"), "policy queue depth 4 immediate false")
	assert.False(t, c.Channel(dma.Write).Options().Immediate)
	assert.Contains(t, console(t, c, out, "irq 3"), "enable 3 read 0 write 0")
	assert.Contains(t, console(t, c, out, "show regs"), "wr_blk_count_lo")

	console(t, c, out, "reset")
	assert.Zero(t, c.Port().Read(dma.RegEnable))

	quit, err := ProcessCommand("quit", c)
	assert.NoError(t, err)
	assert.True(t, quit)
	quit, err = ProcessCommand("   # only a comment", c)
	assert.NoError(t, err)
	assert.False(t, quit)
}

func TestConsoleErrors(t *testing.T) {
	c, _ := startCore(t)
	console(t, c, &bytes.Buffer{}, "write dma_enable 1")
	for _, line := range []string{
		"nope",
		"s policy=queue",
		"read",
		"read 102",
		"write nothing 1",
		"write dma_enable 100000000",
		"dump rom 0",
		"dump host 0:10",
		"fill ram 0:10 100",
		"dma sideways 0 0 0 0",
		"dma read 100000000 0 10",
		"block read dmamask=1ffe len=16 count=1",
		"block read len",
		"set",
		"show cpu",
		"irq 4",
		"run",
		"reset now",
		"1234",
	} {
		_, err := ProcessCommand(line, c)
		assert.Error(t, err, line)
	}
}

func TestCompleteCmd(t *testing.T) {
	c, err := core.NewCore(core.Settings{RAMSize: 4096}, nil)
	require.NoError(t, err)

	tests := []struct {
		line   string
		result []string
	}{
		{"s", []string{"set ", "show "}},
		{"re", []string{"read ", "reset "}},
		{"show s", []string{"show settings ", "show state ", "show stats "}},
		{"set policy=q", []string{"set policy=queue "}},
		{"set de", []string{"set depth="}},
		{"block r", []string{"block read "}},
		{"block read dmab", []string{"block read dmabase="}},
		{"block write len=10 no", []string{"block write len=10 nowait "}},
		{"dump h", []string{"dump host "}},
		{"dma read 100", nil},
		{"quit now", nil},
	}
	for _, test := range tests {
		result := CompleteCmd(test.line, c)
		if !slices.Equal(result, test.result) {
			t.Errorf("CompleteCmd(%q) got: %q expected: %q", test.line, result, test.result)
		}
	}
	assert.Len(t, CompleteCmd("", c), len(cmdList))
	assert.Nil(t, CompleteCmd("show ", nil))
}
