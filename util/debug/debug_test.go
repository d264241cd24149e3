/*
 * PCIe DMA - Debug trace test cases.
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

package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugf(t *testing.T) {
	var out strings.Builder
	SetOutput(&out)
	defer SetOutput(nil)

	Debugf("DMA read", 0x1, 0x2, "not shown %d", 1)
	Debugf("DMA read", 0x3, 0x2, "shown %d", 2)
	if out.String() != "DMA read: shown 2\n" {
		t.Errorf("Debug output got: '%s' expected: '%s'", out.String(), "DMA read: shown 2\n")
	}

	SetOutput(nil)
	Debugf("DMA read", 0x3, 0x2, "no file")
}

func TestCreate(t *testing.T) {
	name := filepath.Join(t.TempDir(), "trace.log")
	if err := create(name, nil); err != nil {
		t.Fatalf("Unable to create debug file: %v", err)
	}
	if err := create(name, nil); err == nil {
		t.Errorf("Second debug file allowed")
	}
	Debugf("IRQ", 1, 1, "line %d", 0)
	if err := Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("Unable to read debug file: %v", err)
	}
	if string(data) != "IRQ: line 0\n" {
		t.Errorf("Debug file got: '%s' expected: '%s'", string(data), "IRQ: line 0\n")
	}
}
