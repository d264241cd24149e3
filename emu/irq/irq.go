/*
 * PCIe DMA - Completion status and interrupt tracker.
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

package irq

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	DoneFlag uint32 = 0x80000000 // Status bit set on completion
	TagMask  uint32 = 0xff       // Tag bits echoed in status

	LineRead  = 0 // Read channel interrupt line
	LineWrite = 1 // Write channel interrupt line
	MaxLines  = 2
)

// Status latch of one single shot channel.
type Status struct {
	value atomic.Uint32
}

// Clear status at start of new descriptor.
func (s *Status) Clear() {
	s.value.Store(0)
}

// Mark descriptor done with tag.
func (s *Status) Done(tag uint32) {
	s.value.Store(DoneFlag | (tag & TagMask))
}

// Current status, reading does not clear it.
func (s *Status) Load() uint32 {
	return s.value.Load()
}

// Sink receives interrupts for delivery, ie a transport MSI path.
type Sink interface {
	Interrupt(line int)
}

// Tracker gates interrupt lines by the enable mask and wakes waiters.
type Tracker struct {
	enable atomic.Uint32
	count  [MaxLines]atomic.Uint64
	mu     sync.Mutex
	wake   [MaxLines]chan struct{}
	sink   Sink
}

func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.wake {
		t.wake[i] = make(chan struct{})
	}
	return t
}

// Set sink for delivered interrupts, nil to disable.
func (t *Tracker) SetSink(sink Sink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

// Register backing the irq_enable register.
func (t *Tracker) Enable() *atomic.Uint32 {
	return &t.enable
}

// Check if line is armed.
func (t *Tracker) Enabled(line int) bool {
	return line >= 0 && line < MaxLines && t.enable.Load()&(1<<line) != 0
}

// Signal completion on line. Returns true if interrupt was raised.
func (t *Tracker) Signal(line int) bool {
	if !t.Enabled(line) {
		return false
	}
	t.count[line].Add(1)
	t.mu.Lock()
	close(t.wake[line])
	t.wake[line] = make(chan struct{})
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.Interrupt(line)
	}
	return true
}

// Number of interrupts raised on line.
func (t *Tracker) Count(line int) uint64 {
	if line < 0 || line >= MaxLines {
		return 0
	}
	return t.count[line].Load()
}

// Return channel closed on the next interrupt on line.
func (t *Tracker) Next(line int) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wake[line]
}

// Wait for next interrupt on line or context done.
func (t *Tracker) Wait(ctx context.Context, line int) error {
	ch := t.Next(line)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset enable mask and counts.
func (t *Tracker) Reset() {
	t.enable.Store(0)
	for i := range t.count {
		t.count[i].Store(0)
	}
}
