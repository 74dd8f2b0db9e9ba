/*
 * S390 - Channel transfer buffer.
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

package syschannel

import (
	"log/slog"

	mem "github.com/rcornwell/S390css/emu/memory"
)

const (
	ioBufInline             = 64 * 1024        // Buffer that is always present
	DefaultMaxBuffer uint32 = 16 * 1024 * 1024 // Largest buffer growth allowed
)

// Transfer buffer for one chain execution. The inline part is reused, any
// growth beyond it is heap allocated and dropped when the chain ends.
type ioBuffer struct {
	inline [ioBufInline]byte
	data   []byte
	max    uint32
}

// Prepare buffer for a new chain.
func (b *ioBuffer) reset(max uint32) {
	if max < ioBufInline {
		max = ioBufInline
	}
	b.data = b.inline[:]
	b.max = max
}

// Release any grown buffer.
func (b *ioBuffer) release() {
	b.data = nil
}

// Make sure buffer holds at least n bytes, keeping current contents.
// Returns false if n is larger then allowed.
func (b *ioBuffer) grow(n uint32) bool {
	if b.data == nil {
		slog.Error("Transfer buffer used before reset")
		panic("syschannel: transfer buffer used before reset")
	}
	if n <= uint32(len(b.data)) {
		return true
	}
	if n > b.max {
		return false
	}
	size := (n + mem.PageMask) &^ mem.PageMask
	if size > b.max {
		size = b.max
	}
	nb := make([]byte, size)
	copy(nb, b.data)
	b.data = nb
	return true
}

// Return window of buffer.
func (b *ioBuffer) window(off, n uint32) []byte {
	return b.data[off : off+n]
}

// Current size of buffer.
func (b *ioBuffer) size() uint32 {
	return uint32(len(b.data))
}
