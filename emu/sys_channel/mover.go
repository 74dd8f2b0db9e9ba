/*
 * S390 - Channel data mover.
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
	mem "github.com/rcornwell/S390css/emu/memory"
)

// Description of one data movement.
type transfer struct {
	addr   uint32 // Data address, IDAL or MIDAL address
	count  uint32 // CCW count
	flags  uint8  // CCW flags
	key    uint8  // Storage key
	input  bool   // Data goes into storage
	back   bool   // Read backward
	idaw2  bool   // Format 2 IDAW's
	idaw4k bool   // 4K IDAW blocks
}

// Move buf to or from storage. For backward transfers the storage address
// is the highest byte and buf is filled from its end. Returns channel status.
func (c *CSS) move(t *transfer, buf []byte) uint8 {
	if len(buf) == 0 {
		return 0
	}
	switch {
	case (t.flags & FlagMIDA) != 0:
		return c.moveMIDAW(t, buf)
	case (t.flags & FlagIDA) != 0:
		return c.moveIDAW(t, buf)
	default:
		return c.moveDirect(t, t.addr, buf)
	}
}

// Copy one piece that does not cross a key block.
func (c *CSS) copyChunk(t *transfer, addr uint32, data []byte) uint8 {
	n := uint32(len(data))
	if !c.mem.CheckAddr(addr, n) {
		return ChanPGM
	}
	if !c.mem.CheckKey(addr, t.key, t.input) {
		return ChanProt
	}
	if c.chunkHook != nil {
		c.chunkHook(addr, n)
	}
	if t.input {
		c.mem.Store(addr, data)
	} else {
		c.mem.Fetch(addr, data)
	}
	return 0
}

// Contiguous storage, split at each key block.
func (c *CSS) moveDirect(t *transfer, addr uint32, buf []byte) uint8 {
	if t.back {
		end := uint32(len(buf))
		for end > 0 {
			chunk := min(end, (addr&mem.PageMask)+1)
			low := addr - chunk + 1
			if st := c.copyChunk(t, low, buf[end-chunk:end]); st != 0 {
				return st
			}
			end -= chunk
			addr = low - 1
		}
		return 0
	}

	pos := uint32(0)
	rem := uint32(len(buf))
	for rem > 0 {
		chunk := min(rem, mem.PageSize-(addr&mem.PageMask))
		if st := c.copyChunk(t, addr, buf[pos:pos+chunk]); st != 0 {
			return st
		}
		pos += chunk
		rem -= chunk
		addr += chunk
	}
	return 0
}

// Indirect data address list, one block per IDAW.
func (c *CSS) moveIDAW(t *transfer, buf []byte) uint8 {
	size := uint32(4)
	block := uint32(0x800)
	if t.idaw2 {
		size = 8
		if t.idaw4k {
			block = 0x1000
		}
	}

	list := t.addr
	if (list & (size - 1)) != 0 {
		return ChanPGM
	}
	rem := uint32(len(buf))
	pos := uint32(0)
	end := rem
	first := true
	for rem > 0 {
		if !c.mem.CheckAddr(list, size) {
			return ChanPGM
		}
		if !c.mem.CheckKey(list, t.key, false) {
			return ChanProt
		}
		var daddr uint64
		if t.idaw2 {
			daddr, _ = c.mem.GetDouble(list)
		} else {
			w, _ := c.mem.GetWord(list)
			if (w & 0x80000000) != 0 {
				return ChanPGM
			}
			daddr = uint64(w)
		}
		list += size
		if daddr > uint64(c.mem.Limit()) {
			return ChanPGM
		}
		addr := uint32(daddr)
		off := addr & (block - 1)

		var chunk uint32
		if t.back {
			// Later IDAW's must point at end of a block.
			if !first && off != block-1 {
				return ChanPGM
			}
			chunk = min(rem, off+1)
			if st := c.copyChunk(t, addr-chunk+1, buf[end-chunk:end]); st != 0 {
				return st
			}
			end -= chunk
		} else {
			if !first && off != 0 {
				return ChanPGM
			}
			chunk = min(rem, block-off)
			if st := c.copyChunk(t, addr, buf[pos:pos+chunk]); st != 0 {
				return st
			}
			pos += chunk
		}
		rem -= chunk
		first = false
	}
	return 0
}

// Modified indirect data address list.
func (c *CSS) moveMIDAW(t *transfer, buf []byte) uint8 {
	list := t.addr
	if (list & 0xf) != 0 {
		return ChanPGM
	}
	rem := uint32(len(buf))
	ccwRem := t.count
	pos := uint32(0)
	end := rem
	for rem > 0 {
		if !c.mem.CheckAddr(list, 16) {
			return ChanPGM
		}
		if !c.mem.CheckKey(list, t.key, false) {
			return ChanProt
		}
		w0, _ := c.mem.GetDouble(list)
		daddr, _ := c.mem.GetDouble(list + 8)
		list += 16

		flags := uint8(w0 >> 16)
		count := uint32(uint16(w0))
		if (w0&0xffffffffff000000) != 0 || (flags&^(midawLast|midawSkip|midawDTI)) != 0 {
			return ChanPGM
		}
		if count == 0 || count > ccwRem {
			return ChanPGM
		}
		if daddr > uint64(c.mem.Limit()) {
			return ChanPGM
		}
		addr := uint32(daddr)

		// Area may not cross a block.
		if t.back {
			if (addr&mem.PageMask)+1 < count {
				return ChanPGM
			}
		} else if (addr&mem.PageMask)+count > mem.PageSize {
			return ChanPGM
		}

		chunk := min(rem, count)
		if (flags & midawSkip) != 0 {
			if !t.input {
				return ChanPGM
			}
		} else if t.back {
			if st := c.copyChunk(t, addr-chunk+1, buf[end-chunk:end]); st != 0 {
				return st
			}
		} else if st := c.copyChunk(t, addr, buf[pos:pos+chunk]); st != 0 {
			return st
		}
		if t.back {
			end -= chunk
		} else {
			pos += chunk
		}
		rem -= chunk
		ccwRem -= count
		if (flags & midawLast) != 0 {
			break
		}
	}
	if rem > 0 {
		return ChanPGM
	}
	return 0
}
