/*
 * S390 - Main storage and storage keys.
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

package memory

import (
	"encoding/binary"
	"sync/atomic"
)

const (
	PageShift        = 12
	PageSize  uint32 = 1 << PageShift // Storage key block size
	PageMask  uint32 = PageSize - 1

	MaxSize uint32 = 0x7fffffff // Largest 31 bit storage

	// Storage key bits.
	KeyAccess  uint8 = 0xf0 // Access control bits
	KeyFetch   uint8 = 0x08 // Fetch protected
	KeyRef     uint8 = 0x04 // Referenced
	KeyChange  uint8 = 0x02 // Changed
	KeyBadFrm  uint8 = 0x01 // Unusable frame
	KeyRefChg  uint8 = KeyRef | KeyChange
)

// Storage holds the emulated main storage image and the storage key of each
// 4K block. Keys are updated with atomic operations since several CPUs and
// channel workers set reference and change bits concurrently.
type Storage struct {
	data []byte
	key  []atomic.Uint32
	size uint32
}

// Create storage of size K bytes.
func New(k int) *Storage {
	s := &Storage{}
	s.SetSize(k)
	return s
}

// Set size in K, rounded up to a full key block.
func (s *Storage) SetSize(k int) {
	size := uint64(k) * 1024
	if size > uint64(MaxSize)+1 {
		size = uint64(MaxSize) + 1
	}
	size = (size + uint64(PageMask)) &^ uint64(PageMask)
	s.data = make([]byte, size)
	s.key = make([]atomic.Uint32, size>>PageShift)
	s.size = uint32(size - 1)
	if size == 0 {
		s.size = 0
	}
}

// Return size of memory in bytes.
func (s *Storage) GetSize() uint32 {
	if len(s.data) == 0 {
		return 0
	}
	return s.size + 1
}

// Return highest valid address.
func (s *Storage) Limit() uint32 {
	return s.size
}

// Check if range of addresses is inside storage.
func (s *Storage) CheckAddr(addr uint32, length uint32) bool {
	if len(s.data) == 0 {
		return false
	}
	if length == 0 {
		return addr <= s.size
	}
	last := uint64(addr) + uint64(length) - 1
	return last <= uint64(s.size)
}

// Return storage key for block containing address.
func (s *Storage) GetKey(addr uint32) uint8 {
	if !s.CheckAddr(addr, 1) {
		return 0
	}
	return uint8(s.key[addr>>PageShift].Load())
}

// Replace the storage key for block containing address.
func (s *Storage) PutKey(addr uint32, key uint8) {
	if s.CheckAddr(addr, 1) {
		s.key[addr>>PageShift].Store(uint32(key))
	}
}

// Or bits into the storage key of the block.
func (s *Storage) OrKey(addr uint32, bits uint8) {
	if !s.CheckAddr(addr, 1) {
		return
	}
	k := &s.key[addr>>PageShift]
	for {
		old := k.Load()
		if old&uint32(bits) == uint32(bits) {
			return
		}
		if k.CompareAndSwap(old, old|uint32(bits)) {
			return
		}
	}
}

// Clear bits from the storage key of the block.
func (s *Storage) AndKey(addr uint32, bits uint8) {
	if !s.CheckAddr(addr, 1) {
		return
	}
	k := &s.key[addr>>PageShift]
	for {
		old := k.Load()
		if k.CompareAndSwap(old, old&uint32(bits)) {
			return
		}
	}
}

// Check if access with key is allowed to block holding addr. Key zero
// matches everything. Store access requires matching key, fetch access only
// fails on fetch protected blocks.
func (s *Storage) CheckKey(addr uint32, key uint8, store bool) bool {
	if key == 0 {
		return true
	}
	sk := s.GetKey(addr)
	if (sk & KeyAccess) == (key & KeyAccess) {
		return true
	}
	if store {
		return false
	}
	return (sk & KeyFetch) == 0
}

// Return slice of storage without range check or reference marking.
func (s *Storage) Bytes(addr uint32, length uint32) []byte {
	return s.data[addr : addr+length]
}

// Get a word from memory, return true if out of range.
func (s *Storage) GetWord(addr uint32) (uint32, bool) {
	if !s.CheckAddr(addr, 4) {
		return 0, true
	}
	s.OrKey(addr, KeyRef)
	return binary.BigEndian.Uint32(s.data[addr:]), false
}

// Get a double word from memory, return true if out of range.
func (s *Storage) GetDouble(addr uint32) (uint64, bool) {
	if !s.CheckAddr(addr, 8) {
		return 0, true
	}
	s.OrKey(addr, KeyRef)
	return binary.BigEndian.Uint64(s.data[addr:]), false
}

// Put a word to memory, return true if out of range.
func (s *Storage) PutWord(addr, data uint32) bool {
	if !s.CheckAddr(addr, 4) {
		return true
	}
	s.OrKey(addr, KeyRefChg)
	binary.BigEndian.PutUint32(s.data[addr:], data)
	return false
}

// Put a double word to memory, return true if out of range.
func (s *Storage) PutDouble(addr uint32, data uint64) bool {
	if !s.CheckAddr(addr, 8) {
		return true
	}
	s.OrKey(addr, KeyRefChg)
	binary.BigEndian.PutUint64(s.data[addr:], data)
	return false
}

// Get a byte from memory.
func (s *Storage) GetByte(addr uint32) (uint8, bool) {
	if !s.CheckAddr(addr, 1) {
		return 0, true
	}
	s.OrKey(addr, KeyRef)
	return s.data[addr], false
}

// Put a byte to memory.
func (s *Storage) PutByte(addr uint32, data uint8) bool {
	if !s.CheckAddr(addr, 1) {
		return true
	}
	s.OrKey(addr, KeyRefChg)
	s.data[addr] = data
	return false
}

// Copy bytes into storage, no key checking.
func (s *Storage) Store(addr uint32, data []byte) bool {
	if !s.CheckAddr(addr, uint32(len(data))) {
		return true
	}
	copy(s.data[addr:], data)
	s.markRange(addr, uint32(len(data)), KeyRefChg)
	return false
}

// Copy bytes out of storage, no key checking.
func (s *Storage) Fetch(addr uint32, data []byte) bool {
	if !s.CheckAddr(addr, uint32(len(data))) {
		return true
	}
	copy(data, s.data[addr:])
	s.markRange(addr, uint32(len(data)), KeyRef)
	return false
}

// Set reference or change bits on every block in the range.
func (s *Storage) markRange(addr, length uint32, bits uint8) {
	if length == 0 {
		return
	}
	last := addr + length - 1
	for blk := addr &^ PageMask; ; blk += PageSize {
		s.OrKey(blk, bits)
		if blk >= (last &^ PageMask) {
			return
		}
	}
}

// Clear all storage and keys.
func (s *Storage) Clear() {
	clear(s.data)
	for i := range s.key {
		s.key[i].Store(0)
	}
}
