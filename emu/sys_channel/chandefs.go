/*
 * S390 - Channel subsystem definitions.
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

import "encoding/binary"

const (
	MaxChan    = 16     // Max number of channel paths
	MaxSubchan = 0x4000 // Max number of subchannels

	sidMask  uint32 = 0xffff0000 // Subchannel id, must be 0x0001xxxx
	sidValue uint32 = 0x00010000

	// Condition codes.
	CC0 uint8 = 0
	CC1 uint8 = 1
	CC2 uint8 = 2
	CC3 uint8 = 3

	// ORB word 1.
	orbKey    uint32 = 0xf0000000 // Protection key
	orbSusp   uint32 = 0x08000000 // Suspend control
	orbStream uint32 = 0x04000000 // Streaming mode
	orbModify uint32 = 0x02000000 // Modification control
	orbSync   uint32 = 0x01000000 // Synchronize control
	orbFmt1   uint32 = 0x00800000 // Format 1 CCW's
	orbPref   uint32 = 0x00400000 // Prefetch allowed
	orbInit   uint32 = 0x00200000 // Initial status interrupt
	orbAddrL  uint32 = 0x00100000 // Address limit checking
	orbSuppr  uint32 = 0x00080000 // Suppress suspended interrupt
	orbBuf    uint32 = 0x00040000 // Channel program type
	orbIDAW2  uint32 = 0x00020000 // Format 2 IDAW's
	orbIDAW4K uint32 = 0x00010000 // 4K IDAW blocks
	orbLPM    uint32 = 0x0000ff00 // Logical path mask
	orbILSupp uint32 = 0x00000080 // Incorrect length suppression mode
	orbMIDAW  uint32 = 0x00000040 // MIDAW's allowed
	orbExt    uint32 = 0x00000001 // ORB extension
	orbRsvd   uint32 = 0x0000003e // Must be zero

	// SCSW flag 0.
	scsw0Key  uint8 = 0xf0 // Key
	scsw0Susp uint8 = 0x08 // Suspend control
	scsw0ESWF uint8 = 0x04 // ESW format
	scsw0CC   uint8 = 0x03 // Deferred condition code

	// SCSW flag 1.
	scsw1Fmt1  uint8 = 0x80 // Format 1 CCW
	scsw1Pref  uint8 = 0x40 // Prefetch
	scsw1Init  uint8 = 0x20 // Initial status interrupt
	scsw1AddrL uint8 = 0x10 // Address limit checking
	scsw1Suppr uint8 = 0x08 // Suppress suspended interrupt
	scsw1Zero  uint8 = 0x04 // Zero condition code
	scsw1Ext   uint8 = 0x02 // Extended control
	scsw1NotOp uint8 = 0x01 // Path not operational

	// SCSW flag 2 function control.
	FCStart  uint8 = 0x40 // Start function
	FCHalt   uint8 = 0x20 // Halt function
	FCClear  uint8 = 0x10 // Clear function
	fcMask   uint8 = 0x70
	ACResume uint8 = 0x08 // Resume pending
	ACStart  uint8 = 0x04 // Start pending
	ACHalt   uint8 = 0x02 // Halt pending
	ACClear  uint8 = 0x01 // Clear pending
	ac2Mask  uint8 = 0x0f

	// SCSW flag 3 activity control.
	ACSchActive uint8 = 0x80 // Subchannel active
	ACDevActive uint8 = 0x40 // Device active
	ACSuspended uint8 = 0x20 // Suspended
	ac3Mask     uint8 = 0xe0

	// SCSW flag 3 status control.
	SCAlert   uint8 = 0x10 // Alert status
	SCInter   uint8 = 0x08 // Intermediate status
	SCPrimary uint8 = 0x04 // Primary status
	SCSecond  uint8 = 0x02 // Secondary status
	SCPending uint8 = 0x01 // Status pending
	scMask    uint8 = 0x1f

	// Channel status.
	ChanPCI  uint8 = 0x80 // Program controlled interrupt
	ChanIL   uint8 = 0x40 // Incorrect length
	ChanPGM  uint8 = 0x20 // Program check
	ChanProt uint8 = 0x10 // Protection check
	ChanCDC  uint8 = 0x08 // Channel data check
	ChanCCC  uint8 = 0x04 // Channel control check
	ChanICC  uint8 = 0x02 // Interface control check
	ChanCHC  uint8 = 0x01 // Chaining check

	// CCW flags.
	FlagCD   uint8 = 0x80 // Chain data
	FlagCC   uint8 = 0x40 // Chain command
	FlagSLI  uint8 = 0x20 // Suppress length indicator
	FlagSkip uint8 = 0x10 // Suppress data transfer
	FlagPCI  uint8 = 0x08 // Program controlled interrupt
	FlagIDA  uint8 = 0x04 // Indirect data addressing
	FlagSusp uint8 = 0x02 // Suspend
	FlagMIDA uint8 = 0x01 // Modified indirect data addressing

	// MIDAW flags.
	midawLast uint8 = 0x80 // Last MIDAW in list
	midawSkip uint8 = 0x40 // Skip data transfer
	midawDTI  uint8 = 0x20 // Data transfer interrupt

	// PMCW flags.
	pmcwISC   uint16 = 0x3800 // Interrupt subclass
	pmcwEnab  uint16 = 0x0080 // Enabled
	pmcwLimit uint16 = 0x0060 // Limit mode
	pmcwMeas  uint16 = 0x0018 // Measurement mode
	pmcwMult  uint16 = 0x0004 // Multipath mode
	pmcwTimng uint16 = 0x0002 // Timing facility
	pmcwValid uint16 = 0x0001 // Device number valid

	// ESW extended report word.
	erwSense uint8 = 0x01 // Sense data stored in ECW

	maxBackTIC      = 255 // Consecutive backward TIC's allowed
	maxCommandRetry = 255 // Times device may request command retry
)

// Operation request block.
type ORB struct {
	IntParm uint32 // Interruption parameter
	Flags   uint32 // Key and control flags
	CCWAddr uint32 // Channel program address
}

func (o ORB) Key() uint8        { return uint8((o.Flags & orbKey) >> 24) }
func (o ORB) Suspend() bool     { return (o.Flags & orbSusp) != 0 }
func (o ORB) Format1() bool     { return (o.Flags & orbFmt1) != 0 }
func (o ORB) Prefetch() bool    { return (o.Flags & orbPref) != 0 }
func (o ORB) InitStatus() bool  { return (o.Flags & orbInit) != 0 }
func (o ORB) SuppressInt() bool { return (o.Flags & orbSuppr) != 0 }
func (o ORB) IDAW2() bool       { return (o.Flags & orbIDAW2) != 0 }
func (o ORB) IDAW4K() bool      { return (o.Flags & orbIDAW4K) != 0 }
func (o ORB) ILSuppress() bool  { return (o.Flags & orbILSupp) != 0 }
func (o ORB) MIDAW() bool       { return (o.Flags & orbMIDAW) != 0 }

// Check ORB for reserved bits.
func (o ORB) validate() error {
	if (o.Flags & (orbRsvd | orbExt)) != 0 {
		return ErrInvalidORB
	}
	if (o.CCWAddr & 0x80000007) != 0 {
		return ErrInvalidORB
	}
	return nil
}

// Decode ORB from 12 bytes of storage.
func DecodeORB(b []byte) ORB {
	return ORB{
		IntParm: binary.BigEndian.Uint32(b[0:]),
		Flags:   binary.BigEndian.Uint32(b[4:]),
		CCWAddr: binary.BigEndian.Uint32(b[8:]),
	}
}

// Subchannel status word.
type SCSW struct {
	Flag0   uint8  // Key, suspend control, deferred cc
	Flag1   uint8  // Format, prefetch, initial status ...
	Flag2   uint8  // Function control and activity control
	Flag3   uint8  // Activity control and status control
	CCWAddr uint32 // Address of next CCW
	Unit    uint8  // Device status
	Chan    uint8  // Subchannel status
	Count   uint16 // Residual count
}

// Status control bits.
func (s SCSW) sc() uint8 { return s.Flag3 & scMask }

// Check if status pending.
func (s SCSW) pending() bool { return (s.Flag3 & SCPending) != 0 }

// Return function control bits.
func (s SCSW) fc() uint8 { return s.Flag2 & fcMask }

// Clear everything.
func (s *SCSW) reset() { *s = SCSW{} }

// Return word encoding.
func (s SCSW) Bytes() []byte {
	b := make([]byte, 12)
	s.put(b)
	return b
}

func (s SCSW) put(b []byte) {
	b[0] = s.Flag0
	b[1] = s.Flag1
	b[2] = s.Flag2
	b[3] = s.Flag3
	binary.BigEndian.PutUint32(b[4:], s.CCWAddr)
	b[8] = s.Unit
	b[9] = s.Chan
	binary.BigEndian.PutUint16(b[10:], s.Count)
}

// Extended status word, format 0.
type ESW struct {
	SCL    uint32 // Subchannel logout
	ERW    uint8  // Extended report word flags
	LPUM   uint8  // Last path used mask
	Failed uint64 // Failing storage address
	SAddr  uint32 // Secondary CCW address
}

// Interruption response block.
type IRB struct {
	SCSW SCSW
	ESW  ESW
	ECW  [32]byte // Extended control word, sense data
}

// Return 64 byte encoding of IRB.
func (irb IRB) Bytes() []byte {
	b := make([]byte, 64)
	irb.SCSW.put(b)
	binary.BigEndian.PutUint32(b[12:], irb.ESW.SCL)
	b[16] = irb.ESW.ERW
	b[17] = irb.ESW.LPUM
	binary.BigEndian.PutUint64(b[20:], irb.ESW.Failed)
	binary.BigEndian.PutUint32(b[28:], irb.ESW.SAddr)
	copy(b[32:], irb.ECW[:])
	return b
}

// Path management control word.
type PMCW struct {
	IntParm uint32 // Interruption parameter
	Flags   uint16 // ISC, enabled, valid ...
	DevNum  uint16 // Device number
	LPM     uint8  // Logical path mask
	PNOM    uint8  // Path not operational mask
	LPUM    uint8  // Last path used mask
	PIM     uint8  // Path installed mask
	PAM     uint8  // Path available mask
	POM     uint8  // Path operational mask
	CHPID   [8]uint8
}

func (p PMCW) ISC() uint8      { return uint8((p.Flags & pmcwISC) >> 11) }
func (p PMCW) Enabled() bool   { return (p.Flags & pmcwEnab) != 0 }
func (p PMCW) Valid() bool     { return (p.Flags & pmcwValid) != 0 }
func (p *PMCW) SetISC(i uint8) { p.Flags = (p.Flags &^ pmcwISC) | (uint16(i&7) << 11) }

func (p *PMCW) SetEnabled(on bool) {
	if on {
		p.Flags |= pmcwEnab
	} else {
		p.Flags &^= pmcwEnab
	}
}

// Subchannel information block.
type SCHIB struct {
	PMCW PMCW
	SCSW SCSW
}

// Channel status word for TEST I/O.
type CSW struct {
	Key     uint8  // Protection key
	CCWAddr uint32 // Address of next CCW
	Unit    uint8  // Unit status
	Chan    uint8  // Channel status
	Count   uint16 // Residual count
}

// Return 8 byte encoding of CSW.
func (c CSW) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:], (uint32(c.Key)<<24)|(c.CCWAddr&0xffffff))
	b[4] = c.Unit
	b[5] = c.Chan
	binary.BigEndian.PutUint16(b[6:], c.Count)
	return b
}

// Interruption code presented to a CPU.
type Interruption struct {
	SID     uint32 // Subchannel id
	IntParm uint32 // Interruption parameter
	ISC     uint8  // Interrupt subclass
	DevNum  uint16 // Device number
	Fast    bool   // PCI delivered without TEST SUBCHANNEL
	SCSW    SCSW   // Status taken by fast PCI delivery
}

// One channel command word.
type ccw struct {
	cmd   uint8
	flags uint8
	count uint16
	addr  uint32
}

// Decode CCW in either format.
func decodeCCW(w uint64, fmt1 bool) ccw {
	if fmt1 {
		return ccw{
			cmd:   uint8(w >> 56),
			flags: uint8(w >> 48),
			count: uint16(w >> 32),
			addr:  uint32(w),
		}
	}
	return ccw{
		cmd:   uint8(w >> 56),
		addr:  uint32(w>>32) & 0xffffff,
		flags: uint8(w >> 24),
		count: uint16(w),
	}
}

// Encode CCW, used to build channel programs.
func EncodeCCW(cmd, flags uint8, count uint16, addr uint32, fmt1 bool) uint64 {
	if fmt1 {
		return (uint64(cmd) << 56) | (uint64(flags) << 48) | (uint64(count) << 32) | uint64(addr)
	}
	return (uint64(cmd) << 56) | (uint64(addr&0xffffff) << 32) | (uint64(flags) << 24) | uint64(count)
}
