/*
 * S390 - Channel subsystem control instructions.
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
	dev "github.com/rcornwell/S390css/emu/device"
)

// Subchannel exists and is operational. Lock must be held.
func (sc *Subchannel) operational() bool {
	return sc.pmcw.Valid() && sc.pmcw.Enabled()
}

// Requeue any status still pending but no longer queued. Lock must be held.
func (sc *Subchannel) repost() {
	words := [irqKinds]*SCSW{&sc.scsw, &sc.pci, &sc.attn}
	for kind, s := range words {
		if s.pending() && !sc.css.iq.queued(&sc.irq[kind]) {
			sc.post(kind)
		}
	}
}

// Status queued while waiting for TEST SUBCHANNEL can go to a CPU
// now. Lock must be held.
func (sc *Subchannel) wakeHeld() {
	for i := range sc.irq {
		if sc.css.iq.queued(&sc.irq[i]) {
			sc.css.signalCPUs(sc.pmcw.ISC())
			return
		}
	}
}

// Start subchannel.
func (c *CSS) StartSubchannel(sid uint32, orb ORB) (uint8, error) {
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, err
	}
	if err := orb.validate(); err != nil {
		return 0, err
	}
	if sc == nil {
		return CC3, nil
	}

	sc.lock.Lock()
	if !sc.operational() {
		sc.lock.Unlock()
		return CC3, nil
	}
	if sc.anyPending() {
		sc.lock.Unlock()
		return CC1, nil
	}
	if sc.busy || sc.startPend || sc.suspended || sc.scsw.fc() != 0 {
		sc.lock.Unlock()
		return CC2, nil
	}

	sc.orb = orb
	sc.scsw.reset()
	sc.pci.reset()
	sc.esw = ESW{}
	s := &sc.scsw
	s.Flag0 = orb.Key() & scsw0Key
	if orb.Suspend() {
		s.Flag0 |= scsw0Susp
	}
	if orb.Format1() {
		s.Flag1 |= scsw1Fmt1
	}
	if orb.Prefetch() {
		s.Flag1 |= scsw1Pref
	}
	if orb.InitStatus() {
		s.Flag1 |= scsw1Init
	}
	if (orb.Flags & orbAddrL) != 0 {
		s.Flag1 |= scsw1AddrL
	}
	if orb.SuppressInt() {
		s.Flag1 |= scsw1Suppr
	}
	s.Flag2 = FCStart | ACStart
	s.CCWAddr = orb.CCWAddr
	sc.pmcw.IntParm = orb.IntParm
	sc.tschPend.Store(false)
	sc.gen++
	sc.startPend = true
	debugSubf(sc, debugCmd, "start ccw=%08x key=%02x flags=%08x", orb.CCWAddr, orb.Key(), orb.Flags)
	sc.lock.Unlock()

	sc.submit(false)
	return CC0, nil
}

// Test subchannel, return interrupt response block.
func (c *CSS) TestSubchannel(sid uint32) (uint8, IRB, error) {
	var irb IRB
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, irb, err
	}
	if sc == nil {
		return CC3, irb, nil
	}

	sc.lock.Lock()
	defer sc.lock.Unlock()
	if !sc.pmcw.Valid() {
		return CC3, irb, nil
	}
	switch {
	case sc.scsw.pending():
		irb.SCSW = sc.scsw
		irb.ESW = sc.esw
		irb.ECW = sc.ecw
		if sc.pci.pending() {
			irb.SCSW.Chan |= sc.pci.Chan & ChanPCI
			sc.pci.reset()
			sc.unpost(irqPCI)
		}
		sc.unpost(irqNormal)
		clearStatus(&sc.scsw)
		if !sc.scsw.pending() {
			sc.esw = ESW{}
			sc.ecw = [32]byte{}
		}
	case sc.pci.pending():
		irb.SCSW = sc.pci
		sc.pci.reset()
		sc.unpost(irqPCI)
	case sc.attn.pending():
		irb.SCSW = sc.attn
		sc.attn.reset()
		sc.unpost(irqAttn)
	default:
		irb.SCSW = sc.scsw
		if sc.tschPend.Swap(false) {
			sc.wakeHeld()
		}
		return CC1, irb, nil
	}
	held := sc.tschPend.Swap(false)
	sc.repost()
	if held {
		sc.wakeHeld()
	}
	debugSubf(sc, debugIRQ, "test subchannel unit=%02x chan=%02x flags=%02x", irb.SCSW.Unit,
		irb.SCSW.Chan, irb.SCSW.Flag3)
	return CC0, irb, nil
}

// Halt subchannel.
func (c *CSS) HaltSubchannel(sid uint32) (uint8, error) {
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return CC3, nil
	}

	sc.lock.Lock()
	if !sc.operational() {
		sc.lock.Unlock()
		return CC3, nil
	}
	if sc.pci.pending() || sc.attn.pending() ||
		(sc.scsw.pending() && sc.scsw.sc() != (SCInter|SCPending)) {
		sc.lock.Unlock()
		return CC1, nil
	}
	if (sc.scsw.Flag2 & (FCHalt | FCClear)) != 0 {
		sc.lock.Unlock()
		return CC2, nil
	}
	s := &sc.scsw
	s.Flag2 |= FCHalt | ACHalt
	if s.pending() {
		// Intermediate status is replaced by halt status.
		s.Flag3 &^= scMask
		sc.unpost(irqNormal)
	}
	debugSubf(sc, debugCmd, "halt subchannel")

	if sc.startPend {
		sc.lock.Unlock()
		removed := c.pool.Remove(sc)
		sc.lock.Lock()
		if removed && sc.startPend {
			sc.startPend = false
			sc.haltDone(false, 0)
		}
		sc.lock.Unlock()
		return CC0, nil
	}

	if sc.suspended || !sc.busy {
		sc.haltDone(false, 0)
		sc.lock.Unlock()
		return CC0, nil
	}

	// Running, worker posts status when device stops.
	sc.lock.Unlock()
	sc.dev.Halt()
	return CC0, nil
}

// Clear subchannel.
func (c *CSS) ClearSubchannel(sid uint32) (uint8, error) {
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return CC3, nil
	}

	sc.lock.Lock()
	if !sc.operational() {
		sc.lock.Unlock()
		return CC3, nil
	}
	queued := sc.startPend
	running := sc.busy && !sc.suspended
	sc.resetStatus()
	sc.scsw.Flag2 = FCClear
	sc.scsw.Flag3 = SCPending
	sc.post(irqNormal)
	debugSubf(sc, debugCmd, "clear subchannel")
	sc.lock.Unlock()

	if queued {
		c.pool.Remove(sc)
	}
	if running {
		sc.dev.Halt()
	}
	return CC0, nil
}

// Resume subchannel.
func (c *CSS) ResumeSubchannel(sid uint32) (uint8, error) {
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return CC3, nil
	}

	sc.lock.Lock()
	if !sc.operational() {
		sc.lock.Unlock()
		return CC3, nil
	}
	if sc.anyPending() {
		sc.lock.Unlock()
		return CC1, nil
	}
	if sc.scsw.fc() != FCStart || !sc.orb.Suspend() || (sc.scsw.Flag2&ACResume) != 0 {
		sc.lock.Unlock()
		return CC2, nil
	}
	submit := sc.resumeLocked()
	debugSubf(sc, debugCmd, "resume subchannel")
	sc.lock.Unlock()

	if submit {
		sc.submit(true)
	}
	return CC0, nil
}

// Cancel a start that has not yet begun.
func (c *CSS) CancelSubchannel(sid uint32) (uint8, error) {
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return CC3, nil
	}

	sc.lock.Lock()
	defer sc.lock.Unlock()
	if !sc.operational() {
		return CC3, nil
	}
	if sc.anyPending() {
		return CC1, nil
	}
	if sc.scsw.fc() != FCStart {
		return CC2, nil
	}
	if !sc.suspended && (!sc.startPend || (sc.scsw.Flag2&ACStart) == 0) {
		return CC2, nil
	}
	if sc.startPend {
		gen := sc.gen
		sc.lock.Unlock()
		removed := c.pool.Remove(sc)
		sc.lock.Lock()
		if !removed || gen != sc.gen {
			return CC2, nil
		}
		sc.startPend = false
	}
	sc.scsw.Flag2 &^= fcMask | ac2Mask
	sc.scsw.Flag3 &^= ac3Mask
	sc.suspended = false
	debugSubf(sc, debugCmd, "cancel subchannel")
	return CC0, nil
}

// Store channel id.
func (c *CSS) StoreChannelID(chpid uint8) (uint8, uint32) {
	var id uint32
	switch c.ChannelType(chpid) {
	case dev.TypeSel:
		id = 0x0 << 28
	case dev.TypeMux:
		id = 0x1 << 28
	case dev.TypeBMux:
		id = 0x2 << 28
	default:
		return CC3, 0
	}
	return CC0, id | 0x03900000
}

// Test channel path.
func (c *CSS) TestChannel(chpid uint8) uint8 {
	ty := c.ChannelType(chpid)
	if ty == dev.TypeDis || ty == dev.TypeUNA {
		return CC3
	}
	busy := false
	for _, sc := range c.subs {
		if sc.chpid != chpid {
			continue
		}
		if sc.irqFlags.Load() != 0 {
			return CC1
		}
		if ty == dev.TypeSel {
			sc.lock.Lock()
			if sc.busy {
				busy = true
			}
			sc.lock.Unlock()
		}
	}
	if busy {
		return CC2
	}
	return CC0
}

// Legacy test I/O, returns channel status word when status was pending.
func (c *CSS) TestIO(devNum uint16) (uint8, CSW) {
	var csw CSW
	sc, ok := c.byDev[devNum]
	if !ok {
		return CC3, csw
	}

	sc.lock.Lock()
	defer sc.lock.Unlock()
	if !sc.pmcw.Valid() {
		return CC3, csw
	}
	switch {
	case sc.scsw.pending():
		s := &sc.scsw
		csw = CSW{Key: s.Flag0 & scsw0Key, CCWAddr: s.CCWAddr, Unit: s.Unit, Chan: s.Chan, Count: s.Count}
		if sc.pci.pending() {
			csw.Chan |= sc.pci.Chan & ChanPCI
			sc.pci.reset()
			sc.unpost(irqPCI)
		}
		sc.unpost(irqNormal)
		clearStatus(s)
	case sc.attn.pending():
		csw = CSW{Unit: sc.attn.Unit}
		sc.attn.reset()
		sc.unpost(irqAttn)
	default:
		if sc.busy || sc.startPend {
			return CC2, csw
		}
		return CC0, csw
	}
	sc.tschPend.Store(false)
	sc.repost()
	return CC1, csw
}

// Unsolicited status from device.
func (c *CSS) DeviceAttention(devNum uint16, unit uint8) uint8 {
	sc, ok := c.byDev[devNum]
	if !ok {
		return CC3
	}

	sc.lock.Lock()
	if !sc.operational() {
		sc.lock.Unlock()
		return CC3
	}
	if sc.suspended {
		sc.scsw.Unit |= unit
		submit := sc.resumeLocked()
		debugSubf(sc, debugIRQ, "attention %02x resumes subchannel", unit)
		sc.lock.Unlock()
		if submit {
			sc.submit(true)
		}
		sc.dev.Attention(unit)
		return CC0
	}
	if sc.busy || sc.startPend || sc.anyPending() {
		sc.lock.Unlock()
		return CC1
	}
	sc.attn = SCSW{Flag3: SCAlert | SCPending, Unit: unit}
	sc.post(irqAttn)
	debugSubf(sc, debugIRQ, "attention %02x", unit)
	sc.lock.Unlock()
	sc.dev.Attention(unit)
	return CC0
}

// Modify subchannel.
func (c *CSS) ModifySubchannel(sid uint32, p PMCW) (uint8, error) {
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, err
	}
	if (p.Flags &^ (pmcwISC | pmcwEnab | pmcwLimit | pmcwMeas | pmcwMult | pmcwTimng | pmcwValid)) != 0 {
		return 0, ErrInvalidPMCW
	}
	if sc == nil {
		return CC3, nil
	}

	sc.lock.Lock()
	defer sc.lock.Unlock()
	if !sc.pmcw.Valid() {
		return CC3, nil
	}
	if sc.anyPending() {
		return CC1, nil
	}
	if sc.busy || sc.startPend || sc.scsw.fc() != 0 {
		return CC2, nil
	}
	sc.pmcw.IntParm = p.IntParm
	sc.pmcw.Flags = (sc.pmcw.Flags &^ (pmcwISC | pmcwEnab)) | (p.Flags & (pmcwISC | pmcwEnab))
	sc.pmcw.LPM = p.LPM
	debugSubf(sc, debugCmd, "modify isc=%d enabled=%v", sc.pmcw.ISC(), sc.pmcw.Enabled())
	return CC0, nil
}

// Store subchannel information block.
func (c *CSS) StoreSubchannel(sid uint32) (uint8, SCHIB, error) {
	var schib SCHIB
	sc, err := c.lookup(sid)
	if err != nil {
		return 0, schib, err
	}
	if sc == nil {
		return CC3, schib, nil
	}
	sc.lock.Lock()
	defer sc.lock.Unlock()
	schib.PMCW = sc.pmcw
	schib.SCSW = sc.scsw
	return CC0, schib, nil
}

// Reset all subchannels and devices.
func (c *CSS) Reset() {
	for _, sc := range c.subs {
		sc.lock.Lock()
		queued := sc.startPend
		running := sc.busy && !sc.suspended
		sc.powerOn()
		sc.lock.Unlock()
		if queued {
			c.pool.Remove(sc)
		}
		if running {
			sc.dev.Halt()
		}
		sc.dev.InitDev()
	}
}
