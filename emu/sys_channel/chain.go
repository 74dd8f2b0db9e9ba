/*
 * S390 - Channel program interpreter.
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
	"fmt"
	"log/slog"
	"strings"

	dev "github.com/rcornwell/S390css/emu/device"
	"github.com/rcornwell/S390css/util/hex"
)

// Steps of the chain interpreter.
type chainStep int

const (
	stepFetch chainStep = iota
	stepValidate
	stepTransfer
	stepAdvance
	stepSuspended
	stepTerminal
)

// How a chain left the interpreter.
type chainExit int

const (
	exitTerminal chainExit = iota
	exitSuspend
	exitHalt
	exitClear
)

// State of one channel program execution.
type chain struct {
	css      *CSS
	sc       *Subchannel
	dev      dev.Device
	gen      uint32     // Subchannel generation when started
	st       chainState // Continuation state
	cur      ccw        // Current CCW
	ccwAt    uint32     // Address of current CCW
	code     uint8      // Command being executed
	lastTIC  bool       // Previous CCW was a TIC
	backTIC  int        // Backward TIC's without data transfer
	retry    int        // Command retry count
	unit     uint8      // Unit status
	chanStat uint8      // Channel status
	residual uint32     // Residual count
	moved    bool       // Last CCW transferred data
	first    bool       // First CCW has not yet gained control
	exit     chainExit
	sense    []byte
	buf      ioBuffer
	pf       prefetchTable
}

// Pick a request off the run queue and run it.
func (c *CSS) runSubchannel(sc *Subchannel) {
	sc.lock.Lock()
	if !sc.startPend {
		// Cleared while waiting.
		sc.lock.Unlock()
		return
	}
	sc.startPend = false
	if (sc.scsw.Flag2 & FCHalt) != 0 {
		sc.haltDone(false, 0)
		sc.lock.Unlock()
		return
	}

	resume := sc.suspended && (sc.scsw.Flag2&ACResume) != 0
	ch := c.chains.Get().(*chain)
	ch.init(c, sc, resume)
	if resume {
		sc.scsw.Flag2 &^= ACResume
		sc.scsw.Flag3 &^= ACSuspended
		sc.suspended = false
	} else {
		sc.scsw.Flag2 &^= ACStart
	}
	sc.scsw.Flag3 |= ACSchActive | ACDevActive
	sc.busy = true
	sc.lock.Unlock()

	if resume {
		debugSubf(sc, debugSched, "resume at %08x", ch.st.addr)
		sc.dev.Resume()
	} else {
		debugSubf(sc, debugSched, "start at %08x", ch.st.addr)
		sc.dev.StartChain()
	}
	exit := ch.run()
	ch.finish(exit)
	ch.buf.release()
	c.chains.Put(ch)
}

// Set up for a new or resumed chain.
func (ch *chain) init(c *CSS, sc *Subchannel, resume bool) {
	ch.css = c
	ch.sc = sc
	ch.dev = sc.dev
	ch.gen = sc.gen
	if resume {
		ch.st = sc.cont
	} else {
		o := sc.orb
		ch.st = chainState{
			addr:     o.CCWAddr,
			fmt1:     o.Format1(),
			key:      o.Key(),
			idaw2:    o.IDAW2(),
			idaw4k:   o.IDAW4K(),
			midaw:    o.MIDAW(),
			suspOK:   o.Suspend(),
			ilSupp:   o.ILSuppress(),
			initStat: o.InitStatus(),
		}
	}
	ch.first = !resume
	ch.cur = ccw{}
	ch.ccwAt = 0
	ch.code = ch.st.prevCode
	ch.lastTIC = false
	ch.backTIC = 0
	ch.retry = 0
	ch.unit = 0
	ch.chanStat = 0
	ch.residual = 0
	ch.moved = false
	ch.exit = exitTerminal
	ch.sense = nil
	ch.buf.reset(c.cfg.MaxBuffer)
}

// Run channel program until it ends or suspends.
func (ch *chain) run() chainExit {
	step := stepFetch
	for {
		switch step {
		case stepFetch:
			step = ch.fetch()
		case stepValidate:
			step = ch.validate()
		case stepTransfer:
			step = ch.transfer()
		case stepAdvance:
			step = ch.advance()
		case stepSuspended:
			return exitSuspend
		case stepTerminal:
			return ch.exit
		}
	}
}

// Check for halt or clear. Subchannel lock must be held.
func (ch *chain) cancelledLocked() bool {
	switch {
	case ch.gen != ch.sc.gen:
		ch.exit = exitClear
		return true
	case (ch.sc.scsw.Flag2 & FCHalt) != 0:
		ch.exit = exitHalt
		return true
	}
	return false
}

func (ch *chain) cancelled() bool {
	ch.sc.lock.Lock()
	defer ch.sc.lock.Unlock()
	return ch.cancelledLocked()
}

// Address following a CCW.
func (ch *chain) next(addr uint32) uint32 {
	addr += 8
	if !ch.st.fmt1 {
		addr &= 0xffffff
	}
	return addr
}

// Chaining indicator for device.
func (ch *chain) chainFlag() uint8 {
	switch {
	case (ch.st.prevFlags & FlagCD) != 0:
		return dev.ChainData
	case (ch.st.prevFlags & FlagCC) != 0:
		return dev.ChainCmd
	}
	return dev.ChainNone
}

func (ch *chain) fetch() chainStep {
	if ch.cancelled() {
		return stepTerminal
	}
	if st := ch.readCCW(); st != 0 {
		ch.chanStat |= st
		return stepTerminal
	}
	return stepValidate
}

// Read CCW at current address.
func (ch *chain) readCCW() uint8 {
	addr := ch.st.addr
	ch.ccwAt = addr
	ch.st.addr = ch.next(addr)
	if (addr&7) != 0 || (!ch.st.fmt1 && addr > 0xffffff) {
		return ChanPGM
	}
	m := ch.css.mem
	if !m.CheckAddr(addr, 8) {
		return ChanPGM
	}
	if !m.CheckKey(addr, ch.st.key, false) {
		return ChanProt
	}
	w, _ := m.GetDouble(addr)
	ch.cur = decodeCCW(w, ch.st.fmt1)
	debugSubf(ch.sc, debugCmd, "CCW %08x cmd=%02x flags=%02x count=%04x addr=%08x",
		addr, ch.cur.cmd, ch.cur.flags, ch.cur.count, ch.cur.addr)
	return 0
}

// Follow a transfer in channel.
func (ch *chain) tic() uint8 {
	c := ch.cur
	if ch.lastTIC {
		return ChanPGM
	}
	if (c.addr&7) != 0 || (ch.st.fmt1 && (c.addr&0x80000000) != 0) {
		return ChanPGM
	}
	if c.addr <= ch.ccwAt {
		ch.backTIC++
		if ch.backTIC > maxBackTIC {
			slog.Warn("Channel program looping on TIC", "device", fmt.Sprintf("%03x", ch.sc.pmcw.DevNum),
				"address", fmt.Sprintf("%08x", ch.ccwAt))
			return ChanPGM
		}
	}
	ch.lastTIC = true
	ch.st.addr = c.addr
	return 0
}

// Architecture rules for a CCW that is not a TIC.
func (ch *chain) checkCCW(dataChained bool) uint8 {
	c := ch.cur
	if !dataChained && dev.IsInvalid(c.cmd) {
		return ChanPGM
	}
	if ch.st.fmt1 && (c.addr&0x80000000) != 0 {
		return ChanPGM
	}
	if c.count == 0 {
		if !ch.st.fmt1 || (c.flags&FlagCD) != 0 || dataChained {
			return ChanPGM
		}
	}
	if (c.flags & FlagMIDA) != 0 {
		if !ch.st.midaw || !ch.st.fmt1 || (c.flags&(FlagSkip|FlagIDA)) != 0 {
			return ChanPGM
		}
	}
	if (c.flags & FlagSusp) != 0 {
		if !ch.st.suspOK || dataChained {
			return ChanPGM
		}
	}
	return 0
}

func (ch *chain) validate() chainStep {
	c := ch.cur
	dataChained := (ch.st.prevFlags & FlagCD) != 0
	if dev.IsTIC(c.cmd) {
		if st := ch.tic(); st != 0 {
			ch.chanStat |= st
			return stepTerminal
		}
		return stepFetch
	}
	ch.lastTIC = false
	if st := ch.checkCCW(dataChained); st != 0 {
		ch.chanStat |= st
		ch.residual = uint32(c.count)
		return stepTerminal
	}
	if (c.flags & FlagSusp) != 0 {
		if step, stop := ch.suspend(); stop {
			return step
		}
	}

	// CCW now has control.
	if ch.first {
		ch.first = false
		if ch.st.initStat {
			ch.postIntermediate(0, true)
		}
	}
	if (c.flags & FlagPCI) != 0 {
		ch.postIntermediate(ChanPCI, false)
	}
	if !dataChained {
		ch.code = c.cmd
	}
	return stepTransfer
}

// Suspend before current CCW. Returns true if the chain stops here.
func (ch *chain) suspend() (chainStep, bool) {
	sc := ch.sc
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if ch.cancelledLocked() {
		return stepTerminal, true
	}

	// Resume already requested, keep going.
	if (sc.scsw.Flag2 & ACResume) != 0 {
		sc.scsw.Flag2 &^= ACResume
		return stepTransfer, false
	}

	cont := ch.st
	cont.addr = ch.ccwAt
	sc.cont = cont
	sc.suspended = true
	s := &sc.scsw
	s.Flag3 &^= ACSchActive | ACDevActive
	s.Flag3 |= ACSuspended
	s.CCWAddr = ch.next(ch.ccwAt)
	s.Count = ch.cur.count
	if !sc.orb.SuppressInt() {
		s.Flag3 |= SCInter | SCPending
		sc.post(irqNormal)
	}
	debugSubf(sc, debugSched, "suspended at %08x", ch.ccwAt)
	return stepSuspended, true
}

// Post intermediate status for PCI or initial status.
func (ch *chain) postIntermediate(chanBits uint8, zeroCC bool) {
	sc := ch.sc
	sc.lock.Lock()
	defer sc.lock.Unlock()
	if ch.gen != sc.gen {
		return
	}
	p := &sc.pci
	if !p.pending() {
		p.Flag0 = sc.scsw.Flag0
		p.Flag1 = sc.scsw.Flag1
		p.Flag2 = sc.scsw.Flag2 & fcMask
		p.Flag3 = (sc.scsw.Flag3 & ac3Mask) | SCInter | SCPending
		p.Unit = 0
		p.Chan = 0
	}
	p.CCWAddr = ch.st.addr
	p.Count = ch.cur.count
	p.Chan |= chanBits
	if zeroCC {
		p.Flag1 |= scsw1Zero
	}
	sc.post(irqPCI)
}

// Build transfer description for current operation.
func (ch *chain) transferFor(addr, count uint32, flags uint8) transfer {
	return transfer{
		addr:   addr,
		count:  count,
		flags:  flags,
		key:    ch.st.key,
		input:  dev.IsInputCmd(ch.code),
		back:   dev.IsReadBack(ch.code),
		idaw2:  ch.st.idaw2,
		idaw4k: ch.st.idaw4k,
	}
}

func (ch *chain) transfer() chainStep {
	c := ch.cur
	count := uint32(c.count)
	flags := c.flags
	if (ch.st.prevFlags & (FlagCD | FlagSLI)) == (FlagCD | FlagSLI) {
		flags |= FlagSLI
	}
	ch.cur.flags = flags
	t := ch.transferFor(c.addr, count, flags)
	cmd := dev.Command{
		Code:     ch.code,
		Flags:    flags,
		Chained:  ch.chainFlag(),
		Count:    count,
		PrevCode: ch.st.prevCode,
		Seq:      ch.st.seq,
	}

	if !ch.buf.grow(count) {
		ch.chanStat |= ChanCDC
		ch.residual = count
		return stepTerminal
	}
	data := ch.buf.window(0, count)

	if dev.IsOutputCmd(ch.code) {
		if dev.IsWrite(ch.code) && (flags&FlagCD) != 0 {
			return ch.prefetch(cmd)
		}
		if st := ch.css.move(&t, data); st != 0 {
			ch.chanStat |= st
			ch.residual = count
			return stepTerminal
		}
		ch.traceData("write", data)
		res := ch.execute(cmd, data)
		ch.complete(res, count, flags)
		return stepAdvance
	}

	res := ch.execute(cmd, data)
	moved := count - min(res.Residual, count)
	if res.Immediate {
		moved = 0
	}
	if moved != 0 && (flags&FlagSkip) == 0 {
		win := data[:moved]
		if t.back {
			win = data[count-moved:]
		}
		ch.traceData("read", win)
		if st := ch.css.move(&t, win); st != 0 {
			ch.chanStat |= st
			ch.unit = res.Unit
			ch.residual = count - moved
			return stepTerminal
		}
	}
	ch.complete(res, count, flags)
	return stepAdvance
}

// Call device, repeating command while device asks for a retry.
func (ch *chain) execute(cmd dev.Command, data []byte) dev.Result {
	for {
		res := ch.dev.Execute(cmd, data)
		if res.Unit != dev.CStatusRetry {
			ch.retry = 0
			return res
		}
		ch.retry++
		if ch.retry > maxCommandRetry {
			slog.Warn("Device command retry limit reached", "device", fmt.Sprintf("%03x", ch.sc.pmcw.DevNum),
				"command", fmt.Sprintf("%02x", cmd.Code))
			ch.retry = 0
			res.Unit = dev.CStatusEnd | dev.CStatusCheck
			return res
		}
		if ch.cancelled() {
			return dev.Result{Unit: dev.CStatusEnd, Residual: cmd.Count}
		}
		debugSubf(ch.sc, debugDetail, "command %02x retry %d", cmd.Code, ch.retry)
	}
}

// Record device result and decide on incorrect length.
func (ch *chain) complete(res dev.Result, count uint32, flags uint8) {
	ch.unit = res.Unit
	if res.Immediate {
		ch.residual = count
		ch.moved = false
		if count != 0 && ch.st.fmt1 && !ch.st.ilSupp && (flags&FlagSLI) == 0 {
			ch.chanStat |= ChanIL
		}
		return
	}
	ch.residual = min(res.Residual, count)
	ch.moved = ch.residual < count
	il := ch.residual != 0
	if res.More && !il && (flags&FlagCD) == 0 {
		il = true
	}
	if il && (flags&FlagSLI) == 0 {
		ch.chanStat |= ChanIL
	}
	debugSubf(ch.sc, debugDetail, "command %02x unit=%02x chan=%02x residual=%d",
		ch.code, ch.unit, ch.chanStat, ch.residual)
}

// Decide if chaining continues.
func (ch *chain) advance() chainStep {
	if ch.moved {
		ch.backTIC = 0
	}
	if ch.chanStat != 0 {
		return stepTerminal
	}
	unit := ch.unit
	if (unit & (dev.CStatusAttn | dev.CStatusCheck | dev.CStatusExpt | dev.CStatusBusy)) != 0 {
		return stepTerminal
	}
	flags := ch.cur.flags
	if (flags & FlagCD) != 0 {
		if (unit & dev.CStatusChnEnd) != 0 {
			return stepTerminal
		}
		ch.chainTo(flags)
		return stepFetch
	}
	if (flags&FlagCC) != 0 && (unit&dev.CStatusEnd) == dev.CStatusEnd {
		// Status modifier skips one CCW.
		if (unit & dev.CStatusSMS) != 0 {
			ch.st.addr = ch.next(ch.st.addr)
		}
		ch.chainTo(flags)
		return stepFetch
	}
	return stepTerminal
}

func (ch *chain) chainTo(flags uint8) {
	ch.st.prevFlags = flags
	ch.st.prevCode = ch.code
	ch.st.seq++
	ch.unit = 0
	ch.residual = 0
}

// Post final status or hand suspended chain back.
func (ch *chain) finish(exit chainExit) {
	sc := ch.sc
	if exit == exitSuspend {
		ch.dev.Suspend()
		sc.lock.Lock()
		sc.busy = false
		resubmit := false
		if sc.suspended && (sc.scsw.Flag2&ACResume) != 0 && !sc.startPend {
			sc.startPend = true
			resubmit = true
		}
		sc.lock.Unlock()
		if resubmit {
			sc.submit(true)
		}
		return
	}

	if exit == exitTerminal && (ch.unit&dev.CStatusCheck) != 0 {
		ch.sense = ch.dev.Sense()
	}
	ch.dev.EndChain()

	sc.lock.Lock()
	defer sc.lock.Unlock()
	sc.busy = false
	if ch.gen != sc.gen {
		debugSubf(sc, debugSched, "chain ended by clear")
		return
	}
	if (sc.scsw.Flag2 & FCHalt) != 0 {
		sc.scsw.CCWAddr = ch.st.addr
		sc.scsw.Count = uint16(ch.residual)
		sc.haltDone(true, dev.CStatusEnd)
		debugSubf(sc, debugSched, "chain ended by halt")
		return
	}
	ch.endStatus()
}

// Build primary status. Lock must be held.
func (ch *chain) endStatus() {
	sc := ch.sc
	s := &sc.scsw
	s.Flag2 &^= ac2Mask
	s.Flag3 &^= ac3Mask | SCInter
	bits := SCPrimary | SCPending
	if (ch.unit & dev.CStatusDevEnd) != 0 {
		bits |= SCSecond
	}
	if (ch.chanStat&^ChanPCI) != 0 ||
		(ch.unit&(dev.CStatusAttn|dev.CStatusCheck|dev.CStatusExpt|dev.CStatusBusy)) != 0 {
		bits |= SCAlert
	}
	s.Flag3 |= bits
	s.CCWAddr = ch.st.addr
	s.Unit |= ch.unit
	s.Chan = ch.chanStat
	s.Count = uint16(ch.residual)

	// Fold a waiting PCI into the final status.
	if sc.pci.pending() {
		s.Chan |= sc.pci.Chan & ChanPCI
		sc.pci.reset()
		sc.unpost(irqPCI)
	}

	sc.esw = ESW{LPUM: 0x80}
	sc.ecw = [32]byte{}
	if len(ch.sense) != 0 {
		copy(sc.ecw[:], ch.sense)
		sc.esw.ERW |= erwSense
	}
	debugSubf(sc, debugCmd, "end unit=%02x chan=%02x count=%04x ccw=%08x", s.Unit, s.Chan, s.Count, s.CCWAddr)
	sc.post(irqNormal)
}

// Dump data to debug file.
func (ch *chain) traceData(what string, data []byte) {
	if (debugMsk & debugData) == 0 {
		return
	}
	var str strings.Builder
	hex.FormatBytes(&str, true, data[:min(len(data), 32)])
	debugSubf(ch.sc, debugData, "%s %d bytes: %s", what, len(data), str.String())
}
