/*
 * S390 - Subchannel state.
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
	"sync"
	"sync/atomic"

	dev "github.com/rcornwell/S390css/emu/device"
	"github.com/rcornwell/S390css/emu/scheduler"
)

// Continuation state of a channel program, saved on suspend.
type chainState struct {
	addr      uint32 // Next CCW address
	fmt1      bool   // Format 1 CCW's
	key       uint8  // Storage key
	idaw2     bool   // Format 2 IDAW's
	idaw4k    bool   // 4K IDAW blocks
	midaw     bool   // MIDAW's allowed
	suspOK    bool   // Suspend flag allowed
	ilSupp    bool   // Incorrect length suppression mode
	initStat  bool   // Initial status interrupt requested
	prevCode  uint8  // Command of previous CCW
	prevFlags uint8  // Flags of previous CCW
	seq       int    // CCW sequence number
}

// Holds individual subchannel control information.
type Subchannel struct {
	lock      sync.Mutex
	css       *CSS
	num       uint16        // Subchannel number
	chpid     uint8         // Channel path
	dev       dev.Device    // Device handler
	pmcw      PMCW          // Path management
	scsw      SCSW          // Normal status
	pci       SCSW          // PCI and initial status
	attn      SCSW          // Unsolicited attention status
	esw       ESW           // Extended status
	ecw       [32]byte      // Sense data
	orb       ORB           // Current request
	priority  int           // Scheduling priority
	isc       uint8         // Configured interrupt subclass
	busy      bool          // Chain running on a worker
	startPend bool          // Waiting on run queue
	suspended bool          // Chain suspended
	tschPend  atomic.Bool   // Interrupt presented, wait for TEST SUBCHANNEL
	gen       uint32        // Bumped on each start and clear
	cont      chainState    // Checkpoint for resume
	link      scheduler.Link
	irq       [irqKinds]irqLink
	irqFlags  atomic.Uint32 // Mirror of queued interrupt kinds
}

func newSubchannel(css *CSS, num uint16, devNum uint16, d dev.Device, isc uint8, prio int) *Subchannel {
	sc := &Subchannel{
		css:      css,
		num:      num,
		chpid:    uint8((devNum >> 8) & 0xf),
		dev:      d,
		isc:      isc & 7,
		priority: prio,
	}
	sc.pmcw.DevNum = devNum
	for i := range sc.irq {
		sc.irq[i].sc = sc
		sc.irq[i].kind = i
	}
	sc.powerOn()
	return sc
}

// Run queue hooks.
func (sc *Subchannel) RunLink() *scheduler.Link { return &sc.link }
func (sc *Subchannel) Execute()                 { sc.css.runSubchannel(sc) }

// Subchannel id as placed in general register 1.
func (sc *Subchannel) SID() uint32 {
	return sidValue | uint32(sc.num)
}

// Device number of subchannel.
func (sc *Subchannel) DevNum() uint16 {
	return sc.pmcw.DevNum
}

// Reset to power on state. Lock must be held.
func (sc *Subchannel) powerOn() {
	devNum := sc.pmcw.DevNum
	sc.pmcw = PMCW{DevNum: devNum, Flags: pmcwValid, LPM: 0x80, PIM: 0x80, PAM: 0x80, POM: 0xff}
	sc.pmcw.CHPID[0] = sc.chpid
	sc.pmcw.SetISC(sc.isc)
	sc.resetStatus()
}

// Clear all status and interrupts. Lock must be held.
func (sc *Subchannel) resetStatus() {
	for i := range sc.irq {
		sc.unpost(i)
	}
	sc.scsw.reset()
	sc.pci.reset()
	sc.attn.reset()
	sc.esw = ESW{}
	sc.ecw = [32]byte{}
	sc.suspended = false
	sc.startPend = false
	sc.tschPend.Store(false)
	sc.gen++
}

// Check if any status word is pending. Lock must be held.
func (sc *Subchannel) anyPending() bool {
	return sc.scsw.pending() || sc.pci.pending() || sc.attn.pending()
}

// Queue interrupt for kind of status word. Lock must be held.
func (sc *Subchannel) post(kind int) {
	if sc.css.iq.enqueue(&sc.irq[kind], sc.priority, sc.pmcw.ISC()) {
		debugSubf(sc, debugIRQ, "queue %s interrupt", irqNames[kind])
		sc.css.signalCPUs(sc.pmcw.ISC())
	}
}

// Remove interrupt of kind. Lock must be held.
func (sc *Subchannel) unpost(kind int) {
	sc.css.iq.dequeue(&sc.irq[kind])
}

// Build status after halt function completed. Lock must be held.
func (sc *Subchannel) haltDone(active bool, unit uint8) {
	s := &sc.scsw
	s.Flag2 &^= ac2Mask
	s.Flag3 &^= ac3Mask | scMask
	if active {
		s.Flag3 |= SCPrimary | SCSecond | SCPending
		s.Unit = unit
	} else {
		s.Flag3 |= SCPending
	}
	sc.suspended = false
	sc.post(irqNormal)
}

// Place subchannel back on run queue to resume. Lock must be held, returns
// true if caller should submit it after releasing lock.
func (sc *Subchannel) resumeLocked() bool {
	sc.scsw.Flag2 |= ACResume
	if sc.busy || sc.startPend || !sc.suspended {
		return false
	}
	sc.startPend = true
	return true
}

// Put subchannel on run queue, lock must not be held.
func (sc *Subchannel) submit(resume bool) {
	if sc.css.pool.Submit(sc, sc.priority, resume) {
		debugSubf(sc, debugSched, "scheduled resume=%v", resume)
		return
	}
	// Pool has been shut down, nothing will run this request.
	sc.lock.Lock()
	sc.startPend = false
	sc.lock.Unlock()
}

// Apply TEST SUBCHANNEL clearing rules to status word. Lock must be held.
func clearStatus(s *SCSW) {
	sc := s.sc()
	switch {
	case (sc & (SCAlert | SCPrimary)) != 0,
		sc == SCPending,
		sc == (SCSecond | SCPending):
		s.Flag2 &^= fcMask | ac2Mask
		s.Flag3 &^= ac3Mask | scMask
		s.Unit = 0
		s.Chan = 0
		s.Count = 0
	case (sc & SCInter) != 0:
		s.Flag3 &^= scMask
		s.Chan &^= ChanPCI
	default:
		s.Flag3 &^= scMask
	}
}
