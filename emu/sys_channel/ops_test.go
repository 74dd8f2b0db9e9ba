/*
 * S390 - Subchannel instruction test set.
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
	"testing"
	"time"

	dev "github.com/rcornwell/S390css/emu/device"
	"github.com/rcornwell/S390css/emu/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Configuration with a single worker.
func oneWorker() Config {
	cfg := DefaultConfig
	cfg.Pool = scheduler.Config{Max: 1, MinIdle: 1, IdleTimeout: time.Second}
	return cfg
}

func schib(t *testing.T, c *CSS, sid uint32) SCHIB {
	t.Helper()
	cc, s, err := c.StoreSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	return s
}

// Current status word, safe to call from Eventually.
func status(c *CSS, sid uint32) SCSW {
	_, s, _ := c.StoreSubchannel(sid)
	return s.SCSW
}

func waitPending(t *testing.T, c *CSS, sid uint32) {
	t.Helper()
	require.Eventually(t, func() bool { return status(c, sid).pending() }, testWait, time.Millisecond)
}

// Wait until chain is suspended.
func waitSuspended(t *testing.T, c *CSS, sid uint32) {
	t.Helper()
	require.Eventually(t, func() bool {
		return (status(c, sid).Flag3 & ACSuspended) != 0
	}, testWait, time.Millisecond)
	waitIdle(t, c, sid)
}

func TestStartStatusPending(t *testing.T) {
	c, _, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x03})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitPending(t, c, sid)

	before := schib(t, c, sid)
	cc, err := c.StartSubchannel(sid, ORB{Flags: orbFmt1, CCWAddr: 0x600})
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assert.Equal(t, before, schib(t, c, sid))

	irb := waitStatus(t, c, sid)
	assertEnd(t, irb, 0x508, 0)
	assert.Equal(t, uint32(testIntParm), schib(t, c, sid).PMCW.IntParm)
}

func TestStartBusy(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitStarted(t, d)

	cc, err := c.StartSubchannel(sid, ORB{Flags: orbFmt1, CCWAddr: 0x500})
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)
	s := schib(t, c, sid).SCSW
	assert.Equal(t, FCStart, s.fc())
	assert.Equal(t, ACSchActive|ACDevActive, s.Flag3&ac3Mask)

	d.release <- struct{}{}
	irb := waitStatus(t, c, sid)
	assertEnd(t, irb, 0x508, 0)
}

func TestStartErrors(t *testing.T) {
	c, _, sid := setupCSS(t, DefaultConfig)

	_, err := c.StartSubchannel(0x00020000, ORB{Flags: orbFmt1})
	assert.ErrorIs(t, err, ErrInvalidSID)
	_, err = c.StartSubchannel(sid, ORB{Flags: orbFmt1 | 0x02})
	assert.ErrorIs(t, err, ErrInvalidORB)
	_, err = c.StartSubchannel(sid, ORB{Flags: orbFmt1, CCWAddr: 0x80000000})
	assert.ErrorIs(t, err, ErrInvalidORB)

	cc, err := c.StartSubchannel(0x00010010, ORB{Flags: orbFmt1})
	require.NoError(t, err)
	assert.Equal(t, CC3, cc)

	// Disabled subchannel.
	p := schib(t, c, sid).PMCW
	p.Flags &^= pmcwEnab
	cc, err = c.ModifySubchannel(sid, p)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	cc, err = c.StartSubchannel(sid, ORB{Flags: orbFmt1, CCWAddr: 0x500})
	require.NoError(t, err)
	assert.Equal(t, CC3, cc)
}

func TestTestSubchannelNone(t *testing.T) {
	c, _, sid := setupCSS(t, DefaultConfig)
	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assert.Zero(t, irb.SCSW.Flag3)

	_, _, err = c.TestSubchannel(0x12340000)
	assert.ErrorIs(t, err, ErrInvalidSID)
}

func TestHaltRunning(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23, flags: FlagSLI, count: 10, addr: 0x1000})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitStarted(t, d)

	cc, err := c.HaltSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)

	irb := waitStatus(t, c, sid)
	s := irb.SCSW
	assert.Equal(t, FCStart|FCHalt, s.fc())
	assert.Equal(t, SCPrimary|SCSecond|SCPending, s.sc())
	assert.Equal(t, dev.CStatusEnd, s.Unit)
	assert.Equal(t, uint32(0x508), s.CCWAddr)
	assert.Equal(t, uint16(10), s.Count)
	assert.Contains(t, d.Events(), "halt")
	waitIdle(t, c, sid)

	// Functions cleared by TEST SUBCHANNEL.
	assert.Zero(t, schib(t, c, sid).SCSW.fc())
}

func TestHaltIdle(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	cc, err := c.HaltSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)

	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, SCPending, irb.SCSW.sc())
	assert.Equal(t, FCHalt, irb.SCSW.fc())
	assert.Empty(t, d.Events())

	// Status pending blocks halt.
	putCCWs(c, 0x500, true, ccw{cmd: 0x03})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitPending(t, c, sid)
	cc, err = c.HaltSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assertEnd(t, waitStatus(t, c, sid), 0x508, 0)
}

// Pending attention blocks halt, resume and cancel.
func TestAttentionPendingBlocks(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	require.Equal(t, CC0, c.DeviceAttention(0x180, dev.CStatusAttn))

	cc, err := c.HaltSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	cc, err = c.ResumeSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	cc, err = c.CancelSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assert.False(t, status(c, sid).pending())
	assert.Empty(t, d.Events())

	// Attention is the only status left.
	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, SCAlert|SCPending, irb.SCSW.sc())
	assert.Equal(t, dev.CStatusAttn, irb.SCSW.Unit)
	assert.Zero(t, irb.SCSW.fc())
	cc, _, err = c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assert.False(t, c.InterruptPending())
}

// Halt is refused until a pending PCI has been tested.
func TestHaltPCIPending(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true,
		ccw{cmd: 0x03, flags: FlagCC | FlagSLI | FlagPCI, count: 1},
		ccw{cmd: 0x23, flags: FlagSLI, count: 10})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitStarted(t, d)

	cc, err := c.HaltSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC1, cc)

	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, ChanPCI, irb.SCSW.Chan)

	cc, err = c.HaltSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	irb = waitStatus(t, c, sid)
	assert.Equal(t, FCStart|FCHalt, irb.SCSW.fc())
	assert.Equal(t, SCPrimary|SCSecond|SCPending, irb.SCSW.sc())
	assert.Zero(t, irb.SCSW.Chan)
	assert.Contains(t, d.Events(), "halt")
	cc, _, err = c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
}

func TestClearRunning(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23, flags: FlagCC}, ccw{cmd: 0x03})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitStarted(t, d)

	cc, err := c.ClearSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	waitIdle(t, c, sid)

	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, FCClear, irb.SCSW.fc())
	assert.Equal(t, SCPending, irb.SCSW.sc())
	assert.Zero(t, irb.SCSW.Flag3&ac3Mask)
	assert.Contains(t, d.Events(), "halt")
	assert.Len(t, d.Calls(), 1)

	// Chain posts nothing after the clear.
	cc, _, err = c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assert.False(t, c.InterruptPending())
}

func TestClearQueued(t *testing.T) {
	c, d, sid := setupCSS(t, oneWorker())
	d2, sid2 := addTestDev(t, c, 0x181, 0)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	putCCWs(c, 0x600, true, ccw{cmd: 0x03})
	startChain(t, c, sid2, orbFmt1, 0x500)
	waitStarted(t, d2)
	startChain(t, c, sid, orbFmt1, 0x600)

	cc, err := c.ClearSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	d2.release <- struct{}{}
	assertEnd(t, waitStatus(t, c, sid2), 0x508, 0)

	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, FCClear, irb.SCSW.fc())
	assert.Empty(t, d.Calls())
	assert.Empty(t, d.Events())
}

func TestHaltQueued(t *testing.T) {
	c, d, sid := setupCSS(t, oneWorker())
	d2, sid2 := addTestDev(t, c, 0x181, 0)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	putCCWs(c, 0x600, true, ccw{cmd: 0x03})
	startChain(t, c, sid2, orbFmt1, 0x500)
	waitStarted(t, d2)
	startChain(t, c, sid, orbFmt1, 0x600)

	cc, err := c.HaltSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, FCStart|FCHalt, irb.SCSW.fc())
	assert.Equal(t, SCPending, irb.SCSW.sc())

	d2.release <- struct{}{}
	assertEnd(t, waitStatus(t, c, sid2), 0x508, 0)
	assert.Empty(t, d.Calls())
}

// Suspended and resumed chain gives the same result as a plain one.
func TestSuspendResume(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	d.Data = pattern(4, 0x10)
	putCCWs(c, 0x500, true,
		ccw{cmd: 0x03, flags: FlagCC | FlagSLI, count: 1},
		ccw{cmd: 0x02, flags: FlagSusp, count: 4, addr: 0x1000})
	startChain(t, c, sid, orbFmt1|orbSusp, 0x500)
	waitSuspended(t, c, sid)

	// Status must be cleared first.
	cc, err := c.ResumeSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)

	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	s := irb.SCSW
	assert.Equal(t, ACSuspended, s.Flag3&ac3Mask)
	assert.Equal(t, SCInter|SCPending, s.sc())
	assert.Equal(t, uint32(0x510), s.CCWAddr)
	assert.Equal(t, uint16(4), s.Count)
	assert.Equal(t, scsw0Susp, s.Flag0&scsw0Susp)

	// Subchannel stays busy while suspended.
	cc, err = c.StartSubchannel(sid, ORB{Flags: orbFmt1, CCWAddr: 0x500})
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)

	putCCWs(c, 0x508, true, ccw{cmd: 0x02, count: 4, addr: 0x1000})
	cc, err = c.ResumeSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)

	irb = waitStatus(t, c, sid)
	assertEnd(t, irb, 0x510, 0)
	assert.Equal(t, d.Data, c.mem.Bytes(0x1000, 4))
	assert.Equal(t, []string{"start", "suspend", "resume", "end"}, d.Events())
	calls := d.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, dev.ChainCmd, calls[1].cmd.Chained)
	assert.Equal(t, 1, calls[1].cmd.Seq)
}

// Suspend flag still set when resumed suspends again.
func TestResuspend(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x03, flags: FlagSusp})
	startChain(t, c, sid, orbFmt1|orbSusp|orbSuppr, 0x500)
	waitSuspended(t, c, sid)

	cc, err := c.ResumeSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	require.Eventually(t, func() bool {
		ev := d.Events()
		return len(ev) == 4 && ev[3] == "suspend"
	}, testWait, time.Millisecond)
	assert.Empty(t, d.Calls())

	// Suppressed, so nothing to test.
	cc, _, err = c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
}

// Resume that arrives before suspend point keeps the chain going.
func TestResumeEarly(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	d.Data = pattern(4, 1)
	putCCWs(c, 0x500, true,
		ccw{cmd: 0x23, flags: FlagCC},
		ccw{cmd: 0x02, flags: FlagSusp, count: 4, addr: 0x1000})
	startChain(t, c, sid, orbFmt1|orbSusp, 0x500)
	waitStarted(t, d)

	cc, err := c.ResumeSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	cc, err = c.ResumeSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)

	d.release <- struct{}{}
	assertEnd(t, waitStatus(t, c, sid), 0x510, 0)
	assert.Equal(t, []string{"start", "end"}, d.Events())
}

func TestResumeErrors(t *testing.T) {
	c, _, sid := setupCSS(t, DefaultConfig)
	cc, err := c.ResumeSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)

	// Start without suspend control.
	putCCWs(c, 0x500, true, ccw{cmd: 0x03})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitPending(t, c, sid)
	cc, err = c.ResumeSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	waitStatus(t, c, sid)

	cc, err = c.ResumeSubchannel(0x00010020)
	require.NoError(t, err)
	assert.Equal(t, CC3, cc)
}

func TestCancelQueued(t *testing.T) {
	c, d, sid := setupCSS(t, oneWorker())
	d2, sid2 := addTestDev(t, c, 0x181, 0)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	putCCWs(c, 0x600, true, ccw{cmd: 0x03})
	startChain(t, c, sid2, orbFmt1, 0x500)
	waitStarted(t, d2)
	startChain(t, c, sid, orbFmt1, 0x600)

	// Running chain can't be cancelled.
	cc, err := c.CancelSubchannel(sid2)
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)

	cc, err = c.CancelSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	s := status(c, sid)
	assert.Zero(t, s.fc())
	assert.Zero(t, s.Flag3)

	d2.release <- struct{}{}
	assertEnd(t, waitStatus(t, c, sid2), 0x508, 0)
	cc, _, err = c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	assert.Empty(t, d.Calls())

	// Idle subchannel.
	cc, err = c.CancelSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)
}

func TestCancelSuspended(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x03, flags: FlagSusp})
	startChain(t, c, sid, orbFmt1|orbSusp|orbSuppr, 0x500)
	waitSuspended(t, c, sid)

	cc, err := c.CancelSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Zero(t, status(c, sid).Flag2)

	// Free for a new start.
	putCCWs(c, 0x600, true, ccw{cmd: 0x03})
	startChain(t, c, sid, orbFmt1, 0x600)
	assertEnd(t, waitStatus(t, c, sid), 0x608, 0)
	assert.Len(t, d.Calls(), 1)
}

func TestDeviceAttention(t *testing.T) {
	c, _, sid := setupCSS(t, DefaultConfig)
	assert.Equal(t, CC3, c.DeviceAttention(0x1ff, dev.CStatusAttn))

	assert.Equal(t, CC0, c.DeviceAttention(0x180, dev.CStatusAttn))
	assert.Equal(t, CC1, c.DeviceAttention(0x180, dev.CStatusAttn))
	assert.True(t, c.InterruptPending())

	cc, irb, err := c.TestSubchannel(sid)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	assert.Equal(t, dev.CStatusAttn, irb.SCSW.Unit)
	assert.Equal(t, SCAlert|SCPending, irb.SCSW.sc())
	assert.False(t, c.InterruptPending())

	// Busy subchannel refuses attention.
	d := newTestDev()
	sid2, err := c.AddDevice(d, 0x181, 3, 0)
	require.NoError(t, err)
	enable(t, c, sid2, 3)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	startChain(t, c, sid2, orbFmt1, 0x500)
	waitStarted(t, d)
	assert.Equal(t, CC1, c.DeviceAttention(0x181, dev.CStatusAttn))
	d.release <- struct{}{}
	waitStatus(t, c, sid2)
}

// Attention on a suspended subchannel resumes the chain.
func TestAttentionResume(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x03, flags: FlagSusp})
	startChain(t, c, sid, orbFmt1|orbSusp|orbSuppr, 0x500)
	waitSuspended(t, c, sid)

	putCCWs(c, 0x500, true, ccw{cmd: 0x03})
	assert.Equal(t, CC0, c.DeviceAttention(0x180, dev.CStatusAttn))
	irb := waitStatus(t, c, sid)
	assert.Equal(t, dev.CStatusAttn|dev.CStatusEnd, irb.SCSW.Unit)
	assert.Equal(t, uint32(0x508), irb.SCSW.CCWAddr)
	assert.Len(t, d.Calls(), 1)
}

func TestTestIO(t *testing.T) {
	c, d, _ := setupCSS(t, DefaultConfig)
	cc, _ := c.TestIO(0x1ff)
	assert.Equal(t, CC3, cc)
	cc, _ = c.TestIO(0x180)
	assert.Equal(t, CC0, cc)

	sid, _ := c.SubchannelID(0x180)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	startChain(t, c, sid, orbFmt1|0x30000000, 0x500)
	waitStarted(t, d)
	cc, _ = c.TestIO(0x180)
	assert.Equal(t, CC2, cc)

	d.release <- struct{}{}
	waitPending(t, c, sid)
	cc, csw := c.TestIO(0x180)
	require.Equal(t, CC1, cc)
	assert.Equal(t, uint32(0x508), csw.CCWAddr)
	assert.Equal(t, dev.CStatusEnd, csw.Unit)
	assert.Equal(t, uint8(0x30), csw.Key)
	assert.Equal(t, []byte{0x30, 0, 0x05, 0x08, dev.CStatusEnd, 0, 0, 0}, csw.Bytes())

	cc, _ = c.TestIO(0x180)
	assert.Equal(t, CC0, cc)

	c.DeviceAttention(0x180, dev.CStatusAttn)
	cc, csw = c.TestIO(0x180)
	require.Equal(t, CC1, cc)
	assert.Equal(t, dev.CStatusAttn, csw.Unit)
}

func TestStoreChannelID(t *testing.T) {
	c, _, _ := setupCSS(t, DefaultConfig)
	require.NoError(t, c.AddChannel(2, dev.TypeSel))
	require.NoError(t, c.AddChannel(3, dev.TypeMux))

	tests := []struct {
		chpid uint8
		cc    uint8
		id    uint32
	}{
		{1, CC0, 0x23900000},
		{2, CC0, 0x03900000},
		{3, CC0, 0x13900000},
		{4, CC3, 0},
		{40, CC3, 0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("chpid %d", test.chpid), func(t *testing.T) {
			cc, id := c.StoreChannelID(test.chpid)
			assert.Equal(t, test.cc, cc)
			assert.Equal(t, test.id, id)
		})
	}
}

func TestTestChannel(t *testing.T) {
	c, _, sid := setupCSS(t, DefaultConfig)
	require.NoError(t, c.AddChannel(2, dev.TypeSel))
	assert.Equal(t, CC0, c.TestChannel(1))
	assert.Equal(t, CC3, c.TestChannel(4))

	c.DeviceAttention(0x180, dev.CStatusAttn)
	assert.Equal(t, CC1, c.TestChannel(1))
	cc, _, _ := c.TestSubchannel(sid)
	require.Equal(t, CC0, cc)
	assert.Equal(t, CC0, c.TestChannel(1))

	// Selector channel busy while device runs.
	d, sid2 := addTestDev(t, c, 0x280, 0)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	startChain(t, c, sid2, orbFmt1, 0x500)
	waitStarted(t, d)
	assert.Equal(t, CC2, c.TestChannel(2))
	d.release <- struct{}{}
	waitStatus(t, c, sid2)
	assert.Equal(t, CC0, c.TestChannel(2))
}

// Many subchannels started at once all complete.
func TestConcurrentStarts(t *testing.T) {
	c, d0, sid0 := setupCSS(t, DefaultConfig)
	type unit struct {
		d   *testDev
		sid uint32
		ccw uint32
		buf uint32
	}
	units := []unit{{d0, sid0, 0x2000, 0x4000}}
	for i := 1; i < 12; i++ {
		d, sid := addTestDev(t, c, uint16(0x180+i), i%3)
		units = append(units, unit{d, sid, 0x2000 + uint32(i)*0x10, 0x4000 + uint32(i)*0x100})
	}
	for i, u := range units {
		u.d.Data = pattern(0x80, byte(i*16))
		putCCWs(c, u.ccw, true,
			ccw{cmd: 0x03, flags: FlagCC | FlagSLI, count: 1},
			ccw{cmd: 0x02, count: 0x80, addr: u.buf})
	}

	var g errgroup.Group
	for _, u := range units {
		g.Go(func() error {
			cc, err := c.StartSubchannel(u.sid, ORB{Flags: orbFmt1, CCWAddr: u.ccw})
			if err != nil || cc != CC0 {
				return fmt.Errorf("start %08x cc=%d: %w", u.sid, cc, err)
			}
			deadline := time.Now().Add(testWait)
			for time.Now().Before(deadline) {
				cc, irb, err := c.TestSubchannel(u.sid)
				if err != nil {
					return err
				}
				if cc == CC0 && (irb.SCSW.Flag3&SCPrimary) != 0 {
					if irb.SCSW.Chan != 0 || irb.SCSW.CCWAddr != u.ccw+16 {
						return fmt.Errorf("subchannel %08x bad status %+v", u.sid, irb.SCSW)
					}
					return nil
				}
				time.Sleep(time.Millisecond)
			}
			return fmt.Errorf("subchannel %08x timed out", u.sid)
		})
	}
	require.NoError(t, g.Wait())
	for _, u := range units {
		assert.Equal(t, u.d.Data, c.mem.Bytes(u.buf, 0x80))
	}
	assert.LessOrEqual(t, c.PoolStats().Peak, len(units))
	assert.Positive(t, c.PoolStats().Peak)
}

func TestModifySubchannel(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	p := schib(t, c, sid).PMCW
	bad := p
	bad.Flags |= 0x8000
	_, err := c.ModifySubchannel(sid, bad)
	assert.ErrorIs(t, err, ErrInvalidPMCW)

	p.SetISC(5)
	p.IntParm = 0xcafe
	p.DevNum = 0x999
	cc, err := c.ModifySubchannel(sid, p)
	require.NoError(t, err)
	require.Equal(t, CC0, cc)
	got := schib(t, c, sid).PMCW
	assert.Equal(t, uint8(5), got.ISC())
	assert.Equal(t, uint32(0xcafe), got.IntParm)
	assert.Equal(t, uint16(0x180), got.DevNum)

	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitStarted(t, d)
	cc, err = c.ModifySubchannel(sid, p)
	require.NoError(t, err)
	assert.Equal(t, CC2, cc)
	d.release <- struct{}{}
	waitPending(t, c, sid)
	cc, err = c.ModifySubchannel(sid, p)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
	waitStatus(t, c, sid)

	cc, err = c.ModifySubchannel(0x00010030, p)
	require.NoError(t, err)
	assert.Equal(t, CC3, cc)
}

func TestReset(t *testing.T) {
	c, d, sid := setupCSS(t, DefaultConfig)
	putCCWs(c, 0x500, true, ccw{cmd: 0x23})
	startChain(t, c, sid, orbFmt1, 0x500)
	waitStarted(t, d)

	c.Reset()
	waitIdle(t, c, sid)
	assert.Contains(t, d.Events(), "halt")
	assert.False(t, schib(t, c, sid).PMCW.Enabled())
	assert.Zero(t, status(c, sid).Flag2)
	assert.False(t, c.InterruptPending())

	cc, err := c.StartSubchannel(sid, ORB{Flags: orbFmt1, CCWAddr: 0x500})
	require.NoError(t, err)
	assert.Equal(t, CC3, cc)
	cc, _, err = c.TestSubchannel(sid)
	require.NoError(t, err)
	assert.Equal(t, CC1, cc)
}
