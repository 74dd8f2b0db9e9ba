/*
 * S390 - Core test set.
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


package core

import (
	"testing"
	"time"

	dev "github.com/rcornwell/S390css/emu/device"
	"github.com/rcornwell/S390css/emu/master"
	syschannel "github.com/rcornwell/S390css/emu/sys_channel"
	testdev "github.com/rcornwell/S390css/emu/test_dev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

type taken struct {
	irq syschannel.Interruption
	irb syschannel.IRB
}

// Core with two CPUs and one test device at 180.
func setup(t *testing.T) (*Core, *testdev.Device, <-chan taken) {
	t.Helper()
	d := testdev.New(0x180)
	s := &syschannel.Setup{MemSize: 64, CPUs: 2, Config: syschannel.DefaultConfig}
	s.Chans[1] = dev.TypeBMux
	s.Devices = []syschannel.DeviceSetup{{DevNum: 0x180, Dev: d, ISC: 3}}
	core, err := New(s, make(chan master.Packet))
	require.NoError(t, err)
	require.Len(t, core.CPUs(), 2)

	got := make(chan taken, 8)
	core.SetNotify(func(irq syschannel.Interruption, irb syschannel.IRB) {
		got <- taken{irq, irb}
	})
	core.Start()
	t.Cleanup(core.Stop)
	return core, d, got
}

func wait(t *testing.T, got <-chan taken) taken {
	t.Helper()
	select {
	case r := <-got:
		return r
	case <-time.After(testWait):
		t.Fatal("no interruption")
	}
	return taken{}
}

// Write ORB at 400 for channel program at 500.
func putORB(core *Core, intParm uint32, ccws ...uint64) {
	m := core.CSS().Storage()
	m.PutWord(0x400, intParm)
	m.PutWord(0x404, 0)
	m.PutWord(0x408, 0x500)
	for i, w := range ccws {
		m.PutDouble(0x500+uint32(8*i), w)
	}
}

func TestStartProgram(t *testing.T) {
	core, d, got := setup(t)
	m := core.CSS().Storage()
	m.Store(0x600, []byte{0xc1, 0xc2, 0xc3, 0xc4})
	putORB(core, 0xabcd, syschannel.EncodeCCW(0x01, 0, 4, 0x600, false))

	cc, err := core.SendStart(0x180, 0x400)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)

	r := wait(t, got)
	assert.Equal(t, uint32(0xabcd), r.irq.IntParm)
	assert.Equal(t, uint16(0x180), r.irq.DevNum)
	assert.Equal(t, dev.CStatusEnd, r.irb.SCSW.Unit&dev.CStatusEnd)
	assert.Zero(t, r.irb.SCSW.Chan)
	assert.Equal(t, uint32(0x508), r.irb.SCSW.CCWAddr)
	assert.Equal(t, []byte{0xc1, 0xc2, 0xc3, 0xc4}, d.Data())

	irb, ok := core.Status(0x180)
	require.True(t, ok)
	assert.Equal(t, r.irb, irb)
}

func TestAttention(t *testing.T) {
	core, _, got := setup(t)
	cc, err := core.SendAttention(0x180, 0)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)
	r := wait(t, got)
	assert.Equal(t, dev.CStatusAttn, r.irb.SCSW.Unit)
	// Default interruption parameter is device number.
	assert.Equal(t, uint32(0x180), r.irq.IntParm)

	cc, err = core.SendDeviceEnd(0x180)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)
	r = wait(t, got)
	assert.Equal(t, dev.CStatusDevEnd, r.irb.SCSW.Unit)
}

func TestHaltClear(t *testing.T) {
	core, d, got := setup(t)
	d.Delay = time.Hour
	putORB(core, 1, syschannel.EncodeCCW(0x23, 0, 1, 0x600, false))
	cc, err := core.SendStart(0x180, 0x400)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)

	cc, err = core.SendHalt(0x180)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)
	wait(t, got)

	cc, err = core.SendClear(0x180)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)
	r := wait(t, got)
	assert.NotZero(t, r.irb.SCSW.Flag2)
}

func TestRequestErrors(t *testing.T) {
	core, _, _ := setup(t)
	cc, err := core.SendHalt(0x280)
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, syschannel.CC3, cc)

	_, err = core.SendStart(0x180, 0x100000)
	assert.Error(t, err)

	// Nothing suspended to resume or queued to cancel.
	cc, err = core.SendResume(0x180)
	require.NoError(t, err)
	assert.Equal(t, syschannel.CC2, cc)
	cc, err = core.SendCancel(0x180)
	require.NoError(t, err)
	assert.Equal(t, syschannel.CC2, cc)

	require.NoError(t, core.SendReset())
	require.NoError(t, core.SendStop())
	_, err = core.SendClear(0x180)
	assert.ErrorIs(t, err, ErrStopped)
}
