/*
 * S390 - Processor test set.
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


package cpu

import (
	"context"
	"testing"
	"time"

	dev "github.com/rcornwell/S390css/emu/device"
	mem "github.com/rcornwell/S390css/emu/memory"
	syschannel "github.com/rcornwell/S390css/emu/sys_channel"
	testdev "github.com/rcornwell/S390css/emu/test_dev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

// Subsystem with one enabled test device at 180 on subclass 3.
func setup(t *testing.T) (*syschannel.CSS, uint32) {
	t.Helper()
	css := syschannel.New(mem.New(64), syschannel.DefaultConfig)
	require.NoError(t, css.AddChannel(1, dev.TypeBMux))
	sid, err := css.AddDevice(testdev.New(0x180), 0x180, 3, 0)
	require.NoError(t, err)
	_, schib, err := css.StoreSubchannel(sid)
	require.NoError(t, err)
	p := schib.PMCW
	p.SetEnabled(true)
	p.SetISC(3)
	p.IntParm = 0xcafe
	cc, err := css.ModifySubchannel(sid, p)
	require.NoError(t, err)
	require.Equal(t, syschannel.CC0, cc)
	t.Cleanup(func() { css.Shutdown(testWait) })
	return css, sid
}

// Start processor that clears status of each interruption.
func run(t *testing.T, css *syschannel.CSS, cpu *CPU) <-chan syschannel.Interruption {
	t.Helper()
	css.RegisterCPU(cpu)
	got := make(chan syschannel.Interruption, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- cpu.Run(ctx, func(_ *CPU, irq syschannel.Interruption) {
			css.TestSubchannel(irq.SID)
			got <- irq
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(testWait):
			t.Error("CPU did not stop")
		}
	})
	return got
}

func TestTakeInterrupt(t *testing.T) {
	css, sid := setup(t)
	cpu := New(0, css, 0xff)
	got := run(t, css, cpu)
	require.Eventually(t, cpu.Idle, testWait, time.Millisecond)

	require.Equal(t, syschannel.CC0, css.DeviceAttention(0x180, dev.CStatusAttn))
	select {
	case irq := <-got:
		assert.Equal(t, sid, irq.SID)
		assert.Equal(t, uint32(0xcafe), irq.IntParm)
		assert.Equal(t, uint8(3), irq.ISC)
	case <-time.After(testWait):
		t.Fatal("interruption not taken")
	}

	m := css.Storage()
	w, _ := m.GetWord(ioSID)
	assert.Equal(t, sid, w)
	w, _ = m.GetWord(ioParm)
	assert.Equal(t, uint32(0xcafe), w)
	w, _ = m.GetWord(ioIdent)
	assert.Equal(t, uint32(3)<<iscShift, w)
	assert.Equal(t, uint64(1), cpu.Taken())

	// Status was cleared so next attention is accepted.
	require.Equal(t, syschannel.CC0, css.DeviceAttention(0x180, dev.CStatusAttn))
	select {
	case <-got:
	case <-time.After(testWait):
		t.Fatal("second interruption not taken")
	}
}

func TestSubclassMasked(t *testing.T) {
	css, sid := setup(t)
	cpu := New(0, css, 0x80>>5)
	got := run(t, css, cpu)
	require.Eventually(t, cpu.Idle, testWait, time.Millisecond)

	require.Equal(t, syschannel.CC0, css.DeviceAttention(0x180, dev.CStatusAttn))
	select {
	case <-got:
		t.Fatal("masked interruption taken")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, css.InterruptPending())

	cpu.SetISCMask(0x80 >> 3)
	select {
	case irq := <-got:
		assert.Equal(t, sid, irq.SID)
	case <-time.After(testWait):
		t.Fatal("interruption not taken after enable")
	}
	assert.Equal(t, uint8(0x80>>3), cpu.ISCMask())
}

func TestTwoProcessors(t *testing.T) {
	css, _ := setup(t)
	cpu0 := New(0, css, 0x80>>6)
	cpu1 := New(1, css, 0xff)
	got0 := run(t, css, cpu0)
	got1 := run(t, css, cpu1)
	require.Eventually(t, func() bool { return cpu0.Idle() && cpu1.Idle() }, testWait, time.Millisecond)

	for range 3 {
		require.Equal(t, syschannel.CC0, css.DeviceAttention(0x180, dev.CStatusAttn))
		select {
		case <-got1:
		case <-got0:
			t.Fatal("interruption taken by masked processor")
		case <-time.After(testWait):
			t.Fatal("interruption not taken")
		}
	}
	assert.Equal(t, uint64(3), cpu1.Taken())
	assert.Zero(t, cpu0.Taken())
	assert.Equal(t, 1, cpu1.ID())
}
