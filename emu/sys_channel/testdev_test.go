/*
 * S390 - Test device controller.
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

	dev "github.com/rcornwell/S390css/emu/device"
)

//  Commands.
//
//            01234567
//  Write     00000001
//  Read      00000010
//  Nop       00000011    Immediate.
//  Retry     00010011    Ask for retry Retries times.
//  Wait      00100011    Wait until released or halted.
//  Attn      00110011    End with attention.
//  Sense     00000100    Return one byte of sense data.
//  Read Bk   00001100

// Record of one Execute call.
type testCall struct {
	cmd  dev.Command
	data []byte
}

type testDev struct {
	dev.Base
	mu      sync.Mutex
	Data    []byte        // Data returned by read
	Sms     bool          // Return SMS at end of command
	Retries int           // Retry responses to give
	Short   int           // When > 0 writes accept only this many bytes
	sense   uint8         // Current sense byte
	calls   []testCall    // Commands executed
	events  []string      // Chain events
	started chan struct{} // Signaled when a wait command starts
	release chan struct{} // Ends a wait command
	halted  bool
}

func newTestDev() *testDev {
	return &testDev{
		started: make(chan struct{}, 1),
		release: make(chan struct{}, 1),
	}
}

func (d *testDev) event(name string) {
	d.mu.Lock()
	d.events = append(d.events, name)
	d.mu.Unlock()
}

func (d *testDev) StartChain() { d.event("start") }
func (d *testDev) EndChain()   { d.event("end") }
func (d *testDev) Resume()     { d.event("resume") }
func (d *testDev) Suspend()    { d.event("suspend") }

// Handle halt request.
func (d *testDev) Halt() {
	d.mu.Lock()
	d.halted = true
	d.mu.Unlock()
	d.event("halt")
	select {
	case d.release <- struct{}{}:
	default:
	}
}

func (d *testDev) Sense() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []byte{d.sense}
}

// Commands seen so far.
func (d *testDev) Calls() []testCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]testCall{}, d.calls...)
}

func (d *testDev) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.events...)
}

// Handle one command.
func (d *testDev) Execute(cmd dev.Command, buf []byte) dev.Result {
	d.mu.Lock()
	call := testCall{cmd: cmd}
	if dev.IsOutputCmd(cmd.Code) {
		call.data = append([]byte{}, buf...)
	}
	d.calls = append(d.calls, call)
	d.mu.Unlock()

	end := dev.CStatusEnd
	if d.Sms {
		end |= dev.CStatusSMS
	}

	switch cmd.Code {
	case 0x01: // Write
		d.sense = 0
		if d.Short > 0 && int(cmd.Count) > d.Short {
			return dev.Result{Unit: end, Residual: cmd.Count - uint32(d.Short)}
		}
		return dev.Result{Unit: end}

	case 0x02: // Read
		d.sense = 0
		if (cmd.Flags & FlagCD) != 0 {
			// More data wanted, hold channel end.
			end = 0
		}
		n := copy(buf, d.Data)
		return dev.Result{Unit: end, Residual: cmd.Count - uint32(n), More: len(d.Data) > int(cmd.Count)}

	case 0x03: // Nop
		return dev.Result{Unit: end, Immediate: true}

	case 0x13: // Retry
		if d.Retries > 0 {
			d.Retries--
			return dev.Result{Unit: dev.CStatusRetry}
		}
		return dev.Result{Unit: end, Immediate: true}

	case 0x23: // Wait
		d.started <- struct{}{}
		<-d.release
		d.mu.Lock()
		halted := d.halted
		d.mu.Unlock()
		if halted {
			return dev.Result{Unit: dev.CStatusEnd, Residual: cmd.Count}
		}
		return dev.Result{Unit: end, Immediate: true}

	case 0x33: // Attention
		return dev.Result{Unit: end | dev.CStatusAttn, Immediate: true}

	case 0x04: // Sense
		n := uint32(0)
		if len(buf) > 0 {
			buf[0] = d.sense
			n = 1
		}
		d.sense = 0
		return dev.Result{Unit: end, Residual: cmd.Count - n}

	case 0x0c: // Read backward
		n := min(len(d.Data), int(cmd.Count))
		copy(buf[int(cmd.Count)-n:], d.Data[:n])
		return dev.Result{Unit: end, Residual: cmd.Count - uint32(n)}
	}

	d.sense = dev.SenseCMDREJ
	return dev.Result{Unit: end | dev.CStatusCheck, Residual: cmd.Count}
}

// Initialize a device.
func (d *testDev) InitDev() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sense = 0
	d.Sms = false
	d.halted = false
	return 0
}
