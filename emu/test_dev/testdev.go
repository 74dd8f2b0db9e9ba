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

package testdev

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	command "github.com/rcornwell/S390css/command/command"
	config "github.com/rcornwell/S390css/config/configparser"
	dev "github.com/rcornwell/S390css/emu/device"
	ch "github.com/rcornwell/S390css/emu/sys_channel"
	"github.com/rcornwell/S390css/util/debug"
)

//  Commands.
//
//            01234567
//  Write     00000001    Data saved for next read.
//  Read      00000010
//  Nop       00000011
//  One Byte  00001011    Grab one byte of option.
//  End       00010011    Channel end, device end as attention later.
//  Wait      00100011    Device busy for Delay, halt stops it.
//  Sense     00000100    Return one byte of sense data.
//  Read Bk   00001100

const (
	MaxData      = 4096                  // Size of loop back buffer
	DefaultDelay = 10 * time.Millisecond // Time before late device end
)

const (
	debugCmd  = 1 << iota // Commands and status.
	debugData             // Data transfered.
)

var debugOption = map[string]int{
	"CMD":  debugCmd,
	"DATA": debugData,
}

// Loop back test device. Writes fill the buffer that reads return.
type Device struct {
	dev.Base
	mu       sync.Mutex
	addr     uint16
	data     []byte        // Data to read
	Option   uint8         // Byte grabbed by One Byte command
	Delay    time.Duration // Time of wait and late device end
	sense    uint8
	sms      bool
	halt     chan struct{}
	signal   func(uint8) uint8
	debugMsk int
}

func New(devNum uint16) *Device {
	return &Device{addr: devNum, Delay: DefaultDelay, halt: make(chan struct{}, 1)}
}

// Load data returned by following reads.
func (d *Device) SetData(data []byte) {
	d.mu.Lock()
	d.data = append([]byte{}, data...)
	d.mu.Unlock()
}

// Current loop back data.
func (d *Device) Data() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte{}, d.data...)
}

// Return SMS with the next ending status.
func (d *Device) SetSMS() {
	d.mu.Lock()
	d.sms = true
	d.mu.Unlock()
}

func (d *Device) SetSignal(fn func(uint8) uint8) {
	d.mu.Lock()
	d.signal = fn
	d.mu.Unlock()
}

// Ending status, SMS only once.
func (d *Device) end() uint8 {
	r := dev.CStatusEnd
	if d.sms {
		r |= dev.CStatusSMS
		d.sms = false
	}
	return r
}

// Handle one command.
func (d *Device) Execute(cmd dev.Command, buf []byte) dev.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	debug.DebugDevf(d.addr, d.debugMsk, debugCmd, "test cmd %02x count %d chained %02x", cmd.Code, cmd.Count, cmd.Chained)

	switch cmd.Code {
	case 0x01: // Write
		d.sense = 0
		n := min(len(buf), MaxData)
		if cmd.Chained == dev.ChainData {
			n = min(len(buf), MaxData-len(d.data))
			d.data = append(d.data, buf[:n]...)
		} else {
			d.data = append(d.data[:0], buf[:n]...)
		}
		debug.DebugDevf(d.addr, d.debugMsk, debugData, "test write %d bytes", n)
		return dev.Result{Unit: d.end(), Residual: cmd.Count - uint32(n)}

	case 0x02: // Read
		d.sense = 0
		n := copy(buf, d.data)
		d.data = d.data[n:]
		unit := d.end()
		if (cmd.Flags&ch.FlagCD) != 0 && len(d.data) != 0 {
			unit = 0
		}
		debug.DebugDevf(d.addr, d.debugMsk, debugData, "test read %d bytes", n)
		return dev.Result{Unit: unit, Residual: cmd.Count - uint32(n), More: len(d.data) != 0}

	case 0x0c: // Read backward
		d.sense = 0
		n := min(len(d.data), len(buf))
		copy(buf[len(buf)-n:], d.data[len(d.data)-n:])
		d.data = d.data[:len(d.data)-n]
		return dev.Result{Unit: d.end(), Residual: cmd.Count - uint32(n), More: len(d.data) != 0}

	case 0x03: // Nop
		d.sense = 0
		return dev.Result{Unit: d.end(), Immediate: true}

	case 0x0b: // Grab a data byte
		d.sense = 0
		if len(buf) == 0 {
			return dev.Result{Unit: d.end(), Immediate: true}
		}
		d.Option = buf[0]
		return dev.Result{Unit: d.end(), Residual: cmd.Count - 1}

	case 0x13: // Channel end now, device end later
		d.sense = 0
		signal := d.signal
		delay := d.Delay
		if signal != nil {
			time.AfterFunc(delay, func() {
				// Wait for ending status to be taken.
				for range 100 {
					if signal(dev.CStatusDevEnd) != ch.CC1 {
						return
					}
					time.Sleep(delay)
				}
			})
		}
		return dev.Result{Unit: dev.CStatusChnEnd, Immediate: true}

	case 0x23: // Wait
		d.sense = 0
		delay := d.Delay
		d.mu.Unlock()
		halted := false
		select {
		case <-d.halt:
			halted = true
		case <-time.After(delay):
		}
		d.mu.Lock()
		if halted {
			return dev.Result{Unit: dev.CStatusEnd, Residual: cmd.Count}
		}
		return dev.Result{Unit: d.end(), Immediate: true}

	case 0x04: // Sense
		n := uint32(0)
		if len(buf) > 0 {
			buf[0] = d.sense
			n = 1
		}
		d.sense = 0
		return dev.Result{Unit: d.end(), Residual: cmd.Count - n}
	}

	d.sense = dev.SenseCMDREJ
	return dev.Result{Unit: dev.CStatusEnd | dev.CStatusCheck, Residual: cmd.Count}
}

// Drop halt left from an earlier chain.
func (d *Device) StartChain() {
	select {
	case <-d.halt:
	default:
	}
}

// Stop any wait in progress.
func (d *Device) Halt() {
	select {
	case d.halt <- struct{}{}:
	default:
	}
}

func (d *Device) Sense() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []byte{d.sense}
}

func (d *Device) Query() dev.Info {
	return dev.Info{Class: "TEST", Type: 0x9999}
}

// Initialize a device.
func (d *Device) InitDev() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = nil
	d.sense = 0
	d.sms = false
	d.Option = 0
	return 0
}

// Enable debug option.
func (d *Device) Debug(opt string) error {
	flag, ok := debugOption[strings.ToUpper(opt)]
	if !ok {
		return errors.New("test device debug option invalid: " + opt)
	}
	d.mu.Lock()
	d.debugMsk |= flag
	d.mu.Unlock()
	return nil
}

// Console options.
func (d *Device) Options() []command.Options {
	return []command.Options{
		{Name: "delay", OptionType: command.OptionNumber, OptionValid: command.ValidSet | command.ValidShow},
		{Name: "option", OptionType: command.OptionHex, OptionValid: command.ValidSet | command.ValidShow},
		{Name: "sms", OptionType: command.OptionSwitch, OptionValid: command.ValidSet},
		{Name: "data", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
		{Name: "sense", OptionType: command.OptionSwitch, OptionValid: command.ValidShow},
	}
}

// Set delay in milliseconds, option byte or SMS on next status.
func (d *Device) Set(unset bool, options []*command.CmdOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, opt := range options {
		switch opt.Name {
		case "delay":
			if unset {
				d.Delay = DefaultDelay
			} else {
				d.Delay = time.Duration(opt.Value) * time.Millisecond
			}
		case "option":
			if opt.Value > 0xff {
				return fmt.Errorf("option value %x too large", opt.Value)
			}
			d.Option = uint8(opt.Value)
			if unset {
				d.Option = 0
			}
		case "sms":
			d.sms = !unset
		default:
			return errors.New("test device can't set: " + opt.Name)
		}
	}
	return nil
}

func (d *Device) Show(options []*command.CmdOption) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(options) == 0 {
		return fmt.Sprintf("%03x TESTDEV delay=%d option=%02x data=%d sense=%02x", d.addr,
			d.Delay.Milliseconds(), d.Option, len(d.data), d.sense), nil
	}
	var str strings.Builder
	str.WriteString(fmt.Sprintf("%03x", d.addr))
	for _, opt := range options {
		switch opt.Name {
		case "delay":
			str.WriteString(fmt.Sprintf(" delay=%d", d.Delay.Milliseconds()))
		case "option":
			str.WriteString(fmt.Sprintf(" option=%02x", d.Option))
		case "data":
			str.WriteString(fmt.Sprintf(" data=%d", len(d.data)))
		case "sense":
			str.WriteString(fmt.Sprintf(" sense=%02x", d.sense))
		default:
			return "", errors.New("test device can't show: " + opt.Name)
		}
	}
	return str.String(), nil
}

// register a device on initialize.
func init() {
	config.RegisterModel("TESTDEV", config.TypeModel, create)
}

// Create a test device.
func create(devNum uint16, _ string, options []config.Option) error {
	isc := uint8(3)
	prio := 0
	for _, option := range options {
		if option.EqualOpt == "" {
			return errors.New("test device option requires a value: " + option.Name)
		}
		switch strings.ToUpper(option.Name) {
		case "ISC":
			v, err := strconv.ParseUint(option.EqualOpt, 10, 3)
			if err != nil {
				return errors.New("ISC must be 0 to 7: " + option.EqualOpt)
			}
			isc = uint8(v)
		case "PRIORITY":
			v, err := strconv.ParseUint(option.EqualOpt, 10, 8)
			if err != nil {
				return errors.New("PRIORITY must be a number: " + option.EqualOpt)
			}
			prio = int(v)
		default:
			return errors.New("test device invalid option: " + option.Name)
		}
	}
	if err := ch.AddDevice(New(devNum), devNum, isc, prio); err != nil {
		return fmt.Errorf("unable to create test device at %03x: %w", devNum, err)
	}
	return nil
}
