/*
 * S390 - Console commands.
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


package parser

import (
	enchex "encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	command "github.com/rcornwell/S390css/command/command"
	core "github.com/rcornwell/S390css/emu/core"
	syschannel "github.com/rcornwell/S390css/emu/sys_channel"
	"github.com/rcornwell/S390css/util/hex"
)

var cmdList = []cmd{
	{Name: "attention", Min: 2, Process: attention, Complete: deviceComplete},
	{Name: "cancel", Min: 2, Process: cancel, Complete: deviceComplete},
	{Name: "clear", Min: 2, Process: clearCmd, Complete: deviceComplete},
	{Name: "deposit", Min: 3, Process: deposit},
	{Name: "deviceend", Min: 3, Process: deviceEnd, Complete: deviceComplete},
	{Name: "examine", Min: 1, Process: examine},
	{Name: "halt", Min: 1, Process: halt, Complete: deviceComplete},
	{Name: "quit", Min: 4, Process: quit},
	{Name: "reset", Min: 5, Process: reset},
	{Name: "resume", Min: 4, Process: resume, Complete: deviceComplete},
	{Name: "set", Min: 2, Process: set, Complete: setComplete},
	{Name: "show", Min: 2, Process: show, Complete: showComplete},
	{Name: "start", Min: 4, Process: start, Complete: deviceComplete},
	{Name: "status", Min: 4, Process: status, Complete: deviceComplete},
	{Name: "unset", Min: 2, Process: unset, Complete: setComplete},
}

// Report condition code of request.
func reportCC(cc uint8, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	fmt.Fprintf(out, "cc=%d\n", cc)
	return false, nil
}

// Device number as only argument.
func (line *cmdLine) onlyDevNum() (uint16, error) {
	devNum, err := line.getDevNum()
	if err != nil {
		return 0, err
	}
	if !line.isEOL() {
		return 0, errors.New("extra arguments: " + line.getToken())
	}
	return devNum, nil
}

// Start channel program: start <device> <orb address>.
func start(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Start")
	devNum, err := line.getDevNum()
	if err != nil {
		return false, err
	}
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("start requires ORB address")
	}
	return reportCC(core.SendStart(devNum, addr))
}

func halt(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Halt")
	devNum, err := line.onlyDevNum()
	if err != nil {
		return false, err
	}
	return reportCC(core.SendHalt(devNum))
}

func clearCmd(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Clear")
	devNum, err := line.onlyDevNum()
	if err != nil {
		return false, err
	}
	return reportCC(core.SendClear(devNum))
}

func resume(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Resume")
	devNum, err := line.onlyDevNum()
	if err != nil {
		return false, err
	}
	return reportCC(core.SendResume(devNum))
}

func cancel(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Cancel")
	devNum, err := line.onlyDevNum()
	if err != nil {
		return false, err
	}
	return reportCC(core.SendCancel(devNum))
}

// Post attention, or given unit status: attention <device> [status].
func attention(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Attention")
	devNum, err := line.getDevNum()
	if err != nil {
		return false, err
	}
	unit := uint32(0)
	if !line.isEOL() {
		unit, err = line.getHex()
		if err != nil || unit > 0xff {
			return false, errors.New("unit status must be hex byte")
		}
	}
	return reportCC(core.SendAttention(devNum, uint8(unit)))
}

func deviceEnd(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Device End")
	devNum, err := line.onlyDevNum()
	if err != nil {
		return false, err
	}
	return reportCC(core.SendDeviceEnd(devNum))
}

// Reset all subchannels.
func reset(_ *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Reset")
	return false, core.SendReset()
}

// Handle commands that quit simulation.
func quit(_ *cmdLine, _ *core.Core) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}

// Handle set commands.
func set(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Set")
	return false, line.setOptions(core, false)
}

// Handle unset commands.
func unset(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Unset")
	return false, line.setOptions(core, true)
}

func (line *cmdLine) setOptions(core *core.Core, unset bool) error {
	// Get device number make sure it is valid.
	device, err := line.getDevice(core)
	if err != nil {
		return err
	}

	optlist, err := line.getOptions(device, command.ValidSet, unset)
	if err != nil {
		return err
	}
	if len(optlist) == 0 {
		return errors.New("no options given to set command")
	}
	return device.Set(unset, optlist)
}

// Process the show command: show <device> [options], show all or show pool.
func show(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Show")
	pos := line.pos
	switch line.getWord(false) {
	case "all":
		for _, devNum := range core.CSS().Devices() {
			d, err := core.CSS().GetDevice(devNum)
			if err != nil {
				continue
			}
			device, ok := d.(command.Command)
			if !ok {
				continue
			}
			str, err := device.Show(nil)
			if err != nil {
				continue
			}
			fmt.Fprintln(out, str)
		}
		return false, nil
	case "pool":
		s := core.CSS().PoolStats()
		fmt.Fprintf(out, "threads=%d idle=%d waiting=%d peak=%d\n", s.Threads, s.Idle, s.Waiting, s.Peak)
		return false, nil
	case "":
	default:
		return false, errors.New("show must be device number, all or pool")
	}
	line.pos = pos

	device, err := line.getDevice(core)
	if err != nil {
		return false, err
	}
	optlist, err := line.getOptions(device, command.ValidShow, true)
	if err != nil {
		return false, err
	}
	str, err := device.Show(optlist)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(out, str)
	return false, nil
}

// Display subchannel and last interruption status of device.
func status(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Status")
	devNum, err := line.onlyDevNum()
	if err != nil {
		return false, err
	}
	sid, ok := core.CSS().SubchannelID(devNum)
	if !ok {
		return false, fmt.Errorf("device %03x not found", devNum)
	}
	_, schib, err := core.CSS().StoreSubchannel(sid)
	if err != nil {
		return false, err
	}

	p := schib.PMCW
	fmt.Fprintf(out, "%03x sid=%08x intparm=%08x isc=%d enabled=%v\n", devNum, sid, p.IntParm, p.ISC(), p.Enabled())
	fmt.Fprintln(out, "scsw "+formatSCSW(schib.SCSW))
	if irb, ok := core.Status(devNum); ok {
		fmt.Fprintln(out, "last "+formatSCSW(irb.SCSW))
	}
	return false, nil
}

func formatSCSW(s syschannel.SCSW) string {
	var str strings.Builder
	hex.FormatBytes(&str, false, []byte{s.Flag0, s.Flag1, s.Flag2, s.Flag3})
	fmt.Fprintf(&str, " ccw=%08x unit=%02x chan=%02x count=%04x", s.CCWAddr, s.Unit, s.Chan, s.Count)
	return str.String()
}

// Display storage: examine <address> [length].
func examine(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Examine")
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("examine requires address")
	}
	length := uint32(16)
	if !line.isEOL() {
		length, err = line.getHex()
		if err != nil || length == 0 {
			return false, errors.New("length must be hex number")
		}
	}
	data := make([]byte, length)
	if core.CSS().Storage().Fetch(addr, data) {
		return false, fmt.Errorf("address %08x length %x outside storage", addr, length)
	}
	fmt.Fprint(out, hex.Dump(addr, data))
	return false, nil
}

// Store hex bytes into storage: deposit <address> <hex>...
func deposit(line *cmdLine, core *core.Core) (bool, error) {
	slog.Debug("Command Deposit")
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("deposit requires address")
	}
	var data []byte
	for !line.isEOL() {
		token := line.getToken()
		b, err := enchex.DecodeString(token)
		if err != nil {
			return false, errors.New("invalid hex data: " + token)
		}
		data = append(data, b...)
	}
	if len(data) == 0 {
		return false, errors.New("no data to deposit")
	}
	if core.CSS().Storage().Store(addr, data) {
		return false, fmt.Errorf("address %08x length %x outside storage", addr, len(data))
	}
	return false, nil
}
