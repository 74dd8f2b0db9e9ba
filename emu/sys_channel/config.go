/*
 * S390 - Channel subsystem configuration.
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
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	config "github.com/rcornwell/S390css/config/configparser"
	dev "github.com/rcornwell/S390css/emu/device"
	mem "github.com/rcornwell/S390css/emu/memory"
	"github.com/rcornwell/S390css/util/debug"
)

const (
	// Debug options.
	debugCmd    = 1 << iota // Commands and status.
	debugData               // Data transfered.
	debugDetail             // Low level details.
	debugIRQ                // Interrupt queue.
	debugSched              // Run queue.
)

var debugOption = map[string]int{
	"CMD":    debugCmd,
	"DATA":   debugData,
	"DETAIL": debugDetail,
	"IRQ":    debugIRQ,
	"SCHED":  debugSched,
}

var debugMsk int

// Enable channel debug option.
func Debug(opt string) error {
	flag, ok := debugOption[strings.ToUpper(opt)]
	if !ok {
		return errors.New("channel debug option invalid: " + opt)
	}
	debugMsk |= flag
	return nil
}

func debugSubf(sc *Subchannel, level int, format string, a ...interface{}) {
	if (debugMsk & level) == 0 {
		return
	}
	debug.DebugDevf(sc.pmcw.DevNum, debugMsk, level, format, a...)
}

// Device waiting to be attached.
type DeviceSetup struct {
	DevNum   uint16
	Dev      dev.Device
	ISC      uint8
	Priority int
}

// Machine collected from configuration file.
type Setup struct {
	MemSize int // Storage size in K
	CPUs    int // Number of CPU's
	Config  Config
	Chans   [MaxChan]int
	Devices []DeviceSetup
	cssSet  bool
}

var setup Setup

// Initialize all channels and clear any device assignments.
func InitializeChannels() {
	setup = Setup{MemSize: 1024, CPUs: 1, Config: DefaultConfig}
	debugMsk = 0
}

// Return current setup.
func GetSetup() *Setup {
	return &setup
}

// Enable a channel of a given type.
func AddChannel(cNum int, ty int) error {
	if cNum < 0 || cNum >= MaxChan {
		return fmt.Errorf("channel number too large: %d max: %d", cNum, MaxChan-1)
	}
	if setup.Chans[cNum] != dev.TypeDis {
		return fmt.Errorf("channel %d already defined", cNum)
	}
	setup.Chans[cNum] = ty
	return nil
}

// Add a device at given address.
func AddDevice(d dev.Device, devNum uint16, isc uint8, prio int) error {
	ch := (devNum >> 8) & 0xf
	if setup.Chans[ch] == dev.TypeDis {
		return fmt.Errorf("channel %d does not exist", ch)
	}
	for _, ds := range setup.Devices {
		if ds.DevNum == devNum {
			return fmt.Errorf("device %03x already exists", devNum)
		}
	}
	setup.Devices = append(setup.Devices, DeviceSetup{DevNum: devNum, Dev: d, ISC: isc & 7, Priority: prio})
	return nil
}

// Get a device pointer.
func GetDevice(devNum uint16) (dev.Device, error) {
	for _, ds := range setup.Devices {
		if ds.DevNum == devNum {
			return ds.Dev, nil
		}
	}
	return nil, fmt.Errorf("device %03x doesn't exist", devNum)
}

// Create storage and channel subsystem from setup.
func (s *Setup) Build() (*CSS, error) {
	c := New(mem.New(s.MemSize), s.Config)
	for i, ty := range s.Chans {
		if ty == dev.TypeDis {
			continue
		}
		if err := c.AddChannel(i, ty); err != nil {
			return nil, err
		}
	}
	for _, ds := range s.Devices {
		if _, err := c.AddDevice(ds.Dev, ds.DevNum, ds.ISC, ds.Priority); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// register channel options on initialize.
func init() {
	config.RegisterModel("CHANNEL", config.TypeOptions, createChannel)
	config.RegisterModel("CSS", config.TypeOptions, createCSS)
	config.RegisterOption("CPUS", setCPUs)
	config.RegisterOption("MEMORY", setMemory)
}

// Create a channel.
func createChannel(_ uint16, number string, options []config.Option) error {
	ch, err := strconv.ParseUint(number, 10, 8)
	if err != nil {
		return errors.New("Channel number must be a number: " + number)
	}

	chanType := 0
	for _, option := range options {
		if option.EqualOpt != "" || option.Value != nil {
			return errors.New("Extra options not supported on: " + option.Name)
		}
		if chanType != 0 {
			return errors.New("Can't have more then one channel type")
		}
		switch strings.ToUpper(option.Name) {
		case "MPX", "MUX":
			chanType = dev.TypeMux
		case "SEL":
			chanType = dev.TypeSel
		case "BMUX":
			chanType = dev.TypeBMux
		default:
			return errors.New("Channel invalid option: " + option.Name)
		}
	}
	if chanType == 0 {
		return fmt.Errorf("No channel type defined for channel %d", ch)
	}
	return AddChannel(int(ch), chanType)
}

// Set channel subsystem tunables.
func createCSS(_ uint16, number string, options []config.Option) error {
	if number != "0" {
		return errors.New("Only channel subsystem 0 supported: " + number)
	}
	if setup.cssSet {
		return errors.New("Channel subsystem already defined")
	}
	cfg := setup.Config
	for _, option := range options {
		if option.Value != nil {
			return errors.New("Extra options not supported on: " + option.Name)
		}
		name := strings.ToUpper(option.Name)
		if name == "PCIFAST" {
			if option.EqualOpt != "" {
				return errors.New("PCIFAST does not take a value")
			}
			cfg.PCIFast = true
			continue
		}
		if option.EqualOpt == "" {
			return errors.New("CSS option requires a value: " + option.Name)
		}
		switch name {
		case "MAXTHREADS":
			v, err := strconv.ParseInt(option.EqualOpt, 10, 32)
			if err != nil {
				return errors.New("MAXTHREADS must be a number: " + option.EqualOpt)
			}
			cfg.Pool.Max = int(v)
		case "MINIDLE":
			v, err := strconv.ParseUint(option.EqualOpt, 10, 16)
			if err != nil {
				return errors.New("MINIDLE must be a number: " + option.EqualOpt)
			}
			cfg.Pool.MinIdle = int(v)
		case "IDLETIMEOUT":
			d, err := parseDuration(option.EqualOpt)
			if err != nil {
				return err
			}
			cfg.Pool.IdleTimeout = d
		case "MAXBUFFER":
			k, err := parseSize(option.EqualOpt)
			if err != nil {
				return err
			}
			if k == 0 || uint64(k)*1024 > math.MaxUint32 {
				return errors.New("MAXBUFFER size out of range: " + option.EqualOpt)
			}
			cfg.MaxBuffer = uint32(k) * 1024
		default:
			return errors.New("CSS invalid option: " + option.Name)
		}
	}
	setup.Config = cfg
	setup.cssSet = true
	return nil
}

// Set number of CPU's.
func setCPUs(_ uint16, value string, _ []config.Option) error {
	n, err := strconv.ParseUint(value, 10, 8)
	if err != nil || n == 0 {
		return errors.New("CPUS must be a number greater than zero: " + value)
	}
	setup.CPUs = int(n)
	return nil
}

// Set storage size.
func setMemory(_ uint16, value string, _ []config.Option) error {
	k, err := parseSize(value)
	if err != nil {
		return err
	}
	if k == 0 || uint64(k)*1024 > uint64(mem.MaxSize)+1 {
		return errors.New("Memory size invalid: " + value)
	}
	setup.MemSize = k
	return nil
}

// Size in K, number may end with K or M.
func parseSize(value string) (int, error) {
	v := strings.ToUpper(value)
	mult := 1
	switch {
	case strings.HasSuffix(v, "M"):
		mult = 1024
		v = v[:len(v)-1]
	case strings.HasSuffix(v, "K"):
		v = v[:len(v)-1]
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, errors.New("Size must be a number: " + value)
	}
	return int(n) * mult, nil
}

// Time in seconds, or Go duration.
func parseDuration(value string) (time.Duration, error) {
	if n, err := strconv.ParseUint(value, 10, 32); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.New("Invalid time: " + value)
	}
	return d, nil
}
