/*
 * S390 - Core S390 channel subsystem loop.
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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cpu "github.com/rcornwell/S390css/emu/cpu"
	device "github.com/rcornwell/S390css/emu/device"
	"github.com/rcornwell/S390css/emu/master"
	syschannel "github.com/rcornwell/S390css/emu/sys_channel"
	"golang.org/x/sync/errgroup"
)

const shutdownWait = time.Second

var (
	ErrNoDevice = errors.New("device not found")
	ErrStopped  = errors.New("core not running")
)

// Called with status of each interruption taken.
type Notify func(irq syschannel.Interruption, irb syschannel.IRB)

type Core struct {
	wg     sync.WaitGroup
	done   chan struct{} // Signal to shutdown simulator.
	exited chan struct{} // Request loop has finished.
	stop   sync.Once
	css    *syschannel.CSS
	cpus   []*cpu.CPU
	Master chan master.Packet

	mu     sync.Mutex
	last   map[uint16]syschannel.IRB // Last status of each device
	notify Notify
}

// Create channel subsystem and CPUs from configuration.
func New(setup *syschannel.Setup, master chan master.Packet) (*Core, error) {
	css, err := setup.Build()
	if err != nil {
		return nil, err
	}
	core := &Core{
		css:    css,
		Master: master,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		last:   make(map[uint16]syschannel.IRB),
	}

	// Subchannels come up disabled.
	for _, ds := range setup.Devices {
		if err := core.enable(ds); err != nil {
			return nil, err
		}
	}

	for i := range max(setup.CPUs, 1) {
		c := cpu.New(i, css, 0xff)
		css.RegisterCPU(c)
		core.cpus = append(core.cpus, c)
	}
	slog.Info("Channel subsystem built", "devices", css.NumSubchannels(), "cpus", len(core.cpus),
		"storage", css.Storage().GetSize())
	return core, nil
}

// Enable subchannel of device, interruption parameter is device number.
func (core *Core) enable(ds syschannel.DeviceSetup) error {
	sid, ok := core.css.SubchannelID(ds.DevNum)
	if !ok {
		return fmt.Errorf("%w: %03x", ErrNoDevice, ds.DevNum)
	}
	_, schib, err := core.css.StoreSubchannel(sid)
	if err != nil {
		return err
	}
	p := schib.PMCW
	p.SetEnabled(true)
	p.SetISC(ds.ISC)
	p.IntParm = uint32(ds.DevNum)
	cc, err := core.css.ModifySubchannel(sid, p)
	if err != nil {
		return err
	}
	if cc != syschannel.CC0 {
		return fmt.Errorf("unable to enable device %03x cc=%d", ds.DevNum, cc)
	}
	return nil
}

// Channel subsystem of core.
func (core *Core) CSS() *syschannel.CSS {
	return core.css
}

// Processors of core.
func (core *Core) CPUs() []*cpu.CPU {
	return core.cpus
}

// Set function called after each interruption.
func (core *Core) SetNotify(fn Notify) {
	core.mu.Lock()
	core.notify = fn
	core.mu.Unlock()
}

// Last status stored for device.
func (core *Core) Status(devNum uint16) (syschannel.IRB, bool) {
	core.mu.Lock()
	defer core.mu.Unlock()
	irb, ok := core.last[devNum]
	return irb, ok
}

// Start CPUs and request loop.
func (core *Core) Start() {
	core.wg.Add(1)
	go core.run()
}

func (core *Core) run() {
	defer core.wg.Done()
	defer close(core.exited)
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range core.cpus {
		g.Go(func() error {
			return c.Run(ctx, core.interrupt)
		})
	}

	for running := true; running; {
		select {
		case <-core.done:
			running = false
		case packet := <-core.Master:
			running = core.processPacket(packet)
		}
	}

	cancel()
	if err := g.Wait(); err != nil {
		slog.Error("CPU failed", "error", err)
	}
	if !core.css.Shutdown(shutdownWait) {
		slog.Warn("Timed out waiting for channel programs to finish.")
	}
}

// Stop a running core.
func (core *Core) Stop() {
	slog.Info("Shutting down channel subsystem")
	core.stop.Do(func() { close(core.done) })
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(2 * shutdownWait):
		slog.Warn("Timed out waiting for core to finish.")
		return
	}
}

// Take interruption, test subchannel and save status.
func (core *Core) interrupt(c *cpu.CPU, irq syschannel.Interruption) {
	irb := syschannel.IRB{SCSW: irq.SCSW}
	if !irq.Fast {
		cc, status, err := core.css.TestSubchannel(irq.SID)
		if err != nil {
			slog.Error("Test subchannel failed", "error", err)
			return
		}
		if cc != syschannel.CC0 {
			return
		}
		irb = status
	}
	s := irb.SCSW
	slog.Info("I/O interruption", "cpu", c.ID(), "device", fmt.Sprintf("%03x", irq.DevNum),
		"unit", fmt.Sprintf("%02x", s.Unit), "channel", fmt.Sprintf("%02x", s.Chan),
		"ccw", fmt.Sprintf("%08x", s.CCWAddr), "count", s.Count)

	core.mu.Lock()
	core.last[irq.DevNum] = irb
	notify := core.notify
	core.mu.Unlock()
	if notify != nil {
		notify(irq, irb)
	}
}

// Post request to core and wait for result.
func (core *Core) send(packet master.Packet) (uint8, error) {
	packet.Reply = make(chan master.Reply, 1)
	select {
	case core.Master <- packet:
	case <-core.exited:
		return 0, ErrStopped
	}
	r := <-packet.Reply
	return r.CC, r.Err
}

// Start channel program of device with ORB at address.
func (core *Core) SendStart(devNum uint16, orbAddr uint32) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.Start, Addr: orbAddr})
}

func (core *Core) SendHalt(devNum uint16) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.Halt})
}

func (core *Core) SendClear(devNum uint16) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.Clear})
}

func (core *Core) SendResume(devNum uint16) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.Resume})
}

func (core *Core) SendCancel(devNum uint16) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.Cancel})
}

// Tell channel to post Device End for device.
func (core *Core) SendDeviceEnd(devNum uint16) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.DeviceEnd})
}

// Post unit status for device, zero posts attention.
func (core *Core) SendAttention(devNum uint16, unit uint8) (uint8, error) {
	return core.send(master.Packet{DevNum: devNum, Msg: master.Attention, Unit: unit})
}

func (core *Core) SendReset() error {
	_, err := core.send(master.Packet{Msg: master.Reset})
	return err
}

// Stop request loop, CPUs and channel programs.
func (core *Core) SendStop() error {
	_, err := core.send(master.Packet{Msg: master.Stop})
	return err
}

// Process a packet sent to system simulation.
func (core *Core) processPacket(packet master.Packet) bool {
	cc, err := core.request(packet)
	if err != nil {
		slog.Error("Request failed", "request", packet.String(), "device", fmt.Sprintf("%03x", packet.DevNum), "error", err)
	} else {
		slog.Debug("Request", "request", packet.String(), "device", fmt.Sprintf("%03x", packet.DevNum), "cc", cc)
	}
	if packet.Reply != nil {
		packet.Reply <- master.Reply{CC: cc, Err: err}
	}
	return packet.Msg != master.Stop
}

func (core *Core) request(packet master.Packet) (uint8, error) {
	switch packet.Msg {
	case master.Stop:
		return syschannel.CC0, nil
	case master.Reset:
		core.css.Reset()
		core.mu.Lock()
		clear(core.last)
		core.mu.Unlock()
		return syschannel.CC0, nil
	}

	sid, ok := core.css.SubchannelID(packet.DevNum)
	if !ok {
		return syschannel.CC3, fmt.Errorf("%w: %03x", ErrNoDevice, packet.DevNum)
	}
	switch packet.Msg {
	case master.Start:
		var b [12]byte
		if core.css.Storage().Fetch(packet.Addr, b[:]) {
			return syschannel.CC3, fmt.Errorf("ORB address %08x not in storage", packet.Addr)
		}
		return core.css.StartSubchannel(sid, syschannel.DecodeORB(b[:]))
	case master.Halt:
		return core.css.HaltSubchannel(sid)
	case master.Clear:
		return core.css.ClearSubchannel(sid)
	case master.Resume:
		return core.css.ResumeSubchannel(sid)
	case master.Cancel:
		return core.css.CancelSubchannel(sid)
	case master.DeviceEnd:
		return core.css.DeviceAttention(packet.DevNum, device.CStatusDevEnd), nil
	case master.Attention:
		unit := packet.Unit
		if unit == 0 {
			unit = device.CStatusAttn
		}
		return core.css.DeviceAttention(packet.DevNum, unit), nil
	}
	return syschannel.CC3, fmt.Errorf("unknown request %d", packet.Msg)
}
