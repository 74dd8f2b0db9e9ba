/*
 * S390 - Channel subsystem.
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
	"sync"
	"time"

	dev "github.com/rcornwell/S390css/emu/device"
	mem "github.com/rcornwell/S390css/emu/memory"
	"github.com/rcornwell/S390css/emu/scheduler"
)

// Tunables of the channel subsystem.
type Config struct {
	Pool      scheduler.Config // Worker pool
	MaxBuffer uint32           // Largest transfer buffer
	PCIFast   bool             // PCI may be presented while waiting for TEST SUBCHANNEL
}

var DefaultConfig = Config{Pool: scheduler.DefaultConfig, MaxBuffer: DefaultMaxBuffer}

// Channel subsystem, owns all subchannels, the interrupt queue and the
// workers that run channel programs.
type CSS struct {
	intLock   sync.Mutex // Serializes interrupt presentation
	mem       *mem.Storage
	cfg       Config
	subs      []*Subchannel
	byDev     map[uint16]*Subchannel
	chans     [MaxChan]int // Type of each channel path
	iq        intQueue
	pool      *scheduler.Pool
	cpuLock   sync.RWMutex
	cpus      []Processor
	chains    sync.Pool
	chunkHook func(addr, n uint32) // Called for each piece of storage moved
}

// Create channel subsystem on storage.
func New(m *mem.Storage, cfg Config) *CSS {
	if cfg.MaxBuffer == 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	c := &CSS{
		mem:   m,
		cfg:   cfg,
		byDev: make(map[uint16]*Subchannel),
		pool:  scheduler.New(cfg.Pool),
	}
	c.chains.New = func() any { return &chain{} }
	return c
}

// Enable a channel path of a given type.
func (c *CSS) AddChannel(cNum int, ty int) error {
	if cNum < 0 || cNum >= MaxChan {
		return fmt.Errorf("%w: channel number too large: %d max: %d", ErrChannel, cNum, MaxChan-1)
	}
	if c.chans[cNum] != dev.TypeDis {
		return fmt.Errorf("%w: channel %d already defined", ErrChannel, cNum)
	}
	switch ty {
	case dev.TypeSel, dev.TypeMux, dev.TypeBMux:
	default:
		return fmt.Errorf("%w: channel %d invalid type %d", ErrChannel, cNum, ty)
	}
	c.chans[cNum] = ty
	return nil
}

// Attach device at devNum, return its subchannel id.
func (c *CSS) AddDevice(d dev.Device, devNum uint16, isc uint8, prio int) (uint32, error) {
	if devNum == dev.NoDev {
		return 0, fmt.Errorf("%w: %03x", ErrNoDevice, devNum)
	}
	ch := (devNum >> 8) & 0xf
	if c.chans[ch] == dev.TypeDis {
		return 0, fmt.Errorf("%w: channel %d does not exist", ErrChannel, ch)
	}
	if _, ok := c.byDev[devNum]; ok {
		return 0, fmt.Errorf("%w: %03x", ErrDupDevice, devNum)
	}
	if len(c.subs) >= MaxSubchan {
		return 0, ErrTooMany
	}
	sc := newSubchannel(c, uint16(len(c.subs)), devNum, d, isc, prio)
	c.subs = append(c.subs, sc)
	c.byDev[devNum] = sc
	if s, ok := d.(dev.Signaler); ok {
		s.SetSignal(func(unit uint8) uint8 { return c.DeviceAttention(devNum, unit) })
	}
	slog.Debug("Device attached", "device", fmt.Sprintf("%03x", devNum), "subchannel", sc.num)
	return sc.SID(), nil
}

// Find subchannel from subchannel id. Returns nil if no subchannel.
func (c *CSS) lookup(sid uint32) (*Subchannel, error) {
	if (sid & sidMask) != sidValue {
		return nil, ErrInvalidSID
	}
	n := int(sid & 0xffff)
	if n >= len(c.subs) {
		return nil, nil
	}
	return c.subs[n], nil
}

// Get a device handler.
func (c *CSS) GetDevice(devNum uint16) (dev.Device, error) {
	sc, ok := c.byDev[devNum]
	if !ok {
		return nil, fmt.Errorf("%w: %03x", ErrNoDevice, devNum)
	}
	return sc.dev, nil
}

// Return subchannel id of device.
func (c *CSS) SubchannelID(devNum uint16) (uint32, bool) {
	sc, ok := c.byDev[devNum]
	if !ok {
		return 0, false
	}
	return sc.SID(), true
}

// Number of subchannels defined.
func (c *CSS) NumSubchannels() int {
	return len(c.subs)
}

// Device numbers in subchannel order.
func (c *CSS) Devices() []uint16 {
	devs := make([]uint16, 0, len(c.subs))
	for _, sc := range c.subs {
		sc.lock.Lock()
		devs = append(devs, sc.pmcw.DevNum)
		sc.lock.Unlock()
	}
	return devs
}

// Type of channel path.
func (c *CSS) ChannelType(chpid uint8) int {
	if int(chpid) >= MaxChan {
		return dev.TypeUNA
	}
	return c.chans[chpid]
}

func (c *CSS) Storage() *mem.Storage {
	return c.mem
}

// Worker pool statistics.
func (c *CSS) PoolStats() scheduler.Stats {
	return c.pool.Stats()
}

// Stop accepting work and wait for running channel programs.
func (c *CSS) Shutdown(timeout time.Duration) bool {
	return c.pool.Quiesce(timeout)
}
