/*
 * S390 - Processor accepting I/O interrupts.
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
	"log/slog"
	"sync/atomic"

	syschannel "github.com/rcornwell/S390css/emu/sys_channel"
)

const (
	// Low storage where I/O interruption code is saved.
	ioSID    uint32 = 0xb8 // Subsystem identification word
	ioParm   uint32 = 0xbc // Interruption parameter
	ioIdent  uint32 = 0xc0 // Interruption identification word
	iscShift        = 27   // ISC position in identification word
)

// Called for each interruption taken.
type Handler func(cpu *CPU, irq syschannel.Interruption)

// One processor of the machine. Only I/O interruptions are modeled, the
// processor waits enabled until the subsystem has one for it.
type CPU struct {
	id    int
	css   *syschannel.CSS
	mask  atomic.Uint32 // Interrupt subclass mask, control register 6
	idle  atomic.Bool   // In enabled wait
	wake  chan struct{}
	taken atomic.Uint64
}

// Create processor attached to channel subsystem.
func New(id int, css *syschannel.CSS, mask uint8) *CPU {
	cpu := &CPU{id: id, css: css, wake: make(chan struct{}, 1)}
	cpu.mask.Store(uint32(mask))
	return cpu
}

func (cpu *CPU) ID() int {
	return cpu.id
}

func (cpu *CPU) ISCMask() uint8 {
	return uint8(cpu.mask.Load())
}

// Load new subclass mask. Newly enabled subclasses may have work waiting.
func (cpu *CPU) SetISCMask(mask uint8) {
	cpu.mask.Store(uint32(mask))
	cpu.Wake()
}

func (cpu *CPU) Idle() bool {
	return cpu.idle.Load()
}

// Signal processor to look for interruptions.
func (cpu *CPU) Wake() {
	select {
	case cpu.wake <- struct{}{}:
	default:
	}
}

// Number of interruptions taken.
func (cpu *CPU) Taken() uint64 {
	return cpu.taken.Load()
}

// Accept interruptions until context is done.
func (cpu *CPU) Run(ctx context.Context, handler Handler) error {
	slog.Debug("CPU started", "cpu", cpu.id)
	defer cpu.idle.Store(false)
	for ctx.Err() == nil {
		// Mark idle before looking so a post after the look wakes us.
		cpu.idle.Store(true)
		irq, ok := cpu.css.PresentInterrupt(cpu)
		if ok {
			cpu.idle.Store(false)
			cpu.storeCode(irq)
			cpu.taken.Add(1)
			if handler != nil {
				handler(cpu, irq)
			}
			continue
		}
		select {
		case <-ctx.Done():
		case <-cpu.wake:
		}
	}
	slog.Debug("CPU stopped", "cpu", cpu.id, "taken", cpu.Taken())
	return nil
}

// Save interruption code in low storage.
func (cpu *CPU) storeCode(irq syschannel.Interruption) {
	m := cpu.css.Storage()
	m.PutWord(ioSID, irq.SID)
	m.PutWord(ioParm, irq.IntParm)
	m.PutWord(ioIdent, uint32(irq.ISC)<<iscShift)
}
