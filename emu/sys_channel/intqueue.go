/*
 * S390 - I/O interrupt queue.
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
	"log/slog"
	"sync"
)

// Kinds of status word, each has its own queue entry.
const (
	irqNormal = iota
	irqPCI
	irqAttn
	irqKinds
)

var irqNames = [irqKinds]string{"normal", "PCI", "attention"}

// CPU that accepts I/O interrupts.
type Processor interface {
	ID() int
	ISCMask() uint8 // Bit 0x80 >> isc set when subclass enabled
	Idle() bool     // CPU is waiting for an interrupt
	Wake()
}

// Interrupt request, embedded in subchannel.
type irqLink struct {
	next     *irqLink
	sc       *Subchannel
	kind     int
	priority int
	isc      uint8
	queued   bool
}

// Queue of pending interrupts, higher priority first.
type intQueue struct {
	lock  sync.Mutex
	head  *irqLink
	count int
}

// Add request in priority order, return false if already queued.
func (q *intQueue) enqueue(l *irqLink, priority int, isc uint8) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if l.queued {
		return false
	}
	l.priority = priority
	l.isc = isc
	prev := &q.head
	for cur := q.head; cur != nil; cur = cur.next {
		if l.priority > cur.priority {
			break
		}
		prev = &cur.next
	}
	l.next = *prev
	*prev = l
	l.queued = true
	q.count++
	l.sc.irqFlags.Store(l.sc.irqFlags.Load() | (1 << l.kind))
	return true
}

// Remove request, return true if it was queued.
func (q *intQueue) dequeue(l *irqLink) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.remove(l)
}

// Lock must be held.
func (q *intQueue) remove(l *irqLink) bool {
	if !l.queued {
		return false
	}
	prev := &q.head
	for cur := q.head; cur != nil; cur = cur.next {
		if cur == l {
			*prev = cur.next
			cur.next = nil
			cur.queued = false
			q.count--
			l.sc.irqFlags.Store(l.sc.irqFlags.Load() &^ (1 << l.kind))
			return true
		}
		prev = &cur.next
	}
	slog.Error("Interrupt queue corrupted", "subchannel", l.sc.num)
	panic("syschannel: queued interrupt missing from queue")
}

// Return first request fn accepts.
func (q *intQueue) find(fn func(*irqLink) bool) *irqLink {
	q.lock.Lock()
	defer q.lock.Unlock()
	for cur := q.head; cur != nil; cur = cur.next {
		if fn(cur) {
			return cur
		}
	}
	return nil
}

func (q *intQueue) queued(l *irqLink) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return l.queued
}

// Number of queued requests.
func (q *intQueue) len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.count
}

// Check if request can go to CPU with mask.
func (c *CSS) eligible(l *irqLink, mask uint8) bool {
	if (mask & (0x80 >> l.isc)) == 0 {
		return false
	}
	if l.sc.tschPend.Load() && !(c.cfg.PCIFast && l.kind == irqPCI) {
		return false
	}
	return true
}

// Give CPU the highest priority interrupt it has enabled. Marks the
// subchannel as waiting for TEST SUBCHANNEL.
func (c *CSS) PresentInterrupt(cpu Processor) (Interruption, bool) {
	c.intLock.Lock()
	defer c.intLock.Unlock()

	mask := cpu.ISCMask()
	for {
		// Scan without holding any subchannel lock, verified below.
		l := c.iq.find(func(l *irqLink) bool {
			return c.eligible(l, mask)
		})
		if l == nil {
			c.wakeOther(cpu)
			return Interruption{}, false
		}

		sc := l.sc
		sc.lock.Lock()
		c.iq.lock.Lock()
		if !l.queued || !c.eligible(l, mask) {
			c.iq.lock.Unlock()
			sc.lock.Unlock()
			continue
		}
		c.iq.remove(l)
		c.iq.lock.Unlock()

		irq := Interruption{
			SID:     sc.SID(),
			IntParm: sc.pmcw.IntParm,
			ISC:     sc.pmcw.ISC(),
			DevNum:  sc.pmcw.DevNum,
		}
		if c.cfg.PCIFast && l.kind == irqPCI {
			// Status goes with the interruption, nothing left to test.
			irq.Fast = true
			irq.SCSW = sc.pci
			sc.pci.reset()
		} else {
			sc.tschPend.Store(true)
		}
		debugSubf(sc, debugIRQ, "present %s interrupt to CPU %d", irqNames[l.kind], cpu.ID())
		sc.lock.Unlock()
		return irq, true
	}
}

// Wake an idle CPU that could take a queued interrupt.
func (c *CSS) wakeOther(self Processor) {
	if c.iq.len() == 0 {
		return
	}
	c.cpuLock.RLock()
	defer c.cpuLock.RUnlock()
	for _, cpu := range c.cpus {
		if cpu == self || !cpu.Idle() {
			continue
		}
		mask := cpu.ISCMask()
		if c.iq.find(func(l *irqLink) bool { return c.eligible(l, mask) }) != nil {
			cpu.Wake()
			return
		}
	}
}

// Wake idle CPU's that have subclass enabled.
func (c *CSS) signalCPUs(isc uint8) {
	c.cpuLock.RLock()
	defer c.cpuLock.RUnlock()
	for _, cpu := range c.cpus {
		if cpu.Idle() && (cpu.ISCMask()&(0x80>>isc)) != 0 {
			cpu.Wake()
			return
		}
	}
}

// Add CPU to list of CPU's accepting interrupts.
func (c *CSS) RegisterCPU(cpu Processor) {
	c.cpuLock.Lock()
	defer c.cpuLock.Unlock()
	c.cpus = append(c.cpus, cpu)
}

// Check if any interrupt is queued.
func (c *CSS) InterruptPending() bool {
	return c.iq.len() != 0
}
