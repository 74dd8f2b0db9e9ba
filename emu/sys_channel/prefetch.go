/*
 * S390 - Data chain prefetch for write commands.
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
	dev "github.com/rcornwell/S390css/emu/device"
)

const prefetchMax = 256 // Max CCW's gathered for one write

// Kind of address in prefetch entry.
const (
	ptrNone = iota
	ptrIDAW
	ptrMIDAW
)

// One data chained CCW gathered ahead of the device.
type prefetchEntry struct {
	ccwAddr  uint32 // Address of CCW
	addr     uint32 // CCW data address
	count    uint32 // CCW count
	flags    uint8  // CCW flags
	chanStat uint8  // Error found while gathering
	ptrType  int    // Type of address list
	ptr      uint32 // Address list pointer
	off      uint32 // Offset of data in buffer
	size     uint32 // Bytes placed in buffer
}

type prefetchTable struct {
	entry [prefetchMax]prefetchEntry
	n     int
	total uint32
}

// Per CCW accounting after the device finished.
type replayEntry struct {
	ccwAddr  uint32
	addr     uint32
	count    uint32
	flags    uint8
	used     uint32
	residual uint32
	chanStat uint8
}

// Spread device residual over entries, stopping at first entry that did
// not complete or has an error.
func (pf *prefetchTable) replay(residual uint32) []replayEntry {
	used := pf.total - min(residual, pf.total)
	out := make([]replayEntry, 0, pf.n)
	for i := range pf.n {
		e := &pf.entry[i]
		take := min(used, e.size)
		used -= take
		r := replayEntry{
			ccwAddr:  e.ccwAddr,
			addr:     e.addr,
			count:    e.count,
			flags:    e.flags,
			used:     take,
			residual: e.count - take,
			chanStat: e.chanStat,
		}
		out = append(out, r)
		if r.residual != 0 || r.chanStat != 0 {
			break
		}
	}
	return out
}

// Fetch next CCW of a data chain, following TIC's.
func (ch *chain) nextChained() (ccw, uint32, uint8) {
	for {
		if st := ch.readCCW(); st != 0 {
			return ccw{}, ch.ccwAt, st
		}
		if dev.IsTIC(ch.cur.cmd) {
			if st := ch.tic(); st != 0 {
				return ccw{}, ch.ccwAt, st
			}
			continue
		}
		ch.lastTIC = false
		if st := ch.checkCCW(true); st != 0 {
			return ccw{}, ch.ccwAt, st
		}
		return ch.cur, ch.ccwAt, 0
	}
}

// Gather data of a data chained write, call device once and account
// the result back to each CCW.
func (ch *chain) prefetch(cmd dev.Command) chainStep {
	pf := &ch.pf
	pf.n = 0
	pf.total = 0
	c := ch.cur
	at := ch.ccwAt
	for {
		e := &pf.entry[pf.n]
		pf.n++
		*e = prefetchEntry{ccwAddr: at, addr: c.addr, count: uint32(c.count), flags: c.flags, off: pf.total}
		switch {
		case (c.flags & FlagMIDA) != 0:
			e.ptrType = ptrMIDAW
			e.ptr = c.addr
		case (c.flags & FlagIDA) != 0:
			e.ptrType = ptrIDAW
			e.ptr = c.addr
		}

		size := e.count
		if !ch.buf.grow(pf.total + size) {
			ch.buf.grow(ch.buf.max)
			size = min(size, ch.buf.size()-pf.total)
			e.chanStat = ChanCDC
		}
		if size != 0 {
			t := ch.transferFor(c.addr, e.count, c.flags)
			if st := ch.css.move(&t, ch.buf.window(pf.total, size)); st != 0 {
				e.chanStat = st
				size = 0
			}
		}
		e.size = size
		pf.total += size
		if e.chanStat != 0 || (c.flags&FlagCD) == 0 || pf.n == prefetchMax {
			break
		}

		prev := c.flags
		nc, nat, st := ch.nextChained()
		if st != 0 {
			pf.entry[pf.n] = prefetchEntry{ccwAddr: nat, chanStat: st, off: pf.total}
			pf.n++
			break
		}
		if (prev & FlagSLI) != 0 {
			nc.flags |= FlagSLI
		}
		c, at = nc, nat
	}
	debugSubf(ch.sc, debugDetail, "prefetched %d CCW's %d bytes", pf.n, pf.total)

	first := &pf.entry[0]
	if first.chanStat != 0 && first.size == 0 {
		ch.restoreAt(first.ccwAddr, ccw{cmd: ch.code, flags: first.flags, count: uint16(first.count), addr: first.addr})
		ch.chanStat |= first.chanStat
		ch.residual = first.count
		return stepTerminal
	}

	data := ch.buf.window(0, pf.total)
	ch.traceData("write", data)
	cmd.Count = pf.total
	res := ch.execute(cmd, data)

	out := pf.replay(res.Residual)
	for i, r := range out {
		ch.restoreAt(r.ccwAddr, ccw{cmd: ch.code, flags: r.flags, count: uint16(r.count), addr: r.addr})
		if i == 0 {
			continue
		}
		ch.st.prevFlags = out[i-1].flags
		ch.st.prevCode = ch.code
		ch.st.seq++
		if (r.flags & FlagPCI) != 0 {
			ch.postIntermediate(ChanPCI, false)
		}
	}
	last := out[len(out)-1]
	if last.chanStat != 0 {
		ch.chanStat |= last.chanStat
		ch.unit = res.Unit
		ch.residual = last.residual
		return stepTerminal
	}
	res.Residual = last.residual
	ch.complete(res, last.count, last.flags)
	return stepAdvance
}

// Make CCW at addr the current one.
func (ch *chain) restoreAt(addr uint32, c ccw) {
	ch.ccwAt = addr
	ch.cur = c
	ch.st.addr = ch.next(addr)
}
