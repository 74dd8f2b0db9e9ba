/*
 * S390 - Messages to channel subsystem core.
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


package master

// Requests sent from console to the core.
type Packet struct {
	DevNum uint16 // Device number
	Msg    int    // Request type
	Addr   uint32 // Channel program address for Start
	Unit   uint8  // Unit status for Attention
	Reply  chan Reply
}

// Result of request, sent when Reply channel given.
type Reply struct {
	CC  uint8
	Err error
}

const (
	Start     = 1 + iota // Start channel program at Addr.
	Halt                 // Halt subchannel.
	Clear                // Clear subchannel.
	Resume               // Resume suspended channel program.
	Cancel               // Cancel start not yet begun.
	DeviceEnd            // Post device end for device.
	Attention            // Post unit status for device.
	Reset                // System reset of all subchannels.
	Stop                 // Shut down core.
)

var msgNames = map[int]string{
	Start:     "start",
	Halt:      "halt",
	Clear:     "clear",
	Resume:    "resume",
	Cancel:    "cancel",
	DeviceEnd: "device end",
	Attention: "attention",
	Reset:     "reset",
	Stop:      "stop",
}

// Name of request.
func (p Packet) String() string {
	name, ok := msgNames[p.Msg]
	if !ok {
		return "unknown"
	}
	return name
}
