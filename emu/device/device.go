/*
 * S390 - Device handler interface.
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

package device

const (
	NoDev uint16 = 0xffff // Code for no device

	// Channel path types.
	TypeDis  int = 0 // Channel disabled
	TypeSel  int = 1 // Selector channel
	TypeMux  int = 2 // Byte multiplexer channel
	TypeBMux int = 3 // Block multiplexer channel
	TypeUNA  int = 4 // Channel unavailable

	// Unit status bits.
	CStatusAttn   uint8 = 0x80 // Unit attention
	CStatusSMS    uint8 = 0x40 // Status modifier
	CStatusCtlEnd uint8 = 0x20 // Control unit end
	CStatusBusy   uint8 = 0x10 // Unit Busy
	CStatusChnEnd uint8 = 0x08 // Channel end
	CStatusDevEnd uint8 = 0x04 // Device end
	CStatusCheck  uint8 = 0x02 // Unit check
	CStatusExpt   uint8 = 0x01 // Unit exception

	// Normal ending status.
	CStatusEnd = CStatusChnEnd | CStatusDevEnd

	// Device requests the same CCW be executed again.
	CStatusRetry = CStatusChnEnd | CStatusDevEnd | CStatusCheck | CStatusSMS

	// Command types, low bits of command code.
	CmdWrite uint8 = 0x1 // Write command
	CmdRead  uint8 = 0x2 // Read command
	CmdCTL   uint8 = 0x3 // Control command
	CmdSense uint8 = 0x4 // Sense channel command
	CmdTIC   uint8 = 0x8 // Transfer in channel
	CmdRDBWD uint8 = 0xc // Read backward
	CmdNOP   uint8 = 0x03

	// Chaining indicators passed to Execute.
	ChainNone uint8 = 0x00 // First CCW of the chain
	ChainData uint8 = 0x80 // Data chained from previous CCW
	ChainCmd  uint8 = 0x40 // Command chained from previous CCW

	// Basic sense information.
	SenseCMDREJ  uint8 = 0x80 // Command reject
	SenseINTVENT uint8 = 0x40 // Unit intervention required
	SenseBUSCHK  uint8 = 0x20 // Parity error on bus
	SenseEQUCHK  uint8 = 0x10 // Equipment check
	SenseDATCHK  uint8 = 0x08 // Data Check
	SenseUNITSPC uint8 = 0x04 // Specific to unit
	SenseCTLCHK  uint8 = 0x02 // Timeout on device
	SenseOVRRUN  uint8 = 0x02 // Data Overrun
	SenseOPRCHK  uint8 = 0x01 // Invalid operation to device
)

// Check command classes.
func IsWrite(cmd uint8) bool { return (cmd & 0x3) == CmdWrite }
func IsRead(cmd uint8) bool { return (cmd & 0x3) == CmdRead }
func IsControl(cmd uint8) bool { return (cmd & 0x3) == CmdCTL }
func IsSense(cmd uint8) bool { return (cmd & 0xf) == CmdSense }
func IsTIC(cmd uint8) bool { return (cmd & 0xf) == CmdTIC }
func IsReadBack(cmd uint8) bool { return (cmd & 0xf) == CmdRDBWD }
func IsInvalid(cmd uint8) bool { return (cmd & 0xf) == 0 }
func IsInputCmd(cmd uint8) bool { return IsRead(cmd) || IsSense(cmd) || IsReadBack(cmd) }
func IsOutputCmd(cmd uint8) bool { return IsWrite(cmd) || IsControl(cmd) }

// One command passed to device.
type Command struct {
	Code     uint8  // Command code
	Flags    uint8  // CCW flags
	Chained  uint8  // ChainNone, ChainData or ChainCmd
	Count    uint32 // CCW count, or total count of a prefetched chain
	PrevCode uint8  // Previous command code in chain
	Seq      int    // CCW sequence number in chain
}

// Result of executing one command.
type Result struct {
	Unit      uint8  // Unit status
	Residual  uint32 // Count not transferred
	More      bool   // Device has more data than count
	Immediate bool   // Command completed without data transfer
}

// Query information returned by device.
type Info struct {
	Class string // Device class, DASD, TAPE, ...
	Type  uint16 // Device type, 3390, 3480, ...
	Model uint8  // Device model
}

// Device handler capability set. Execute is the only required method,
// embed Base to get defaults for the rest.
//
// For write and control commands buf holds Count bytes of data. For read
// and sense commands the device places data at the start of buf, for read
// backward the data ends at buf[Count-1].
type Device interface {
	Execute(cmd Command, buf []byte) Result
	StartChain()
	EndChain()
	Halt()
	Resume()
	Suspend()
	Attention(unit uint8)
	Sense() []byte
	Query() Info
	InitDev() uint8
	Debug(opt string) error
}

// Device that raises unsolicited status. The channel subsystem hands it a
// function that posts the status and returns the condition code.
type Signaler interface {
	SetSignal(fn func(unit uint8) uint8)
}
