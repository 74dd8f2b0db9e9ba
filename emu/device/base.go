/*
 * S390 - Default device handler behaviour.
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

import "errors"

// Base supplies no-op versions of the optional capabilities.
// Device types embed it and override what they support.
type Base struct {
	SenseData []byte // Current sense bytes
}

func (b *Base) StartChain() {}
func (b *Base) EndChain() {}
func (b *Base) Halt() {}
func (b *Base) Resume() {}
func (b *Base) Suspend() {}
func (b *Base) Attention(uint8) {}
func (b *Base) InitDev() uint8 { return 0 }

// Return current sense, one zero byte if none.
func (b *Base) Sense() []byte {
	if len(b.SenseData) == 0 {
		return []byte{0}
	}
	return b.SenseData
}

func (b *Base) Query() Info {
	return Info{Class: "UNKNOWN"}
}

func (b *Base) Debug(opt string) error {
	return errors.New("debug option invalid: " + opt)
}
