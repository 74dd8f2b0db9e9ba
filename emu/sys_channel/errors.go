/*
 * S390 - Channel subsystem errors.
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

import "errors"

// Errors returned to the caller of an operation. These are conditions the
// CPU reports as operand or specification exceptions, they never appear in
// subchannel status.
var (
	ErrInvalidORB  = errors.New("invalid operation request block")
	ErrInvalidSID  = errors.New("invalid subchannel id")
	ErrInvalidPMCW = errors.New("invalid path management control word")
	ErrNoDevice    = errors.New("no device at address")
	ErrDupDevice   = errors.New("device already defined")
	ErrChannel     = errors.New("invalid channel")
	ErrTooMany     = errors.New("too many subchannels")
)
