/*
 * S390 - Transfer buffer test set.
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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferGrow(t *testing.T) {
	var b ioBuffer
	b.reset(100)
	assert.Equal(t, uint32(ioBufInline), b.max)
	assert.Equal(t, uint32(ioBufInline), b.size())
	assert.True(t, b.grow(ioBufInline))
	assert.False(t, b.grow(ioBufInline+1))

	b.reset(256 * 1024)
	copy(b.window(0, 4), []byte{1, 2, 3, 4})
	require.True(t, b.grow(ioBufInline+10))
	assert.Equal(t, uint32(ioBufInline+4096), b.size())
	assert.Equal(t, []byte{1, 2, 3, 4}, b.window(0, 4))
	assert.True(t, b.grow(256*1024))
	assert.False(t, b.grow(256*1024+1))

	b.release()
	assert.Panics(t, func() { b.grow(10) })
}
