package transcode

import (
	"errors"
	"fmt"
	"io"
)

// ErrNeedMoreData is returned by Cursor.Read when every supplied byte has
// been consumed and the input is still open.
var ErrNeedMoreData = errors.New("transcode: need more data")

var errPendingLimit = errors.New("transcode: pending input limit exceeded")

// DefaultMaxPendingBytes bounds the unconsumed input a Cursor holds.
const DefaultMaxPendingBytes = 64 << 20

// Cursor is the byte queue between Push and the demuxer. It never blocks:
// a read with nothing pending fails with ErrNeedMoreData until Close marks
// the end of input, after which it returns io.EOF.
type Cursor struct {
	buf    []byte
	off    int
	closed bool
	max    int

	consumed int64
}

// NewCursor returns a Cursor holding at most max unconsumed bytes. A max of
// zero or less means DefaultMaxPendingBytes.
func NewCursor(max int) *Cursor {
	if max <= 0 {
		max = DefaultMaxPendingBytes
	}
	return &Cursor{max: max}
}

// Supply queues p after any unconsumed bytes. p is copied.
func (c *Cursor) Supply(p []byte) error {
	if c.closed {
		return errors.New("transcode: supply after close")
	}
	if c.off > 0 {
		n := copy(c.buf, c.buf[c.off:])
		c.buf = c.buf[:n]
		c.off = 0
	}
	if len(c.buf)+len(p) > c.max {
		return fmt.Errorf("%w: %d pending + %d supplied > %d", errPendingLimit, len(c.buf), len(p), c.max)
	}
	c.buf = append(c.buf, p...)
	return nil
}

// Read implements io.Reader.
func (c *Cursor) Read(p []byte) (int, error) {
	if c.off == len(c.buf) {
		if c.closed {
			return 0, io.EOF
		}
		if len(p) == 0 {
			return 0, nil
		}
		return 0, ErrNeedMoreData
	}
	n := copy(p, c.buf[c.off:])
	c.off += n
	c.consumed += int64(n)
	return n, nil
}

// Peek returns up to n pending bytes without consuming them. The slice is
// valid until the next Supply.
func (c *Cursor) Peek(n int) []byte {
	rest := c.buf[c.off:]
	if n < len(rest) {
		rest = rest[:n]
	}
	return rest
}

// Close marks the end of input.
func (c *Cursor) Close() {
	c.closed = true
}

// Closed reports whether Close has been called.
func (c *Cursor) Closed() bool {
	return c.closed
}

// Len returns the number of unconsumed bytes.
func (c *Cursor) Len() int {
	return len(c.buf) - c.off
}

// Consumed returns the number of bytes read so far.
func (c *Cursor) Consumed() int64 {
	return c.consumed
}

// reset drops every pending byte.
func (c *Cursor) reset() {
	c.buf, c.off = nil, 0
}
