package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/gomemcached"
	"github.com/valyala/bytebufferpool"
)

// State is the protocol a client was detected to speak.
type State int

const (
	StateUndetermined State = iota
	StateBinary
	StateASCII
	StateError
)

func (s State) String() string {
	switch s {
	case StateUndetermined:
		return "undetermined"
	case StateBinary:
		return "binary"
	case StateASCII:
		return "ascii"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event tells the host what a client needs after a call to Work.
type Event int

const (
	// NeedMoreInput: nothing is pending, wait for the socket to be readable.
	NeedMoreInput Event = iota
	// HasOutput: output is queued, wait for the socket to be writable.
	HasOutput
	// Closed: the connection must be closed and the client released.
	Closed
)

func (e Event) String() string {
	switch e {
	case NeedMoreInput:
		return "need-more-input"
	case HasOutput:
		return "has-output"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

var unsupportedProtocolReply = []byte("Unsupported protocol\r\n")

// Client is the per-connection protocol session.
type Client struct {
	inst  *Instance
	conn  any
	state State
	err   error

	in     *bytebufferpool.ByteBuffer // received, not yet framed
	output []*Chunk
	mute   bool

	bytesIn  uint64
	bytesOut uint64
	closed   bool
}

// Conn returns the handle the client was created with.
func (c *Client) Conn() any { return c.conn }

// State returns the detected protocol.
func (c *Client) State() State { return c.state }

// Err returns the reason the client entered the error state.
func (c *Client) Err() error { return c.err }

// BytesIn returns the number of bytes received.
func (c *Client) BytesIn() uint64 { return c.bytesIn }

// BytesOut returns the number of bytes sent.
func (c *Client) BytesOut() uint64 { return c.bytesOut }

// Instance returns the instance the client belongs to.
func (c *Client) Instance() *Instance { return c.inst }

// Work reads everything the transport has, executes every complete command,
// then drains as much output as possible. The returned event tells the host
// what to wait for next.
func (c *Client) Work() Event {
	if c.closed {
		return Closed
	}
	if c.state == StateError {
		return c.shutdown()
	}

	for {
		buf := c.inst.recvBuf
		n, err := c.inst.transport.Recv(c, buf)
		if n > 0 {
			c.bytesIn += uint64(n)
			if c.in == nil {
				c.in = c.inst.inputs.Get()
			}
			c.in.Write(buf[:n])
			c.frame()
			if c.state == StateError {
				return c.shutdown()
			}
		}

		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				break
			}
			if !errors.Is(err, io.EOF) {
				c.fail(err)
				return Closed
			}
			c.state = StateError
			return c.shutdown()
		}
		if n == 0 {
			c.state = StateError
			return c.shutdown()
		}
	}

	if err := c.Drain(); err != nil {
		c.fail(err)
		return Closed
	}
	if len(c.output) > 0 {
		return HasOutput
	}
	return NeedMoreInput
}

// Close releases the client's buffers. It is safe to call more than once.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.releaseOutput()
	if c.in != nil {
		c.inst.inputs.Put(c.in)
		c.in = nil
	}
	if c.state != StateError {
		c.state = StateError
	}
}

// fail moves the client to the error state, keeping the first cause.
func (c *Client) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.state = StateError
}

// shutdown gives queued output one last chance to leave before the host closes
// the connection.
func (c *Client) shutdown() Event {
	if err := c.Drain(); err != nil && c.err == nil {
		c.err = err
	}
	return Closed
}

// frame runs the detected framer over the buffered input and keeps whatever
// is left of an incomplete command for the next call.
func (c *Client) frame() {
	data := c.in.B
	if len(data) == 0 {
		return
	}
	if c.state == StateUndetermined {
		c.negotiate(data[0])
	}

	consumed := 0
	switch c.state {
	case StateBinary:
		consumed = c.frameBinary(data)
	case StateASCII:
		consumed = c.frameText(data)
	}

	rest := copy(data, data[consumed:])
	c.in.B = data[:rest]
	if rest == 0 && c.state != StateError {
		c.inst.inputs.Put(c.in)
		c.in = nil
	}
}

// negotiate picks the framer from the first byte of the connection.
func (c *Client) negotiate(first byte) {
	switch {
	case first == gomemcached.REQ_MAGIC:
		c.state = StateBinary
	case c.inst.table.callbacks != nil:
		c.state = StateASCII
	default:
		// Best effort: the connection is closing either way.
		_ = c.Spool(unsupportedProtocolReply)
		c.fail(ErrUnsupportedProtocol)
	}
}
