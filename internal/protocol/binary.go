package protocol

import (
	"fmt"

	"github.com/dustin/gomemcached"
)

// errorText is the body memcached puts in an error response.
var errorText = map[gomemcached.Status]string{
	gomemcached.KEY_ENOENT:      "Not found",
	gomemcached.KEY_EEXISTS:     "Data exists for key.",
	gomemcached.E2BIG:           "Too large.",
	gomemcached.EINVAL:          "Invalid arguments",
	gomemcached.NOT_STORED:      "Not stored.",
	gomemcached.DELTA_BADVAL:    "Non-numeric server-side value for incr or decr",
	gomemcached.UNKNOWN_COMMAND: "Unknown command",
	gomemcached.ENOMEM:          "Out of memory",
}

// frameBinary executes every complete request frame in data and returns the
// number of bytes consumed. A partial frame is left for the next call.
func (c *Client) frameBinary(data []byte) int {
	consumed := 0
	for c.state == StateBinary && len(data)-consumed >= HeaderSize {
		h := parseHeader(data[consumed:])
		if err := h.validate(c.inst.maxBody); err != nil {
			c.fail(err)
			break
		}
		size := h.frameLen()
		if len(data)-consumed < size {
			break
		}
		req := h.request(data[consumed+HeaderSize : consumed+size])
		consumed += size
		c.execute(req)
	}
	return consumed
}

// execute dispatches one request through the command table. Quiet opcodes run
// muted, so whatever the handler spools on success is dropped. An error status
// always reaches the peer.
func (c *Client) execute(req *gomemcached.MCRequest) {
	t := c.inst.table
	t.pre(c, req)

	c.mute = mutesSuccess(req.Opcode)
	status := t.Handler(req.Opcode)(c, req, spoolResponse)
	c.mute = false

	t.post(c, req, status)

	switch status {
	case gomemcached.SUCCESS:
	case StatusDisconnect:
		c.fail(ErrClientClosed)
	default:
		res := NewResponse(req, status)
		if text, ok := errorText[status]; ok {
			res.Body = []byte(text)
		}
		if err := c.Spool(res.Bytes()); err != nil {
			c.fail(fmt.Errorf("%s error response: %w", OpcodeName(req.Opcode), err))
		}
	}
}
