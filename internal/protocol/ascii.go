// ascii.go is the text protocol framer. It only exists for interface-level-1
// tables: each command line is translated into the same Callbacks the binary
// adapter uses, and the typed results are rendered as text replies.

package protocol

import (
	"bytes"
	"strconv"

	"github.com/dustin/gomemcached"
	"github.com/valyala/bytebufferpool"
)

const (
	// MaxLineLength bounds a text command line, terminator included.
	MaxLineLength = 2048

	// MaxKeyLength is the longest key the text protocol accepts.
	MaxKeyLength = 250
)

var (
	crlf = []byte("\r\n")

	replyStored     = []byte("STORED\r\n")
	replyNotStored  = []byte("NOT_STORED\r\n")
	replyExists     = []byte("EXISTS\r\n")
	replyNotFound   = []byte("NOT_FOUND\r\n")
	replyDeleted    = []byte("DELETED\r\n")
	replyOK         = []byte("OK\r\n")
	replyEnd        = []byte("END\r\n")
	replyError      = []byte("ERROR\r\n")
	replyBadFormat  = []byte("CLIENT_ERROR bad command line format\r\n")
	replyBadChunk   = []byte("CLIENT_ERROR bad data chunk\r\n")
	replyNonNumeric = []byte("CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
	replyTooLarge   = []byte("SERVER_ERROR object too large for cache\r\n")
	replyNoMemory   = []byte("SERVER_ERROR out of memory storing object\r\n")
)

// textOpcodes maps a text verb to the binary opcode reported to the hooks.
var textOpcodes = map[string]gomemcached.CommandCode{
	"get":       gomemcached.GETK,
	"gets":      gomemcached.GETK,
	"set":       gomemcached.SET,
	"add":       gomemcached.ADD,
	"replace":   gomemcached.REPLACE,
	"append":    gomemcached.APPEND,
	"prepend":   gomemcached.PREPEND,
	"cas":       gomemcached.SET,
	"delete":    gomemcached.DELETE,
	"incr":      gomemcached.INCREMENT,
	"decr":      gomemcached.DECREMENT,
	"flush_all": gomemcached.FLUSH,
	"version":   gomemcached.VERSION,
	"verbosity": gomemcached.NOOP,
	"stats":     gomemcached.STAT,
	"quit":      gomemcached.QUIT,
}

// frameText executes every complete command in data and returns the number
// of bytes consumed.
func (c *Client) frameText(data []byte) int {
	consumed := 0
	for c.state == StateASCII && consumed < len(data) {
		n := c.textCommand(data[consumed:])
		if n == 0 {
			break
		}
		consumed += n
	}
	return consumed
}

// textCommand executes the command at the start of data. It returns 0 when
// the command is not complete yet.
func (c *Client) textCommand(data []byte) int {
	eol := bytes.IndexByte(data, '\n')
	if eol < 0 {
		if len(data) >= MaxLineLength {
			_ = c.Spool(replyBadFormat)
			c.fail(ErrLineTooLong)
		}
		return 0
	}
	consumed := eol + 1
	line := bytes.TrimSuffix(data[:eol], []byte{'\r'})
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		c.reply(replyError)
		return consumed
	}

	verb := string(fields[0])
	args := fields[1:]
	op, known := textOpcodes[verb]
	if !known {
		c.reply(replyError)
		return consumed
	}

	noreply := len(args) > 0 && string(args[len(args)-1]) == "noreply"
	if noreply {
		args = args[:len(args)-1]
	}

	req := &gomemcached.MCRequest{Opcode: op}
	if len(args) > 0 {
		req.Key = args[0]
	}

	// Storage commands carry a data block after the line.
	var block []byte
	switch verb {
	case "set", "add", "replace", "append", "prepend", "cas":
		if len(args) < 4 {
			c.reply(replyBadFormat)
			return consumed
		}
		n, err := strconv.ParseUint(string(args[3]), 10, 32)
		if err != nil {
			c.reply(replyBadFormat)
			return consumed
		}
		// The block and its terminator must fit the body limit before any
		// arithmetic on size.
		if n+2 > uint64(c.inst.maxBody) {
			_ = c.Spool(replyTooLarge)
			c.fail(ErrFraming)
			return 0
		}
		size := int(n)
		if len(data)-consumed < size+2 {
			return 0
		}
		block = data[consumed : consumed+size]
		if !bytes.Equal(data[consumed+size:consumed+size+2], crlf) {
			// Swallow the rest of the malformed block up to its newline.
			c.reply(replyBadChunk)
			if next := bytes.IndexByte(data[consumed+size:], '\n'); next >= 0 {
				return consumed + size + next + 1
			}
			return consumed + size + 2
		}
		consumed += size + 2
		req.Body = block
	}

	t := c.inst.table
	t.pre(c, req)
	c.mute = noreply
	status := c.runText(verb, args, block)
	c.mute = false
	t.post(c, req, status)

	if status == StatusDisconnect {
		c.fail(ErrClientClosed)
	}
	return consumed
}

// runText dispatches one parsed text command to the callbacks.
func (c *Client) runText(verb string, args [][]byte, block []byte) gomemcached.Status {
	cb := c.inst.table.callbacks

	if len(args) > 0 && len(args[0]) > MaxKeyLength {
		c.reply(replyBadFormat)
		return gomemcached.EINVAL
	}

	switch verb {
	case "get", "gets":
		return c.textGet(cb, args, verb == "gets")

	case "set", "add", "replace", "append", "prepend", "cas":
		return c.textStore(cb, verb, args, block)

	case "delete":
		if len(args) != 1 {
			c.reply(replyBadFormat)
			return gomemcached.EINVAL
		}
		status := cb.Delete(c, args[0], 0)
		switch status {
		case gomemcached.SUCCESS:
			c.reply(replyDeleted)
		case gomemcached.KEY_ENOENT:
			c.reply(replyNotFound)
		default:
			c.replyServerError(status)
		}
		return status

	case "incr", "decr":
		if len(args) != 2 {
			c.reply(replyBadFormat)
			return gomemcached.EINVAL
		}
		delta, err := strconv.ParseUint(string(args[1]), 10, 64)
		if err != nil {
			c.reply(replyBadFormat)
			return gomemcached.EINVAL
		}
		var (
			counter Counter
			status  gomemcached.Status
		)
		if verb == "incr" {
			counter, status = cb.Increment(c, args[0], delta, 0, NoAutoCreate)
		} else {
			counter, status = cb.Decrement(c, args[0], delta, 0, NoAutoCreate)
		}
		switch status {
		case gomemcached.SUCCESS:
			c.reply(strconv.AppendUint(nil, counter.Value, 10), crlf)
		case gomemcached.KEY_ENOENT:
			c.reply(replyNotFound)
		case gomemcached.DELTA_BADVAL:
			c.reply(replyNonNumeric)
		default:
			c.replyServerError(status)
		}
		return status

	case "flush_all":
		var when uint32
		if len(args) > 0 {
			v, err := strconv.ParseUint(string(args[0]), 10, 32)
			if err != nil {
				c.reply(replyBadFormat)
				return gomemcached.EINVAL
			}
			when = uint32(v)
		}
		status := cb.Flush(c, when)
		if status == gomemcached.SUCCESS {
			c.reply(replyOK)
		} else {
			c.replyServerError(status)
		}
		return status

	case "version":
		v, status := cb.Version(c)
		if status == gomemcached.SUCCESS {
			c.reply([]byte("VERSION "), []byte(v), crlf)
		} else {
			c.replyServerError(status)
		}
		return status

	case "verbosity":
		c.reply(replyOK)
		return gomemcached.SUCCESS

	case "stats":
		var group []byte
		if len(args) > 0 {
			group = args[0]
		}
		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)
		status := cb.Stat(c, group, func(key, value string) gomemcached.Status {
			buf.WriteString("STAT ")
			buf.WriteString(key)
			buf.WriteByte(' ')
			buf.WriteString(value)
			buf.Write(crlf)
			return gomemcached.SUCCESS
		})
		switch status {
		case gomemcached.SUCCESS:
		case gomemcached.KEY_ENOENT:
			c.reply(replyError)
			return status
		default:
			c.replyServerError(status)
			return status
		}
		buf.Write(replyEnd)
		c.reply(buf.B)
		return status

	case "quit":
		if status := cb.Quit(c); status != gomemcached.SUCCESS {
			c.replyServerError(status)
			return status
		}
		return StatusDisconnect
	}

	c.reply(replyError)
	return gomemcached.UNKNOWN_COMMAND
}

func (c *Client) textGet(cb Callbacks, keys [][]byte, withCAS bool) gomemcached.Status {
	if len(keys) == 0 {
		c.reply(replyError)
		return gomemcached.EINVAL
	}

	// The whole reply is assembled first so it is queued all-or-nothing.
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for _, key := range keys {
		if len(key) > MaxKeyLength {
			c.reply(replyBadFormat)
			return gomemcached.EINVAL
		}
		v, status := cb.Get(c, key)
		if status != gomemcached.SUCCESS {
			continue
		}
		buf.WriteString("VALUE ")
		buf.Write(key)
		buf.WriteByte(' ')
		buf.B = strconv.AppendUint(buf.B, uint64(v.Flags), 10)
		buf.WriteByte(' ')
		buf.B = strconv.AppendInt(buf.B, int64(len(v.Data)), 10)
		if withCAS {
			buf.WriteByte(' ')
			buf.B = strconv.AppendUint(buf.B, v.CAS, 10)
		}
		buf.Write(crlf)
		buf.Write(v.Data)
		buf.Write(crlf)
	}
	buf.Write(replyEnd)
	c.reply(buf.B)
	return gomemcached.SUCCESS
}

func (c *Client) textStore(cb Callbacks, verb string, args [][]byte, block []byte) gomemcached.Status {
	if (verb == "cas" && len(args) != 5) || (verb != "cas" && len(args) != 4) {
		c.reply(replyBadFormat)
		return gomemcached.EINVAL
	}
	flags, err1 := strconv.ParseUint(string(args[1]), 10, 32)
	exptime, err2 := strconv.ParseUint(string(args[2]), 10, 32)
	if err1 != nil || err2 != nil {
		c.reply(replyBadFormat)
		return gomemcached.EINVAL
	}
	var cas uint64
	if verb == "cas" {
		v, err := strconv.ParseUint(string(args[4]), 10, 64)
		if err != nil {
			c.reply(replyBadFormat)
			return gomemcached.EINVAL
		}
		cas = v
	}

	key := args[0]
	var status gomemcached.Status
	switch verb {
	case "set", "cas":
		_, status = cb.Set(c, key, block, uint32(flags), uint32(exptime), cas)
	case "add":
		_, status = cb.Add(c, key, block, uint32(flags), uint32(exptime))
	case "replace":
		_, status = cb.Replace(c, key, block, uint32(flags), uint32(exptime), 0)
	case "append":
		_, status = cb.Append(c, key, block, 0)
	case "prepend":
		_, status = cb.Prepend(c, key, block, 0)
	}

	switch {
	case status == gomemcached.SUCCESS:
		c.reply(replyStored)
	case status == gomemcached.KEY_EEXISTS && verb == "cas":
		c.reply(replyExists)
	case status == gomemcached.KEY_ENOENT && verb == "cas":
		c.reply(replyNotFound)
	case status == gomemcached.KEY_EEXISTS, status == gomemcached.KEY_ENOENT,
		status == gomemcached.NOT_STORED:
		c.reply(replyNotStored)
	default:
		c.replyServerError(status)
	}
	return status
}

// reply queues the concatenation of parts as one text reply. A reply that
// cannot be queued is fatal: the peer would otherwise wait forever.
func (c *Client) reply(parts ...[]byte) {
	p := parts[0]
	if len(parts) > 1 {
		p = bytes.Join(parts, nil)
	}
	if err := c.Spool(p); err != nil {
		c.fail(err)
	}
}

func (c *Client) replyServerError(status gomemcached.Status) {
	switch status {
	case gomemcached.E2BIG:
		c.reply(replyTooLarge)
	case gomemcached.ENOMEM:
		c.reply(replyNoMemory)
	default:
		c.reply([]byte("SERVER_ERROR "), []byte(StatusName(status)), crlf)
	}
}
