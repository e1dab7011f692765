// wire.go holds the parts of the memcached binary protocol the dispatcher
// needs: the 24-byte request header, the quiet-opcode property and the
// response encoding.
//
// Header layout (big endian):
//
//	+-------+--------+--------+--------+----------+---------+
//	| Magic | Opcode | KeyLen | ExtLen | DataType | VBucket |
//	| 1B    | 1B     | 2B     | 1B     | 1B       | 2B      |
//	+-------+--------+--------+--------+----------+---------+
//	| BodyLen (4B) | Opaque (4B) | CAS (8B)                 |
//	+--------------+-------------+--------------------------+
//
// The body that follows is Extras + Key + Value, in that order. Parsing works
// on an in-memory buffer instead of an io.Reader because the framer must be
// able to look at a frame without consuming it while more bytes are pending.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/dustin/gomemcached"
)

// HeaderSize is the fixed size of a binary request or response header.
const HeaderSize = gomemcached.HDR_LEN

// DefaultMaxBodySize bounds the body a single request may declare.
const DefaultMaxBodySize = 1024*1024 + 512

// StatusDisconnect is returned by a handler to ask the framer to close the
// connection once everything spooled so far has been written. It never
// appears on the wire.
const StatusDisconnect = gomemcached.Status(0xffff)

// header is the decoded fixed part of a request frame.
type header struct {
	magic    byte
	opcode   gomemcached.CommandCode
	keyLen   uint16
	extLen   uint8
	vbucket  uint16
	bodyLen  uint32
	opaque   uint32
	cas      uint64
	dataType uint8
}

// parseHeader decodes a request header. b must hold at least HeaderSize bytes.
func parseHeader(b []byte) header {
	return header{
		magic:    b[0],
		opcode:   gomemcached.CommandCode(b[1]),
		keyLen:   binary.BigEndian.Uint16(b[2:4]),
		extLen:   b[4],
		dataType: b[5],
		vbucket:  binary.BigEndian.Uint16(b[6:8]),
		bodyLen:  binary.BigEndian.Uint32(b[8:12]),
		opaque:   binary.BigEndian.Uint32(b[12:16]),
		cas:      binary.BigEndian.Uint64(b[16:24]),
	}
}

// validate checks the header is a request whose declared lengths are sane.
func (h header) validate(maxBody int) error {
	if h.magic != gomemcached.REQ_MAGIC {
		return fmt.Errorf("%w: bad magic 0x%02x", ErrFraming, h.magic)
	}
	if uint32(h.keyLen)+uint32(h.extLen) > h.bodyLen {
		return fmt.Errorf("%w: key and extras exceed body length", ErrFraming)
	}
	if maxBody > 0 && h.bodyLen > uint32(maxBody) {
		return fmt.Errorf("%w: body of %d bytes exceeds limit", ErrFraming, h.bodyLen)
	}
	return nil
}

// frameLen is the total size of the frame described by the header.
func (h header) frameLen() int {
	return HeaderSize + int(h.bodyLen)
}

// request builds the request view over body. The returned slices alias the
// input buffer and are only valid for the duration of the handler call.
func (h header) request(body []byte) *gomemcached.MCRequest {
	ext := int(h.extLen)
	key := ext + int(h.keyLen)
	return &gomemcached.MCRequest{
		Opcode:  h.opcode,
		Cas:     h.cas,
		Opaque:  h.opaque,
		VBucket: h.vbucket,
		Extras:  body[:ext:ext],
		Key:     body[ext:key:key],
		Body:    body[key:],
	}
}

// IsQuiet reports whether op is a quiet variant whose success responses are
// suppressed.
func IsQuiet(op gomemcached.CommandCode) bool {
	switch op {
	case gomemcached.GETQ, gomemcached.GETKQ,
		gomemcached.SETQ, gomemcached.ADDQ, gomemcached.REPLACEQ,
		gomemcached.DELETEQ,
		gomemcached.INCREMENTQ, gomemcached.DECREMENTQ,
		gomemcached.QUITQ, gomemcached.FLUSHQ,
		gomemcached.APPENDQ, gomemcached.PREPENDQ:
		return true
	}
	return false
}

// mutesSuccess reports whether a successful op must send nothing. Quiet gets
// still return hits; only their misses are silent.
func mutesSuccess(op gomemcached.CommandCode) bool {
	return IsQuiet(op) && op != gomemcached.GETQ && op != gomemcached.GETKQ
}

// NewResponse returns a response header matching req with the given status.
func NewResponse(req *gomemcached.MCRequest, status gomemcached.Status) *gomemcached.MCResponse {
	return &gomemcached.MCResponse{
		Opcode: req.Opcode,
		Status: status,
		Opaque: req.Opaque,
	}
}

// OpcodeName returns a printable name for op.
func OpcodeName(op gomemcached.CommandCode) string {
	if name, ok := gomemcached.CommandNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(op))
}

// StatusName returns a printable name for status.
func StatusName(status gomemcached.Status) string {
	if status == StatusDisconnect {
		return "DISCONNECT"
	}
	if name, ok := gomemcached.StatusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(status))
}
