// typed.go is the interface-level-1 adapter. A typed table is an ordinary
// CommandTable whose raw handlers decode each request into a call on
// Callbacks and encode the typed result back into a response frame, so the
// binary framer never needs to know which interface level it serves.

package protocol

import (
	"encoding/binary"

	"github.com/dustin/gomemcached"
)

// NoAutoCreate as the expiration of an arithmetic command means the counter
// must not be created when it does not exist.
const NoAutoCreate = 0xffffffff

// Value is an item returned by a Get callback.
type Value struct {
	Data  []byte
	Flags uint32
	CAS   uint64
}

// Counter is the result of an arithmetic callback.
type Counter struct {
	Value uint64
	CAS   uint64
}

// StatEmitter sends one statistic to the client.
type StatEmitter func(key, value string) gomemcached.Status

// Callbacks is the interface-level-1 command set, one method per memcached
// verb. Mutating callbacks return the CAS of the stored item. Slices passed in
// alias the input buffer and must be copied if retained.
type Callbacks interface {
	Get(c *Client, key []byte) (Value, gomemcached.Status)
	Set(c *Client, key, data []byte, flags, exptime uint32, cas uint64) (uint64, gomemcached.Status)
	Add(c *Client, key, data []byte, flags, exptime uint32) (uint64, gomemcached.Status)
	Replace(c *Client, key, data []byte, flags, exptime uint32, cas uint64) (uint64, gomemcached.Status)
	Append(c *Client, key, data []byte, cas uint64) (uint64, gomemcached.Status)
	Prepend(c *Client, key, data []byte, cas uint64) (uint64, gomemcached.Status)
	Delete(c *Client, key []byte, cas uint64) gomemcached.Status
	Increment(c *Client, key []byte, delta, initial uint64, exptime uint32) (Counter, gomemcached.Status)
	Decrement(c *Client, key []byte, delta, initial uint64, exptime uint32) (Counter, gomemcached.Status)
	Flush(c *Client, when uint32) gomemcached.Status
	Noop(c *Client) gomemcached.Status
	Quit(c *Client) gomemcached.Status
	Version(c *Client) (string, gomemcached.Status)
	Stat(c *Client, group []byte, emit StatEmitter) gomemcached.Status
}

// NewTypedTable builds an interface-level-1 table around cb.
func NewTypedTable(cb Callbacks, hooks Hooks) *CommandTable {
	t := newTable(1, hooks)
	t.callbacks = cb
	a := &typedAdapter{cb: cb}

	register := func(h RawHandler, ops ...gomemcached.CommandCode) {
		for _, op := range ops {
			t.handlers[op] = h
		}
	}
	register(a.get, gomemcached.GET, gomemcached.GETQ, gomemcached.GETK, gomemcached.GETKQ)
	register(a.store, gomemcached.SET, gomemcached.SETQ,
		gomemcached.ADD, gomemcached.ADDQ,
		gomemcached.REPLACE, gomemcached.REPLACEQ)
	register(a.concat, gomemcached.APPEND, gomemcached.APPENDQ,
		gomemcached.PREPEND, gomemcached.PREPENDQ)
	register(a.delete, gomemcached.DELETE, gomemcached.DELETEQ)
	register(a.arithmetic, gomemcached.INCREMENT, gomemcached.INCREMENTQ,
		gomemcached.DECREMENT, gomemcached.DECREMENTQ)
	register(a.flush, gomemcached.FLUSH, gomemcached.FLUSHQ)
	register(a.quit, gomemcached.QUIT, gomemcached.QUITQ)
	register(a.noop, gomemcached.NOOP)
	register(a.version, gomemcached.VERSION)
	register(a.stat, gomemcached.STAT)
	return t
}

// Callbacks returns the typed command set of an interface-level-1 table, or
// nil for a raw table.
func (t *CommandTable) Callbacks() Callbacks {
	return t.callbacks
}

type typedAdapter struct {
	cb Callbacks
}

func (a *typedAdapter) get(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 0 || len(req.Body) != 0 {
		return gomemcached.EINVAL
	}

	v, status := a.cb.Get(c, req.Key)
	if status != gomemcached.SUCCESS {
		// GETQ and GETKQ stay silent on a miss.
		if status == gomemcached.KEY_ENOENT &&
			(req.Opcode == gomemcached.GETQ || req.Opcode == gomemcached.GETKQ) {
			return gomemcached.SUCCESS
		}
		return status
	}

	res := NewResponse(req, gomemcached.SUCCESS)
	res.Extras = make([]byte, 4)
	binary.BigEndian.PutUint32(res.Extras, v.Flags)
	res.Cas = v.CAS
	res.Body = v.Data
	if req.Opcode == gomemcached.GETK || req.Opcode == gomemcached.GETKQ {
		res.Key = req.Key
	}
	return respond(c, res)
}

func (a *typedAdapter) store(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 8 {
		return gomemcached.EINVAL
	}
	flags := binary.BigEndian.Uint32(req.Extras[0:4])
	exptime := binary.BigEndian.Uint32(req.Extras[4:8])

	var (
		cas    uint64
		status gomemcached.Status
	)
	switch req.Opcode {
	case gomemcached.SET, gomemcached.SETQ:
		cas, status = a.cb.Set(c, req.Key, req.Body, flags, exptime, req.Cas)
	case gomemcached.ADD, gomemcached.ADDQ:
		cas, status = a.cb.Add(c, req.Key, req.Body, flags, exptime)
	default:
		cas, status = a.cb.Replace(c, req.Key, req.Body, flags, exptime, req.Cas)
	}
	if status != gomemcached.SUCCESS {
		return status
	}

	res := NewResponse(req, gomemcached.SUCCESS)
	res.Cas = cas
	return respond(c, res)
}

func (a *typedAdapter) concat(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 0 {
		return gomemcached.EINVAL
	}

	var (
		cas    uint64
		status gomemcached.Status
	)
	if req.Opcode == gomemcached.APPEND || req.Opcode == gomemcached.APPENDQ {
		cas, status = a.cb.Append(c, req.Key, req.Body, req.Cas)
	} else {
		cas, status = a.cb.Prepend(c, req.Key, req.Body, req.Cas)
	}
	if status != gomemcached.SUCCESS {
		return status
	}

	res := NewResponse(req, gomemcached.SUCCESS)
	res.Cas = cas
	return respond(c, res)
}

func (a *typedAdapter) delete(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 0 || len(req.Body) != 0 {
		return gomemcached.EINVAL
	}
	if status := a.cb.Delete(c, req.Key, req.Cas); status != gomemcached.SUCCESS {
		return status
	}
	return respond(c, NewResponse(req, gomemcached.SUCCESS))
}

func (a *typedAdapter) arithmetic(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 20 || len(req.Body) != 0 {
		return gomemcached.EINVAL
	}
	delta := binary.BigEndian.Uint64(req.Extras[0:8])
	initial := binary.BigEndian.Uint64(req.Extras[8:16])
	exptime := binary.BigEndian.Uint32(req.Extras[16:20])

	var (
		counter Counter
		status  gomemcached.Status
	)
	if req.Opcode == gomemcached.INCREMENT || req.Opcode == gomemcached.INCREMENTQ {
		counter, status = a.cb.Increment(c, req.Key, delta, initial, exptime)
	} else {
		counter, status = a.cb.Decrement(c, req.Key, delta, initial, exptime)
	}
	if status != gomemcached.SUCCESS {
		return status
	}

	res := NewResponse(req, gomemcached.SUCCESS)
	res.Cas = counter.CAS
	res.Body = make([]byte, 8)
	binary.BigEndian.PutUint64(res.Body, counter.Value)
	return respond(c, res)
}

func (a *typedAdapter) flush(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	var when uint32
	switch len(req.Extras) {
	case 0:
	case 4:
		when = binary.BigEndian.Uint32(req.Extras)
	default:
		return gomemcached.EINVAL
	}
	if status := a.cb.Flush(c, when); status != gomemcached.SUCCESS {
		return status
	}
	return respond(c, NewResponse(req, gomemcached.SUCCESS))
}

func (a *typedAdapter) quit(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if status := a.cb.Quit(c); status != gomemcached.SUCCESS {
		return status
	}
	// The response goes out before the connection is closed; the framer
	// drains the queue on StatusDisconnect.
	respond(c, NewResponse(req, gomemcached.SUCCESS))
	return StatusDisconnect
}

func (a *typedAdapter) noop(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	if status := a.cb.Noop(c); status != gomemcached.SUCCESS {
		return status
	}
	return respond(c, NewResponse(req, gomemcached.SUCCESS))
}

func (a *typedAdapter) version(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	v, status := a.cb.Version(c)
	if status != gomemcached.SUCCESS {
		return status
	}
	res := NewResponse(req, gomemcached.SUCCESS)
	res.Body = []byte(v)
	return respond(c, res)
}

func (a *typedAdapter) stat(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status {
	emit := func(key, value string) gomemcached.Status {
		res := NewResponse(req, gomemcached.SUCCESS)
		res.Key = []byte(key)
		res.Body = []byte(value)
		return respond(c, res)
	}
	if status := a.cb.Stat(c, req.Key, emit); status != gomemcached.SUCCESS {
		return status
	}
	// An empty key and value terminates the stat sequence.
	return respond(c, NewResponse(req, gomemcached.SUCCESS))
}
