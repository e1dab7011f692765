package main

import (
	"encoding/binary"

	"github.com/dustin/gomemcached"

	"mclight.lopezb.com/internal/protocol"
)

// rawCommands returns the level 0 handler set. Each handler validates the
// frame layout of its opcode, runs the cache operation and writes its own
// response. Error statuses are returned to the framer, which answers them.
func (app *application) rawCommands() map[gomemcached.CommandCode]protocol.RawHandler {
	return map[gomemcached.CommandCode]protocol.RawHandler{
		gomemcached.GET:        app.rawGet,
		gomemcached.GETQ:       app.rawGet,
		gomemcached.GETK:       app.rawGet,
		gomemcached.GETKQ:      app.rawGet,
		gomemcached.SET:        app.rawStore,
		gomemcached.SETQ:       app.rawStore,
		gomemcached.ADD:        app.rawStore,
		gomemcached.ADDQ:       app.rawStore,
		gomemcached.REPLACE:    app.rawStore,
		gomemcached.REPLACEQ:   app.rawStore,
		gomemcached.APPEND:     app.rawConcat,
		gomemcached.APPENDQ:    app.rawConcat,
		gomemcached.PREPEND:    app.rawConcat,
		gomemcached.PREPENDQ:   app.rawConcat,
		gomemcached.DELETE:     app.rawDelete,
		gomemcached.DELETEQ:    app.rawDelete,
		gomemcached.INCREMENT:  app.rawArithmetic,
		gomemcached.INCREMENTQ: app.rawArithmetic,
		gomemcached.DECREMENT:  app.rawArithmetic,
		gomemcached.DECREMENTQ: app.rawArithmetic,
		gomemcached.FLUSH:      app.rawFlush,
		gomemcached.FLUSHQ:     app.rawFlush,
		gomemcached.QUIT:       app.rawQuit,
		gomemcached.QUITQ:      app.rawQuit,
		gomemcached.NOOP:       app.rawNoop,
		gomemcached.VERSION:    app.rawVersion,
		gomemcached.STAT:       app.rawStat,
	}
}

func (app *application) rawGet(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 0 || len(req.Body) != 0 {
		return gomemcached.EINVAL
	}

	it, status := app.cache.get(req.Key)
	if status == gomemcached.KEY_ENOENT &&
		(req.Opcode == gomemcached.GETQ || req.Opcode == gomemcached.GETKQ) {
		return gomemcached.SUCCESS
	}
	if status != gomemcached.SUCCESS {
		return status
	}
	defer app.store.Release(it)

	res := protocol.NewResponse(req, gomemcached.SUCCESS)
	res.Extras = binary.BigEndian.AppendUint32(nil, it.Flags)
	res.Cas = it.CAS
	res.Body = it.Data
	if req.Opcode == gomemcached.GETK || req.Opcode == gomemcached.GETKQ {
		res.Key = req.Key
	}
	return respond(c, res)
}

func (app *application) rawStore(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 8 {
		return gomemcached.EINVAL
	}
	flags := binary.BigEndian.Uint32(req.Extras[0:4])
	exptime := binary.BigEndian.Uint32(req.Extras[4:8])

	mode := modeSet
	switch req.Opcode {
	case gomemcached.ADD, gomemcached.ADDQ:
		mode = modeAdd
	case gomemcached.REPLACE, gomemcached.REPLACEQ:
		mode = modeReplace
	}

	cas, status := app.cache.set(mode, req.Key, req.Body, flags, exptime, req.Cas)
	if status != gomemcached.SUCCESS {
		return status
	}
	res := protocol.NewResponse(req, gomemcached.SUCCESS)
	res.Cas = cas
	return respond(c, res)
}

func (app *application) rawConcat(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 0 {
		return gomemcached.EINVAL
	}
	prepend := req.Opcode == gomemcached.PREPEND || req.Opcode == gomemcached.PREPENDQ

	cas, status := app.cache.concat(prepend, req.Key, req.Body, req.Cas)
	if status != gomemcached.SUCCESS {
		return status
	}
	res := protocol.NewResponse(req, gomemcached.SUCCESS)
	res.Cas = cas
	return respond(c, res)
}

func (app *application) rawDelete(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 0 || len(req.Body) != 0 {
		return gomemcached.EINVAL
	}
	if status := app.cache.remove(req.Key, req.Cas); status != gomemcached.SUCCESS {
		return status
	}
	return respond(c, protocol.NewResponse(req, gomemcached.SUCCESS))
}

func (app *application) rawArithmetic(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	if len(req.Extras) != 20 || len(req.Body) != 0 {
		return gomemcached.EINVAL
	}
	delta := binary.BigEndian.Uint64(req.Extras[0:8])
	initial := binary.BigEndian.Uint64(req.Extras[8:16])
	exptime := binary.BigEndian.Uint32(req.Extras[16:20])
	incr := req.Opcode == gomemcached.INCREMENT || req.Opcode == gomemcached.INCREMENTQ

	counter, status := app.cache.arithmetic(incr, req.Key, delta, initial, exptime)
	if status != gomemcached.SUCCESS {
		return status
	}
	res := protocol.NewResponse(req, gomemcached.SUCCESS)
	res.Cas = counter.CAS
	res.Body = binary.BigEndian.AppendUint64(nil, counter.Value)
	return respond(c, res)
}

func (app *application) rawFlush(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	var when uint32
	switch len(req.Extras) {
	case 0:
	case 4:
		when = binary.BigEndian.Uint32(req.Extras)
	default:
		return gomemcached.EINVAL
	}
	app.cache.flush(when)
	return respond(c, protocol.NewResponse(req, gomemcached.SUCCESS))
}

func (app *application) rawQuit(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	respond(c, protocol.NewResponse(req, gomemcached.SUCCESS))
	return protocol.StatusDisconnect
}

func (app *application) rawNoop(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	return respond(c, protocol.NewResponse(req, gomemcached.SUCCESS))
}

func (app *application) rawVersion(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	res := protocol.NewResponse(req, gomemcached.SUCCESS)
	res.Body = []byte(serverVersion)
	return respond(c, res)
}

func (app *application) rawStat(c *protocol.Client, req *gomemcached.MCRequest, respond protocol.ResponseHandler) gomemcached.Status {
	emit := func(key, value string) gomemcached.Status {
		res := protocol.NewResponse(req, gomemcached.SUCCESS)
		res.Key = []byte(key)
		res.Body = []byte(value)
		return respond(c, res)
	}
	if status := app.stats(string(req.Key), emit); status != gomemcached.SUCCESS {
		return status
	}
	return respond(c, protocol.NewResponse(req, gomemcached.SUCCESS))
}
