package main

import (
	"github.com/dustin/gomemcached"

	"mclight.lopezb.com/internal/protocol"
)

// hooks returns the pre and post execution hooks of the command table. The
// post hook always counts commands; with -v both hooks also log every
// command to stderr.
func (app *application) hooks() protocol.Hooks {
	h := protocol.Hooks{PostExecute: app.postExecute}
	if app.debug != nil {
		h.PreExecute = app.preExecute
	}
	return h
}

func (app *application) preExecute(c *protocol.Client, req *gomemcached.MCRequest) {
	app.debug.Debug("command",
		"remote_addr", remoteAddr(c),
		"opcode", protocol.OpcodeName(req.Opcode),
		"opaque", req.Opaque,
		"key", string(req.Key),
		"body_len", len(req.Body))
}

func (app *application) postExecute(c *protocol.Client, req *gomemcached.MCRequest, status gomemcached.Status) {
	name := protocol.OpcodeName(req.Opcode)
	app.metrics.TotalCommands.Add(1)
	if status != gomemcached.SUCCESS && status != protocol.StatusDisconnect {
		app.metrics.FailedCommands.Add(1)
	}
	app.metrics.commands.WithLabelValues(name, protocol.StatusName(status)).Inc()

	if app.debug != nil {
		app.debug.Debug("command done",
			"remote_addr", remoteAddr(c),
			"opcode", name,
			"status", protocol.StatusName(status))
	}
}

// remoteAddr returns the peer address of a reactor client.
func remoteAddr(c *protocol.Client) string {
	if s, ok := c.Conn().(*session); ok {
		return s.remote
	}
	return ""
}
