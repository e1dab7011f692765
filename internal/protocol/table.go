package protocol

import "github.com/dustin/gomemcached"

// ResponseHandler queues a response frame for the client. It returns SUCCESS
// or ENOMEM when the frame could not be queued.
type ResponseHandler func(c *Client, res *gomemcached.MCResponse) gomemcached.Status

// RawHandler is an interface-level-0 command handler. It receives the request
// with its extras, key and body exposed and answers through respond.
// Returning a status other than SUCCESS makes the framer send an error
// response carrying that status; StatusDisconnect closes the connection.
//
// The slices in req alias the input buffer and must be copied if retained.
type RawHandler func(c *Client, req *gomemcached.MCRequest, respond ResponseHandler) gomemcached.Status

// PreHook runs before every dispatched command.
type PreHook func(c *Client, req *gomemcached.MCRequest)

// PostHook runs after every dispatched command with the handler's status.
type PostHook func(c *Client, req *gomemcached.MCRequest, status gomemcached.Status)

// Hooks are the overridable entries of a command table.
type Hooks struct {
	// Unknown answers opcodes without a handler. Defaults to a handler
	// returning UNKNOWN_COMMAND.
	Unknown RawHandler

	PreExecute  PreHook
	PostExecute PostHook
}

// CommandTable maps opcodes to handlers. It is built once and never modified,
// so a single table may back any number of instances.
type CommandTable struct {
	version   int
	handlers  [256]RawHandler
	unknown   RawHandler
	pre       PreHook
	post      PostHook
	callbacks Callbacks
}

// NewRawTable builds an interface-level-0 table from a set of raw handlers.
func NewRawTable(commands map[gomemcached.CommandCode]RawHandler, hooks Hooks) *CommandTable {
	t := newTable(0, hooks)
	for op, h := range commands {
		if h != nil {
			t.handlers[op] = h
		}
	}
	return t
}

func newTable(version int, hooks Hooks) *CommandTable {
	t := &CommandTable{
		version: version,
		unknown: hooks.Unknown,
		pre:     hooks.PreExecute,
		post:    hooks.PostExecute,
	}
	if t.unknown == nil {
		t.unknown = unknownCommand
	}
	if t.pre == nil {
		t.pre = func(*Client, *gomemcached.MCRequest) {}
	}
	if t.post == nil {
		t.post = func(*Client, *gomemcached.MCRequest, gomemcached.Status) {}
	}
	return t
}

// InterfaceVersion reports 0 for raw tables and 1 for typed tables.
func (t *CommandTable) InterfaceVersion() int {
	return t.version
}

// Handler returns the handler dispatched for op, falling back to the unknown
// command handler.
func (t *CommandTable) Handler(op gomemcached.CommandCode) RawHandler {
	if h := t.handlers[op]; h != nil {
		return h
	}
	return t.unknown
}

// unknownCommand is the default fallback. The framer turns the status into
// an error response.
func unknownCommand(*Client, *gomemcached.MCRequest, ResponseHandler) gomemcached.Status {
	return gomemcached.UNKNOWN_COMMAND
}

// spoolResponse is the ResponseHandler every table receives.
func spoolResponse(c *Client, res *gomemcached.MCResponse) gomemcached.Status {
	if c.mute {
		return gomemcached.SUCCESS
	}
	if err := c.Spool(res.Bytes()); err != nil {
		return gomemcached.ENOMEM
	}
	return gomemcached.SUCCESS
}
