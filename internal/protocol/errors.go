package protocol

import "errors"

var (
	// ErrWouldBlock is returned by a Transport when the socket cannot accept
	// or provide more bytes right now.
	ErrWouldBlock = errors.New("protocol: operation would block")

	// ErrNoMemory is returned by Spool when the chunk pool is exhausted.
	ErrNoMemory = errors.New("protocol: out of output chunks")

	// ErrFraming reports a malformed request frame. It is fatal to the
	// connection.
	ErrFraming = errors.New("protocol: malformed frame")

	// ErrUnsupportedProtocol is recorded when the first byte of a connection
	// selects no framer.
	ErrUnsupportedProtocol = errors.New("protocol: unsupported protocol")

	// ErrLineTooLong reports a text command line without a terminator.
	ErrLineTooLong = errors.New("protocol: command line too long")

	// ErrClientClosed is recorded when a handler asked for the connection to
	// be closed.
	ErrClientClosed = errors.New("protocol: closed by command")
)
