package protocol

import (
	"errors"

	"github.com/valyala/bytebufferpool"
)

// DefaultInputBufferSize is the size of a single receive call.
const DefaultInputBufferSize = 8 * 1024

// Transport moves bytes between a client and its socket. Both calls must not
// block: when nothing can be moved right now they return ErrWouldBlock. A
// Recv returning (0, nil) or io.EOF means the peer closed the connection.
type Transport interface {
	Recv(c *Client, p []byte) (int, error)
	Send(c *Client, p []byte) (int, error)
}

// Options configure an Instance. Zero values select the defaults.
type Options struct {
	Transport       Transport
	InputBufferSize int
	ChunkSize       int
	MaxChunks       int
	MaxBodySize     int
}

// Instance binds a command table to a transport and owns the resources its
// clients share: the output chunk pool and the receive buffer. An instance and
// its clients belong to a single goroutine.
type Instance struct {
	table     *CommandTable
	transport Transport
	pool      *ChunkPool
	maxBody   int

	recvBuf []byte
	inputs  bytebufferpool.Pool
}

// NewInstance creates a protocol instance serving table.
func NewInstance(table *CommandTable, opts Options) (*Instance, error) {
	if table == nil {
		return nil, errors.New("protocol: nil command table")
	}
	if opts.Transport == nil {
		return nil, errors.New("protocol: nil transport")
	}
	if opts.InputBufferSize <= 0 {
		opts.InputBufferSize = DefaultInputBufferSize
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxChunks == 0 {
		opts.MaxChunks = DefaultMaxChunks
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}

	return &Instance{
		table:     table,
		transport: opts.Transport,
		pool:      NewChunkPool(opts.ChunkSize, opts.MaxChunks),
		maxBody:   opts.MaxBodySize,
		recvBuf:   make([]byte, opts.InputBufferSize),
	}, nil
}

// NewClient creates a session for conn, an opaque handle the transport uses
// to find the socket.
func (inst *Instance) NewClient(conn any) *Client {
	return &Client{
		inst:  inst,
		conn:  conn,
		state: StateUndetermined,
	}
}

// Pool returns the output chunk pool.
func (inst *Instance) Pool() *ChunkPool {
	return inst.pool
}
