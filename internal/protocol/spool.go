// spool.go implements the output side of a client: a queue of fixed-size
// chunks fed by handlers through Spool and emptied through the transport by
// Drain.
//
// Chunk Lifecycle
// ===============
//
// Chunks are owned by the instance's ChunkPool while idle. Spool moves them
// into a client's queue, Drain moves them back once every byte was sent
// (offset == nbytes). A chunk is never shared by two clients and never sits
// in the pool while queued.
//
// Spool is all-or-nothing: it reserves every chunk a payload needs before
// copying a byte, so a pool exhaustion never leaves half a response frame in
// the queue.

package protocol

import (
	"errors"
	"sync/atomic"
)

const (
	// DefaultChunkSize is the capacity of a single output chunk.
	DefaultChunkSize = 2048

	// DefaultMaxChunks bounds the number of chunks a pool will create.
	DefaultMaxChunks = 64 * 1024
)

// Chunk is a fixed-capacity output buffer segment.
type Chunk struct {
	buf    []byte
	offset int // bytes already sent
	nbytes int // bytes filled
}

func (ch *Chunk) free() int {
	return len(ch.buf) - ch.nbytes
}

func (ch *Chunk) reset() {
	ch.offset = 0
	ch.nbytes = 0
}

// PoolStats is a snapshot of a ChunkPool.
type PoolStats struct {
	Allocated int64 // chunks created and not discarded
	InUse     int64 // chunks currently queued on clients
}

// ChunkPool caches output chunks. It is owned by the reactor goroutine; only
// the counters may be read from elsewhere.
type ChunkPool struct {
	size int
	max  int
	idle []*Chunk

	allocated atomic.Int64
	inUse     atomic.Int64
}

// NewChunkPool creates a pool of chunks of the given size. max bounds the
// number of chunks ever alive at once; zero means unbounded.
func NewChunkPool(size, max int) *ChunkPool {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkPool{size: size, max: max}
}

// ChunkSize returns the capacity of the chunks this pool hands out.
func (p *ChunkPool) ChunkSize() int {
	return p.size
}

// Stats returns the pool counters.
func (p *ChunkPool) Stats() PoolStats {
	return PoolStats{
		Allocated: p.allocated.Load(),
		InUse:     p.inUse.Load(),
	}
}

// available reports how many chunks get could still hand out.
func (p *ChunkPool) available() int {
	if p.max <= 0 {
		return int(^uint(0) >> 1)
	}
	return len(p.idle) + p.max - int(p.allocated.Load())
}

// get takes n chunks from the pool, growing it when allowed.
func (p *ChunkPool) get(n int) ([]*Chunk, error) {
	if n > p.available() {
		return nil, ErrNoMemory
	}

	out := make([]*Chunk, 0, n)
	for len(out) < n {
		if last := len(p.idle) - 1; last >= 0 {
			out = append(out, p.idle[last])
			p.idle[last] = nil
			p.idle = p.idle[:last]
			continue
		}
		out = append(out, &Chunk{buf: make([]byte, p.size)})
		p.allocated.Add(1)
	}
	p.inUse.Add(int64(n))
	return out, nil
}

// put returns a drained chunk to the pool.
func (p *ChunkPool) put(ch *Chunk) {
	ch.reset()
	p.idle = append(p.idle, ch)
	p.inUse.Add(-1)
}

// Spool queues p for delivery to the peer. It never blocks. A muted client
// discards p. The only failure is ErrNoMemory, in which case nothing was
// queued.
func (c *Client) Spool(p []byte) error {
	if c.mute || len(p) == 0 {
		return nil
	}

	pool := c.inst.pool
	room := 0
	if n := len(c.output); n > 0 {
		room = c.output[n-1].free()
	}

	var fresh []*Chunk
	if len(p) > room {
		need := (len(p) - room + pool.size - 1) / pool.size
		chunks, err := pool.get(need)
		if err != nil {
			return err
		}
		fresh = chunks
	}

	if room > 0 {
		tail := c.output[len(c.output)-1]
		n := copy(tail.buf[tail.nbytes:], p)
		tail.nbytes += n
		p = p[n:]
	}
	for _, ch := range fresh {
		n := copy(ch.buf, p)
		ch.nbytes = n
		p = p[n:]
		c.output = append(c.output, ch)
	}
	return nil
}

// Drain writes as much queued output as the transport accepts right now. It
// resumes a partially sent chunk from its offset and gives fully sent chunks
// back to the pool. Calling it with an empty queue is a no-op.
func (c *Client) Drain() error {
	for len(c.output) > 0 {
		ch := c.output[0]
		n, err := c.inst.transport.Send(c, ch.buf[ch.offset:ch.nbytes])
		if n > 0 {
			ch.offset += n
			c.bytesOut += uint64(n)
		}
		if ch.offset == ch.nbytes {
			c.output[0] = nil
			c.output = c.output[1:]
			c.inst.pool.put(ch)
		}
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}
			return err
		}
		if n == 0 {
			// The transport accepted nothing without saying why; wait for
			// the next write readiness instead of spinning.
			return nil
		}
	}
	return nil
}

// Pending returns the number of queued chunks.
func (c *Client) Pending() int {
	return len(c.output)
}

// PendingBytes returns the number of queued bytes not yet sent.
func (c *Client) PendingBytes() int {
	total := 0
	for _, ch := range c.output {
		total += ch.nbytes - ch.offset
	}
	return total
}

// releaseOutput returns every queued chunk to the pool.
func (c *Client) releaseOutput() {
	for i, ch := range c.output {
		c.inst.pool.put(ch)
		c.output[i] = nil
	}
	c.output = nil
}
