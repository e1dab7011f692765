package main

import (
	"mclight.lopezb.com/internal/protocol"
)

// session is the per-connection state the reactor keeps in the evio
// connection context. It is also the transport handle of its client.
type session struct {
	client *protocol.Client
	remote string

	// inbox is the data evio delivered for the current event, outbox what
	// the client sent during it.
	inbox  []byte
	outbox []byte

	lastIn, lastOut uint64
}

// handle runs one reactor event through the client and returns the bytes to
// write back. The returned slice is only valid until the next call.
func (s *session) handle(in []byte) ([]byte, protocol.Event) {
	s.inbox = in
	ev := s.client.Work()
	s.inbox = nil

	out := s.outbox
	s.outbox = s.outbox[:0]
	return out, ev
}

// evioTransport connects clients to the evio event loop. evio reads the
// socket before calling us and writes whatever we return, so Recv hands out
// the delivered packet and Send collects output for the return value. Send
// never refuses bytes: evio keeps unwritten output on the connection and
// re-arms for write until it is gone.
type evioTransport struct{}

func (evioTransport) Recv(c *protocol.Client, p []byte) (int, error) {
	s := c.Conn().(*session)
	if len(s.inbox) == 0 {
		return 0, protocol.ErrWouldBlock
	}
	n := copy(p, s.inbox)
	s.inbox = s.inbox[n:]
	return n, nil
}

func (evioTransport) Send(c *protocol.Client, p []byte) (int, error) {
	s := c.Conn().(*session)
	s.outbox = append(s.outbox, p...)
	return len(p), nil
}
