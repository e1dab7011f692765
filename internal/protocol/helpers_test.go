package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"testing"

	"github.com/dustin/gomemcached"
	"github.com/stretchr/testify/require"
)

// fakeTransport feeds queued segments to Recv and collects everything sent.
type fakeTransport struct {
	inbox   [][]byte
	eof     bool
	limit   int // bytes accepted per Send, 0 for unlimited
	blocked bool
	out     bytes.Buffer
}

func (f *fakeTransport) push(b []byte) {
	f.inbox = append(f.inbox, append([]byte(nil), b...))
}

func (f *fakeTransport) Recv(_ *Client, p []byte) (int, error) {
	if len(f.inbox) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, f.inbox[0])
	f.inbox[0] = f.inbox[0][n:]
	if len(f.inbox[0]) == 0 {
		f.inbox = f.inbox[1:]
	}
	return n, nil
}

func (f *fakeTransport) Send(_ *Client, p []byte) (int, error) {
	if f.blocked {
		return 0, ErrWouldBlock
	}
	n := len(p)
	if f.limit > 0 && n > f.limit {
		n = f.limit
	}
	f.out.Write(p[:n])
	if n < len(p) {
		return n, ErrWouldBlock
	}
	return n, nil
}

// takeOutput returns and clears what was sent so far.
func (f *fakeTransport) takeOutput() []byte {
	b := append([]byte(nil), f.out.Bytes()...)
	f.out.Reset()
	return b
}

type memItem struct {
	data  []byte
	flags uint32
	cas   uint64
}

// memCallbacks is a map-backed command set.
type memCallbacks struct {
	items map[string]*memItem
	cas   uint64
	stats map[string]string
}

func newMemCallbacks() *memCallbacks {
	return &memCallbacks{items: make(map[string]*memItem)}
}

func (m *memCallbacks) store(key, data []byte, flags uint32) uint64 {
	m.cas++
	m.items[string(key)] = &memItem{data: append([]byte(nil), data...), flags: flags, cas: m.cas}
	return m.cas
}

func (m *memCallbacks) Get(_ *Client, key []byte) (Value, gomemcached.Status) {
	it, ok := m.items[string(key)]
	if !ok {
		return Value{}, gomemcached.KEY_ENOENT
	}
	return Value{Data: it.data, Flags: it.flags, CAS: it.cas}, gomemcached.SUCCESS
}

func (m *memCallbacks) Set(_ *Client, key, data []byte, flags, _ uint32, cas uint64) (uint64, gomemcached.Status) {
	if cas != 0 {
		it, ok := m.items[string(key)]
		if !ok {
			return 0, gomemcached.KEY_ENOENT
		}
		if it.cas != cas {
			return 0, gomemcached.KEY_EEXISTS
		}
	}
	return m.store(key, data, flags), gomemcached.SUCCESS
}

func (m *memCallbacks) Add(_ *Client, key, data []byte, flags, _ uint32) (uint64, gomemcached.Status) {
	if _, ok := m.items[string(key)]; ok {
		return 0, gomemcached.KEY_EEXISTS
	}
	return m.store(key, data, flags), gomemcached.SUCCESS
}

func (m *memCallbacks) Replace(c *Client, key, data []byte, flags, exptime uint32, cas uint64) (uint64, gomemcached.Status) {
	if _, ok := m.items[string(key)]; !ok {
		return 0, gomemcached.KEY_ENOENT
	}
	return m.Set(c, key, data, flags, exptime, cas)
}

func (m *memCallbacks) Append(_ *Client, key, data []byte, _ uint64) (uint64, gomemcached.Status) {
	it, ok := m.items[string(key)]
	if !ok {
		return 0, gomemcached.NOT_STORED
	}
	return m.store(key, append(append([]byte(nil), it.data...), data...), it.flags), gomemcached.SUCCESS
}

func (m *memCallbacks) Prepend(_ *Client, key, data []byte, _ uint64) (uint64, gomemcached.Status) {
	it, ok := m.items[string(key)]
	if !ok {
		return 0, gomemcached.NOT_STORED
	}
	return m.store(key, append(append([]byte(nil), data...), it.data...), it.flags), gomemcached.SUCCESS
}

func (m *memCallbacks) Delete(_ *Client, key []byte, _ uint64) gomemcached.Status {
	if _, ok := m.items[string(key)]; !ok {
		return gomemcached.KEY_ENOENT
	}
	delete(m.items, string(key))
	return gomemcached.SUCCESS
}

func (m *memCallbacks) arith(key []byte, delta, initial uint64, exptime uint32, incr bool) (Counter, gomemcached.Status) {
	it, ok := m.items[string(key)]
	if !ok {
		if exptime == NoAutoCreate {
			return Counter{}, gomemcached.KEY_ENOENT
		}
		cas := m.store(key, []byte(strconv.FormatUint(initial, 10)), 0)
		return Counter{Value: initial, CAS: cas}, gomemcached.SUCCESS
	}
	v, err := strconv.ParseUint(string(it.data), 10, 64)
	if err != nil {
		return Counter{}, gomemcached.DELTA_BADVAL
	}
	if incr {
		v += delta
	} else if delta > v {
		v = 0
	} else {
		v -= delta
	}
	cas := m.store(key, []byte(strconv.FormatUint(v, 10)), it.flags)
	return Counter{Value: v, CAS: cas}, gomemcached.SUCCESS
}

func (m *memCallbacks) Increment(_ *Client, key []byte, delta, initial uint64, exptime uint32) (Counter, gomemcached.Status) {
	return m.arith(key, delta, initial, exptime, true)
}

func (m *memCallbacks) Decrement(_ *Client, key []byte, delta, initial uint64, exptime uint32) (Counter, gomemcached.Status) {
	return m.arith(key, delta, initial, exptime, false)
}

func (m *memCallbacks) Flush(*Client, uint32) gomemcached.Status {
	m.items = make(map[string]*memItem)
	return gomemcached.SUCCESS
}

func (m *memCallbacks) Noop(*Client) gomemcached.Status { return gomemcached.SUCCESS }

func (m *memCallbacks) Quit(*Client) gomemcached.Status { return gomemcached.SUCCESS }

func (m *memCallbacks) Version(*Client) (string, gomemcached.Status) {
	return "1.0.0-test", gomemcached.SUCCESS
}

func (m *memCallbacks) Stat(_ *Client, group []byte, emit StatEmitter) gomemcached.Status {
	if len(group) > 0 {
		return gomemcached.KEY_ENOENT
	}
	for k, v := range m.stats {
		if status := emit(k, v); status != gomemcached.SUCCESS {
			return status
		}
	}
	return gomemcached.SUCCESS
}

// newTestClient builds an instance over a fresh fake transport.
func newTestClient(t *testing.T, table *CommandTable, opts Options) (*Client, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	opts.Transport = tr
	inst, err := NewInstance(table, opts)
	require.NoError(t, err)
	c := inst.NewClient(nil)
	t.Cleanup(c.Close)
	return c, tr
}

// encodeRequest encodes a binary request.
func encodeRequest(op gomemcached.CommandCode, opaque uint32, cas uint64, extras, key, body []byte) []byte {
	req := &gomemcached.MCRequest{
		Opcode: op,
		Opaque: opaque,
		Cas:    cas,
		Extras: extras,
		Key:    key,
		Body:   body,
	}
	return req.Bytes()
}

func setExtras(flags, exptime uint32) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b[0:4], flags)
	binary.BigEndian.PutUint32(b[4:8], exptime)
	return b
}

func arithExtras(delta, initial uint64, exptime uint32) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint64(b[0:8], delta)
	binary.BigEndian.PutUint64(b[8:16], initial)
	binary.BigEndian.PutUint32(b[16:20], exptime)
	return b
}

// decodeResponses splits b into response frames.
func decodeResponses(t *testing.T, b []byte) []*gomemcached.MCResponse {
	t.Helper()
	var out []*gomemcached.MCResponse
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), HeaderSize, "truncated header")
		require.Equal(t, byte(gomemcached.RES_MAGIC), b[0], "bad response magic")

		keyLen := int(binary.BigEndian.Uint16(b[2:4]))
		extLen := int(b[4])
		bodyLen := int(binary.BigEndian.Uint32(b[8:12]))
		require.GreaterOrEqual(t, len(b), HeaderSize+bodyLen, "truncated body")

		body := b[HeaderSize : HeaderSize+bodyLen]
		out = append(out, &gomemcached.MCResponse{
			Opcode: gomemcached.CommandCode(b[1]),
			Status: gomemcached.Status(binary.BigEndian.Uint16(b[6:8])),
			Opaque: binary.BigEndian.Uint32(b[12:16]),
			Cas:    binary.BigEndian.Uint64(b[16:24]),
			Extras: body[:extLen],
			Key:    body[extLen : extLen+keyLen],
			Body:   body[extLen+keyLen:],
		})
		b = b[HeaderSize+bodyLen:]
	}
	return out
}
