package main

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dustin/gomemcached"
	"github.com/stretchr/testify/require"

	"mclight.lopezb.com/internal/protocol"
)

// newTestApp builds an application from command line arguments, logging to
// io.Discard.
func newTestApp(t *testing.T, args ...string) *application {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := parseConfig(args, io.Discard)
	require.NoError(t, err)

	app, err := newApplication(cfg, logger)
	require.NoError(t, err)
	return app
}

// forEachInterface runs fn against a raw and a typed application.
func forEachInterface(t *testing.T, fn func(t *testing.T, app *application), args ...string) {
	for _, level := range []struct {
		name string
		args []string
	}{
		{"raw", nil},
		{"typed", []string{"-1"}},
	} {
		t.Run(level.name, func(t *testing.T) {
			fn(t, newTestApp(t, append(level.args, args...)...))
		})
	}
}

// newTestSession attaches a client to app without a reactor.
func newTestSession(t *testing.T, app *application) *session {
	t.Helper()
	s := &session{remote: "test"}
	s.client = app.instance.NewClient(s)
	t.Cleanup(s.client.Close)
	return s
}

// send feeds raw bytes to the session and returns a copy of its output.
func (s *session) send(in []byte) ([]byte, protocol.Event) {
	out, ev := s.handle(in)
	return append([]byte(nil), out...), ev
}

// roundTrip sends frames and decodes every response.
func (s *session) roundTrip(t *testing.T, frames ...[]byte) []*gomemcached.MCResponse {
	t.Helper()
	var in []byte
	for _, f := range frames {
		in = append(in, f...)
	}
	out, _ := s.send(in)
	return decodeResponses(t, out)
}

// do sends one frame and expects exactly one response.
func (s *session) do(t *testing.T, frame []byte) *gomemcached.MCResponse {
	t.Helper()
	res := s.roundTrip(t, frame)
	require.Len(t, res, 1)
	return res[0]
}

func request(op gomemcached.CommandCode, key string, extras, body []byte) []byte {
	return requestCAS(op, key, 0, extras, body)
}

func requestCAS(op gomemcached.CommandCode, key string, cas uint64, extras, body []byte) []byte {
	req := &gomemcached.MCRequest{
		Opcode: op,
		Opaque: 0xdeadbeef,
		Cas:    cas,
		Extras: extras,
		Key:    []byte(key),
		Body:   body,
	}
	return req.Bytes()
}

func setExtras(flags, exptime uint32) []byte {
	b := binary.BigEndian.AppendUint32(nil, flags)
	return binary.BigEndian.AppendUint32(b, exptime)
}

func flushExtras(delay uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, delay)
}

func arithExtras(delta, initial uint64, exptime uint32) []byte {
	b := binary.BigEndian.AppendUint64(nil, delta)
	b = binary.BigEndian.AppendUint64(b, initial)
	return binary.BigEndian.AppendUint32(b, exptime)
}

func decodeResponses(t *testing.T, b []byte) []*gomemcached.MCResponse {
	t.Helper()
	var out []*gomemcached.MCResponse
	for len(b) > 0 {
		require.GreaterOrEqual(t, len(b), protocol.HeaderSize, "truncated header")
		n := int(binary.BigEndian.Uint32(b[8:12]))
		require.GreaterOrEqual(t, len(b), protocol.HeaderSize+n, "truncated body")
		out = append(out, parseResponse(t, b[:protocol.HeaderSize+n]))
		b = b[protocol.HeaderSize+n:]
	}
	return out
}

func parseResponse(t *testing.T, frame []byte) *gomemcached.MCResponse {
	t.Helper()
	require.Equal(t, byte(gomemcached.RES_MAGIC), frame[0], "bad response magic")

	keyLen := int(binary.BigEndian.Uint16(frame[2:4]))
	extLen := int(frame[4])
	body := frame[protocol.HeaderSize:]
	return &gomemcached.MCResponse{
		Opcode: gomemcached.CommandCode(frame[1]),
		Status: gomemcached.Status(binary.BigEndian.Uint16(frame[6:8])),
		Opaque: binary.BigEndian.Uint32(frame[12:16]),
		Cas:    binary.BigEndian.Uint64(frame[16:24]),
		Extras: body[:extLen],
		Key:    body[extLen : extLen+keyLen],
		Body:   body[extLen+keyLen:],
	}
}

// readResponse reads one response frame from a socket.
func readResponse(t *testing.T, conn net.Conn) *gomemcached.MCResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	hdr := make([]byte, protocol.HeaderSize)
	_, err := io.ReadFull(conn, hdr)
	require.NoError(t, err)

	body := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	return parseResponse(t, append(hdr, body...))
}

// startServer runs app's reactor and stops it when the test ends.
func startServer(t *testing.T, app *application) net.Addr {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- app.serve() }()

	select {
	case <-app.readyCh:
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	t.Cleanup(func() {
		app.stop()
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	require.NotEmpty(t, app.addrs)
	return app.addrs[0]
}
