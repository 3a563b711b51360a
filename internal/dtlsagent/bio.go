package dtlsagent

import (
	"errors"
	"net"
	"time"
)

// bioConn adapts the byte-shovelling the DTLS Agent does
// (processDtlsData writes in, the handshake/record engine writes out)
// into a net.Conn, the same "own the transport, hand the TLS/DTLS
// engine a net.Conn" pattern the teacher uses via mux.Endpoint
// (dtlstransport.go's dtls.Client(dtlsEndpoint, dtlsConfig)).
//
// Reads deliver bytes pushed by ProcessDtlsData; writes are forwarded,
// uncopied of ownership concerns since each write is copied before
// being queued, to an outgoing channel drained by the Agent so it can
// honor the "all outbound bytes produced within one processDtlsData
// call are drained before the call returns" ordering guarantee
// (spec.md 5) even though the handshake itself runs on its own
// goroutine (spec.md 4.5, 9 Open Question resolution in DESIGN.md).
type bioConn struct {
	incoming chan []byte
	outgoing chan []byte
	closed   chan struct{}

	pending []byte // leftover from a short Read
}

func newBioConn() *bioConn {
	return &bioConn{
		incoming: make(chan []byte, 32),
		outgoing: make(chan []byte, 32),
		closed:   make(chan struct{}),
	}
}

var errBioClosed = errors.New("dtlsagent: bio conn closed")

func (c *bioConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		select {
		case b, ok := <-c.incoming:
			if !ok {
				return 0, errBioClosed
			}
			c.pending = b
		case <-c.closed:
			return 0, errBioClosed
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *bioConn) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case c.outgoing <- cp:
		return len(p), nil
	case <-c.closed:
		return 0, errBioClosed
	}
}

func (c *bioConn) push(data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	select {
	case c.incoming <- cp:
	case <-c.closed:
	}
}

func (c *bioConn) drainOutgoing(sink func([]byte)) {
	for {
		select {
		case b := <-c.outgoing:
			sink(b)
		default:
			return
		}
	}
}

func (c *bioConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *bioConn) LocalAddr() net.Addr                { return bioAddr{} }
func (c *bioConn) RemoteAddr() net.Addr                { return bioAddr{} }
func (c *bioConn) SetDeadline(t time.Time) error       { return nil }
func (c *bioConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *bioConn) SetWriteDeadline(t time.Time) error  { return nil }

type bioAddr struct{}

func (bioAddr) Network() string { return "dtls-bio" }
func (bioAddr) String() string  { return "dtls-bio" }
