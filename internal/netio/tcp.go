package netio

import (
	"net"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/internal/mux"
	"github.com/pion/webrtc/v4/pkg/clock"
)

// DefaultAcceptCap is the default per-server accepted-connection cap
// (spec.md 6).
const DefaultAcceptCap = 10

// FrameHandler receives one already-framed (RFC 4571) payload from a
// TCP connection, classified upstream by the caller.
type FrameHandler func(conn *Conn, frame []byte)

// CloseHandler is invoked once a Conn is fully torn down (peer close,
// framer overflow, or an unknown-type frame), so the owner can evict
// any TransportSource referencing it (spec.md 4.2, 4.7).
type CloseHandler func(conn *Conn)

// Server accepts TCP connections up to a configured cap, each owning
// its own RFC 4571 Framer, per spec.md 6.
type Server struct {
	ln          *net.TCPListener
	log         logging.LeveledLogger
	acceptCap   int
	framerSize  int
	onFrame     FrameHandler
	onClose     CloseHandler
	connections map[*Conn]struct{}
	closed      chan struct{}
}

// NewServer binds a TCP listener on ip within [minPort, maxPort], using
// the same random-probe discipline as NewSocket.
func NewServer(ip net.IP, minPort, maxPort uint16, acceptCap, framerSize int, rnd *clock.Rand, loggerFactory logging.LoggerFactory) (*Server, error) {
	if minPort > maxPort {
		return nil, ErrPortRangeExhausted
	}
	span := uint32(maxPort-minPort) + 1

	var ln *net.TCPListener
	var err error
	for i := 0; i < portProbeAttempts; i++ {
		port := minPort + uint16(rnd.Uint32()%span)
		ln, err = net.ListenTCP("tcp", &net.TCPAddr{IP: ip, Port: int(port)})
		if err == nil {
			break
		}
	}
	if ln == nil {
		return nil, ErrPortRangeExhausted
	}

	if acceptCap <= 0 {
		acceptCap = DefaultAcceptCap
	}
	if framerSize <= 0 {
		framerSize = mux.DefaultFramerBufferSize
	}

	return &Server{
		ln:          ln,
		log:         loggerFactory.NewLogger("netio.tcp"),
		acceptCap:   acceptCap,
		framerSize:  framerSize,
		connections: make(map[*Conn]struct{}),
		closed:      make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound local address.
func (s *Server) LocalAddr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

// Start begins the accept loop, delivering whole frames to onFrame and
// close notifications to onClose. Connections beyond acceptCap are
// closed immediately (ResourceExhaustion, spec.md 7).
func (s *Server) Start(onFrame FrameHandler, onClose CloseHandler) {
	s.onFrame = onFrame
	s.onClose = onClose
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	for {
		tcpConn, err := s.ln.AcceptTCP()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.Debugf("tcp accept error: %v", err)
				return
			}
		}
		if len(s.connections) >= s.acceptCap {
			_ = tcpConn.Close()
			s.log.Debugf("tcp accept cap reached (%d), closing new connection", s.acceptCap)
			continue
		}
		c := newConn(tcpConn, s.framerSize, s.log)
		s.connections[c] = struct{}{}
		go s.readConn(c)
	}
}

func (s *Server) readConn(c *Conn) {
	buf := make([]byte, ReceiveMTU)
	for {
		n, err := c.tcp.Read(buf)
		if err != nil {
			s.closeConn(c)
			return
		}
		if err := c.framer.Push(buf[:n]); err != nil {
			s.log.Debugf("tcp framer overflow: %v", err)
			s.closeConn(c)
			return
		}
		for {
			frame, ok := c.framer.Next()
			if !ok {
				break
			}
			s.onFrame(c, frame)
		}
	}
}

func (s *Server) closeConn(c *Conn) {
	if _, ok := s.connections[c]; !ok {
		return
	}
	delete(s.connections, c)
	_ = c.tcp.Close()
	if s.onClose != nil {
		s.onClose(c)
	}
}

// Close tears down the listener and every open connection. Idempotent.
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	for c := range s.connections {
		s.closeConn(c)
	}
	return s.ln.Close()
}

// Conn is one accepted TCP connection and its RFC 4571 framer.
type Conn struct {
	tcp    *net.TCPConn
	framer *mux.Framer
}

func newConn(tcp *net.TCPConn, framerSize int, log logging.LeveledLogger) *Conn {
	return &Conn{tcp: tcp, framer: mux.NewFramer(framerSize)}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.tcp.RemoteAddr() }

// Send writes a single RFC 4571-framed payload.
func (c *Conn) Send(data []byte) error {
	var hdr [2]byte
	hdr[0] = byte(len(data) >> 8)
	hdr[1] = byte(len(data))
	if _, err := c.tcp.Write(hdr[:]); err != nil {
		return err
	}
	_, err := c.tcp.Write(data)
	return err
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.tcp.Close()
}
