// Package netio implements the UDP socket and TCP server/connection
// plumbing named in spec.md 6: port-range allocation by random probing
// and RFC 4571 framing for TCP, with no protocol knowledge of its own.
package netio

import (
	"errors"
	"fmt"
	"net"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/clock"
)

// ReceiveMTU bounds a single inbound read, matching the teacher's own
// network.receiveMTU constant (internal/network/manager.go).
const ReceiveMTU = 8192

// ErrPortRangeExhausted is a ConfigError (spec.md 7): every port in the
// configured range was tried and none could be bound.
var ErrPortRangeExhausted = errors.New("netio: no free port in configured range")

const portProbeAttempts = 64

// PacketHandler receives inbound datagrams. It must not block.
type PacketHandler func(data []byte, remote *net.UDPAddr)

// Socket is a bound UDP socket that reads on its own goroutine and
// delivers datagrams to a PacketHandler. It allocates its port by
// randomly probing the configured [minPort, maxPort] range, mirroring
// the teacher's ephemeral-port-range SettingEngine knob
// (settingengine.go's SetEphemeralUDPPortRange).
type Socket struct {
	conn    *net.UDPConn
	log     logging.LeveledLogger
	handler PacketHandler
	closed  chan struct{}
}

// NewSocket binds a UDP socket on ip within [minPort, maxPort], trying
// random ports until one succeeds or the attempt budget is exhausted.
func NewSocket(ip net.IP, minPort, maxPort uint16, rnd *clock.Rand, loggerFactory logging.LoggerFactory) (*Socket, error) {
	if minPort > maxPort {
		return nil, fmt.Errorf("netio: invalid port range [%d, %d]", minPort, maxPort)
	}
	span := uint32(maxPort-minPort) + 1

	var conn *net.UDPConn
	var err error
	for i := 0; i < portProbeAttempts; i++ {
		port := minPort + uint16(rnd.Uint32()%span)
		conn, err = net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: int(port)})
		if err == nil {
			break
		}
	}
	if conn == nil {
		return nil, ErrPortRangeExhausted
	}

	s := &Socket{
		conn:   conn,
		log:    loggerFactory.NewLogger("netio.udp"),
		closed: make(chan struct{}),
	}
	return s, nil
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Start begins the read loop on its own goroutine, delivering each
// datagram to handler. Per spec.md 5 this is the only goroutine a
// Socket owns; handler is expected to hand the bytes to a single
// reactor without blocking.
func (s *Socket) Start(handler PacketHandler) {
	s.handler = handler
	go s.readLoop()
}

func (s *Socket) readLoop() {
	buf := make([]byte, ReceiveMTU)
	for {
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.Debugf("udp read error: %v", err)
				return
			}
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handler(data, remote)
	}
}

// Send writes bytes to remote.
func (s *Socket) Send(data []byte, remote *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, remote)
	return err
}

// Close tears down the socket. Idempotent.
func (s *Socket) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	return s.conn.Close()
}
