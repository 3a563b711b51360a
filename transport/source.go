// Package transport implements the composition root named in spec.md
// 4.7: Transport, TransportSource, the certificate singleton, and the
// public control surface wiring together internal/iceserver,
// internal/dtlsagent, internal/srtpsession and internal/netio.
package transport

import (
	"net"

	"github.com/pion/webrtc/v4/internal/netio"
)

// proto distinguishes the two TransportSource variants. Resolved as a
// tagged union rather than an interface-per-variant (DESIGN.md Open
// Question 1), mirroring the teacher's own flat ICECandidate/
// ICECandidateType shape.
type proto int

const (
	protoUDP proto = iota
	protoTCP
)

// Source is a TransportSource (spec.md 3): either a (UDP socket,
// remote address) pair or an accepted TCP connection. It satisfies
// both internal/iceserver.Source and the Transport's own send path.
type Source struct {
	kind proto

	udpSocket *netio.Socket
	udpRemote *net.UDPAddr

	tcpConn *netio.Conn
}

func newUDPSource(socket *netio.Socket, remote *net.UDPAddr) *Source {
	// The remote address is cloned into the source's own storage on
	// promotion (spec.md 3); referenced (not-yet-stored) sources reuse
	// the pointer the socket handed us.
	clone := *remote
	return &Source{kind: protoUDP, udpSocket: socket, udpRemote: &clone}
}

func newTCPSource(conn *netio.Conn) *Source {
	return &Source{kind: protoTCP, tcpConn: conn}
}

// Send writes bytes back out through this source.
func (s *Source) Send(data []byte) error {
	if s.kind == protoUDP {
		return s.udpSocket.Send(data, s.udpRemote)
	}
	return s.tcpConn.Send(data)
}

// RemoteAddr returns the source's remote address, used for
// XOR-MAPPED-ADDRESS (spec.md 4.4).
func (s *Source) RemoteAddr() net.Addr {
	if s.kind == protoUDP {
		return s.udpRemote
	}
	return s.tcpConn.RemoteAddr()
}

// equal reports identity per spec.md 3: for UDP, socket identity plus
// remote address+port compared byte-wise; for TCP, connection
// identity.
func (s *Source) equal(other *Source) bool {
	if s.kind != other.kind {
		return false
	}
	if s.kind == protoUDP {
		return s.udpSocket == other.udpSocket && s.udpRemote.IP.Equal(other.udpRemote.IP) && s.udpRemote.Port == other.udpRemote.Port
	}
	return s.tcpConn == other.tcpConn
}

// isTCP reports whether this source is backed by a TCP connection,
// used by the Transport to locate which stored sources must be
// evicted when a connection closes (spec.md 4.7).
func (s *Source) isTCP() bool { return s.kind == protoTCP }
