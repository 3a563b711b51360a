// Package mux classifies inbound bytes (RFC 7983) and frames RFC 4571
// TCP streams. It is the sole demultiplex point on the inbound path: a
// Transport never inspects a packet's contents before calling Classify.
package mux

import "encoding/binary"

// PacketType identifies the protocol a packet on the shared socket
// belongs to, per RFC 7983's byte-range convention.
type PacketType int

// The packet types Classify can return. PacketType is total and
// disjoint over any byte sequence of length >= 13 (spec invariant 7):
// every such sequence maps to exactly one of these.
const (
	PacketTypeUnknown PacketType = iota
	PacketTypeSTUN
	PacketTypeDTLS
	PacketTypeRTP
	PacketTypeRTCP
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeSTUN:
		return "stun"
	case PacketTypeDTLS:
		return "dtls"
	case PacketTypeRTP:
		return "rtp"
	case PacketTypeRTCP:
		return "rtcp"
	default:
		return "unknown"
	}
}

var stunMagicCookie = [4]byte{0x21, 0x12, 0xA4, 0x42}

// rtcpPayloadTypeLow and rtcpPayloadTypeHigh bound the RTCP packet-type
// byte range assigned by RFC 5761 ([192, 223]); everything else in the
// RTP/RTCP version-2 first-byte range ([128, 191]) is RTP.
const (
	rtcpPayloadTypeLow  = 192
	rtcpPayloadTypeHigh = 223
)

// Classify implements the byte-range demultiplex table from spec.md
// 4.1 / RFC 7983. It never allocates and runs in constant time: every
// branch only inspects buf[0], buf[1] and buf[4:8], never the full
// packet.
func Classify(buf []byte) PacketType {
	if len(buf) < 13 {
		return PacketTypeUnknown
	}

	first := buf[0]

	if len(buf) >= 20 && first < 20 && hasStunCookie(buf) {
		return PacketTypeSTUN
	}

	if first > 19 && first < 64 {
		return PacketTypeDTLS
	}

	if first >= 128 && first < 192 {
		version := first >> 6
		if version != 2 {
			return PacketTypeUnknown
		}

		// RTCP and RTP share the first-byte range; the second byte (RTCP
		// packet type / RTP marker+payload-type) disambiguates them.
		packetType := buf[1]
		if len(buf) >= 4 && packetType >= rtcpPayloadTypeLow && packetType <= rtcpPayloadTypeHigh {
			return PacketTypeRTCP
		}
		if len(buf) >= 12 {
			return PacketTypeRTP
		}
		return PacketTypeUnknown
	}

	return PacketTypeUnknown
}

func hasStunCookie(buf []byte) bool {
	length := binary.BigEndian.Uint16(buf[2:4])
	if length%4 != 0 {
		return false
	}
	return buf[4] == stunMagicCookie[0] && buf[5] == stunMagicCookie[1] &&
		buf[6] == stunMagicCookie[2] && buf[7] == stunMagicCookie[3]
}
