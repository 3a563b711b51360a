package stun

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	familyIPv4 = 0x01
	familyIPv6 = 0x02
)

// ErrUnknownAddressFamily is returned when an XOR-MAPPED-ADDRESS
// attribute's family byte is neither IPv4 nor IPv6.
var ErrUnknownAddressFamily = errors.New("stun: unknown XOR-MAPPED-ADDRESS family")

// EncodeXorMappedAddress builds an XOR-MAPPED-ADDRESS attribute value
// for addr, per spec.md 4.3: the port is XORed with the first two
// bytes of the magic cookie, the address with the full cookie (IPv4)
// or cookie||transactionID (IPv6).
func EncodeXorMappedAddress(addr *net.UDPAddr, transactionID [12]byte) []byte {
	return EncodeXorMappedAddressIP(addr.IP, addr.Port, transactionID)
}

// EncodeXorMappedAddressIP is the IP/port-level equivalent of
// EncodeXorMappedAddress, usable for TransportSources that are not
// natively a *net.UDPAddr (e.g. a TCP connection's remote address).
func EncodeXorMappedAddressIP(ip net.IP, port int, transactionID [12]byte) []byte {
	ip4 := ip.To4()
	if ip4 != nil {
		v := make([]byte, 8)
		v[1] = familyIPv4
		binary.BigEndian.PutUint16(v[2:4], uint16(port)^uint16(magicCookie>>16))
		for i := 0; i < 4; i++ {
			v[4+i] = ip4[i] ^ magicCookieBytes[i]
		}
		return v
	}

	ip16 := ip.To16()
	v := make([]byte, 20)
	v[1] = familyIPv6
	binary.BigEndian.PutUint16(v[2:4], uint16(port)^uint16(magicCookie>>16))
	xorKey := make([]byte, 16)
	copy(xorKey, magicCookieBytes[:])
	copy(xorKey[4:], transactionID[:])
	for i := 0; i < 16; i++ {
		v[4+i] = ip16[i] ^ xorKey[i]
	}
	return v
}

// DecodeXorMappedAddress reverses EncodeXorMappedAddress.
func DecodeXorMappedAddress(value []byte, transactionID [12]byte) (*net.UDPAddr, error) {
	if len(value) < 4 {
		return nil, ErrMalformedAttribute
	}
	family := value[1]
	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(magicCookie>>16)

	switch family {
	case familyIPv4:
		if len(value) < 8 {
			return nil, ErrMalformedAttribute
		}
		ip := make(net.IP, 4)
		for i := 0; i < 4; i++ {
			ip[i] = value[4+i] ^ magicCookieBytes[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	case familyIPv6:
		if len(value) < 20 {
			return nil, ErrMalformedAttribute
		}
		xorKey := make([]byte, 16)
		copy(xorKey, magicCookieBytes[:])
		copy(xorKey[4:], transactionID[:])
		ip := make(net.IP, 16)
		for i := 0; i < 16; i++ {
			ip[i] = value[4+i] ^ xorKey[i]
		}
		return &net.UDPAddr{IP: ip, Port: int(port)}, nil
	default:
		return nil, ErrUnknownAddressFamily
	}
}
