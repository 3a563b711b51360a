package stun

import (
	"encoding/binary"
	"errors"
)

// Errors returned by Decode. Per spec.md 7 these are PacketMalformed:
// recovered locally by the caller, logged at debug and dropped.
var (
	ErrTooShort            = errors.New("stun: message shorter than header")
	ErrNotStun             = errors.New("stun: bad message type or magic cookie")
	ErrBadLength           = errors.New("stun: length not a multiple of 4, or does not match packet size")
	ErrMalformedAttribute  = errors.New("stun: truncated or overlong attribute")
	ErrFingerprintNotLast  = errors.New("stun: FINGERPRINT is not the last attribute")
	ErrAttributeAfterMI    = errors.New("stun: attribute follows MESSAGE-INTEGRITY other than FINGERPRINT")
	ErrFingerprintMismatch = errors.New("stun: FINGERPRINT does not match")
	ErrTrailingBytes       = errors.New("stun: trailing bytes after last attribute")
)

// Decode parses a STUN message. It returns (nil, nil) if data is not
// STUN-shaped at all (wrong magic cookie or top bits), so Decode can be
// used as a best-effort probe by a caller that has already classified
// the packet; it returns a non-nil error for a message that looked like
// STUN but failed to parse.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerLength {
		return nil, ErrTooShort
	}

	messageType := binary.BigEndian.Uint16(data[0:2])
	if messageType&0xC000 != 0 {
		return nil, nil
	}
	if !hasMagicCookie(data) {
		return nil, nil
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if length%4 != 0 {
		return nil, ErrBadLength
	}
	if int(length)+headerLength != len(data) {
		return nil, ErrBadLength
	}

	class, method := typeToClassMethod(messageType)
	msg := &Message{
		Class:             class,
		Method:            method,
		raw:               data,
		fingerprintOffset: -1,
		integrityOffset:   -1,
	}
	copy(msg.TransactionID[:], data[8:20])

	pos := headerLength
	end := len(data)
	for pos < end {
		if msg.hasFingerprint {
			return nil, ErrFingerprintNotLast
		}
		if end-pos < 4 {
			return nil, ErrMalformedAttribute
		}
		attrType := AttrType(binary.BigEndian.Uint16(data[pos : pos+2]))
		attrLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		valueStart := pos + 4
		if valueStart+attrLen > end {
			return nil, ErrMalformedAttribute
		}

		if msg.hasMessageIntegrity && attrType != AttrFingerprint {
			return nil, ErrAttributeAfterMI
		}

		value := make([]byte, attrLen)
		copy(value, data[valueStart:valueStart+attrLen])
		msg.Attributes = append(msg.Attributes, Attribute{Type: attrType, Value: value})

		switch attrType {
		case AttrMessageIntegrity:
			if attrLen != 20 {
				return nil, ErrMalformedAttribute
			}
			msg.hasMessageIntegrity = true
			msg.integrityOffset = pos
		case AttrFingerprint:
			if attrLen != 4 {
				return nil, ErrMalformedAttribute
			}
			msg.hasFingerprint = true
			msg.fingerprintOffset = pos
		}

		attrTotal := 4 + attrLen + pad4(attrLen)
		pos += attrTotal
	}
	if pos != end {
		return nil, ErrTrailingBytes
	}

	if msg.hasFingerprint {
		if err := msg.verifyFingerprint(); err != nil {
			return nil, err
		}
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	return msg, nil
}

func hasMagicCookie(data []byte) bool {
	return data[4] == magicCookieBytes[0] && data[5] == magicCookieBytes[1] &&
		data[6] == magicCookieBytes[2] && data[7] == magicCookieBytes[3]
}

// pad4 returns the number of padding bytes (0-3) needed to round n up
// to the next multiple of 4.
func pad4(n int) int {
	return -n & 3
}

func (m *Message) verifyFingerprint() error {
	got := binary.BigEndian.Uint32(m.Attributes[len(m.Attributes)-1].Value)
	want := computeFingerprint(m.raw[:m.fingerprintOffset])
	if got != want {
		return ErrFingerprintMismatch
	}
	return nil
}

func computeFingerprint(prefix []byte) uint32 {
	return crc32Checksum(prefix) ^ 0x5354554E
}
