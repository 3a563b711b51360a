// Package stun implements the STUN message codec and authenticator used
// by the ICE Server (spec.md 4.3), following RFC 5389 and the exact
// byte-level invariants of the mediasoup original
// (src/RTC/STUNMessage.cpp): FINGERPRINT must be the last attribute,
// MESSAGE-INTEGRITY may only be followed by FINGERPRINT, and both are
// computed with the header's length field temporarily rewritten to
// exclude whatever trails them.
package stun

import (
	"errors"
)

// Class is the 2-bit STUN message class.
type Class uint16

// The four STUN message classes (spec.md 3).
const (
	ClassRequest Class = iota
	ClassIndication
	ClassSuccessResponse
	ClassErrorResponse
)

// Method is the 12-bit STUN message method.
type Method uint16

// MethodBinding is the only method this core needs (spec.md 3).
const MethodBinding Method = 0x001

// AttrType identifies a STUN attribute by its registered type number.
type AttrType uint16

// Attribute types named in spec.md 3.
const (
	AttrUsername          AttrType = 0x0006
	AttrMessageIntegrity  AttrType = 0x0008
	AttrErrorCode         AttrType = 0x0009
	AttrUnknownAttributes AttrType = 0x000A
	AttrXorMappedAddress  AttrType = 0x0020
	AttrPriority          AttrType = 0x0024
	AttrUseCandidate      AttrType = 0x0025
	AttrIceControlled     AttrType = 0x8029
	AttrIceControlling    AttrType = 0x802A
	AttrFingerprint       AttrType = 0x8028
)

const (
	headerLength = 20
	magicCookie  = 0x2112A442
)

var magicCookieBytes = [4]byte{0x21, 0x12, 0xA4, 0x42}

// Attribute is a raw, decoded STUN attribute.
type Attribute struct {
	Type  AttrType
	Value []byte
}

// Message is a decoded (or to-be-encoded) STUN message. Attributes are
// held in declaration order, as required for re-encoding a message with
// FINGERPRINT verification intact.
type Message struct {
	Class         Class
	Method        Method
	TransactionID [12]byte
	Attributes    []Attribute

	// set during Decode; used by Message.VerifyFingerprint and by the
	// authenticator, since both need the raw bytes the message came
	// from to recompute digests over an exact byte range.
	raw                []byte
	fingerprintOffset  int // offset of the FINGERPRINT attribute header, -1 if absent
	integrityOffset    int // offset of the MESSAGE-INTEGRITY attribute header, -1 if absent
	hasFingerprint     bool
	hasMessageIntegrity bool
}

// Validate reports whether the message satisfies the structural
// invariants of spec.md 3: FINGERPRINT (if present) is the last
// attribute, and nothing but FINGERPRINT may follow MESSAGE-INTEGRITY.
// This is the "every concrete message type requires a Validate()"
// resolution named in spec.md 9 Open Question (c).
func (m *Message) Validate() error {
	seenIntegrity := false
	seenFingerprint := false
	for _, a := range m.Attributes {
		if seenFingerprint {
			return errors.New("stun: attribute follows FINGERPRINT")
		}
		if seenIntegrity && a.Type != AttrFingerprint {
			return errors.New("stun: attribute follows MESSAGE-INTEGRITY other than FINGERPRINT")
		}
		switch a.Type {
		case AttrMessageIntegrity:
			if len(a.Value) != 20 {
				return errors.New("stun: malformed MESSAGE-INTEGRITY length")
			}
			seenIntegrity = true
		case AttrFingerprint:
			if len(a.Value) != 4 {
				return errors.New("stun: malformed FINGERPRINT length")
			}
			seenFingerprint = true
		}
	}
	return nil
}

// HasFingerprint reports whether the decoded message carried FINGERPRINT.
func (m *Message) HasFingerprint() bool { return m.hasFingerprint }

// HasMessageIntegrity reports whether the decoded message carried
// MESSAGE-INTEGRITY.
func (m *Message) HasMessageIntegrity() bool { return m.hasMessageIntegrity }

// Get returns the first attribute of the given type, if present.
func (m *Message) Get(t AttrType) (Attribute, bool) {
	for _, a := range m.Attributes {
		if a.Type == t {
			return a, true
		}
	}
	return Attribute{}, false
}

// RFC 5389 figure 3 masks: the 2-bit class is interleaved into the
// 12-bit method across the 14-bit message-type field.
const (
	classMask1  = 0x0100
	classMask2  = 0x0010
	methodMask1 = 0x3E00
	methodMask2 = 0x00E0
	methodMask3 = 0x000F
)

func classMethodToType(c Class, m Method) uint16 {
	cl, mm := uint16(c), uint16(m)
	t := (cl<<7)&classMask1 | (cl<<4)&classMask2
	t |= (mm<<2)&methodMask1 | (mm<<1)&methodMask2 | (mm & methodMask3)
	return t
}

func typeToClassMethod(t uint16) (Class, Method) {
	c := (t&classMask1)>>7 | (t&classMask2)>>4
	m := (t&methodMask1)>>2 | (t&methodMask2)>>1 | (t & methodMask3)
	return Class(c), Method(m)
}
