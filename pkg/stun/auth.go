package stun

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // RFC 5389 mandates HMAC-SHA1 for MESSAGE-INTEGRITY
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"strings"
)

// AuthResult is the outcome of Check, matching the response codes
// spec.md 4.4 names for the ICE Server to emit.
type AuthResult int

// Results of Check.
const (
	AuthOK AuthResult = iota
	AuthBadRequest
	AuthUnauthorized
)

// ErrCannotCheckResponse is returned by Check for Success/Error
// responses: an ICE-lite server never issues its own Binding Requests,
// so it never has to authenticate a response (mirrors the mediasoup
// original's CheckAuthentication, which rejects this case outright).
var ErrCannotCheckResponse = errors.New("stun: cannot check authentication on a response")

// Check authenticates a Request or Indication against the local ICE
// ufrag/password, per spec.md 4.3's authenticator contract.
//
// For Request/Indication: USERNAME and MESSAGE-INTEGRITY are required;
// USERNAME must start with "<localUsername>:"; otherwise BadRequest or
// Unauthorized respectively. The HMAC-SHA1 is recomputed over the raw
// bytes up to (but not including) the MESSAGE-INTEGRITY attribute
// header, with the header length field temporarily rewritten to
// exclude a trailing FINGERPRINT (if present) — exactly the trick
// spec.md 4.3 and the mediasoup original's STUNMessage::CheckAuthentication
// perform, restored immediately afterward.
func (m *Message) Check(localUsername, localPassword string) (AuthResult, error) {
	switch m.Class {
	case ClassSuccessResponse, ClassErrorResponse:
		return AuthBadRequest, ErrCannotCheckResponse
	}

	if !m.hasMessageIntegrity {
		return AuthBadRequest, nil
	}
	usernameAttr, ok := m.Get(AttrUsername)
	if !ok {
		return AuthBadRequest, nil
	}

	prefix := localUsername + ":"
	if !strings.HasPrefix(string(usernameAttr.Value), prefix) {
		return AuthUnauthorized, nil
	}

	integrityAttr, _ := m.Get(AttrMessageIntegrity)

	restore := m.rewriteLengthExcludingFingerprint()
	computed := hmacSHA1(localPassword, m.raw[:m.integrityOffset])
	restore()

	if subtle.ConstantTimeCompare(computed, integrityAttr.Value) != 1 {
		return AuthUnauthorized, nil
	}
	return AuthOK, nil
}

// rewriteLengthExcludingFingerprint temporarily rewrites the header
// length field to exclude a trailing FINGERPRINT attribute (8 bytes:
// 4-byte header + 4-byte CRC), returning a function that restores the
// original value. It is a no-op (returning a no-op restore) when there
// is no FINGERPRINT.
func (m *Message) rewriteLengthExcludingFingerprint() func() {
	if !m.hasFingerprint {
		return func() {}
	}
	original := binary.BigEndian.Uint16(m.raw[2:4])
	binary.BigEndian.PutUint16(m.raw[2:4], original-8)
	return func() {
		binary.BigEndian.PutUint16(m.raw[2:4], original)
	}
}

func hmacSHA1(key string, data []byte) []byte {
	h := hmac.New(sha1.New, []byte(key))
	h.Write(data)
	return h.Sum(nil)
}
