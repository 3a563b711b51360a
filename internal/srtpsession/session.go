// Package srtpsession implements the keyed SRTP/SRTCP codec named in
// spec.md 4.6, wrapping github.com/pion/srtp/v3's Context API the same
// way the teacher's dtlstransport.go startSRTP does
// (srtp.Config/ExtractSessionKeysFromDTLS), generalized here to the
// two-sessions-per-Transport (inbound/outbound) shape spec.md 3 names.
package srtpsession

import (
	"errors"

	"github.com/pion/srtp/v3"
)

// Direction distinguishes the two sessions a Transport owns.
type Direction int

// Directions named in spec.md 3.
const (
	Inbound Direction = iota
	Outbound
)

// masterKeyLen is the 16B key + 14B salt = 30B master key spec.md 3
// requires per direction.
const masterKeyLen = 30

// scratchSize is sized for the largest UDP MTU this core expects plus
// SRTP/SRTCP auth-tag growth, per spec.md 4.6's thread-local-scratch
// requirement (realized here as a Session-owned buffer, since the
// whole core is single-threaded-per-reactor, spec.md 5).
const scratchSize = 8192 + 160

// ErrBadKeyLength is a ConfigError: the master key/salt pair must be
// exactly 30 bytes (spec.md 4.6).
var ErrBadKeyLength = errors.New("srtpsession: master key must be 30 bytes (16 key + 14 salt)")

// ErrUnsupportedProfile is a ConfigError: only the two profiles named
// in spec.md 3/4.6 are accepted.
var ErrUnsupportedProfile = errors.New("srtpsession: unsupported protection profile")

func validProfile(p srtp.ProtectionProfile) bool {
	return p == srtp.ProtectionProfileAes128CmHmacSha1_80 || p == srtp.ProtectionProfileAes128CmHmacSha1_32
}

// Session is a keyed encrypt/decrypt context for one direction.
type Session struct {
	direction Direction
	profile   srtp.ProtectionProfile
	ctx       *srtp.Context
	scratch   []byte
	lastErr   error
}

// New constructs a Session from a 30-byte master key (16B key ||
// 14B salt), per spec.md 4.6.
func New(direction Direction, profile srtp.ProtectionProfile, masterKey []byte) (*Session, error) {
	if !validProfile(profile) {
		return nil, ErrUnsupportedProfile
	}
	if len(masterKey) != masterKeyLen {
		return nil, ErrBadKeyLength
	}

	ctx, err := srtp.CreateContext(masterKey[:16], masterKey[16:], profile)
	if err != nil {
		return nil, err
	}

	return &Session{
		direction: direction,
		profile:   profile,
		ctx:       ctx,
		scratch:   make([]byte, 0, scratchSize),
	}, nil
}

// LastError returns the most recent operation's error, for logging
// (spec.md 4.6: "the session exposes the last error description").
func (s *Session) LastError() error { return s.lastErr }

// EncryptRTP encrypts an RTP packet into the session's scratch buffer
// and returns it. ok is false on error (spec.md 4.6).
func (s *Session) EncryptRTP(plaintext []byte) (out []byte, ok bool) {
	out, err := s.ctx.EncryptRTP(s.scratch[:0], plaintext, nil)
	s.lastErr = err
	return out, err == nil
}

// DecryptRTP verifies, decrypts and strips the auth tag of an SRTP
// packet. ok is false on replay, auth failure, or unknown SSRC
// (spec.md 4.6).
func (s *Session) DecryptRTP(encrypted []byte) (out []byte, ok bool) {
	out, err := s.ctx.DecryptRTP(s.scratch[:0], encrypted, nil)
	s.lastErr = err
	return out, err == nil
}

// EncryptRTCP encrypts an RTCP compound packet.
func (s *Session) EncryptRTCP(plaintext []byte) (out []byte, ok bool) {
	out, err := s.ctx.EncryptRTCP(s.scratch[:0], plaintext, nil)
	s.lastErr = err
	return out, err == nil
}

// DecryptRTCP verifies and decrypts an SRTCP packet.
func (s *Session) DecryptRTCP(encrypted []byte) (out []byte, ok bool) {
	out, err := s.ctx.DecryptRTCP(s.scratch[:0], encrypted, nil)
	s.lastErr = err
	return out, err == nil
}
