package srtpsession

import (
	"bytes"
	"testing"

	"github.com/pion/srtp/v3"
)

func testMasterKey() []byte {
	key := make([]byte, masterKeyLen)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func minimalRTPPacket(seq uint16, ssrc uint32, payload []byte) []byte {
	pkt := make([]byte, 12+len(payload))
	pkt[0] = 0x80 // version 2, no padding, no extension, CC=0
	pkt[1] = 0    // marker=0, PT=0
	pkt[2] = byte(seq >> 8)
	pkt[3] = byte(seq)
	pkt[8] = byte(ssrc >> 24)
	pkt[9] = byte(ssrc >> 16)
	pkt[10] = byte(ssrc >> 8)
	pkt[11] = byte(ssrc)
	copy(pkt[12:], payload)
	return pkt
}

// Invariant 6 (spec.md 8): decrypt(encrypt(p)) == p for a well-formed
// RTP payload.
func TestEncryptDecryptRTPRoundTrip(t *testing.T) {
	s, err := New(Outbound, srtp.ProtectionProfileAes128CmHmacSha1_80, testMasterKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := minimalRTPPacket(1, 0xCAFEBABE, []byte("hello world"))
	encrypted, ok := s.EncryptRTP(plaintext)
	if !ok {
		t.Fatalf("EncryptRTP failed: %v", s.LastError())
	}
	if len(encrypted) <= len(plaintext) {
		t.Fatalf("expected encrypted packet to grow by the auth tag, got %d <= %d", len(encrypted), len(plaintext))
	}

	decrypted, ok := s.DecryptRTP(encrypted)
	if !ok {
		t.Fatalf("DecryptRTP failed: %v", s.LastError())
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch:\ngot  % x\nwant % x", decrypted, plaintext)
	}
}

func TestRejectsBadKeyLength(t *testing.T) {
	_, err := New(Inbound, srtp.ProtectionProfileAes128CmHmacSha1_80, make([]byte, 10))
	if err != ErrBadKeyLength {
		t.Fatalf("expected ErrBadKeyLength, got %v", err)
	}
}

func TestRejectsUnsupportedProfile(t *testing.T) {
	_, err := New(Inbound, srtp.ProtectionProfileAeadAes128Gcm, testMasterKey())
	if err != ErrUnsupportedProfile {
		t.Fatalf("expected ErrUnsupportedProfile, got %v", err)
	}
}

func TestDecryptRejectsTamperedPacket(t *testing.T) {
	s, err := New(Outbound, srtp.ProtectionProfileAes128CmHmacSha1_80, testMasterKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	encrypted, ok := s.EncryptRTP(minimalRTPPacket(2, 0xCAFEBABE, []byte("payload")))
	if !ok {
		t.Fatalf("EncryptRTP failed: %v", s.LastError())
	}
	encrypted[len(encrypted)-1] ^= 0xFF // corrupt the auth tag

	if _, ok := s.DecryptRTP(encrypted); ok {
		t.Fatal("expected DecryptRTP to reject a tampered auth tag")
	}
}
