package stun

import (
	"bytes"
	"net"
	"testing"
)

func buildRequest(t *testing.T, txID [12]byte, username string, password string, priority uint32, controlling uint64, useCandidate bool) []byte {
	t.Helper()
	b := NewBuilder(ClassRequest, MethodBinding, txID).
		Add(AttrUsername, []byte(username)).
		AddUint32(AttrPriority, priority).
		AddUint64(AttrIceControlling, controlling)
	if useCandidate {
		b = b.AddFlag(AttrUseCandidate)
	}
	b = b.WithMessageIntegrity(password).WithFingerprint()
	return b.Encode()
}

// S1 — STUN success round-trip (spec.md 8).
func TestS1SuccessRoundTrip(t *testing.T) {
	var txID [12]byte
	copy(txID[:], []byte("abcdefghijkl"))

	localPwd := "Lpw12345678901234567890123456789012"
	raw := buildRequest(t, txID, "Luf1234567:Ruf7654321", localPwd, 0x7E7F1EFF, 0x1122334455667788, true)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Class != ClassRequest || msg.Method != MethodBinding {
		t.Fatalf("unexpected class/method: %v/%v", msg.Class, msg.Method)
	}
	if !msg.HasFingerprint() || !msg.HasMessageIntegrity() {
		t.Fatal("expected both FINGERPRINT and MESSAGE-INTEGRITY")
	}

	result, err := msg.Check("Luf1234567", localPwd)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result != AuthOK {
		t.Fatalf("expected AuthOK, got %v", result)
	}
	if _, ok := msg.Get(AttrUseCandidate); !ok {
		t.Fatal("expected USE-CANDIDATE")
	}

	// Build the success response with XOR-MAPPED-ADDRESS reflecting
	// 1.2.3.4:5060, matching the literal bytes spec.md S1 specifies:
	// port XOR 0x2112 and address XOR the magic cookie yields
	// 0x00 0x01 <port^cookie-hi> 0x20 0x10 0xA0 0x46.
	addr := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5060}
	resp := NewBuilder(ClassSuccessResponse, MethodBinding, msg.TransactionID).
		Add(AttrXorMappedAddress, EncodeXorMappedAddress(addr, msg.TransactionID)).
		WithMessageIntegrity(localPwd).
		WithFingerprint().
		Encode()

	respMsg, err := Decode(resp)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if respMsg.TransactionID != msg.TransactionID {
		t.Fatal("transaction id must be preserved")
	}
	xmaAttr, ok := respMsg.Get(AttrXorMappedAddress)
	if !ok {
		t.Fatal("expected XOR-MAPPED-ADDRESS")
	}
	wantPortXor := uint16(5060) ^ 0x2112
	gotPortXor := uint16(xmaAttr.Value[2])<<8 | uint16(xmaAttr.Value[3])
	if gotPortXor != wantPortXor {
		t.Fatalf("port xor mismatch: got %04x want %04x", gotPortXor, wantPortXor)
	}
	wantAddrXor := []byte{0x20, 0x10, 0xA0, 0x46}
	if !bytes.Equal(xmaAttr.Value[4:8], wantAddrXor) {
		t.Fatalf("address xor mismatch: got % x want % x", xmaAttr.Value[4:8], wantAddrXor)
	}

	decodedAddr, err := DecodeXorMappedAddress(xmaAttr.Value, respMsg.TransactionID)
	if err != nil {
		t.Fatalf("decode xor addr: %v", err)
	}
	if !decodedAddr.IP.Equal(addr.IP) || decodedAddr.Port != addr.Port {
		t.Fatalf("round trip mismatch: got %v want %v", decodedAddr, addr)
	}
}

// Invariant 5 (spec.md 8): encode(decode(x)) preserves class, method,
// transaction id and every attribute; FINGERPRINT verifies.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	var txID [12]byte
	copy(txID[:], []byte("012345678901"))
	raw := buildRequest(t, txID, "a:b", "secret-password", 42, 7, false)

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	reencoded := NewBuilder(msg.Class, msg.Method, msg.TransactionID)
	for _, a := range msg.Attributes {
		if a.Type == AttrMessageIntegrity || a.Type == AttrFingerprint {
			continue
		}
		reencoded.Add(a.Type, a.Value)
	}
	out := reencoded.WithMessageIntegrity("secret-password").WithFingerprint().Encode()

	if !bytes.Equal(out, raw) {
		t.Fatalf("round trip mismatch:\ngot  % x\nwant % x", out, raw)
	}
}

func TestFingerprintMustBeLast(t *testing.T) {
	// Hand-craft a message with an attribute after FINGERPRINT.
	var txID [12]byte
	b := NewBuilder(ClassRequest, MethodBinding, txID).WithFingerprint()
	raw := b.Encode()
	// Append a bogus 4-byte attribute after the (already last) FINGERPRINT
	// and fix up the header length to match.
	raw = append(raw, 0x00, 0x01, 0x00, 0x00)
	raw[2] = raw[2]
	newLen := len(raw) - headerLength
	raw[2] = byte(newLen >> 8)
	raw[3] = byte(newLen)

	if _, err := Decode(raw); err == nil {
		t.Fatal("expected an error for a trailing attribute after FINGERPRINT")
	}
}

func TestCheckRejectsBadUsername(t *testing.T) {
	var txID [12]byte
	raw := buildRequest(t, txID, "wrong:remote", "pwd", 1, 1, false)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	result, err := msg.Check("expected", "pwd")
	if err != nil {
		t.Fatal(err)
	}
	if result != AuthUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", result)
	}
}
