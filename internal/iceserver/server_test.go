package iceserver

import (
	"net"
	"testing"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/stun"
)

type fakeSource struct {
	addr net.Addr
	sent [][]byte
}

func (f *fakeSource) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSource) RemoteAddr() net.Addr { return f.addr }

func newTestServer() *Server {
	return NewServer("Luf1234567", "Lpw12345678901234567890123456789012", logging.NewDefaultLoggerFactory())
}

func bindingRequest(t *testing.T, username, password string, priority uint32, controlled bool, useCandidate bool) []byte {
	t.Helper()
	var txID [12]byte
	copy(txID[:], []byte("transactio01"))
	b := stun.NewBuilder(stun.ClassRequest, stun.MethodBinding, txID).
		Add(stun.AttrUsername, []byte(username)).
		AddUint32(stun.AttrPriority, priority)
	if controlled {
		b = b.AddUint64(stun.AttrIceControlled, 1)
	} else {
		b = b.AddUint64(stun.AttrIceControlling, 1)
	}
	if useCandidate {
		b = b.AddFlag(stun.AttrUseCandidate)
	}
	return b.WithMessageIntegrity(password).WithFingerprint().Encode()
}

// S1 — a valid Binding Request yields a success response and
// onIceValidPair, in that order (spec.md 5 ordering guarantee).
func TestProcessSuccess(t *testing.T) {
	s := newTestServer()
	_, pwd := s.Usernames()

	var events []string
	s.OnOutgoingStun(func(msg []byte, source Source) { events = append(events, "stun") })
	s.OnIceValidPair(func(source Source, useCandidate bool) {
		events = append(events, "pair")
		if !useCandidate {
			t.Error("expected useCandidate=true")
		}
	})

	src := &fakeSource{addr: &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5060}}
	raw := bindingRequest(t, "Luf1234567:Ruf7654321", pwd, 0x7E7F1EFF, false, true)
	s.Process(raw, src)

	if len(events) != 2 || events[0] != "stun" || events[1] != "pair" {
		t.Fatalf("unexpected event order: %v", events)
	}
	if len(src.sent) != 1 {
		t.Fatalf("expected exactly one outgoing message, got %d", len(src.sent))
	}
	resp, err := stun.Decode(src.sent[0])
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Class != stun.ClassSuccessResponse {
		t.Fatalf("expected success response, got %v", resp.Class)
	}
}

// S3 — role conflict.
func TestProcessRoleConflict(t *testing.T) {
	s := newTestServer()
	_, pwd := s.Usernames()

	var paired bool
	s.OnIceValidPair(func(source Source, useCandidate bool) { paired = true })

	src := &fakeSource{addr: &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5060}}
	raw := bindingRequest(t, "Luf1234567:Ruf7654321", pwd, 1, true, false)
	s.Process(raw, src)

	if paired {
		t.Fatal("expected no valid pair on role conflict")
	}
	resp, err := stun.Decode(src.sent[0])
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Class != stun.ClassErrorResponse {
		t.Fatalf("expected error response, got %v", resp.Class)
	}
	ec, ok := resp.Get(stun.AttrErrorCode)
	if !ok {
		t.Fatal("expected ERROR-CODE attribute")
	}
	if int(ec.Value[2])*100+int(ec.Value[3]) != stun.ErrorCodeRoleConflict {
		t.Fatalf("expected 487, got %d%d", ec.Value[2], ec.Value[3])
	}
}

func TestProcessBadUsernameIsUnauthorized(t *testing.T) {
	s := newTestServer()
	src := &fakeSource{addr: &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5060}}
	raw := bindingRequest(t, "wrong:remote", "wrong-password", 1, false, false)
	s.Process(raw, src)

	resp, err := stun.Decode(src.sent[0])
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	ec, _ := resp.Get(stun.AttrErrorCode)
	if int(ec.Value[2])*100+int(ec.Value[3]) != stun.ErrorCodeUnauthorized {
		t.Fatalf("expected 401")
	}
}

func TestProcessNonBindingRequestIsBadRequest(t *testing.T) {
	s := newTestServer()
	var txID [12]byte
	raw := stun.NewBuilder(stun.ClassRequest, stun.Method(0x002), txID).Encode()

	src := &fakeSource{addr: &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5060}}
	s.Process(raw, src)

	resp, err := stun.Decode(src.sent[0])
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	ec, _ := resp.Get(stun.AttrErrorCode)
	if int(ec.Value[2])*100+int(ec.Value[3]) != stun.ErrorCodeBadRequest {
		t.Fatalf("expected 400")
	}
}

func TestProcessIndicationIsSilentlyIgnored(t *testing.T) {
	s := newTestServer()
	var txID [12]byte
	raw := stun.NewBuilder(stun.ClassIndication, stun.MethodBinding, txID).WithFingerprint().Encode()

	src := &fakeSource{addr: &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5060}}
	s.Process(raw, src)

	if len(src.sent) != 0 {
		t.Fatalf("expected no response to an indication, got %d", len(src.sent))
	}
}
