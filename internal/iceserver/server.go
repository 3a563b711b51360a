// Package iceserver implements the ICE-lite responder named in
// spec.md 4.4: it authenticates inbound STUN Binding requests against
// the local ufrag/password and replies, but never gathers candidates
// or issues connectivity checks of its own (see DESIGN.md for why the
// full github.com/pion/ice/v4 Agent is not used here).
package iceserver

import (
	"net"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/stun"
)

// Source is the minimal surface the ICE Server needs from a
// TransportSource: where to reply, and the remote address to reflect
// in XOR-MAPPED-ADDRESS. The Transport owns the concrete source types
// (UDP 4-tuple, TCP connection); the ICE Server itself tracks nothing
// about sources (spec.md 4.4: "validity tracking belongs to the
// Transport").
type Source interface {
	Send(data []byte) error
	RemoteAddr() net.Addr
}

// Server is the ICE-lite responder. It never sends its own Binding
// Requests, so it has exactly one local credential pair.
type Server struct {
	usernameFragment string
	password         string
	log              logging.LeveledLogger

	onOutgoingStun func(msg []byte, source Source)
	onIceValidPair func(source Source, useCandidate bool)
}

// NewServer creates an ICE Server bound to the given local
// ufrag/password.
func NewServer(usernameFragment, password string, loggerFactory logging.LoggerFactory) *Server {
	return &Server{
		usernameFragment: usernameFragment,
		password:         password,
		log:              loggerFactory.NewLogger("iceserver"),
	}
}

// OnOutgoingStun registers the callback invoked whenever the server
// needs to send a STUN message back through the source that delivered
// the request (spec.md 4.4: "Responses always travel back through the
// SAME source").
func (s *Server) OnOutgoingStun(f func(msg []byte, source Source)) {
	s.onOutgoingStun = f
}

// OnIceValidPair registers the callback invoked after a successful
// Binding Request, so the Transport can promote the source (spec.md
// 4.7 step 2).
func (s *Server) OnIceValidPair(f func(source Source, useCandidate bool)) {
	s.onIceValidPair = f
}

// Usernames returns the local ufrag/password pair, for tests and for
// the Transport to surface in its own configuration accessors.
func (s *Server) Usernames() (usernameFragment, password string) {
	return s.usernameFragment, s.password
}

// Process handles one inbound STUN message already classified and
// routed to this server by the Transport, implementing the decision
// tree of spec.md 4.4 exactly.
func (s *Server) Process(raw []byte, source Source) {
	msg, err := stun.Decode(raw)
	if err != nil {
		s.log.Debugf("iceserver: dropping malformed STUN message: %v", err)
		return
	}
	if msg == nil {
		return
	}

	if msg.Method != stun.MethodBinding {
		if msg.Class == stun.ClassRequest {
			s.sendError(msg, source, stun.ErrorCodeBadRequest, "Bad Request")
		}
		return
	}

	switch msg.Class {
	case stun.ClassRequest:
		s.processBindingRequest(msg, source)
	case stun.ClassIndication:
		// Indications without FINGERPRINT are ignored outright; with
		// one, there is nothing further to do (no response to an
		// indication, ever).
		return
	default:
		// An ICE-lite server never issues its own Binding Requests, so
		// it never expects a SuccessResponse/ErrorResponse either.
		return
	}
}

func (s *Server) processBindingRequest(msg *stun.Message, source Source) {
	if !msg.HasFingerprint() {
		s.sendError(msg, source, stun.ErrorCodeBadRequest, "Bad Request")
		return
	}

	_, hasUsername := msg.Get(stun.AttrUsername)
	_, hasPriority := msg.Get(stun.AttrPriority)
	if !hasUsername || !msg.HasMessageIntegrity() || !hasPriority {
		s.sendError(msg, source, stun.ErrorCodeBadRequest, "Bad Request")
		return
	}

	if _, controlled := msg.Get(stun.AttrIceControlled); controlled {
		s.sendError(msg, source, stun.ErrorCodeRoleConflict, "Role Conflict")
		return
	}

	result, err := msg.Check(s.usernameFragment, s.password)
	if err != nil {
		s.sendError(msg, source, stun.ErrorCodeBadRequest, "Bad Request")
		return
	}
	switch result {
	case stun.AuthBadRequest:
		s.sendError(msg, source, stun.ErrorCodeBadRequest, "Bad Request")
		return
	case stun.AuthUnauthorized:
		s.sendError(msg, source, stun.ErrorCodeUnauthorized, "Unauthorized")
		return
	}

	s.sendSuccess(msg, source)

	_, useCandidate := msg.Get(stun.AttrUseCandidate)
	if s.onIceValidPair != nil {
		s.onIceValidPair(source, useCandidate)
	}
}

func (s *Server) sendSuccess(req *stun.Message, source Source) {
	remote := source.RemoteAddr()
	ip, port := addrIPPort(remote)

	resp := stun.NewBuilder(stun.ClassSuccessResponse, stun.MethodBinding, req.TransactionID).
		Add(stun.AttrXorMappedAddress, stun.EncodeXorMappedAddressIP(ip, port, req.TransactionID)).
		WithMessageIntegrity(s.password).
		WithFingerprint().
		Encode()

	if s.onOutgoingStun != nil {
		s.onOutgoingStun(resp, source)
	}
}

func (s *Server) sendError(req *stun.Message, source Source, code int, reason string) {
	resp := stun.NewBuilder(stun.ClassErrorResponse, stun.MethodBinding, req.TransactionID).
		Add(stun.AttrErrorCode, stun.EncodeErrorCode(code, reason)).
		WithMessageIntegrity(s.password).
		WithFingerprint().
		Encode()

	if s.onOutgoingStun != nil {
		s.onOutgoingStun(resp, source)
	}
}

func addrIPPort(addr net.Addr) (net.IP, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP, a.Port
	case *net.TCPAddr:
		return a.IP, a.Port
	default:
		return net.IPv4zero, 0
	}
}
