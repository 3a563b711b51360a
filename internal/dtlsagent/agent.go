// Package dtlsagent implements the DTLS Agent of spec.md 4.5: a state
// machine driving github.com/pion/dtls/v3 over an in-process net.Conn
// adapter, verifying the remote certificate fingerprint and exporting
// SRTP keying material once the handshake completes.
package dtlsagent

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/clock"
)

// Role is the local DTLS role.
type Role int

// DTLS roles (spec.md 3).
const (
	RoleNone Role = iota
	RoleClient
	RoleServer
)

// State is the Agent's lifecycle state (spec.md 4.5).
type State int

// Agent states.
const (
	StateNew State = iota
	StateRunning
	StateHandshakeDone
	StateConnected
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateRunning:
		return "RUNNING"
	case StateHandshakeDone:
		return "HANDSHAKE_DONE"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// pathologicalTimeout is the >30s threshold of spec.md 4.5/8 scenario
// S4: a reported handshake timeout past this is treated as
// pathological and resets the Agent rather than failing it.
const pathologicalTimeout = 30 * time.Second

// srtpExporterLabel is the RFC 5764 keying-material exporter label.
const srtpExporterLabel = "EXTRACTOR-dtls_srtp"

// srtpMasterKeyLen and srtpMasterSaltLen sum to the 30-byte master key
// per direction (spec.md 3).
const (
	srtpMasterKeyLen  = 16
	srtpMasterSaltLen = 14
)

var (
	// ErrNotRunning is returned by ProcessDtlsData before Run has been
	// called.
	ErrNotRunning = errors.New("dtlsagent: not running")
	// ErrFingerprintMismatch marks a FAILED transition on handshake
	// completion (spec.md 8 invariant 8).
	ErrFingerprintMismatch = errors.New("dtlsagent: remote fingerprint mismatch")
)

// RemoteFingerprint is the (hash kind, hex) pair named in spec.md 3.
type RemoteFingerprint struct {
	Hash string // "SHA-1", "SHA-224", "SHA-256", "SHA-384", or "SHA-512"
	Hex  string
}

// Agent drives one DTLS session. It is not safe for concurrent use;
// like every other component in this module it is owned by exactly
// one reactor (spec.md 5).
type Agent struct {
	state         State
	role          Role
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory
	clock         clock.Clock
	timer         *clock.Timer

	certificate tls.Certificate
	remoteFP    *RemoteFingerprint

	bio        *bioConn
	conn       *dtls.Conn
	handshakeC chan handshakeResult
	appDataC   chan []byte

	// dispatching is set for the duration of any callback-dispatch
	// sequence (ProcessDtlsData, handleTimeout). Reset/Close called
	// from within a callback are deferred until dispatch returns,
	// per spec.md 5/9's reentrancy rule.
	dispatching  bool
	resetPending bool
	closePending bool

	onOutgoingBytes    func([]byte)
	onConnected        func()
	onSrtpKeyMaterial  func(profile dtls.SRTPProtectionProfile, localMaster, remoteMaster []byte)
	onDtlsFailed       func()
	onDtlsDisconnected func()
	onApplicationData  func([]byte)
}

type handshakeResult struct {
	conn *dtls.Conn
	err  error
}

// New creates an Agent using the given process-wide certificate
// singleton.
func New(certificate tls.Certificate, loggerFactory logging.LoggerFactory) *Agent {
	return &Agent{
		state:         StateNew,
		certificate:   certificate,
		log:           loggerFactory.NewLogger("dtlsagent"),
		loggerFactory: loggerFactory,
		clock:         clock.System{},
	}
}

// OnOutgoingBytes registers the callback for ciphertext the Agent
// needs sent to the current sending source.
func (a *Agent) OnOutgoingBytes(f func([]byte)) { a.onOutgoingBytes = f }

// OnConnected registers the callback fired once the handshake
// completes AND the remote fingerprint verifies.
func (a *Agent) OnConnected(f func()) { a.onConnected = f }

// OnSrtpKeyMaterial registers the callback fired immediately after
// OnConnected with the exported SRTP keying material (spec.md 4.5,
// 5's ordering guarantee).
func (a *Agent) OnSrtpKeyMaterial(f func(profile dtls.SRTPProtectionProfile, localMaster, remoteMaster []byte)) {
	a.onSrtpKeyMaterial = f
}

// OnDtlsFailed registers the callback for a handshake or session
// failure that was never connected.
func (a *Agent) OnDtlsFailed(f func()) { a.onDtlsFailed = f }

// OnDtlsDisconnected registers the callback for a session that failed
// after having been connected.
func (a *Agent) OnDtlsDisconnected(f func()) { a.onDtlsDisconnected = f }

// OnApplicationData registers the optional sink for post-handshake
// application data (spec.md 4.5 — unused by this core, but exposed).
func (a *Agent) OnApplicationData(f func([]byte)) { a.onApplicationData = f }

// State returns the current lifecycle state.
func (a *Agent) State() State { return a.state }

// SetRemoteFingerprint stores the remote fingerprint. If the
// handshake has already finished, verification runs immediately
// (spec.md 4.5).
func (a *Agent) SetRemoteFingerprint(hash, hex string) {
	a.remoteFP = &RemoteFingerprint{Hash: hash, Hex: strings.ToUpper(hex)}
	if a.conn != nil && a.state == StateHandshakeDone {
		a.completeHandshake()
	}
}

// Run starts the handshake in the given role. The handshake itself
// runs on a dedicated goroutine (pion/dtls/v3's Client/Server
// constructors block) feeding results back through a buffered
// channel; this is the sole goroutine exception to the no-blocking
// reactor model (spec.md 5, 9).
func (a *Agent) Run(role Role) error {
	if a.state != StateNew {
		return fmt.Errorf("dtlsagent: Run called in state %s", a.state)
	}
	a.role = role
	a.state = StateRunning
	a.bio = newBioConn()
	a.handshakeC = make(chan handshakeResult, 1)

	config := &dtls.Config{
		Certificates: []tls.Certificate{a.certificate},
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
			dtls.SRTP_AES128_CM_HMAC_SHA1_32,
		},
		ClientAuth:         dtls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		LoggerFactory:      a.loggerFactory,
	}

	go a.runHandshake(role, config)
	a.drainOutgoing()
	return nil
}

func (a *Agent) runHandshake(role Role, config *dtls.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), pathologicalTimeout+5*time.Second)
	defer cancel()

	var conn *dtls.Conn
	var err error
	if role == RoleClient {
		conn, err = dtls.ClientWithContext(ctx, a.bio, config)
	} else {
		conn, err = dtls.ServerWithContext(ctx, a.bio, config)
	}
	a.handshakeC <- handshakeResult{conn: conn, err: err}
}

// ProcessDtlsData feeds inbound ciphertext to the session, per
// spec.md 4.5: writes into the from-network side, drains any
// outgoing bytes the engine produced, and polls for handshake
// completion / application data.
func (a *Agent) ProcessDtlsData(data []byte) error {
	if a.state == StateNew {
		return ErrNotRunning
	}
	a.dispatching = true
	defer a.endDispatch()

	a.bio.push(data)
	a.drainOutgoing()
	a.pollHandshake()
	a.pollApplicationData()
	return nil
}

func (a *Agent) drainOutgoing() {
	if a.bio == nil {
		return
	}
	a.bio.drainOutgoing(func(b []byte) {
		if a.onOutgoingBytes != nil {
			a.onOutgoingBytes(b)
		}
	})
}

func (a *Agent) pollHandshake() {
	if a.handshakeC == nil {
		return
	}
	select {
	case res := <-a.handshakeC:
		a.handshakeC = nil
		a.drainOutgoing()
		if res.err != nil {
			a.fail()
			return
		}
		a.conn = res.conn
		a.state = StateHandshakeDone
		a.completeHandshake()
		a.startApplicationReader()
	default:
	}
}

// completeHandshake validates the remote fingerprint (if known) and
// transitions to CONNECTED, exporting SRTP keying material per
// spec.md 4.5's exact byte layout.
func (a *Agent) completeHandshake() {
	if a.remoteFP == nil {
		// Nothing to validate yet; SetRemoteFingerprint will re-enter
		// this method once it arrives.
		return
	}

	if err := a.verifyFingerprint(); err != nil {
		a.log.Debugf("dtlsagent: fingerprint mismatch: %v", err)
		a.fail()
		return
	}

	a.state = StateConnected
	if a.onConnected != nil {
		a.onConnected()
	}
	a.exportSrtpKeys()
}

func (a *Agent) verifyFingerprint() error {
	certs := a.conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return errors.New("dtlsagent: peer did not present a certificate")
	}
	parsed, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return err
	}
	hashAlgo, err := fingerprint.HashFromString(a.remoteFP.Hash)
	if err != nil {
		return err
	}
	computed, err := fingerprint.Fingerprint(parsed, hashAlgo)
	if err != nil {
		return err
	}
	if !strings.EqualFold(computed, a.remoteFP.Hex) {
		return ErrFingerprintMismatch
	}
	return nil
}

// exportSrtpKeys derives 60 bytes via the RFC 5764 exporter and splits
// them per spec.md 4.5: (local_key||remote_key||local_salt||remote_salt)
// for the Client role, (remote_key||local_key||remote_salt||local_salt)
// for the Server role.
func (a *Agent) exportSrtpKeys() {
	const exportLen = 2*srtpMasterKeyLen + 2*srtpMasterSaltLen
	material, err := a.conn.ExportKeyingMaterial(srtpExporterLabel, nil, exportLen)
	if err != nil {
		a.log.Debugf("dtlsagent: SRTP key export failed: %v", err)
		a.fail()
		return
	}

	keyA := material[0:srtpMasterKeyLen]
	keyB := material[srtpMasterKeyLen : 2*srtpMasterKeyLen]
	saltA := material[2*srtpMasterKeyLen : 2*srtpMasterKeyLen+srtpMasterSaltLen]
	saltB := material[2*srtpMasterKeyLen+srtpMasterSaltLen : exportLen]

	var localMaster, remoteMaster []byte
	if a.role == RoleClient {
		localMaster = append(append([]byte{}, keyA...), saltA...)
		remoteMaster = append(append([]byte{}, keyB...), saltB...)
	} else {
		remoteMaster = append(append([]byte{}, keyA...), saltA...)
		localMaster = append(append([]byte{}, keyB...), saltB...)
	}

	profile := a.conn.ConnectionState().SRTPProtectionProfile
	if a.onSrtpKeyMaterial != nil {
		a.onSrtpKeyMaterial(profile, localMaster, remoteMaster)
	}
}

func (a *Agent) startApplicationReader() {
	a.appDataC = make(chan []byte, 16)
	go func(conn *dtls.Conn, out chan<- []byte) {
		buf := make([]byte, 2048)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				close(out)
				return
			}
			cp := make([]byte, n)
			copy(cp, buf[:n])
			select {
			case out <- cp:
			default:
			}
		}
	}(a.conn, a.appDataC)
}

func (a *Agent) pollApplicationData() {
	if a.appDataC == nil {
		return
	}
	for {
		select {
		case b, ok := <-a.appDataC:
			if !ok {
				a.appDataC = nil
				return
			}
			if a.onApplicationData != nil {
				a.onApplicationData(b)
			}
		default:
			return
		}
	}
}

// HandleTimeout is invoked whenever the session reports a
// retransmission timeout, per spec.md 4.5 and scenario S4. A timeout
// over pathologicalTimeout resets the Agent instead of re-arming
// (spec.md 8 testable property). The real v3 handshake drives its own
// internal flight retransmission (see DESIGN.md); this entry point
// keeps the Timer abstraction meaningful at the Agent API boundary and
// is what the S4 test drives directly.
func (a *Agent) HandleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > pathologicalTimeout {
		a.doReset()
		return
	}
	if a.timer == nil {
		a.timer = clock.NewTimer(func() {})
	}
	a.timer.Reset(d)
}

func (a *Agent) fail() {
	wasConnected := a.state == StateConnected
	a.state = StateFailed
	if wasConnected {
		if a.onDtlsDisconnected != nil {
			a.onDtlsDisconnected()
		}
	} else {
		if a.onDtlsFailed != nil {
			a.onDtlsFailed()
		}
	}
	a.Reset()
}

// Reset returns the Agent to NEW, per spec.md 4.5's RESET edge. If
// called while dispatching a callback, it is deferred until the
// dispatch returns (spec.md 5/9 reentrancy rule).
func (a *Agent) Reset() {
	if a.dispatching {
		a.resetPending = true
		return
	}
	a.doReset()
}

func (a *Agent) doReset() {
	if a.bio != nil {
		_ = a.bio.Close()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.state = StateNew
	a.role = RoleNone
	a.bio = nil
	a.conn = nil
	a.handshakeC = nil
	a.appDataC = nil
	a.timer = nil
}

// Close sends a close alert if running and tears everything down.
// Idempotent. Deferred while dispatching, per the same reentrancy
// rule as Reset.
func (a *Agent) Close() {
	if a.dispatching {
		a.closePending = true
		return
	}
	a.doClose()
}

func (a *Agent) doClose() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
	if a.bio != nil {
		_ = a.bio.Close()
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.state = StateNew
}

func (a *Agent) endDispatch() {
	a.dispatching = false
	if a.closePending {
		a.closePending = false
		a.resetPending = false
		a.doClose()
		return
	}
	if a.resetPending {
		a.resetPending = false
		a.doReset()
	}
}
