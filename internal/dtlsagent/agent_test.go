package dtlsagent

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/pion/logging"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	// No real certificate is needed for the state-machine-level tests
	// below: HandleTimeout and the reentrancy guard operate purely on
	// Agent state and never touch a.certificate.
	return New(tls.Certificate{}, logging.NewDefaultLoggerFactory())
}

// S4 — a reported timeout over the pathological threshold resets the
// Agent to NEW without emitting onDtlsFailed (a reset is not a
// failure).
func TestHandleTimeoutPathologicalResetS4(t *testing.T) {
	a := newTestAgent(t)
	a.state = StateRunning

	failed := false
	a.OnDtlsFailed(func() { failed = true })

	a.HandleTimeout(35 * time.Second)

	if a.State() != StateNew {
		t.Fatalf("expected state NEW after pathological timeout, got %s", a.State())
	}
	if failed {
		t.Fatal("onDtlsFailed must not fire on a pathological-timeout reset")
	}
}

func TestHandleTimeoutWithinBoundRearms(t *testing.T) {
	a := newTestAgent(t)
	a.state = StateRunning

	a.HandleTimeout(5 * time.Second)

	if a.State() != StateRunning {
		t.Fatalf("expected state unchanged (still RUNNING) after a sub-threshold timeout, got %s", a.State())
	}
	if a.timer == nil || !a.timer.Running() {
		t.Fatal("expected the retransmission timer to be armed")
	}
}

// Reentrancy: Reset()/Close() called while dispatching a callback must
// be deferred until the dispatch completes (spec.md 5/9).
func TestResetDeferredWhileDispatching(t *testing.T) {
	a := newTestAgent(t)
	a.state = StateConnected
	a.dispatching = true

	a.Reset()

	if a.State() != StateConnected {
		t.Fatalf("expected Reset to be deferred, state changed to %s", a.State())
	}
	if !a.resetPending {
		t.Fatal("expected resetPending to be set")
	}

	a.endDispatch()

	if a.State() != StateNew {
		t.Fatalf("expected deferred reset to apply once dispatch ended, got %s", a.State())
	}
}

func TestCloseTakesPrecedenceOverPendingReset(t *testing.T) {
	a := newTestAgent(t)
	a.state = StateConnected
	a.dispatching = true

	a.Reset()
	a.Close()
	a.endDispatch()

	if a.State() != StateNew {
		t.Fatalf("expected NEW after close, got %s", a.State())
	}
	if a.resetPending || a.closePending {
		t.Fatal("expected no pending flags left set after dispatch ends")
	}
}

func TestProcessDtlsDataBeforeRunErrors(t *testing.T) {
	a := newTestAgent(t)
	if err := a.ProcessDtlsData([]byte{1, 2, 3}); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
