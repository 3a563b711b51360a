package clock

import "time"

// Timer is a single-shot, restartable, cancellable timer whose callback
// fires on the owning reactor's goroutine (spec.md 4.8). It is used by
// the DTLS Agent's retransmission logic only.
type Timer struct {
	t        *time.Timer
	fn       func()
	running  bool
}

// NewTimer creates a Timer that is not yet armed. Call Reset to start
// or restart it.
func NewTimer(fn func()) *Timer {
	return &Timer{fn: fn}
}

// Reset (re)arms the timer to fire fn after d. Any previous pending
// fire is cancelled first.
func (t *Timer) Reset(d time.Duration) {
	t.Stop()
	t.t = time.AfterFunc(d, t.fn)
	t.running = true
}

// Stop cancels a pending fire, if any. It is safe to call on an
// already-stopped or never-armed Timer.
func (t *Timer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
	t.running = false
}

// Running reports whether the timer currently has a pending fire.
func (t *Timer) Running() bool {
	return t.running
}
