package transport

import (
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/internal/mux"
	"github.com/pion/webrtc/v4/internal/netio"
)

// DefaultMaxSources is the reference bound on a Transport's ICE
// validity list, N=8 per spec.md 3.
const DefaultMaxSources = 8

// Settings collects the process-wide configuration knobs spec.md 6
// names, following the teacher's SettingEngine pattern
// (settingengine.go) rather than functional options: every knob here
// is a value a worker reads once from its own config file before any
// Transport is built.
type Settings struct {
	// MinPort and MaxPort bound UDP/TCP port allocation (spec.md 6).
	MinPort uint16
	MaxPort uint16

	// TCPAcceptCap is the per-TCP-server accepted-connection cap,
	// default netio.DefaultAcceptCap (10).
	TCPAcceptCap int

	// TCPFramerSize is the per-connection RFC 4571 buffer capacity,
	// default mux.DefaultFramerBufferSize (64 KiB).
	TCPFramerSize int

	// MaxSources bounds the ICE validity list, default
	// DefaultMaxSources (8).
	MaxSources int

	// LoggerFactory is shared by every sub-component this Transport
	// owns, per the teacher's loggerFactory.NewLogger("<component>")
	// convention.
	LoggerFactory logging.LoggerFactory
}

// DefaultSettings returns a Settings with every default spec.md 6
// names filled in; callers only need to set MinPort/MaxPort and
// LoggerFactory.
func DefaultSettings() Settings {
	return Settings{
		TCPAcceptCap:  netio.DefaultAcceptCap,
		TCPFramerSize: mux.DefaultFramerBufferSize,
		MaxSources:    DefaultMaxSources,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	}
}

// withDefaults fills in any zero-valued knob, mirroring
// settingengine.go's lazy-default pattern at point of use rather than
// requiring every caller to start from DefaultSettings.
func (s Settings) withDefaults() Settings {
	if s.TCPAcceptCap <= 0 {
		s.TCPAcceptCap = netio.DefaultAcceptCap
	}
	if s.TCPFramerSize <= 0 {
		s.TCPFramerSize = mux.DefaultFramerBufferSize
	}
	if s.MaxSources <= 0 {
		s.MaxSources = DefaultMaxSources
	}
	if s.LoggerFactory == nil {
		s.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return s
}
