package mux

import (
	"encoding/binary"
	"errors"
)

// ErrFrameTooLarge is returned by Framer.Push when an in-progress frame
// starting at buffer offset 0 still does not fit after compaction. The
// caller must close the underlying connection (spec.md 4.2).
var ErrFrameTooLarge = errors.New("mux: rfc4571 frame too large for buffer")

// DefaultFramerBufferSize is the default read-buffer capacity for a
// Framer, per spec.md 4.2.
const DefaultFramerBufferSize = 64 * 1024

// Framer implements RFC 4571 framing (a big-endian uint16 length prefix
// followed by exactly that many bytes) on top of a byte stream. It owns
// a fixed-capacity buffer and never grows it.
//
// The buffer is a [start, end) window into buf; bytes before start have
// already been consumed into whole frames and are not memmoved until
// Push needs the room, matching spec.md 4.2's compaction rule: a
// partial frame is only ever slid down to offset 0 when the buffer
// would otherwise overflow.
type Framer struct {
	buf        []byte
	start, end int
}

// NewFramer creates a Framer with the given fixed buffer capacity. A
// capacity of 0 uses DefaultFramerBufferSize.
func NewFramer(capacity int) *Framer {
	if capacity <= 0 {
		capacity = DefaultFramerBufferSize
	}
	return &Framer{buf: make([]byte, capacity)}
}

// Push appends newly read bytes to the framer's window. If the window
// is full and the pending frame does not start at offset 0, the
// pending bytes are memmoved down to offset 0 to make room. If the
// pending frame already starts at offset 0 and still does not fit,
// ErrFrameTooLarge is returned and the connection must be closed.
func (f *Framer) Push(data []byte) error {
	if f.end+len(data) > len(f.buf) {
		if f.start > 0 {
			f.compact()
		}
		if f.end+len(data) > len(f.buf) {
			return ErrFrameTooLarge
		}
	}
	n := copy(f.buf[f.end:], data)
	f.end += n
	return nil
}

// Next extracts the next whole frame from the window, if one is fully
// present. It returns ok=false once the remaining bytes describe an
// incomplete frame (or fewer than 2 length-prefix bytes); the caller
// should keep calling Next after each Push until it returns false.
// Zero-length frames are silently skipped (spec.md 4.2).
func (f *Framer) Next() (frame []byte, ok bool) {
	for {
		avail := f.end - f.start
		if avail < 2 {
			if f.start == f.end {
				f.start, f.end = 0, 0
			}
			return nil, false
		}

		length := int(binary.BigEndian.Uint16(f.buf[f.start : f.start+2]))
		if avail < 2+length {
			return nil, false
		}

		payloadStart := f.start + 2
		f.start += 2 + length

		if length == 0 {
			continue
		}

		out := make([]byte, length)
		copy(out, f.buf[payloadStart:payloadStart+length])
		return out, true
	}
}

// compact slides the unconsumed window [start, end) down to offset 0.
func (f *Framer) compact() {
	n := copy(f.buf, f.buf[f.start:f.end])
	f.start = 0
	f.end = n
}
