// Package logsink implements the driver's bounded, append-only runtime log
// buffer (spec component A): a UTF-8 text sink with a hard 1 MiB ceiling
// that fails loudly on overflow rather than truncating silently.
package logsink

import (
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/xerrors"
)

// MaxBytes is the hard ceiling on the accumulated log buffer (spec §3
// invariant 6).
const MaxBytes = 1 << 20 // 1 MiB

// ErrTooLong is returned by Write/WriteByte when appending would push the
// buffer past MaxBytes; a buffer of exactly MaxBytes is still accepted. It
// is terminal: the caller must stop feeding
// the sink and surface the driver's LogsTooLong error.
var ErrTooLong = xerrors.New("logsink: buffer would exceed " + humanize.IBytes(MaxBytes))

// Sink is a bounded append-only log buffer.
type Sink struct {
	buf strings.Builder
}

// New creates an empty Sink.
func New() *Sink {
	return &Sink{}
}

// Len returns the current size of the buffer in bytes.
func (s *Sink) Len() int {
	return s.buf.Len()
}

// String returns the accumulated log text.
func (s *Sink) String() string {
	return s.buf.String()
}

// Write appends text to the buffer, checked against the cap on every call.
// It never writes a partial chunk: either all of text fits, or none of it does
// and ErrTooLong is returned.
func (s *Sink) Write(text string) error {
	if s.buf.Len()+len(text) > MaxBytes {
		return ErrTooLong
	}
	s.buf.WriteString(text)
	return nil
}

// WriteByte appends a single byte, checked against the cap.
func (s *Sink) WriteByte(b byte) error {
	if s.buf.Len()+1 > MaxBytes {
		return ErrTooLong
	}
	return s.buf.WriteByte(b)
}
