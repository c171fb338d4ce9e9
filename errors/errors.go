// Package errors defines the recovery-policy taxonomy used across waddle
// (local-recoverable, session-fatal, stanza-level, operator-fatal) plus a
// redaction helper for log lines that might otherwise leak
// credentials or tokens.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Class identifies the recovery policy attached to an error.
type Class int

const (
	// LocalRecoverable errors are logged and the caller retries or moves on
	// (a single channel-full recipient, transient DB contention, one failed
	// SRV target while others remain).
	LocalRecoverable Class = iota
	// SessionFatal errors close the C2S/S2S stream with a stream-error.
	SessionFatal
	// StanzaLevel errors are replied to the sender as an IQ/message error;
	// the session continues.
	StanzaLevel
	// OperatorFatal errors propagate to the process supervisor.
	OperatorFatal
)

// Error is a typed, classed error value every public component operation
// should return instead of a bare error string.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a classification and the operation name that produced
// it, adding a stack trace via pkg/errors for storage/IO boundaries.
func New(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: pkgerrors.WithStack(err)}
}

// Wrap is a convenience for LocalRecoverable storage/IO errors, the most
// common case at the repository boundary.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(LocalRecoverable, op, err)
}

// Redact scrubs a string that might contain a credential or token before it
// reaches a log line. It is intentionally conservative: it blanks the whole
// value rather than attempting partial masking.
func Redact(s string) string {
	if s == "" {
		return s
	}
	return "[redacted]"
}
