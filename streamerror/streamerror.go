// Package streamerror defines RFC 6120 §4.9 stream-level errors, the
// class of error that terminates a C2S or S2S stream outright (as opposed
// to xmpp.StanzaError, which is a per-stanza reply). Conditions are the
// closed set RFC 6120 §4.9.3 defines, compared by sentinel identity.
package streamerror

import "fmt"

// Error is a stream-level error condition. Reason is the RFC 6120 defined
// condition element name (e.g. "not-authorized", "host-unknown").
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream error: %s", e.Reason)
}

// Element returns the bare condition name, used by the writer to build the
// <stream:error> element with the appropriate child.
func (e *Error) Element() string { return e.Reason }

var (
	ErrInvalidXML           = &Error{Reason: "bad-format"}
	ErrInvalidNamespace     = &Error{Reason: "invalid-namespace"}
	ErrInvalidFrom          = &Error{Reason: "invalid-from"}
	ErrHostUnknown          = &Error{Reason: "host-unknown"}
	ErrPolicyViolation      = &Error{Reason: "policy-violation"}
	ErrRemoteConnectionFailed = &Error{Reason: "remote-connection-failed"}
	ErrConnectionTimeout    = &Error{Reason: "connection-timeout"}
	ErrUnsupportedStanzaType = &Error{Reason: "unsupported-stanza-type"}
	ErrUnsupportedVersion   = &Error{Reason: "unsupported-version"}
	ErrNotAuthorized        = &Error{Reason: "not-authorized"}
	ErrResourceConstraint   = &Error{Reason: "resource-constraint"}
	ErrSystemShutdown       = &Error{Reason: "system-shutdown"}
	ErrInternalServerError  = &Error{Reason: "internal-server-error"}
	ErrConflict             = &Error{Reason: "conflict"}
)
