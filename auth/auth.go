// Package auth implements the SASL authenticators offered during C2S
// stream negotiation: SCRAM-SHA-256 over stored credentials, PLAIN for
// resource constrained legacy clients, and a bridge-token mechanism that
// exchanges a short-lived token minted from a verified ATProto/Bluesky
// OAuth session for a native XMPP login.
package auth

import "github.com/waddle-social/waddle/xmpp"

// Authenticator drives one SASL mechanism's exchange to completion.
type Authenticator interface {
	// Mechanism returns the SASL mechanism name advertised in
	// <mechanisms/> (e.g. "SCRAM-SHA-256", "PLAIN", "X-WADDLE-BRIDGE").
	Mechanism() string
	// ProcessElement feeds the next <auth/>/<response/> element to the
	// state machine. A *SASLError return means the exchange failed and
	// the caller should reply with a SASL <failure/>.
	ProcessElement(elem xmpp.XElement) error
	// Authenticated reports whether the exchange has completed
	// successfully; once true, Username is valid.
	Authenticated() bool
	// Username returns the authenticated node part once Authenticated
	// is true.
	Username() string
	// Reset discards in-progress exchange state, readying the
	// authenticator for reuse on the next connection attempt.
	Reset()
}

// SASLError wraps a SASL failure condition, matching RFC 6120 §6.5's
// defined <failure/> child element names.
type SASLError struct {
	Condition string
	Err       error
}

func (e *SASLError) Error() string {
	if e.Err != nil {
		return "sasl: " + e.Condition + ": " + e.Err.Error()
	}
	return "sasl: " + e.Condition
}

// Element builds the <failure/> child naming this error's condition.
func (e *SASLError) Element() xmpp.XElement {
	return xmpp.NewElementName(e.Condition)
}

var (
	ErrSASLIncorrectEncoding     = &SASLError{Condition: "incorrect-encoding"}
	ErrSASLInvalidAuthzID        = &SASLError{Condition: "invalid-authzid"}
	ErrSASLInvalidMechanism      = &SASLError{Condition: "invalid-mechanism"}
	ErrSASLMalformedRequest      = &SASLError{Condition: "malformed-request"}
	ErrSASLNotAuthorized         = &SASLError{Condition: "not-authorized"}
	ErrSASLTemporaryAuthFailure  = &SASLError{Condition: "temporary-auth-failure"}
)

// CredentialStore is the lookup interface authenticators use to fetch the
// stored credential material for a username, implemented by
// storage.Instance() in production and a fake in tests.
type CredentialStore interface {
	// FetchSCRAMCredential returns the PBKDF2-derived salted-password
	// material for username, or ok=false if no such user exists.
	FetchSCRAMCredential(username string) (cred SCRAMCredential, ok bool, err error)
	// VerifyPlainPassword checks a cleartext password for username
	// against the stored credential (used only by the PLAIN mechanism,
	// which this server accepts solely over TLS-protected connections).
	VerifyPlainPassword(username, password string) (ok bool, err error)
	// ResolveBridgeToken exchanges a one-time bridge token (minted by
	// the ATProto OAuth callback handler) for the username it
	// authorizes, consuming it so it cannot be replayed.
	ResolveBridgeToken(token string) (username string, ok bool, err error)
}
