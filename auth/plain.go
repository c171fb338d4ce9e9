package auth

import (
	"bytes"
	"encoding/base64"

	"github.com/waddle-social/waddle/xmpp"
)

// Plain implements the SASL PLAIN mechanism (RFC 4616). The session layer
// only advertises it once TLS is established.
type Plain struct {
	store CredentialStore

	username      string
	authenticated bool
}

// NewPlain constructs a PLAIN authenticator backed by store.
func NewPlain(store CredentialStore) *Plain {
	return &Plain{store: store}
}

func (p *Plain) Mechanism() string   { return "PLAIN" }
func (p *Plain) Authenticated() bool { return p.authenticated }
func (p *Plain) Username() string    { return p.username }
func (p *Plain) Reset()              { *p = Plain{store: p.store} }

// ProcessElement parses "authzid\x00authcid\x00passwd" and verifies it in
// one round trip; PLAIN has no continuation step.
func (p *Plain) ProcessElement(elem xmpp.XElement) error {
	payload, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return ErrSASLIncorrectEncoding
	}
	parts := bytes.SplitN(payload, []byte{0}, 3)
	if len(parts) != 3 {
		return ErrSASLMalformedRequest
	}
	username, password := string(parts[1]), string(parts[2])
	if username == "" {
		return ErrSASLMalformedRequest
	}
	ok, err := p.store.VerifyPlainPassword(username, password)
	if err != nil {
		return ErrSASLTemporaryAuthFailure
	}
	if !ok {
		return ErrSASLNotAuthorized
	}
	p.username = username
	p.authenticated = true
	return nil
}
