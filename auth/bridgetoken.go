package auth

import (
	"encoding/base64"

	"github.com/waddle-social/waddle/xmpp"
)

// BridgeMechanismName is the SASL mechanism name this server advertises for
// the ATProto-OAuth-derived bridge login: a native
// XMPP client authenticates with a one-time token minted by the OAuth
// callback handler instead of a SCRAM password, closing the loop between
// "log in with Bluesky" and "connect with any XMPP client".
const BridgeMechanismName = "X-WADDLE-BRIDGE"

// BridgeToken implements a single-message SASL mechanism: the initial
// response is the bare token, consumed exactly once against the store.
type BridgeToken struct {
	store CredentialStore

	username      string
	authenticated bool
}

// NewBridgeToken constructs a bridge-token authenticator backed by store.
func NewBridgeToken(store CredentialStore) *BridgeToken {
	return &BridgeToken{store: store}
}

func (b *BridgeToken) Mechanism() string   { return BridgeMechanismName }
func (b *BridgeToken) Authenticated() bool { return b.authenticated }
func (b *BridgeToken) Username() string    { return b.username }
func (b *BridgeToken) Reset()              { *b = BridgeToken{store: b.store} }

func (b *BridgeToken) ProcessElement(elem xmpp.XElement) error {
	payload, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return ErrSASLIncorrectEncoding
	}
	token := string(payload)
	if token == "" {
		return ErrSASLMalformedRequest
	}
	username, ok, err := b.store.ResolveBridgeToken(token)
	if err != nil {
		return ErrSASLTemporaryAuthFailure
	}
	if !ok {
		return ErrSASLNotAuthorized
	}
	b.username = username
	b.authenticated = true
	return nil
}
