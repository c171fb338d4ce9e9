package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/waddle-social/waddle/xmpp"
)

// SCRAMCredential is the server-side verifier stored for a user, derived
// once at registration/password-change time per RFC 5802 §3.
type SCRAMCredential struct {
	Salt       []byte
	Iterations int
	StoredKey  []byte
	ServerKey  []byte
}

// DeriveSCRAMCredential computes the SaltedPassword-derived StoredKey and
// ServerKey for a cleartext password, salt and iteration count, following
// RFC 5802 §3's ClientKey/StoredKey/ServerKey construction.
func DeriveSCRAMCredential(password string, salt []byte, iterations int) SCRAMCredential {
	salted := derivedSaltedPassword(password, salt, iterations)
	clientKey := hmacSHA256(salted, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSHA256(salted, []byte("Server Key"))
	return SCRAMCredential{
		Salt:       salt,
		Iterations: iterations,
		StoredKey:  storedKey[:],
		ServerKey:  serverKey,
	}
}

func derivedSaltedPassword(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

type scramState int

const (
	scramInitial scramState = iota
	scramWaitingClientFinal
	scramCompleted
)

// ScramSHA256 implements the server side of the SCRAM-SHA-256 SASL
// mechanism (RFC 7677) without channel binding, against a CredentialStore.
type ScramSHA256 struct {
	store CredentialStore

	state         scramState
	username      string
	authenticated bool

	clientFirstBare      string
	serverFirst          string
	nonce                string
	cred                 SCRAMCredential
	serverFinalSignature string
}

// NewScramSHA256 constructs a server-side SCRAM-SHA-256 authenticator
// backed by store.
func NewScramSHA256(store CredentialStore) *ScramSHA256 {
	return &ScramSHA256{store: store}
}

func (s *ScramSHA256) Mechanism() string    { return "SCRAM-SHA-256" }
func (s *ScramSHA256) Authenticated() bool  { return s.authenticated }
func (s *ScramSHA256) Username() string    { return s.username }

func (s *ScramSHA256) Reset() {
	*s = ScramSHA256{store: s.store}
}

// ProcessElement dispatches to the initial or final step based on state.
func (s *ScramSHA256) ProcessElement(elem xmpp.XElement) error {
	payload, err := base64.StdEncoding.DecodeString(elem.Text())
	if err != nil {
		return ErrSASLIncorrectEncoding
	}
	switch s.state {
	case scramInitial:
		return s.processClientFirst(string(payload))
	case scramWaitingClientFinal:
		return s.processClientFinal(string(payload))
	default:
		return ErrSASLNotAuthorized
	}
}

// processClientFirst parses "n,,n=<user>,r=<client-nonce>" and replies with
// the server-first message carrying the combined nonce, salt and iteration
// count (RFC 5802 §5).
func (s *ScramSHA256) processClientFirst(msg string) error {
	gs2, rest, ok := cutGS2Header(msg)
	if !ok {
		return ErrSASLMalformedRequest
	}
	if gs2 != "n,," {
		// channel binding/authzid not supported
		return ErrSASLInvalidAuthzID
	}
	attrs := parseSCRAMAttrs(rest)
	username, ok := attrs["n"]
	if !ok {
		return ErrSASLMalformedRequest
	}
	clientNonce, ok := attrs["r"]
	if !ok {
		return ErrSASLMalformedRequest
	}
	username = unescapeSCRAMUsername(username)

	cred, found, err := s.store.FetchSCRAMCredential(username)
	if err != nil {
		return ErrSASLTemporaryAuthFailure
	}
	if !found {
		// still complete the round trip with a fabricated credential so the
		// wire exchange doesn't leak account existence via early failure.
		cred = fabricateCredential(username)
	}
	s.cred = cred
	s.username = username
	s.clientFirstBare = rest

	serverNonce := generateNonce()
	s.nonce = clientNonce + serverNonce

	s.serverFirst = fmt.Sprintf("r=%s,s=%s,i=%d",
		s.nonce,
		base64.StdEncoding.EncodeToString(cred.Salt),
		cred.Iterations)

	s.state = scramWaitingClientFinal
	_ = found
	return nil
}

// processClientFinal verifies "c=biws,r=<nonce>,p=<proof>" against the
// stored key and, on success, completes the exchange (RFC 5802 §3).
func (s *ScramSHA256) processClientFinal(msg string) error {
	attrs := parseSCRAMAttrs(msg)
	channelBinding, ok := attrs["c"]
	if !ok || channelBinding != base64.StdEncoding.EncodeToString([]byte("n,,")) {
		return ErrSASLMalformedRequest
	}
	nonce, ok := attrs["r"]
	if !ok || nonce != s.nonce {
		return ErrSASLNotAuthorized
	}
	proofB64, ok := attrs["p"]
	if !ok {
		return ErrSASLMalformedRequest
	}
	proof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return ErrSASLIncorrectEncoding
	}

	clientFinalWithoutProof := msg[:strings.LastIndex(msg, ",p=")]
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(s.cred.StoredKey, []byte(authMessage))
	recoveredClientKey := xorBytes(proof, clientSignature)
	recoveredStoredKey := sha256.Sum256(recoveredClientKey)

	if subtle.ConstantTimeCompare(recoveredStoredKey[:], s.cred.StoredKey) != 1 {
		s.state = scramInitial
		return ErrSASLNotAuthorized
	}

	serverSignature := hmacSHA256(s.cred.ServerKey, []byte(authMessage))
	s.serverFinalSignature = "v=" + base64.StdEncoding.EncodeToString(serverSignature)

	s.authenticated = true
	s.state = scramCompleted
	return nil
}

// ServerFinalMessage returns the "v=<signature>" success payload the
// caller should embed in <success/> once Authenticated is true.
func (s *ScramSHA256) ServerFinalMessage() string { return s.serverFinalSignature }

// Challenge returns the base64-encoded server-first message the caller
// should send as the SASL <challenge/> payload after processClientFirst
// has run; empty before the first step completes.
func (s *ScramSHA256) Challenge() string {
	return base64.StdEncoding.EncodeToString([]byte(s.serverFirst))
}

func cutGS2Header(msg string) (header, rest string, ok bool) {
	if strings.HasPrefix(msg, "n,,") {
		return "n,,", msg[3:], true
	}
	if strings.HasPrefix(msg, "y,,") {
		return "y,,", msg[3:], true
	}
	return "", "", false
}

func parseSCRAMAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if len(part) < 2 || part[1] != '=' {
			continue
		}
		attrs[part[:1]] = part[2:]
	}
	return attrs
}

func unescapeSCRAMUsername(s string) string {
	s = strings.ReplaceAll(s, "=2C", ",")
	s = strings.ReplaceAll(s, "=3D", "=")
	return s
}

func generateNonce() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func fabricateCredential(username string) SCRAMCredential {
	salt := sha256.Sum256([]byte("waddle-unknown-user-salt:" + username))
	return DeriveSCRAMCredential("", salt[:16], 4096)
}
