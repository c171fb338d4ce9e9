// Package isr implements XEP-0397 Instant Stream Resumption: opaque,
// single-use token issuance, validation, and refresh, backed by
// storage.ISRRepository: a thin domain package sitting directly on top of
// storage.Instance(), same shape as the bridge-token handling in
// storage/credential_adapter.go.
package isr

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
)

var (
	// ErrTokenNotFound is returned when a token doesn't exist or has
	// already been consumed.
	ErrTokenNotFound = errors.New("isr: token not found")
	// ErrTokenExpired is returned when a token exists but its validity
	// window has passed.
	ErrTokenExpired = errors.New("isr: token expired")
	// ErrStoreFull is returned by Issue when the store-wide token cap is
	// reached and eviction could not free a slot.
	ErrStoreFull = errors.New("isr: token store full")
)

// Resumable is the snapshot of SM state a token carries so a resumption
// can replay the unacked queue without the original session object.
type Resumable struct {
	StreamID      string
	InboundCount  uint32
	OutboundCount uint32
}

// Store issues, validates, and consumes ISR tokens against a configured
// validity window.
type Store struct {
	cfg config.ISRConfig
}

// New constructs a Store from the server's ISR configuration (default and
// maximum token validity, store bound).
func New(cfg config.ISRConfig) *Store {
	return &Store{cfg: cfg}
}

// Issue mints a new token for username/resource, optionally carrying SM
// resumption state. validity is clamped to [0, MaxValidity] and defaults
// to DefaultValidity when zero.
func (s *Store) Issue(username, resource string, validity time.Duration, r *Resumable) (*model.ISRToken, error) {
	if validity <= 0 {
		validity = s.cfg.DefaultValidity
	}
	if validity > s.cfg.MaxValidity {
		validity = s.cfg.MaxValidity
	}

	if err := s.makeRoom(); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &model.ISRToken{
		Token:     generateToken(),
		Username:  username,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
	}
	if r != nil {
		t.LastStreamID = r.StreamID
		t.InboundCount = r.InboundCount
		t.OutboundCount = r.OutboundCount
	}
	if err := storage.Instance().PutISRToken(t); err != nil {
		return nil, err
	}
	return t, nil
}

// makeRoom keeps the whole store under the configured cap, evicting
// expired tokens first and then the oldest still-valid ones.
func (s *Store) makeRoom() error {
	count, err := storage.Instance().CountISRTokens()
	if err != nil {
		return err
	}
	if count < s.cfg.MaxStoredTokens {
		return nil
	}
	expired, err := storage.Instance().DeleteExpiredISRTokens()
	if err != nil {
		return err
	}
	count -= expired
	if count < s.cfg.MaxStoredTokens {
		return nil
	}
	need := count - s.cfg.MaxStoredTokens + 1
	evicted, err := storage.Instance().DeleteOldestISRTokens(need)
	if err != nil {
		return err
	}
	if evicted < need {
		return ErrStoreFull
	}
	return nil
}

// Consume atomically looks up and deletes token, so at most one caller
// ever observes a successful resumption for it.
func (s *Store) Consume(token string) (*model.ISRToken, error) {
	t, err := storage.Instance().ConsumeISRToken(token)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTokenNotFound
	}
	if time.Now().After(t.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return t, nil
}

// Refresh consumes the old token and issues a fresh one carrying forward
// the same resumption state, so the old string is invalid the moment the
// new one exists.
func (s *Store) Refresh(oldToken string, validity time.Duration) (*model.ISRToken, error) {
	old, err := s.Consume(oldToken)
	if err != nil {
		return nil, err
	}
	return s.Issue(old.Username, old.Resource, validity, &Resumable{
		StreamID:      old.LastStreamID,
		InboundCount:  old.InboundCount,
		OutboundCount: old.OutboundCount,
	})
}

func generateToken() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
