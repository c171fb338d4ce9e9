package isr

import (
	"testing"
	"time"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
)

type fakeRepo struct {
	storage.Repository
	tokens map[string]model.ISRToken
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{tokens: map[string]model.ISRToken{}}
}

func (f *fakeRepo) PutISRToken(t *model.ISRToken) error {
	f.tokens[t.Token] = *t
	return nil
}

func (f *fakeRepo) FetchISRToken(token string) (*model.ISRToken, error) {
	t, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeRepo) ConsumeISRToken(token string) (*model.ISRToken, error) {
	t, ok := f.tokens[token]
	if !ok {
		return nil, nil
	}
	delete(f.tokens, token)
	return &t, nil
}

func (f *fakeRepo) DeleteISRToken(token string) error {
	delete(f.tokens, token)
	return nil
}

func (f *fakeRepo) CountISRTokens() (int, error) {
	return len(f.tokens), nil
}

func (f *fakeRepo) DeleteExpiredISRTokens() (int, error) {
	n := 0
	now := time.Now()
	for k, t := range f.tokens {
		if now.After(t.ExpiresAt) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) DeleteOldestISRTokens(n int) (int, error) {
	deleted := 0
	for deleted < n && len(f.tokens) > 0 {
		oldest := ""
		for k, t := range f.tokens {
			if oldest == "" || t.IssuedAt.Before(f.tokens[oldest].IssuedAt) {
				oldest = k
			}
		}
		delete(f.tokens, oldest)
		deleted++
	}
	return deleted, nil
}

func setup() *fakeRepo {
	repo := newFakeRepo()
	storage.Initialize(repo)
	return repo
}

func testConfig() config.ISRConfig {
	return config.ISRConfig{
		DefaultValidity: 300 * time.Second,
		MaxValidity:     86400 * time.Second,
		MaxStoredTokens: 3,
	}
}

func TestIssueDefaultsAndClampsValidity(t *testing.T) {
	setup()
	s := New(testConfig())

	tok, err := s.Issue("alice", "phone", 0, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != 300*time.Second {
		t.Fatalf("expected default validity 300s, got %v", got)
	}

	tok2, err := s.Issue("alice", "phone", 365*24*time.Hour, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := tok2.ExpiresAt.Sub(tok2.IssuedAt); got != 86400*time.Second {
		t.Fatalf("expected validity clamped to max 86400s, got %v", got)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	setup()
	s := New(testConfig())

	tok, err := s.Issue("alice", "phone", 0, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	first, err := s.Consume(tok.Token)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if first.Token != tok.Token {
		t.Fatalf("unexpected token returned: %+v", first)
	}

	if _, err := s.Consume(tok.Token); err != ErrTokenNotFound {
		t.Fatalf("expected ErrTokenNotFound on second consume, got %v", err)
	}
}

func TestConsumeExpiredToken(t *testing.T) {
	setup()
	s := New(testConfig())

	tok, err := s.Issue("alice", "phone", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := s.Consume(tok.Token); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshCarriesResumableState(t *testing.T) {
	setup()
	s := New(testConfig())

	tok, err := s.Issue("alice", "phone", 0, &Resumable{
		StreamID: "stream-1", InboundCount: 4, OutboundCount: 7,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	fresh, err := s.Refresh(tok.Token, 0)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if fresh.Token == tok.Token {
		t.Fatalf("expected a new token string")
	}
	if fresh.LastStreamID != "stream-1" || fresh.InboundCount != 4 || fresh.OutboundCount != 7 {
		t.Fatalf("expected resumption state carried forward, got %+v", fresh)
	}

	// old token is gone.
	if _, err := s.Consume(tok.Token); err != ErrTokenNotFound {
		t.Fatalf("expected old token consumed by refresh, got %v", err)
	}
}

func TestIssueEvictsExpiredBeforeFailing(t *testing.T) {
	setup()
	cfg := testConfig()
	cfg.MaxStoredTokens = 1
	s := New(cfg)

	_, err := s.Issue("alice", "phone", time.Millisecond, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// store is at cap but the one entry has expired, so room should free up.
	tok2, err := s.Issue("alice", "tablet", 0, nil)
	if err != nil {
		t.Fatalf("expected eviction of expired token to make room, got %v", err)
	}
	if tok2 == nil {
		t.Fatalf("expected a token")
	}
}

func TestIssueEvictsOldestWhenFull(t *testing.T) {
	setup()
	cfg := testConfig()
	cfg.MaxStoredTokens = 2
	s := New(cfg)

	first, err := s.Issue("alice", "phone", 0, nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.Issue("bob", "phone", 0, nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// Cap reached with no expired entries; the oldest valid token makes
	// way for the new one.
	third, err := s.Issue("carol", "phone", 0, nil)
	if err != nil {
		t.Fatalf("expected oldest-token eviction to make room, got %v", err)
	}
	if third == nil {
		t.Fatalf("expected a token")
	}
	if _, err := s.Consume(first.Token); err != ErrTokenNotFound {
		t.Fatalf("expected the oldest token to have been evicted, got %v", err)
	}
}

// brokenEvictRepo simulates a store that can't free any slots, the one
// case Issue still reports ErrStoreFull.
type brokenEvictRepo struct {
	*fakeRepo
}

func (b *brokenEvictRepo) DeleteOldestISRTokens(n int) (int, error) {
	return 0, nil
}

func TestIssueStoreFullWhenEvictionFreesNothing(t *testing.T) {
	repo := &brokenEvictRepo{fakeRepo: newFakeRepo()}
	storage.Initialize(repo)
	cfg := testConfig()
	cfg.MaxStoredTokens = 1
	s := New(cfg)

	if _, err := s.Issue("alice", "phone", 0, nil); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Issue("alice", "tablet", 0, nil); err != ErrStoreFull {
		t.Fatalf("expected ErrStoreFull, got %v", err)
	}
}
