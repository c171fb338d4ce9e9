// Package ports holds the narrow in-process interfaces external surfaces
// (the HTTP admin UI, the device-flow UI) call against, so those layers can
// drive the core without the core importing any transport package.
package ports

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/streamerror"
)

// ErrSessionNotFound is returned by KickSession when no bound stream
// matches the given JID.
var ErrSessionNotFound = errors.New("ports: session not found")

// SessionInfo describes one bound C2S session.
type SessionInfo struct {
	StreamID string
	JID      string
}

// AdminAPI is the surface an external admin layer drives.
type AdminAPI interface {
	CreateInviteCode(validity time.Duration) (string, error)
	ListSessions() []SessionInfo
	KickSession(fullJID string) error
	SetRegistrationEnabled(on bool)
}

// Admin implements AdminAPI over the process-wide router and config.
// Invite codes are held in memory; they gate registration flows driven by
// the external UI and are single-use.
type Admin struct {
	cfg *config.Config

	mu      sync.Mutex
	invites map[string]time.Time
}

// NewAdmin constructs the admin surface for cfg.
func NewAdmin(cfg *config.Config) *Admin {
	return &Admin{
		cfg:     cfg,
		invites: make(map[string]time.Time),
	}
}

// CreateInviteCode mints a single-use invite code valid for validity.
func (a *Admin) CreateInviteCode(validity time.Duration) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "ports: generating invite code")
	}
	code := base64.RawURLEncoding.EncodeToString(b)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneExpired()
	a.invites[code] = time.Now().Add(validity)
	return code, nil
}

// RedeemInviteCode consumes code, returning true exactly once per valid
// code.
func (a *Admin) RedeemInviteCode(code string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, ok := a.invites[code]
	if !ok {
		return false
	}
	delete(a.invites, code)
	return time.Now().Before(expiry)
}

func (a *Admin) pruneExpired() {
	now := time.Now()
	for code, expiry := range a.invites {
		if now.After(expiry) {
			delete(a.invites, code)
		}
	}
}

// ListSessions enumerates every bound C2S session.
func (a *Admin) ListSessions() []SessionInfo {
	stms := router.Instance().BoundStreams()
	ret := make([]SessionInfo, 0, len(stms))
	for _, stm := range stms {
		info := SessionInfo{StreamID: stm.ID()}
		if j := stm.JID(); j != nil {
			info.JID = j.String()
		}
		ret = append(ret, info)
	}
	return ret
}

// KickSession disconnects the session bound to fullJID with a
// policy-violation stream error.
func (a *Admin) KickSession(fullJID string) error {
	j, err := jid.NewString(fullJID, false)
	if err != nil {
		return err
	}
	stms := router.Instance().StreamsMatchingJID(j)
	if len(stms) == 0 {
		return ErrSessionNotFound
	}
	for _, stm := range stms {
		stm.Disconnect(streamerror.ErrPolicyViolation)
	}
	return nil
}

// SetRegistrationEnabled toggles XEP-0077 registration at runtime.
func (a *Admin) SetRegistrationEnabled(on bool) {
	a.cfg.SetRegistrationEnabled(on)
}
