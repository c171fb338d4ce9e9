package ports

import (
	"testing"
	"time"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/xmpp"
)

type fakeStream struct {
	id           string
	username     string
	domain       string
	resource     string
	disconnected error
}

func (s *fakeStream) ID() string       { return s.id }
func (s *fakeStream) Username() string { return s.username }
func (s *fakeStream) Domain() string   { return s.domain }
func (s *fakeStream) Resource() string { return s.resource }
func (s *fakeStream) JID() *jid.JID {
	j, _ := jid.New(s.username, s.domain, s.resource, true)
	return j
}
func (s *fakeStream) Presence() *xmpp.Presence    { return nil }
func (s *fakeStream) SendElement(e xmpp.XElement) {}
func (s *fakeStream) Disconnect(err error)        { s.disconnected = err }

func setupAdmin(t *testing.T) *Admin {
	t.Helper()
	router.Shutdown()
	router.Initialize([]string{"waddle.example"})
	return NewAdmin(config.Default())
}

func TestInviteCodeSingleUse(t *testing.T) {
	a := setupAdmin(t)

	code, err := a.CreateInviteCode(time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.RedeemInviteCode(code) {
		t.Fatalf("expected first redemption to succeed")
	}
	if a.RedeemInviteCode(code) {
		t.Fatalf("expected second redemption to fail")
	}
}

func TestInviteCodeExpiry(t *testing.T) {
	a := setupAdmin(t)

	code, err := a.CreateInviteCode(-time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.RedeemInviteCode(code) {
		t.Fatalf("expected expired code to be rejected")
	}
}

func TestListAndKickSessions(t *testing.T) {
	a := setupAdmin(t)

	stm := &fakeStream{id: "1", username: "alice", domain: "waddle.example", resource: "phone"}
	if err := router.Instance().RegisterStream(stm); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.Instance().AuthenticateStream(stm); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	sessions := a.ListSessions()
	if len(sessions) != 1 || sessions[0].JID != "alice@waddle.example/phone" {
		t.Fatalf("unexpected session list: %+v", sessions)
	}

	if err := a.KickSession("alice@waddle.example/phone"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	if stm.disconnected == nil {
		t.Fatalf("expected stream to be disconnected")
	}

	if err := a.KickSession("ghost@waddle.example/phone"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSetRegistrationEnabled(t *testing.T) {
	cfg := config.Default()
	a := NewAdmin(cfg)

	a.SetRegistrationEnabled(true)
	if !cfg.RegistrationAllowed() {
		t.Fatalf("expected registration to be enabled")
	}
	a.SetRegistrationEnabled(false)
	if cfg.RegistrationAllowed() {
		t.Fatalf("expected registration to be disabled")
	}
}
