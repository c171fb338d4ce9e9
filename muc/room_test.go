package muc

import (
	"testing"
	"time"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

func roomCfg(name string) model.MUCRoom {
	return model.MUCRoom{Name: name}
}

func mustJID(t *testing.T, s string) *jid.JID {
	t.Helper()
	j, err := jid.NewString(s, false)
	if err != nil {
		t.Fatalf("jid.NewString(%s): %v", s, err)
	}
	return j
}

func TestJoinRejoinSameNickUpdatesRealJID(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby"}, nil)
	alice := mustJID(t, "alice@waddle.example/phone")
	outcome, err := r.Join(alice, "alice", "", DefaultHistoryRequest())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if outcome.Rejoin {
		t.Fatalf("first join should not be a rejoin")
	}

	aliceDesktop := mustJID(t, "alice@waddle.example/desktop")
	outcome2, err := r.Join(aliceDesktop, "alice", "", DefaultHistoryRequest())
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !outcome2.Rejoin {
		t.Fatalf("same bare JID re-joining under the same nick should be a rejoin")
	}
	if !outcome2.Occupant.RealJID.Equal(aliceDesktop) {
		t.Fatalf("rejoin should update the tracked real JID")
	}
}

func TestJoinNicknameConflictForDifferentJID(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby"}, nil)
	if _, err := r.Join(mustJID(t, "alice@waddle.example/phone"), "alice", "", DefaultHistoryRequest()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Join(mustJID(t, "bob@waddle.example/phone"), "alice", "", DefaultHistoryRequest()); err != ErrNicknameConflict {
		t.Fatalf("expected ErrNicknameConflict, got %v", err)
	}
}

func TestJoinBanned(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby"}, []model.MUCAffiliation{
		{Room: "lobby", JID: "bob@waddle.example", Affiliation: string(AffiliationOutcast)},
	})
	if _, err := r.Join(mustJID(t, "bob@waddle.example/phone"), "bob", "", DefaultHistoryRequest()); err != ErrBanned {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
}

func TestJoinMembersOnlyRejectsNonMember(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", MembersOnly: true}, nil)
	if _, err := r.Join(mustJID(t, "bob@waddle.example/phone"), "bob", "", DefaultHistoryRequest()); err != ErrMembersOnly {
		t.Fatalf("expected ErrMembersOnly, got %v", err)
	}
}

func TestJoinCapacity(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", MaxOccupants: 1}, nil)
	if _, err := r.Join(mustJID(t, "alice@waddle.example/phone"), "alice", "", DefaultHistoryRequest()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := r.Join(mustJID(t, "bob@waddle.example/phone"), "bob", "", DefaultHistoryRequest()); err != ErrRoomFull {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestJoinPasswordRequired(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", Password: "secret"}, nil)
	if _, err := r.Join(mustJID(t, "alice@waddle.example/phone"), "alice", "wrong", DefaultHistoryRequest()); err != ErrPasswordRequired {
		t.Fatalf("expected ErrPasswordRequired, got %v", err)
	}
	if _, err := r.Join(mustJID(t, "alice@waddle.example/phone"), "alice", "secret", DefaultHistoryRequest()); err != nil {
		t.Fatalf("join with correct password: %v", err)
	}
}

func TestLeaveUnknownNick(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby"}, nil)
	if _, ok := r.Leave("ghost"); ok {
		t.Fatalf("expected Leave on unknown nick to report false")
	}
}

func TestAppendHistoryBounded(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", MaxHistoryMessages: 2}, nil)
	for i := 0; i < 5; i++ {
		r.AppendHistory("alice", &xmpp.Message{})
	}
	snap := r.historySnapshot(HistoryRequest{Requested: true, MaxStanzas: 10})
	if len(snap) != 2 {
		t.Fatalf("expected history bounded to 2 entries, got %d", len(snap))
	}
}

func TestHistorySnapshotDisabled(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", MaxHistoryMessages: 5}, nil)
	r.AppendHistory("alice", &xmpp.Message{})
	snap := r.historySnapshot(HistoryRequest{Requested: true, MaxStanzas: 0})
	if snap != nil {
		t.Fatalf("expected nil snapshot when history explicitly disabled, got %d entries", len(snap))
	}
	snap = r.historySnapshot(HistoryRequest{Requested: true, MaxStanzas: 10, MaxChars: 0, MaxCharsSet: true})
	if snap != nil {
		t.Fatalf("expected nil snapshot for explicit maxchars='0', got %d entries", len(snap))
	}
}

func TestHistorySnapshotOmittedMaxCharsDeliversHistory(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", MaxHistoryMessages: 25}, nil)
	for i := 0; i < 5; i++ {
		r.AppendHistory("alice", &xmpp.Message{})
	}
	snap := r.historySnapshot(HistoryRequest{Requested: true, MaxStanzas: 10})
	if len(snap) != 5 {
		t.Fatalf("expected 5 entries for <history maxstanzas='10'/>, got %d", len(snap))
	}
}

func TestHistorySnapshotSinceCutoff(t *testing.T) {
	r := NewRoom("conference.waddle.example", model.MUCRoom{Name: "lobby", MaxHistoryMessages: 25}, nil)
	for i := 0; i < 3; i++ {
		r.AppendHistory("alice", &xmpp.Message{})
	}

	past := time.Now().Add(-time.Hour)
	snap := r.historySnapshot(HistoryRequest{Requested: true, MaxStanzas: 10, Since: &past})
	if len(snap) != 3 {
		t.Fatalf("expected all 3 entries with since in the past, got %d", len(snap))
	}

	future := time.Now().Add(time.Hour)
	snap = r.historySnapshot(HistoryRequest{Requested: true, MaxStanzas: 10, Since: &future})
	if snap != nil {
		t.Fatalf("expected no entries with since in the future, got %d", len(snap))
	}
}

func TestParseHistoryElementAttributes(t *testing.T) {
	p := xmpp.NewPresence(mustJID(t, "alice@waddle.example/phone"), mustJID(t, "lobby@conference.waddle.example/alice"), xmpp.AvailableType)
	x := xmpp.NewElementNamespace("x", NSMuc)
	h := xmpp.NewElementName("history")
	h.SetAttribute("maxstanzas", "10")
	h.SetAttribute("since", "1970-01-02T03:04:05Z")
	x.AppendElement(h)
	p.AppendElement(x)

	req := ParseHistoryElement(p.Elements().ChildNamespace("x", NSMuc))
	if !req.Requested || req.MaxStanzas != 10 {
		t.Fatalf("expected requested maxstanzas=10, got %+v", req)
	}
	if req.MaxCharsSet {
		t.Fatalf("omitted maxchars must not count as set")
	}
	if req.Disabled() {
		t.Fatalf("<history maxstanzas='10'/> must not disable history")
	}
	if req.Since == nil || !req.Since.Equal(time.Date(1970, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("expected since parsed as RFC 3339, got %+v", req.Since)
	}
}

func TestParsePresenceClassification(t *testing.T) {
	mucDomain := "conference.waddle.example"
	join := xmpp.NewPresence(mustJID(t, "alice@waddle.example/phone"), mustJID(t, "lobby@conference.waddle.example/alice"), xmpp.AvailableType)
	if got := ParsePresence(join, mucDomain); got != ActionJoin {
		t.Fatalf("expected ActionJoin, got %v", got)
	}

	leave := xmpp.NewPresence(mustJID(t, "alice@waddle.example/phone"), mustJID(t, "lobby@conference.waddle.example/alice"), xmpp.UnavailableType)
	if got := ParsePresence(leave, mucDomain); got != ActionLeave {
		t.Fatalf("expected ActionLeave, got %v", got)
	}

	bare := xmpp.NewPresence(mustJID(t, "alice@waddle.example/phone"), mustJID(t, "lobby@conference.waddle.example"), xmpp.AvailableType)
	if got := ParsePresence(bare, mucDomain); got != ActionNone {
		t.Fatalf("expected ActionNone for a bare-JID address, got %v", got)
	}

	elsewhere := xmpp.NewPresence(mustJID(t, "alice@waddle.example/phone"), mustJID(t, "bob@waddle.example/phone"), xmpp.AvailableType)
	if got := ParsePresence(elsewhere, mucDomain); got != ActionNone {
		t.Fatalf("expected ActionNone for a non-MUC domain, got %v", got)
	}
}

func TestParsePasswordAndRoomNameFromJID(t *testing.T) {
	to := mustJID(t, "lobby@conference.waddle.example/alice")
	p := xmpp.NewPresence(mustJID(t, "alice@waddle.example/phone"), to, xmpp.AvailableType)
	x := xmpp.NewElementNamespace("x", NSMuc)
	pw := xmpp.NewElementName("password")
	pw.SetText("secret")
	x.AppendElement(pw)
	p.AppendElement(x)

	if got := ParsePassword(p); got != "secret" {
		t.Fatalf("expected password 'secret', got %q", got)
	}

	room, nick := RoomNameFromJID(to)
	if room != "lobby" || nick != "alice" {
		t.Fatalf("expected room=lobby nick=alice, got room=%s nick=%s", room, nick)
	}
}
