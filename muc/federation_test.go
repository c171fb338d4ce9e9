package muc

import "testing"

func TestBroadcastPresenceFederatedPartitionsLocalAndRemote(t *testing.T) {
	room := NewRoom("conference.waddle.example", roomCfg("lobby"), nil)
	localDomains := []string{"waddle.example"}

	join := func(user, domain, nick string) {
		if _, err := room.Join(mustJID(t, user+"@"+domain+"/phone"), nick, "", DefaultHistoryRequest()); err != nil {
			t.Fatalf("join %s: %v", nick, err)
		}
	}
	join("alice", "waddle.example", "alice")
	join("bob", "waddle.example", "bob")
	join("carol", "remote-one.example", "carol")
	join("dave", "remote-two.example", "dave")
	join("erin", "remote-two.example", "erin")

	set := BroadcastPresenceFederated(room, "alice", localDomains)
	if set.LocalCount() != 2 {
		t.Fatalf("expected 2 local deliveries (to alice and bob), got %d", set.LocalCount())
	}
	if set.RemoteCount() != 3 {
		t.Fatalf("expected 3 remote deliveries, got %d", set.RemoteCount())
	}
	if set.RemoteDomainCount() != 2 {
		t.Fatalf("expected 2 distinct remote domains, got %d", set.RemoteDomainCount())
	}
	if set.TotalCount() != 5 {
		t.Fatalf("expected 5 total deliveries, got %d", set.TotalCount())
	}
	if len(set.GetRemote("remote-two.example")) != 2 {
		t.Fatalf("expected 2 deliveries queued for remote-two.example")
	}
}

func TestBroadcastLeavePresenceFederatedExcludesLeavingOccupant(t *testing.T) {
	room := NewRoom("conference.waddle.example", roomCfg("lobby"), nil)
	localDomains := []string{"waddle.example"}

	alice, err := room.Join(mustJID(t, "alice@waddle.example/phone"), "alice", "", DefaultHistoryRequest())
	if err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if _, err := room.Join(mustJID(t, "bob@waddle.example/phone"), "bob", "", DefaultHistoryRequest()); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	leaving, ok := room.Leave("alice")
	if !ok {
		t.Fatalf("expected alice to be a current occupant")
	}
	_ = alice

	set := BroadcastLeavePresenceFederated(room, leaving, localDomains)
	if set.TotalCount() != 1 {
		t.Fatalf("expected exactly 1 delivery (to bob, not to the leaving occupant), got %d", set.TotalCount())
	}
}

func TestIsLocalDomain(t *testing.T) {
	domains := []string{"waddle.example", "other.example"}
	if !isLocalDomain("waddle.example", domains) {
		t.Fatalf("expected waddle.example to be local")
	}
	if isLocalDomain("remote.example", domains) {
		t.Fatalf("expected remote.example to not be local")
	}
}

func TestBuildSelfLeavePresenceCarriesStatus110(t *testing.T) {
	room := NewRoom("conference.waddle.example", roomCfg("lobby"), nil)
	leaving, err := room.Join(mustJID(t, "alice@waddle.example/phone"), "alice", "", DefaultHistoryRequest())
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	p := BuildSelfLeavePresence(room, leaving.Occupant)
	x := p.Elements().ChildNamespace("x", NSMucUser)
	found := false
	for _, s := range x.Elements().All() {
		if s.Name() == "status" && s.Attributes().Get("code") == "110" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected status code 110 on self-leave presence")
	}
}
