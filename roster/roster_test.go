package roster

import (
	"testing"

	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

type fakeRepo struct {
	storage.Repository
	items  map[string]map[string]model.RosterItem
	notifs map[string]map[string]model.RosterNotification
	ver    map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:  map[string]map[string]model.RosterItem{},
		notifs: map[string]map[string]model.RosterNotification{},
		ver:    map[string]int{},
	}
}

func (f *fakeRepo) UpsertRosterItem(item *model.RosterItem) (int, error) {
	if f.items[item.Username] == nil {
		f.items[item.Username] = map[string]model.RosterItem{}
	}
	f.items[item.Username][item.JID] = *item
	f.ver[item.Username]++
	return f.ver[item.Username], nil
}

func (f *fakeRepo) DeleteRosterItem(username, jid string) (int, error) {
	delete(f.items[username], jid)
	f.ver[username]++
	return f.ver[username], nil
}

func (f *fakeRepo) FetchRosterItem(username, jid string) (*model.RosterItem, error) {
	it, ok := f.items[username][jid]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (f *fakeRepo) FetchRosterItems(username string) ([]model.RosterItem, int, error) {
	var out []model.RosterItem
	for _, it := range f.items[username] {
		out = append(out, it)
	}
	return out, f.ver[username], nil
}

func (f *fakeRepo) InsertRosterNotification(n *model.RosterNotification) error {
	if f.notifs[n.Username] == nil {
		f.notifs[n.Username] = map[string]model.RosterNotification{}
	}
	f.notifs[n.Username][n.JID] = *n
	return nil
}

func (f *fakeRepo) DeleteRosterNotification(username, jid string) error {
	delete(f.notifs[username], jid)
	return nil
}

func (f *fakeRepo) FetchRosterNotifications(username string) ([]model.RosterNotification, error) {
	var out []model.RosterNotification
	for _, n := range f.notifs[username] {
		out = append(out, n)
	}
	return out, nil
}

func setup() *fakeRepo {
	repo := newFakeRepo()
	storage.Initialize(repo)
	return repo
}

func TestApplySubscriptionRoundTrip(t *testing.T) {
	setup()

	// Alice subscribes to Bob.
	item, _, err := HandleOutbound("alice", "bob@waddle.example", xmpp.SubscribeType)
	if err != nil {
		t.Fatalf("outbound subscribe: %v", err)
	}
	if !item.Ask || item.Subscription != string(SubNone) {
		t.Fatalf("expected ask=true, subscription=none, got %+v", item)
	}

	// Bob receives the subscribe request: pending, no roster mutation.
	_, _, pending, err := HandleInbound("bob", "alice@waddle.example", xmpp.SubscribeType)
	if err != nil {
		t.Fatalf("inbound subscribe: %v", err)
	}
	if !pending {
		t.Fatalf("expected subscribe to be pending")
	}

	// Bob approves: his own item for Alice grants "from".
	bobItem, _, err := HandleOutbound("bob", "alice@waddle.example", xmpp.SubscribedType)
	if err != nil {
		t.Fatalf("outbound subscribed: %v", err)
	}
	if bobItem.Subscription != string(SubFrom) {
		t.Fatalf("expected bob's item subscription=from, got %s", bobItem.Subscription)
	}

	// Alice receives the approval: her item for Bob upgrades to "to", ask clears.
	aliceItem, _, _, err := HandleInbound("alice", "bob@waddle.example", xmpp.SubscribedType)
	if err != nil {
		t.Fatalf("inbound subscribed: %v", err)
	}
	if aliceItem.Subscription != string(SubTo) || aliceItem.Ask {
		t.Fatalf("expected alice's item subscription=to, ask=false, got %+v", aliceItem)
	}
}

func TestApplyInboundSubscribedBothWhenAlreadyFrom(t *testing.T) {
	sub, ask := ApplyInboundSubscribed(SubFrom)
	if sub != SubBoth || ask {
		t.Fatalf("expected both/false, got %s/%v", sub, ask)
	}
}

func TestApplyOutboundUnsubscribeClearsBothToFrom(t *testing.T) {
	sub, ask := ApplyOutboundUnsubscribe(SubBoth)
	if sub != SubFrom || ask {
		t.Fatalf("expected from/false, got %s/%v", sub, ask)
	}
}

func TestShouldReceiveSendPresence(t *testing.T) {
	cases := []struct {
		sub            Subscription
		receive, send bool
	}{
		{SubNone, false, false},
		{SubTo, true, false},
		{SubFrom, false, true},
		{SubBoth, true, true},
	}
	for _, c := range cases {
		if got := ShouldReceivePresence(c.sub); got != c.receive {
			t.Fatalf("%s: ShouldReceivePresence = %v, want %v", c.sub, got, c.receive)
		}
		if got := ShouldSendPresence(c.sub); got != c.send {
			t.Fatalf("%s: ShouldSendPresence = %v, want %v", c.sub, got, c.send)
		}
	}
}

func TestSetItemPreservesSubscription(t *testing.T) {
	setup()
	if _, _, err := HandleOutbound("alice", "bob@waddle.example", xmpp.SubscribeType); err != nil {
		t.Fatalf("seed: %v", err)
	}
	item, _, err := SetItem("alice", "bob@waddle.example", "Bob", []string{"friends"})
	if err != nil {
		t.Fatalf("set item: %v", err)
	}
	if !item.Ask {
		t.Fatalf("expected ask to survive a name/group update")
	}
	if item.Name != "Bob" || len(item.Groups) != 1 {
		t.Fatalf("unexpected item: %+v", item)
	}
}
