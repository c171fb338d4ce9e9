package router

import (
	"testing"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

// fakeRepo embeds the full storage.Repository interface (nil) so tests
// only need to override the handful of methods router actually calls.
type fakeRepo struct {
	storage.Repository
	existing    map[string]bool
	blockLists  map[string][]model.BlockListItem
}

func (f *fakeRepo) UserExists(username string) (bool, error) {
	return f.existing[username], nil
}

func (f *fakeRepo) FetchBlockListItems(username string) ([]model.BlockListItem, error) {
	return f.blockLists[username], nil
}

type fakeStream struct {
	id       string
	username string
	domain   string
	resource string
	presence *xmpp.Presence
	sent     []xmpp.XElement
}

func (s *fakeStream) ID() string                 { return s.id }
func (s *fakeStream) Username() string           { return s.username }
func (s *fakeStream) Domain() string              { return s.domain }
func (s *fakeStream) Resource() string           { return s.resource }
func (s *fakeStream) JID() *jid.JID {
	j, _ := jid.New(s.username, s.domain, s.resource, true)
	return j
}
func (s *fakeStream) Presence() *xmpp.Presence        { return s.presence }
func (s *fakeStream) SendElement(e xmpp.XElement)     { s.sent = append(s.sent, e) }
func (s *fakeStream) Disconnect(err error)            {}

func setupRouter(t *testing.T, existing map[string]bool) {
	t.Helper()
	Shutdown()
	Initialize([]string{"waddle.example"})
	storage.Initialize(&fakeRepo{existing: existing, blockLists: map[string][]model.BlockListItem{}})
}

func TestRouteToUnknownAccount(t *testing.T) {
	setupRouter(t, map[string]bool{})

	from, _ := jid.NewString("alice@waddle.example/phone", false)
	to, _ := jid.NewString("ghost@waddle.example", false)
	msg := xmpp.NewElementName("message")
	m, _ := xmpp.NewMessageFromElement(msg, from, to)

	err := Instance().Route(m)
	if err != ErrNotExistingAccount {
		t.Fatalf("expected ErrNotExistingAccount, got %v", err)
	}
}

func TestRouteToExistingButOfflineAccount(t *testing.T) {
	setupRouter(t, map[string]bool{"bob": true})

	from, _ := jid.NewString("alice@waddle.example/phone", false)
	to, _ := jid.NewString("bob@waddle.example", false)
	msg := xmpp.NewElementName("message")
	m, _ := xmpp.NewMessageFromElement(msg, from, to)

	err := Instance().Route(m)
	if err != ErrNotAuthenticated {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestRouteDeliversToHighestPriorityResource(t *testing.T) {
	setupRouter(t, map[string]bool{"bob": true})

	low := &fakeStream{id: "1", username: "bob", domain: "waddle.example", resource: "low"}
	lowElem := xmpp.NewElementName("presence")
	lowPresence, _ := xmpp.NewPresenceFromElement(lowElem, nil, nil)
	low.presence = lowPresence

	high := &fakeStream{id: "2", username: "bob", domain: "waddle.example", resource: "high"}
	highElem := xmpp.NewElementName("presence")
	priority := xmpp.NewElementName("priority")
	priority.SetText("5")
	highElem.AppendElement(priority)
	highPresence, _ := xmpp.NewPresenceFromElement(highElem, nil, nil)
	high.presence = highPresence

	if err := Instance().RegisterStream(low); err != nil {
		t.Fatalf("register low: %v", err)
	}
	if err := Instance().RegisterStream(high); err != nil {
		t.Fatalf("register high: %v", err)
	}
	if err := Instance().AuthenticateStream(low); err != nil {
		t.Fatalf("authenticate low: %v", err)
	}
	if err := Instance().AuthenticateStream(high); err != nil {
		t.Fatalf("authenticate high: %v", err)
	}

	from, _ := jid.NewString("alice@waddle.example/phone", false)
	to, _ := jid.NewString("bob@waddle.example", false)
	elem := xmpp.NewElementName("message")
	body := xmpp.NewElementName("body")
	body.SetText("hi")
	elem.AppendElement(body)
	m, _ := xmpp.NewMessageFromElement(elem, from, to)

	if err := Instance().Route(m); err != nil {
		t.Fatalf("unexpected route error: %v", err)
	}
	if len(high.sent) != 1 {
		t.Fatalf("expected delivery to the higher-priority resource")
	}
	if len(low.sent) != 0 {
		t.Fatalf("did not expect delivery to the lower-priority resource")
	}
}

func TestRouteBareJIDIQGoesToOneResource(t *testing.T) {
	setupRouter(t, map[string]bool{"bob": true})

	first := &fakeStream{id: "1", username: "bob", domain: "waddle.example", resource: "phone"}
	second := &fakeStream{id: "2", username: "bob", domain: "waddle.example", resource: "desktop"}
	for _, stm := range []*fakeStream{first, second} {
		if err := Instance().RegisterStream(stm); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := Instance().AuthenticateStream(stm); err != nil {
			t.Fatalf("authenticate: %v", err)
		}
	}

	from, _ := jid.NewString("alice@waddle.example/phone", false)
	to, _ := jid.NewString("bob@waddle.example", false)
	elem := xmpp.NewElementName("iq")
	elem.SetAttribute("id", "q1")
	elem.SetAttribute("type", "get")
	elem.AppendElement(xmpp.NewElementNamespace("query", "jabber:iq:version"))
	iq, err := xmpp.NewIQFromElement(elem, from, to)
	if err != nil {
		t.Fatalf("building iq: %v", err)
	}

	if err := Instance().Route(iq); err != nil {
		t.Fatalf("unexpected route error: %v", err)
	}
	if len(first.sent)+len(second.sent) != 1 {
		t.Fatalf("expected the IQ delivered to exactly one resource, got %d+%d", len(first.sent), len(second.sent))
	}
}

func TestIsBlockedJID(t *testing.T) {
	setupRouter(t, map[string]bool{"bob": true})
	storage.Initialize(&fakeRepo{
		existing: map[string]bool{"bob": true},
		blockLists: map[string][]model.BlockListItem{
			"bob": {{Username: "bob", JID: "alice@waddle.example"}},
		},
	})

	sender, _ := jid.NewString("alice@waddle.example/phone", false)
	if !Instance().IsBlockedJID(sender, "bob") {
		t.Fatalf("expected sender to be blocked")
	}
}
