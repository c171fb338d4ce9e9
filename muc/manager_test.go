package muc

import (
	"testing"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

type fakeRepo struct {
	storage.Repository
	rooms        map[string]model.MUCRoom
	affiliations map[string][]model.MUCAffiliation
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rooms: map[string]model.MUCRoom{}, affiliations: map[string][]model.MUCAffiliation{}}
}

func (f *fakeRepo) UpsertRoom(room *model.MUCRoom) error {
	f.rooms[room.Name] = *room
	return nil
}

func (f *fakeRepo) FetchRoom(name string) (*model.MUCRoom, error) {
	r, ok := f.rooms[name]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeRepo) DeleteRoom(name string) error {
	delete(f.rooms, name)
	return nil
}

func (f *fakeRepo) FetchPersistentRooms() ([]model.MUCRoom, error) {
	var out []model.MUCRoom
	for _, r := range f.rooms {
		if r.Persistent {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertAffiliation(a *model.MUCAffiliation) error {
	list := f.affiliations[a.Room]
	for i, existing := range list {
		if existing.JID == a.JID {
			list[i] = *a
			f.affiliations[a.Room] = list
			return nil
		}
	}
	f.affiliations[a.Room] = append(list, *a)
	return nil
}

func (f *fakeRepo) FetchAffiliation(room, j string) (*model.MUCAffiliation, error) {
	for _, a := range f.affiliations[room] {
		if a.JID == j {
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FetchAffiliations(room string) ([]model.MUCAffiliation, error) {
	return f.affiliations[room], nil
}

func (f *fakeRepo) DeleteAffiliation(room, j string) error {
	list := f.affiliations[room]
	for i, a := range list {
		if a.JID == j {
			f.affiliations[room] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) FetchBlockListItems(username string) ([]model.BlockListItem, error) {
	return nil, nil
}

type fakeStream struct {
	username, domain, resource string
	presence                   *xmpp.Presence
	sent                       []xmpp.XElement
}

func (s *fakeStream) ID() string       { return s.username + "/" + s.resource }
func (s *fakeStream) Username() string { return s.username }
func (s *fakeStream) Domain() string   { return s.domain }
func (s *fakeStream) Resource() string { return s.resource }
func (s *fakeStream) JID() *jid.JID {
	j, _ := jid.New(s.username, s.domain, s.resource, true)
	return j
}
func (s *fakeStream) Presence() *xmpp.Presence    { return s.presence }
func (s *fakeStream) SendElement(e xmpp.XElement) { s.sent = append(s.sent, e) }
func (s *fakeStream) Disconnect(err error)        {}

func setupManager(t *testing.T, seed map[string]model.MUCRoom) *fakeRepo {
	t.Helper()
	Shutdown()
	router.Shutdown()
	router.Initialize([]string{"waddle.example"})
	repo := newFakeRepo()
	for name, cfg := range seed {
		repo.rooms[name] = cfg
	}
	storage.Initialize(repo)
	if err := Initialize("conference.waddle.example", []string{"waddle.example"}); err != nil {
		t.Fatalf("muc.Initialize: %v", err)
	}
	return repo
}

func TestInitializePreloadsPersistentRooms(t *testing.T) {
	setupManager(t, map[string]model.MUCRoom{
		"lobby":   {Name: "lobby", Persistent: true},
		"scratch": {Name: "scratch", Persistent: false},
	})
	if _, ok := Instance().Room("lobby"); !ok {
		t.Fatalf("expected persistent room 'lobby' to be preloaded")
	}
	if _, ok := Instance().Room("scratch"); ok {
		t.Fatalf("non-persistent room 'scratch' should not be preloaded")
	}
}

func TestGetOrCreateRoomCreatesInstantRoomWithOwner(t *testing.T) {
	setupManager(t, nil)
	room, created, err := Instance().GetOrCreateRoom("lobby", "alice@waddle.example")
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}
	if !created {
		t.Fatalf("expected a fresh room to report created=true")
	}
	if room.AffiliationOf("alice@waddle.example") != AffiliationOwner {
		t.Fatalf("expected creator to hold owner affiliation")
	}

	again, created2, err := Instance().GetOrCreateRoom("lobby", "bob@waddle.example")
	if err != nil {
		t.Fatalf("GetOrCreateRoom second call: %v", err)
	}
	if created2 {
		t.Fatalf("expected the second call to return the existing room, not create a new one")
	}
	if again != room {
		t.Fatalf("expected the same room instance to be returned")
	}
}

func TestPersistWritesRoomAndAffiliations(t *testing.T) {
	repo := setupManager(t, nil)
	room, _, err := Instance().GetOrCreateRoom("lobby", "alice@waddle.example")
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}
	if err := Instance().Persist(room); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, ok := repo.rooms["lobby"]; !ok {
		t.Fatalf("expected room config persisted")
	}
	affs, _ := repo.FetchAffiliations("lobby")
	if len(affs) != 1 || affs[0].JID != "alice@waddle.example" {
		t.Fatalf("expected owner affiliation persisted, got %+v", affs)
	}
}

func TestDestroyRemovesRoomFromRegistryAndStorage(t *testing.T) {
	repo := setupManager(t, map[string]model.MUCRoom{"lobby": {Name: "lobby", Persistent: true}})
	if err := Instance().Destroy("lobby"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok := Instance().Room("lobby"); ok {
		t.Fatalf("expected room removed from the in-memory registry")
	}
	if _, ok := repo.rooms["lobby"]; ok {
		t.Fatalf("expected room removed from storage")
	}
}

func TestDispatchRoutesThroughRouter(t *testing.T) {
	setupManager(t, nil)
	bob := &fakeStream{username: "bob", domain: "waddle.example", resource: "phone"}
	if err := router.Instance().RegisterStream(bob); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.Instance().AuthenticateStream(bob); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	room, _, err := Instance().GetOrCreateRoom("lobby", "alice@waddle.example")
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}
	to := mustJID(t, "bob@waddle.example/phone")
	p := xmpp.NewPresence(room.JID(), to, xmpp.AvailableType)
	set := newFederatedPresenceSet()
	set.addLocal(to.String(), p)

	Instance().Dispatch(set)
	if len(bob.sent) != 1 {
		t.Fatalf("expected the queued presence delivered to bob, got %d", len(bob.sent))
	}
}
