package muc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

// ErrRoomNotFound is the error value for an unknown room name;
// Manager.Room itself reports a missing room with a false ok.
var ErrRoomNotFound = errors.New("muc: room not found")

// Manager is the process-wide in-memory room registry, mirroring
// router.Router's singleton shape: in-memory state backed by
// storage.MUCRepository for persistence, looked up once at startup and on
// demand thereafter.
type Manager struct {
	mucDomain    string
	localDomains []string

	mu    sync.RWMutex
	rooms map[string]*Room
}

var (
	inst        *Manager
	instMu      sync.RWMutex
	initialized uint32
)

// Initialize constructs the process-wide room manager and preloads every
// persistent room from storage; persistent rooms survive a restart with
// no occupants.
func Initialize(mucDomain string, localDomains []string) error {
	if !atomic.CompareAndSwapUint32(&initialized, 0, 1) {
		return nil
	}
	instMu.Lock()
	defer instMu.Unlock()
	inst = &Manager{mucDomain: mucDomain, localDomains: localDomains, rooms: make(map[string]*Room)}

	persisted, err := storage.Instance().FetchPersistentRooms()
	if err != nil {
		return err
	}
	for _, cfg := range persisted {
		affs, err := storage.Instance().FetchAffiliations(cfg.Name)
		if err != nil {
			return err
		}
		inst.rooms[cfg.Name] = NewRoom(mucDomain, cfg, affs)
	}
	return nil
}

// Instance returns the process-wide room manager.
func Instance() *Manager {
	instMu.RLock()
	defer instMu.RUnlock()
	if inst == nil {
		log.Fatalf("muc: not initialized")
	}
	return inst
}

// Shutdown tears down the manager singleton; used only by tests.
func Shutdown() {
	if atomic.CompareAndSwapUint32(&initialized, 1, 0) {
		instMu.Lock()
		defer instMu.Unlock()
		inst = nil
	}
}

// MucDomain returns the MUC subdomain this manager serves.
func (m *Manager) MucDomain() string { return m.mucDomain }

// Room looks up an existing in-memory room.
func (m *Manager) Room(name string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[name]
	return r, ok
}

// Rooms returns every room currently known to the manager (occupied or
// persistent-but-empty), used by the disco#items handler.
func (m *Manager) Rooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

// GetOrCreateRoom returns the named room, creating it as a fresh
// non-persistent room with ownerJID as its sole owner if it doesn't yet
// exist (XEP-0045 §10.1 "instant room" creation on first join).
func (m *Manager) GetOrCreateRoom(name, ownerJID string) (*Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[name]; ok {
		return r, false, nil
	}
	cfg := model.MUCRoom{Name: name, MaxHistoryMessages: 50, Anonymity: "semi"}
	r := NewRoom(m.mucDomain, cfg, nil)
	r.SetAffiliation(ownerJID, AffiliationOwner)
	m.rooms[name] = r
	return r, true, nil
}

// Persist writes room's current configuration and affiliations to
// storage, called after room creation finalization and after every owner
// configuration change.
func (m *Manager) Persist(r *Room) error {
	if err := storage.Instance().UpsertRoom(&r.Config); err != nil {
		return err
	}
	for bareJID, aff := range snapshotAffiliations(r) {
		if err := storage.Instance().UpsertAffiliation(&model.MUCAffiliation{
			Room: r.Name, JID: bareJID, Affiliation: string(aff),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Destroy removes room from the registry and storage, after the caller
// has already notified occupants.
func (m *Manager) Destroy(name string) error {
	m.mu.Lock()
	delete(m.rooms, name)
	m.mu.Unlock()
	if err := storage.Instance().DeleteRoom(name); err != nil {
		return err
	}
	return nil
}

func snapshotAffiliations(r *Room) map[string]Affiliation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Affiliation, len(r.affiliations))
	for k, v := range r.affiliations {
		out[k] = v
	}
	return out
}

// Dispatch routes every presence queued in set through the server's
// stanza router, which already resolves local-vs-S2S delivery per
// recipient domain. The set's Local/Remote partition exists for
// observability; delivery itself needs no extra branching.
func (m *Manager) Dispatch(set *FederatedPresenceSet) {
	for _, out := range set.All() {
		if err := router.Instance().Route(out.Presence); err != nil {
			log.Debugf("muc: presence delivery to %s: %v", out.To, err)
		}
	}
}

// DeliverMessage routes msg to every current occupant of room (group chat
// reflection, XEP-0045 §7.9), archiving it first when the room is
// configured to log history.
func (m *Manager) DeliverMessage(room *Room, fromNick string, msg *xmpp.Message) {
	room.AppendHistory(fromNick, msg)
	if room.Config.EnableLogging && msg.IsMessageWithBody() {
		rec := &model.ArchivedMessage{
			StanzaID:    msg.ID(),
			Archive:     room.JID().String(),
			Direction:   "inbound",
			Counterpart: fromNick,
			XML:         msg.ToXML(true),
			StoredAt:    time.Now(),
		}
		if err := storage.Instance().InsertArchivedMessage(rec); err != nil {
			log.Error(err)
		}
	}
	for _, occ := range room.Occupants() {
		out, err := xmpp.NewMessageFromElement(msg, msg.FromJID(), occ.RealJID)
		if err != nil {
			log.Debugf("muc: building message for %s: %v", occ.RealJID.String(), err)
			continue
		}
		if err := router.Instance().Route(out); err != nil {
			log.Debugf("muc: message delivery to %s: %v", occ.RealJID.String(), err)
		}
	}
}
