package muc

import (
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

var (
	// ErrNicknameConflict is returned by Join when nick is already held by
	// a different occupant JID.
	ErrNicknameConflict = errors.New("muc: nickname in use")
	// ErrBanned is returned by Join for an outcast-affiliated JID.
	ErrBanned = errors.New("muc: banned from room")
	// ErrMembersOnly is returned by Join when the room is members-only and
	// the joining JID holds no affiliation.
	ErrMembersOnly = errors.New("muc: members-only room")
	// ErrRoomFull is returned by Join once the room's MaxOccupants bound
	// is reached.
	ErrRoomFull = errors.New("muc: room at capacity")
	// ErrPasswordRequired is returned by Join when the room is
	// password-protected and the supplied password doesn't match.
	ErrPasswordRequired = errors.New("muc: password required or incorrect")
	// ErrNotOccupant is returned by operations addressed at a nick the
	// room has no record of.
	ErrNotOccupant = errors.New("muc: not an occupant")
	// ErrNotAllowed is returned when the acting occupant's role/affiliation
	// doesn't permit the requested operation.
	ErrNotAllowed = errors.New("muc: not allowed")
)

// HistoryEntry is one room message retained for XEP-0045 §7.2.15 history
// replay on join.
type HistoryEntry struct {
	FromNick string
	Stanza   *xmpp.Message
	StoredAt time.Time
}

// Room is one multi-user chat room's live state: its persisted
// configuration, currently joined occupants, long-lived affiliations, and
// a bounded history ring buffer.
type Room struct {
	mu sync.RWMutex

	Name      string // room node part
	MucDomain string
	Config    model.MUCRoom

	occupants    map[string]*Occupant      // by nick
	affiliations map[string]Affiliation    // by bare JID
	history      []HistoryEntry
}

// NewRoom constructs a room from its persisted configuration and
// affiliation list (the shape storage.MUCRepository returns).
func NewRoom(mucDomain string, cfg model.MUCRoom, affiliations []model.MUCAffiliation) *Room {
	r := &Room{
		Name:         cfg.Name,
		MucDomain:    mucDomain,
		Config:       cfg,
		occupants:    make(map[string]*Occupant),
		affiliations: make(map[string]Affiliation, len(affiliations)),
	}
	for _, a := range affiliations {
		r.affiliations[a.JID] = Affiliation(a.Affiliation)
	}
	return r
}

// JID returns the room's bare JID (name@mucDomain).
func (r *Room) JID() *jid.JID {
	j, _ := jid.New(r.Name, r.MucDomain, "", true)
	return j
}

// OccupantJID returns the in-room full JID for nick (name@mucDomain/nick).
func (r *Room) OccupantJID(nick string) *jid.JID {
	j, _ := jid.New(r.Name, r.MucDomain, nick, true)
	return j
}

func (r *Room) affiliationFor(bareJID string) Affiliation {
	if a, ok := r.affiliations[bareJID]; ok {
		return a
	}
	return AffiliationNone
}

// AffiliationOf returns bareJID's persisted room affiliation.
func (r *Room) AffiliationOf(bareJID string) Affiliation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.affiliationFor(bareJID)
}

// SetAffiliation records a new affiliation in memory; callers persist it
// via storage.MUCRepository.UpsertAffiliation separately (mirrors how
// storage/sql/muc.go keeps persistence a pure CRUD concern).
func (r *Room) SetAffiliation(bareJID string, aff Affiliation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if aff == AffiliationNone {
		delete(r.affiliations, bareJID)
		return
	}
	r.affiliations[bareJID] = aff
}

// Occupant looks up a currently joined occupant by nick.
func (r *Room) Occupant(nick string) (*Occupant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.occupants[nick]
	return o, ok
}

// Occupants returns a snapshot of every currently joined occupant.
func (r *Room) Occupants() []*Occupant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Occupant, 0, len(r.occupants))
	for _, o := range r.occupants {
		out = append(out, o)
	}
	return out
}

// OccupantCount reports how many occupants currently hold the floor.
func (r *Room) OccupantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.occupants)
}

// OccupantByBareJID looks up a currently joined occupant by their real
// bare JID, used by the admin (XEP-0045 §9) operations that address a
// target by JID rather than by nick.
func (r *Room) OccupantByBareJID(bareJID string) (*Occupant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.occupants {
		if o.RealJID.ToBareJID().String() == bareJID {
			return o, true
		}
	}
	return nil, false
}

// SetRole changes nick's in-room role for the duration of their
// occupancy (XEP-0045 §9.6's role changes: voice/devoice, moderator
// grant/revoke), independent of their persisted affiliation.
func (r *Room) SetRole(nick string, role Role) (*Occupant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	occ, ok := r.occupants[nick]
	if !ok {
		return nil, false
	}
	occ.Role = role
	return occ, true
}

// Kick forcibly removes nick from the room (XEP-0045 §9.8's role="none"
// shortcut), returning the evicted occupant.
func (r *Room) Kick(nick string) (*Occupant, bool) {
	return r.Leave(nick)
}

// JoinOutcome is what Join reports back to the caller so it can build the
// self-presence (status 110) and deliver history.
type JoinOutcome struct {
	Occupant *Occupant
	Rejoin   bool
	History  []HistoryEntry
}

// Join admits occupantJID into the room under nick, enforcing password,
// ban, members-only, and capacity constraints (XEP-0045 §7.2), and
// returns the joined-history snapshot per hist.
func (r *Room) Join(occupantJID *jid.JID, nick, password string, hist HistoryRequest) (*JoinOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Config.Password != "" && r.Config.Password != password {
		return nil, ErrPasswordRequired
	}

	bare := occupantJID.ToBareJID().String()
	if existing, ok := r.occupants[nick]; ok {
		if !existing.RealJID.ToBareJID().Equal(occupantJID.ToBareJID()) {
			return nil, ErrNicknameConflict
		}
		existing.RealJID = occupantJID
		return &JoinOutcome{Occupant: existing, Rejoin: true, History: r.historySnapshot(hist)}, nil
	}

	aff := r.affiliationFor(bare)
	if aff == AffiliationOutcast {
		return nil, ErrBanned
	}
	if r.Config.MembersOnly && aff == AffiliationNone {
		return nil, ErrMembersOnly
	}
	if r.Config.MaxOccupants > 0 && len(r.occupants) >= r.Config.MaxOccupants {
		return nil, ErrRoomFull
	}

	occ := &Occupant{
		Nick:        nick,
		RealJID:     occupantJID,
		Affiliation: aff,
		Role:        DefaultRole(aff, r.Config.ModeratedRoom),
	}
	r.occupants[nick] = occ
	return &JoinOutcome{Occupant: occ, History: r.historySnapshot(hist)}, nil
}

// Leave removes nick from the room, returning the departing occupant.
func (r *Room) Leave(nick string) (*Occupant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	occ, ok := r.occupants[nick]
	if !ok {
		return nil, false
	}
	delete(r.occupants, nick)
	return occ, true
}

// AppendHistory records msg for future history replay, bounded to the
// room's MaxHistoryMessages.
func (r *Room) AppendHistory(fromNick string, msg *xmpp.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bound := r.Config.MaxHistoryMessages
	if bound <= 0 {
		return
	}
	r.history = append(r.history, HistoryEntry{FromNick: fromNick, Stanza: msg, StoredAt: time.Now()})
	if len(r.history) > bound {
		r.history = r.history[len(r.history)-bound:]
	}
}

func (r *Room) historySnapshot(hist HistoryRequest) []HistoryEntry {
	if hist.Disabled() {
		return nil
	}
	entries := r.history
	if hist.Requested {
		var cutoff time.Time
		if hist.Seconds > 0 {
			cutoff = time.Now().Add(-time.Duration(hist.Seconds) * time.Second)
		}
		if hist.Since != nil && hist.Since.After(cutoff) {
			cutoff = *hist.Since
		}
		if !cutoff.IsZero() {
			i := 0
			for ; i < len(entries); i++ {
				if !entries[i].StoredAt.Before(cutoff) {
					break
				}
			}
			entries = entries[i:]
		}
	}
	max := hist.MaxStanzas
	if !hist.Requested || max <= 0 {
		max = len(entries)
	}
	if max > len(entries) {
		max = len(entries)
	}
	out := entries[len(entries)-max:]
	if hist.Requested && hist.MaxChars > 0 {
		total := 0
		start := len(out)
		for i := len(out) - 1; i >= 0; i-- {
			total += len(out[i].Stanza.ToXML(true))
			if total > hist.MaxChars {
				break
			}
			start = i
		}
		out = out[start:]
	}
	if len(out) == 0 {
		return nil
	}
	return append([]HistoryEntry(nil), out...)
}

// ParseHistoryElement reads a join presence's <history/> child per
// XEP-0045 §7.2.15.
func ParseHistoryElement(x xmpp.XElement) HistoryRequest {
	if x == nil {
		return DefaultHistoryRequest()
	}
	h := x.Elements().Child("history")
	if h == nil {
		return DefaultHistoryRequest()
	}
	req := HistoryRequest{Requested: true, MaxStanzas: 25}
	if v := h.Attributes().Get("maxstanzas"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.MaxStanzas = n
		}
	}
	if v := h.Attributes().Get("maxchars"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.MaxChars = n
			req.MaxCharsSet = true
		}
	}
	if v := h.Attributes().Get("seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			req.Seconds = n
		}
	}
	if v := h.Attributes().Get("since"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			req.Since = &ts
		}
	}
	return req
}

// Action classifies a presence stanza addressed to the MUC domain.
type Action int

const (
	ActionNone Action = iota
	ActionJoin
	ActionLeave
)

// ParsePresence classifies p as a MUC join, leave, or unrelated stanza,
// per parse_muc_presence: only a full-JID room address is ever a MUC
// action, type="unavailable" is always a leave, and anything else
// available is a join (with or without the <x/> MUC child XEP-0045
// allows either way).
func ParsePresence(p *xmpp.Presence, mucDomain string) Action {
	to := p.ToJID()
	if to == nil || to.Domain() != mucDomain || !to.IsFull() {
		return ActionNone
	}
	if p.IsUnavailable() {
		return ActionLeave
	}
	if p.IsAvailable() {
		return ActionJoin
	}
	return ActionNone
}

// ParsePassword extracts the <password/> child of a join presence's
// <x xmlns='http://jabber.org/protocol/muc'/> element, if present.
func ParsePassword(p *xmpp.Presence) string {
	x := p.Elements().ChildNamespace("x", NSMuc)
	if x == nil {
		return ""
	}
	if pw := x.Elements().Child("password"); pw != nil {
		return pw.Text()
	}
	return ""
}

// RoomNameFromJID splits a full occupant JID address (room@domain/nick)
// into its room node and nickname.
func RoomNameFromJID(to *jid.JID) (room, nick string) {
	return to.Node(), to.Resource()
}
