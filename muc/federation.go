package muc

import "github.com/waddle-social/waddle/xmpp"

// OutboundPresence pairs a built presence stanza with its recipient, the
// unit FederatedPresenceSet collects before dispatch.
type OutboundPresence struct {
	To       string // recipient's full JID string
	Presence *xmpp.Presence
}

// FederatedPresenceSet partitions a room-wide presence broadcast into
// local recipients and remote recipients grouped by home server, mirroring
// federation.rs's FederatedPresenceSet so the S2S layer can batch one
// delivery per remote domain instead of one round trip per occupant.
type FederatedPresenceSet struct {
	Local  []OutboundPresence
	Remote map[string][]OutboundPresence
}

func newFederatedPresenceSet() *FederatedPresenceSet {
	return &FederatedPresenceSet{Remote: make(map[string][]OutboundPresence)}
}

func (s *FederatedPresenceSet) addLocal(to string, p *xmpp.Presence) {
	s.Local = append(s.Local, OutboundPresence{To: to, Presence: p})
}

func (s *FederatedPresenceSet) addRemote(domain, to string, p *xmpp.Presence) {
	s.Remote[domain] = append(s.Remote[domain], OutboundPresence{To: to, Presence: p})
}

// IsEmpty reports whether the set carries no deliveries at all.
func (s *FederatedPresenceSet) IsEmpty() bool { return s.TotalCount() == 0 }

// TotalCount is the grand total of deliveries across local and every
// remote domain.
func (s *FederatedPresenceSet) TotalCount() int { return s.LocalCount() + s.RemoteCount() }

// LocalCount is the number of local deliveries.
func (s *FederatedPresenceSet) LocalCount() int { return len(s.Local) }

// RemoteCount is the number of remote deliveries across every domain.
func (s *FederatedPresenceSet) RemoteCount() int {
	n := 0
	for _, v := range s.Remote {
		n += len(v)
	}
	return n
}

// RemoteDomainCount is the number of distinct remote domains with at
// least one queued delivery.
func (s *FederatedPresenceSet) RemoteDomainCount() int { return len(s.Remote) }

// RemoteDomains returns the set of remote domains with queued deliveries.
func (s *FederatedPresenceSet) RemoteDomains() []string {
	out := make([]string, 0, len(s.Remote))
	for d := range s.Remote {
		out = append(out, d)
	}
	return out
}

// GetRemote returns the queued deliveries for domain.
func (s *FederatedPresenceSet) GetRemote(domain string) []OutboundPresence { return s.Remote[domain] }

// All returns every queued delivery, local first, across every remote
// domain after.
func (s *FederatedPresenceSet) All() []OutboundPresence {
	out := append([]OutboundPresence(nil), s.Local...)
	for _, v := range s.Remote {
		out = append(out, v...)
	}
	return out
}

// isLocalDomain classifies domain against the set of domains this server
// itself serves directly (its C2S domain, not the MUC subdomain; an
// occupant's real JID is always on a user-facing domain).
func isLocalDomain(domain string, localDomains []string) bool {
	for _, d := range localDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// BroadcastPresenceFederated builds the full occupant-presence fan-out for
// subjectNick's current state to every occupant in room, partitioned by
// recipient locality, per
// federation.rs's MucRoom::broadcast_presence_federated.
func BroadcastPresenceFederated(room *Room, subjectNick string, localDomains []string) *FederatedPresenceSet {
	subject, ok := room.Occupant(subjectNick)
	set := newFederatedPresenceSet()
	if !ok {
		return set
	}
	roomJID := room.JID()
	for _, recipient := range room.Occupants() {
		self := recipient.Nick == subjectNick
		discloseJID := room.Config.Anonymity == "none" || self || recipient.Role == RoleModerator
		p := BuildOccupantPresence(roomJID, recipient.RealJID, subject, self, discloseJID)
		dispatch(set, recipient, p, localDomains)
	}
	return set
}

// BroadcastLeavePresenceFederated builds the unavailable-presence fan-out
// for leavingNick's departure to every *other* occupant remaining in the
// room (the leaving occupant gets their own self-leave presence via
// BuildSelfLeavePresence instead), per
// federation.rs's MucRoom::broadcast_leave_presence_federated.
func BroadcastLeavePresenceFederated(room *Room, leaving *Occupant, localDomains []string) *FederatedPresenceSet {
	set := newFederatedPresenceSet()
	roomJID := room.JID()
	for _, recipient := range room.Occupants() {
		if recipient.Nick == leaving.Nick {
			continue
		}
		p := BuildLeavePresence(roomJID, recipient.RealJID, leaving, false)
		dispatch(set, recipient, p, localDomains)
	}
	return set
}

// BuildSelfLeavePresence builds the unavailable self-presence (status 110)
// a leaving occupant's own real JID receives once the room has removed
// them, per federation.rs's MucRoom::build_self_leave_presence.
func BuildSelfLeavePresence(room *Room, leaving *Occupant) *xmpp.Presence {
	return BuildLeavePresence(room.JID(), leaving.RealJID, leaving, true)
}

// BuildS2SOccupantPresence builds the single presence stanza a remote
// server expects for one of its own users occupying a locally-hosted
// room, used by the S2S layer when relaying a federated join/update
// without going through the full broadcast fan-out (e.g. on-demand probe
// from the remote side).
func BuildS2SOccupantPresence(room *Room, occ *Occupant, recipient *Occupant) *xmpp.Presence {
	discloseJID := room.Config.Anonymity == "none" || recipient.Role == RoleModerator
	return BuildOccupantPresence(room.JID(), recipient.RealJID, occ, occ.Nick == recipient.Nick, discloseJID)
}

// BuildS2SLeavePresence is BuildS2SOccupantPresence's leave-presence
// counterpart.
func BuildS2SLeavePresence(room *Room, leaving *Occupant, recipient *Occupant) *xmpp.Presence {
	return BuildLeavePresence(room.JID(), recipient.RealJID, leaving, leaving.Nick == recipient.Nick)
}

func dispatch(set *FederatedPresenceSet, recipient *Occupant, p *xmpp.Presence, localDomains []string) {
	to := recipient.RealJID.String()
	if isLocalDomain(recipient.RealJID.Domain(), localDomains) {
		set.addLocal(to, p)
		return
	}
	set.addRemote(recipient.RealJID.Domain(), to, p)
}
