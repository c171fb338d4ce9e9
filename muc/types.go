// Package muc implements XEP-0045 Multi-User Chat: room state, the
// join/leave/message/owner operations, and a federated presence fan-out
// that groups recipients whose real JID belongs to a remote domain by
// that domain.
package muc

import (
	"time"

	"github.com/waddle-social/waddle/jid"
)

// Namespaces used throughout room presence/IQ handling (XEP-0045).
const (
	NSMuc       = "http://jabber.org/protocol/muc"
	NSMucUser   = "http://jabber.org/protocol/muc#user"
	NSMucOwner  = "http://jabber.org/protocol/muc#owner"
	NSMucAdmin  = "http://jabber.org/protocol/muc#admin"
	NSDataForms = "jabber:x:data"
)

// Affiliation is a room's long-lived XEP-0045 §5.2 membership grade,
// independent of whether the affiliated JID currently occupies the room.
type Affiliation string

const (
	AffiliationOwner   Affiliation = "owner"
	AffiliationAdmin   Affiliation = "admin"
	AffiliationMember  Affiliation = "member"
	AffiliationNone    Affiliation = "none"
	AffiliationOutcast Affiliation = "outcast"
)

// Role is a room's XEP-0045 §5.1 per-occupancy privilege level, held only
// while the occupant remains in the room.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
	RoleNone        Role = "none"
)

// DefaultRole computes the role a newly joining occupant receives given
// their affiliation and the room's moderation setting (XEP-0045 §5.1
// table 1, simplified to this server's supported affiliation set).
func DefaultRole(aff Affiliation, moderated bool) Role {
	switch aff {
	case AffiliationOwner, AffiliationAdmin:
		return RoleModerator
	case AffiliationMember:
		return RoleParticipant
	default:
		if moderated {
			return RoleVisitor
		}
		return RoleParticipant
	}
}

// Occupant is one currently joined room participant.
type Occupant struct {
	Nick        string
	RealJID     *jid.JID // full JID of the connected user, local or remote
	Affiliation Affiliation
	Role        Role
}

// HistoryRequest is a parsed XEP-0045 §7.2.15 managed-history request
// carried in the join presence's <history/> child. Requested distinguishes
// "no <history/> element at all" (use the room default) from an explicit
// element, which Disabled further narrows to "explicitly no history".
type HistoryRequest struct {
	Requested  bool
	MaxStanzas int
	// MaxCharsSet distinguishes an omitted maxchars attribute from an
	// explicit maxchars='0' (which disables history entirely).
	MaxChars    int
	MaxCharsSet bool
	Seconds     int
	Since       *time.Time
}

// DefaultHistoryRequest is applied when the join presence carries no
// <history/> element at all.
func DefaultHistoryRequest() HistoryRequest {
	return HistoryRequest{Requested: false, MaxStanzas: 25}
}

// Disabled reports an explicit request for zero history (maxstanzas='0'
// or maxchars='0' per XEP-0045 §7.2.15).
func (h HistoryRequest) Disabled() bool {
	return h.Requested && (h.MaxStanzas == 0 || (h.MaxCharsSet && h.MaxChars == 0))
}
