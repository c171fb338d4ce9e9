package muc

import (
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/xmpp"
)

// BuildOccupantPresence builds the <presence/> a room sends to announce
// occupant to recipient, from the room/nick address, carrying the
// <x xmlns='...#user'><item/></x> affiliation/role payload and, when
// selfPresence is true, status code 110 (XEP-0045 §7.2.3/§9.1). The
// occupant's real JID is included only when discloseJID is true; the
// caller decides that from the room's anonymity setting and the
// recipient.
func BuildOccupantPresence(roomJID, recipient *jid.JID, occ *Occupant, selfPresence, discloseJID bool) *xmpp.Presence {
	from, _ := jid.New(roomJID.Node(), roomJID.Domain(), occ.Nick, true)
	p := xmpp.NewPresence(from, recipient, xmpp.AvailableType)

	x := xmpp.NewElementNamespace("x", NSMucUser)
	item := xmpp.NewElementName("item")
	item.SetAttribute("affiliation", string(occ.Affiliation))
	item.SetAttribute("role", string(occ.Role))
	if discloseJID && occ.RealJID != nil {
		item.SetAttribute("jid", occ.RealJID.String())
	}
	x.AppendElement(item)
	if selfPresence {
		status := xmpp.NewElementName("status")
		status.SetAttribute("code", "110")
		x.AppendElement(status)
	}
	p.AppendElement(x)
	return p
}

// BuildLeavePresence builds the unavailable presence announcing an
// occupant's departure (plain leave, not a kick/ban).
func BuildLeavePresence(roomJID, recipient *jid.JID, occ *Occupant, selfPresence bool) *xmpp.Presence {
	from, _ := jid.New(roomJID.Node(), roomJID.Domain(), occ.Nick, true)
	p := xmpp.NewPresence(from, recipient, xmpp.UnavailableType)

	x := xmpp.NewElementNamespace("x", NSMucUser)
	item := xmpp.NewElementName("item")
	item.SetAttribute("affiliation", string(occ.Affiliation))
	item.SetAttribute("role", string(RoleNone))
	x.AppendElement(item)
	if selfPresence {
		status := xmpp.NewElementName("status")
		status.SetAttribute("code", "110")
		x.AppendElement(status)
	}
	p.AppendElement(x)
	return p
}

// BuildKickPresence builds the unavailable presence XEP-0045 §9.1 requires
// when a moderator kicks occ, carrying status code 307, an <actor/> when
// actorNick is non-empty and a <reason/> when reason is non-empty.
func BuildKickPresence(roomJID, recipient *jid.JID, occ *Occupant, actorNick, reason string, selfPresence bool) *xmpp.Presence {
	return buildEjectPresence(roomJID, recipient, occ, "307", actorNick, reason, selfPresence)
}

// BuildBanPresence builds the unavailable presence XEP-0045 §9.1 requires
// when an owner/admin bans occ, carrying status code 301 and forcing the
// occupant's affiliation to outcast.
func BuildBanPresence(roomJID, recipient *jid.JID, occ *Occupant, actorNick, reason string, selfPresence bool) *xmpp.Presence {
	banned := *occ
	banned.Affiliation = AffiliationOutcast
	return buildEjectPresence(roomJID, recipient, &banned, "301", actorNick, reason, selfPresence)
}

func buildEjectPresence(roomJID, recipient *jid.JID, occ *Occupant, statusCode, actorNick, reason string, selfPresence bool) *xmpp.Presence {
	from, _ := jid.New(roomJID.Node(), roomJID.Domain(), occ.Nick, true)
	p := xmpp.NewPresence(from, recipient, xmpp.UnavailableType)

	x := xmpp.NewElementNamespace("x", NSMucUser)
	item := xmpp.NewElementName("item")
	item.SetAttribute("affiliation", string(occ.Affiliation))
	item.SetAttribute("role", string(RoleNone))
	if actorNick != "" {
		actor := xmpp.NewElementName("actor")
		actor.SetAttribute("nick", actorNick)
		item.AppendElement(actor)
	}
	if reason != "" {
		r := xmpp.NewElementName("reason")
		r.SetText(reason)
		item.AppendElement(r)
	}
	x.AppendElement(item)
	status := xmpp.NewElementName("status")
	status.SetAttribute("code", statusCode)
	x.AppendElement(status)
	if selfPresence {
		self := xmpp.NewElementName("status")
		self.SetAttribute("code", "110")
		x.AppendElement(self)
	}
	p.AppendElement(x)
	return p
}

// BuildAffiliationChangePresence builds the presence notifying recipient
// of occ's new affiliation (XEP-0045 §9.2), reusing the occupant
// presence shape since the occupant keeps their place in the room.
func BuildAffiliationChangePresence(roomJID, recipient *jid.JID, occ *Occupant, selfPresence, discloseJID bool) *xmpp.Presence {
	return BuildOccupantPresence(roomJID, recipient, occ, selfPresence, discloseJID)
}

// BuildRoleChangePresence builds the presence notifying recipient of
// occ's new role (XEP-0045 §9.6), identical in shape to the occupant
// presence since role changes are carried in the same <item/>.
func BuildRoleChangePresence(roomJID, recipient *jid.JID, occ *Occupant, selfPresence, discloseJID bool) *xmpp.Presence {
	return BuildOccupantPresence(roomJID, recipient, occ, selfPresence, discloseJID)
}
