package c2s

import (
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/muc"
	"github.com/waddle-social/waddle/xmpp"
)

// handleMUCPresence bridges a presence addressed to the MUC subdomain
// into package muc's room state machine (the XEP-0045 join/leave path).
func (s *Stream) handleMUCPresence(p *xmpp.Presence) {
	mgr := muc.Instance()
	switch muc.ParsePresence(p, mgr.MucDomain()) {
	case muc.ActionJoin:
		s.handleMUCJoin(p)
	case muc.ActionLeave:
		s.handleMUCLeave(p)
	default:
		// MUC-domain presence outside a recognized join/leave shape (e.g.
		// directed subscription probes) has no handler yet; silently drop.
	}
}

func (s *Stream) handleMUCJoin(p *xmpp.Presence) {
	mgr := muc.Instance()
	roomName, nick := muc.RoomNameFromJID(p.ToJID())
	if roomName == "" || nick == "" {
		s.writeElement(xmpp.NewPresence(p.ToJID(), p.FromJID(), xmpp.PresenceErrorType))
		return
	}

	room, created, err := mgr.GetOrCreateRoom(roomName, p.FromJID().ToBareJID().String())
	if err != nil {
		log.Error(err)
		return
	}

	password := muc.ParsePassword(p)
	hist := muc.ParseHistoryElement(p)
	outcome, err := room.Join(p.FromJID(), nick, password, hist)
	if err != nil {
		s.writeElement(mucJoinError(room, p, err))
		return
	}
	if created && room.Config.Persistent {
		if perr := mgr.Persist(room); perr != nil {
			log.Error(perr)
		}
	}

	set := muc.BroadcastPresenceFederated(room, nick, s.localDomains())
	mgr.Dispatch(set)

	for _, h := range outcome.History {
		s.deliverHistoryEntry(room, p.FromJID(), h)
	}
}

func (s *Stream) handleMUCLeave(p *xmpp.Presence) {
	mgr := muc.Instance()
	roomName, nick := muc.RoomNameFromJID(p.ToJID())
	room, ok := mgr.Room(roomName)
	if !ok {
		return
	}
	occ, ok := room.Leave(nick)
	if !ok {
		return
	}
	self := muc.BuildSelfLeavePresence(room, occ)
	s.writeElement(self)

	set := muc.BroadcastLeavePresenceFederated(room, occ, s.localDomains())
	mgr.Dispatch(set)
}

func mucJoinError(room *muc.Room, p *xmpp.Presence, err error) *xmpp.Element {
	var se *xmpp.StanzaError
	switch err {
	case muc.ErrPasswordRequired:
		se = xmpp.ErrNotAuthorized
	case muc.ErrBanned:
		se = xmpp.ErrForbidden
	case muc.ErrMembersOnly:
		se = xmpp.ErrRegistrationRequired
	case muc.ErrRoomFull:
		se = xmpp.ErrResourceConstraint
	case muc.ErrNicknameConflict:
		se = xmpp.ErrConflict
	default:
		se = xmpp.ErrInternalServerError
	}
	return xmpp.NewErrorElementFromElement(p, se, nil)
}

func (s *Stream) deliverHistoryEntry(room *muc.Room, to *jid.JID, h muc.HistoryEntry) {
	roomJID := room.JID()
	from, err := jid.New(roomJID.Node(), roomJID.Domain(), h.FromNick, true)
	if err != nil {
		return
	}
	out, err := xmpp.NewMessageFromElement(h.Stanza, from, to)
	if err != nil {
		return
	}
	delay := xmpp.NewElementNamespace("delay", "urn:xmpp:delay")
	delay.SetAttribute("stamp", h.StoredAt.UTC().Format("2006-01-02T15:04:05Z"))
	delay.SetAttribute("from", from.String())
	out.AppendElement(delay)
	s.writeTracked(out)
}

// handleMUCMessage bridges a groupchat message into the room's fan-out.
func (s *Stream) handleMUCMessage(msg *xmpp.Message) {
	mgr := muc.Instance()
	roomName, _ := muc.RoomNameFromJID(msg.ToJID())
	room, ok := mgr.Room(roomName)
	if !ok {
		s.writeElement(msg.ServiceUnavailableError())
		return
	}
	occ := s.occupantOf(room, msg.FromJID())
	if occ == nil {
		s.writeElement(xmpp.NewErrorElementFromElement(msg, xmpp.ErrNotAcceptable, nil))
		return
	}
	if occ.Role == muc.RoleVisitor && room.Config.ModeratedRoom {
		s.writeElement(xmpp.NewErrorElementFromElement(msg, xmpp.ErrForbidden, nil))
		return
	}
	mgr.DeliverMessage(room, occ.Nick, msg)
}

func (s *Stream) occupantOf(room *muc.Room, real *jid.JID) *muc.Occupant {
	for _, occ := range room.Occupants() {
		if occ.RealJID.Equal(real) {
			return occ
		}
	}
	return nil
}

// handleMUCIQ bridges owner/admin configuration IQs addressed to a room
// (XEP-0045 §9/§10), dispatching on the child element's
// namespace.
func (s *Stream) handleMUCIQ(iq *xmpp.IQ) {
	roomName, _ := muc.RoomNameFromJID(iq.ToJID())
	mgr := muc.Instance()
	room, ok := mgr.Room(roomName)
	if !ok {
		s.writeElement(iq.ItemNotFoundError())
		return
	}
	if iq.Elements().ChildNamespace("query", muc.NSMucOwner) != nil {
		s.handleMUCOwnerIQ(iq, mgr, room)
		return
	}
	if iq.Elements().ChildNamespace("query", muc.NSMucAdmin) != nil {
		s.handleMUCAdminIQ(iq, mgr, room)
		return
	}
	s.writeElement(iq.ServiceUnavailableError())
}

// mucAdminItem is one parsed <item/> child of a XEP-0045 §9 admin query,
// addressing its target by nick (role changes) or by bare JID
// (affiliation changes, which outlive occupancy).
type mucAdminItem struct {
	nick        string
	jid         string
	affiliation string
	role        string
	reason      string
}

func parseMUCAdminItems(query xmpp.XElement) []mucAdminItem {
	var items []mucAdminItem
	for _, el := range query.Elements().All() {
		if el.Name() != "item" {
			continue
		}
		it := mucAdminItem{
			nick:        el.Attributes().Get("nick"),
			jid:         el.Attributes().Get("jid"),
			affiliation: el.Attributes().Get("affiliation"),
			role:        el.Attributes().Get("role"),
		}
		if r := el.Elements().Child("reason"); r != nil {
			it.reason = r.Text()
		}
		items = append(items, it)
	}
	return items
}

// handleMUCAdminIQ applies a XEP-0045 §9 admin request: role changes
// (voice/devoice, moderator grant/revoke, kick) address the target by
// in-room nick and only affect the current occupancy; affiliation changes
// (member/admin/owner grant, ban) address the target by bare JID and
// persist across visits. The acting occupant's own affiliation must meet
// or exceed what XEP-0045 §9 requires for the mutation requested; this
// server enforces the coarser rule that only owners and admins may issue
// any admin-query IQ at all.
func (s *Stream) handleMUCAdminIQ(iq *xmpp.IQ, mgr *muc.Manager, room *muc.Room) {
	requester := iq.FromJID().ToBareJID().String()
	requesterAff := room.AffiliationOf(requester)
	if requesterAff != muc.AffiliationOwner && requesterAff != muc.AffiliationAdmin {
		s.writeElement(iq.ForbiddenError())
		return
	}
	if !iq.IsSet() {
		s.writeElement(iq.BadRequestError())
		return
	}
	query := iq.Elements().ChildNamespace("query", muc.NSMucAdmin)
	items := parseMUCAdminItems(query)
	if len(items) == 0 {
		s.writeElement(iq.BadRequestError())
		return
	}

	actor := s.occupantOf(room, iq.FromJID())
	actorNick := ""
	if actor != nil {
		actorNick = actor.Nick
	}

	for _, it := range items {
		switch {
		case it.role != "":
			s.applyMUCRoleChange(room, it, actorNick)
		case it.affiliation != "":
			s.applyMUCAffiliationChange(mgr, room, it, actorNick)
		}
	}
	s.writeElement(iq.ResultIQ())
}

func (s *Stream) applyMUCRoleChange(room *muc.Room, it mucAdminItem, actorNick string) {
	if it.nick == "" {
		return
	}
	if it.role == string(muc.RoleNone) {
		occ, ok := room.Kick(it.nick)
		if !ok {
			return
		}
		roomJID := room.JID()
		for _, recipient := range room.Occupants() {
			s.writeElement(muc.BuildKickPresence(roomJID, recipient.RealJID, occ, actorNick, it.reason, false))
		}
		self, _ := jid.New(roomJID.Node(), roomJID.Domain(), occ.Nick, true)
		_ = self
		s.writeElement(muc.BuildKickPresence(roomJID, occ.RealJID, occ, actorNick, it.reason, true))
		return
	}
	occ, ok := room.SetRole(it.nick, muc.Role(it.role))
	if !ok {
		return
	}
	roomJID := room.JID()
	for _, recipient := range room.Occupants() {
		self := recipient.Nick == occ.Nick
		s.writeElement(muc.BuildRoleChangePresence(roomJID, recipient.RealJID, occ, self, recipient.Role == muc.RoleModerator || self))
	}
}

func (s *Stream) applyMUCAffiliationChange(mgr *muc.Manager, room *muc.Room, it mucAdminItem, actorNick string) {
	if it.jid == "" {
		return
	}
	aff := muc.Affiliation(it.affiliation)
	room.SetAffiliation(it.jid, aff)
	if err := mgr.Persist(room); err != nil {
		log.Error(err)
	}

	occ, inRoom := room.OccupantByBareJID(it.jid)
	if aff == muc.AffiliationOutcast && inRoom {
		banned, _ := room.Kick(occ.Nick)
		roomJID := room.JID()
		for _, recipient := range room.Occupants() {
			s.writeElement(muc.BuildBanPresence(roomJID, recipient.RealJID, banned, actorNick, it.reason, false))
		}
		s.writeElement(muc.BuildBanPresence(roomJID, banned.RealJID, banned, actorNick, it.reason, true))
		return
	}
	if !inRoom {
		return
	}
	occ.Affiliation = aff
	roomJID := room.JID()
	for _, recipient := range room.Occupants() {
		self := recipient.Nick == occ.Nick
		s.writeElement(muc.BuildAffiliationChangePresence(roomJID, recipient.RealJID, occ, self, self || recipient.Role == muc.RoleModerator))
	}
}

func (s *Stream) handleMUCOwnerIQ(iq *xmpp.IQ, mgr *muc.Manager, room *muc.Room) {
	requester := iq.FromJID().ToBareJID().String()
	if room.AffiliationOf(requester) != muc.AffiliationOwner {
		s.writeElement(iq.ForbiddenError())
		return
	}
	query := iq.Elements().ChildNamespace("query", muc.NSMucOwner)

	switch {
	case iq.IsGet():
		result := iq.ResultIQ()
		q := xmpp.NewElementNamespace("query", muc.NSMucOwner)
		q.AppendElement(muc.BuildConfigForm(room))
		result.AppendElement(q)
		s.writeElement(result)

	case iq.IsSet():
		if destroy := query.Elements().Child("destroy"); destroy != nil {
			s.handleMUCDestroy(iq, mgr, room, query)
			return
		}
		data, ok := muc.ParseConfigForm(query)
		if !ok {
			s.writeElement(iq.BadRequestError())
			return
		}
		room.Config = muc.ApplyConfig(room.Config, data)
		if err := mgr.Persist(room); err != nil {
			log.Error(err)
			s.writeElement(iq.InternalServerError())
			return
		}
		s.writeElement(iq.ResultIQ())

	default:
		s.writeElement(iq.BadRequestError())
	}
}

func (s *Stream) handleMUCDestroy(iq *xmpp.IQ, mgr *muc.Manager, room *muc.Room, query xmpp.XElement) {
	for _, occ := range room.Occupants() {
		s.writeElement(muc.BuildSelfLeavePresence(room, occ))
	}
	if err := mgr.Destroy(room.Name); err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
}

func (s *Stream) localDomains() []string {
	return []string{s.cfg.LocalDomain, s.cfg.MUCDomain}
}
