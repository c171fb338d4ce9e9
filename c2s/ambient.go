package c2s

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waddle-social/waddle/auth"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/mam"
	"github.com/waddle-social/waddle/muc"
	"github.com/waddle-social/waddle/roster"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

// Namespaces for the in-band IQ services every account gets (XEP-0012,
// XEP-0030, XEP-0049, XEP-0054, XEP-0077, XEP-0191, XEP-0199), plus MAM
// and ISR's explicit token-request form.
const (
	nsRoster       = "jabber:iq:roster"
	nsVCard        = "vcard-temp"
	nsRegister     = "jabber:iq:register"
	nsLastActivity = "jabber:iq:last"
	nsPrivate      = "jabber:iq:private"
	nsBlocking     = "urn:xmpp:blocking"
	nsPing         = "urn:xmpp:ping"
	nsMAM          = "urn:xmpp:mam:2"
	nsDiscoInfo    = "http://jabber.org/protocol/disco#info"
	nsDiscoItems   = "http://jabber.org/protocol/disco#items"
)

// handleAmbientIQ answers the in-band service IQs every account gets
// regardless of federation state, dispatching on the IQ's sole child
// element. Returns false for anything it doesn't
// recognize, so the caller falls through to ordinary routing.
func (s *Stream) handleAmbientIQ(iq *xmpp.IQ) bool {
	if !iq.IsGet() && !iq.IsSet() {
		return false
	}
	children := iq.Elements().All()
	if len(children) != 1 {
		return false
	}
	child := children[0]

	switch {
	case child.Name() == "query" && child.Namespace() == nsRoster:
		s.handleRosterIQ(iq)
	case child.Name() == "vCard" && child.Namespace() == nsVCard:
		s.handleVCardIQ(iq, child)
	case child.Name() == "query" && child.Namespace() == nsRegister:
		s.handleRegisterIQ(iq)
	case child.Name() == "query" && child.Namespace() == nsLastActivity:
		s.handleLastActivityIQ(iq)
	case child.Name() == "query" && child.Namespace() == nsPrivate:
		s.handlePrivateIQ(iq, child)
	case child.Namespace() == nsBlocking && (child.Name() == "block" || child.Name() == "unblock"):
		s.handleBlockingIQ(iq, child)
	case child.Name() == "ping" && child.Namespace() == nsPing:
		s.writeElement(iq.ResultIQ())
	case child.Name() == "token-request" && child.Namespace() == nsISR:
		s.handleISRTokenRequestIQ(iq)
	case child.Name() == "query" && child.Namespace() == nsDiscoInfo:
		s.handleDiscoInfoIQ(iq)
	case child.Name() == "query" && child.Namespace() == nsDiscoItems:
		s.handleDiscoItemsIQ(iq)
	case child.Name() == "query" && child.Namespace() == nsMAM:
		s.handleMAMQueryIQ(iq, child)
	default:
		return false
	}
	return true
}

// handleRosterIQ answers a jabber:iq:roster get with the caller's full
// contact list, or applies a set (add/update/remove an item), per RFC
// 6121 §2.
func (s *Stream) handleRosterIQ(iq *xmpp.IQ) {
	username := s.username
	if iq.IsGet() {
		items, ver, err := roster.Items(username)
		if err != nil {
			log.Error(err)
			s.writeElement(iq.InternalServerError())
			return
		}
		result := iq.ResultIQ()
		result.AppendElement(roster.BuildItems(items, ver))
		s.writeElement(result)
		return
	}

	query := iq.Elements().ChildNamespace("query", nsRoster)
	item := query.Elements().Child("item")
	if item == nil {
		s.writeElement(iq.BadRequestError())
		return
	}
	contactJID := item.Attributes().Get("jid")
	if item.Attributes().Get("subscription") == "remove" {
		ver, err := roster.RemoveItem(username, contactJID)
		if err != nil {
			log.Error(err)
			s.writeElement(iq.InternalServerError())
			return
		}
		s.writeElement(iq.ResultIQ())
		s.broadcastRosterPush(&model.RosterItem{Username: username, JID: contactJID, Subscription: "remove"}, ver)
		return
	}

	var groups []string
	for _, g := range item.Elements().All() {
		if g.Name() == "group" {
			groups = append(groups, g.Text())
		}
	}
	updated, ver, err := roster.SetItem(username, contactJID, item.Attributes().Get("name"), groups)
	if err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
	s.broadcastRosterPush(updated, ver)
}

// broadcastRosterPush notifies every other connected resource of the
// owner's roster change (RFC 6121 §2.1.6), skipping this stream since it
// already has the IQ result.
func (s *Stream) broadcastRosterPush(item *model.RosterItem, ver int) {
	push := roster.BuildPush(s.username, item, ver)
	for _, stm := range router.Instance().StreamsMatchingJID(s.JID().ToBareJID()) {
		if stm.ID() == s.ID() {
			continue
		}
		stm.SendElement(push)
	}
}

// handleVCardIQ answers a vcard-temp get with the caller's stored vCard
// (or an empty one if none was ever set), and a set by persisting the
// submitted vCard verbatim: gets are served for any target, sets only for
// the caller's own JID or
// the bare server JID acting on its behalf.
func (s *Stream) handleVCardIQ(iq *xmpp.IQ, vCard xmpp.XElement) {
	if iq.IsGet() {
		raw, err := storage.Instance().FetchVCard(iq.ToJID().Node())
		if err != nil {
			log.Error(err)
			s.writeElement(iq.InternalServerError())
			return
		}
		result := iq.ResultIQ()
		if raw != "" {
			parsed, perr := parseStoredElement(raw)
			if perr == nil {
				result.AppendElement(parsed)
			}
		} else {
			result.AppendElement(xmpp.NewElementNamespace("vCard", nsVCard))
		}
		s.writeElement(result)
		return
	}

	to := iq.ToJID()
	from := iq.FromJID()
	if !to.IsServer() && to.Node() != from.Node() {
		s.writeElement(iq.ForbiddenError())
		return
	}
	if err := storage.Instance().UpsertVCard(from.Node(), vCard.ToXML(true)); err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
}

// handleLastActivityIQ answers XEP-0012: a query against the bare server
// JID reports server uptime (seconds since the stream's own connection
// time stands in for process uptime, as this stream has no handle on a
// process-wide clock); a query against a user JID reports the seconds
// since that user's last reported status, or 0 if currently online.
func (s *Stream) handleLastActivityIQ(iq *xmpp.IQ) {
	if !iq.IsGet() {
		s.writeElement(iq.BadRequestError())
		return
	}
	to := iq.ToJID()
	if to.IsServer() {
		result := iq.ResultIQ()
		q := xmpp.NewElementNamespace("query", nsLastActivity)
		q.SetAttribute("seconds", itoa64str(uint64(time.Since(s.connectTm).Seconds())))
		result.AppendElement(q)
		s.writeElement(result)
		return
	}

	if len(router.Instance().StreamsMatchingJID(to.ToBareJID())) > 0 {
		result := iq.ResultIQ()
		q := xmpp.NewElementNamespace("query", nsLastActivity)
		q.SetAttribute("seconds", "0")
		result.AppendElement(q)
		s.writeElement(result)
		return
	}

	u, err := storage.Instance().FetchLastActivity(to.Node())
	if err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	if u == nil {
		s.writeElement(iq.ItemNotFoundError())
		return
	}
	result := iq.ResultIQ()
	q := xmpp.NewElementNamespace("query", nsLastActivity)
	q.SetAttribute("seconds", itoa64str(uint64(time.Since(u.LastActivityAt).Seconds())))
	q.SetText(u.LastActivityStatus)
	result.AppendElement(q)
	s.writeElement(result)
}

// handlePrivateIQ answers XEP-0049: the namespace of the query's sole
// child keys a per-user private blob, readable and writable only by its
// owner.
func (s *Stream) handlePrivateIQ(iq *xmpp.IQ, query xmpp.XElement) {
	payload := firstChild(query)
	if payload == nil {
		s.writeElement(iq.BadRequestError())
		return
	}
	if iq.IsGet() {
		raw, err := storage.Instance().FetchPrivateXML(payload.Namespace(), s.username)
		if err != nil {
			log.Error(err)
			s.writeElement(iq.InternalServerError())
			return
		}
		result := iq.ResultIQ()
		q := xmpp.NewElementNamespace("query", nsPrivate)
		if raw != "" {
			if parsed, perr := parseStoredElement(raw); perr == nil {
				q.AppendElement(parsed)
			}
		} else {
			q.AppendElement(xmpp.NewElementNamespace(payload.Name(), payload.Namespace()))
		}
		result.AppendElement(q)
		s.writeElement(result)
		return
	}
	if err := storage.Instance().UpsertPrivateXML(payload.Namespace(), s.username, payload.ToXML(true)); err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
}

// handleBlockingIQ answers XEP-0191: a set on <block/> or <unblock/>
// mutates the caller's block list and pushes the mandated notification to
// every connected resource of the caller, this one included; an <unblock/>
// with no <item/> children
// clears the whole list (XEP-0191 §3.3).
func (s *Stream) handleBlockingIQ(iq *xmpp.IQ, child xmpp.XElement) {
	if !iq.IsSet() {
		s.writeElement(iq.BadRequestError())
		return
	}
	var jids []string
	for _, item := range child.Elements().All() {
		if item.Name() == "item" {
			jids = append(jids, item.Attributes().Get("jid"))
		}
	}

	if child.Name() == "block" {
		for _, j := range jids {
			if err := storage.Instance().InsertBlockListItem(&model.BlockListItem{Username: s.username, JID: j}); err != nil {
				log.Error(err)
				s.writeElement(iq.InternalServerError())
				return
			}
		}
	} else {
		if len(jids) == 0 {
			all, err := storage.Instance().FetchBlockListItems(s.username)
			if err != nil {
				log.Error(err)
				s.writeElement(iq.InternalServerError())
				return
			}
			for _, it := range all {
				jids = append(jids, it.JID)
			}
		}
		for _, j := range jids {
			if err := storage.Instance().DeleteBlockListItem(&model.BlockListItem{Username: s.username, JID: j}); err != nil {
				log.Error(err)
				s.writeElement(iq.InternalServerError())
				return
			}
		}
	}
	router.Instance().ReloadBlockList(s.username)

	s.writeElement(iq.ResultIQ())
	push := xmpp.NewIQType(uuid.NewString(), xmpp.SetType)
	payload := xmpp.NewElementNamespace(child.Name(), nsBlocking)
	for _, j := range jids {
		item := xmpp.NewElementName("item")
		item.SetAttribute("jid", j)
		payload.AppendElement(item)
	}
	push.AppendElement(payload)
	for _, stm := range router.Instance().StreamsMatchingJID(s.JID().ToBareJID()) {
		stm.SendElement(push)
	}
}

// handleISRTokenRequestIQ answers the explicit XEP-0397 token-request
// form, the alternative to in-SASL-success issuance.
func (s *Stream) handleISRTokenRequestIQ(iq *xmpp.IQ) {
	if !iq.IsGet() {
		s.writeElement(iq.BadRequestError())
		return
	}
	if !s.moduleEnabled("isr") {
		s.writeElement(iq.ServiceUnavailableError())
		return
	}
	tok, err := s.isrStore.Issue(s.username, s.resource, s.cfg.Modules.ISR.DefaultValidity, nil)
	if err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	result := iq.ResultIQ()
	tokenEl := xmpp.NewElementNamespace("token", nsISR)
	tokenEl.SetAttribute("value", tok.Token)
	tokenEl.SetAttribute("expiry", tok.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	result.AppendElement(tokenEl)
	s.writeElement(result)
}

// handleDiscoInfoIQ answers XEP-0030 disco#info for the bare server
// domain, the MUC subdomain, and any user's bare/full JID.
func (s *Stream) handleDiscoInfoIQ(iq *xmpp.IQ) {
	to := iq.ToJID()
	result := iq.ResultIQ()
	q := xmpp.NewElementNamespace("query", nsDiscoInfo)

	switch {
	case to.IsServer() && to.Domain() == s.cfg.MUCDomain:
		appendIdentity(q, "conference", "text", "Multi-User Chat")
		appendFeature(q, muc.NSMuc)
	default:
		appendIdentity(q, "server", "im", "waddle")
		appendFeature(q, nsDiscoInfo)
		appendFeature(q, nsDiscoItems)
		appendFeature(q, nsRoster)
		appendFeature(q, nsVCard)
		appendFeature(q, nsLastActivity)
		appendFeature(q, nsPrivate)
		appendFeature(q, nsBlocking)
		appendFeature(q, nsPing)
		appendFeature(q, nsMAM)
		appendFeature(q, nsISR)
		appendFeature(q, muc.NSMuc)
		if s.cfg.RegistrationAllowed() {
			appendFeature(q, nsRegister)
		}
	}
	result.AppendElement(q)
	s.writeElement(result)
}

// handleDiscoItemsIQ answers XEP-0030 disco#items: the server lists the
// MUC subdomain as a child item; the MUC subdomain lists its live rooms.
func (s *Stream) handleDiscoItemsIQ(iq *xmpp.IQ) {
	to := iq.ToJID()
	result := iq.ResultIQ()
	q := xmpp.NewElementNamespace("query", nsDiscoItems)

	if to.Domain() == s.cfg.MUCDomain {
		for _, room := range muc.Instance().Rooms() {
			item := xmpp.NewElementName("item")
			item.SetAttribute("jid", room.JID().String())
			item.SetAttribute("name", room.Name)
			q.AppendElement(item)
		}
	} else {
		item := xmpp.NewElementName("item")
		item.SetAttribute("jid", s.cfg.MUCDomain)
		item.SetAttribute("name", "Multi-User Chat")
		q.AppendElement(item)
	}
	result.AppendElement(q)
	s.writeElement(result)
}

func appendIdentity(q *xmpp.Element, category, typ, name string) {
	id := xmpp.NewElementName("identity")
	id.SetAttribute("category", category)
	id.SetAttribute("type", typ)
	id.SetAttribute("name", name)
	q.AppendElement(id)
}

func appendFeature(q *xmpp.Element, ns string) {
	f := xmpp.NewElementName("feature")
	f.SetAttribute("var", ns)
	q.AppendElement(f)
}

// handleMAMQueryIQ runs a XEP-0313 §4.2 archive query against the
// caller's own personal archive and streams the matching forwarded
// messages before the closing result IQ, per the protocol's "results come
// as <message/> stanzas, the IQ only acknowledges and carries <fin/>"
// shape.
func (s *Stream) handleMAMQueryIQ(iq *xmpp.IQ, query xmpp.XElement) {
	if !iq.IsSet() && !iq.IsGet() {
		s.writeElement(iq.BadRequestError())
		return
	}
	queryID := query.Attributes().Get("queryid")
	q := parseMAMQuery(query)

	res, err := mam.Run(s.JID().ToBareJID().String(), q)
	if err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	for _, m := range res.Messages {
		fwd, ferr := mam.BuildForwardedMessage(s.JID(), m, queryID)
		if ferr != nil {
			continue
		}
		s.writeElement(fwd)
	}

	result := iq.ResultIQ()
	result.AppendElement(mam.BuildFin(res))
	s.writeElement(result)
}

func parseMAMQuery(query xmpp.XElement) mam.Query {
	var q mam.Query
	form := query.Elements().ChildNamespace("x", "jabber:x:data")
	if form != nil {
		for _, f := range form.Elements().All() {
			if f.Name() != "field" {
				continue
			}
			v := firstValue(f)
			switch f.Attributes().Get("var") {
			case "with":
				q.With = v
			case "start":
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					q.Start = &t
				}
			case "end":
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					q.End = &t
				}
			}
		}
	}
	if set := query.Elements().ChildNamespace("set", "http://jabber.org/protocol/rsm"); set != nil {
		if after := set.Elements().Child("after"); after != nil {
			q.AfterID = parseArchiveID(after.Text())
		}
		if before := set.Elements().Child("before"); before != nil {
			q.BeforeID = parseArchiveID(before.Text())
		}
		if max := set.Elements().Child("max"); max != nil {
			if n, err := strconv.Atoi(max.Text()); err == nil {
				q.Max = n
			}
		}
	}
	return q
}

func parseArchiveID(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func firstValue(f xmpp.XElement) string {
	if v := f.Elements().Child("value"); v != nil {
		return v.Text()
	}
	return ""
}

func firstChild(e xmpp.XElement) xmpp.XElement {
	all := e.Elements().All()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

func parseStoredElement(raw string) (xmpp.XElement, error) {
	p := xmpp.NewParser(strings.NewReader(raw), 0)
	return p.ParseElement()
}

func itoa64str(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// handleRegisterIQ answers XEP-0077 in-band registration, both
// pre-authentication account creation (negotiate.go's handlePreAuthIQ)
// and, once bound, password change or account removal per
// cfg.Modules.Registration's allow flags.
func (s *Stream) handleRegisterIQ(iq *xmpp.IQ) {
	if !s.cfg.RegistrationAllowed() {
		s.writeElement(iq.ServiceUnavailableError())
		return
	}
	query := iq.Elements().ChildNamespace("query", nsRegister)

	if iq.IsGet() {
		result := iq.ResultIQ()
		q := xmpp.NewElementNamespace("query", nsRegister)
		if s.username != "" {
			q.AppendElement(xmpp.NewElementName("registered"))
		}
		q.AppendElement(xmpp.NewElementName("username"))
		q.AppendElement(xmpp.NewElementName("password"))
		result.AppendElement(q)
		s.writeElement(result)
		return
	}

	if query.Elements().Child("remove") != nil {
		s.handleRegisterRemove(iq)
		return
	}

	username := query.Elements().Child("username")
	password := query.Elements().Child("password")
	if username == nil || password == nil || username.Text() == "" || password.Text() == "" {
		s.writeElement(iq.BadRequestError())
		return
	}

	if s.username != "" {
		s.handleRegisterChange(iq, username.Text(), password.Text())
		return
	}

	exists, err := storage.Instance().UserExists(username.Text())
	if err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	if exists {
		s.writeElement(iq.ConflictError())
		return
	}

	cred := deriveNewSCRAMCredential(password.Text())
	u := &model.User{
		Username:        username.Text(),
		SCRAMSalt:       cred.Salt,
		SCRAMIterations: cred.Iterations,
		SCRAMStoredKey:  cred.StoredKey,
		SCRAMServerKey:  cred.ServerKey,
	}
	if err := storage.Instance().UpsertUser(u); err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
}

func (s *Stream) handleRegisterChange(iq *xmpp.IQ, username, password string) {
	if !s.cfg.Modules.Registration.AllowChange || username != s.username {
		s.writeElement(iq.NotAllowedError())
		return
	}
	cred := deriveNewSCRAMCredential(password)
	u, err := storage.Instance().FetchUser(s.username)
	if err != nil || u == nil {
		s.writeElement(iq.InternalServerError())
		return
	}
	u.SCRAMSalt = cred.Salt
	u.SCRAMIterations = cred.Iterations
	u.SCRAMStoredKey = cred.StoredKey
	u.SCRAMServerKey = cred.ServerKey
	if err := storage.Instance().UpsertUser(u); err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
}

func (s *Stream) handleRegisterRemove(iq *xmpp.IQ) {
	if s.username == "" || !s.cfg.Modules.Registration.AllowRemoval {
		s.writeElement(iq.NotAllowedError())
		return
	}
	if err := storage.Instance().DeleteUser(s.username); err != nil {
		log.Error(err)
		s.writeElement(iq.InternalServerError())
		return
	}
	s.writeElement(iq.ResultIQ())
	s.Disconnect(nil)
}

func deriveNewSCRAMCredential(password string) auth.SCRAMCredential {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	return auth.DeriveSCRAMCredential(password, salt, 4096)
}
