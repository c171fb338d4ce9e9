package c2s

import (
	"time"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/presence"
	"github.com/waddle-social/waddle/roster"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/sm"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/streamerror"
	"github.com/waddle-social/waddle/xmpp"
)

// handleStanza is the once-bound steady-state dispatch: every stanza is
// classified against the local domain, the MUC subdomain, or a remote
// domain before anything else happens to it.
func (s *Stream) handleStanza(elem xmpp.XElement) {
	switch {
	case elem.Name() == "a" && elem.Namespace() == nsSM:
		s.handleSMAck(elem)
		return
	case elem.Name() == "r" && elem.Namespace() == nsSM:
		s.writeElement(sm.AckElement(s.smState.InboundCount()))
		return
	}
	if s.smEnabled {
		s.smState.RecordInbound()
	}

	stripClientFrom(elem)
	switch elem.Name() {
	case "presence":
		s.dispatchPresence(elem)
	case "message":
		s.dispatchMessage(elem)
	case "iq":
		s.dispatchIQ(elem)
	default:
		s.Disconnect(streamerror.ErrUnsupportedStanzaType)
	}
}

func (s *Stream) handleSMAck(elem xmpp.XElement) {
	h := elem.Attributes().Get("h")
	var n uint64
	for i := 0; i < len(h); i++ {
		if h[i] < '0' || h[i] > '9' {
			return
		}
		n = n*10 + uint64(h[i]-'0')
	}
	s.smState.Ack(uint32(n))
}

// targetDomain classifies a stanza's destination against the server's own
// domain, the MUC subdomain, and everything else.
type targetDomain int

const (
	domainLocal targetDomain = iota
	domainMUC
	domainRemote
)

func (s *Stream) classify(to *jid.JID) targetDomain {
	switch {
	case to.Domain() == s.cfg.LocalDomain:
		return domainLocal
	case to.Domain() == s.cfg.MUCDomain:
		return domainMUC
	default:
		return domainRemote
	}
}

func (s *Stream) resolveTo(elem xmpp.XElement) *jid.JID {
	to := elem.Attributes().Get("to")
	if to == "" {
		return s.JID().ToBareJID()
	}
	j, err := jid.NewString(to, false)
	if err != nil {
		return nil
	}
	return j
}

func (s *Stream) dispatchPresence(elem xmpp.XElement) {
	from := s.JID()
	to := s.resolveTo(elem)
	if to == nil {
		return
	}
	p, err := xmpp.NewPresenceFromElement(elem, from, to)
	if err != nil {
		return
	}

	if s.classify(to) == domainMUC {
		s.handleMUCPresence(p)
		return
	}

	if to.IsBare() && to.Node() == from.Node() {
		s.handleOwnPresence(p)
		return
	}

	switch p.Type() {
	case xmpp.SubscribeType, xmpp.SubscribedType, xmpp.UnsubscribeType, xmpp.UnsubscribedType:
		if _, _, err := roster.HandleOutbound(from.Node(), to.ToBareJID().String(), p.Type()); err != nil {
			log.Error(err)
		}
	}

	if s.classify(to) == domainRemote {
		if err := router.Instance().Route(p); err != nil {
			log.Debugf("c2s: presence route to %s: %v", to.String(), err)
		}
		return
	}
	s.routeLocalPresence(p)
}

// handleOwnPresence processes the user's own availability broadcast:
// initial <presence/> probes the roster and fans out; subsequent changes
// and the final unavailable just fan out.
func (s *Stream) handleOwnPresence(p *xmpp.Presence) {
	initial := s.Presence() == nil
	s.setPresence(p)
	presence.Broadcast(s.JID(), p)
	if initial && p.IsAvailable() {
		presence.ProbeRoster(s.JID())
	}
}

// routeLocalPresence handles presence this stream sent to another local
// user: probes answer immediately, subscription requests mutate the
// recipient's roster and still get delivered live to any connected
// resource, everything else routes straight through.
func (s *Stream) routeLocalPresence(p *xmpp.Presence) {
	to := p.ToJID()
	if to.IsBare() {
		switch p.Type() {
		case xmpp.ProbeType:
			presence.HandleProbe(to, p.FromJID())
			return
		case xmpp.SubscribeType, xmpp.SubscribedType, xmpp.UnsubscribeType, xmpp.UnsubscribedType:
			item, ver, pending, err := roster.HandleInbound(to.Node(), p.FromJID().ToBareJID().String(), p.Type())
			if err != nil {
				log.Error(err)
				return
			}
			if !pending && item != nil {
				push := roster.BuildPush(to.Node(), item, ver)
				for _, stm := range router.Instance().StreamsMatchingJID(to) {
					stm.SendElement(push)
				}
			}
			for _, stm := range router.Instance().StreamsMatchingJID(to) {
				stm.SendElement(p)
			}
			return
		}
	}
	if err := router.Instance().Route(p); err != nil {
		log.Debugf("c2s: presence route to %s: %v", to.String(), err)
	}
}

func (s *Stream) dispatchMessage(elem xmpp.XElement) {
	from := s.JID()
	to := s.resolveTo(elem)
	if to == nil {
		return
	}
	msg, err := xmpp.NewMessageFromElement(elem, from, to)
	if err != nil {
		return
	}

	if s.classify(to) == domainMUC {
		s.handleMUCMessage(msg)
		return
	}

	s.archiveMessage(from.ToBareJID(), to.ToBareJID(), msg, "outbound")
	if s.classify(to) == domainLocal {
		s.archiveMessage(to.ToBareJID(), from.ToBareJID(), msg, "inbound")
	}

	if err := router.Instance().Route(msg); err != nil {
		s.handleMessageRouteError(msg, err)
	}
}

// archiveMessage records msg in owner's MAM archive when it carries a
// body, per XEP-0313 §5's "only messages with a <body/> are archived".
func (s *Stream) archiveMessage(owner, counterpart *jid.JID, msg *xmpp.Message, direction string) {
	if !msg.IsMessageWithBody() {
		return
	}
	rec := &model.ArchivedMessage{
		StanzaID:    msg.ID(),
		Archive:     owner.String(),
		Direction:   direction,
		Counterpart: counterpart.String(),
		XML:         msg.ToXML(true),
		StoredAt:    time.Now(),
	}
	if err := storage.Instance().InsertArchivedMessage(rec); err != nil {
		log.Error(err)
	}
}

func (s *Stream) handleMessageRouteError(msg *xmpp.Message, routeErr error) {
	if routeErr == router.ErrNotAuthenticated {
		rec := &model.OfflineMessage{
			Username:  msg.ToJID().Node(),
			XML:       msg.ToXML(true),
			DelayedAt: time.Now(),
		}
		if err := storage.Instance().InsertOfflineMessage(rec); err != nil {
			log.Error(err)
		}
		return
	}
	log.Debugf("c2s: message delivery failed: %v", routeErr)
}

func (s *Stream) dispatchIQ(elem xmpp.XElement) {
	from := s.JID()
	to := s.resolveTo(elem)
	if to == nil {
		return
	}
	iq, err := xmpp.NewIQFromElement(elem, from, to)
	if err != nil {
		return
	}

	if s.classify(to) == domainMUC {
		if to.IsServer() && iq.IsGet() {
			switch {
			case iq.Elements().ChildNamespace("query", nsDiscoInfo) != nil:
				s.handleDiscoInfoIQ(iq)
				return
			case iq.Elements().ChildNamespace("query", nsDiscoItems) != nil:
				s.handleDiscoItemsIQ(iq)
				return
			}
		}
		s.handleMUCIQ(iq)
		return
	}
	if to.IsServer() || (to.IsBare() && to.Node() == from.Node()) {
		if s.handleAmbientIQ(iq) {
			return
		}
	}
	if err := router.Instance().Route(iq); err != nil {
		s.writeElement(iq.ServiceUnavailableError())
	}
}
