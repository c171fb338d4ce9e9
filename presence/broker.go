// Package presence is the presence broker: it turns one resource's
// presence change into the full RFC 6121 §4 fan-out (other resources of
// the same user, subscribed contacts) and answers directed probes on
// behalf of a user's connected resources, with subscription gating
// delegated to package roster's ShouldSendPresence/ShouldReceivePresence.
package presence

import (
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/roster"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/xmpp"
)

// Broadcast fans p out to every other resource of the same bare JID and
// to every roster contact entitled to receive the user's presence. p's
// from address is expected to already carry the sending full JID.
func Broadcast(from *jid.JID, p *xmpp.Presence) {
	bare := from.ToBareJID()

	for _, stm := range router.Instance().StreamsMatchingJID(bare) {
		if stm.Resource() == from.Resource() {
			continue
		}
		stm.SendElement(p)
	}

	items, _, err := roster.Items(bare.Node())
	if err != nil {
		log.Error(err)
		return
	}
	for _, it := range items {
		if !roster.ShouldSendPresence(roster.Subscription(it.Subscription)) {
			continue
		}
		contact, err := jid.NewString(it.JID, true)
		if err != nil {
			continue
		}
		out := xmpp.NewPresence(from, contact, p.Type())
		copyPresenceBody(p, out)
		if err := router.Instance().Route(out); err != nil {
			log.Debugf("presence: broadcast to %s: %v", it.JID, err)
		}
	}
}

// BestPresence returns the highest-priority available presence among
// bareJID's currently connected local resources, or nil if the user has
// none (offline, or every resource unavailable).
func BestPresence(bareJID *jid.JID) *xmpp.Presence {
	var best *xmpp.Presence
	var bestPriority int8
	for _, stm := range router.Instance().StreamsMatchingJID(bareJID) {
		p := stm.Presence()
		if p == nil || !p.IsAvailable() {
			continue
		}
		if best == nil || p.Priority() > bestPriority {
			best, bestPriority = p, p.Priority()
		}
	}
	return best
}

// HandleProbe answers a <presence type="probe"/> addressed to a local
// bare JID, per RFC 6121 §4.3: if requester is entitled to the owner's
// presence (their roster item has subscription from/both) and the owner
// has at least one available resource, the owner's best presence is
// routed back; otherwise nothing is sent (no information leak to an
// unsubscribed prober).
func HandleProbe(owner, requester *jid.JID) {
	item, err := storage.Instance().FetchRosterItem(owner.Node(), requester.ToBareJID().String())
	if err != nil {
		log.Error(err)
		return
	}
	if item == nil || !roster.ShouldSendPresence(roster.Subscription(item.Subscription)) {
		return
	}
	best := BestPresence(owner)
	if best == nil {
		return
	}
	reply := xmpp.NewPresence(best.FromJID(), requester, best.Type())
	copyPresenceBody(best, reply)
	if err := router.Instance().Route(reply); err != nil {
		log.Debugf("presence: probe reply to %s: %v", requester.String(), err)
	}
}

// ProbeRoster sends a probe to every contact bareJID's owner is entitled
// to receive presence from, used right after a resource's first available
// presence: every contact with subscription to or both gets a probe.
func ProbeRoster(owner *jid.JID) {
	items, _, err := roster.Items(owner.Node())
	if err != nil {
		log.Error(err)
		return
	}
	for _, it := range items {
		if !roster.ShouldReceivePresence(roster.Subscription(it.Subscription)) {
			continue
		}
		contact, err := jid.NewString(it.JID, true)
		if err != nil {
			continue
		}
		probe := xmpp.NewPresence(owner, contact, xmpp.ProbeType)
		if err := router.Instance().Route(probe); err != nil {
			log.Debugf("presence: probe to %s: %v", it.JID, err)
		}
	}
}

func copyPresenceBody(src, dst *xmpp.Presence) {
	if show := src.ShowState(); show != "" {
		e := xmpp.NewElementName("show")
		e.SetText(string(show))
		dst.AppendElement(e)
	}
	if status := src.Status(); status != "" {
		e := xmpp.NewElementName("status")
		e.SetText(status)
		dst.AppendElement(e)
	}
	if p := src.Priority(); p != 0 {
		e := xmpp.NewElementName("priority")
		e.SetText(itoa(int(p)))
		dst.AppendElement(e)
	}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
