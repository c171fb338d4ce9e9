// Package roster implements RFC 6121 contact-list management: the
// (subscription, ask) state machine governing presence subscriptions and
// the CRUD operations the C2S session and roster IQ handler drive it
// through. The state machine implements the transitions of RFC 6121 §3,
// one pure function per direction.
package roster

import "github.com/waddle-social/waddle/storage/model"

// Subscription is the RFC 6121 §9 roster item "subscription" attribute.
type Subscription string

const (
	SubNone Subscription = "none"
	SubTo   Subscription = "to"
	SubFrom Subscription = "from"
	SubBoth Subscription = "both"
)

// ApplyOutboundSubscribe handles the local user sending <presence
// type="subscribe"/>: the roster item's ask flag is set, subscription is
// unchanged until the peer answers.
func ApplyOutboundSubscribe(sub Subscription) (Subscription, bool) {
	return sub, true
}

// ApplyInboundSubscribed handles a <presence type="subscribed"/> arriving
// from the peer in answer to our outstanding subscribe: none graduates to
// to, from graduates to both, and the outstanding ask is cleared.
func ApplyInboundSubscribed(sub Subscription) (Subscription, bool) {
	switch sub {
	case SubNone:
		return SubTo, false
	case SubFrom:
		return SubBoth, false
	default:
		return sub, false
	}
}

// ApplyInboundUnsubscribed handles a <presence type="unsubscribed"/>
// arriving from the peer, withdrawing our inbound-presence permission: to
// collapses to none, both collapses to from, and any outstanding ask is
// cleared since the peer answered it (negatively).
func ApplyInboundUnsubscribed(sub Subscription) (Subscription, bool) {
	switch sub {
	case SubTo:
		return SubNone, false
	case SubBoth:
		return SubFrom, false
	default:
		return sub, false
	}
}

// ApplyOutboundSubscribed handles the local user approving a peer's
// inbound subscription request: none grants from, to grants both.
func ApplyOutboundSubscribed(sub Subscription) Subscription {
	switch sub {
	case SubNone:
		return SubFrom
	case SubTo:
		return SubBoth
	default:
		return sub
	}
}

// ApplyOutboundUnsubscribed handles the local user revoking a peer's
// inbound-presence permission: from collapses to none, both collapses to
// to.
func ApplyOutboundUnsubscribed(sub Subscription) Subscription {
	switch sub {
	case SubFrom:
		return SubNone
	case SubBoth:
		return SubTo
	default:
		return sub
	}
}

// ApplyOutboundUnsubscribe handles the local user cancelling their own
// outbound subscription: to collapses to none, both collapses to from,
// and any outstanding ask is cleared.
func ApplyOutboundUnsubscribe(sub Subscription) (Subscription, bool) {
	switch sub {
	case SubTo:
		return SubNone, false
	case SubBoth:
		return SubFrom, false
	default:
		return sub, false
	}
}

// ShouldReceivePresence reports whether a roster item in this subscription
// state entitles the local user to receive the contact's presence updates.
func ShouldReceivePresence(sub Subscription) bool {
	return sub == SubTo || sub == SubBoth
}

// ShouldSendPresence reports whether a roster item in this subscription
// state entitles the contact to receive the local user's presence updates.
func ShouldSendPresence(sub Subscription) bool {
	return sub == SubFrom || sub == SubBoth
}

// applyToItem mutates item's Subscription/Ask in place per one of the
// Apply* transitions above, returning the previous state for callers that
// need to detect a no-op transition.
func applyToItem(item *model.RosterItem, newSub Subscription, newAsk bool) (old Subscription, changed bool) {
	old = Subscription(item.Subscription)
	changed = old != newSub || item.Ask != newAsk
	item.Subscription = string(newSub)
	item.Ask = newAsk
	return old, changed
}
