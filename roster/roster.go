package roster

import (
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

const namespace = "jabber:iq:roster"

// Items returns username's full contact list and current roster version.
func Items(username string) ([]model.RosterItem, int, error) {
	return storage.Instance().FetchRosterItems(username)
}

// Item returns one contact, or nil if it isn't on username's roster.
func Item(username, contactJID string) (*model.RosterItem, error) {
	return storage.Instance().FetchRosterItem(username, contactJID)
}

// SetItem applies a roster-management IQ set (RFC 6121 §2.3): upserts name
// and groups for an existing or brand-new item, leaving subscription state
// untouched (subscription only ever changes through presence handling).
// A negative-removal request (subscription="remove") is handled by
// RemoveItem instead.
func SetItem(username string, contactJID, name string, groups []string) (*model.RosterItem, int, error) {
	existing, err := storage.Instance().FetchRosterItem(username, contactJID)
	if err != nil {
		return nil, 0, err
	}
	item := &model.RosterItem{Username: username, JID: contactJID, Name: name, Groups: groups}
	if existing != nil {
		item.Subscription = existing.Subscription
		item.Ask = existing.Ask
	} else {
		item.Subscription = string(SubNone)
	}
	ver, err := storage.Instance().UpsertRosterItem(item)
	if err != nil {
		return nil, 0, err
	}
	item.Ver = ver
	return item, ver, nil
}

// RemoveItem deletes a roster entry, per RFC 6121 §2.5.
func RemoveItem(username, contactJID string) (int, error) {
	return storage.Instance().DeleteRosterItem(username, contactJID)
}

// HandleOutbound updates username's own roster item for contactJID in
// response to a subscription-type presence username is SENDING to
// contactJID. Only the sender's item mutates here; the peer reacts
// separately, whether
// locally via HandleInbound or remotely in their own server.
func HandleOutbound(username, contactJID string, presenceType xmpp.PresenceType) (*model.RosterItem, int, error) {
	item, err := loadOrNew(username, contactJID)
	if err != nil {
		return nil, 0, err
	}
	sub := Subscription(item.Subscription)
	switch presenceType {
	case xmpp.SubscribeType:
		sub, item.Ask = ApplyOutboundSubscribe(sub)
	case xmpp.SubscribedType:
		sub = ApplyOutboundSubscribed(sub)
		item.Ask = false
	case xmpp.UnsubscribeType:
		sub, item.Ask = ApplyOutboundUnsubscribe(sub)
	case xmpp.UnsubscribedType:
		sub = ApplyOutboundUnsubscribed(sub)
		item.Ask = false
	default:
		return item, item.Ver, nil
	}
	item.Subscription = string(sub)
	ver, err := storage.Instance().UpsertRosterItem(item)
	if err != nil {
		return nil, 0, err
	}
	item.Ver = ver
	return item, ver, nil
}

// HandleInbound reacts to a subscription-type presence arriving FOR
// username FROM fromJID (local delivery target, whether the sender was
// local or federated). subscribe/unsubscribe requests don't mutate
// username's roster by themselves (RFC 6121 leaves approval to the user),
// so those return pending=true and the caller is responsible for either
// delivering the presence live or recording a RosterNotification for next
// login. subscribed/unsubscribed are replies to username's own earlier
// request and do mutate the roster (ApplyInboundSubscribed/Unsubscribed).
func HandleInbound(username, fromJID string, presenceType xmpp.PresenceType) (item *model.RosterItem, ver int, pending bool, err error) {
	switch presenceType {
	case xmpp.SubscribeType:
		if err := storage.Instance().InsertRosterNotification(&model.RosterNotification{
			Username: username, JID: fromJID,
		}); err != nil {
			return nil, 0, false, err
		}
		return nil, 0, true, nil
	case xmpp.UnsubscribeType:
		if err := storage.Instance().DeleteRosterNotification(username, fromJID); err != nil {
			return nil, 0, false, err
		}
		return nil, 0, true, nil
	}

	item, err = loadOrNew(username, fromJID)
	if err != nil {
		return nil, 0, false, err
	}
	sub := Subscription(item.Subscription)
	switch presenceType {
	case xmpp.SubscribedType:
		sub, _ = ApplyInboundSubscribed(sub)
		item.Ask = false
	case xmpp.UnsubscribedType:
		sub, _ = ApplyInboundUnsubscribed(sub)
		item.Ask = false
	default:
		return item, item.Ver, false, nil
	}
	item.Subscription = string(sub)
	ver, err = storage.Instance().UpsertRosterItem(item)
	if err != nil {
		return nil, 0, false, err
	}
	item.Ver = ver
	_ = storage.Instance().DeleteRosterNotification(username, fromJID)
	return item, ver, false, nil
}

// PendingNotifications returns username's unanswered inbound subscription
// requests, replayed on login.
func PendingNotifications(username string) ([]model.RosterNotification, error) {
	return storage.Instance().FetchRosterNotifications(username)
}

func loadOrNew(username, contactJID string) (*model.RosterItem, error) {
	item, err := storage.Instance().FetchRosterItem(username, contactJID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		item = &model.RosterItem{Username: username, JID: contactJID, Subscription: string(SubNone)}
	}
	return item, nil
}

// BuildPush builds the roster-push <iq type="set"/> RFC 6121 §2.1.6
// notifies a user's own resources with after any roster change.
func BuildPush(username string, item *model.RosterItem, ver int) *xmpp.IQ {
	iq := xmpp.NewIQType(pushID(), xmpp.SetType)
	query := xmpp.NewElementNamespace("query", namespace)
	query.SetAttribute("ver", itoa(ver))
	query.AppendElement(buildItemElement(item))
	iq.AppendElement(query)
	return iq
}

// BuildItems builds the <query/> payload for a full roster fetch result.
func BuildItems(items []model.RosterItem, ver int) *xmpp.Element {
	query := xmpp.NewElementNamespace("query", namespace)
	query.SetAttribute("ver", itoa(ver))
	for i := range items {
		query.AppendElement(buildItemElement(&items[i]))
	}
	return query
}

func buildItemElement(item *model.RosterItem) *xmpp.Element {
	e := xmpp.NewElementName("item")
	e.SetAttribute("jid", item.JID)
	if item.Name != "" {
		e.SetAttribute("name", item.Name)
	}
	sub := item.Subscription
	if sub == "" {
		sub = string(SubNone)
	}
	e.SetAttribute("subscription", sub)
	if item.Ask {
		e.SetAttribute("ask", "subscribe")
	}
	for _, g := range item.Groups {
		ge := xmpp.NewElementName("group")
		ge.SetText(g)
		e.AppendElement(ge)
	}
	return e
}

var pushSeq uint64

func pushID() string {
	pushSeq++
	return "roster-push-" + itoa64(pushSeq)
}

func itoa(v int) string { return itoa64(uint64(v)) }

func itoa64(v uint64) string {
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
