package xmpp

import (
	"strconv"

	"github.com/waddle-social/waddle/jid"
)

// PresenceType is the RFC 6121 §4.2/§4.7 "type" attribute of a <presence/>.
// The empty string denotes "available".
type PresenceType string

const (
	AvailableType      PresenceType = ""
	UnavailableType    PresenceType = "unavailable"
	SubscribeType      PresenceType = "subscribe"
	SubscribedType     PresenceType = "subscribed"
	UnsubscribeType    PresenceType = "unsubscribe"
	UnsubscribedType   PresenceType = "unsubscribed"
	ProbeType          PresenceType = "probe"
	PresenceErrorType  PresenceType = "error"
)

// ShowState is the optional <show/> child of an available presence.
type ShowState string

const (
	AvailableShowState ShowState = ""
	AwayShowState      ShowState = "away"
	ChatShowState      ShowState = "chat"
	DoNotDisturbShowState ShowState = "dnd"
	ExtendedAwayShowState ShowState = "xa"
)

// Presence is the XMPP presence stanza.
type Presence struct {
	stanzaBase
	presenceType PresenceType
	showState    ShowState
	status       string
	priority     int8
}

// NewPresence builds a minimal presence addressed from/to, of the given type.
func NewPresence(fromJID, toJID *jid.JID, presenceType PresenceType) *Presence {
	e := NewElementName("presence")
	if presenceType != AvailableType {
		e.SetAttribute("type", string(presenceType))
	}
	setFromTo(e, fromJID, toJID)
	return &Presence{
		stanzaBase:   stanzaBase{Element: e, from: fromJID, to: toJID},
		presenceType: presenceType,
	}
}

// NewPresenceFromElement validates elem as a <presence/> and wraps it.
func NewPresenceFromElement(elem XElement, fromJID, toJID *jid.JID) (*Presence, error) {
	if elem.Name() != "presence" {
		return nil, ErrBadRequest
	}
	typ := PresenceType(elem.Attributes().Get("type"))
	from, to, err := resolveFromTo(elem, fromJID, toJID)
	if err != nil {
		return nil, ErrJidMalformed
	}
	e := NewElementFromElement(elem)
	setFromTo(e, from, to)
	p := &Presence{
		stanzaBase:   stanzaBase{Element: e, from: from, to: to},
		presenceType: typ,
		priority:     0,
	}
	if show := e.Elements().Child("show"); show != nil {
		p.showState = ShowState(show.Text())
	}
	if status := e.Elements().Child("status"); status != nil {
		p.status = status.Text()
	}
	if prio := e.Elements().Child("priority"); prio != nil {
		if v, err := strconv.ParseInt(prio.Text(), 10, 8); err == nil {
			p.priority = int8(v)
		}
	}
	return p, nil
}

func (p *Presence) Type() PresenceType { return p.presenceType }
func (p *Presence) ShowState() ShowState { return p.showState }
func (p *Presence) Status() string     { return p.status }
func (p *Presence) Priority() int8     { return p.priority }

func (p *Presence) IsAvailable() bool   { return p.presenceType == AvailableType }
func (p *Presence) IsUnavailable() bool { return p.presenceType == UnavailableType }
func (p *Presence) IsSubscribe() bool   { return p.presenceType == SubscribeType }
func (p *Presence) IsSubscribed() bool  { return p.presenceType == SubscribedType }
func (p *Presence) IsUnsubscribe() bool { return p.presenceType == UnsubscribeType }
func (p *Presence) IsUnsubscribed() bool { return p.presenceType == UnsubscribedType }
func (p *Presence) IsProbe() bool       { return p.presenceType == ProbeType }

func (p *Presence) ServiceUnavailableError() *Element {
	return NewErrorElementFromElement(p, ErrServiceUnavailable, nil)
}
