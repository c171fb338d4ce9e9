package xmpp

import "github.com/waddle-social/waddle/jid"

// Stanza is an XMPP first-level stanza (iq/presence/message), each of which
// carries a mandatory addressed from/to pair once validated by the session
// layer (see the stanza handlers in c2s/stanza.go).
type Stanza interface {
	XElement
	ToJID() *jid.JID
	FromJID() *jid.JID
}

type stanzaBase struct {
	*Element
	to   *jid.JID
	from *jid.JID
}

func (s *stanzaBase) ToJID() *jid.JID   { return s.to }
func (s *stanzaBase) FromJID() *jid.JID { return s.from }

func setFromTo(e *Element, fromJID, toJID *jid.JID) {
	if fromJID != nil {
		e.SetAttribute("from", fromJID.String())
	}
	if toJID != nil {
		e.SetAttribute("to", toJID.String())
	}
}

func resolveFromTo(elem XElement, defaultFrom, defaultTo *jid.JID) (*jid.JID, *jid.JID, error) {
	fromJID := defaultFrom
	if v := elem.Attributes().Get("from"); v != "" {
		j, err := jid.NewString(v, false)
		if err != nil {
			return nil, nil, err
		}
		fromJID = j
	}
	toJID := defaultTo
	if v := elem.Attributes().Get("to"); v != "" {
		j, err := jid.NewString(v, false)
		if err != nil {
			return nil, nil, err
		}
		toJID = j
	}
	return fromJID, toJID, nil
}
