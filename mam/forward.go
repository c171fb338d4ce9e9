package mam

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

const (
	nsMAM     = "urn:xmpp:mam:2"
	nsForward = "urn:xmpp:forward:0"
	nsDelay   = "urn:xmpp:delay"
)

// BuildForwardedMessage wraps an archived row in the XEP-0313 §4.2
// <message><result><forwarded><delay/>original-stanza</forwarded></result>
// envelope a MAM query result sends to the requester, queryID echoing the
// client's <query id='...'/> when present.
func BuildForwardedMessage(to *jid.JID, msg model.ArchivedMessage, queryID string) (*xmpp.Message, error) {
	stanza, err := parseStoredStanza(msg.XML)
	if err != nil {
		return nil, errors.Wrap(err, "mam: parse archived stanza")
	}

	result := xmpp.NewElementNamespace("result", nsMAM)
	result.SetAttribute("id", msg.StanzaID)
	if queryID != "" {
		result.SetAttribute("queryid", queryID)
	}

	forwarded := xmpp.NewElementNamespace("forwarded", nsForward)
	delay := xmpp.NewElementNamespace("delay", nsDelay)
	delay.SetAttribute("stamp", msg.StoredAt.UTC().Format("2006-01-02T15:04:05Z"))
	forwarded.AppendElement(delay)
	forwarded.AppendElement(stanza)
	result.AppendElement(forwarded)

	wrapper := xmpp.NewElementName("message")
	wrapper.AppendElement(result)

	return xmpp.NewMessageFromElement(wrapper, nil, to)
}

func parseStoredStanza(raw string) (xmpp.XElement, error) {
	p := xmpp.NewParser(strings.NewReader(raw), 0)
	return p.ParseElement()
}

// BuildFin builds the XEP-0313 §4.2/XEP-0059 <fin/> the query response
// concludes with, reflecting whether more results remain.
func BuildFin(res *Result) *xmpp.Element {
	fin := xmpp.NewElementNamespace("fin", nsMAM)
	if res.Complete {
		fin.SetAttribute("complete", "true")
	}
	set := xmpp.NewElementNamespace("set", "http://jabber.org/protocol/rsm")
	if res.FirstID != "" {
		first := xmpp.NewElementName("first")
		first.SetText(res.FirstID)
		set.AppendElement(first)
	}
	if res.LastID != "" {
		last := xmpp.NewElementName("last")
		last.SetText(res.LastID)
		set.AppendElement(last)
	}
	fin.AppendElement(set)
	return fin
}
