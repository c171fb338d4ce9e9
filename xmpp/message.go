package xmpp

import "github.com/waddle-social/waddle/jid"

// MessageType is the RFC 6121 §5.2.2 "type" attribute of a <message/>.
type MessageType string

const (
	NormalType    MessageType = "normal"
	ChatType      MessageType = "chat"
	GroupChatType MessageType = "groupchat"
	HeadlineType  MessageType = "headline"
	MessageErrorType MessageType = "error"
)

// Message is the XMPP message stanza.
type Message struct {
	stanzaBase
	messageType MessageType
}

// NewMessageFromElement validates elem as a <message/> and wraps it,
// defaulting an absent/unrecognized type attribute to NormalType per
// RFC 6121 §5.2.2.
func NewMessageFromElement(elem XElement, fromJID, toJID *jid.JID) (*Message, error) {
	if elem.Name() != "message" {
		return nil, ErrBadRequest
	}
	typ := MessageType(elem.Attributes().Get("type"))
	switch typ {
	case "", NormalType, ChatType, GroupChatType, HeadlineType, MessageErrorType:
	default:
		return nil, ErrBadRequest
	}
	if typ == "" {
		typ = NormalType
	}
	from, to, err := resolveFromTo(elem, fromJID, toJID)
	if err != nil {
		return nil, ErrJidMalformed
	}
	e := NewElementFromElement(elem)
	setFromTo(e, from, to)
	return &Message{stanzaBase: stanzaBase{Element: e, from: from, to: to}, messageType: typ}, nil
}

func (m *Message) Type() MessageType { return m.messageType }
func (m *Message) IsNormal() bool    { return m.messageType == NormalType }
func (m *Message) IsChat() bool      { return m.messageType == ChatType }
func (m *Message) IsGroupChat() bool { return m.messageType == GroupChatType }
func (m *Message) IsHeadline() bool  { return m.messageType == HeadlineType }

// Body returns the first <body/> child's text, or "".
func (m *Message) Body() string {
	if b := m.Elements().Child("body"); b != nil {
		return b.Text()
	}
	return ""
}

// IsMessageWithBody reports whether the message carries non-empty body text.
func (m *Message) IsMessageWithBody() bool { return m.Body() != "" }

func (m *Message) ServiceUnavailableError() *Element {
	return NewErrorElementFromElement(m, ErrServiceUnavailable, nil)
}
