package xmpp

import "github.com/waddle-social/waddle/jid"

// IQType is the RFC 6120 §8.2.3 "type" attribute of an <iq/> stanza.
type IQType string

const (
	GetType    IQType = "get"
	SetType    IQType = "set"
	ResultType IQType = "result"
	ErrorType  IQType = "error"
)

// IQ is the XMPP info/query stanza.
type IQ struct {
	stanzaBase
	iqType IQType
}

// NewIQType builds a minimal IQ with the given id and type; the caller adds
// from/to attributes (SetAttribute) and payload afterwards as needed.
func NewIQType(id string, iqType IQType) *IQ {
	e := NewElementName("iq")
	e.SetAttribute("id", id)
	e.SetAttribute("type", string(iqType))
	return &IQ{stanzaBase: stanzaBase{Element: e}, iqType: iqType}
}

// NewIQFromElement validates elem as an <iq/> and wraps it, defaulting the
// from/to addresses to the session's bound JID and target when absent.
func NewIQFromElement(elem XElement, fromJID, toJID *jid.JID) (*IQ, error) {
	if elem.Name() != "iq" {
		return nil, ErrBadRequest
	}
	id := elem.Attributes().Get("id")
	if id == "" {
		return nil, ErrBadRequest
	}
	typ := IQType(elem.Attributes().Get("type"))
	switch typ {
	case GetType, SetType, ResultType, ErrorType:
	default:
		return nil, ErrBadRequest
	}
	if typ == GetType || typ == SetType {
		if len(elem.Elements().All()) != 1 {
			return nil, ErrBadRequest
		}
	}
	from, to, err := resolveFromTo(elem, fromJID, toJID)
	if err != nil {
		return nil, ErrJidMalformed
	}
	e := NewElementFromElement(elem)
	setFromTo(e, from, to)
	return &IQ{stanzaBase: stanzaBase{Element: e, from: from, to: to}, iqType: typ}, nil
}

func (iq *IQ) Type() IQType  { return iq.iqType }
func (iq *IQ) IsGet() bool   { return iq.iqType == GetType }
func (iq *IQ) IsSet() bool   { return iq.iqType == SetType }
func (iq *IQ) IsResult() bool { return iq.iqType == ResultType }
func (iq *IQ) IsError() bool { return iq.iqType == ErrorType }

// ResultIQ builds the canonical empty-result reply to this IQ.
func (iq *IQ) ResultIQ() *Element {
	r := NewElementName("iq")
	r.SetAttribute("id", iq.ID())
	r.SetAttribute("type", string(ResultType))
	if iq.from != nil {
		r.SetAttribute("to", iq.from.String())
	}
	if iq.to != nil {
		r.SetAttribute("from", iq.to.String())
	}
	return r
}

func (iq *IQ) errorReply(se *StanzaError) *Element {
	e := NewErrorElementFromElement(iq, se, nil)
	if iq.from != nil {
		e.SetAttribute("to", iq.from.String())
	}
	if iq.to != nil {
		e.SetAttribute("from", iq.to.String())
	}
	return e
}

func (iq *IQ) BadRequestError() *Element         { return iq.errorReply(ErrBadRequest) }
func (iq *IQ) NotAllowedError() *Element         { return iq.errorReply(ErrNotAllowed) }
func (iq *IQ) ConflictError() *Element           { return iq.errorReply(ErrConflict) }
func (iq *IQ) ServiceUnavailableError() *Element { return iq.errorReply(ErrServiceUnavailable) }
func (iq *IQ) ItemNotFoundError() *Element       { return iq.errorReply(ErrItemNotFound) }
func (iq *IQ) ForbiddenError() *Element          { return iq.errorReply(ErrForbidden) }
func (iq *IQ) InternalServerError() *Element     { return iq.errorReply(ErrInternalServerError) }
func (iq *IQ) NotAcceptableError() *Element      { return iq.errorReply(ErrNotAcceptable) }
