package xmpp

import "fmt"

// StanzaErrorType is the RFC 6120 §8.3.2 error type attribute.
type StanzaErrorType string

const (
	AuthErrorType   StanzaErrorType = "auth"
	CancelErrorType StanzaErrorType = "cancel"
	ContinueErrorType StanzaErrorType = "continue"
	ModifyErrorType StanzaErrorType = "modify"
	WaitErrorType   StanzaErrorType = "wait"
)

// StanzaError is a per-stanza error condition, replied to the sender inside
// an <iq/message/presence type="error"> wrapping the offending stanza.
type StanzaError struct {
	Reason string
	Type   StanzaErrorType
	Code   int
}

func (e *StanzaError) Error() string {
	return fmt.Sprintf("stanza error: %s", e.Reason)
}

// The RFC 6120 §8.3.3 defined conditions used across the session and
// routing layers.
var (
	ErrBadRequest            = &StanzaError{Reason: "bad-request", Type: ModifyErrorType, Code: 400}
	ErrConflict              = &StanzaError{Reason: "conflict", Type: CancelErrorType, Code: 409}
	ErrFeatureNotImplemented = &StanzaError{Reason: "feature-not-implemented", Type: CancelErrorType, Code: 501}
	ErrForbidden             = &StanzaError{Reason: "forbidden", Type: AuthErrorType, Code: 403}
	ErrGone                  = &StanzaError{Reason: "gone", Type: CancelErrorType, Code: 302}
	ErrInternalServerError   = &StanzaError{Reason: "internal-server-error", Type: WaitErrorType, Code: 500}
	ErrItemNotFound          = &StanzaError{Reason: "item-not-found", Type: CancelErrorType, Code: 404}
	ErrJidMalformed          = &StanzaError{Reason: "jid-malformed", Type: ModifyErrorType, Code: 400}
	ErrNotAcceptable         = &StanzaError{Reason: "not-acceptable", Type: ModifyErrorType, Code: 406}
	ErrNotAllowed            = &StanzaError{Reason: "not-allowed", Type: CancelErrorType, Code: 405}
	ErrNotAuthorized         = &StanzaError{Reason: "not-authorized", Type: AuthErrorType, Code: 401}
	ErrPaymentRequired       = &StanzaError{Reason: "payment-required", Type: AuthErrorType, Code: 402}
	ErrRecipientUnavailable  = &StanzaError{Reason: "recipient-unavailable", Type: WaitErrorType, Code: 404}
	ErrRedirect              = &StanzaError{Reason: "redirect", Type: ModifyErrorType, Code: 302}
	ErrRegistrationRequired  = &StanzaError{Reason: "registration-required", Type: AuthErrorType, Code: 407}
	ErrRemoteServerNotFound  = &StanzaError{Reason: "remote-server-not-found", Type: CancelErrorType, Code: 404}
	ErrRemoteServerTimeout   = &StanzaError{Reason: "remote-server-timeout", Type: WaitErrorType, Code: 504}
	ErrResourceConstraint    = &StanzaError{Reason: "resource-constraint", Type: WaitErrorType, Code: 500}
	ErrServiceUnavailable    = &StanzaError{Reason: "service-unavailable", Type: CancelErrorType, Code: 503}
	ErrSubscriptionRequired  = &StanzaError{Reason: "subscription-required", Type: AuthErrorType, Code: 407}
	ErrUndefinedCondition    = &StanzaError{Reason: "undefined-condition", Type: WaitErrorType, Code: 500}
	ErrUnexpectedRequest     = &StanzaError{Reason: "unexpected-request", Type: WaitErrorType, Code: 400}
)

// NewErrorElementFromElement wraps the offending stanza in a type="error"
// copy, appending the condition element (and any application-specific
// children, e.g. XEP-0191's <blocked/>) inside the <error/> element.
func NewErrorElementFromElement(from XElement, se *StanzaError, appSpecific []XElement) *Element {
	e := NewElementFromElement(from)
	e.SetAttribute("type", "error")
	// swap from/to for the reply direction
	fromAttr := e.Attributes().Get("from")
	toAttr := e.Attributes().Get("to")
	e.SetAttribute("from", toAttr)
	e.SetAttribute("to", fromAttr)

	errEl := NewElementName("error")
	errEl.SetAttribute("type", string(se.Type))
	cond := NewElementNamespace(se.Reason, "urn:ietf:params:xml:ns:xmpp-stanzas")
	errEl.AppendElement(cond)
	for _, a := range appSpecific {
		errEl.AppendElement(a)
	}
	e.AppendElement(errEl)
	return e
}
