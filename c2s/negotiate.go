package c2s

import (
	"crypto/tls"
	"strconv"
	"strings"

	pbuuid "github.com/pborman/uuid"

	"github.com/waddle-social/waddle/auth"
	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/roster"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/sm"
	"github.com/waddle-social/waddle/streamerror"
	"github.com/waddle-social/waddle/xmpp"
)

// handleElement is the top-level dispatch for every element the parser
// hands back, routed by the stream's current negotiation phase.
func (s *Stream) handleElement(elem xmpp.XElement) {
	if elem.Name() == "stream:stream" {
		s.handleStreamOpen(elem)
		return
	}
	switch s.getState() {
	case stStreamOpen:
		// a bare element before the opening <stream:stream> is a protocol
		// violation; nothing legitimate reaches here.
		s.Disconnect(streamerror.ErrInvalidXML)
	case stNegotiating:
		s.handleNegotiating(elem)
	case stAuthenticating:
		s.continueAuthentication(elem)
	case stPostAuthStreamOpen:
		s.Disconnect(streamerror.ErrNotAuthorized)
	case stPostAuthNegotiating:
		s.handlePostAuthNegotiating(elem)
	case stBound:
		s.handleStanza(elem)
	}
}

// handleStreamOpen validates the initial (or restarted) <stream:stream>
// and replies with the stream header plus the features appropriate to the
// current phase of negotiation.
func (s *Stream) handleStreamOpen(elem xmpp.XElement) {
	to := elem.Attributes().Get("to")
	if to != "" && to != s.cfg.LocalDomain {
		s.Disconnect(streamerror.ErrHostUnknown)
		return
	}
	if v := elem.Attributes().Get("version"); v != "1.0" && v != "" {
		s.Disconnect(streamerror.ErrUnsupportedVersion)
		return
	}

	open := xmpp.NewElementName("stream:stream")
	open.SetNamespace(nsClient)
	open.SetAttribute("xmlns:stream", nsStreams)
	open.SetAttribute("id", s.id)
	open.SetAttribute("from", s.cfg.LocalDomain)
	open.SetAttribute("version", "1.0")
	if _, err := s.conn.Write([]byte(open.ToXML(false))); err != nil {
		log.Debugf("c2s: write error (stream %s): %v", s.id, err)
	}

	switch s.getState() {
	case stStreamOpen:
		s.setState(stNegotiating)
		s.writeElement(s.unauthenticatedFeatures())
	case stPostAuthStreamOpen:
		s.setState(stPostAuthNegotiating)
		s.writeElement(s.authenticatedFeatures())
	}
}

func (s *Stream) tlsEstablished() bool {
	_, ok := s.conn.(*tls.Conn)
	return ok
}

// unauthenticatedFeatures advertises STARTTLS (until established, unless
// the deployment allows plaintext loopback testing) and SASL mechanisms
// once TLS is in place. No ISR feature is advertised here.
func (s *Stream) unauthenticatedFeatures() *xmpp.Element {
	features := xmpp.NewElementName("stream:features")
	if !s.tlsEstablished() && !s.cfg.InsecureLoopback {
		startTLS := xmpp.NewElementNamespace("starttls", nsStartTLS)
		startTLS.AppendElement(xmpp.NewElementName("required"))
		features.AppendElement(startTLS)
		return features
	}
	mechs := xmpp.NewElementNamespace("mechanisms", nsSASL)
	for _, a := range s.authrs {
		m := xmpp.NewElementName("mechanism")
		m.SetText(a.Mechanism())
		mechs.AppendElement(m)
	}
	features.AppendElement(mechs)
	return features
}

// authenticatedFeatures advertises resource binding, the legacy session
// establishment some clients still probe for, and Stream Management once
// SASL has succeeded.
func (s *Stream) authenticatedFeatures() *xmpp.Element {
	features := xmpp.NewElementName("stream:features")
	features.AppendElement(xmpp.NewElementNamespace("bind", nsBind))
	features.AppendElement(xmpp.NewElementNamespace("session", nsSession))
	if s.moduleEnabled("sm") {
		features.AppendElement(xmpp.NewElementNamespace("sm", nsSM))
	}
	return features
}

func (s *Stream) moduleEnabled(name string) bool {
	_, ok := s.cfg.Modules.Enabled[name]
	return ok
}

// handleNegotiating accepts STARTTLS, the opening <auth/> of a SASL
// exchange, or a pre-authentication jabber:iq:register request (XEP-0077
// §4 admits registration before any credentials exist).
func (s *Stream) handleNegotiating(elem xmpp.XElement) {
	switch {
	case elem.Name() == "starttls" && elem.Namespace() == nsStartTLS:
		s.proceedStartTLS()
	case elem.Name() == "auth" && elem.Namespace() == nsSASL:
		s.startAuthentication(elem)
	case elem.Name() == "iq":
		s.handlePreAuthIQ(elem)
	default:
		s.Disconnect(streamerror.ErrNotAuthorized)
	}
}

// handlePreAuthIQ admits only jabber:iq:register before authentication;
// everything else on an unauthenticated stream is out of order.
func (s *Stream) handlePreAuthIQ(elem xmpp.XElement) {
	iq, err := xmpp.NewIQFromElement(elem, nil, nil)
	if err != nil {
		s.Disconnect(streamerror.ErrInvalidXML)
		return
	}
	if iq.Elements().ChildNamespace("query", nsRegister) != nil {
		s.handleRegisterIQ(iq)
		return
	}
	s.writeElement(iq.ServiceUnavailableError())
}

func (s *Stream) proceedStartTLS() {
	if s.tlsCfg == nil {
		s.writeElement(xmpp.NewElementNamespace("failure", nsStartTLS))
		s.Disconnect(streamerror.ErrPolicyViolation)
		return
	}
	s.writeElement(xmpp.NewElementNamespace("proceed", nsStartTLS))
	tlsConn := tls.Server(s.conn, s.tlsCfg)
	if err := tlsConn.Handshake(); err != nil {
		log.Warnf("c2s: TLS handshake failed (stream %s): %v", s.id, err)
		s.teardown(err)
		return
	}
	s.conn = tlsConn
	s.parser = xmpp.NewParser(tlsConn, s.cfg.MaxStanzaSize)
	s.setState(stStreamOpen)
}

// startAuthentication picks the requested mechanism and feeds it the
// initial response, if any (RFC 6120 §6.4.2).
func (s *Stream) startAuthentication(elem xmpp.XElement) {
	mechanism := elem.Attributes().Get("mechanism")
	var chosen auth.Authenticator
	for _, a := range s.authrs {
		if a.Mechanism() == mechanism {
			chosen = a
			break
		}
	}
	if chosen == nil {
		s.failAuthentication(auth.ErrSASLInvalidMechanism)
		return
	}
	chosen.Reset()
	s.activeAuthr = chosen
	s.setState(stAuthenticating)
	s.continueAuthentication(elem)
}

func (s *Stream) continueAuthentication(elem xmpp.XElement) {
	if elem.Name() == "abort" {
		s.failAuthentication(auth.ErrSASLNotAuthorized)
		return
	}
	if err := s.activeAuthr.ProcessElement(elem); err != nil {
		s.failAuthentication(err)
		return
	}
	if s.activeAuthr.Authenticated() {
		s.finishAuthentication()
		return
	}
	if scram, ok := s.activeAuthr.(*auth.ScramSHA256); ok {
		challenge := xmpp.NewElementNamespace("challenge", nsSASL)
		challenge.SetText(scram.Challenge())
		s.writeElement(challenge)
		return
	}
	// single round-trip mechanisms with no intermediate step that still
	// haven't succeeded must have failed.
	s.failAuthentication(auth.ErrSASLNotAuthorized)
}

func (s *Stream) failAuthentication(err error) {
	sasl, ok := err.(*auth.SASLError)
	if !ok {
		sasl = auth.ErrSASLTemporaryAuthFailure
	}
	failure := xmpp.NewElementNamespace("failure", nsSASL)
	failure.AppendElement(sasl.Element())
	s.writeElement(failure)
	s.setState(stNegotiating)
	s.activeAuthr = nil
}

func (s *Stream) finishAuthentication() {
	s.username = s.activeAuthr.Username()

	success := xmpp.NewElementNamespace("success", nsSASL)
	if scram, ok := s.activeAuthr.(*auth.ScramSHA256); ok {
		success.SetText(scram.ServerFinalMessage())
	}
	if s.moduleEnabled("isr") && s.cfg.Modules.ISR.InSASLSuccess {
		if tok, err := s.isrStore.Issue(s.username, "", s.cfg.Modules.ISR.DefaultValidity, nil); err == nil {
			tokenEl := xmpp.NewElementNamespace("token", nsISR)
			tokenEl.SetAttribute("value", tok.Token)
			success.AppendElement(tokenEl)
		}
	}
	s.writeElement(success)
	s.activeAuthr = nil
	s.setState(stPostAuthStreamOpen)
}

// handlePostAuthNegotiating accepts the post-SASL bind IQ, the legacy
// session-establishment IQ, Stream Management's <enable/>/<resume/>, or an
// ISR <resume/> presented in lieu of bind.
func (s *Stream) handlePostAuthNegotiating(elem xmpp.XElement) {
	switch {
	case elem.Name() == "iq":
		s.handleBindOrSession(elem)
	case elem.Name() == "enable" && elem.Namespace() == nsSM:
		s.handleSMEnable()
	case elem.Name() == "resume" && elem.Namespace() == nsSM:
		s.handleSMResume(elem)
	case elem.Name() == "resume" && elem.Namespace() == nsISR:
		s.handleISRResume(elem)
	default:
		s.Disconnect(streamerror.ErrNotAuthorized)
	}
}

func (s *Stream) handleBindOrSession(elem xmpp.XElement) {
	iq, err := xmpp.NewIQFromElement(elem, nil, nil)
	if err != nil {
		s.Disconnect(streamerror.ErrInvalidXML)
		return
	}
	switch {
	case iq.Elements().ChildNamespace("bind", nsBind) != nil:
		s.handleBind(iq)
	case iq.Elements().ChildNamespace("session", nsSession) != nil:
		s.writeElement(iq.ResultIQ())
	default:
		s.writeElement(iq.BadRequestError())
	}
}

func (s *Stream) handleBind(iq *xmpp.IQ) {
	resource := ""
	if bindEl := iq.Elements().ChildNamespace("bind", nsBind); bindEl != nil {
		if r := bindEl.Elements().Child("resource"); r != nil {
			resource = r.Text()
		}
	}
	if resource == "" {
		resource = pbuuid.New()
	}

	full, err := jid.New(s.username, s.cfg.LocalDomain, resource, false)
	if err != nil {
		s.writeElement(iq.BadRequestError())
		return
	}

	if existing := router.Instance().StreamsMatchingJID(full); len(existing) > 0 {
		switch s.cfg.ResourceConflict {
		case config.Replace:
			for _, stm := range existing {
				stm.Disconnect(streamerror.ErrConflict)
			}
		case config.Override:
			full, _ = jid.New(s.username, s.cfg.LocalDomain, resource+"-"+pbuuid.New()[:8], false)
		default:
			s.writeElement(iq.ConflictError())
			return
		}
	}

	s.mu.Lock()
	s.boundJID = full
	s.mu.Unlock()
	s.resource = full.Resource()

	if err := router.Instance().RegisterStream(s); err != nil {
		s.writeElement(iq.InternalServerError())
		return
	}
	if err := router.Instance().AuthenticateStream(s); err != nil {
		s.writeElement(iq.InternalServerError())
		return
	}

	result := iq.ResultIQ()
	bindResult := xmpp.NewElementNamespace("bind", nsBind)
	jidEl := xmpp.NewElementName("jid")
	jidEl.SetText(full.String())
	bindResult.AppendElement(jidEl)
	result.AppendElement(bindResult)
	s.writeElement(result)

	s.setState(stBound)
	s.replayRosterNotifications()
}

// replayRosterNotifications resends every subscription request that
// arrived while username was offline, verbatim as stored (RFC 6121 §3.1.3
// requires redelivery on next login).
func (s *Stream) replayRosterNotifications() {
	pending, err := roster.PendingNotifications(s.username)
	if err != nil {
		log.Error(err)
		return
	}
	for _, n := range pending {
		p := xmpp.NewParser(strings.NewReader(n.Presence), s.cfg.MaxStanzaSize)
		elem, perr := p.ParseElement()
		if perr != nil {
			continue
		}
		from, ferr := jid.NewString(n.JID, true)
		if ferr != nil {
			continue
		}
		pres, perr2 := xmpp.NewPresenceFromElement(elem, from, s.JID())
		if perr2 != nil {
			continue
		}
		s.writeElement(pres)
	}
}

func (s *Stream) handleSMEnable() {
	if !s.moduleEnabled("sm") {
		s.writeElement(sm.FailedElement("feature-not-implemented"))
		return
	}
	s.smState = sm.NewState(s.cfg.Modules.SM.MaxUnackedQueue)
	s.smState.Enable()
	s.smEnabled = true
	s.writeElement(sm.EnabledElement(s.id, true, s.cfg.Modules.SM.ResumeTTL))
}

func (s *Stream) handleSMResume(elem xmpp.XElement) {
	previd := elem.Attributes().Get("previd")
	suspended, err := s.smRegistry.Resume(previd)
	if err != nil {
		s.writeElement(sm.FailedElement("item-not-found"))
		return
	}
	s.username = suspended.Username
	s.resource = suspended.Resource
	full, ferr := jid.New(s.username, s.cfg.LocalDomain, s.resource, true)
	if ferr != nil {
		s.writeElement(sm.FailedElement("item-not-found"))
		return
	}
	s.mu.Lock()
	s.boundJID = full
	s.mu.Unlock()

	s.smState = suspended.State
	s.smEnabled = true
	s.id = previd

	if err := router.Instance().RegisterStream(s); err != nil {
		s.writeElement(sm.FailedElement("internal-server-error"))
		return
	}
	if err := router.Instance().AuthenticateStream(s); err != nil {
		s.writeElement(sm.FailedElement("internal-server-error"))
		return
	}

	var ackH uint32
	if hv := elem.Attributes().Get("h"); hv != "" {
		if n, perr := strconv.ParseUint(hv, 10, 32); perr == nil {
			ackH = uint32(n)
		}
	}
	s.smState.Ack(ackH)
	replay := s.smState.Unacked(ackH)

	s.setState(stBound)
	s.writeElement(sm.ResumedElement(previd, s.smState.InboundCount()))
	for _, e := range replay {
		s.writeTracked(e)
	}
}

// handleISRResume admits a returning client from a resumption token in
// place of resource binding. It is reached only after SASL has succeeded
// (see handlePostAuthNegotiating); SASL itself is not bypassed.
func (s *Stream) handleISRResume(elem xmpp.XElement) {
	token := elem.Attributes().Get("token")
	t, err := s.isrStore.Consume(token)
	if err != nil {
		s.writeElement(xmpp.NewElementNamespace("failed", nsISR))
		s.Disconnect(streamerror.ErrNotAuthorized)
		return
	}
	s.username = t.Username
	s.resource = t.Resource
	full, ferr := jid.New(s.username, s.cfg.LocalDomain, s.resource, true)
	if ferr != nil {
		s.writeElement(xmpp.NewElementNamespace("failed", nsISR))
		s.Disconnect(streamerror.ErrNotAuthorized)
		return
	}
	s.mu.Lock()
	s.boundJID = full
	s.mu.Unlock()

	s.smState = sm.NewState(s.cfg.Modules.SM.MaxUnackedQueue)
	s.smEnabled = true
	var replay []xmpp.XElement
	if suspended, rerr := s.smRegistry.Resume(t.LastStreamID); rerr == nil {
		s.smState = suspended.State
		var ackH uint32
		if hv := elem.Attributes().Get("h"); hv != "" {
			if n, perr := strconv.ParseUint(hv, 10, 32); perr == nil {
				ackH = uint32(n)
			}
		}
		s.smState.Ack(ackH)
		replay = s.smState.Unacked(ackH)
	}

	if err := router.Instance().RegisterStream(s); err != nil {
		s.writeElement(xmpp.NewElementNamespace("failed", nsISR))
		s.Disconnect(streamerror.ErrInternalServerError)
		return
	}
	if err := router.Instance().AuthenticateStream(s); err != nil {
		s.writeElement(xmpp.NewElementNamespace("failed", nsISR))
		s.Disconnect(streamerror.ErrInternalServerError)
		return
	}

	s.setState(stBound)
	resumed := xmpp.NewElementNamespace("resumed", nsISR)
	resumed.SetAttribute("h", uitoa(s.smState.InboundCount()))
	s.writeElement(resumed)
	for _, e := range replay {
		s.writeTracked(e)
	}
	s.replayRosterNotifications()
}
