// Package c2s drives one client-to-server connection through RFC 6120
// stream negotiation, SASL, resource binding, Stream Management and
// Instant Stream Resumption, then into steady-state stanza routing.
// One per-connection actor goroutine drains a buffered chan func() so
// every read-triggered handler and every externally queued SendElement
// serialize through one goroutine without a write mutex.
package c2s

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/waddle-social/waddle/auth"
	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/isr"
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/presence"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/sm"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/streamerror"
	"github.com/waddle-social/waddle/xmpp"
)

// streamState is the stream's position in the RFC 6120 §4/§6/§7
// negotiation sequence.
type streamState uint32

const (
	stStreamOpen streamState = iota
	stNegotiating
	stAuthenticating
	stPostAuthStreamOpen
	stPostAuthNegotiating
	stBound
	stDisconnected
)

const (
	nsStreams   = "http://etherx.jabber.org/streams"
	nsClient    = "jabber:client"
	nsStartTLS  = "urn:ietf:params:xml:ns:xmpp-tls"
	nsSASL      = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind      = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession   = "urn:ietf:params:xml:ns:xmpp-session"
	nsSM        = "urn:xmpp:sm:3"
	nsISR       = "urn:xmpp:isr:0"
)

// Stream is one client connection's session state, registered with
// package router as a router.C2SStream once a resource is bound.
type Stream struct {
	id      string
	cfg     *config.Config
	tlsCfg  *tls.Config
	credStore auth.CredentialStore
	smRegistry *sm.Registry
	isrStore   *isr.Store

	conn   net.Conn
	parser *xmpp.Parser

	state     uint32 // streamState, accessed atomically
	connectTm time.Time

	authrs      []auth.Authenticator
	activeAuthr auth.Authenticator

	username string
	resource string

	mu       sync.RWMutex
	boundJID *jid.JID
	pres     *xmpp.Presence

	smState   *sm.State
	smEnabled bool

	actorCh chan func()
	stopCh  chan struct{}
	stopped uint32
}

// New constructs a stream over an already-accepted connection. cfg, tlsCfg,
// credStore, smRegistry and isrStore are shared across every stream the
// listener accepts.
func New(conn net.Conn, cfg *config.Config, tlsCfg *tls.Config, credStore auth.CredentialStore, smRegistry *sm.Registry, isrStore *isr.Store) *Stream {
	s := &Stream{
		id:         uuid.NewString(),
		cfg:        cfg,
		tlsCfg:     tlsCfg,
		credStore:  credStore,
		smRegistry: smRegistry,
		isrStore:   isrStore,
		conn:       conn,
		connectTm:  time.Now(),
		actorCh:    make(chan func(), 64),
		stopCh:     make(chan struct{}),
	}
	s.authrs = []auth.Authenticator{
		auth.NewScramSHA256(credStore),
		auth.NewPlain(credStore),
		auth.NewBridgeToken(credStore),
	}
	s.setState(stStreamOpen)
	return s
}

// Serve reads elements off the connection until it closes, routing each
// through the actor goroutine so handlers, writes, and externally queued
// SendElement calls never race.
func (s *Stream) Serve() {
	go s.runActor()

	s.parser = xmpp.NewParser(s.conn, s.cfg.MaxStanzaSize)
	for {
		elem, err := s.parser.ParseElement()
		if err != nil {
			s.teardown(err)
			return
		}
		done := make(chan struct{})
		e := elem
		select {
		case s.actorCh <- func() { s.handleElement(e); close(done) }:
		case <-s.stopCh:
			return
		}
		<-done
		if s.getState() == stDisconnected {
			return
		}
	}
}

func (s *Stream) runActor() {
	for {
		select {
		case fn := <-s.actorCh:
			fn()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Stream) setState(st streamState) { atomic.StoreUint32(&s.state, uint32(st)) }
func (s *Stream) getState() streamState   { return streamState(atomic.LoadUint32(&s.state)) }

// ID returns the stream's unique identifier, stable across SM resumption.
func (s *Stream) ID() string { return s.id }

// Username returns the authenticated node part, "" before authentication.
func (s *Stream) Username() string { return s.username }

// Domain returns the bound JID's domain, or the server's own local domain
// before a resource is bound.
func (s *Stream) Domain() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundJID != nil {
		return s.boundJID.Domain()
	}
	return s.cfg.LocalDomain
}

// Resource returns the bound resource part, "" before binding.
func (s *Stream) Resource() string { return s.resource }

// JID returns the stream's bound full JID, nil before binding.
func (s *Stream) JID() *jid.JID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boundJID
}

// Presence returns the last available/unavailable presence this stream
// broadcast, nil before the first one.
func (s *Stream) Presence() *xmpp.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pres
}

func (s *Stream) setPresence(p *xmpp.Presence) {
	s.mu.Lock()
	s.pres = p
	s.mu.Unlock()
}

// SendElement queues e for delivery on this stream's actor goroutine.
// Safe to call from any goroutine, including package router's delivery
// path for other streams.
func (s *Stream) SendElement(e xmpp.XElement) {
	select {
	case s.actorCh <- func() { s.writeTracked(e) }:
	case <-s.stopCh:
	}
}

// Disconnect force-closes the stream, sending a stream error first when
// err is a *streamerror.Error.
func (s *Stream) Disconnect(err error) {
	select {
	case s.actorCh <- func() {
		if se, ok := err.(*streamerror.Error); ok {
			s.sendStreamError(se)
		}
		s.teardown(err)
	}:
	case <-s.stopCh:
	}
}

// writeTracked writes e to the wire and, once SM is enabled, records it in
// the unacked replay queue.
func (s *Stream) writeTracked(e xmpp.XElement) {
	s.writeElement(e)
	if s.smEnabled {
		if _, err := s.smState.Track(e); err == sm.ErrQueueFull {
			s.teardown(sm.ErrQueueFull)
		}
	}
}

func (s *Stream) writeElement(e xmpp.XElement) {
	if _, err := s.conn.Write([]byte(e.ToXML(true))); err != nil {
		log.Debugf("c2s: write error (stream %s): %v", s.id, err)
	}
}

func (s *Stream) sendStreamError(se *streamerror.Error) {
	el := xmpp.NewElementNamespace("stream:error", "")
	cond := xmpp.NewElementNamespace(se.Element(), "urn:ietf:params:xml:ns:xmpp-streams")
	el.AppendElement(cond)
	s.writeElement(el)
	s.writeElement(xmpp.NewElementName("stream:stream"))
}

// teardown unregisters the stream (suspending it for SM resumption first
// when eligible) and closes the underlying connection exactly once.
func (s *Stream) teardown(cause error) {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}
	s.setState(stDisconnected)

	if s.smEnabled && s.username != "" {
		_ = router.Instance().UnregisterStream(s)
		s.smRegistry.Suspend(&sm.Suspended{
			StreamID: s.id,
			Username: s.username,
			Resource: s.resource,
			State:    s.smState,
		})
	} else if s.username != "" {
		s.goOffline()
	}

	close(s.stopCh)
	_ = s.conn.Close()
	log.Infof("c2s: stream closed (id: %s, cause: %v)", s.id, cause)
}

// goOffline unregisters the stream from the router and broadcasts final
// unavailable presence, run once a session that isn't being SM-suspended
// tears down.
func (s *Stream) goOffline() {
	bound := s.JID()
	if bound == nil {
		return
	}
	_ = router.Instance().UnregisterStream(s)
	_ = storage.Instance().SetLastActivity(s.username, s.lastStatus())
	unavail := xmpp.NewPresence(bound, bound.ToBareJID(), xmpp.UnavailableType)
	presence.Broadcast(bound, unavail)
}

func (s *Stream) lastStatus() string {
	if p := s.Presence(); p != nil {
		return p.Status()
	}
	return ""
}
