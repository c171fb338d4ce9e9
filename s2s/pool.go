package s2s

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/xmpp"
)

// Pool manages one outbound connection per remote domain, isolating
// failures with a per-domain circuit breaker so a single unreachable peer
// can't starve dial attempts to every other domain.
type Pool struct {
	localDomain    string
	dialbackSecret string
	dialer         Dialer
	tlsConfig      *tls.Config

	mu          sync.Mutex
	conns       map[string]*outboundConn
	breakers    map[string]*gobreaker.CircuitBreaker
}

// NewPool constructs a Pool for localDomain, using secret to compute
// Server Dialback keys for outbound connections.
func NewPool(localDomain, secret string, tlsConfig *tls.Config) *Pool {
	return &Pool{
		localDomain:    localDomain,
		dialbackSecret: secret,
		dialer:         newDialer(),
		tlsConfig:      tlsConfig,
		conns:          make(map[string]*outboundConn),
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Route implements router.S2SOutbound: it opens (or reuses) the outbound
// connection to the stanza's destination domain and writes it.
func (p *Pool) Route(stanza xmpp.Stanza) error {
	domain := stanza.ToJID().Domain()
	conn, err := p.getConn(domain)
	if err != nil {
		return err
	}
	return conn.send(stanza)
}

func (p *Pool) getConn(domain string) (*outboundConn, error) {
	p.mu.Lock()
	if c, ok := p.conns[domain]; ok && c.alive() {
		p.mu.Unlock()
		return c, nil
	}
	breaker, ok := p.breakers[domain]
	if !ok {
		breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "s2s:" + domain,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
		p.breakers[domain] = breaker
	}
	p.mu.Unlock()

	result, err := breaker.Execute(func() (interface{}, error) {
		return p.dial(domain)
	})
	if err != nil {
		log.Warnf("s2s: circuit open or dial failed for %s: %v", domain, err)
		return nil, ErrFailedRemoteConnect
	}
	conn := result.(*outboundConn)

	p.mu.Lock()
	p.conns[domain] = conn
	p.mu.Unlock()
	return conn, nil
}

func (p *Pool) dial(domain string) (*outboundConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raw, err := p.dialer.Dial(ctx, domain)
	if err != nil {
		return nil, err
	}
	oc := &outboundConn{
		localDomain:  p.localDomain,
		remoteDomain: domain,
		secret:       p.dialbackSecret,
		tlsConfig:    p.tlsConfig,
	}
	if err := oc.negotiate(raw); err != nil {
		raw.Close()
		return nil, err
	}
	return oc, nil
}

// Close tears down every pooled connection, called on server shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for domain, c := range p.conns {
		c.close()
		delete(p.conns, domain)
	}
}

type outboundConn struct {
	localDomain  string
	remoteDomain string
	secret       string
	tlsConfig    *tls.Config

	mu        sync.Mutex
	conn      net.Conn
	parser    *xmpp.Parser
	streamID  string
	closed    bool
	dialback  bool
}

// negotiate performs RFC 6120 stream opening, optional STARTTLS, and
// XEP-0220 Server Dialback authentication over raw, leaving oc ready to
// send stanzas once dialback completes.
func (oc *outboundConn) negotiate(raw net.Conn) error {
	oc.conn = raw
	oc.parser = xmpp.NewParser(raw, 1<<20)

	open := xmpp.NewElementName("stream:stream")
	open.SetNamespace("jabber:server")
	open.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	open.SetAttribute("to", oc.remoteDomain)
	open.SetAttribute("from", oc.localDomain)
	open.SetAttribute("version", "1.0")
	if _, err := raw.Write([]byte(open.ToXML(false))); err != nil {
		return err
	}

	reply, err := oc.parser.ParseElement()
	if err != nil {
		return err
	}
	oc.streamID = reply.Attributes().Get("id")

	// Opportunistically upgrade to TLS; peers that don't support
	// STARTTLS fall back to dialback-only authentication on cleartext,
	// same risk profile RFC 6120's S2S STARTTLS was designed to reduce
	// but not eliminate.
	if oc.tlsConfig != nil {
		if tlsConn, ok := oc.tryStartTLS(raw); ok {
			oc.conn = tlsConn
			oc.parser = xmpp.NewParser(tlsConn, 1<<20)
		}
	}

	key := DialbackKey(oc.secret, oc.streamID, oc.remoteDomain, oc.localDomain)
	dialbackReq := xmpp.NewElementNamespace("db:result", "jabber:server:dialback")
	dialbackReq.SetAttribute("to", oc.remoteDomain)
	dialbackReq.SetAttribute("from", oc.localDomain)
	dialbackReq.SetText(key)
	if _, err := oc.conn.Write([]byte(dialbackReq.ToXML(true))); err != nil {
		return err
	}

	result, err := oc.parser.ParseElement()
	if err != nil {
		return err
	}
	if result.Attributes().Get("type") != "valid" {
		return ErrDialbackRejected
	}
	oc.dialback = true
	return nil
}

func (oc *outboundConn) tryStartTLS(raw net.Conn) (net.Conn, bool) {
	starttls := xmpp.NewElementNamespace("starttls", "urn:ietf:params:xml:ns:xmpp-tls")
	if _, err := raw.Write([]byte(starttls.ToXML(false))); err != nil {
		return nil, false
	}
	reply, err := oc.parser.ParseElement()
	if err != nil || reply.Name() != "proceed" {
		return nil, false
	}
	tlsConn := tls.Client(raw, oc.tlsConfig)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, false
	}
	reopen := xmpp.NewElementName("stream:stream")
	reopen.SetNamespace("jabber:server")
	reopen.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	reopen.SetAttribute("to", oc.remoteDomain)
	reopen.SetAttribute("from", oc.localDomain)
	reopen.SetAttribute("version", "1.0")
	if _, err := tlsConn.Write([]byte(reopen.ToXML(false))); err != nil {
		return nil, false
	}
	p := xmpp.NewParser(tlsConn, 1<<20)
	if _, err := p.ParseElement(); err != nil {
		return nil, false
	}
	oc.parser = p
	return tlsConn, true
}

func (oc *outboundConn) send(stanza xmpp.Stanza) error {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.closed {
		return ErrFailedRemoteConnect
	}
	_, err := oc.conn.Write([]byte(stanza.ToXML(true)))
	return err
}

func (oc *outboundConn) alive() bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return !oc.closed && oc.dialback
}

func (oc *outboundConn) close() {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if oc.closed {
		return
	}
	oc.closed = true
	oc.conn.Close()
}
