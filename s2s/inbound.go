package s2s

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/router"
	"github.com/waddle-social/waddle/xmpp"
)

// inboundListener accepts S2S connections from remote servers, verifies
// their Server Dialback key, and routes the stanzas it forwards to local
// recipients through the router.
type inboundListener struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	dialer    Dialer

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
}

func newInboundListener(cfg *config.Config, tlsConfig *tls.Config) *inboundListener {
	return &inboundListener{cfg: cfg, tlsConfig: tlsConfig, dialer: newDialer()}
}

func (l *inboundListener) listenAndServe() error {
	ln, err := net.Listen("tcp", l.cfg.S2SListenAddr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	log.Infof("s2s: listening for inbound federation on %s", l.cfg.S2SListenAddr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return nil
			}
			log.Warnf("s2s: accept error: %v", err)
			continue
		}
		go l.handle(conn)
	}
}

func (l *inboundListener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.ln != nil {
		l.ln.Close()
	}
}

// handle drives one inbound federation connection end to end: stream
// negotiation, optional STARTTLS, dialback verification of the peer's
// claimed origin domain, then routing every stanza the peer sends.
func (l *inboundListener) handle(conn net.Conn) {
	defer conn.Close()

	parser := xmpp.NewParser(conn, l.cfg.MaxStanzaSize)
	open, err := parser.ParseElement()
	if err != nil {
		log.Warnf("s2s: inbound stream open failed: %v", err)
		return
	}

	streamID := randomStreamID()
	reply := xmpp.NewElementName("stream:stream")
	reply.SetNamespace("jabber:server")
	reply.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	reply.SetAttribute("id", streamID)
	reply.SetAttribute("from", l.cfg.LocalDomain)
	reply.SetAttribute("version", "1.0")
	if _, err := conn.Write([]byte(reply.ToXML(false))); err != nil {
		return
	}

	if l.tlsConfig != nil {
		conn, parser = l.maybeUpgradeTLS(conn, parser, open, streamID)
	}

	for {
		elem, err := parser.ParseElement()
		if err != nil {
			if err != xmpp.ErrStreamClosedByPeer {
				log.Warnf("s2s: inbound stream error: %v", err)
			}
			return
		}
		if err := l.dispatch(conn, elem, streamID); err != nil {
			log.Warnf("s2s: inbound dispatch error: %v", err)
			return
		}
	}
}

func (l *inboundListener) maybeUpgradeTLS(conn net.Conn, parser *xmpp.Parser, open xmpp.XElement, streamID string) (net.Conn, *xmpp.Parser) {
	elem, err := parser.ParseElement()
	if err != nil || elem.Name() != "starttls" {
		return conn, parser
	}
	proceed := xmpp.NewElementNamespace("proceed", "urn:ietf:params:xml:ns:xmpp-tls")
	if _, err := conn.Write([]byte(proceed.ToXML(false))); err != nil {
		return conn, parser
	}
	tlsConn := tls.Server(conn, l.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		log.Warnf("s2s: inbound STARTTLS handshake failed: %v", err)
		return conn, parser
	}
	newParser := xmpp.NewParser(tlsConn, l.cfg.MaxStanzaSize)
	reopen, err := newParser.ParseElement()
	if err != nil {
		return tlsConn, newParser
	}
	_ = reopen
	reply := xmpp.NewElementName("stream:stream")
	reply.SetNamespace("jabber:server")
	reply.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	reply.SetAttribute("id", streamID)
	reply.SetAttribute("from", l.cfg.LocalDomain)
	reply.SetAttribute("version", "1.0")
	tlsConn.Write([]byte(reply.ToXML(false)))
	return tlsConn, newParser
}

func (l *inboundListener) dispatch(conn net.Conn, elem xmpp.XElement, streamID string) error {
	switch {
	case elem.Name() == "db:result" || (elem.Name() == "result" && elem.Namespace() == "jabber:server:dialback"):
		return l.verifyDialbackResult(conn, elem, streamID)
	case elem.Name() == "db:verify" || (elem.Name() == "verify" && elem.Namespace() == "jabber:server:dialback"):
		return l.answerDialbackVerify(conn, elem)
	default:
		return l.routeStanza(elem)
	}
}

// verifyDialbackResult handles an inbound <db:result/> from an
// originating server: it dials back to the claimed origin's authoritative
// server and asks it to confirm the key, then tells the originating
// connection whether the key was valid.
func (l *inboundListener) verifyDialbackResult(conn net.Conn, elem xmpp.XElement, streamID string) error {
	to := elem.Attributes().Get("to")
	from := elem.Attributes().Get("from")
	key := elem.Text()

	valid := l.confirmWithOrigin(from, to, streamID, key)

	result := xmpp.NewElementNamespace("db:result", "jabber:server:dialback")
	result.SetAttribute("to", from)
	result.SetAttribute("from", to)
	if valid {
		result.SetAttribute("type", "valid")
	} else {
		result.SetAttribute("type", "invalid")
	}
	_, err := conn.Write([]byte(result.ToXML(false)))
	return err
}

// confirmWithOrigin opens a short-lived connection to the origin domain's
// authoritative server and asks it, via <db:verify/>, whether it actually
// issued key for this stream (XEP-0220 §2.1.2).
func (l *inboundListener) confirmWithOrigin(from, to, streamID, key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := l.dialer.Dial(ctx, from)
	if err != nil {
		log.Warnf("s2s: dialback verify dial to %s failed: %v", from, err)
		return false
	}
	defer conn.Close()

	open := xmpp.NewElementName("stream:stream")
	open.SetNamespace("jabber:server")
	open.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	open.SetAttribute("to", from)
	open.SetAttribute("from", to)
	open.SetAttribute("version", "1.0")
	if _, err := conn.Write([]byte(open.ToXML(false))); err != nil {
		return false
	}

	parser := xmpp.NewParser(conn, l.cfg.MaxStanzaSize)
	if _, err := parser.ParseElement(); err != nil {
		return false
	}

	verify := xmpp.NewElementNamespace("db:verify", "jabber:server:dialback")
	verify.SetAttribute("from", to)
	verify.SetAttribute("to", from)
	verify.SetAttribute("id", streamID)
	verify.SetText(key)
	if _, err := conn.Write([]byte(verify.ToXML(true))); err != nil {
		return false
	}

	reply, err := parser.ParseElement()
	if err != nil {
		return false
	}
	return reply.Attributes().Get("type") == "valid"
}

func (l *inboundListener) answerDialbackVerify(conn net.Conn, elem xmpp.XElement) error {
	to := elem.Attributes().Get("to")
	from := elem.Attributes().Get("from")
	id := elem.Attributes().Get("id")
	key := elem.Text()

	// The request comes from the receiving server (from) to us, the
	// originating server (to); the key was issued for to=receiver,
	// from=originator.
	valid := VerifyDialbackKey(l.cfg.DialbackSecret, id, from, to, key)

	verify := xmpp.NewElementNamespace("db:verify", "jabber:server:dialback")
	verify.SetAttribute("from", to)
	verify.SetAttribute("to", from)
	verify.SetAttribute("id", id)
	if valid {
		verify.SetAttribute("type", "valid")
	} else {
		verify.SetAttribute("type", "invalid")
	}
	_, err := conn.Write([]byte(verify.ToXML(false)))
	return err
}

func (l *inboundListener) routeStanza(elem xmpp.XElement) error {
	toAttr := elem.Attributes().Get("to")
	fromAttr := elem.Attributes().Get("from")
	to, err := jid.NewString(toAttr, false)
	if err != nil {
		return err
	}
	from, err := jid.NewString(fromAttr, false)
	if err != nil {
		return err
	}

	var stanza xmpp.Stanza
	switch elem.Name() {
	case "message":
		stanza, err = xmpp.NewMessageFromElement(elem, from, to)
	case "presence":
		stanza, err = xmpp.NewPresenceFromElement(elem, from, to)
	case "iq":
		stanza, err = xmpp.NewIQFromElement(elem, from, to)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	return router.Instance().MustRoute(stanza)
}

func randomStreamID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	const hextable = "0123456789abcdef"
	out := make([]byte, 32)
	for i, b := range buf {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
