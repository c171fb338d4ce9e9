package s2s

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/xmpp"
)

type fakeDialer struct {
	conn net.Conn
	err  error
}

func (d *fakeDialer) Dial(ctx context.Context, remoteDomain string) (net.Conn, error) {
	return d.conn, d.err
}

// runFakePeer plays the receiving server's half of an outbound S2S
// negotiation over conn: answer the stream open, validate the dialback
// key, then forward every received stanza to got.
func runFakePeer(t *testing.T, conn net.Conn, secret string, accept bool, got chan<- xmpp.XElement) {
	t.Helper()
	p := xmpp.NewParser(conn, 1<<20)

	if _, err := p.ParseElement(); err != nil {
		t.Errorf("peer: reading stream open: %v", err)
		return
	}
	hdr := xmpp.NewElementName("stream:stream")
	hdr.SetNamespace("jabber:server")
	hdr.SetAttribute("xmlns:stream", "http://etherx.jabber.org/streams")
	hdr.SetAttribute("id", "peer-stream-1")
	if _, err := conn.Write([]byte(hdr.ToXML(false))); err != nil {
		t.Errorf("peer: writing stream header: %v", err)
		return
	}

	dbResult, err := p.ParseElement()
	if err != nil {
		t.Errorf("peer: reading db:result: %v", err)
		return
	}
	verdict := "invalid"
	if accept && VerifyDialbackKey(secret, "peer-stream-1", dbResult.Attributes().Get("to"),
		dbResult.Attributes().Get("from"), dbResult.Text()) {
		verdict = "valid"
	}
	reply := xmpp.NewElementNamespace("db:result", "jabber:server:dialback")
	reply.SetAttribute("from", dbResult.Attributes().Get("to"))
	reply.SetAttribute("to", dbResult.Attributes().Get("from"))
	reply.SetAttribute("type", verdict)
	if _, err := conn.Write([]byte(reply.ToXML(true))); err != nil {
		t.Errorf("peer: writing dialback verdict: %v", err)
		return
	}

	for {
		elem, err := p.ParseElement()
		if err != nil {
			return
		}
		got <- elem
	}
}

func testStanza(t *testing.T) xmpp.Stanza {
	t.Helper()
	from, _ := jid.NewString("alice@waddle.example/phone", false)
	to, _ := jid.NewString("bob@remote.example", false)
	elem := xmpp.NewElementName("message")
	body := xmpp.NewElementName("body")
	body.SetText("over the wire")
	elem.AppendElement(body)
	m, err := xmpp.NewMessageFromElement(elem, from, to)
	if err != nil {
		t.Fatalf("building stanza: %v", err)
	}
	return m
}

func TestPoolEstablishesViaDialbackAndSends(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	got := make(chan xmpp.XElement, 4)
	go runFakePeer(t, server, "shared-secret", true, got)

	p := NewPool("waddle.example", "shared-secret", nil)
	p.dialer = &fakeDialer{conn: client}

	if err := p.Route(testStanza(t)); err != nil {
		t.Fatalf("unexpected route error: %v", err)
	}

	select {
	case elem := <-got:
		if elem.Name() != "message" {
			t.Fatalf("expected message stanza, got %s", elem.Name())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the stanza")
	}

	// A second send reuses the established connection without renegotiating.
	if err := p.Route(testStanza(t)); err != nil {
		t.Fatalf("unexpected route error on reuse: %v", err)
	}
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the second stanza")
	}
}

func TestPoolRejectsOnInvalidDialback(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	got := make(chan xmpp.XElement, 1)
	go runFakePeer(t, server, "different-secret", true, got)

	p := NewPool("waddle.example", "shared-secret", nil)
	p.dialer = &fakeDialer{conn: client}

	if err := p.Route(testStanza(t)); err != ErrFailedRemoteConnect {
		t.Fatalf("expected ErrFailedRemoteConnect, got %v", err)
	}
}

func TestPoolReportsDialFailure(t *testing.T) {
	p := NewPool("waddle.example", "shared-secret", nil)
	p.dialer = &fakeDialer{err: ErrFailedRemoteConnect}

	if err := p.Route(testStanza(t)); err != ErrFailedRemoteConnect {
		t.Fatalf("expected ErrFailedRemoteConnect, got %v", err)
	}
}
