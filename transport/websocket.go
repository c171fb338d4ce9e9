// Package transport adapts alternative C2S bindings onto the net.Conn
// surface the stream layer parses from. The WebSocket binding follows
// RFC 7395: UTF-8 text frames carried over an HTTP upgrade at
// /xmpp-websocket, one XMPP stanza per frame.
package transport

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/waddle-social/waddle/log"
)

// WSConn adapts a gorilla *websocket.Conn to net.Conn so the stream layer
// can treat the sequence of text frames as one contiguous XML byte stream.
// Reads span frame boundaries transparently; each Write emits exactly one
// text frame, which keeps the one-stanza-per-frame framing as long as the
// caller writes whole serialized stanzas (the stream layer does).
type WSConn struct {
	ws *websocket.Conn
	r  io.Reader
}

// NewWSConn wraps an already-upgraded WebSocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if msgType != websocket.TextMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (c *WSConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *WSConn) Close() error { return c.ws.Close() }

func (c *WSConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *WSConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *WSConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *WSConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"xmpp"},
	// TLS termination and origin policy live in front of this handler;
	// the XMPP stream authenticates itself via SASL regardless of origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocketHandler returns the HTTP handler for the RFC 7395 endpoint.
// Each accepted socket is handed to serve as a net.Conn; serve runs on
// its own goroutine and owns the connection's lifetime.
func WebSocketHandler(serve func(net.Conn)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnf("transport: websocket upgrade failed: %v", err)
			return
		}
		go serve(NewWSConn(ws))
	})
}
