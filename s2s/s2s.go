// Package s2s implements RFC 6120 server-to-server federation: outbound
// connection pooling (dialer.go, pool.go), inbound connection acceptance
// (inbound.go), and XEP-0220 Server Dialback (dialback.go). It is wired
// into package router through the router.S2SOutbound interface so the
// two packages don't import each other directly.
package s2s

import (
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/config"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/router"
)

var (
	// ErrFailedRemoteConnect is returned when no outbound connection to a
	// remote domain could be established or reused.
	ErrFailedRemoteConnect = errors.New("s2s: failed to connect to remote server")
	// ErrDialbackRejected is returned when a peer's dialback verification
	// response reports the key as invalid.
	ErrDialbackRejected = errors.New("s2s: dialback key rejected by peer")
)

// S2S is the process-wide federation endpoint: an outbound pool plus (when
// enabled) an inbound listener.
type S2S struct {
	cfg  *config.Config
	pool *Pool
	in   *inboundListener
}

var (
	inst        *S2S
	instMu      sync.RWMutex
	initialized uint32
)

// Initialize constructs the process-wide S2S endpoint and registers its
// outbound pool with the router so local stanzas addressed to remote
// domains are handed off to it.
func Initialize(cfg *config.Config) *S2S {
	if atomic.CompareAndSwapUint32(&initialized, 0, 1) {
		instMu.Lock()
		defer instMu.Unlock()

		var tlsConfig *tls.Config
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
			if err != nil {
				log.Fatalf("s2s: failed to load TLS certificate: %v", err)
			}
			tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, ServerName: cfg.LocalDomain}
		}

		pool := NewPool(cfg.LocalDomain, cfg.DialbackSecret, tlsConfig)
		inst = &S2S{cfg: cfg, pool: pool}

		if cfg.S2SEnabled {
			inst.in = newInboundListener(cfg, tlsConfig)
		}

		router.Instance().SetS2SOutbound(pool)
	}
	return inst
}

// Instance returns the process-wide S2S endpoint.
func Instance() *S2S {
	instMu.RLock()
	defer instMu.RUnlock()
	if inst == nil {
		log.Fatalf("s2s: not initialized")
	}
	return inst
}

// Shutdown tears down the S2S endpoint; used by tests and graceful exit.
func Shutdown() {
	if atomic.CompareAndSwapUint32(&initialized, 1, 0) {
		instMu.Lock()
		defer instMu.Unlock()
		if inst.pool != nil {
			inst.pool.Close()
		}
		if inst.in != nil {
			inst.in.close()
		}
		inst = nil
	}
}

// ListenAndServe starts accepting inbound S2S connections, blocking until
// the listener is closed. A no-op when S2S is disabled in config.
func (s *S2S) ListenAndServe() error {
	if s.in == nil {
		return nil
	}
	return s.in.listenAndServe()
}
