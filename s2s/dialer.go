package s2s

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/waddle-social/waddle/log"
)

// Dialer opens the outbound TCP connection for an S2S stream before
// STARTTLS and Server Dialback negotiation begin.
type Dialer interface {
	Dial(ctx context.Context, remoteDomain string) (net.Conn, error)
}

type srvResolveFunc func(service, proto, name string) (cname string, addrs []*net.SRV, err error)
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type dialer struct {
	srvResolve  srvResolveFunc
	dialContext dialFunc
}

func newDialer() *dialer {
	var d net.Dialer
	return &dialer{
		srvResolve:  net.LookupSRV,
		dialContext: d.DialContext,
	}
}

// Dial resolves remoteDomain's _xmpp-server._tcp SRV records (RFC 6120
// §3.2) and connects to the highest-priority, weight-ordered target,
// falling back to remoteDomain:5269 per RFC 6120 §3.2.5 if no SRV record
// exists.
func (d *dialer) Dial(ctx context.Context, remoteDomain string) (net.Conn, error) {
	targets := d.resolveTargets(remoteDomain)
	var lastErr error
	for _, target := range targets {
		conn, err := d.dialContext(ctx, "tcp", target)
		if err == nil {
			return conn, nil
		}
		log.Warnf("s2s: dial %s failed: %v", target, err)
		lastErr = err
	}
	return nil, lastErr
}

func (d *dialer) resolveTargets(remoteDomain string) []string {
	_, addrs, err := d.srvResolve("xmpp-server", "tcp", remoteDomain)
	if err != nil || len(addrs) == 0 || (len(addrs) == 1 && addrs[0].Target == ".") {
		if err != nil {
			log.Warnf("s2s: srv lookup for %s failed: %v", remoteDomain, err)
		}
		return []string{remoteDomain + ":5269"}
	}

	sorted := make([]*net.SRV, len(addrs))
	copy(sorted, addrs)
	sortSRV(sorted)

	targets := make([]string, 0, len(sorted))
	for _, a := range sorted {
		targets = append(targets, strings.TrimSuffix(a.Target, ".")+":"+strconv.Itoa(int(a.Port)))
	}
	return targets
}

// sortSRV orders by ascending priority, and within a priority tier by
// descending weight (RFC 2782's weighted selection collapsed to a stable
// deterministic order, since we try every target in sequence on failure
// rather than doing true weighted random selection).
func sortSRV(addrs []*net.SRV) {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})
}
