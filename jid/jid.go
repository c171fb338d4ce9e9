// Package jid implements XMPP addresses (RFC 6120 §3): an immutable
// value with node/domain/resource accessors and bitmask-driven Matches,
// normalizing parts with the PRECIS profiles of RFC 7564 and IDNA2008
// domain mapping.
package jid

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// ErrInvalidJID is returned when a string cannot be parsed as a JID.
var ErrInvalidJID = errors.New("jid: invalid JID")

// MatchingOptions is a bitmask controlling which JID fields Matches compares.
type MatchingOptions int8

const (
	// MatchesNode requests comparison of the node (local) part.
	MatchesNode MatchingOptions = 1 << iota
	// MatchesDomain requests comparison of the domain part.
	MatchesDomain
	// MatchesResource requests comparison of the resource part.
	MatchesResource
	// MatchesBare is shorthand for node+domain comparison (bare JID equality).
	MatchesBare = MatchesNode | MatchesDomain
)

// JID represents an XMPP address, bare (local@domain) or full
// (local@domain/resource).
type JID struct {
	node     string
	domain   string
	resource string
}

// New builds a JID from its parts, applying PRECIS-like normalization to
// the node and resource parts and case-folding the domain. If skipStringPrep
// is true the node and resource are used as given (for parts already known
// normalized, e.g. round-tripping a stored JID); the domain is case-folded
// and IDNA-mapped either way.
func New(node, domain, resource string, skipStringPrep bool) (*JID, error) {
	if !skipStringPrep {
		var err error
		if node, err = normalizeNode(node); err != nil {
			return nil, ErrInvalidJID
		}
		if resource, err = normalizeResource(resource); err != nil {
			return nil, ErrInvalidJID
		}
	}
	domain, err := normalizeDomain(domain)
	if err != nil {
		return nil, ErrInvalidJID
	}
	return &JID{
		node:     node,
		domain:   domain,
		resource: resource,
	}, nil
}

// NewString parses a JID string of the form [node@]domain[/resource].
func NewString(str string, skipStringPrep bool) (*JID, error) {
	if str == "" {
		return New("", "", "", skipStringPrep)
	}
	var node, domain, resource string

	atIdx := strings.Index(str, "@")
	slashIdx := strings.Index(str, "/")

	switch {
	case atIdx >= 0 && (slashIdx < 0 || atIdx < slashIdx):
		node = str[:atIdx]
		rest := str[atIdx+1:]
		if slashIdx >= 0 {
			domain = rest[:slashIdx-atIdx-1]
			resource = rest[slashIdx-atIdx:]
		} else {
			domain = rest
		}
	case slashIdx >= 0:
		domain = str[:slashIdx]
		resource = str[slashIdx+1:]
	default:
		domain = str
	}
	if domain == "" {
		return nil, ErrInvalidJID
	}
	return New(node, domain, resource, skipStringPrep)
}

// normalizeDomain case-folds and IDNA-maps the domain part so that
// internationalized domains compare equal in their canonical Unicode form
// (RFC 6122 §2.2's IDNA2008 domainpart preparation).
func normalizeDomain(s string) (string, error) {
	if s == "" {
		return "", ErrInvalidJID
	}
	d, err := idna.Lookup.ToUnicode(strings.ToLower(s))
	if err != nil {
		return "", err
	}
	return d, nil
}

func normalizeNode(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	out, err := precis.UsernameCaseMapped.String(s)
	if err != nil {
		return "", err
	}
	return out, nil
}

func normalizeResource(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	out, err := precis.OpaqueString.String(s)
	if err != nil {
		return "", err
	}
	return out, nil
}

// Node returns the local part, or "" for a server JID.
func (j *JID) Node() string { return j.node }

// Domain returns the domain part.
func (j *JID) Domain() string { return j.domain }

// Resource returns the resource part, or "" for a bare JID.
func (j *JID) Resource() string { return j.resource }

// IsServer returns true if the JID has neither node nor resource.
func (j *JID) IsServer() bool { return j.node == "" && j.resource == "" }

// IsBare returns true if the JID has a node but no resource.
func (j *JID) IsBare() bool { return j.node != "" && j.resource == "" }

// IsFull returns true if the JID carries a resource part.
func (j *JID) IsFull() bool { return j.resource != "" }

// IsFullWithUser returns true for a full JID that also has a node.
func (j *JID) IsFullWithUser() bool { return j.node != "" && j.resource != "" }

// IsFullWithServer returns true for a full JID with no node (a resource
// bound directly on the server/component domain).
func (j *JID) IsFullWithServer() bool { return j.node == "" && j.resource != "" }

// ToBareJID returns the bare-JID projection (drops the resource).
func (j *JID) ToBareJID() *JID {
	return &JID{node: j.node, domain: j.domain}
}

// String renders the canonical [node@]domain[/resource] form.
func (j *JID) String() string {
	var sb strings.Builder
	if j.node != "" {
		sb.WriteString(j.node)
		sb.WriteByte('@')
	}
	sb.WriteString(j.domain)
	if j.resource != "" {
		sb.WriteByte('/')
		sb.WriteString(j.resource)
	}
	return sb.String()
}

// Matches reports whether j and other agree on every field selected by opts.
func (j *JID) Matches(other *JID, opts MatchingOptions) bool {
	if other == nil {
		return false
	}
	if opts&MatchesNode != 0 && j.node != other.node {
		return false
	}
	if opts&MatchesDomain != 0 && j.domain != other.domain {
		return false
	}
	if opts&MatchesResource != 0 && j.resource != other.resource {
		return false
	}
	return true
}

// Equal reports full equality of all three parts.
func (j *JID) Equal(other *JID) bool {
	if other == nil {
		return false
	}
	return j.node == other.node && j.domain == other.domain && j.resource == other.resource
}
