// Package router is the connection registry and stanza router every
// session and module talks to instead of addressing connections
// directly: a stream registry, a block-list cache, the bare/full-JID
// delivery rules of RFC 6121 §8, and a hand-off to package s2s for
// stanzas addressed to a non-local domain.
package router

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/log"
	"github.com/waddle-social/waddle/storage"
	"github.com/waddle-social/waddle/xmpp"
)

var (
	// ErrNotExistingAccount is returned by Route when the destination
	// user does not exist.
	ErrNotExistingAccount = errors.New("router: account does not exist")
	// ErrResourceNotFound is returned by Route when the destination
	// resource does not match any of the user's bound resources.
	ErrResourceNotFound = errors.New("router: resource not found")
	// ErrNotAuthenticated is returned by Route when the destination user
	// exists but has no connected resource right now.
	ErrNotAuthenticated = errors.New("router: user not connected")
	// ErrBlockedJID is returned by Route when the sender is on the
	// destination's XEP-0191 block list.
	ErrBlockedJID = errors.New("router: destination jid is blocked")
	// ErrFailedRemoteConnect is returned when a stanza addressed to a
	// non-local domain cannot be delivered over S2S.
	ErrFailedRemoteConnect = errors.New("router: failed to connect to remote server")
)

// C2SStream is the subset of a bound client session the router needs to
// deliver stanzas and answer presence/resource questions.
type C2SStream interface {
	ID() string
	Username() string
	Domain() string
	Resource() string
	JID() *jid.JID
	Presence() *xmpp.Presence
	SendElement(element xmpp.XElement)
	Disconnect(err error)
}

// S2SOutbound is implemented by package s2s; kept as an interface here to
// avoid an import cycle (s2s depends on router to deliver inbound
// stanzas to local streams).
type S2SOutbound interface {
	Route(stanza xmpp.Stanza) error
}

// Router is the process-wide stream registry and stanza router.
type Router struct {
	localDomains []string

	lock       sync.RWMutex
	stms       map[string]C2SStream
	authedStms map[string][]C2SStream
	blockLists map[string][]*jid.JID

	s2sLock  sync.RWMutex
	s2sOut   S2SOutbound
}

var (
	inst        *Router
	instMu      sync.RWMutex
	initialized uint32
)

// Initialize constructs the process-wide router for the given local
// domains (the server's own domain plus the MUC subdomain).
func Initialize(localDomains []string) {
	if atomic.CompareAndSwapUint32(&initialized, 0, 1) {
		instMu.Lock()
		defer instMu.Unlock()
		inst = &Router{
			localDomains: localDomains,
			stms:         make(map[string]C2SStream),
			authedStms:   make(map[string][]C2SStream),
			blockLists:   make(map[string][]*jid.JID),
		}
	}
}

// Instance returns the process-wide router.
func Instance() *Router {
	instMu.RLock()
	defer instMu.RUnlock()
	if inst == nil {
		log.Fatalf("router: not initialized")
	}
	return inst
}

// Shutdown tears down the router singleton; used only by tests.
func Shutdown() {
	if atomic.CompareAndSwapUint32(&initialized, 1, 0) {
		instMu.Lock()
		defer instMu.Unlock()
		inst = nil
	}
}

// SetS2SOutbound installs the S2S outbound pool, called once at startup
// after both router and s2s are constructed (breaking the cyclic
// construction order between the two packages).
func (r *Router) SetS2SOutbound(out S2SOutbound) {
	r.s2sLock.Lock()
	defer r.s2sLock.Unlock()
	r.s2sOut = out
}

// IsLocalDomain reports whether domain is served directly by this process
// (the server's own domain or its MUC subdomain).
func (r *Router) IsLocalDomain(domain string) bool {
	for _, d := range r.localDomains {
		if d == domain {
			return true
		}
	}
	return false
}

// RegisterStream registers stm so it becomes reachable by JID once bound.
func (r *Router) RegisterStream(stm C2SStream) error {
	if !r.IsLocalDomain(stm.Domain()) {
		return errors.Errorf("router: invalid domain: %s", stm.Domain())
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.stms[stm.ID()]; ok {
		return errors.Errorf("router: stream already registered: %s", stm.ID())
	}
	r.stms[stm.ID()] = stm
	log.Infof("router: registered stream (id: %s)", stm.ID())
	return nil
}

// UnregisterStream removes stm and its authenticated-resource entry.
func (r *Router) UnregisterStream(stm C2SStream) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.stms[stm.ID()]; !ok {
		return errors.Errorf("router: stream not found: %s", stm.ID())
	}
	if authed := r.authedStms[stm.Username()]; authed != nil {
		res := stm.Resource()
		for i, s := range authed {
			if s.Resource() == res {
				authed = append(authed[:i], authed[i+1:]...)
				break
			}
		}
		if len(authed) > 0 {
			r.authedStms[stm.Username()] = authed
		} else {
			delete(r.authedStms, stm.Username())
		}
	}
	delete(r.stms, stm.ID())
	log.Infof("router: unregistered stream (id: %s)", stm.ID())
	return nil
}

// AuthenticateStream marks stm reachable by its (now bound) JID.
func (r *Router) AuthenticateStream(stm C2SStream) error {
	if stm.Resource() == "" {
		return errors.Errorf("router: resource not yet assigned: %s", stm.ID())
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.authedStms[stm.Username()] = append(r.authedStms[stm.Username()], stm)
	log.Infof("router: authenticated stream (%s/%s)", stm.Username(), stm.Resource())
	return nil
}

// StreamsMatchingJID returns every bound stream matching jid (bare JIDs
// match every resource for that node).
func (r *Router) StreamsMatchingJID(j *jid.JID) []C2SStream {
	if !r.IsLocalDomain(j.Domain()) {
		return nil
	}
	opts := jid.MatchesDomain
	if j.IsFull() {
		opts |= jid.MatchesResource
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	var ret []C2SStream
	if j.Node() != "" {
		opts |= jid.MatchesNode
		for _, stm := range r.authedStms[j.Node()] {
			if stm.JID().Matches(j, opts) {
				ret = append(ret, stm)
			}
		}
	} else {
		for _, stms := range r.authedStms {
			for _, stm := range stms {
				if stm.JID().Matches(j, opts) {
					ret = append(ret, stm)
				}
			}
		}
	}
	return ret
}

// BoundStreams returns every stream that has completed resource binding,
// in unspecified order. Used by the admin surface to enumerate sessions.
func (r *Router) BoundStreams() []C2SStream {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var ret []C2SStream
	for _, stms := range r.authedStms {
		ret = append(ret, stms...)
	}
	return ret
}

// IsBlockedJID reports whether sender is on username's XEP-0191 block
// list.
func (r *Router) IsBlockedJID(sender *jid.JID, username string) bool {
	for _, blocked := range r.getBlockList(username) {
		if jidMatchesBlockedJID(sender, blocked) {
			return true
		}
	}
	return false
}

// ReloadBlockList invalidates the in-memory block-list cache for
// username; the next IsBlockedJID call re-fetches from storage.
func (r *Router) ReloadBlockList(username string) {
	r.lock.Lock()
	delete(r.blockLists, username)
	r.lock.Unlock()
	log.Infof("router: block list reloaded (username: %s)", username)
}

// Route applies the RFC 6121 stanza delivery rules, honoring block lists.
func (r *Router) Route(stanza xmpp.Stanza) error {
	return r.route(stanza, false)
}

// MustRoute routes a stanza ignoring block lists, for server-generated
// notifications (e.g. roster pushes) that must never be suppressed.
func (r *Router) MustRoute(stanza xmpp.Stanza) error {
	return r.route(stanza, true)
}

func (r *Router) route(stanza xmpp.Stanza, ignoreBlocking bool) error {
	toJID := stanza.ToJID()
	if !r.IsLocalDomain(toJID.Domain()) {
		return r.routeRemote(stanza)
	}
	if !ignoreBlocking && !toJID.IsServer() && r.IsBlockedJID(stanza.FromJID(), toJID.Node()) {
		return ErrBlockedJID
	}
	recipients := r.StreamsMatchingJID(toJID.ToBareJID())
	if len(recipients) == 0 {
		return r.classifyAbsent(toJID)
	}
	if toJID.IsFullWithUser() {
		return deliverToResource(recipients, toJID.Resource(), stanza)
	}
	deliverToBare(recipients, stanza)
	return nil
}

// routeRemote hands a non-local stanza to the S2S outbound pool, or fails
// when federation was never wired up.
func (r *Router) routeRemote(stanza xmpp.Stanza) error {
	r.s2sLock.RLock()
	out := r.s2sOut
	r.s2sLock.RUnlock()
	if out == nil {
		return ErrFailedRemoteConnect
	}
	return out.Route(stanza)
}

// classifyAbsent distinguishes "no such account" from "account exists but
// has no connected resource" for a recipient with no bound streams.
func (r *Router) classifyAbsent(toJID *jid.JID) error {
	exists, err := storage.Instance().UserExists(toJID.Node())
	if err != nil {
		return err
	}
	if exists {
		return ErrNotAuthenticated
	}
	return ErrNotExistingAccount
}

func deliverToResource(recipients []C2SStream, resource string, stanza xmpp.Stanza) error {
	for _, stm := range recipients {
		if stm.Resource() == resource {
			stm.SendElement(stanza)
			return nil
		}
	}
	return ErrResourceNotFound
}

// deliverToBare applies the per-kind bare-JID fan-out rules: a message
// goes to the highest-priority resource, an IQ to exactly one resource
// (IQs must be answered by exactly one entity), anything else to all of
// them.
func deliverToBare(recipients []C2SStream, stanza xmpp.Stanza) {
	switch stanza.(type) {
	case *xmpp.Message:
		highestPriorityStream(recipients).SendElement(stanza)
	case *xmpp.IQ:
		recipients[0].SendElement(stanza)
	default:
		for _, stm := range recipients {
			stm.SendElement(stanza)
		}
	}
}

func highestPriorityStream(recipients []C2SStream) C2SStream {
	best := recipients[0]
	var bestPriority int8
	if p := best.Presence(); p != nil {
		bestPriority = p.Priority()
	}
	for _, stm := range recipients[1:] {
		if p := stm.Presence(); p != nil && p.Priority() > bestPriority {
			best, bestPriority = stm, p.Priority()
		}
	}
	return best
}

func (r *Router) getBlockList(username string) []*jid.JID {
	r.lock.RLock()
	bl := r.blockLists[username]
	r.lock.RUnlock()
	if bl != nil {
		return bl
	}
	items, err := storage.Instance().FetchBlockListItems(username)
	if err != nil {
		log.Error(err)
		return nil
	}
	bl = make([]*jid.JID, 0, len(items))
	for _, item := range items {
		j, err := jid.NewString(item.JID, true)
		if err != nil {
			continue
		}
		bl = append(bl, j)
	}
	r.lock.Lock()
	r.blockLists[username] = bl
	r.lock.Unlock()
	return bl
}

func jidMatchesBlockedJID(j, blocked *jid.JID) bool {
	switch {
	case blocked.IsFullWithUser():
		return j.Matches(blocked, jid.MatchesNode|jid.MatchesDomain|jid.MatchesResource)
	case blocked.IsFullWithServer():
		return j.Matches(blocked, jid.MatchesDomain|jid.MatchesResource)
	case blocked.IsBare():
		return j.Matches(blocked, jid.MatchesNode|jid.MatchesDomain)
	default:
		return j.Matches(blocked, jid.MatchesDomain)
	}
}
