package sm

import (
	"sync"
	"time"
)

// Suspended is one disconnected-but-resumable session, keyed by the
// stream id the peer will present back in <resume previd='..'/>.
type Suspended struct {
	StreamID string
	Username string
	Resource string
	State    *State
}

// Registry tracks every suspended session server-wide so a reconnecting
// client can resume on any accepting worker; the resumption TTL window
// is server-wide, not tied to the original TCP connection.
type Registry struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]*Suspended
}

// NewRegistry constructs a Registry whose suspended entries expire after
// ttl (config.SMConfig.ResumeTTL).
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl, m: make(map[string]*Suspended)}
}

// Suspend records s as resumable under its stream id.
func (r *Registry) Suspend(s *Suspended) {
	s.State.Suspend()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.StreamID] = s
}

// Resume looks up and removes a suspended session by previd, rejecting it
// if the resume window has expired.
func (r *Registry) Resume(previd string) (*Suspended, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[previd]
	if !ok {
		return nil, ErrUnknownPreviousID
	}
	delete(r.m, previd)
	if s.State.ResumeExpired(r.ttl) {
		return nil, ErrResumeWindowExpired
	}
	return s, nil
}

// Discard removes a suspended session without resuming it (e.g. the TTL
// sweep, or an explicit session teardown).
func (r *Registry) Discard(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, streamID)
}

// Sweep removes every suspended entry whose resume window has expired,
// meant to be called periodically from a background ticker.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.m {
		if s.State.ResumeExpired(r.ttl) {
			delete(r.m, id)
		}
	}
}
