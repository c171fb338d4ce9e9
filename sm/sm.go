// Package sm implements XEP-0198 Stream Management: per-session ack
// counters, a bounded unacked-stanza queue, and stream resumption.
// Each bound stream owns one State: a small, independently lockable
// struct holding its counters and unacked queue.
package sm

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/waddle-social/waddle/xmpp"
)

var (
	// ErrQueueFull is returned when the unacked queue would exceed its
	// configured bound; the caller should close the stream.
	ErrQueueFull = errors.New("sm: unacked queue full")
	// ErrResumeWindowExpired is returned when a resume is attempted after
	// the session's resume TTL has elapsed.
	ErrResumeWindowExpired = errors.New("sm: resumption window expired")
	// ErrUnknownPreviousID is returned when a <resume/> previd doesn't
	// match any tracked suspended session.
	ErrUnknownPreviousID = errors.New("sm: unknown previous stream id")
)

// Unacked is one stanza held pending peer acknowledgement, tagged with the
// outbound sequence number it was sent under.
type Unacked struct {
	Seq    uint32
	Stanza xmpp.XElement
}

// State is one stream's Stream Management counters and replay queue.
type State struct {
	mu sync.Mutex

	maxUnacked int
	hOut       uint32 // stanzas sent
	hIn        uint32 // stanzas received and processed
	queue      []Unacked

	suspended   bool
	suspendedAt time.Time
}

// NewState constructs SM tracking bounded to maxUnacked queued stanzas.
func NewState(maxUnacked int) *State {
	return &State{maxUnacked: maxUnacked}
}

// Enable resets counters to zero, as required when a fresh <enable/> is
// processed.
func (s *State) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hOut = 0
	s.hIn = 0
	s.queue = nil
	s.suspended = false
}

// Track records an outbound stanza as unacked, returning its sequence
// number. Returns ErrQueueFull once the bound is reached, the signal to
// the session that it must drop the connection.
func (s *State) Track(stanza xmpp.XElement) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= s.maxUnacked {
		return 0, ErrQueueFull
	}
	s.hOut++
	s.queue = append(s.queue, Unacked{Seq: s.hOut, Stanza: stanza})
	return s.hOut, nil
}

// RecordInbound increments the inbound counter for every stanza the
// session processes, ready to be reported by the next <a/> reply.
func (s *State) RecordInbound() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hIn++
	return s.hIn
}

// InboundCount returns the current inbound counter without incrementing.
func (s *State) InboundCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hIn
}

// Ack prunes the unacked queue of every stanza with sequence <= h, per
// the peer's <a h='h'/> acknowledgement.
func (s *State) Ack(h uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for ; i < len(s.queue); i++ {
		if s.queue[i].Seq > h {
			break
		}
	}
	s.queue = s.queue[i:]
}

// Suspend marks the session as disconnected-but-resumable, starting its
// resume window.
func (s *State) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
	s.suspendedAt = time.Now()
}

// ResumeExpired reports whether ttl has elapsed since Suspend was called.
func (s *State) ResumeExpired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		return false
	}
	return time.Since(s.suspendedAt) > ttl
}

// Unacked returns every stanza sent with sequence > h, in send order, for
// replay on resumption.
func (s *State) Unacked(h uint32) []xmpp.XElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []xmpp.XElement
	for _, u := range s.queue {
		if u.Seq > h {
			out = append(out, u.Stanza)
		}
	}
	return out
}

// OutboundCount returns the current outbound counter.
func (s *State) OutboundCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hOut
}

// AckElement builds the <a h='..'/> response for the session's current
// inbound counter.
func AckElement(h uint32) *xmpp.Element {
	a := xmpp.NewElementNamespace("a", "urn:xmpp:sm:3")
	a.SetAttribute("h", uitoa(h))
	return a
}

// RequestElement builds the <r/> ack request.
func RequestElement() *xmpp.Element {
	return xmpp.NewElementNamespace("r", "urn:xmpp:sm:3")
}

// EnabledElement builds the <enabled/> reply to a successful <enable/>,
// advertising resumption support with the given stream id.
func EnabledElement(streamID string, resumable bool, maxResume time.Duration) *xmpp.Element {
	e := xmpp.NewElementNamespace("enabled", "urn:xmpp:sm:3")
	if resumable {
		e.SetAttribute("resume", "true")
		e.SetAttribute("id", streamID)
		e.SetAttribute("max", uitoa(uint32(maxResume.Seconds())))
	}
	return e
}

// ResumedElement builds the <resumed/> reply confirming stream resumption.
func ResumedElement(previd string, h uint32) *xmpp.Element {
	e := xmpp.NewElementNamespace("resumed", "urn:xmpp:sm:3")
	e.SetAttribute("previd", previd)
	e.SetAttribute("h", uitoa(h))
	return e
}

// FailedElement builds the <failed/> reply for a rejected <resume/>.
func FailedElement(condition string) *xmpp.Element {
	e := xmpp.NewElementNamespace("failed", "urn:xmpp:sm:3")
	cond := xmpp.NewElementNamespace(condition, "urn:ietf:params:xml:ns:xmpp-stanzas")
	e.AppendElement(cond)
	return e
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
