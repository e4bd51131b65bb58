package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/semigate/semi"
)

// Session is the mutable state tracking one in-progress dialog exchange, or,
// for meta-sessions, one per-(source, dialog) trust context.
//
// A session is mutated concurrently by datagram handlers, the store evictor,
// and the receipt correlator. Mutations on one session are atomic with
// respect to each other; the closed flag is monotonic.
type Session struct {
	id        string
	key       Key
	ttl       time.Duration // 0 means the session never expires
	createdAt time.Time

	lastActive atomic.Int64 // unix nanoseconds
	closed     atomic.Bool
	count      atomic.Int32

	mu      sync.Mutex
	markers []semi.Marker

	// Trust context, copied from the service request or inherited from a
	// meta-session before the session is shared. Read-only afterward.
	destination Endpoint
	certificate []byte
	certDigest  []byte
}

// New creates a session. A zero ttl disables expiry, used for transient
// sessions that are never stored.
func New(key Key, ttl time.Duration) *Session {
	s := &Session{
		id:        uuid.NewString(),
		key:       key,
		ttl:       ttl,
		createdAt: time.Now(),
	}
	s.Touch()
	return s
}

// ID is the opaque identifier the out-of-band receipt channel carries.
func (s *Session) ID() string { return s.id }

func (s *Session) Key() Key { return s.key }

func (s *Session) TTL() time.Duration { return s.ttl }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Touch records activity, advancing lastActive monotonically.
func (s *Session) Touch() {
	now := time.Now().UnixNano()
	for {
		prev := s.lastActive.Load()
		if prev >= now || s.lastActive.CompareAndSwap(prev, now) {
			return
		}
	}
}

// LastActive returns the time of the most recent activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// IsExpired reports whether the idle TTL has elapsed.
func (s *Session) IsExpired() bool {
	if s.ttl <= 0 {
		return false
	}
	return time.Since(s.LastActive()) > s.ttl
}

func (s *Session) IsClosed() bool { return s.closed.Load() }

// Close marks the session finished. Closing is monotonic and idempotent;
// removal from the store is left to the evictor.
func (s *Session) Close() { s.closed.Store(true) }

// IsInactive reports whether the session is closed or expired. Inactive
// sessions are ignored by lookups and reclaimed by the evictor.
func (s *Session) IsInactive() bool {
	return s.IsClosed() || s.IsExpired()
}

// AddMarker appends a sequence marker and touches the session.
func (s *Session) AddMarker(m semi.Marker) {
	s.Touch()
	s.mu.Lock()
	s.markers = append(s.markers, m)
	s.mu.Unlock()
}

// HasMarker reports whether the dialog position m was observed.
func (s *Session) HasMarker(m semi.Marker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.markers {
		if got == m {
			return true
		}
	}
	return false
}

// IncrementCount counts one received data record for later sent/received
// reconciliation.
func (s *Session) IncrementCount() { s.count.Add(1) }

// ResetCount clears the received-record counter.
func (s *Session) ResetCount() { s.count.Store(0) }

// Count returns the number of data records observed so far.
func (s *Session) Count() int { return int(s.count.Load()) }

// Destination returns the reply destination override, if any.
func (s *Session) Destination() (Endpoint, bool) {
	return s.destination, !s.destination.IsZero()
}

// SetDestination sets the reply destination override. Must only be called
// before the session is shared.
func (s *Session) SetDestination(dst Endpoint) { s.destination = dst }

// Certificate returns the peer certificate to use for replies, if any.
func (s *Session) Certificate() []byte { return s.certificate }

// SetCertificate sets the reply certificate. Must only be called before the
// session is shared.
func (s *Session) SetCertificate(cert []byte) { s.certificate = cert }

// CertDigest returns the digest of the reply certificate, if any.
func (s *Session) CertDigest() []byte { return s.certDigest }

// SetCertDigest sets the reply certificate digest. Must only be called
// before the session is shared.
func (s *Session) SetCertDigest(digest []byte) { s.certDigest = digest }

func (s *Session) String() string {
	remaining := time.Duration(0)
	if s.ttl > 0 {
		remaining = s.ttl - time.Since(s.LastActive())
	}
	return fmt.Sprintf("Session{id=%s key=%s count=%d remaining=%s closed=%t}",
		s.id, s.key, s.Count(), remaining, s.IsClosed())
}
