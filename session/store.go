package session

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmcleod/semigate/semi"
)

const (
	// DefaultTTL is how long an ordinary session survives without activity.
	DefaultTTL = 20 * time.Second
	// DefaultMetaTTL is the idle TTL of trust-context meta-sessions.
	DefaultMetaTTL = 60 * time.Second
	// DefaultPurgeInterval is how often the evictor scans for inactive
	// sessions.
	DefaultPurgeInterval = 10 * time.Second

	// Dialogs whose acceptance/receipt loop runs outside the gateway keep
	// their sessions alive longer so the external receipt can still find
	// them.
	mediatedTTLFactor = 3
)

// Store is the concurrent registry of live sessions. Each logical session is
// indexed twice, by correlation Key and by generated ID, in one map: the two
// key spaces can never collide, and a single map avoids keeping two
// structures in sync. A background evictor reclaims inactive sessions;
// business logic only ever marks sessions closed.
type Store struct {
	sessions sync.Map // Key or string (session ID) -> *Session

	ttl           time.Duration
	metaTTL       time.Duration
	purgeInterval time.Duration
	log           *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL sets the idle TTL for ordinary sessions.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.ttl = ttl }
}

// WithMetaTTL sets the idle TTL for meta-sessions.
func WithMetaTTL(ttl time.Duration) StoreOption {
	return func(s *Store) { s.metaTTL = ttl }
}

// WithPurgeInterval sets how often the evictor runs.
func WithPurgeInterval(interval time.Duration) StoreOption {
	return func(s *Store) { s.purgeInterval = interval }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) { s.log = logger.With("component", "session-store") }
}

// NewStore creates a Store. Call Start to launch the evictor and Stop to
// shut it down.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		ttl:           DefaultTTL,
		metaTTL:       DefaultMetaTTL,
		purgeInterval: DefaultPurgeInterval,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "session-store")
	}
	return s
}

// TTL returns the ordinary-session idle TTL.
func (s *Store) TTL() time.Duration { return s.ttl }

// MetaTTL returns the meta-session idle TTL.
func (s *Store) MetaTTL() time.Duration { return s.metaTTL }

// DialogTTL returns the idle TTL for a new session of the given dialog kind.
// Externally mediated dialogs get a multiple of the standard TTL because
// their acceptance and receipt arrive through loops the gateway does not
// drive.
func (s *Store) DialogTTL(dialog semi.DialogID) time.Duration {
	if dialog.ExternallyMediated() {
		return mediatedTTLFactor * s.ttl
	}
	return s.ttl
}

// Put indexes the session under both its key and its ID. A prior entry under
// the same key is overwritten; the caller closes a superseded session first
// so its stale ID row is reclaimed by the evictor.
func (s *Store) Put(sess *Session) {
	s.sessions.Store(sess.Key(), sess)
	s.sessions.Store(sess.ID(), sess)
	s.log.Debug("stored session", "session", sess.String())
}

// GetByKey looks a session up by correlation key.
func (s *Store) GetByKey(key Key) (*Session, bool) {
	v, ok := s.sessions.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// GetByID looks a session up by its opaque identifier.
func (s *Store) GetByID(id string) (*Session, bool) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove deletes both index entries of a logical session. The key row is
// left alone if a newer session has already overwritten it.
func (s *Store) Remove(sess *Session) {
	s.sessions.CompareAndDelete(sess.Key(), sess)
	s.sessions.Delete(sess.ID())
}

// Len returns the number of logical sessions (each one holds two index
// entries, except where a newer session overwrote an older key row).
func (s *Store) Len() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n / 2
}

// Purge removes every inactive session. Both index rows of a reclaimed
// session are removed, whichever index the scan encounters first. The key
// row is only removed while it still points at the reclaimed session; a
// superseded session must not take its replacement's key row with it. A
// session that turns inactive mid-scan may survive until the next cycle.
func (s *Store) Purge() {
	s.log.Debug("purging inactive sessions")
	s.sessions.Range(func(k, v any) bool {
		sess := v.(*Session)
		if sess.IsInactive() {
			s.log.Debug("purging session", "session_id", sess.ID())
			s.sessions.CompareAndDelete(sess.Key(), v)
			s.sessions.Delete(sess.ID())
		}
		return true
	})
}

// Start launches the background evictor.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Purge()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the evictor and drops all sessions.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.sessions.Range(func(k, _ any) bool {
		s.sessions.Delete(k)
		return true
	})
}
