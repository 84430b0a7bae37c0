// Package session holds the per-user conversation state of the relay.
//
// Store serializes read-modify-write access per user while letting different users
// proceed concurrently, and evicts sessions that have been idle for longer than a TTL.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Defaults for session eviction.
const (
	DefaultTTL           = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Opts holds configuration options for the session store.
type Opts struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxSessions   int
	Now           func() time.Time
}

// Option defines a configuration option for the session store.
type Option func(*Opts)

// WithTTL sets how long an idle session is kept. Zero disables TTL eviction.
func WithTTL(d time.Duration) Option {
	return func(o *Opts) { o.TTL = d }
}

// WithSweepInterval sets how often the janitor looks for expired sessions.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithMaxSessions caps the number of sessions kept. Zero means unbounded.
func WithMaxSessions(n int) Option {
	return func(o *Opts) { o.MaxSessions = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

type entry struct {
	mu       sync.Mutex
	session  models.UserSession
	lastUsed time.Time
	evicted  bool
}

// Store is a concurrency-safe map from user ID to session.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	ttl      time.Duration
	interval time.Duration
	maxSize  int
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	cfg := Opts{TTL: DefaultTTL, SweepInterval: DefaultSweepInterval, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		entries:  make(map[string]*entry),
		ttl:      cfg.TTL,
		interval: cfg.SweepInterval,
		maxSize:  cfg.MaxSessions,
		now:      cfg.Now,
	}
}

// resolve returns the entry for userID, creating a default session if absent.
func (s *Store) resolve(userID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e
	}
	now := s.now()
	e = &entry{session: models.NewUserSession(now), lastUsed: now}
	s.entries[userID] = e
	if s.maxSize > 0 && len(s.entries) > s.maxSize {
		s.evictLRULocked(userID)
	}
	return e
}

// lock resolves and locks the live entry for userID.
func (s *Store) lock(userID string) *entry {
	for {
		e := s.resolve(userID)
		e.mu.Lock()
		if !e.evicted {
			return e
		}
		// Evicted between resolve and lock; look it up again.
		e.mu.Unlock()
	}
}

// Get returns a copy of the user's session, creating a default Passive session if absent.
func (s *Store) Get(userID string) models.UserSession {
	e := s.lock(userID)
	defer e.mu.Unlock()
	e.lastUsed = s.now()
	return e.session.Clone()
}

// Set replaces the user's session.
func (s *Store) Set(userID string, sess models.UserSession) {
	e := s.lock(userID)
	defer e.mu.Unlock()
	now := s.now()
	sess = sess.Clone()
	sess.UpdatedAt = now
	e.session = sess
	e.lastUsed = now
}

// Update runs fn on the user's session while holding that user's lock. Changes are kept
// only when fn returns nil. The returned session is a copy of the stored result.
func (s *Store) Update(userID string, fn func(*models.UserSession) error) (models.UserSession, error) {
	e := s.lock(userID)
	defer e.mu.Unlock()

	now := s.now()
	e.lastUsed = now
	working := e.session.Clone()
	if err := fn(&working); err != nil {
		return e.session.Clone(), err
	}
	working.UpdatedAt = now
	e.session = working
	return working.Clone(), nil
}

// Range calls fn with a snapshot of every session. Locked sessions are read once their
// current update finishes.
func (s *Store) Range(fn func(userID string, sess models.UserSession) bool) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	list := make([]*entry, 0, len(s.entries))
	for id, e := range s.entries {
		ids = append(ids, id)
		list = append(list, e)
	}
	s.mu.RUnlock()

	for i, e := range list {
		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		snap := e.session.Clone()
		e.mu.Unlock()
		if !fn(ids[i], snap) {
			return
		}
	}
}

// Peek returns a copy of the session without creating or touching it.
func (s *Store) Peek(userID string) (models.UserSession, bool) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return models.UserSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return models.UserSession{}, false
	}
	return e.session.Clone(), true
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep evicts sessions idle for longer than the TTL and returns how many were removed.
// Sessions currently locked are skipped.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			e.evicted = true
			delete(s.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// evictLRULocked removes the least recently used idle entry other than keep.
// Caller holds s.mu.
func (s *Store) evictLRULocked(keep string) {
	type candidate struct {
		id       string
		lastUsed time.Time
	}
	candidates := make([]candidate, 0, len(s.entries))
	for id, e := range s.entries {
		if id == keep {
			continue
		}
		if !e.mu.TryLock() {
			continue
		}
		candidates = append(candidates, candidate{id: id, lastUsed: e.lastUsed})
		e.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastUsed.Before(candidates[j].lastUsed) })

	for _, c := range candidates {
		e := s.entries[c.id]
		if !e.mu.TryLock() {
			continue
		}
		e.evicted = true
		delete(s.entries, c.id)
		e.mu.Unlock()
		slog.Debug("SessionStore evicted least recently used session", "userID", c.id)
		return
	}
}

// Start runs the janitor until ctx is cancelled.
func (s *Store) Start(ctx context.Context) {
	if s.ttl <= 0 || s.interval <= 0 {
		slog.Debug("SessionStore janitor disabled", "ttl", s.ttl, "interval", s.interval)
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	slog.Info("SessionStore janitor started", "ttl", s.ttl, "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SessionStore janitor stopped")
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("SessionStore evicted idle sessions", "count", n, "remaining", s.Len())
			}
		}
	}
}
