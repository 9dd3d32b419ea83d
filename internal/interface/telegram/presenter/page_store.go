package presenter

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/null2264/MoodleBot/internal/infrastructure/metrics"
)

// DefaultPageTTL is how long a paged view stays navigable.
const DefaultPageTTL = 15 * time.Minute

// pageSession is one paged message.
type pageSession struct {
	owner     int64
	source    PageSource
	expiresAt time.Time
}

// PageStore keeps paged views so navigation buttons can re-render them.
// Sessions expire after the TTL; only the user who opened a view may
// navigate it.
type PageStore struct {
	mu       sync.Mutex
	sessions map[string]*pageSession
	ttl      time.Duration
	now      func() time.Time
}

// NewPageStore creates a store. ttl <= 0 uses DefaultPageTTL.
func NewPageStore(ttl time.Duration) *PageStore {
	if ttl <= 0 {
		ttl = DefaultPageTTL
	}
	return &PageStore{
		sessions: make(map[string]*pageSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Put stores source for owner and returns the new session id.
func (s *PageStore) Put(owner int64, source PageSource) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	s.sessions[id] = &pageSession{
		owner:     owner,
		source:    source,
		expiresAt: s.now().Add(s.ttl),
	}
	metrics.PageSessionsActive.Set(float64(len(s.sessions)))
	return id
}

// Get returns the source if the session exists, has not expired and
// belongs to owner. Access extends the session.
func (s *PageStore) Get(id string, owner int64) (PageSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	now := s.now()
	if now.After(sess.expiresAt) {
		delete(s.sessions, id)
		metrics.PageSessionsActive.Set(float64(len(s.sessions)))
		return nil, false
	}
	if sess.owner != owner {
		return nil, false
	}

	sess.expiresAt = now.Add(s.ttl)
	return sess.source, true
}

// Delete removes a session if it belongs to owner.
func (s *PageStore) Delete(id string, owner int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.owner != owner {
		return false
	}
	delete(s.sessions, id)
	metrics.PageSessionsActive.Set(float64(len(s.sessions)))
	return true
}

// Owner returns who opened a live session.
func (s *PageStore) Owner(id string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || s.now().After(sess.expiresAt) {
		return 0, false
	}
	return sess.owner, true
}

// Len returns the number of stored sessions, expired ones included.
func (s *PageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *PageStore) sweepLocked() {
	now := s.now()
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
		}
	}
}
