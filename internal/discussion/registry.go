package discussion

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrSessionNotFound is returned for unknown or expired sessions and for
// sessions owned by another user.
var ErrSessionNotFound = errors.New("discussion session not found")

// Registry keeps live sessions. Idle sessions expire after the TTL and the
// least recently used are evicted beyond the size limit; evicted sessions
// discard any result still in flight.
type Registry struct {
	orch     *Orchestrator
	sessions *expirable.LRU[string, *Session]
}

// NewRegistry creates a Registry holding at most size sessions for ttl each.
func NewRegistry(orch *Orchestrator, size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = 1024
	}
	onEvict := func(_ string, s *Session) { s.Reset() }
	return &Registry{
		orch:     orch,
		sessions: expirable.NewLRU[string, *Session](size, onEvict, ttl),
	}
}

// Create starts a new session for userID.
func (r *Registry) Create(userID string) *Session {
	s := NewSession(uuid.NewString(), userID, r.orch)
	r.sessions.Add(s.ID, s)
	return s
}

// Get returns the session id if it belongs to userID.
func (r *Registry) Get(id, userID string) (*Session, error) {
	s, ok := r.sessions.Get(id)
	if !ok || s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops a session.
func (r *Registry) Remove(id string) {
	r.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.sessions.Len()
}
