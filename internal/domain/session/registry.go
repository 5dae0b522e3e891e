package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSweepInterval = time.Minute

// Registry holds live sessions keyed by the session cookie id. Sessions that
// sit idle past the TTL are torn down by a background sweeper so abandoned
// logins do not hold timers and challenge handles forever.
type Registry struct {
	idleTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry(idleTTL time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		idleTTL:  idleTTL,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create registers a fresh logged-out session and returns it with its id.
func (r *Registry) Create() *Session {
	s := &Session{
		ID:         uuid.New(),
		state:      StateLoggedOut,
		lastAccess: r.now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for id and marks it as touched. The second return
// is false when the id is unknown or already evicted.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	s.lastAccess = r.now()
	s.mu.Unlock()
	return s, true
}

// Remove drops the session from the registry and clears its state.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.endSession()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep runs the idle eviction loop until ctx is cancelled.
func (r *Registry) Sweep(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := s.lastAccess.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.endSession()
	}
	if len(expired) > 0 {
		r.logger.Info().Int("count", len(expired)).Msg("evicted idle sessions")
	}
}
