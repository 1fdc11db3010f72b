// Package memory keeps session document contexts in process memory.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
)

const DefaultTTL = 24 * time.Hour

type entry struct {
	document  string
	expiresAt time.Time
}

// Store is a mutex-guarded session map with sliding expiry. Only sessions
// holding a document occupy memory.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

func (s *Store) LoadDocument(_ context.Context, sessionID string) (string, bool, error) {
	if sessionID == "" {
		return "", false, domain.ErrMissingSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(sessionID)
	if !ok {
		return "", false, nil
	}
	e.expiresAt = s.now().Add(s.ttl)
	return e.document, true, nil
}

func (s *Store) SaveDocument(_ context.Context, sessionID, text string) error {
	if sessionID == "" {
		return domain.ErrMissingSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = &entry{
		document:  text,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Touch extends the lifetime of a session that holds a document. Unknown
// sessions are left absent, so cookieless traffic allocates nothing.
func (s *Store) Touch(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrMissingSessionID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.live(sessionID); ok {
		e.expiresAt = s.now().Add(s.ttl)
	}
	return nil
}

func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Start evicts expired sessions every interval until ctx is done.
func (s *Store) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.evictExpired(); n > 0 {
					slog.Debug("sessions_evicted", "count", n)
				}
			}
		}
	}()
}

func (s *Store) evictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// live returns the entry when present and unexpired. Caller holds mu.
func (s *Store) live(sessionID string) (*entry, bool) {
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.sessions, sessionID)
		return nil, false
	}
	return e, true
}
