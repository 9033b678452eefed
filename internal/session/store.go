// Package session owns everything about a logged-in session: where session
// records live (Store) and how a user becomes an opaque payload and back
// (Serializer).
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound means the session does not exist, expired, or was revoked.
var ErrNotFound = errors.New("session: not found")

// Record is the server-side half of a session.
type Record struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// Store persists session records. Implementations must be safe for
// concurrent use. Any error other than ErrNotFound is treated as the store
// being unavailable.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Lookup(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in a map. It is the store for single-process
// deployments without Redis, and for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Record
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Record),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(rec.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep drops expired records and returns how many it removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.sessions {
		if !now.Before(rec.ExpiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored records, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
