package session

import (
	"context"
	"sync"
)

// InMemoryStore keeps session records in a map. Used by tests and by the
// CLI processing path when no database is configured.
type InMemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recs: make(map[string]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ProjectID] = rec
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, projectID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[projectID]
	return rec, ok, nil
}

func (s *InMemoryStore) Delete(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, projectID)
	return nil
}
