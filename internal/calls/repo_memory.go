package calls

import (
	"context"
	"sync"
)

// MemoryStore is a simple in-memory store useful for tests and CALL_STORE=memory.
// It is not intended for production use.

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]CallSession
	order    []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]CallSession{}}
}

func (s *MemoryStore) List(ctx context.Context) ([]CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallSession, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id])
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (CallSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *MemoryStore) Save(ctx context.Context, session CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		s.order = append(s.order, session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}
