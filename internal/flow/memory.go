package flow

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

func newUUID() string {
	return uuid.NewString()
}

// MemoryStore keeps flows in process memory. Expired entries stay until Get,
// IncrementAttempts, or Sweep observes them.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]*Flow
	opts  Options
}

// NewMemoryStore builds an in-process store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		flows: make(map[string]*Flow),
		opts:  opts.withDefaults(),
	}
}

func (s *MemoryStore) Create(_ context.Context, username string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	for i := 0; i < maxIDCollisions; i++ {
		id := s.opts.NewID()
		if existing, ok := s.flows[id]; ok && !existing.Expired(now) {
			continue
		}
		f := &Flow{
			ID:        id,
			Username:  username,
			ExpiresAt: now.Add(s.opts.TTL),
		}
		s.flows[id] = f
		snapshot := *f
		return &snapshot, nil
	}
	return nil, errIDExhausted
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.liveLocked(id)
	if err != nil {
		return nil, err
	}
	snapshot := *f
	return &snapshot, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}

func (s *MemoryStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.liveLocked(id)
	if err != nil {
		return 0, err
	}
	f.Attempts++
	return f.Attempts, nil
}

func (s *MemoryStore) Consume(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.liveLocked(id); err != nil {
		return err
	}
	delete(s.flows, id)
	return nil
}

// Sweep drops every expired flow and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	removed := 0
	for id, f := range s.flows {
		if f.Expired(now) {
			delete(s.flows, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flows)
}

func (s *MemoryStore) liveLocked(id string) (*Flow, error) {
	f, ok := s.flows[id]
	if !ok {
		return nil, ErrFlowNotFound
	}
	if f.Expired(s.opts.Now()) {
		delete(s.flows, id)
		return nil, ErrFlowNotFound
	}
	return f, nil
}
