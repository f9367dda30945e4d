package access

import (
	"context"
	"sync"
)

// Store persists access rights with upsert semantics per
// (service, client subsystem) pair.
type Store interface {
	Upsert(ctx context.Context, right *AccessRight) error
	Find(ctx context.Context, serviceID, clientSubsystemID string) (*AccessRight, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, before int64) (int, error)
	ListByService(ctx context.Context, serviceID string) ([]*AccessRight, error)
}

type pairKey struct {
	serviceID string
	clientID  string
}

// InMemoryStore keeps access rights in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	byPair map[pairKey]*AccessRight
	byID   map[string]pairKey
}

// NewInMemoryStore creates an empty access store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byPair: make(map[pairKey]*AccessRight),
		byID:   make(map[string]pairKey),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Upsert(ctx context.Context, right *AccessRight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{right.ServiceID, right.ClientSubsystemID}
	if existing, ok := s.byPair[key]; ok {
		// Keep the original id and grant time; overwrite the rest.
		right.ID = existing.ID
		right.GrantedAt = existing.GrantedAt
	}
	cp := *right
	s.byPair[key] = &cp
	s.byID[right.ID] = key
	return nil
}

func (s *InMemoryStore) Find(ctx context.Context, serviceID, clientSubsystemID string) (*AccessRight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	right, ok := s.byPair[pairKey{serviceID, clientSubsystemID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *right
	return &cp, nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byPair, key)
	delete(s.byID, id)
	return nil
}

func (s *InMemoryStore) DeleteExpired(ctx context.Context, before int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, right := range s.byPair {
		if right.ExpiresAt != nil && right.ExpiresAt.Unix() < before {
			delete(s.byPair, key)
			delete(s.byID, right.ID)
			removed++
		}
	}
	return removed, nil
}

func (s *InMemoryStore) ListByService(ctx context.Context, serviceID string) ([]*AccessRight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AccessRight
	for _, right := range s.byPair {
		if right.ServiceID == serviceID {
			cp := *right
			out = append(out, &cp)
		}
	}
	return out, nil
}
