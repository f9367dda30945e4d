package pki

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists certificate records.
type Store interface {
	Save(ctx context.Context, cert *Certificate) error
	Find(ctx context.Context, id string) (*Certificate, error)
	FindBySerial(ctx context.Context, serial string) (*Certificate, error)
	Update(ctx context.Context, cert *Certificate) error
	ListByOrg(ctx context.Context, orgCode string) ([]*Certificate, error)
}

// InMemoryStore keeps certificate records in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	certs map[string]*Certificate
}

// NewInMemoryStore creates an empty certificate store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{certs: make(map[string]*Certificate)}
}

func (s *InMemoryStore) Save(ctx context.Context, cert *Certificate) error {
	if cert == nil || cert.ID == "" {
		return fmt.Errorf("%w: certificate id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cert
	s.certs[cert.ID] = &cp
	return nil
}

func (s *InMemoryStore) Find(ctx context.Context, id string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cert
	return &cp, nil
}

func (s *InMemoryStore) FindBySerial(ctx context.Context, serial string) (*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cert := range s.certs {
		if cert.SerialNumber == serial {
			cp := *cert
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) Update(ctx context.Context, cert *Certificate) error {
	if cert == nil || cert.ID == "" {
		return fmt.Errorf("%w: certificate id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certs[cert.ID]; !ok {
		return ErrNotFound
	}
	cp := *cert
	s.certs[cert.ID] = &cp
	return nil
}

func (s *InMemoryStore) ListByOrg(ctx context.Context, orgCode string) ([]*Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Certificate
	for _, cert := range s.certs {
		if cert.OrgCode == orgCode {
			cp := *cert
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
