package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps audit entries in process memory. Appended entries are
// copied in and copied out so callers cannot mutate the stored record.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	byID    map[string]int
}

// NewInMemoryStore creates an empty in-memory audit store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[string]int)}
}

func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneEntry(entry)
	s.byID[cp.ID] = len(s.entries)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(s.entries[idx]), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

// Tamper overwrites a stored entry in place without re-hashing. Exists for
// integrity-verification tests.
func (s *InMemoryStore) Tamper(id string, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	mutate(s.entries[idx])
	return true
}

// InMemoryTxStore keeps transaction records in process memory.
type InMemoryTxStore struct {
	mu   sync.RWMutex
	txs  []*Transaction
	byID map[string]int
}

// NewInMemoryTxStore creates an empty in-memory transaction store.
func NewInMemoryTxStore() *InMemoryTxStore {
	return &InMemoryTxStore{byID: make(map[string]int)}
}

func (s *InMemoryTxStore) Append(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.byID[cp.ID] = len(s.txs)
	s.txs = append(s.txs, &cp)
	return nil
}

func (s *InMemoryTxStore) Find(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.txs[idx]
	return &cp, nil
}

func (s *InMemoryTxStore) List(_ context.Context) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		cp := *tx
		out = append(out, &cp)
	}
	return out, nil
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}
