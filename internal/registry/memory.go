package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryStore implements Store with per-entity locks so organization,
// subsystem and service operations do not serialize each other.
type InMemoryStore struct {
	orgMu sync.RWMutex
	orgs  map[string]*Organization

	subMu sync.RWMutex
	subs  map[string]*Subsystem

	svcMu sync.RWMutex
	svcs  map[string]*Service
}

// NewInMemoryStore creates an empty registry store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orgs: make(map[string]*Organization),
		subs: make(map[string]*Subsystem),
		svcs: make(map[string]*Service),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateOrganization(ctx context.Context, org *Organization) error {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()
	for _, existing := range s.orgs {
		if strings.EqualFold(existing.Code, org.Code) {
			return ErrDuplicateCode
		}
	}
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateOrganization(ctx context.Context, org *Organization) error {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return ErrNotFound
	}
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteOrganization(ctx context.Context, id string) error {
	s.orgMu.Lock()
	defer s.orgMu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return ErrNotFound
	}
	delete(s.orgs, id)
	return nil
}

func (s *InMemoryStore) FindOrganization(ctx context.Context, id string) (*Organization, error) {
	s.orgMu.RLock()
	defer s.orgMu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (s *InMemoryStore) FindOrganizationByCode(ctx context.Context, code string) (*Organization, error) {
	s.orgMu.RLock()
	defer s.orgMu.RUnlock()
	for _, org := range s.orgs {
		if strings.EqualFold(org.Code, code) {
			cp := *org
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	s.orgMu.RLock()
	defer s.orgMu.RUnlock()
	out := make([]*Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		cp := *org
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemoryStore) CreateSubsystem(ctx context.Context, sub *Subsystem) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, existing := range s.subs {
		if existing.OrganizationID == sub.OrganizationID && strings.EqualFold(existing.Code, sub.Code) {
			return ErrDuplicateCode
		}
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateSubsystem(ctx context.Context, sub *Subsystem) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteSubsystemsByOrg(ctx context.Context, orgID string) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, sub := range s.subs {
		if sub.OrganizationID == orgID {
			delete(s.subs, id)
		}
	}
	return nil
}

func (s *InMemoryStore) FindSubsystem(ctx context.Context, id string) (*Subsystem, error) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *InMemoryStore) FindSubsystemByCode(ctx context.Context, orgID, code string) (*Subsystem, error) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		if sub.OrganizationID == orgID && strings.EqualFold(sub.Code, code) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) ListSubsystemsByOrg(ctx context.Context, orgID string) ([]*Subsystem, error) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	var out []*Subsystem
	for _, sub := range s.subs {
		if sub.OrganizationID == orgID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemoryStore) CreateService(ctx context.Context, svc *Service) error {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	for _, existing := range s.svcs {
		if existing.SubsystemID == svc.SubsystemID &&
			strings.EqualFold(existing.Code, svc.Code) &&
			existing.Version == svc.Version {
			return ErrDuplicateService
		}
	}
	cp := *svc
	s.svcs[svc.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateService(ctx context.Context, svc *Service) error {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	if _, ok := s.svcs[svc.ID]; !ok {
		return ErrNotFound
	}
	cp := *svc
	s.svcs[svc.ID] = &cp
	return nil
}

func (s *InMemoryStore) DeleteServicesBySubsystem(ctx context.Context, subsystemID string) error {
	s.svcMu.Lock()
	defer s.svcMu.Unlock()
	for id, svc := range s.svcs {
		if svc.SubsystemID == subsystemID {
			delete(s.svcs, id)
		}
	}
	return nil
}

func (s *InMemoryStore) FindService(ctx context.Context, id string) (*Service, error) {
	s.svcMu.RLock()
	defer s.svcMu.RUnlock()
	svc, ok := s.svcs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *svc
	return &cp, nil
}

func (s *InMemoryStore) ListServicesBySubsystem(ctx context.Context, subsystemID string) ([]*Service, error) {
	s.svcMu.RLock()
	defer s.svcMu.RUnlock()
	var out []*Service
	for _, svc := range s.svcs {
		if svc.SubsystemID == subsystemID {
			cp := *svc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (s *InMemoryStore) ListServices(ctx context.Context) ([]*Service, error) {
	s.svcMu.RLock()
	defer s.svcMu.RUnlock()
	out := make([]*Service, 0, len(s.svcs))
	for _, svc := range s.svcs {
		cp := *svc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
