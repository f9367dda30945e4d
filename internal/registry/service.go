package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"trustgate.org/internal/ids"
)

// Registry provides validated access to organizations, subsystems and services.
type Registry struct {
	store Store
	now   func() time.Time
}

// Option configures the Registry.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a Registry over the given store.
func New(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry: store is required")
	}
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RegisterOrganization creates a new organization in pending status.
func (r *Registry) RegisterOrganization(ctx context.Context, code, name, memberClass, contactEmail string) (*Organization, error) {
	code = strings.TrimSpace(strings.ToUpper(code))
	name = strings.TrimSpace(name)
	memberClass = strings.TrimSpace(strings.ToUpper(memberClass))
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrInvalidInput)
	}
	if memberClass == "" {
		memberClass = "ORG"
	}
	now := r.now().UTC()
	org := &Organization{
		ID:           ids.New(),
		Code:         code,
		Name:         name,
		MemberClass:  memberClass,
		ContactEmail: strings.TrimSpace(contactEmail),
		Status:       OrgStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// VerifyOrganization transitions pending -> active and stamps the verifier.
// Calling it on an already active organization re-stamps the verification.
func (r *Registry) VerifyOrganization(ctx context.Context, id, verifiedBy, certificateID string) (*Organization, error) {
	org, err := r.store.FindOrganization(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if org.Status == OrgStatusSuspended {
		return nil, fmt.Errorf("%w: cannot verify a suspended organization", ErrInvalidStatus)
	}
	now := r.now().UTC()
	org.Status = OrgStatusActive
	org.VerifiedBy = strings.TrimSpace(verifiedBy)
	org.VerifiedAt = &now
	if cid := strings.TrimSpace(certificateID); cid != "" {
		org.CertificateID = cid
	}
	org.UpdatedAt = now
	if err := r.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// SuspendOrganization transitions active -> suspended.
func (r *Registry) SuspendOrganization(ctx context.Context, id string) (*Organization, error) {
	return r.setOrgStatus(ctx, id, OrgStatusActive, OrgStatusSuspended)
}

// ReactivateOrganization transitions suspended -> active.
func (r *Registry) ReactivateOrganization(ctx context.Context, id string) (*Organization, error) {
	return r.setOrgStatus(ctx, id, OrgStatusSuspended, OrgStatusActive)
}

func (r *Registry) setOrgStatus(ctx context.Context, id, from, to string) (*Organization, error) {
	org, err := r.store.FindOrganization(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if org.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, org.Status, to)
	}
	org.Status = to
	org.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateOrganization(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

// DeleteOrganization removes a pending organization and cascades to its
// subsystems and their services. Active organizations are never hard-deleted.
func (r *Registry) DeleteOrganization(ctx context.Context, id string) error {
	org, err := r.store.FindOrganization(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if org.Status != OrgStatusPending {
		return fmt.Errorf("%w: only pending organizations can be deleted", ErrInvalidStatus)
	}
	subs, err := r.store.ListSubsystemsByOrg(ctx, org.ID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := r.store.DeleteServicesBySubsystem(ctx, sub.ID); err != nil {
			return err
		}
	}
	if err := r.store.DeleteSubsystemsByOrg(ctx, org.ID); err != nil {
		return err
	}
	return r.store.DeleteOrganization(ctx, org.ID)
}

// GetOrganization finds an organization by id.
func (r *Registry) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return r.store.FindOrganization(ctx, strings.TrimSpace(id))
}

// GetOrganizationByCode finds an organization by its unique code.
func (r *Registry) GetOrganizationByCode(ctx context.Context, code string) (*Organization, error) {
	return r.store.FindOrganizationByCode(ctx, strings.TrimSpace(code))
}

// ListOrganizations returns all organizations ordered by code.
func (r *Registry) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	return r.store.ListOrganizations(ctx)
}

// CreateSubsystem registers a deployment unit under an organization.
func (r *Registry) CreateSubsystem(ctx context.Context, orgID, code, baseAddress string) (*Subsystem, error) {
	orgID = strings.TrimSpace(orgID)
	code = strings.TrimSpace(strings.ToUpper(code))
	baseAddress = strings.TrimSpace(baseAddress)
	if code == "" || baseAddress == "" {
		return nil, fmt.Errorf("%w: code and base address are required", ErrInvalidInput)
	}
	if u, err := url.Parse(baseAddress); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base address must be an absolute URL", ErrInvalidInput)
	}
	if _, err := r.store.FindOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	now := r.now().UTC()
	sub := &Subsystem{
		ID:             ids.New(),
		OrganizationID: orgID,
		Code:           code,
		BaseAddress:    strings.TrimRight(baseAddress, "/"),
		Status:         SubsystemStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store.CreateSubsystem(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubsystem finds a subsystem by id.
func (r *Registry) GetSubsystem(ctx context.Context, id string) (*Subsystem, error) {
	return r.store.FindSubsystem(ctx, strings.TrimSpace(id))
}

// ListSubsystems returns every subsystem of an organization.
func (r *Registry) ListSubsystems(ctx context.Context, orgID string) ([]*Subsystem, error) {
	orgID = strings.TrimSpace(orgID)
	if _, err := r.store.FindOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	return r.store.ListSubsystemsByOrg(ctx, orgID)
}

// ListServices returns every service version of a subsystem.
func (r *Registry) ListServices(ctx context.Context, subsystemID string) ([]*Service, error) {
	subsystemID = strings.TrimSpace(subsystemID)
	if _, err := r.store.FindSubsystem(ctx, subsystemID); err != nil {
		return nil, err
	}
	return r.store.ListServicesBySubsystem(ctx, subsystemID)
}

// FindSubsystem resolves a subsystem by organization and subsystem codes.
func (r *Registry) FindSubsystem(ctx context.Context, orgCode, subsystemCode string) (*Organization, *Subsystem, error) {
	org, err := r.store.FindOrganizationByCode(ctx, strings.TrimSpace(orgCode))
	if err != nil {
		return nil, nil, err
	}
	sub, err := r.store.FindSubsystemByCode(ctx, org.ID, strings.TrimSpace(subsystemCode))
	if err != nil {
		return nil, nil, err
	}
	return org, sub, nil
}

// RegisterService registers one version of a service under a subsystem.
func (r *Registry) RegisterService(ctx context.Context, subsystemID, code, version, svcType, title, description string, rateLimit, timeoutMs int) (*Service, error) {
	subsystemID = strings.TrimSpace(subsystemID)
	code = strings.TrimSpace(code)
	version = strings.TrimSpace(version)
	if code == "" || version == "" {
		return nil, fmt.Errorf("%w: service code and version are required", ErrInvalidInput)
	}
	svcType = strings.TrimSpace(strings.ToLower(svcType))
	if svcType == "" {
		svcType = ServiceTypeRequestResponse
	}
	if svcType != ServiceTypeRequestResponse && svcType != ServiceTypeOneWay {
		return nil, fmt.Errorf("%w: unsupported service type %s", ErrInvalidInput, svcType)
	}
	if _, err := r.store.FindSubsystem(ctx, subsystemID); err != nil {
		return nil, err
	}
	if rateLimit <= 0 {
		rateLimit = 100
	}
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	now := r.now().UTC()
	svc := &Service{
		ID:          ids.New(),
		SubsystemID: subsystemID,
		Code:        code,
		Version:     version,
		Type:        svcType,
		Status:      ServiceStatusActive,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		RateLimit:   rateLimit,
		TimeoutMs:   timeoutMs,
		Health:      ServiceHealth{Status: HealthUnknown},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// ResolveService returns the exact version when given, otherwise the
// lexically-highest version registered for the service code.
func (r *Registry) ResolveService(ctx context.Context, orgCode, subsystemCode, serviceCode, version string) (*Organization, *Subsystem, *Service, error) {
	org, sub, err := r.FindSubsystem(ctx, orgCode, subsystemCode)
	if err != nil {
		return nil, nil, nil, err
	}
	services, err := r.store.ListServicesBySubsystem(ctx, sub.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	serviceCode = strings.TrimSpace(serviceCode)
	version = strings.TrimSpace(version)
	var best *Service
	for _, svc := range services {
		if !strings.EqualFold(svc.Code, serviceCode) {
			continue
		}
		if version != "" {
			if svc.Version == version {
				return org, sub, svc, nil
			}
			continue
		}
		if best == nil || svc.Version > best.Version {
			best = svc
		}
	}
	if best == nil {
		return nil, nil, nil, ErrNotFound
	}
	return org, sub, best, nil
}

// GetService finds a service by id.
func (r *Registry) GetService(ctx context.Context, id string) (*Service, error) {
	return r.store.FindService(ctx, strings.TrimSpace(id))
}

// SetServiceStatus moves a service between active, deprecated and disabled.
func (r *Registry) SetServiceStatus(ctx context.Context, id, status string) (*Service, error) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != ServiceStatusActive && status != ServiceStatusDeprecated && status != ServiceStatusDisabled {
		return nil, fmt.Errorf("%w: unsupported service status %s", ErrInvalidInput, status)
	}
	svc, err := r.store.FindService(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	svc.Status = status
	svc.UpdatedAt = r.now().UTC()
	if err := r.store.UpdateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// UpdateHealth overwrites the health snapshot of a service.
func (r *Registry) UpdateHealth(ctx context.Context, serviceID, status string, successRate float64) error {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case HealthHealthy, HealthDegraded, HealthUnhealthy, HealthUnknown:
	default:
		return fmt.Errorf("%w: unsupported health status %s", ErrInvalidInput, status)
	}
	if successRate < 0 || successRate > 1 {
		return fmt.Errorf("%w: success rate must be within [0,1]", ErrInvalidInput)
	}
	svc, err := r.store.FindService(ctx, strings.TrimSpace(serviceID))
	if err != nil {
		return err
	}
	svc.Health = ServiceHealth{
		Status:      status,
		LastCheckAt: r.now().UTC(),
		SuccessRate: successRate,
	}
	svc.UpdatedAt = r.now().UTC()
	return r.store.UpdateService(ctx, svc)
}

// DiscoverServices lists active services for the public surface, optionally
// narrowed by a keyword matched against code, title and description.
func (r *Registry) DiscoverServices(ctx context.Context, keyword string) ([]DiscoveredService, error) {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	keyword = strings.TrimSpace(strings.ToLower(keyword))
	var out []DiscoveredService
	for _, svc := range services {
		if svc.Status != ServiceStatusActive {
			continue
		}
		if keyword != "" && !matchesKeyword(svc, keyword) {
			continue
		}
		sub, err := r.store.FindSubsystem(ctx, svc.SubsystemID)
		if err != nil {
			continue
		}
		org, err := r.store.FindOrganization(ctx, sub.OrganizationID)
		if err != nil || org.Status != OrgStatusActive {
			continue
		}
		out = append(out, DiscoveredService{
			OrganizationCode: org.Code,
			SubsystemCode:    sub.Code,
			ServiceCode:      svc.Code,
			Version:          svc.Version,
			Type:             svc.Type,
			Title:            svc.Title,
			Description:      svc.Description,
		})
	}
	return out, nil
}

func matchesKeyword(svc *Service, keyword string) bool {
	return strings.Contains(strings.ToLower(svc.Code), keyword) ||
		strings.Contains(strings.ToLower(svc.Title), keyword) ||
		strings.Contains(strings.ToLower(svc.Description), keyword)
}
