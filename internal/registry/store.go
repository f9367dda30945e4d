package registry

import "context"

// Store describes persistence required by the identity registry. Writes must be
// durable before the mutating call returns.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	UpdateOrganization(ctx context.Context, org *Organization) error
	DeleteOrganization(ctx context.Context, id string) error
	FindOrganization(ctx context.Context, id string) (*Organization, error)
	FindOrganizationByCode(ctx context.Context, code string) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)

	CreateSubsystem(ctx context.Context, sub *Subsystem) error
	UpdateSubsystem(ctx context.Context, sub *Subsystem) error
	DeleteSubsystemsByOrg(ctx context.Context, orgID string) error
	FindSubsystem(ctx context.Context, id string) (*Subsystem, error)
	FindSubsystemByCode(ctx context.Context, orgID, code string) (*Subsystem, error)
	ListSubsystemsByOrg(ctx context.Context, orgID string) ([]*Subsystem, error)

	CreateService(ctx context.Context, svc *Service) error
	UpdateService(ctx context.Context, svc *Service) error
	DeleteServicesBySubsystem(ctx context.Context, subsystemID string) error
	FindService(ctx context.Context, id string) (*Service, error)
	ListServicesBySubsystem(ctx context.Context, subsystemID string) ([]*Service, error)
	ListServices(ctx context.Context) ([]*Service, error)
}
