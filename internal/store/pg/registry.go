package pg

import (
	"context"
	"database/sql"
	"errors"

	"trustgate.org/internal/registry"
)

// RegistryStore implements registry.Store on PostgreSQL.
type RegistryStore struct {
	*Store
}

var _ registry.Store = (*RegistryStore)(nil)

// Registry returns the registry view of the shared pool.
func (s *Store) Registry() *RegistryStore { return &RegistryStore{Store: s} }

func (s *RegistryStore) CreateOrganization(ctx context.Context, org *registry.Organization) error {
	_, err := s.db.ExecContext(ctx, `
		insert into organizations (id, code, name, member_class, contact_email, status, certificate_id, verified_by, verified_at, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, org.ID, org.Code, org.Name, org.MemberClass, nullIfEmpty(org.ContactEmail), org.Status,
		nullIfEmpty(org.CertificateID), nullIfEmpty(org.VerifiedBy), nullIfZero(org.VerifiedAt),
		org.CreatedAt, org.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return registry.ErrDuplicateCode
	}
	return err
}

func (s *RegistryStore) UpdateOrganization(ctx context.Context, org *registry.Organization) error {
	res, err := s.db.ExecContext(ctx, `
		update organizations
		set name=$2, member_class=$3, contact_email=$4, status=$5, certificate_id=$6, verified_by=$7, verified_at=$8, updated_at=$9
		where id=$1
	`, org.ID, org.Name, org.MemberClass, nullIfEmpty(org.ContactEmail), org.Status,
		nullIfEmpty(org.CertificateID), nullIfEmpty(org.VerifiedBy), nullIfZero(org.VerifiedAt), org.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *RegistryStore) DeleteOrganization(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from organizations where id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *RegistryStore) FindOrganization(ctx context.Context, id string) (*registry.Organization, error) {
	return s.scanOrg(s.db.QueryRowContext(ctx, orgSelect+` where id=$1`, id))
}

func (s *RegistryStore) FindOrganizationByCode(ctx context.Context, code string) (*registry.Organization, error) {
	return s.scanOrg(s.db.QueryRowContext(ctx, orgSelect+` where upper(code)=upper($1)`, code))
}

func (s *RegistryStore) ListOrganizations(ctx context.Context) ([]*registry.Organization, error) {
	rows, err := s.db.QueryContext(ctx, orgSelect+` order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.Organization
	for rows.Next() {
		org, err := scanOrgRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

const orgSelect = `
	select id, code, name, member_class, coalesce(contact_email,''), status,
	       coalesce(certificate_id,''), coalesce(verified_by,''), verified_at, created_at, updated_at
	from organizations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrgRow(row rowScanner) (*registry.Organization, error) {
	var org registry.Organization
	var verifiedAt sql.NullTime
	err := row.Scan(&org.ID, &org.Code, &org.Name, &org.MemberClass, &org.ContactEmail, &org.Status,
		&org.CertificateID, &org.VerifiedBy, &verifiedAt, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		org.VerifiedAt = &t
	}
	return &org, nil
}

func (s *RegistryStore) scanOrg(row *sql.Row) (*registry.Organization, error) {
	org, err := scanOrgRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return org, nil
}

func (s *RegistryStore) CreateSubsystem(ctx context.Context, sub *registry.Subsystem) error {
	_, err := s.db.ExecContext(ctx, `
		insert into subsystems (id, organization_id, code, base_address, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, sub.ID, sub.OrganizationID, sub.Code, sub.BaseAddress, sub.Status, sub.CreatedAt, sub.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return registry.ErrDuplicateCode
		case pgErrForeignKeyViolation:
			return registry.ErrNotFound
		}
	}
	return err
}

func (s *RegistryStore) UpdateSubsystem(ctx context.Context, sub *registry.Subsystem) error {
	res, err := s.db.ExecContext(ctx, `
		update subsystems set code=$2, base_address=$3, status=$4, updated_at=$5 where id=$1
	`, sub.ID, sub.Code, sub.BaseAddress, sub.Status, sub.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *RegistryStore) DeleteSubsystemsByOrg(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx, `delete from subsystems where organization_id=$1`, orgID)
	return err
}

const subSelect = `
	select id, organization_id, code, base_address, status, created_at, updated_at
	from subsystems`

func scanSub(row rowScanner) (*registry.Subsystem, error) {
	var sub registry.Subsystem
	err := row.Scan(&sub.ID, &sub.OrganizationID, &sub.Code, &sub.BaseAddress, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *RegistryStore) FindSubsystem(ctx context.Context, id string) (*registry.Subsystem, error) {
	sub, err := scanSub(s.db.QueryRowContext(ctx, subSelect+` where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	return sub, err
}

func (s *RegistryStore) FindSubsystemByCode(ctx context.Context, orgID, code string) (*registry.Subsystem, error) {
	sub, err := scanSub(s.db.QueryRowContext(ctx, subSelect+` where organization_id=$1 and lower(code)=lower($2)`, orgID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	return sub, err
}

func (s *RegistryStore) ListSubsystemsByOrg(ctx context.Context, orgID string) ([]*registry.Subsystem, error) {
	rows, err := s.db.QueryContext(ctx, subSelect+` where organization_id=$1 order by code`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.Subsystem
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *RegistryStore) CreateService(ctx context.Context, svc *registry.Service) error {
	_, err := s.db.ExecContext(ctx, `
		insert into services (id, subsystem_id, code, version, type, status, title, description,
			rate_limit, timeout_ms, health_status, health_checked_at, health_success_rate, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, svc.ID, svc.SubsystemID, svc.Code, svc.Version, svc.Type, svc.Status,
		nullIfEmpty(svc.Title), nullIfEmpty(svc.Description), svc.RateLimit, svc.TimeoutMs,
		svc.Health.Status, nullIfZero(&svc.Health.LastCheckAt), svc.Health.SuccessRate,
		svc.CreatedAt, svc.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return registry.ErrDuplicateService
		case pgErrForeignKeyViolation:
			return registry.ErrNotFound
		}
	}
	return err
}

func (s *RegistryStore) UpdateService(ctx context.Context, svc *registry.Service) error {
	res, err := s.db.ExecContext(ctx, `
		update services
		set status=$2, title=$3, description=$4, rate_limit=$5, timeout_ms=$6,
		    health_status=$7, health_checked_at=$8, health_success_rate=$9, updated_at=$10
		where id=$1
	`, svc.ID, svc.Status, nullIfEmpty(svc.Title), nullIfEmpty(svc.Description),
		svc.RateLimit, svc.TimeoutMs,
		svc.Health.Status, nullIfZero(&svc.Health.LastCheckAt), svc.Health.SuccessRate, svc.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *RegistryStore) DeleteServicesBySubsystem(ctx context.Context, subsystemID string) error {
	_, err := s.db.ExecContext(ctx, `delete from services where subsystem_id=$1`, subsystemID)
	return err
}

const svcSelect = `
	select id, subsystem_id, code, version, type, status, coalesce(title,''), coalesce(description,''),
	       rate_limit, timeout_ms, health_status, health_checked_at, health_success_rate, created_at, updated_at
	from services`

func scanSvc(row rowScanner) (*registry.Service, error) {
	var svc registry.Service
	var checkedAt sql.NullTime
	err := row.Scan(&svc.ID, &svc.SubsystemID, &svc.Code, &svc.Version, &svc.Type, &svc.Status,
		&svc.Title, &svc.Description, &svc.RateLimit, &svc.TimeoutMs,
		&svc.Health.Status, &checkedAt, &svc.Health.SuccessRate, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if checkedAt.Valid {
		svc.Health.LastCheckAt = checkedAt.Time
	}
	return &svc, nil
}

func (s *RegistryStore) FindService(ctx context.Context, id string) (*registry.Service, error) {
	svc, err := scanSvc(s.db.QueryRowContext(ctx, svcSelect+` where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	return svc, err
}

func (s *RegistryStore) ListServicesBySubsystem(ctx context.Context, subsystemID string) ([]*registry.Service, error) {
	return s.listServices(ctx, svcSelect+` where subsystem_id=$1 order by code, version`, subsystemID)
}

func (s *RegistryStore) ListServices(ctx context.Context) ([]*registry.Service, error) {
	return s.listServices(ctx, svcSelect+` order by code, version`)
}

func (s *RegistryStore) listServices(ctx context.Context, query string, args ...any) ([]*registry.Service, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*registry.Service
	for rows.Next() {
		svc, err := scanSvc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}
