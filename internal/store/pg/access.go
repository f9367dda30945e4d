package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trustgate.org/internal/access"
)

// AccessStore implements access.Store on PostgreSQL.
type AccessStore struct {
	*Store
}

var _ access.Store = (*AccessStore)(nil)

// Access returns the access-control view of the shared pool.
func (s *Store) Access() *AccessStore { return &AccessStore{Store: s} }

func (s *AccessStore) Upsert(ctx context.Context, right *access.AccessRight) error {
	// One row per (service, client subsystem) pair; re-granting keeps the
	// original id and granted_at.
	_, err := s.db.ExecContext(ctx, `
		insert into access_rights (id, service_id, client_subsystem_id, type, expires_at, granted_by, granted_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		on conflict (service_id, client_subsystem_id) do update
		set type=excluded.type, expires_at=excluded.expires_at, granted_by=excluded.granted_by, updated_at=excluded.updated_at
	`, right.ID, right.ServiceID, right.ClientSubsystemID, right.Type,
		nullIfZero(right.ExpiresAt), right.GrantedBy, right.GrantedAt, right.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return access.ErrNotFound
	}
	return err
}

const rightSelect = `
	select id, service_id, client_subsystem_id, type, expires_at, granted_by, granted_at, updated_at
	from access_rights`

func scanRight(row rowScanner) (*access.AccessRight, error) {
	var r access.AccessRight
	var expires sql.NullTime
	err := row.Scan(&r.ID, &r.ServiceID, &r.ClientSubsystemID, &r.Type, &expires, &r.GrantedBy, &r.GrantedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := expires.Time
		r.ExpiresAt = &t
	}
	return &r, nil
}

func (s *AccessStore) Find(ctx context.Context, serviceID, clientSubsystemID string) (*access.AccessRight, error) {
	r, err := scanRight(s.db.QueryRowContext(ctx, rightSelect+` where service_id=$1 and client_subsystem_id=$2`, serviceID, clientSubsystemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	return r, err
}

func (s *AccessStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from access_rights where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *AccessStore) DeleteExpired(ctx context.Context, before int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from access_rights where expires_at is not null and expires_at < $1`, time.Unix(before, 0).UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *AccessStore) ListByService(ctx context.Context, serviceID string) ([]*access.AccessRight, error) {
	rows, err := s.db.QueryContext(ctx, rightSelect+` where service_id=$1 order by granted_at`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.AccessRight
	for rows.Next() {
		r, err := scanRight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
