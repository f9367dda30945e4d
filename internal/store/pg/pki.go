package pg

import (
	"context"
	"database/sql"
	"errors"

	"trustgate.org/internal/pki"
)

// CertStore implements pki.Store on PostgreSQL.
type CertStore struct {
	*Store
}

var _ pki.Store = (*CertStore)(nil)

// Certificates returns the PKI view of the shared pool.
func (s *Store) Certificates() *CertStore { return &CertStore{Store: s} }

func (s *CertStore) Save(ctx context.Context, cert *pki.Certificate) error {
	_, err := s.db.ExecContext(ctx, `
		insert into certificates (id, org_code, kind, serial_number, subject, issuer,
			not_before, not_after, fingerprint, status, revoked_at, revoke_reason, superseded_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, cert.ID, cert.OrgCode, cert.Kind, cert.SerialNumber, cert.Subject, cert.Issuer,
		cert.NotBefore, cert.NotAfter, cert.Fingerprint, cert.Status,
		nullIfZero(cert.RevokedAt), nullIfEmpty(cert.RevokeReason), nullIfEmpty(cert.SupersededBy), cert.CreatedAt)
	return err
}

func (s *CertStore) Update(ctx context.Context, cert *pki.Certificate) error {
	res, err := s.db.ExecContext(ctx, `
		update certificates
		set status=$2, revoked_at=$3, revoke_reason=$4, superseded_by=$5
		where id=$1
	`, cert.ID, cert.Status, nullIfZero(cert.RevokedAt), nullIfEmpty(cert.RevokeReason), nullIfEmpty(cert.SupersededBy))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return pki.ErrNotFound
	}
	return nil
}

const certSelect = `
	select id, org_code, kind, serial_number, subject, issuer, not_before, not_after,
	       fingerprint, status, revoked_at, coalesce(revoke_reason,''), coalesce(superseded_by,''), created_at
	from certificates`

func scanCert(row rowScanner) (*pki.Certificate, error) {
	var c pki.Certificate
	var revokedAt sql.NullTime
	err := row.Scan(&c.ID, &c.OrgCode, &c.Kind, &c.SerialNumber, &c.Subject, &c.Issuer,
		&c.NotBefore, &c.NotAfter, &c.Fingerprint, &c.Status, &revokedAt, &c.RevokeReason, &c.SupersededBy, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	return &c, nil
}

func (s *CertStore) Find(ctx context.Context, id string) (*pki.Certificate, error) {
	c, err := scanCert(s.db.QueryRowContext(ctx, certSelect+` where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pki.ErrNotFound
	}
	return c, err
}

func (s *CertStore) FindBySerial(ctx context.Context, serial string) (*pki.Certificate, error) {
	c, err := scanCert(s.db.QueryRowContext(ctx, certSelect+` where serial_number=$1`, serial))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pki.ErrNotFound
	}
	return c, err
}

func (s *CertStore) ListByOrg(ctx context.Context, orgCode string) ([]*pki.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, certSelect+` where upper(org_code)=upper($1) order by created_at`, orgCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pki.Certificate
	for rows.Next() {
		c, err := scanCert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
