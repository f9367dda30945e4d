package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trustgate.org/internal/audit"
)

// AuditStore implements audit.Store on PostgreSQL. Entries are append-only;
// no update statement exists on purpose.
type AuditStore struct {
	*Store
}

var _ audit.Store = (*AuditStore)(nil)

// Audit returns the audit view of the shared pool.
func (s *Store) Audit() *AuditStore { return &AuditStore{Store: s} }

func (s *AuditStore) Append(ctx context.Context, entry *audit.Entry) error {
	details := []byte("{}")
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries (id, ts, event_type, severity, actor_id, actor_type,
			organization_code, resource_type, resource_id, action, details, hash)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.Timestamp, entry.EventType, entry.Severity,
		nullIfEmpty(entry.ActorID), nullIfEmpty(entry.ActorType),
		nullIfEmpty(entry.OrganizationCode), nullIfEmpty(entry.ResourceType), nullIfEmpty(entry.ResourceID),
		entry.Action, details, entry.Hash)
	return err
}

const entrySelect = `
	select id, ts, event_type, severity, coalesce(actor_id,''), coalesce(actor_type,''),
	       coalesce(organization_code,''), coalesce(resource_type,''), coalesce(resource_id,''),
	       action, details, hash
	from audit_entries`

func scanEntry(row rowScanner) (*audit.Entry, error) {
	var e audit.Entry
	var details []byte
	err := row.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Severity, &e.ActorID, &e.ActorType,
		&e.OrganizationCode, &e.ResourceType, &e.ResourceID, &e.Action, &details, &e.Hash)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 && string(details) != "{}" {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return &e, nil
}

func (s *AuditStore) Find(ctx context.Context, id string) (*audit.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, entrySelect+` where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	return e, err
}

func (s *AuditStore) List(ctx context.Context) ([]*audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, entrySelect+` order by ts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
