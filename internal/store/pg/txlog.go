package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"trustgate.org/internal/audit"
)

// TxStore implements audit.TxStore on PostgreSQL. Like the audit trail, the
// table is append-only; no update statement exists on purpose.
type TxStore struct {
	*Store
}

var _ audit.TxStore = (*TxStore)(nil)

// Transactions returns the transaction-log view of the shared pool.
func (s *Store) Transactions() *TxStore { return &TxStore{Store: s} }

func (s *TxStore) Append(ctx context.Context, tx *audit.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		insert into exchange_transactions (id, request_id, client_org, client_subsystem,
			provider_org, provider_subsystem, service_code, service_version,
			method, path, started_at, completed_at, duration_ms,
			request_bytes, response_bytes, status_code, status,
			message_hash, signature, error)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, tx.ID, tx.RequestID, tx.ClientOrg, nullIfEmpty(tx.ClientSub),
		tx.ProviderOrg, nullIfEmpty(tx.ProviderSub), tx.ServiceCode, nullIfEmpty(tx.ServiceVersion),
		tx.Method, nullIfEmpty(tx.Path), tx.StartedAt, tx.CompletedAt, tx.Duration.Milliseconds(),
		tx.RequestBytes, tx.ResponseBytes, tx.StatusCode, tx.Status,
		nullIfEmpty(tx.MessageHash), nullIfEmpty(tx.Signature), nullIfEmpty(tx.Error))
	return err
}

const txSelect = `
	select id, request_id, client_org, coalesce(client_subsystem,''),
	       provider_org, coalesce(provider_subsystem,''), service_code, coalesce(service_version,''),
	       method, coalesce(path,''), started_at, completed_at, duration_ms,
	       request_bytes, response_bytes, status_code, status,
	       coalesce(message_hash,''), coalesce(signature,''), coalesce(error,'')
	from exchange_transactions`

func scanTransaction(row rowScanner) (*audit.Transaction, error) {
	var tx audit.Transaction
	var durationMs int64
	err := row.Scan(&tx.ID, &tx.RequestID, &tx.ClientOrg, &tx.ClientSub,
		&tx.ProviderOrg, &tx.ProviderSub, &tx.ServiceCode, &tx.ServiceVersion,
		&tx.Method, &tx.Path, &tx.StartedAt, &tx.CompletedAt, &durationMs,
		&tx.RequestBytes, &tx.ResponseBytes, &tx.StatusCode, &tx.Status,
		&tx.MessageHash, &tx.Signature, &tx.Error)
	if err != nil {
		return nil, err
	}
	tx.Duration = time.Duration(durationMs) * time.Millisecond
	return &tx, nil
}

func (s *TxStore) Find(ctx context.Context, id string) (*audit.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, txSelect+` where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, audit.ErrNotFound
	}
	return tx, err
}

func (s *TxStore) List(ctx context.Context) ([]*audit.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, txSelect+` order by completed_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}
