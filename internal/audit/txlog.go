package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"trustgate.org/internal/ids"
)

// Transaction outcome statuses.
const (
	TxStatusSuccess  = "success"
	TxStatusDenied   = "denied"
	TxStatusRejected = "rejected"
	TxStatusFailed   = "failed"
)

// Transaction is the per-exchange record: who called whom, what was sent and
// how the call ended.
type Transaction struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"request_id"`
	ClientOrg      string        `json:"client_org"`
	ClientSub      string        `json:"client_subsystem,omitempty"`
	ProviderOrg    string        `json:"provider_org"`
	ProviderSub    string        `json:"provider_subsystem,omitempty"`
	ServiceCode    string        `json:"service_code"`
	ServiceVersion string        `json:"service_version,omitempty"`
	Method         string        `json:"method"`
	Path           string        `json:"path,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Duration       time.Duration `json:"duration_ms"`
	RequestBytes   int           `json:"request_bytes"`
	ResponseBytes  int           `json:"response_bytes"`
	StatusCode     int           `json:"status_code"`
	Status         string        `json:"status"`
	MessageHash    string        `json:"message_hash,omitempty"`
	Signature      string        `json:"signature,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// TxQuery filters transaction records.
type TxQuery struct {
	ClientOrg   string
	ProviderOrg string
	ServiceCode string
	Status      string
	Start       time.Time
	End         time.Time
	Limit       int
	Offset      int
}

// TxStore persists transaction records append-only.
type TxStore interface {
	Append(ctx context.Context, tx *Transaction) error
	Find(ctx context.Context, id string) (*Transaction, error)
	List(ctx context.Context) ([]*Transaction, error)
}

// TransactionLog records completed exchanges in the given store.
type TransactionLog struct {
	store TxStore
}

// NewTransactionLog constructs the transaction log over the given store.
func NewTransactionLog(store TxStore) (*TransactionLog, error) {
	if store == nil {
		return nil, errors.New("audit: transaction store is required")
	}
	return &TransactionLog{store: store}, nil
}

// Record validates essentials, assigns an id and stores the transaction.
func (t *TransactionLog) Record(ctx context.Context, tx Transaction) (*Transaction, error) {
	if strings.TrimSpace(tx.ClientOrg) == "" {
		return nil, fmt.Errorf("%w: client organization is required", ErrInvalidInput)
	}
	if strings.TrimSpace(tx.ServiceCode) == "" {
		return nil, fmt.Errorf("%w: service code is required", ErrInvalidInput)
	}
	if tx.Status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	switch tx.Status {
	case TxStatusSuccess, TxStatusDenied, TxStatusRejected, TxStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, tx.Status)
	}
	tx.ID = ids.New()
	if tx.CompletedAt.IsZero() {
		tx.CompletedAt = time.Now().UTC()
	}
	if tx.Duration == 0 && !tx.StartedAt.IsZero() {
		tx.Duration = tx.CompletedAt.Sub(tx.StartedAt)
	}
	if err := t.store.Append(ctx, &tx); err != nil {
		return nil, err
	}
	out := tx
	return &out, nil
}

// Search filters transactions, newest first.
func (t *TransactionLog) Search(ctx context.Context, q TxQuery) ([]*Transaction, error) {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	txs, err := t.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Transaction
	for _, tx := range txs {
		if q.ClientOrg != "" && !strings.EqualFold(tx.ClientOrg, q.ClientOrg) {
			continue
		}
		if q.ProviderOrg != "" && !strings.EqualFold(tx.ProviderOrg, q.ProviderOrg) {
			continue
		}
		if q.ServiceCode != "" && tx.ServiceCode != q.ServiceCode {
			continue
		}
		if q.Status != "" && tx.Status != q.Status {
			continue
		}
		if !q.Start.IsZero() && tx.CompletedAt.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && tx.CompletedAt.After(q.End) {
			continue
		}
		matched = append(matched, tx)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CompletedAt.After(matched[j].CompletedAt) })
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Find returns one transaction by id.
func (t *TransactionLog) Find(ctx context.Context, id string) (*Transaction, error) {
	return t.store.Find(ctx, strings.TrimSpace(id))
}
