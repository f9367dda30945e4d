// Package audit keeps the tamper-evident record of every gateway transaction
// and security event. Entries are hash-stamped at write time; the hash lets a
// reader detect post-hoc mutation of a single entry.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"trustgate.org/internal/ids"
	"trustgate.org/internal/obs"
)

// Event types.
const (
	EventTransaction   = "transaction"
	EventSecurity      = "security"
	EventRegistry      = "registry"
	EventCertificate   = "certificate"
	EventAccessControl = "access_control"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

const (
	defaultQueryLimit  = 100
	maxQueryLimit      = 1000
	complianceLimit    = 10000
	integritySampleMax = 25
)

var (
	ErrNotFound     = errors.New("audit: entry not found")
	ErrInvalidInput = errors.New("audit: invalid input")
)

// Entry is one append-only audit record.
type Entry struct {
	ID               string         `json:"id"`
	Timestamp        time.Time      `json:"timestamp"`
	EventType        string         `json:"event_type"`
	Severity         string         `json:"severity"`
	ActorID          string         `json:"actor_id,omitempty"`
	ActorType        string         `json:"actor_type,omitempty"`
	OrganizationCode string         `json:"organization_code,omitempty"`
	ResourceType     string         `json:"resource_type,omitempty"`
	ResourceID       string         `json:"resource_id,omitempty"`
	Action           string         `json:"action"`
	Details          map[string]any `json:"details,omitempty"`
	Hash             string         `json:"hash"`
}

// Query narrows and pages through audit entries.
type Query struct {
	EventType        string
	Severity         string
	OrganizationCode string
	ActorID          string
	Start            time.Time
	End              time.Time
	Limit            int
	Offset           int
}

// Store persists audit entries append-only.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Find(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context) ([]*Entry, error)
}

// Log is the audit service.
type Log struct {
	store Store
	now   func() time.Time
}

// Option configures the Log.
type Option func(*Log)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLog constructs the audit service over the given store.
func NewLog(store Store, opts ...Option) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	l := &Log{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Record hash-stamps the entry, appends it and mirrors it to the application
// log at a severity-appropriate level.
func (l *Log) Record(ctx context.Context, entry Entry) (*Entry, error) {
	entry.EventType = strings.TrimSpace(strings.ToLower(entry.EventType))
	if entry.EventType == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidInput)
	}
	if strings.TrimSpace(entry.Action) == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	entry.ID = ids.New()
	entry.Timestamp = l.now().UTC()
	entry.Hash = entryHash(&entry)

	if err := l.store.Append(ctx, &entry); err != nil {
		return nil, err
	}

	obs.LogEvent(map[string]any{
		"ts":       entry.Timestamp.Format(time.RFC3339Nano),
		"type":     "audit",
		"level":    entry.Severity,
		"event":    entry.EventType,
		"action":   entry.Action,
		"actor":    entry.ActorID,
		"resource": entry.ResourceID,
		"org":      entry.OrganizationCode,
	})
	return &entry, nil
}

// Find returns one entry by id.
func (l *Log) Find(ctx context.Context, id string) (*Entry, error) {
	return l.store.Find(ctx, strings.TrimSpace(id))
}

// Search filters, sorts newest-first and pages through the audit trail.
func (l *Log) Search(ctx context.Context, q Query) ([]*Entry, error) {
	if q.Limit <= 0 {
		q.Limit = defaultQueryLimit
	}
	if q.Limit > maxQueryLimit {
		q.Limit = maxQueryLimit
	}
	return l.search(ctx, q)
}

func (l *Log) search(ctx context.Context, q Query) ([]*Entry, error) {
	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*Entry
	for _, e := range entries {
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if q.Severity != "" && e.Severity != q.Severity {
			continue
		}
		if q.OrganizationCode != "" && !strings.EqualFold(e.OrganizationCode, q.OrganizationCode) {
			continue
		}
		if q.ActorID != "" && e.ActorID != q.ActorID {
			continue
		}
		if !q.Start.IsZero() && e.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && e.Timestamp.After(q.End) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// VerifyIntegrity recomputes the hash of a stored entry. A mismatch signals
// that the entry's fields were mutated after it was written.
func (l *Log) VerifyIntegrity(ctx context.Context, id string) (bool, error) {
	entry, err := l.store.Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return false, err
	}
	return entryHash(entry) == entry.Hash, nil
}

// ComplianceExport is a time-windowed dump plus an integrity-verified sample.
type ComplianceExport struct {
	GeneratedAt      time.Time `json:"generated_at"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	OrganizationCode string    `json:"organization_code,omitempty"`
	Entries          []*Entry  `json:"entries"`
	SampleVerified   int       `json:"sample_verified"`
	SampleFailed     []string  `json:"sample_failed,omitempty"`
}

// ExportForCompliance collects the window's entries with a raised result cap
// and integrity-checks a sample of them.
func (l *Log) ExportForCompliance(ctx context.Context, start, end time.Time, orgCode string) (*ComplianceExport, error) {
	if end.IsZero() {
		end = l.now().UTC()
	}
	entries, err := l.search(ctx, Query{
		OrganizationCode: orgCode,
		Start:            start,
		End:              end,
		Limit:            complianceLimit,
	})
	if err != nil {
		return nil, err
	}
	export := &ComplianceExport{
		GeneratedAt:      l.now().UTC(),
		Start:            start,
		End:              end,
		OrganizationCode: orgCode,
		Entries:          entries,
	}
	for i, e := range entries {
		if i >= integritySampleMax {
			break
		}
		if entryHash(e) == e.Hash {
			export.SampleVerified++
		} else {
			export.SampleFailed = append(export.SampleFailed, e.ID)
		}
	}
	return export, nil
}

// entryHash digests the entry's stable fields. Details are canonicalized with
// sorted keys so the hash does not depend on map iteration order.
func entryHash(e *Entry) string {
	details, _ := json.Marshal(e.Details)
	canonical := strings.Join([]string{
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.EventType,
		e.Severity,
		e.ActorID,
		e.ActorType,
		e.OrganizationCode,
		e.ResourceType,
		e.ResourceID,
		e.Action,
		string(details),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
