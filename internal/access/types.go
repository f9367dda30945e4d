package access

import (
	"errors"
	"time"
)

// Access right types.
const (
	TypeAllow = "allow"
	TypeDeny  = "deny"
)

// Denial reasons surfaced by CheckAccess.
const (
	ReasonNoAccessRight    = "no_access_right"
	ReasonExpired          = "expired"
	ReasonExplicitlyDenied = "explicitly_denied"
)

var (
	ErrNotFound     = errors.New("access: not found")
	ErrInvalidInput = errors.New("access: invalid input")
	ErrDenied       = errors.New("access: denied")
)

// AccessRight links one service to one client subsystem. At most one record
// exists per (service, client subsystem) pair; granting again updates it.
type AccessRight struct {
	ID                string     `json:"id"`
	ServiceID         string     `json:"service_id"`
	ClientSubsystemID string     `json:"client_subsystem_id"`
	Type              string     `json:"type"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	GrantedBy         string     `json:"granted_by"`
	GrantedAt         time.Time  `json:"granted_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
