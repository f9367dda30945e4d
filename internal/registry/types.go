package registry

import (
	"errors"
	"time"
)

// Organization lifecycle statuses.
const (
	OrgStatusPending   = "pending"
	OrgStatusActive    = "active"
	OrgStatusSuspended = "suspended"
)

// Subsystem lifecycle statuses.
const (
	SubsystemStatusActive   = "active"
	SubsystemStatusDisabled = "disabled"
)

// Service lifecycle statuses.
const (
	ServiceStatusActive     = "active"
	ServiceStatusDeprecated = "deprecated"
	ServiceStatusDisabled   = "disabled"
)

// Service interaction types.
const (
	ServiceTypeRequestResponse = "request_response"
	ServiceTypeOneWay          = "one_way"
)

// Health statuses kept in the service snapshot.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

var (
	ErrNotFound         = errors.New("registry: not found")
	ErrDuplicateCode    = errors.New("registry: duplicate code")
	ErrDuplicateService = errors.New("registry: duplicate service version")
	ErrInvalidInput     = errors.New("registry: invalid input")
	ErrInvalidStatus    = errors.New("registry: invalid status transition")
)

// Organization is a registered participant of the exchange.
type Organization struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	MemberClass   string     `json:"member_class"`
	ContactEmail  string     `json:"contact_email,omitempty"`
	Status        string     `json:"status"`
	CertificateID string     `json:"certificate_id,omitempty"`
	VerifiedBy    string     `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Subsystem is a deployment unit of an organization reachable at one base address.
type Subsystem struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Code           string    `json:"code"`
	BaseAddress    string    `json:"base_address"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ServiceHealth is an overwrite-only snapshot; no history is retained.
type ServiceHealth struct {
	Status      string    `json:"status"`
	LastCheckAt time.Time `json:"last_check_at"`
	SuccessRate float64   `json:"success_rate"`
}

// Service is a versioned operation exposed by a subsystem.
type Service struct {
	ID          string        `json:"id"`
	SubsystemID string        `json:"subsystem_id"`
	Code        string        `json:"code"`
	Version     string        `json:"version"`
	Type        string        `json:"type"`
	Status      string        `json:"status"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	RateLimit   int           `json:"rate_limit"`
	TimeoutMs   int           `json:"timeout_ms"`
	Health      ServiceHealth `json:"health"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// DiscoveredService is the narrowed public listing entry: no internal ids.
type DiscoveredService struct {
	OrganizationCode string `json:"organization_code"`
	SubsystemCode    string `json:"subsystem_code"`
	ServiceCode      string `json:"service_code"`
	Version          string `json:"version"`
	Type             string `json:"type"`
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
}
