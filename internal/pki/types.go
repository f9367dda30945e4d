package pki

import (
	"errors"
	"time"
)

// Certificate kinds issued by the trust manager.
const (
	KindSigning        = "signing"
	KindAuthentication = "authentication"
	KindOrganization   = "organization"
)

// Certificate lifecycle statuses.
const (
	StatusActive     = "active"
	StatusRevoked    = "revoked"
	StatusExpired    = "expired"
	StatusSuperseded = "superseded"
)

// Default validity windows per certificate kind.
const (
	SigningValidityDays        = 730
	AuthenticationValidityDays = 365
	OrganizationValidityDays   = 1095
	rootValidityYears          = 10
)

var (
	ErrNotFound         = errors.New("pki: certificate not found")
	ErrInvalidInput     = errors.New("pki: invalid input")
	ErrNotYetValid      = errors.New("pki: certificate not yet valid")
	ErrExpired          = errors.New("pki: certificate expired")
	ErrSignatureInvalid = errors.New("pki: certificate signature invalid")
	ErrRevoked          = errors.New("pki: certificate revoked")
	ErrRootMissing      = errors.New("pki: root CA not initialized")
)

// Certificate is the registry record for an issued certificate. Key material
// lives in the keystore, not here.
type Certificate struct {
	ID           string     `json:"id"`
	OrgCode      string     `json:"org_code"`
	Kind         string     `json:"kind"`
	SerialNumber string     `json:"serial_number"`
	Subject      string     `json:"subject"`
	Issuer       string     `json:"issuer"`
	NotBefore    time.Time  `json:"not_before"`
	NotAfter     time.Time  `json:"not_after"`
	Fingerprint  string     `json:"fingerprint"`
	Status       string     `json:"status"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	SupersededBy string     `json:"superseded_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Issued bundles everything returned exactly once at issuance time. Private key
// bytes are not re-retrievable through the manager afterwards.
type Issued struct {
	Certificate   Certificate
	CertPEM       []byte
	PrivateKeyPEM []byte
	PublicKeyPEM  []byte
}

// Validation is the successful result of certificate validation.
type Validation struct {
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	SerialNumber  string    `json:"serial_number"`
	NotAfter      time.Time `json:"not_after"`
	DaysRemaining int       `json:"days_remaining"`
}
