package pki

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"trustgate.org/internal/ids"
)

const (
	rootKeyBits    = 4096
	subjectKeyBits = 2048
	rootCommonName = "Trustgate Root CA"
)

// Manager issues and validates organization certificates against a persistent
// root certificate authority.
type Manager struct {
	store Store
	keys  *Keystore
	now   func() time.Time

	mu       sync.RWMutex
	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager over the given record store and keystore.
func NewManager(store Store, keys *Keystore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("pki: store is required")
	}
	if keys == nil {
		return nil, errors.New("pki: keystore is required")
	}
	m := &Manager{store: store, keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// InitializeRootCA loads the root CA from the keystore when present, otherwise
// generates a fresh 4096-bit key and a self-signed ten-year root certificate
// and persists both. Safe to call more than once.
func (m *Manager) InitializeRootCA(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rootCert != nil {
		return nil
	}

	certPEM, keyPEM, err := m.keys.LoadRoot()
	switch {
	case err == nil:
		cert, key, err := parseRootPair(certPEM, keyPEM)
		if err != nil {
			return fmt.Errorf("load root CA: %w", err)
		}
		m.rootCert, m.rootKey = cert, key
		return nil
	case errors.Is(err, os.ErrNotExist):
		// fall through to generation
	default:
		return fmt.Errorf("load root CA: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return err
	}
	now := m.now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: rootCommonName, Organization: []string{"Trustgate"}},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.AddDate(rootValidityYears, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}

	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := m.keys.SaveRoot(certOut, keyOut); err != nil {
		return err
	}
	m.rootCert, m.rootKey = cert, key
	return nil
}

// RootCertificatePEM returns the root certificate in PEM form.
func (m *Manager) RootCertificatePEM() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.rootCert == nil {
		return nil, ErrRootMissing
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: m.rootCert.Raw}), nil
}

// IssueCertificate creates a key pair and a root-signed certificate for an
// organization. The private key bytes are returned once and never again.
func (m *Manager) IssueCertificate(ctx context.Context, orgCode, orgName, commonName, kind string, validityDays int) (*Issued, error) {
	orgCode = strings.TrimSpace(orgCode)
	orgName = strings.TrimSpace(orgName)
	commonName = strings.TrimSpace(commonName)
	if orgCode == "" || commonName == "" {
		return nil, fmt.Errorf("%w: org code and common name are required", ErrInvalidInput)
	}
	kind = strings.TrimSpace(strings.ToLower(kind))
	if kind == "" {
		kind = KindOrganization
	}
	if kind != KindSigning && kind != KindAuthentication && kind != KindOrganization {
		return nil, fmt.Errorf("%w: unsupported certificate kind %s", ErrInvalidInput, kind)
	}
	if validityDays <= 0 {
		validityDays = defaultValidityDays(kind)
	}

	m.mu.RLock()
	rootCert, rootKey := m.rootCert, m.rootKey
	m.mu.RUnlock()
	if rootCert == nil || rootKey == nil {
		return nil, ErrRootMissing
	}

	key, err := rsa.GenerateKey(rand.Reader, subjectKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate subject key: %w", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         commonName,
			Organization:       []string{orgName},
			OrganizationalUnit: []string{orgCode},
		},
		NotBefore: now.Add(-5 * time.Minute),
		NotAfter:  now.AddDate(0, 0, validityDays),
	}
	switch kind {
	case KindAuthentication:
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth}
	default:
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	sum := sha256.Sum256(der)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	record := Certificate{
		ID:           ids.New(),
		OrgCode:      orgCode,
		Kind:         kind,
		SerialNumber: serial.String(),
		Subject:      commonName,
		Issuer:       rootCert.Subject.CommonName,
		NotBefore:    tmpl.NotBefore,
		NotAfter:     tmpl.NotAfter,
		Fingerprint:  hex.EncodeToString(sum[:]),
		Status:       StatusActive,
		CreatedAt:    now,
	}
	if err := m.keys.SaveIssued(orgCode, record.ID, certPEM, keyPEM); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, &record); err != nil {
		return nil, err
	}
	return &Issued{
		Certificate:   record,
		CertPEM:       certPEM,
		PrivateKeyPEM: keyPEM,
		PublicKeyPEM:  pubPEM,
	}, nil
}

// ValidateCertificate checks the validity window first, then verifies the
// certificate was signed by the root CA over its to-be-signed bytes.
func (m *Manager) ValidateCertificate(ctx context.Context, certPEM []byte) (*Validation, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: not a PEM certificate", ErrInvalidInput)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := m.now().UTC()
	if now.Before(cert.NotBefore) {
		return nil, ErrNotYetValid
	}
	if now.After(cert.NotAfter) {
		return nil, ErrExpired
	}

	m.mu.RLock()
	rootCert := m.rootCert
	m.mu.RUnlock()
	if rootCert == nil {
		return nil, ErrRootMissing
	}
	if err := cert.CheckSignatureFrom(rootCert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	if rec, err := m.store.FindBySerial(ctx, cert.SerialNumber.String()); err == nil {
		if rec.Status == StatusRevoked {
			return nil, ErrRevoked
		}
	}

	return &Validation{
		Subject:       cert.Subject.CommonName,
		Issuer:        cert.Issuer.CommonName,
		SerialNumber:  cert.SerialNumber.String(),
		NotAfter:      cert.NotAfter,
		DaysRemaining: int(cert.NotAfter.Sub(now).Hours() / 24),
	}, nil
}

// Revoke marks a certificate revoked. The transition is irreversible.
func (m *Manager) Revoke(ctx context.Context, certID, reason string) (*Certificate, error) {
	certID = strings.TrimSpace(certID)
	if certID == "" {
		return nil, fmt.Errorf("%w: certificate id is required", ErrInvalidInput)
	}
	cert, err := m.store.Find(ctx, certID)
	if err != nil {
		return nil, err
	}
	if cert.Status == StatusRevoked {
		return cert, nil
	}
	now := m.now().UTC()
	cert.Status = StatusRevoked
	cert.RevokedAt = &now
	cert.RevokeReason = strings.TrimSpace(reason)
	if err := m.store.Update(ctx, cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// Renew issues a replacement certificate with the same subject and kind and
// marks the original superseded, linking forward to the new record.
func (m *Manager) Renew(ctx context.Context, certID string) (*Issued, error) {
	certID = strings.TrimSpace(certID)
	if certID == "" {
		return nil, fmt.Errorf("%w: certificate id is required", ErrInvalidInput)
	}
	old, err := m.store.Find(ctx, certID)
	if err != nil {
		return nil, err
	}
	if old.Status == StatusRevoked {
		return nil, ErrRevoked
	}
	days := int(old.NotAfter.Sub(old.NotBefore).Hours() / 24)
	issued, err := m.IssueCertificate(ctx, old.OrgCode, old.OrgCode, old.Subject, old.Kind, days)
	if err != nil {
		return nil, err
	}
	old.Status = StatusSuperseded
	old.SupersededBy = issued.Certificate.ID
	if err := m.store.Update(ctx, old); err != nil {
		return nil, err
	}
	return issued, nil
}

// Certificate returns the stored record for an issued certificate.
func (m *Manager) Certificate(ctx context.Context, certID string) (*Certificate, error) {
	return m.store.Find(ctx, strings.TrimSpace(certID))
}

// ListByOrg returns every certificate issued to one organization.
func (m *Manager) ListByOrg(ctx context.Context, orgCode string) ([]*Certificate, error) {
	return m.store.ListByOrg(ctx, strings.TrimSpace(orgCode))
}

func defaultValidityDays(kind string) int {
	switch kind {
	case KindSigning:
		return SigningValidityDays
	case KindAuthentication:
		return AuthenticationValidityDays
	default:
		return OrganizationValidityDays
	}
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

func parseRootPair(certPEM, keyPEM []byte) (*x509.Certificate, *rsa.PrivateKey, error) {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, nil, errors.New("root certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, errors.New("root key is not PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}
