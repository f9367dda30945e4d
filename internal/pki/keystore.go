package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Keystore writes certificate and key PEM files under a base directory.
// Private keys are written with owner-only permissions.
type Keystore struct {
	dir string
}

// NewKeystore ensures the base directory exists and returns the keystore.
func NewKeystore(dir string) (*Keystore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: keystore directory is required", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{dir: dir}, nil
}

func (k *Keystore) rootCertPath() string { return filepath.Join(k.dir, "root-ca.crt") }
func (k *Keystore) rootKeyPath() string  { return filepath.Join(k.dir, "root-ca.key") }

// LoadRoot returns the persisted root certificate and key PEM, or os.ErrNotExist.
func (k *Keystore) LoadRoot() (certPEM, keyPEM []byte, err error) {
	certPEM, err = os.ReadFile(k.rootCertPath())
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err = os.ReadFile(k.rootKeyPath())
	if err != nil {
		return nil, nil, err
	}
	return certPEM, keyPEM, nil
}

// SaveRoot persists the root certificate and private key.
func (k *Keystore) SaveRoot(certPEM, keyPEM []byte) error {
	if err := os.WriteFile(k.rootCertPath(), certPEM, 0o644); err != nil {
		return fmt.Errorf("write root cert: %w", err)
	}
	if err := os.WriteFile(k.rootKeyPath(), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write root key: %w", err)
	}
	return nil
}

// SigningKey loads the instance message-signing key, generating and
// persisting one on first use.
func (k *Keystore) SigningKey() (*rsa.PrivateKey, error) {
	path := filepath.Join(k.dir, "signing.key")
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("keystore: signing key %s is not PEM", path)
		}
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, subjectKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("write signing key: %w", err)
	}
	return key, nil
}

// SaveIssued persists an issued certificate and key under the organization's directory.
func (k *Keystore) SaveIssued(orgCode, certID string, certPEM, keyPEM []byte) error {
	orgCode = sanitizePathComponent(orgCode)
	certID = sanitizePathComponent(certID)
	if orgCode == "" || certID == "" {
		return fmt.Errorf("%w: org code and certificate id are required", ErrInvalidInput)
	}
	orgDir := filepath.Join(k.dir, "orgs", orgCode)
	if err := os.MkdirAll(orgDir, 0o700); err != nil {
		return fmt.Errorf("create org dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(orgDir, certID+".crt"), certPEM, 0o644); err != nil {
		return fmt.Errorf("write cert: %w", err)
	}
	if err := os.WriteFile(filepath.Join(orgDir, certID+".key"), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// LoadIssuedCert returns the certificate PEM for a previously issued certificate.
func (k *Keystore) LoadIssuedCert(orgCode, certID string) ([]byte, error) {
	orgCode = sanitizePathComponent(orgCode)
	certID = sanitizePathComponent(certID)
	return os.ReadFile(filepath.Join(k.dir, "orgs", orgCode, certID+".crt"))
}

func sanitizePathComponent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, string(filepath.Separator), "")
	s = strings.ReplaceAll(s, "..", "")
	return s
}
