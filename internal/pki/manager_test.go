package pki

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	keys, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(NewInMemoryStore(), keys, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.InitializeRootCA(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestInitializeRootCAIdempotentAndReloadable(t *testing.T) {
	dir := t.TempDir()
	keys, err := NewKeystore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(NewInMemoryStore(), keys)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := m.InitializeRootCA(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.InitializeRootCA(ctx); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	first, err := m.RootCertificatePEM()
	if err != nil {
		t.Fatal(err)
	}

	// Private key file must be owner-only.
	info, err := os.Stat(filepath.Join(dir, "root-ca.key"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("root key permissions = %v", info.Mode().Perm())
	}

	// A second manager over the same keystore must load the same root.
	keys2, err := NewKeystore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := NewManager(NewInMemoryStore(), keys2)
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.InitializeRootCA(ctx); err != nil {
		t.Fatal(err)
	}
	second, err := m2.RootCertificatePEM()
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatal("root certificate changed across restarts")
	}
}

func TestIssueAndValidate(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)
	ctx := context.Background()

	issued, err := m.IssueCertificate(ctx, "ORG-A", "Org A", "sign.org-a.example", KindSigning, 0)
	if err != nil {
		t.Fatal(err)
	}
	if issued.Certificate.Kind != KindSigning || issued.Certificate.Status != StatusActive {
		t.Fatalf("unexpected record: %+v", issued.Certificate)
	}
	wantDays := SigningValidityDays
	gotDays := int(issued.Certificate.NotAfter.Sub(issued.Certificate.NotBefore).Hours() / 24)
	if gotDays != wantDays {
		t.Fatalf("signing validity days = %d, want %d", gotDays, wantDays)
	}

	res, err := m.ValidateCertificate(ctx, issued.CertPEM)
	if err != nil {
		t.Fatal(err)
	}
	if res.Subject != "sign.org-a.example" {
		t.Fatalf("subject = %q", res.Subject)
	}
	if res.DaysRemaining <= 0 {
		t.Fatalf("days remaining = %d", res.DaysRemaining)
	}
}

func TestValidateExpiredAndNotYetValid(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)
	ctx := context.Background()

	issued, err := m.IssueCertificate(ctx, "ORG-A", "Org A", "auth.org-a.example", KindAuthentication, 30)
	if err != nil {
		t.Fatal(err)
	}

	now = now.AddDate(0, 0, 31)
	if _, err := m.ValidateCertificate(ctx, issued.CertPEM); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	now = now.AddDate(0, 0, -32)
	if _, err := m.ValidateCertificate(ctx, issued.CertPEM); !errors.Is(err, ErrNotYetValid) {
		t.Fatalf("expected ErrNotYetValid, got %v", err)
	}
}

func TestValidateTamperedCertificate(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)
	ctx := context.Background()

	issued, err := m.IssueCertificate(ctx, "ORG-A", "Org A", "auth.org-a.example", KindAuthentication, 0)
	if err != nil {
		t.Fatal(err)
	}

	// A certificate from an unrelated CA must fail the chain check.
	otherNow := now
	other := newTestManager(t, &otherNow)
	foreign, err := other.IssueCertificate(ctx, "ORG-X", "Org X", "auth.org-x.example", KindAuthentication, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.ValidateCertificate(ctx, foreign.CertPEM); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}

	if _, err := m.ValidateCertificate(ctx, issued.CertPEM); err != nil {
		t.Fatalf("genuine certificate failed validation: %v", err)
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)
	ctx := context.Background()

	issued, err := m.IssueCertificate(ctx, "ORG-A", "Org A", "sign.org-a.example", KindSigning, 0)
	if err != nil {
		t.Fatal(err)
	}
	rev, err := m.Revoke(ctx, issued.Certificate.ID, "key compromise")
	if err != nil {
		t.Fatal(err)
	}
	if rev.Status != StatusRevoked || rev.RevokedAt == nil {
		t.Fatalf("unexpected revoked record: %+v", rev)
	}
	if _, err := m.ValidateCertificate(ctx, issued.CertPEM); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
	if _, err := m.Renew(ctx, issued.Certificate.ID); !errors.Is(err, ErrRevoked) {
		t.Fatalf("renewing a revoked certificate should fail, got %v", err)
	}
}

func TestRenewSupersedes(t *testing.T) {
	now := time.Now().UTC()
	m := newTestManager(t, &now)
	ctx := context.Background()

	issued, err := m.IssueCertificate(ctx, "ORG-A", "Org A", "sign.org-a.example", KindSigning, 0)
	if err != nil {
		t.Fatal(err)
	}
	renewed, err := m.Renew(ctx, issued.Certificate.ID)
	if err != nil {
		t.Fatal(err)
	}
	old, err := m.Certificate(ctx, issued.Certificate.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.Status != StatusSuperseded {
		t.Fatalf("old status = %s", old.Status)
	}
	if old.SupersededBy != renewed.Certificate.ID {
		t.Fatal("superseded link missing")
	}
	if renewed.Certificate.Status != StatusActive {
		t.Fatalf("renewed status = %s", renewed.Certificate.Status)
	}
}
