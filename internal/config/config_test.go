package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.OrganizationPerMinute != 1000 || cfg.Limits.ServicePerMinute != 100 {
		t.Fatalf("unexpected default limits: %+v", cfg.Limits)
	}
	if cfg.Circuit.FailureThreshold != 5 || cfg.Circuit.ResetTimeout.Std() != 30*time.Second {
		t.Fatalf("unexpected default circuit: %+v", cfg.Circuit)
	}
}

func TestYAMLOverridesAndEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := []byte("listen_addr: \":9090\"\nlimits:\n  organization_per_minute: 50\n  service_per_minute: 10\n  burst_multiplier: 2\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRUSTGATE_ORG_RPM", "75")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.Limits.OrganizationPerMinute != 75 {
		t.Fatalf("env override lost: %d", cfg.Limits.OrganizationPerMinute)
	}
	if cfg.Limits.ServicePerMinute != 10 {
		t.Fatalf("yaml override lost: %d", cfg.Limits.ServicePerMinute)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte("limits:\n  organization_per_minute: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
