package access

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestControl(t *testing.T, now *time.Time) *Control {
	t.Helper()
	c, err := NewControl(NewInMemoryStore(), WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestGrantUpsertsSinglePair(t *testing.T) {
	now := time.Now().UTC()
	c := newTestControl(t, &now)
	ctx := context.Background()

	first, err := c.Grant(ctx, "svc-1", "client-1", TypeAllow, nil, "admin")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Grant(ctx, "svc-1", "client-1", TypeDeny, nil, "officer")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("upsert produced a second record: %s vs %s", first.ID, second.ID)
	}

	rights, err := c.ListByService(ctx, "svc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rights) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(rights))
	}
	if rights[0].Type != TypeDeny || rights[0].GrantedBy != "officer" {
		t.Fatalf("latest grant not reflected: %+v", rights[0])
	}

	dec, err := c.Check(ctx, "svc-1", "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != ReasonExplicitlyDenied {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestCheckReasons(t *testing.T) {
	now := time.Now().UTC()
	c := newTestControl(t, &now)
	ctx := context.Background()

	dec, err := c.Check(ctx, "svc-1", "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed || dec.Reason != ReasonNoAccessRight {
		t.Fatalf("unexpected decision: %+v", dec)
	}

	expiry := now.Add(time.Hour)
	if _, err := c.Grant(ctx, "svc-1", "client-1", TypeAllow, &expiry, "admin"); err != nil {
		t.Fatal(err)
	}
	dec, _ = c.Check(ctx, "svc-1", "client-1")
	if !dec.Allowed {
		t.Fatalf("expected allow, got %+v", dec)
	}

	now = now.Add(2 * time.Hour)
	dec, _ = c.Check(ctx, "svc-1", "client-1")
	if dec.Allowed || dec.Reason != ReasonExpired {
		t.Fatalf("expected expired denial, got %+v", dec)
	}
}

func TestRevokeAndCleanup(t *testing.T) {
	now := time.Now().UTC()
	c := newTestControl(t, &now)
	ctx := context.Background()

	right, _ := c.Grant(ctx, "svc-1", "client-1", TypeAllow, nil, "admin")
	if err := c.Revoke(ctx, right.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.Revoke(ctx, right.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	c.Grant(ctx, "svc-1", "client-a", TypeAllow, &past, "admin")
	c.Grant(ctx, "svc-1", "client-b", TypeAllow, &future, "admin")
	c.Grant(ctx, "svc-2", "client-a", TypeAllow, &past, "admin")

	removed, err := c.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if dec, _ := c.Check(ctx, "svc-1", "client-b"); !dec.Allowed {
		t.Fatalf("surviving grant lost: %+v", dec)
	}
}

func TestRBACStaticTableAndDecisionLog(t *testing.T) {
	rbac := NewRBAC(3)

	auditor := User{ID: "u1", PlatformRoles: []string{RoleAuditor}}
	if !rbac.CheckPermission(auditor, PermAuditRead, "") {
		t.Fatal("auditor should read audit")
	}
	if rbac.CheckPermission(auditor, PermCertManage, "") {
		t.Fatal("auditor must not manage certs")
	}

	scoped := User{ID: "u2", OrgRoles: map[string][]string{"ORG-A": {RoleOrgAdmin}}}
	if !rbac.CheckPermission(scoped, PermServiceManage, "ORG-A") {
		t.Fatal("org admin should manage services in own org")
	}
	if rbac.CheckPermission(scoped, PermServiceManage, "ORG-B") {
		t.Fatal("org role must not leak across organizations")
	}

	// Bounded log keeps only the most recent N decisions.
	for i := 0; i < 5; i++ {
		rbac.CheckPermission(auditor, PermDiscoveryRead, "")
	}
	if got := len(rbac.Decisions()); got != 3 {
		t.Fatalf("decision log length = %d, want 3", got)
	}
}

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Minute)
	user := User{
		ID:            "op-1",
		PlatformRoles: []string{RoleSecurityOfficer},
		OrgRoles:      map[string][]string{"ORG-A": {RoleOrgManager}},
	}
	signed, err := tokens.Generate(user)
	if err != nil {
		t.Fatal(err)
	}
	got, err := tokens.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "op-1" || len(got.PlatformRoles) != 1 || got.PlatformRoles[0] != RoleSecurityOfficer {
		t.Fatalf("claims lost: %+v", got)
	}
	if _, err := tokens.Parse(signed + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token accepted: %v", err)
	}

	other := NewTokens("other-secret", time.Minute)
	if _, err := other.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("cross-secret token accepted: %v", err)
	}
}

func TestOperatorsAuthenticate(t *testing.T) {
	ops := NewOperators()
	ctx := context.Background()
	if _, err := ops.Create(ctx, "admin@example.org", "s3cret", []string{RolePlatformAdmin}, nil); err != nil {
		t.Fatal(err)
	}
	user, err := ops.Authenticate(ctx, "ADMIN@example.org", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if user.PlatformRoles[0] != RolePlatformAdmin {
		t.Fatalf("roles lost: %+v", user)
	}
	if _, err := ops.Authenticate(ctx, "admin@example.org", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
}
