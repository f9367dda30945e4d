package access

import (
	"strings"
	"sync"
	"time"
)

// Platform permission keys.
const (
	PermOrgManage     = "org.manage"
	PermOrgVerify     = "org.verify"
	PermServiceManage = "service.manage"
	PermAccessManage  = "access.manage"
	PermCertManage    = "cert.manage"
	PermAuditRead     = "audit.read"
	PermAuditExport   = "audit.export"
	PermExchangeCall  = "exchange.call"
	PermDiscoveryRead = "discovery.read"
)

// Platform and organization roles.
const (
	RolePlatformAdmin   = "platform_admin"
	RoleSecurityOfficer = "security_officer"
	RoleAuditor         = "auditor"
	RoleOrgAdmin        = "org_admin"
	RoleOrgManager      = "org_manager"
	RoleServiceAdmin    = "service_admin"
	RoleDataSteward     = "data_steward"
	RoleAPIConsumer     = "api_consumer"
	RoleViewer          = "viewer"
)

// rolePermissions is the static role -> permission table.
var rolePermissions = map[string][]string{
	RolePlatformAdmin: {
		PermOrgManage, PermOrgVerify, PermServiceManage, PermAccessManage,
		PermCertManage, PermAuditRead, PermAuditExport, PermExchangeCall, PermDiscoveryRead,
	},
	RoleSecurityOfficer: {
		PermOrgVerify, PermAccessManage, PermCertManage, PermAuditRead, PermDiscoveryRead,
	},
	RoleAuditor: {
		PermAuditRead, PermAuditExport, PermDiscoveryRead,
	},
	RoleOrgAdmin: {
		PermOrgManage, PermServiceManage, PermAccessManage, PermExchangeCall, PermDiscoveryRead,
	},
	RoleOrgManager: {
		PermServiceManage, PermAccessManage, PermDiscoveryRead,
	},
	RoleServiceAdmin: {
		PermServiceManage, PermDiscoveryRead,
	},
	RoleDataSteward: {
		PermAuditRead, PermDiscoveryRead,
	},
	RoleAPIConsumer: {
		PermExchangeCall, PermDiscoveryRead,
	},
	RoleViewer: {
		PermDiscoveryRead,
	},
}

// PermissionsForRole returns the permission set of one role.
func PermissionsForRole(role string) []string {
	perms := rolePermissions[strings.TrimSpace(strings.ToLower(role))]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// User carries platform-wide roles and per-organization roles.
type User struct {
	ID            string              `json:"id"`
	PlatformRoles []string            `json:"platform_roles"`
	OrgRoles      map[string][]string `json:"org_roles,omitempty"`
}

// DecisionRecord is one entry of the bounded access-decision log.
type DecisionRecord struct {
	At         time.Time `json:"at"`
	UserID     string    `json:"user_id"`
	Permission string    `json:"permission"`
	OrgCode    string    `json:"org_code,omitempty"`
	Allowed    bool      `json:"allowed"`
}

// RBAC answers platform permission checks from the static role table and keeps
// the most recent decisions for inspection.
type RBAC struct {
	mu        sync.Mutex
	decisions []DecisionRecord
	keep      int
	now       func() time.Time
}

// NewRBAC creates an RBAC checker retaining up to keep decision records.
func NewRBAC(keep int) *RBAC {
	if keep <= 0 {
		keep = 1000
	}
	return &RBAC{keep: keep, now: time.Now}
}

// CheckPermission reports whether the user holds the permission, either
// platform-wide or through a role in the given organization. Every decision is
// appended to the bounded log.
func (r *RBAC) CheckPermission(user User, permission, orgCode string) bool {
	permission = strings.TrimSpace(strings.ToLower(permission))
	allowed := hasPermission(user.PlatformRoles, permission)
	if !allowed && orgCode != "" {
		if roles, ok := user.OrgRoles[orgCode]; ok {
			allowed = hasPermission(roles, permission)
		}
	}
	r.record(DecisionRecord{
		At:         r.now().UTC(),
		UserID:     user.ID,
		Permission: permission,
		OrgCode:    orgCode,
		Allowed:    allowed,
	})
	return allowed
}

// Decisions returns a copy of the retained decision records, newest last.
func (r *RBAC) Decisions() []DecisionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DecisionRecord, len(r.decisions))
	copy(out, r.decisions)
	return out
}

func (r *RBAC) record(rec DecisionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, rec)
	if len(r.decisions) > r.keep {
		r.decisions = r.decisions[len(r.decisions)-r.keep:]
	}
}

func hasPermission(roles []string, permission string) bool {
	for _, role := range roles {
		for _, perm := range rolePermissions[strings.TrimSpace(strings.ToLower(role))] {
			if perm == permission {
				return true
			}
		}
	}
	return false
}
