package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
	"trustgate.org/internal/registry"
)

type createOrganizationRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	MemberClass  string `json:"member_class"`
	ContactEmail string `json:"contact_email"`
}

type verifyOrganizationRequest struct {
	CertificateID string `json:"certificate_id"`
}

type createSubsystemRequest struct {
	Code        string `json:"code"`
	BaseAddress string `json:"base_address"`
}

type createServiceRequest struct {
	Code        string `json:"code"`
	Version     string `json:"version"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RateLimit   int    `json:"rate_limit"`
	TimeoutMs   int    `json:"timeout_ms"`
}

type serviceStatusRequest struct {
	Status string `json:"status"`
}

type serviceHealthRequest struct {
	Status      string  `json:"status"`
	SuccessRate float64 `json:"success_rate"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createOrganization(w, r)
	case http.MethodGet:
		if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
			return
		}
		orgs, err := a.registry.ListOrganizations(r.Context())
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": orgs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createOrganization(w http.ResponseWriter, r *http.Request) {
	if !a.ensurePermission(w, r, access.PermOrgManage, "") {
		return
	}
	var req createOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	org, err := a.registry.RegisterOrganization(r.Context(), req.Code, req.Name, req.MemberClass, req.ContactEmail)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventRegistry, audit.SeverityInfo, "organization_registered", "organization", org.ID, org.Code, nil)
	w.Header().Set("Location", "/v1/organizations/"+org.ID)
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/organizations/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	orgID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
				return
			}
			org, err := a.registry.GetOrganization(r.Context(), orgID)
			if err != nil {
				handleRegistryError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, org)
		case http.MethodDelete:
			if !a.ensurePermission(w, r, access.PermOrgManage, "") {
				return
			}
			if err := a.registry.DeleteOrganization(r.Context(), orgID); err != nil {
				handleRegistryError(w, r, err)
				return
			}
			a.recordAudit(r, audit.EventRegistry, audit.SeverityInfo, "organization_deleted", "organization", orgID, "", nil)
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
		}
		return
	}

	switch parts[1] {
	case "verify":
		a.verifyOrganization(w, r, orgID)
	case "suspend":
		a.setOrganizationStatus(w, r, orgID, "suspend")
	case "reactivate":
		a.setOrganizationStatus(w, r, orgID, "reactivate")
	case "subsystems":
		a.handleOrgSubsystems(w, r, orgID)
	case "certificates":
		a.listOrganizationCertificates(w, r, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) verifyOrganization(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermOrgVerify, "") {
		return
	}
	var req verifyOrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil && !strings.Contains(err.Error(), "request body is required") {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	verifiedBy := ""
	if user, ok := UserFromContext(r.Context()); ok {
		verifiedBy = user.ID
	}
	org, err := a.registry.VerifyOrganization(r.Context(), orgID, verifiedBy, req.CertificateID)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventRegistry, audit.SeverityInfo, "organization_verified", "organization", org.ID, org.Code, nil)
	writeJSON(w, http.StatusOK, org)
}

func (a *API) setOrganizationStatus(w http.ResponseWriter, r *http.Request, orgID, op string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermOrgVerify, "") {
		return
	}
	var (
		org *registry.Organization
		err error
	)
	if op == "suspend" {
		org, err = a.registry.SuspendOrganization(r.Context(), orgID)
	} else {
		org, err = a.registry.ReactivateOrganization(r.Context(), orgID)
	}
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventRegistry, audit.SeverityWarning, "organization_"+op, "organization", org.ID, org.Code, nil)
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleOrgSubsystems(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, access.PermOrgManage, "") {
			return
		}
		var req createSubsystemRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		sub, err := a.registry.CreateSubsystem(r.Context(), orgID, req.Code, req.BaseAddress)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		a.recordAudit(r, audit.EventRegistry, audit.SeverityInfo, "subsystem_created", "subsystem", sub.ID, "", map[string]any{"code": sub.Code})
		w.Header().Set("Location", "/v1/subsystems/"+sub.ID)
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
			return
		}
		subs, err := a.registry.ListSubsystems(r.Context(), orgID)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": subs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleSubsystemScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/subsystems/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	subID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
			return
		}
		sub, err := a.registry.GetSubsystem(r.Context(), subID)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
		return
	}

	if parts[1] != "services" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, access.PermServiceManage, "") {
			return
		}
		var req createServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		svc, err := a.registry.RegisterService(r.Context(), subID, req.Code, req.Version, req.Type, req.Title, req.Description, req.RateLimit, req.TimeoutMs)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		a.recordAudit(r, audit.EventRegistry, audit.SeverityInfo, "service_registered", "service", svc.ID, "", map[string]any{
			"code":    svc.Code,
			"version": svc.Version,
		})
		w.Header().Set("Location", "/v1/services/"+svc.ID)
		writeJSON(w, http.StatusCreated, svc)
	case http.MethodGet:
		if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
			return
		}
		svcs, err := a.registry.ListServices(r.Context(), subID)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": svcs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleServiceScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/services/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	svcID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
			return
		}
		svc, err := a.registry.GetService(r.Context(), svcID)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, svc)
		return
	}

	switch parts[1] {
	case "status":
		a.setServiceStatus(w, r, svcID)
	case "health":
		a.updateServiceHealth(w, r, svcID)
	case "access-rights":
		a.handleServiceAccessRights(w, r, svcID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) setServiceStatus(w http.ResponseWriter, r *http.Request, svcID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, access.PermServiceManage, "") {
		return
	}
	var req serviceStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	svc, err := a.registry.SetServiceStatus(r.Context(), svcID, req.Status)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventRegistry, audit.SeverityInfo, "service_status_changed", "service", svc.ID, "", map[string]any{"status": svc.Status})
	writeJSON(w, http.StatusOK, svc)
}

func (a *API) updateServiceHealth(w http.ResponseWriter, r *http.Request, svcID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.ensurePermission(w, r, access.PermServiceManage, "") {
		return
	}
	var req serviceHealthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.registry.UpdateHealth(r.Context(), svcID, req.Status, req.SuccessRate); err != nil {
		handleRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermDiscoveryRead, "") {
		return
	}
	items, err := a.registry.DiscoverServices(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func handleRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrDuplicateCode), errors.Is(err, registry.ErrDuplicateService):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidStatus):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
