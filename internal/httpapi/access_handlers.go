package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
)

type grantAccessRequest struct {
	ClientSubsystemID string     `json:"client_subsystem_id"`
	Type              string     `json:"type"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

// handleServiceAccessRights serves /v1/services/{id}/access-rights.
func (a *API) handleServiceAccessRights(w http.ResponseWriter, r *http.Request, svcID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.ensurePermission(w, r, access.PermAccessManage, "") {
			return
		}
		var req grantAccessRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grantedBy := ""
		if user, ok := UserFromContext(r.Context()); ok {
			grantedBy = user.ID
		}
		right, err := a.access.Grant(r.Context(), svcID, req.ClientSubsystemID, req.Type, req.ExpiresAt, grantedBy)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.recordAudit(r, audit.EventAccessControl, audit.SeverityInfo, "access_granted", "access_right", right.ID, "", map[string]any{
			"service_id": right.ServiceID,
			"client":     right.ClientSubsystemID,
			"type":       right.Type,
		})
		writeJSON(w, http.StatusCreated, right)
	case http.MethodGet:
		if !a.ensurePermission(w, r, access.PermAccessManage, "") {
			return
		}
		rights, err := a.access.ListByService(r.Context(), svcID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rights})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleAccessRights serves /v1/access-rights (collection-level operations).
func (a *API) handleAccessRights(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "resource not found")
}

// handleAccessRightScoped serves /v1/access-rights/{id} and /cleanup.
func (a *API) handleAccessRightScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/access-rights/"), "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if path == "cleanup" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if !a.ensurePermission(w, r, access.PermAccessManage, "") {
			return
		}
		n, err := a.access.CleanupExpired(r.Context())
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.recordAudit(r, audit.EventAccessControl, audit.SeverityInfo, "access_cleanup", "access_right", "", "", map[string]any{"removed": n})
		writeJSON(w, http.StatusOK, map[string]any{"removed": n})
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if !a.ensurePermission(w, r, access.PermAccessManage, "") {
		return
	}
	if err := a.access.Revoke(r.Context(), path); err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventAccessControl, audit.SeverityWarning, "access_revoked", "access_right", path, "", nil)
	w.WriteHeader(http.StatusNoContent)
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
