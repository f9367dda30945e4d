package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.operators == nil || a.tokens == nil || !a.tokens.Enabled() {
		writeError(w, r, http.StatusServiceUnavailable, "token authentication disabled")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.operators.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, access.ErrBadCredentials) {
			a.recordAudit(r, audit.EventSecurity, audit.SeverityWarning, "login_failed", "operator", req.Email, "", nil)
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "authentication error")
		return
	}

	token, err := a.tokens.Generate(user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	a.recordAudit(r, audit.EventSecurity, audit.SeverityInfo, "token_issued", "operator", user.ID, "", nil)
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// recordAudit writes a best-effort audit entry for a management action.
func (a *API) recordAudit(r *http.Request, eventType, severity, action, resourceType, resourceID, orgCode string, details map[string]any) {
	if a.auditLog == nil {
		return
	}
	actorID := ""
	if user, ok := UserFromContext(r.Context()); ok {
		actorID = user.ID
	}
	_, _ = a.auditLog.Record(r.Context(), audit.Entry{
		EventType:        eventType,
		Severity:         severity,
		ActorID:          actorID,
		ActorType:        "operator",
		OrganizationCode: orgCode,
		ResourceType:     resourceType,
		ResourceID:       resourceID,
		Action:           action,
		Details:          details,
	})
}
