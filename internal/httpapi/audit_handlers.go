package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
)

func (a *API) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermAuditRead, "") {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end must be RFC3339")
		return
	}

	entries, err := a.auditLog.Search(r.Context(), audit.Query{
		EventType:        q.Get("event_type"),
		Severity:         q.Get("severity"),
		OrganizationCode: q.Get("org"),
		ActorID:          q.Get("actor"),
		Start:            start,
		End:              end,
		Limit:            limit,
		Offset:           offset,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) handleAuditScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/audit/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "verify" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermAuditRead, "") {
		return
	}
	ok, err := a.auditLog.VerifyIntegrity(r.Context(), parts[0])
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry_id": parts[0], "intact": ok})
}

func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermAuditExport, "") {
		return
	}
	q := r.URL.Query()
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end must be RFC3339")
		return
	}
	export, err := a.auditLog.ExportForCompliance(r.Context(), start, end, q.Get("org"))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.recordAudit(r, audit.EventSecurity, audit.SeverityInfo, "audit_exported", "audit", "", q.Get("org"), map[string]any{
		"entries": len(export.Entries),
	})
	writeJSON(w, http.StatusOK, export)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermAuditRead, "") {
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parsePositiveInt(q.Get("offset"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	start, err := parseTimeParam(q.Get("start"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := parseTimeParam(q.Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end must be RFC3339")
		return
	}

	txs, err := a.txlog.Search(r.Context(), audit.TxQuery{
		ClientOrg:   q.Get("client_org"),
		ProviderOrg: q.Get("provider_org"),
		ServiceCode: q.Get("service"),
		Status:      q.Get("status"),
		Start:       start,
		End:         end,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": txs})
}
