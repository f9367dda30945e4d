package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
	"trustgate.org/internal/pki"
)

type issueCertificateRequest struct {
	OrgCode      string `json:"org_code"`
	OrgName      string `json:"org_name"`
	CommonName   string `json:"common_name"`
	Kind         string `json:"kind"`
	ValidityDays int    `json:"validity_days"`
}

type issueCertificateResponse struct {
	Certificate   pki.Certificate `json:"certificate"`
	CertPEM       string          `json:"cert_pem"`
	PrivateKeyPEM string          `json:"private_key_pem"`
	PublicKeyPEM  string          `json:"public_key_pem"`
}

type revokeCertificateRequest struct {
	Reason string `json:"reason"`
}

type validateCertificateRequest struct {
	CertPEM string `json:"cert_pem"`
}

func (a *API) handleCertificates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermCertManage, "") {
		return
	}
	var req issueCertificateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	issued, err := a.pki.IssueCertificate(r.Context(), req.OrgCode, req.OrgName, req.CommonName, req.Kind, req.ValidityDays)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventCertificate, audit.SeverityInfo, "certificate_issued", "certificate", issued.Certificate.ID, issued.Certificate.OrgCode, map[string]any{
		"kind":   issued.Certificate.Kind,
		"serial": issued.Certificate.SerialNumber,
	})
	// Private key bytes are returned exactly once.
	writeJSON(w, http.StatusCreated, issueCertificateResponse{
		Certificate:   issued.Certificate,
		CertPEM:       string(issued.CertPEM),
		PrivateKeyPEM: string(issued.PrivateKeyPEM),
		PublicKeyPEM:  string(issued.PublicKeyPEM),
	})
}

func (a *API) handleCertificateScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/certificates/"), "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) > 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if parts[0] == "validate" {
		a.validateCertificate(w, r)
		return
	}
	certID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.ensurePermission(w, r, access.PermCertManage, "") {
			return
		}
		cert, err := a.pki.Certificate(r.Context(), certID)
		if err != nil {
			handlePKIError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cert)
		return
	}

	switch parts[1] {
	case "revoke":
		a.revokeCertificate(w, r, certID)
	case "renew":
		a.renewCertificate(w, r, certID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) revokeCertificate(w http.ResponseWriter, r *http.Request, certID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermCertManage, "") {
		return
	}
	var req revokeCertificateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cert, err := a.pki.Revoke(r.Context(), certID, req.Reason)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventCertificate, audit.SeverityWarning, "certificate_revoked", "certificate", cert.ID, cert.OrgCode, map[string]any{"reason": req.Reason})
	writeJSON(w, http.StatusOK, cert)
}

func (a *API) renewCertificate(w http.ResponseWriter, r *http.Request, certID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermCertManage, "") {
		return
	}
	issued, err := a.pki.Renew(r.Context(), certID)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	a.recordAudit(r, audit.EventCertificate, audit.SeverityInfo, "certificate_renewed", "certificate", issued.Certificate.ID, issued.Certificate.OrgCode, map[string]any{"previous": certID})
	writeJSON(w, http.StatusCreated, issueCertificateResponse{
		Certificate:   issued.Certificate,
		CertPEM:       string(issued.CertPEM),
		PrivateKeyPEM: string(issued.PrivateKeyPEM),
		PublicKeyPEM:  string(issued.PublicKeyPEM),
	})
}

func (a *API) validateCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req validateCertificateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	validation, err := a.pki.ValidateCertificate(r.Context(), []byte(req.CertPEM))
	if err != nil {
		switch {
		case errors.Is(err, pki.ErrExpired), errors.Is(err, pki.ErrNotYetValid),
			errors.Is(err, pki.ErrRevoked), errors.Is(err, pki.ErrSignatureInvalid):
			writeJSON(w, http.StatusOK, map[string]any{"valid": false, "reason": err.Error()})
		default:
			handlePKIError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "details": validation})
}

func (a *API) listOrganizationCertificates(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.ensurePermission(w, r, access.PermCertManage, "") {
		return
	}
	org, err := a.registry.GetOrganization(r.Context(), orgID)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	certs, err := a.pki.ListByOrg(r.Context(), org.Code)
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": certs})
}

func (a *API) handleRootCertificate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	pem, err := a.pki.RootCertificatePEM()
	if err != nil {
		handlePKIError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(pem)
}

func handlePKIError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pki.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, pki.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, pki.ErrRevoked):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, pki.ErrRootMissing):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
