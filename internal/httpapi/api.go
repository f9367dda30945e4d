// Package httpapi is the HTTP surface of the security server: management
// endpoints for the registry, access control, PKI and audit layers, plus the
// exchange endpoint itself.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
	"trustgate.org/internal/gateway"
	"trustgate.org/internal/obs"
	"trustgate.org/internal/pki"
	"trustgate.org/internal/registry"
	"trustgate.org/internal/stream"
)

// ReadyProbe checks backing-store readiness (e.g. a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps bundles the services the API exposes.
type Deps struct {
	Registry  *registry.Registry
	Access    *access.Control
	RBAC      *access.RBAC
	Tokens    *access.Tokens
	Operators *access.Operators
	PKI       *pki.Manager
	Audit     *audit.Log
	TxLog     *audit.TransactionLog
	Gateway   *gateway.Gateway
	Stream    *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	registry  *registry.Registry
	access    *access.Control
	rbac      *access.RBAC
	tokens    *access.Tokens
	operators *access.Operators
	pki       *pki.Manager
	auditLog  *audit.Log
	txlog     *audit.TransactionLog
	gateway   *gateway.Gateway
	stream    *stream.Stream
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		registry:   deps.Registry,
		access:     deps.Access,
		rbac:       deps.RBAC,
		tokens:     deps.Tokens,
		operators:  deps.Operators,
		pki:        deps.PKI,
		auditLog:   deps.Audit,
		txlog:      deps.TxLog,
		gateway:    deps.Gateway,
		stream:     deps.Stream,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// operator authentication
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// registry
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/subsystems/", a.handleSubsystemScoped)
	a.mux.HandleFunc("/v1/services/", a.handleServiceScoped)
	a.mux.HandleFunc("/v1/discovery", a.handleDiscovery)

	// access control
	a.mux.HandleFunc("/v1/access-rights/", a.handleAccessRightScoped)
	a.mux.HandleFunc("/v1/access-rights", a.handleAccessRights)

	// PKI
	a.mux.HandleFunc("/v1/certificates", a.handleCertificates)
	a.mux.HandleFunc("/v1/certificates/", a.handleCertificateScoped)
	a.mux.HandleFunc("/v1/ca/root", a.handleRootCertificate)

	// audit
	a.mux.HandleFunc("/v1/audit", a.handleAuditSearch)
	a.mux.HandleFunc("/v1/audit/export", a.handleAuditExport)
	a.mux.HandleFunc("/v1/audit/", a.handleAuditScoped)
	a.mux.HandleFunc("/v1/transactions", a.handleTransactions)

	// exchange + live events
	a.mux.HandleFunc("/v1/exchange", a.handleExchange)
	a.mux.HandleFunc("/v1/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented handler with authentication applied.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "trustgate",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "trustgate",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
