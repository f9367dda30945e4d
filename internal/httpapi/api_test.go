package httpapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
	"trustgate.org/internal/gateway"
	"trustgate.org/internal/pki"
	"trustgate.org/internal/protocol"
	"trustgate.org/internal/registry"
	"trustgate.org/internal/resilience"
	"trustgate.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

// newTestAPI wires the full service stack over in-memory stores and serves it
// through httptest. upstreamURL is the base address given to the provider
// subsystem created by seedExchange; pass "" when the test never forwards.
func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	reg, err := registry.New(registry.NewInMemoryStore())
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	ctl, err := access.NewControl(access.NewInMemoryStore())
	if err != nil {
		t.Fatalf("access.NewControl: %v", err)
	}

	keys, err := pki.NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	mgr, err := pki.NewManager(pki.NewInMemoryStore(), keys)
	if err != nil {
		t.Fatalf("pki.NewManager: %v", err)
	}
	if err := mgr.InitializeRootCA(t.Context()); err != nil {
		t.Fatalf("InitializeRootCA: %v", err)
	}

	auditLog, err := audit.NewLog(audit.NewInMemoryStore())
	if err != nil {
		t.Fatalf("audit.NewLog: %v", err)
	}
	txlog, err := audit.NewTransactionLog(audit.NewInMemoryTxStore())
	if err != nil {
		t.Fatalf("audit.NewTransactionLog: %v", err)
	}

	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("signing key: %v", err)
	}
	gw, err := gateway.New(gateway.Deps{
		Instance:   "TG",
		Registry:   reg,
		Access:     ctl,
		PKI:        mgr,
		Limiter:    resilience.NewRateLimiter(resilience.DefaultLimiterConfig()),
		Breaker:    resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		Audit:      auditLog,
		TxLog:      txlog,
		Events:     stream.New(),
		SigningKey: signKey,
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}

	operators := access.NewOperators()
	mustCreateOperator(t, operators, "admin@trustgate.example", "admin-pass", access.RolePlatformAdmin)
	mustCreateOperator(t, operators, "auditor@trustgate.example", "auditor-pass", access.RoleAuditor)
	mustCreateOperator(t, operators, "viewer@trustgate.example", "viewer-pass", access.RoleViewer)

	api := New(ReadyProbe{}, "test", Deps{
		Registry:  reg,
		Access:    ctl,
		RBAC:      access.NewRBAC(100),
		Tokens:    access.NewTokens("test-secret", time.Hour),
		Operators: operators,
		PKI:       mgr,
		Audit:     auditLog,
		TxLog:     txlog,
		Gateway:   gw,
		Stream:    stream.New(),
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func mustCreateOperator(t *testing.T, ops *access.Operators, email, password, role string) {
	t.Helper()
	if _, err := ops.Create(t.Context(), email, password, []string{role}, nil); err != nil {
		t.Fatalf("create operator %s: %v", email, err)
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) put(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPut, path, body, headers)
}

func (c *apiClient) del(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodDelete, path, nil, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(email, password string) map[string]string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", tokenRequest{Email: email, Password: password}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("status = %d, want %d", resp.StatusCode, code)
	}
}

func (c *apiClient) createOrganization(auth map[string]string, code, name string) map[string]any {
	c.t.Helper()
	resp := c.post("/v1/organizations", createOrganizationRequest{
		Code: code, Name: name, MemberClass: "GOV", ContactEmail: "ops@" + strings.ToLower(code) + ".example",
	}, auth)
	wantStatus(c.t, resp, http.StatusCreated)
	return decode[map[string]any](c.t, resp)
}

func (c *apiClient) verifyOrganization(auth map[string]string, orgID string) {
	c.t.Helper()
	resp := c.post("/v1/organizations/"+orgID+"/verify", verifyOrganizationRequest{}, auth)
	wantStatus(c.t, resp, http.StatusOK)
	resp.Body.Close()
}

func (c *apiClient) createSubsystem(auth map[string]string, orgID, code, baseAddress string) map[string]any {
	c.t.Helper()
	resp := c.post("/v1/organizations/"+orgID+"/subsystems", createSubsystemRequest{
		Code: code, BaseAddress: baseAddress,
	}, auth)
	wantStatus(c.t, resp, http.StatusCreated)
	return decode[map[string]any](c.t, resp)
}

func (c *apiClient) createService(auth map[string]string, subID, code, version string) map[string]any {
	c.t.Helper()
	resp := c.post("/v1/subsystems/"+subID+"/services", createServiceRequest{
		Code: code, Version: version, Type: registry.ServiceTypeRequestResponse,
		Title: "Test service", TimeoutMs: 2000,
	}, auth)
	wantStatus(c.t, resp, http.StatusCreated)
	return decode[map[string]any](c.t, resp)
}

func TestPublicEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" {
		t.Fatalf("health status = %v", health["status"])
	}

	resp = api.get("/readyz", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.get("/v1/info", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("info version = %v", info["version"])
	}

	resp = api.get("/v1/ca/root", nil, nil)
	wantStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-pem-file" {
		t.Fatalf("root cert content type = %q", ct)
	}
	resp.Body.Close()
}

func TestAuthTokenFlow(t *testing.T) {
	api := newTestAPI(t)

	// Wrong password is rejected.
	resp := api.post("/v1/auth/token", tokenRequest{Email: "admin@trustgate.example", Password: "nope"}, nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// No token on a protected endpoint.
	resp = api.get("/v1/organizations", nil, nil)
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Garbage token.
	resp = api.get("/v1/organizations", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	wantStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	admin := api.obtainToken("admin@trustgate.example", "admin-pass")
	resp = api.get("/v1/organizations", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Viewers can read the directory but not manage it.
	viewer := api.obtainToken("viewer@trustgate.example", "viewer-pass")
	resp = api.get("/v1/organizations", nil, viewer)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/organizations", createOrganizationRequest{Code: "GOV-009", Name: "Nope", MemberClass: "GOV"}, viewer)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestOrganizationLifecycle(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin@trustgate.example", "admin-pass")

	org := api.createOrganization(admin, "GOV-001", "Tax Board")
	orgID := org["id"].(string)
	if org["status"] != registry.OrgStatusPending {
		t.Fatalf("new org status = %v", org["status"])
	}

	// Same code again conflicts.
	resp := api.post("/v1/organizations", createOrganizationRequest{
		Code: "gov-001", Name: "Dup", MemberClass: "GOV", ContactEmail: "x@y.example",
	}, admin)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	api.verifyOrganization(admin, orgID)
	resp = api.get("/v1/organizations/"+orgID, nil, admin)
	wantStatus(t, resp, http.StatusOK)
	got := decode[map[string]any](t, resp)
	if got["status"] != registry.OrgStatusActive {
		t.Fatalf("verified org status = %v", got["status"])
	}

	resp = api.post("/v1/organizations/"+orgID+"/suspend", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	suspended := decode[map[string]any](t, resp)
	if suspended["status"] != registry.OrgStatusSuspended {
		t.Fatalf("suspended org status = %v", suspended["status"])
	}

	resp = api.post("/v1/organizations/"+orgID+"/reactivate", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Only pending organizations can be deleted.
	resp = api.del("/v1/organizations/"+orgID, admin)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	pending := api.createOrganization(admin, "GOV-099", "Pilot Agency")
	pendingID := pending["id"].(string)
	resp = api.del("/v1/organizations/"+pendingID, admin)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.get("/v1/organizations/"+pendingID, nil, admin)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestServiceRegistrationAndDiscovery(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin@trustgate.example", "admin-pass")

	org := api.createOrganization(admin, "HEALTH-002", "Health Board")
	orgID := org["id"].(string)
	api.verifyOrganization(admin, orgID)

	sub := api.createSubsystem(admin, orgID, "records", "http://records.internal")
	subID := sub["id"].(string)
	svc := api.createService(admin, subID, "get-patient", "v1")
	svcID := svc["id"].(string)

	resp := api.get("/v1/subsystems/"+subID+"/services", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	listing := decode[map[string][]map[string]any](t, resp)
	if len(listing["items"]) != 1 {
		t.Fatalf("services = %d, want 1", len(listing["items"]))
	}

	resp = api.put("/v1/services/"+svcID+"/status", serviceStatusRequest{Status: registry.ServiceStatusActive}, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.put("/v1/services/"+svcID+"/health", serviceHealthRequest{Status: "healthy", SuccessRate: 0.99}, admin)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.get("/v1/discovery", url.Values{"q": {"patient"}}, admin)
	wantStatus(t, resp, http.StatusOK)
	found := decode[map[string][]map[string]any](t, resp)
	if len(found["items"]) != 1 {
		t.Fatalf("discovery items = %d, want 1", len(found["items"]))
	}

	resp = api.get("/v1/discovery", url.Values{"q": {"no-such-service"}}, admin)
	wantStatus(t, resp, http.StatusOK)
	found = decode[map[string][]map[string]any](t, resp)
	if len(found["items"]) != 0 {
		t.Fatalf("discovery items = %d, want 0", len(found["items"]))
	}
}

func TestAccessRightsFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin@trustgate.example", "admin-pass")

	provider := api.createOrganization(admin, "HEALTH-002", "Health Board")
	api.verifyOrganization(admin, provider["id"].(string))
	provSub := api.createSubsystem(admin, provider["id"].(string), "records", "http://records.internal")
	svc := api.createService(admin, provSub["id"].(string), "get-patient", "v1")
	svcID := svc["id"].(string)

	client := api.createOrganization(admin, "GOV-001", "Tax Board")
	api.verifyOrganization(admin, client["id"].(string))
	clientSub := api.createSubsystem(admin, client["id"].(string), "portal", "http://portal.internal")

	resp := api.post("/v1/services/"+svcID+"/access-rights", grantAccessRequest{
		ClientSubsystemID: clientSub["id"].(string),
		Type:              access.TypeAllow,
	}, admin)
	wantStatus(t, resp, http.StatusCreated)
	right := decode[map[string]any](t, resp)
	rightID := right["id"].(string)

	resp = api.get("/v1/services/"+svcID+"/access-rights", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	listing := decode[map[string][]map[string]any](t, resp)
	if len(listing["items"]) != 1 {
		t.Fatalf("access rights = %d, want 1", len(listing["items"]))
	}

	resp = api.post("/v1/access-rights/cleanup", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	cleaned := decode[map[string]any](t, resp)
	if cleaned["removed"].(float64) != 0 {
		t.Fatalf("cleanup removed = %v, want 0", cleaned["removed"])
	}

	resp = api.del("/v1/access-rights/"+rightID, admin)
	wantStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = api.del("/v1/access-rights/"+rightID, admin)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestCertificateLifecycle(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin@trustgate.example", "admin-pass")

	resp := api.post("/v1/certificates", issueCertificateRequest{
		OrgCode: "GOV-001", OrgName: "Tax Board", CommonName: "portal.gov-001.example",
		Kind: pki.KindAuthentication, ValidityDays: 30,
	}, admin)
	wantStatus(t, resp, http.StatusCreated)
	issued := decode[issueCertificateResponse](t, resp)
	if issued.CertPEM == "" || issued.PrivateKeyPEM == "" {
		t.Fatalf("issue response missing PEM material")
	}
	certID := issued.Certificate.ID

	resp = api.get("/v1/certificates/"+certID, nil, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/certificates/validate", validateCertificateRequest{CertPEM: issued.CertPEM}, admin)
	wantStatus(t, resp, http.StatusOK)
	verdict := decode[map[string]any](t, resp)
	if verdict["valid"] != true {
		t.Fatalf("fresh certificate not valid: %v", verdict)
	}

	resp = api.post("/v1/certificates/"+certID+"/renew", nil, admin)
	wantStatus(t, resp, http.StatusCreated)
	renewed := decode[issueCertificateResponse](t, resp)
	if renewed.Certificate.ID == certID {
		t.Fatalf("renewal reused the certificate id")
	}

	resp = api.post("/v1/certificates/"+renewed.Certificate.ID+"/revoke", revokeCertificateRequest{Reason: "key compromise"}, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/certificates/validate", validateCertificateRequest{CertPEM: renewed.CertPEM}, admin)
	wantStatus(t, resp, http.StatusOK)
	verdict = decode[map[string]any](t, resp)
	if verdict["valid"] != false {
		t.Fatalf("revoked certificate reported valid")
	}

	// A revoked certificate cannot be renewed.
	resp = api.post("/v1/certificates/"+renewed.Certificate.ID+"/renew", nil, admin)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	resp = api.get("/v1/certificates/no-such-cert", nil, admin)
	wantStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestAuditEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("admin@trustgate.example", "admin-pass")

	org := api.createOrganization(admin, "GOV-001", "Tax Board")
	api.verifyOrganization(admin, org["id"].(string))

	auditor := api.obtainToken("auditor@trustgate.example", "auditor-pass")
	resp := api.get("/v1/audit", url.Values{"event_type": {audit.EventRegistry}}, auditor)
	wantStatus(t, resp, http.StatusOK)
	listing := decode[map[string][]map[string]any](t, resp)
	if len(listing["items"]) < 2 {
		t.Fatalf("registry audit entries = %d, want >= 2", len(listing["items"]))
	}
	entryID := listing["items"][0]["id"].(string)

	resp = api.get("/v1/audit/"+entryID+"/verify", nil, auditor)
	wantStatus(t, resp, http.StatusOK)
	verdict := decode[map[string]any](t, resp)
	if verdict["intact"] != true {
		t.Fatalf("fresh entry failed integrity check: %v", verdict)
	}

	resp = api.get("/v1/audit/export", nil, auditor)
	wantStatus(t, resp, http.StatusOK)
	export := decode[audit.ComplianceExport](t, resp)
	if len(export.Entries) == 0 {
		t.Fatalf("compliance export is empty")
	}

	// Viewers hold no audit permission.
	viewer := api.obtainToken("viewer@trustgate.example", "viewer-pass")
	resp = api.get("/v1/audit", nil, viewer)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/v1/audit", url.Values{"start": {"yesterday"}}, auditor)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestExchangeEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"patient":"P-42"}`))
	}))
	defer upstream.Close()

	api := newTestAPI(t)
	admin := api.obtainToken("admin@trustgate.example", "admin-pass")

	client := api.createOrganization(admin, "GOV-001", "Tax Board")
	api.verifyOrganization(admin, client["id"].(string))
	clientSub := api.createSubsystem(admin, client["id"].(string), "portal", "http://portal.internal")

	provider := api.createOrganization(admin, "HEALTH-002", "Health Board")
	api.verifyOrganization(admin, provider["id"].(string))
	provSub := api.createSubsystem(admin, provider["id"].(string), "records", upstream.URL)
	svc := api.createService(admin, provSub["id"].(string), "get-patient", "v1")

	call := exchangeRequest{
		Client: protocol.ClientID{
			Instance: "TG", MemberClass: "GOV", MemberCode: "GOV-001", SubsystemCode: "portal",
		},
		Service: protocol.ServiceID{
			Instance: "TG", MemberClass: "GOV", MemberCode: "HEALTH-002", SubsystemCode: "records",
			ServiceCode: "get-patient", Version: "v1",
		},
		ProtocolVersion: protocol.Version,
		Method:          http.MethodGet,
		Path:            "/patients/42",
	}

	// No access right yet: the call is denied before any forward happens.
	resp := api.post("/v1/exchange", call, admin)
	wantStatus(t, resp, http.StatusForbidden)
	denied := decode[map[string]any](t, resp)
	if denied["code"] != "access_denied" {
		t.Fatalf("denied code = %v", denied["code"])
	}
	if rid, _ := denied["request_id"].(string); rid == "" {
		t.Fatalf("denied response lacks request id")
	}

	grant := api.post("/v1/services/"+svc["id"].(string)+"/access-rights", grantAccessRequest{
		ClientSubsystemID: clientSub["id"].(string),
		Type:              access.TypeAllow,
	}, admin)
	wantStatus(t, grant, http.StatusCreated)
	grant.Body.Close()

	resp = api.post("/v1/exchange", call, admin)
	wantStatus(t, resp, http.StatusOK)
	out := decode[exchangeResponse](t, resp)
	if out.StatusCode != http.StatusOK {
		t.Fatalf("upstream status = %d", out.StatusCode)
	}
	if string(out.Body) != `{"patient":"P-42"}` {
		t.Fatalf("body = %s", out.Body)
	}
	if out.ResponseHash == "" || out.Signature == "" {
		t.Fatalf("response is missing hash or signature")
	}

	// Both attempts are in the transaction log, newest first.
	resp = api.get("/v1/transactions", url.Values{"client_org": {"GOV-001"}}, admin)
	wantStatus(t, resp, http.StatusOK)
	txs := decode[map[string][]map[string]any](t, resp)
	if len(txs["items"]) != 2 {
		t.Fatalf("transactions = %d, want 2", len(txs["items"]))
	}
	if txs["items"][0]["status"] != audit.TxStatusSuccess {
		t.Fatalf("latest transaction status = %v", txs["items"][0]["status"])
	}
	if txs["items"][1]["status"] != audit.TxStatusDenied {
		t.Fatalf("earlier transaction status = %v", txs["items"][1]["status"])
	}
}
