// Package gateway orchestrates one exchange call end to end: resilience
// gates, identity and access checks, message signing and the outbound forward
// to the provider subsystem.
package gateway

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trustgate.org/internal/access"
	"trustgate.org/internal/audit"
	"trustgate.org/internal/obs"
	"trustgate.org/internal/pki"
	"trustgate.org/internal/protocol"
	"trustgate.org/internal/registry"
	"trustgate.org/internal/resilience"
	"trustgate.org/internal/stream"
)

// Forward headers added to every upstream call.
const (
	HeaderClient      = "X-Road-Client"
	HeaderRequestID   = "X-Road-Request-Id"
	HeaderRequestHash = "X-Road-Request-Hash"
)

// Result is a completed exchange as returned to the calling security server.
type Result struct {
	RequestID    string            `json:"request_id"`
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         []byte            `json:"body,omitempty"`
	ResponseHash string            `json:"response_hash"`
	Signature    string            `json:"signature"`
	Duration     time.Duration     `json:"duration_ms"`
}

// Deps bundles the collaborators the gateway composes. All fields are
// required except Client, which defaults to http.DefaultClient.
type Deps struct {
	Instance string
	Registry *registry.Registry
	Access   *access.Control
	PKI      *pki.Manager
	Limiter  *resilience.RateLimiter
	Breaker  *resilience.Breaker
	Audit    *audit.Log
	TxLog    *audit.TransactionLog
	Events   *stream.Stream
	Client   *http.Client
	// SigningKey signs request and response hashes on behalf of this
	// security server.
	SigningKey   *rsa.PrivateKey
	MaxBodyBytes int64
}

// Gateway is the security-server request pipeline.
type Gateway struct {
	instance string
	registry *registry.Registry
	access   *access.Control
	pki      *pki.Manager
	limiter  *resilience.RateLimiter
	breaker  *resilience.Breaker
	audit    *audit.Log
	txlog    *audit.TransactionLog
	events   *stream.Stream
	client   *http.Client
	signKey  *rsa.PrivateKey
	maxBody  int64
	now      func() time.Time
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New wires a gateway from its dependencies.
func New(deps Deps, opts ...Option) (*Gateway, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("gateway: registry is required")
	case deps.Access == nil:
		return nil, errors.New("gateway: access control is required")
	case deps.PKI == nil:
		return nil, errors.New("gateway: pki manager is required")
	case deps.Limiter == nil:
		return nil, errors.New("gateway: rate limiter is required")
	case deps.Breaker == nil:
		return nil, errors.New("gateway: circuit breaker is required")
	case deps.Audit == nil:
		return nil, errors.New("gateway: audit log is required")
	case deps.TxLog == nil:
		return nil, errors.New("gateway: transaction log is required")
	case deps.SigningKey == nil:
		return nil, errors.New("gateway: signing key is required")
	}
	g := &Gateway{
		instance: deps.Instance,
		registry: deps.Registry,
		access:   deps.Access,
		pki:      deps.PKI,
		limiter:  deps.Limiter,
		breaker:  deps.Breaker,
		audit:    deps.Audit,
		txlog:    deps.TxLog,
		events:   deps.Events,
		client:   deps.Client,
		signKey:  deps.SigningKey,
		maxBody:  deps.MaxBodyBytes,
		now:      time.Now,
	}
	if g.client == nil {
		g.client = http.DefaultClient
	}
	if g.maxBody <= 0 {
		g.maxBody = 1 << 20
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ProcessRequest runs the full pipeline for one signed exchange request.
// clientCertPEM, when non-empty, is validated against the trust root before
// anything is forwarded.
func (g *Gateway) ProcessRequest(ctx context.Context, req *protocol.Request, clientCertPEM []byte) (*Result, error) {
	started := g.now()

	res, err := g.process(ctx, req, clientCertPEM, started)
	outcome := audit.TxStatusSuccess
	statusCode := 0
	errText := ""
	if err != nil {
		errText = err.Error()
		if ee, ok := AsExchangeError(err); ok {
			statusCode = ee.Status
			switch ee.Code {
			case CodeRateLimited, CodeCircuitOpen:
				outcome = audit.TxStatusRejected
			case CodeAccessDenied, CodeInvalidCert, CodeClientSuspended:
				outcome = audit.TxStatusDenied
			default:
				outcome = audit.TxStatusFailed
			}
		} else {
			outcome = audit.TxStatusFailed
		}
	} else {
		statusCode = res.StatusCode
	}
	completed := g.now()

	tx := audit.Transaction{
		RequestID:      req.Header.MessageID,
		ClientOrg:      req.Header.Client.MemberCode,
		ClientSub:      req.Header.Client.SubsystemCode,
		ProviderOrg:    req.Header.Service.MemberCode,
		ProviderSub:    req.Header.Service.SubsystemCode,
		ServiceCode:    req.Header.Service.ServiceCode,
		ServiceVersion: req.Header.Service.Version,
		Method:         req.Method,
		Path:           req.Path,
		StartedAt:      started,
		CompletedAt:    completed,
		RequestBytes:   len(req.Body),
		StatusCode:     statusCode,
		Status:         outcome,
		MessageHash:    req.Header.ContentHash,
		Error:          errText,
	}
	if res != nil {
		tx.ResponseBytes = len(res.Body)
		tx.Signature = res.Signature
	}
	if _, recErr := g.txlog.Record(ctx, tx); recErr != nil {
		obs.LogEvent(map[string]any{"type": "gateway", "level": "error", "msg": "transaction record failed", "err": recErr.Error()})
	}
	obs.ObserveExchange(outcome)
	if g.events != nil {
		g.events.Publish(stream.ExchangeEvent{
			RequestID:      req.Header.MessageID,
			ClientOrg:      req.Header.Client.MemberCode,
			ClientSub:      req.Header.Client.SubsystemCode,
			ProviderOrg:    req.Header.Service.MemberCode,
			ProviderSub:    req.Header.Service.SubsystemCode,
			ServiceCode:    req.Header.Service.ServiceCode,
			ServiceVersion: req.Header.Service.Version,
			Status:         outcome,
			StatusCode:     statusCode,
			DurationMs:     completed.Sub(started).Milliseconds(),
			Timestamp:      completed.UTC(),
		})
	}
	return res, err
}

func (g *Gateway) process(ctx context.Context, req *protocol.Request, clientCertPEM []byte, started time.Time) (*Result, error) {
	serviceKey := req.Header.Service.Key()

	// Resolve the target up front so its registered rate limit and timeout
	// apply to the gates; resolution errors surface only after them.
	provOrg, provSub, svc, resolveErr := g.registry.ResolveService(ctx,
		req.Header.Service.MemberCode, req.Header.Service.SubsystemCode,
		req.Header.Service.ServiceCode, req.Header.Service.Version)
	serviceRPM := 0
	if resolveErr == nil {
		serviceRPM = svc.RateLimit
	}

	// Resilience gates first: an exhausted or tripped caller is turned away
	// before any identity or authorization work happens on its behalf.
	if err := g.limiter.Check(strings.ToUpper(req.Header.Client.MemberCode), serviceKey, serviceRPM); err != nil {
		ee := exchangeErr(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", err)
		ee.RetryAfter = rejectionRetry(err)
		return nil, ee
	}
	if err := g.breaker.CanExecute(serviceKey); err != nil {
		ee := exchangeErr(http.StatusServiceUnavailable, CodeCircuitOpen, "service circuit is open", err)
		ee.RetryAfter = rejectionRetry(err)
		return nil, ee
	}

	// Past the gates every failure counts against the service circuit, so a
	// half-open probe slot always records an outcome.
	res, err := g.admitted(ctx, req, clientCertPEM, provOrg, provSub, svc, resolveErr)
	if err != nil {
		g.breaker.RecordFailure(serviceKey)
		return nil, err
	}
	if res.StatusCode >= http.StatusInternalServerError {
		g.breaker.RecordFailure(serviceKey)
	} else {
		g.breaker.RecordSuccess(serviceKey)
	}

	res.ResponseHash = protocol.ComputeHash(res.Body)
	respSig, err := protocol.Sign(res.ResponseHash, g.signKey)
	if err != nil {
		return nil, exchangeErr(http.StatusInternalServerError, CodeInternal, "response signing failed", err)
	}
	res.Signature = base64.StdEncoding.EncodeToString(respSig)
	res.Duration = g.now().Sub(started)
	return res, nil
}

// admitted is the pipeline past the resilience gates: identity, service
// availability, authorization, signing and the forward itself.
func (g *Gateway) admitted(ctx context.Context, req *protocol.Request, clientCertPEM []byte, provOrg *registry.Organization, provSub *registry.Subsystem, svc *registry.Service, resolveErr error) (*Result, error) {
	clientOrg, clientSub, err := g.registry.FindSubsystem(ctx, req.Header.Client.MemberCode, req.Header.Client.SubsystemCode)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, exchangeErr(http.StatusForbidden, CodeUnknownClient, "client is not registered", err)
		}
		return nil, exchangeErr(http.StatusInternalServerError, CodeInternal, "client lookup failed", err)
	}
	if clientOrg.Status != registry.OrgStatusActive {
		g.securityEvent(ctx, req, "client_not_active", map[string]any{"status": clientOrg.Status})
		return nil, exchangeErr(http.StatusForbidden, CodeClientSuspended, "client organization is not active", nil)
	}
	if len(clientCertPEM) > 0 {
		if _, err := g.pki.ValidateCertificate(ctx, clientCertPEM); err != nil {
			g.securityEvent(ctx, req, "certificate_rejected", map[string]any{"err": err.Error()})
			return nil, exchangeErr(http.StatusForbidden, CodeInvalidCert, "client certificate rejected", err)
		}
	}

	if resolveErr != nil {
		if errors.Is(resolveErr, registry.ErrNotFound) {
			return nil, exchangeErr(http.StatusNotFound, CodeServiceNotFound, "service not found", resolveErr)
		}
		return nil, exchangeErr(http.StatusInternalServerError, CodeInternal, "service resolution failed", resolveErr)
	}
	if provOrg.Status != registry.OrgStatusActive || svc.Status == registry.ServiceStatusDisabled {
		return nil, exchangeErr(http.StatusNotFound, CodeServiceNotFound, "service is not available", nil)
	}

	decision, err := g.access.Check(ctx, svc.ID, clientSub.ID)
	if err != nil {
		return nil, exchangeErr(http.StatusInternalServerError, CodeInternal, "access check failed", err)
	}
	if !decision.Allowed {
		g.securityEvent(ctx, req, "access_denied", map[string]any{
			"reason":  decision.Reason,
			"service": req.Header.Service.Key(),
		})
		return nil, exchangeErr(http.StatusForbidden, CodeAccessDenied, "access denied: "+decision.Reason, access.ErrDenied)
	}

	// Stamp the content hash and signature before the message leaves this
	// security server.
	req.Header.ContentHash = protocol.ComputeHash(req.Body)
	if _, err := protocol.Sign(req.Header.ContentHash, g.signKey); err != nil {
		return nil, exchangeErr(http.StatusInternalServerError, CodeInternal, "request signing failed", err)
	}

	res, err := g.forward(ctx, req, provSub, svc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, exchangeErr(http.StatusGatewayTimeout, CodeGatewayTimeout, "upstream call timed out", err)
		}
		return nil, exchangeErr(http.StatusBadGateway, CodeUpstreamFailure, "upstream call failed", err)
	}
	return res, nil
}

func rejectionRetry(err error) time.Duration {
	var rej *resilience.RejectedError
	if errors.As(err, &rej) {
		return rej.RetryAfter
	}
	return 0
}

// forward performs the single outbound HTTP call. No retries: retrying is the
// caller's decision, the breaker tracks the outcome.
func (g *Gateway) forward(ctx context.Context, req *protocol.Request, sub *registry.Subsystem, svc *registry.Service) (*Result, error) {
	target, err := url.Parse(sub.BaseAddress)
	if err != nil {
		return nil, fmt.Errorf("bad base address: %w", err)
	}
	target.Path = strings.TrimRight(target.Path, "/") + req.Path
	target.RawQuery = req.Query

	timeout := 30 * time.Second
	if svc.TimeoutMs > 0 {
		timeout = time.Duration(svc.TimeoutMs) * time.Millisecond
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	out, err := http.NewRequestWithContext(fctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		out.Header.Set(k, v)
	}
	out.Header.Set(HeaderClient, req.Header.Client.String())
	out.Header.Set(HeaderRequestID, req.Header.MessageID)
	out.Header.Set(HeaderRequestHash, req.Header.ContentHash)

	forwardStart := g.now()
	resp, err := g.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	obs.ObserveForward(g.now().Sub(forwardStart))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return &Result{
		RequestID:  req.Header.MessageID,
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}

func (g *Gateway) securityEvent(ctx context.Context, req *protocol.Request, action string, details map[string]any) {
	_, err := g.audit.Record(ctx, audit.Entry{
		EventType:        audit.EventSecurity,
		Severity:         audit.SeverityWarning,
		ActorID:          req.Header.Client.String(),
		ActorType:        "subsystem",
		OrganizationCode: req.Header.Client.MemberCode,
		ResourceType:     "service",
		ResourceID:       req.Header.Service.String(),
		Action:           action,
		Details:          details,
	})
	if err != nil {
		obs.LogEvent(map[string]any{"type": "gateway", "level": "error", "msg": "security audit failed", "err": err.Error()})
	}
}
