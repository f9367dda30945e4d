package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"trustgate.org/internal/access"
	"trustgate.org/internal/gateway"
	"trustgate.org/internal/protocol"
)

type exchangeRequest struct {
	Client          protocol.ClientID  `json:"client"`
	Service         protocol.ServiceID `json:"service"`
	ProtocolVersion string             `json:"protocol_version"`
	Method          string             `json:"method"`
	Path            string             `json:"path"`
	Query           string             `json:"query"`
	Headers         map[string]string  `json:"headers"`
	Body            json.RawMessage    `json:"body"`
	ClientCertPEM   string             `json:"client_cert_pem"`
}

type exchangeResponse struct {
	RequestID    string            `json:"request_id"`
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         json.RawMessage   `json:"body,omitempty"`
	ResponseHash string            `json:"response_hash"`
	Signature    string            `json:"signature"`
	DurationMs   int64             `json:"duration_ms"`
}

func (a *API) handleExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, access.PermExchangeCall, "") {
		return
	}
	if a.gateway == nil {
		writeError(w, r, http.StatusServiceUnavailable, "exchange disabled")
		return
	}

	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := protocol.BuildRequest(req.Client, req.Service, req.ProtocolVersion, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	msg.Query = req.Query

	res, err := a.gateway.ProcessRequest(r.Context(), msg, []byte(req.ClientCertPEM))
	if err != nil {
		if ee, ok := gateway.AsExchangeError(err); ok {
			if ee.RetryAfter > 0 {
				secs := int64(ee.RetryAfter / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
			}
			writeJSON(w, ee.Status, map[string]any{
				"error":      ee.Message,
				"code":       ee.Code,
				"request_id": msg.Header.MessageID,
			})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	body := json.RawMessage(nil)
	if len(res.Body) > 0 {
		if json.Valid(res.Body) {
			body = res.Body
		} else {
			raw, _ := json.Marshal(string(res.Body))
			body = raw
		}
	}
	writeJSON(w, http.StatusOK, exchangeResponse{
		RequestID:    res.RequestID,
		StatusCode:   res.StatusCode,
		Headers:      res.Headers,
		Body:         body,
		ResponseHash: res.ResponseHash,
		Signature:    res.Signature,
		DurationMs:   res.Duration.Milliseconds(),
	})
}
