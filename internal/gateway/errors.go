package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Gateway error codes surfaced to callers.
const (
	CodeRateLimited     = "rate_limited"
	CodeCircuitOpen     = "circuit_open"
	CodeUnknownClient   = "unknown_client"
	CodeClientSuspended = "client_suspended"
	CodeInvalidCert     = "invalid_certificate"
	CodeServiceNotFound = "service_not_found"
	CodeAccessDenied    = "access_denied"
	CodeInvalidEnvelope = "invalid_envelope"
	CodeUpstreamFailure = "upstream_failure"
	CodeGatewayTimeout  = "gateway_timeout"
	CodeInternal        = "internal_error"
)

// ExchangeError carries the HTTP status, a stable machine code and an
// optional retry hint for a failed exchange.
type ExchangeError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *ExchangeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
	}
	return "gateway: " + e.Code
}

func (e *ExchangeError) Unwrap() error { return e.cause }

func exchangeErr(status int, code, message string, cause error) *ExchangeError {
	return &ExchangeError{Status: status, Code: code, Message: message, cause: cause}
}

// AsExchangeError unwraps err into an *ExchangeError when possible.
func AsExchangeError(err error) (*ExchangeError, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
