// Package protocol defines the signed message envelope exchanged between
// security servers and the cryptographic primitives protecting it.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Version is the protocol version spoken by this gateway.
const Version = "1.0"

// HashAlgorithm names the digest used for content hashes.
const HashAlgorithm = "SHA-256"

var supportedVersions = map[string]bool{Version: true}

var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"DELETE": true,
	"PATCH":  true,
}

var (
	ErrInvalidEnvelope    = errors.New("protocol: invalid envelope")
	ErrUnsupportedVersion = errors.New("protocol: unsupported protocol version")
	ErrMethodNotAllowed   = errors.New("protocol: method not allowed")
)

// ClientID identifies the calling subsystem.
type ClientID struct {
	Instance      string `json:"instance"`
	MemberClass   string `json:"member_class"`
	MemberCode    string `json:"member_code"`
	SubsystemCode string `json:"subsystem_code"`
}

// String renders the identifier in slash-separated form.
func (c ClientID) String() string {
	return strings.Join([]string{c.Instance, c.MemberClass, c.MemberCode, c.SubsystemCode}, "/")
}

func (c ClientID) validate() error {
	if c.Instance == "" || c.MemberClass == "" || c.MemberCode == "" || c.SubsystemCode == "" {
		return fmt.Errorf("%w: client identifier has blank fields", ErrInvalidEnvelope)
	}
	return nil
}

// ServiceID identifies the called service.
type ServiceID struct {
	Instance      string `json:"instance"`
	MemberClass   string `json:"member_class"`
	MemberCode    string `json:"member_code"`
	SubsystemCode string `json:"subsystem_code"`
	ServiceCode   string `json:"service_code"`
	Version       string `json:"version,omitempty"`
}

// String renders the identifier in slash-separated form.
func (s ServiceID) String() string {
	parts := []string{s.Instance, s.MemberClass, s.MemberCode, s.SubsystemCode, s.ServiceCode}
	if s.Version != "" {
		parts = append(parts, s.Version)
	}
	return strings.Join(parts, "/")
}

// Key returns the stable identity used for circuit and rate-limit bookkeeping.
func (s ServiceID) Key() string {
	return strings.Join([]string{s.MemberCode, s.SubsystemCode, s.ServiceCode}, "/")
}

func (s ServiceID) validate() error {
	if s.Instance == "" || s.MemberClass == "" || s.MemberCode == "" || s.SubsystemCode == "" || s.ServiceCode == "" {
		return fmt.Errorf("%w: service identifier has blank fields", ErrInvalidEnvelope)
	}
	return nil
}

// Header is the signed message header prepended to every exchange call.
type Header struct {
	Client          ClientID  `json:"client"`
	Service         ServiceID `json:"service"`
	MessageID       string    `json:"message_id"`
	ProtocolVersion string    `json:"protocol_version"`
	ContentHash     string    `json:"content_hash,omitempty"`
	HashAlgorithm   string    `json:"hash_algorithm"`
}

// Request is one exchange call as accepted by the gateway.
type Request struct {
	Header  Header            `json:"header"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   string            `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// BuildRequest validates identifiers, version and method and assembles a
// request envelope with a fresh message id.
func BuildRequest(client ClientID, service ServiceID, protocolVersion, method, path string, headers map[string]string, body []byte) (*Request, error) {
	if err := client.validate(); err != nil {
		return nil, err
	}
	if err := service.validate(); err != nil {
		return nil, err
	}
	if protocolVersion == "" {
		protocolVersion = Version
	}
	if !supportedVersions[protocolVersion] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, protocolVersion)
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, method)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &Request{
		Header: Header{
			Client:          client,
			Service:         service,
			MessageID:       uuid.NewString(),
			ProtocolVersion: protocolVersion,
			HashAlgorithm:   HashAlgorithm,
		},
		Method:  method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}
