package access

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "trustgate"

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("access: invalid token")

// Claims are the JWT claims carried by operator tokens.
type Claims struct {
	Roles    []string            `json:"roles"`
	OrgRoles map[string][]string `json:"org_roles,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies operator bearer tokens with HS256.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens constructs the token service. An empty secret disables it.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	secret = strings.TrimSpace(secret)
	t := &Tokens{ttl: ttl, now: time.Now}
	if secret != "" {
		t.secret = []byte(secret)
	}
	return t
}

// Enabled reports whether token signing is configured.
func (t *Tokens) Enabled() bool { return len(t.secret) > 0 }

// Generate signs a JWT for the user.
func (t *Tokens) Generate(user User) (string, error) {
	if !t.Enabled() {
		return "", errors.New("access: token secret is not configured")
	}
	if strings.TrimSpace(user.ID) == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := t.now().UTC()
	claims := Claims{
		Roles:    dedupeRoles(user.PlatformRoles),
		OrgRoles: user.OrgRoles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and required claims and returns the user.
func (t *Tokens) Parse(token string) (User, error) {
	token = strings.TrimSpace(token)
	if token == "" || !t.Enabled() {
		return User{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil {
		return User{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return User{}, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return User{}, ErrInvalidToken
	}
	return User{
		ID:            claims.Subject,
		PlatformRoles: dedupeRoles(claims.Roles),
		OrgRoles:      claims.OrgRoles,
	}, nil
}

func (t *Tokens) validateClaims(claims *Claims) error {
	if claims.Issuer != tokenIssuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	return nil
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
