package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"trustgate.org/internal/ids"
)

// ErrBadCredentials is returned for unknown operators or wrong passwords.
var ErrBadCredentials = errors.New("access: bad credentials")

// Operator is a platform administrator account.
type Operator struct {
	ID            string              `json:"id"`
	Email         string              `json:"email"`
	PasswordHash  string              `json:"-"`
	PlatformRoles []string            `json:"platform_roles"`
	OrgRoles      map[string][]string `json:"org_roles,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Operators is an in-process directory of operator accounts.
type Operators struct {
	mu      sync.RWMutex
	byEmail map[string]*Operator
}

// NewOperators creates an empty directory.
func NewOperators() *Operators {
	return &Operators{byEmail: make(map[string]*Operator)}
}

// Create registers an operator with a bcrypt password hash.
func (o *Operators) Create(ctx context.Context, email, password string, platformRoles []string, orgRoles map[string][]string) (*Operator, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byEmail[email]; ok {
		return nil, fmt.Errorf("%w: operator %s already exists", ErrInvalidInput, email)
	}
	op := &Operator{
		ID:            ids.New(),
		Email:         email,
		PasswordHash:  string(hash),
		PlatformRoles: dedupeRoles(platformRoles),
		OrgRoles:      orgRoles,
		CreatedAt:     time.Now().UTC(),
	}
	o.byEmail[email] = op
	cp := *op
	return &cp, nil
}

// Authenticate verifies credentials and returns the operator as an RBAC user.
func (o *Operators) Authenticate(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	o.mu.RLock()
	op, ok := o.byEmail[email]
	o.mu.RUnlock()
	if !ok {
		return User{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrBadCredentials
	}
	return User{ID: op.ID, PlatformRoles: op.PlatformRoles, OrgRoles: op.OrgRoles}, nil
}
