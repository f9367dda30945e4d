package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustgate.org/internal/ids"
)

// Control authorizes (service, client subsystem) calls.
type Control struct {
	store Store
	now   func() time.Time
}

// Option configures Control.
type Option func(*Control)

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Control) {
		if now != nil {
			c.now = now
		}
	}
}

// NewControl constructs the access control service.
func NewControl(store Store, opts ...Option) (*Control, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	c := &Control{store: store, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Grant upserts the access right for the pair. An existing record keeps its id
// and original grant time; type, expiry and grantor are overwritten.
func (c *Control) Grant(ctx context.Context, serviceID, clientSubsystemID, accessType string, expiresAt *time.Time, grantedBy string) (*AccessRight, error) {
	serviceID = strings.TrimSpace(serviceID)
	clientSubsystemID = strings.TrimSpace(clientSubsystemID)
	if serviceID == "" || clientSubsystemID == "" {
		return nil, fmt.Errorf("%w: service and client subsystem ids are required", ErrInvalidInput)
	}
	accessType = strings.TrimSpace(strings.ToLower(accessType))
	if accessType == "" {
		accessType = TypeAllow
	}
	if accessType != TypeAllow && accessType != TypeDeny {
		return nil, fmt.Errorf("%w: unsupported access type %s", ErrInvalidInput, accessType)
	}
	now := c.now().UTC()
	right := &AccessRight{
		ID:                ids.New(),
		ServiceID:         serviceID,
		ClientSubsystemID: clientSubsystemID,
		Type:              accessType,
		ExpiresAt:         expiresAt,
		GrantedBy:         strings.TrimSpace(grantedBy),
		GrantedAt:         now,
		UpdatedAt:         now,
	}
	if err := c.store.Upsert(ctx, right); err != nil {
		return nil, err
	}
	return right, nil
}

// Check decides whether the client subsystem may call the service.
func (c *Control) Check(ctx context.Context, serviceID, clientSubsystemID string) (Decision, error) {
	right, err := c.store.Find(ctx, strings.TrimSpace(serviceID), strings.TrimSpace(clientSubsystemID))
	if errors.Is(err, ErrNotFound) {
		return Decision{Allowed: false, Reason: ReasonNoAccessRight}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	if right.ExpiresAt != nil && right.ExpiresAt.Before(c.now().UTC()) {
		return Decision{Allowed: false, Reason: ReasonExpired}, nil
	}
	if right.Type == TypeDeny {
		return Decision{Allowed: false, Reason: ReasonExplicitlyDenied}, nil
	}
	return Decision{Allowed: true}, nil
}

// Revoke hard-deletes an access right by id.
func (c *Control) Revoke(ctx context.Context, accessRightID string) error {
	accessRightID = strings.TrimSpace(accessRightID)
	if accessRightID == "" {
		return fmt.Errorf("%w: access right id is required", ErrInvalidInput)
	}
	return c.store.Delete(ctx, accessRightID)
}

// CleanupExpired batch-removes all rights whose expiry has passed and returns
// the number removed.
func (c *Control) CleanupExpired(ctx context.Context) (int, error) {
	return c.store.DeleteExpired(ctx, c.now().UTC().Unix())
}

// ListByService returns the rights attached to a service.
func (c *Control) ListByService(ctx context.Context, serviceID string) ([]*AccessRight, error) {
	return c.store.ListByService(ctx, strings.TrimSpace(serviceID))
}
