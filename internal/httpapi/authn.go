package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"trustgate.org/internal/access"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/ca/root",
	"/",
}

type userContextKey struct{}

// UserFromContext returns the authenticated operator, if any.
func UserFromContext(ctx context.Context) (access.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(access.User)
	return u, ok
}

func contextWithUser(ctx context.Context, u access.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil || !a.tokens.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		user, err := a.tokens.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r.Context(), user)))
	})
}

// ensurePermission authorizes the request for one permission, optionally
// scoped to an organization. It writes the error response itself.
func (a *API) ensurePermission(w http.ResponseWriter, r *http.Request, permission, orgCode string) bool {
	if a.tokens == nil || !a.tokens.Enabled() {
		return true
	}
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if a.rbac == nil || !a.rbac.CheckPermission(user, permission, orgCode) {
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return false
	}
	return true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
