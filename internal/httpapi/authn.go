package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"residencial.org/internal/audit"
	"residencial.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingToken = errors.New("missing bearer token")
	errBadScheme    = errors.New("invalid authorization scheme")
)

// authenticate resolves the bearer token into a principal and tags the request
// context with the actor for audit rows.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			a.fail(w, r, http.StatusUnauthorized, "auth.authenticate", "Authentication required: "+err.Error(), nil)
			return
		}
		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidSession) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
			a.respondError(w, r, "auth.authenticate", err)
			return
		}
		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = audit.WithActor(ctx, principal.Person.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission admits principals holding at least one of codes.
func (a *API) requirePermission(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := auth.PrincipalFrom(r.Context())
			if !ok {
				a.respondError(w, r, "auth.authorize", auth.ErrInvalidSession)
				return
			}
			if !principal.HasAnyPermission(codes...) {
				a.respondError(w, r, "auth.authorize", auth.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
