package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"inkpost.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth authenticates the request and attaches the principal to its context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		principal, err := a.guard.Authenticate(r.Context(), tokenFromRequest(r))
		if err != nil {
			a.writeAuthError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// requirePermission must run after withAuth.
func (a *API) requirePermission(perm string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFromContext(r.Context())
		if err := auth.Authorize(principal, perm); err != nil {
			a.writeAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tokenFromRequest prefers the access token cookie over the Authorization header.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(accessTokenCookie); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return ""
	}
	return token
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
