package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fleetdispatch/fleetdispatch/internal/api/models"
	"github.com/fleetdispatch/fleetdispatch/internal/auth"
)

// principalKey is the context key for the authenticated principal.
type principalKey struct{}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.JWTClaims, error)
}

// Auth creates authentication middleware that validates JWT bearer tokens.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			// Check for Bearer prefix (case-insensitive)
			const bearerPrefix = "Bearer "
			if len(authHeader) < len(bearerPrefix) ||
				!strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			tokenString := authHeader[len(bearerPrefix):]
			if tokenString == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := validator.ValidateAccessToken(tokenString)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrAccessTokenExpired):
					writeUnauthorized(w, r, "access token has expired")
				case errors.Is(err, auth.ErrInvalidAccessToken):
					writeUnauthorized(w, r, "invalid access token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			noteUser(r.Context(), claims.Subject)
			ctx := WithPrincipal(r.Context(), claims.Subject, claims.Principal())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects principals whose role is not one of roles (case-insensitive).
// It must run after Auth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := GetPrincipal(r.Context())
			if ok {
				for _, role := range roles {
					if strings.EqualFold(p.Role, role) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			problem := models.NewForbidden(GetRequestID(r.Context()), "insufficient role for this operation")
			problem.Instance = r.URL.Path
			problem.Write(w)
		})
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
// This is implemented directly here to avoid import cycle with response package.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	traceID := GetRequestID(r.Context())
	problem := models.NewUnauthorized(traceID, detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

type authenticated struct {
	subject   string
	principal auth.Principal
}

// WithPrincipal returns a context carrying the authenticated subject and principal.
func WithPrincipal(ctx context.Context, subject string, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, authenticated{subject: subject, principal: p})
}

// GetUserID retrieves the authenticated token subject from the context.
// Returns an empty string if not authenticated.
func GetUserID(ctx context.Context) string {
	if a, ok := ctx.Value(principalKey{}).(authenticated); ok {
		return a.subject
	}
	return ""
}

// GetPrincipal retrieves the authenticated principal from the context.
func GetPrincipal(ctx context.Context) (auth.Principal, bool) {
	a, ok := ctx.Value(principalKey{}).(authenticated)
	return a.principal, ok
}
