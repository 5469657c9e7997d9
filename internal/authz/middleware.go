package authz

import (
	"context"
	"errors"
	"net/http"

	"progress/internal/web"
)

// Identity is the request-scoped result of credential verification.
// It lives only for the duration of one request.
type Identity struct {
	UserID int64
	Email  string
	Role   string
	Token  string
}

type identityKey struct{}

// IdentityFromContext returns the verified identity of the request, or
// nil for anonymous requests.
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity
}

// Middleware enforces the route policy before any handler runs.
//
// A missing or unusable credential on a route that requires one yields
// 401; a verified identity with the wrong role yields 403. The two are
// never interchanged. Routes absent from the policy table are denied.
func Middleware(policy *Policy, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var identity *Identity

			token := web.BearerToken(r.Header.Get("Authorization"))
			if token != "" {
				claims, err := verifier.Verify(r.Context(), token)
				switch {
				case err == nil:
					identity = &Identity{
						UserID: claims.UserID,
						Email:  claims.Email(),
						Role:   claims.Role,
						Token:  token,
					}
				case errors.Is(err, ErrDependencyUnavailable):
					web.Logger().WithError(err).Warn("token verification dependency unavailable")
				}
			}

			rule, found := policy.Lookup(r.Method, r.URL.Path)
			if !found {
				if identity == nil {
					web.WriteError(w, http.StatusUnauthorized, "missing_token")
				} else {
					web.WriteError(w, http.StatusForbidden, "forbidden")
				}
				return
			}

			if rule.Capability != Public {
				if identity == nil {
					web.WriteError(w, http.StatusUnauthorized, "missing_or_invalid_token")
					return
				}
				if !rule.Permits(identity.Role) {
					web.WriteError(w, http.StatusForbidden, "forbidden")
					return
				}
			}

			if identity != nil {
				r = r.WithContext(context.WithValue(r.Context(), identityKey{}, identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}
