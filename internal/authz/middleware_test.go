package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"progress/internal/authtoken"
)

type staticVerifier struct {
	claims map[string]*authtoken.Claims
	err    error
}

func (v *staticVerifier) Verify(_ context.Context, token string) (*authtoken.Claims, error) {
	if v.err != nil {
		return nil, v.err
	}
	claims, ok := v.claims[token]
	if !ok {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

func claimsFor(id int64, email, role string) *authtoken.Claims {
	claims := &authtoken.Claims{UserID: id, Role: role}
	claims.Subject = email
	return claims
}

func newTestHandler(verifier TokenVerifier) http.Handler {
	policy := NewPolicy(
		Allow(http.MethodGet, "/public"),
		Authed(http.MethodGet, "/self"),
		RoleIn(http.MethodDelete, "/admin", "ADMIN"),
	)
	var inner http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity := IdentityFromContext(r.Context()); identity != nil {
			w.Header().Set("X-Role", identity.Role)
		}
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(policy, verifier)(inner)
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewarePublicRoute(t *testing.T) {
	handler := newTestHandler(&staticVerifier{})

	if rec := doRequest(t, handler, http.MethodGet, "/public", ""); rec.Code != http.StatusOK {
		t.Fatalf("anonymous public request: got %d, want 200", rec.Code)
	}
}

func TestMiddlewareRequiresToken(t *testing.T) {
	handler := newTestHandler(&staticVerifier{})

	rec := doRequest(t, handler, http.MethodGet, "/self", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d, want 401", rec.Code)
	}
}

func TestMiddlewareRejectsUnknownToken(t *testing.T) {
	handler := newTestHandler(&staticVerifier{})

	rec := doRequest(t, handler, http.MethodGet, "/self", "garbage")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("invalid token: got %d, want 401", rec.Code)
	}
}

func TestMiddlewareRoleGate(t *testing.T) {
	verifier := &staticVerifier{claims: map[string]*authtoken.Claims{
		"admin-token":   claimsFor(1, "admin@example.com", "ADMIN"),
		"student-token": claimsFor(2, "student@example.com", "STUDENT"),
	}}
	handler := newTestHandler(verifier)

	if rec := doRequest(t, handler, http.MethodDelete, "/admin", "admin-token"); rec.Code != http.StatusOK {
		t.Fatalf("admin on admin route: got %d, want 200", rec.Code)
	}
	// Valid identity, wrong role: 403, never 401.
	if rec := doRequest(t, handler, http.MethodDelete, "/admin", "student-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("student on admin route: got %d, want 403", rec.Code)
	}
}

func TestMiddlewareIdentityInContext(t *testing.T) {
	verifier := &staticVerifier{claims: map[string]*authtoken.Claims{
		"teacher-token": claimsFor(3, "teacher@example.com", "TEACHER"),
	}}
	handler := newTestHandler(verifier)

	rec := doRequest(t, handler, http.MethodGet, "/self", "teacher-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Role"); got != "TEACHER" {
		t.Fatalf("identity role in context: got %q, want TEACHER", got)
	}
}

func TestMiddlewareUnknownRouteFailsClosed(t *testing.T) {
	verifier := &staticVerifier{claims: map[string]*authtoken.Claims{
		"admin-token": claimsFor(1, "admin@example.com", "ADMIN"),
	}}
	handler := newTestHandler(verifier)

	if rec := doRequest(t, handler, http.MethodGet, "/not-in-table", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous on unknown route: got %d, want 401", rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodGet, "/not-in-table", "admin-token"); rec.Code != http.StatusForbidden {
		t.Fatalf("identified on unknown route: got %d, want 403", rec.Code)
	}
}

func TestMiddlewareVerifierDownIsNotForbidden(t *testing.T) {
	handler := newTestHandler(&staticVerifier{err: ErrDependencyUnavailable})

	// With the verifier down the request carries no usable identity, so
	// a protected route answers 401 rather than 403.
	rec := doRequest(t, handler, http.MethodGet, "/self", "whatever")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("verifier down: got %d, want 401", rec.Code)
	}
}

func TestMiddlewareExpiredToken(t *testing.T) {
	codec, err := authtoken.New("0123456789abcdef0123456789abcdef", "progress-account", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().UTC().Add(-2 * time.Hour)
	token, err := codec.Issue(7, "late@example.com", "STUDENT", past)
	if err != nil {
		t.Fatal(err)
	}

	verifier := &LocalVerifier{Codec: codec, Skew: 30 * time.Second}
	handler := newTestHandler(verifier)

	rec := doRequest(t, handler, http.MethodGet, "/self", token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: got %d, want 401", rec.Code)
	}
}
