package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"progress/internal/authtoken"
)

var (
	// ErrUnauthenticated means the credential itself is unusable:
	// missing, malformed, wrongly signed, or expired.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrDependencyUnavailable means the verifier could not be reached,
	// so nothing is known about the credential either way.
	ErrDependencyUnavailable = errors.New("verifier unavailable")
)

// TokenVerifier resolves a bearer token to its claims. The two error
// outcomes are distinct so callers never conflate "bad credential" with
// "verifier down".
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*authtoken.Claims, error)
}

// LocalVerifier decodes tokens in process. Used by the identity
// authority, the one service holding the signing key.
type LocalVerifier struct {
	Codec *authtoken.Codec
	Skew  time.Duration
	Now   func() time.Time
}

func (v *LocalVerifier) Verify(_ context.Context, token string) (*authtoken.Claims, error) {
	claims, err := v.Codec.Decode(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if claims.ExpiredAt(now().UTC(), v.Skew) {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// RemoteVerifier asks the identity authority's validate endpoint.
// Resource services use it instead of holding the signing key.
type RemoteVerifier struct {
	baseURL string
	client  *http.Client
}

func NewRemoteVerifier(baseURL string, timeout time.Duration) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*authtoken.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/validate", nil)
	if err != nil {
		return nil, ErrDependencyUnavailable
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, ErrDependencyUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body validateResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.Valid {
			return nil, ErrUnauthenticated
		}
		claims := &authtoken.Claims{UserID: body.ID, Role: body.Role}
		claims.Subject = body.Email
		return claims, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthenticated
	default:
		return nil, ErrDependencyUnavailable
	}
}
