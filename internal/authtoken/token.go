package authtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the smallest signing key the codec accepts (256 bits).
const MinSecretLen = 32

var (
	ErrWeakSecret   = errors.New("signing secret shorter than 256 bits")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the signed bundle carried by an access token. The subject
// registered claim holds the user's email.
type Claims struct {
	UserID int64  `json:"id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Email returns the subject claim.
func (c *Claims) Email() string {
	return c.Subject
}

// ExpiredAt reports whether the token is past its expiry at the given
// instant, allowing up to skew of clock drift between services.
func (c *Claims) ExpiredAt(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil {
		return true
	}
	return now.After(c.ExpiresAt.Time.Add(skew))
}

// Codec mints and decodes signed access tokens. Decoding verifies the
// signature only; expiry is checked separately so callers can apply
// their own skew allowance.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func New(secret, issuer string, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	return &Codec{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// TTL returns the validity window applied to issued tokens.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

func (c *Codec) Issue(userID int64, email, role string, now time.Time) (string, error) {
	now = now.UTC()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

func (c *Codec) Decode(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
