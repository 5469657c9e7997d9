package authtoken

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestAccessTokenRoundTrip(t *testing.T) {
	codec, err := New(testSecret, "test-issuer", time.Hour)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}

	issued := time.Now().UTC()
	token, err := codec.Issue(42, "alice@example.com", "STUDENT", issued)
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if claims.UserID != 42 || claims.Email() != "alice@example.com" || claims.Role != "STUDENT" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiredAt(issued.Add(30*time.Minute), 0) {
		t.Fatalf("token should not be expired inside the validity window")
	}
}

func TestExpiryAndSkew(t *testing.T) {
	codec, err := New(testSecret, "test-issuer", time.Hour)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}

	issued := time.Now().UTC()
	token, err := codec.Issue(1, "bob@example.com", "TEACHER", issued)
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	after := issued.Add(time.Hour + time.Second)
	if !claims.ExpiredAt(after, 0) {
		t.Fatalf("token should be expired one second past the window")
	}
	if claims.ExpiredAt(after, 30*time.Second) {
		t.Fatalf("skew allowance should still accept the token")
	}
	if !claims.ExpiredAt(issued.Add(time.Hour+time.Minute), 30*time.Second) {
		t.Fatalf("token should be expired beyond the skew allowance")
	}
}

func TestTamperedTokenFailsClosed(t *testing.T) {
	codec, err := New(testSecret, "test-issuer", time.Hour)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	token, err := codec.Issue(7, "eve@example.com", "STUDENT", time.Now().UTC())
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}

	// Flip one byte in the payload segment.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	payload := []byte(parts[1])
	if payload[0] == 'A' {
		payload[0] = 'B'
	} else {
		payload[0] = 'A'
	}
	forged := parts[0] + "." + string(payload) + "." + parts[2]

	if _, err := codec.Decode(forged); err == nil {
		t.Fatalf("expected tampered token to fail decode")
	}
	if _, err := codec.Decode("not-a-token"); err == nil {
		t.Fatalf("expected malformed token to fail decode")
	}
}

func TestWrongKeyRejected(t *testing.T) {
	codec, err := New(testSecret, "test-issuer", time.Hour)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}
	other, err := New("ffffffffffffffffffffffffffffffff", "test-issuer", time.Hour)
	if err != nil {
		t.Fatalf("codec error: %v", err)
	}

	token, err := codec.Issue(9, "a@b.c", "ADMIN", time.Now().UTC())
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if _, err := other.Decode(token); err == nil {
		t.Fatalf("expected token signed with another key to be rejected")
	}
}

func TestWeakSecretRejected(t *testing.T) {
	if _, err := New("short", "test-issuer", time.Hour); err != ErrWeakSecret {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}
