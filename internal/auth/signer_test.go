package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignAndParse(t *testing.T) {
	signer := NewSigner("secret")
	token, err := signer.Sign("user-7", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "user-7" || claims.Subject != "user-7" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestSignDefaultsTTL(t *testing.T) {
	signer := NewSigner("secret")
	fixed := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return fixed }

	token, err := signer.Sign("user-7", 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		t.Fatalf("parse unverified: %v", err)
	}
	exp := parsed.Claims.(*Claims).ExpiresAt.Time
	if !exp.Equal(fixed.Add(DefaultTokenTTL)) {
		t.Fatalf("expected default ttl, got %s", exp)
	}
}

func TestSignRequiresUser(t *testing.T) {
	if _, err := NewSigner("secret").Sign("", time.Hour); err == nil {
		t.Fatalf("expected error for empty user")
	}
}

func TestSignError(t *testing.T) {
	old := signTokenFn
	signTokenFn = func(*jwt.Token, []byte) (string, error) { return "", errors.New("sign failed") }
	defer func() { signTokenFn = old }()

	if _, err := NewSigner("secret").Sign("user-1", time.Hour); err == nil {
		t.Fatalf("expected sign error")
	}
}

func TestParseExpired(t *testing.T) {
	signer := NewSigner("secret")
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := signer.Sign("user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewSigner("secret").Parse(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "user-1"})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewSigner("secret").Parse(signed); err == nil {
		t.Fatalf("expected HS512 token to be rejected")
	}
}

func TestParseMissingUser(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewSigner("secret").Parse(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestBearerFromHeader(t *testing.T) {
	if bearerFromHeader("Bearer abc") != "abc" {
		t.Fatalf("expected token")
	}
	if bearerFromHeader("bearer abc") != "abc" {
		t.Fatalf("expected case-insensitive scheme")
	}
	if bearerFromHeader("abc") != "" {
		t.Fatalf("expected empty for malformed header")
	}
}
