package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-that-is-at-least-32-bytes-long"

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuthService(testSecret, time.Hour, "")
	token, err := a.GenerateToken("ops-1")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	sub, err := a.ValidateToken(token)
	if err != nil || sub != "ops-1" {
		t.Errorf("ValidateToken() = %q, %v", sub, err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	a := NewAuthService(testSecret, time.Hour, "")
	good, _ := a.GenerateToken("ops-1")

	other := NewAuthService("another-secret-that-is-also-32-bytes-long", time.Hour, "")
	forged, _ := other.GenerateToken("ops-1")

	expired := NewAuthService(testSecret, time.Hour, "")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.GenerateToken("ops-1")

	noScope, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops-1", "iss": issuer, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"forged":    forged,
		"expired":   old,
		"no scope":  noScope,
		"truncated": good[:len(good)-4],
		"garbage":   "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := a.ValidateToken(token); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestLogin(t *testing.T) {
	a := NewAuthService(testSecret, time.Hour, "")
	if _, err := a.Login("ops-1", "key"); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("Login() without hash error = %v", err)
	}

	hash, err := a.HashKey("s3cret-key")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q is not bcrypt", hash)
	}
	a.KeyHash = hash

	if _, err := a.Login("ops-1", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(wrong key) error = %v", err)
	}
	if _, err := a.Login("", "s3cret-key"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login(no operator) error = %v", err)
	}
	token, err := a.Login("ops-1", "s3cret-key")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sub, err := a.ValidateToken(token); err != nil || sub != "ops-1" {
		t.Errorf("ValidateToken(login token) = %q, %v", sub, err)
	}
}
