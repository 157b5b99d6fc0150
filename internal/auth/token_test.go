// ABOUTME: Unit tests for JWT token verification and generation
// ABOUTME: Tests valid tokens, tampered tokens, and the expiry boundary

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var tokenTestSecret = []byte("token-test-secret-that-is-32-b!!")

// fixedClock returns a settable clock for deterministic expiry tests.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("NewJWTVerifier() error = %v, want ErrSecretTooShort", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(tokenTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}

	token, err := verifier.Generate("alice", "agent-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "alice" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "alice")
	}
	if claims.AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want %q", claims.AgentID, "agent-1")
	}
}

func TestJWTVerifier_ValidThenExpired(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)
	now, advance := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	verifier.now = now

	token, err := verifier.Generate("alice", "agent-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	advance(59 * time.Minute)
	if _, err := verifier.Verify(token); err != nil {
		t.Fatalf("Verify() before expiry error = %v", err)
	}

	advance(2 * time.Minute)
	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Verify() after expiry error = %v, want ErrTokenExpired", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatal("expired token must not be reported as invalid")
	}
}

func TestJWTVerifier_InvalidTokens(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)
	other, _ := NewJWTVerifier([]byte("a-completely-different-secret-32b"))

	good, _ := verifier.Generate("alice", "agent-1", time.Hour)
	wrongSecret, _ := other.Generate("alice", "agent-1", time.Hour)

	parts := strings.Split(good, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	noSub := func() string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		s, _ := tok.SignedString(tokenTestSecret)
		return s
	}()

	noExp := func() string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
		s, _ := tok.SignedString(tokenTestSecret)
		return s
	}()

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: wrongSecret},
		{name: "tampered signature", token: tampered},
		{name: "missing sub", token: noSub},
		{name: "missing exp", token: noExp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestJWTVerifier_ExpiredWithBadSignatureIsInvalid(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)
	other, _ := NewJWTVerifier([]byte("a-completely-different-secret-32b"))

	expired, _ := other.Generate("alice", "agent-1", -time.Hour)

	_, err := verifier.Verify(expired)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
}

func TestJWTVerifier_EmptyToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(tokenTestSecret)
	_, err := verifier.Verify("")
	if !errors.Is(err, ErrTokenMissing) {
		t.Errorf("Verify() error = %v, want ErrTokenMissing", err)
	}
}
